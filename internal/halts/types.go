package halts

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("halt not found")
	ErrInvalidKey = errors.New("invalid halt key")
)

// Halt stops new orders for a ticker ("NACHO") or a pair in either
// direction ("NACHO:KASPY").
type Halt struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
