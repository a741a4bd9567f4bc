package server

import (
	"github.com/aman-zulfiqar/krc20-swap/internal/halts"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK        bool `json:"ok"`
	Orders    int  `json:"orders"`    // orders currently held by the book
	WSClients int  `json:"wsClients"` // connected websocket subscribers
}

// PricesResponse maps each priced ticker to its USD price.
// Tickers without a price are omitted.
type PricesResponse struct {
	Prices map[string]float64 `json:"prices"`
}

type TokensInfoRequest struct {
	Tickers []string `json:"tickers"`
}

// MatchResponse carries the counter order, or null when nothing matched.
type MatchResponse struct {
	OrderID string            `json:"orderId"`
	Match   *models.SwapOrder `json:"match"`
}

// HaltRequest is the body of PUT /v1/halts/:key
type HaltRequest struct {
	Reason string `json:"reason"`
}

// HaltedResponse is returned with 409 when a halt blocks a new order.
type HaltedResponse struct {
	Error string      `json:"error"`
	Code  int         `json:"code"`
	Halt  *halts.Halt `json:"halt"`
}

// AIAskRequest represents a natural language query request
type AIAskRequest struct {
	Question string `json:"question"` // Natural language question about archived orders
	Model    string `json:"model"`    // Optional AI model override
}

// AIAskResponse represents the response from an AI query
type AIAskResponse struct {
	SQL    string `json:"sql"`     // Generated SQL query
	Rows   int    `json:"rows"`    // Rows the query returned
	Answer string `json:"answer"`  // Natural language answer
	TookMs int64  `json:"took_ms"` // Execution time in milliseconds
}
