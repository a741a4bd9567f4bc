package models

import "time"

// OrderStatus is the stored lifecycle state of a swap order.
// Expiry is derived at read time and never stored.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusMatched   OrderStatus = "matched"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// SwapOrder is a signed swap intent held by the order book.
// Its JSON form is the handoff contract for downstream settlement.
type SwapOrder struct {
	OrderID    string      `json:"orderId"`
	Maker      string      `json:"maker"`
	FromToken  string      `json:"fromToken"`
	ToToken    string      `json:"toToken"`
	FromAmount string      `json:"fromAmount"` // human units, decimal string
	ToAmount   string      `json:"toAmount"`
	Signature  string      `json:"signature"`
	PublicKey  string      `json:"publicKey"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`

	// SignedTransfer is the wallet-signed maker leg, when pre-signed at creation.
	SignedTransfer string `json:"pskt,omitempty"`
	MatchedWith    string `json:"matchedWith,omitempty"`
}

// IsExpired reports whether the order's expiry has passed at now.
func (o *SwapOrder) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// IsActionable reports whether the order can still be matched.
func (o *SwapOrder) IsActionable(now time.Time) bool {
	return o.Status == OrderStatusPending && !o.IsExpired(now)
}

// Pair renders the order direction as FROM/TO.
func (o *SwapOrder) Pair() string {
	return o.FromToken + "/" + o.ToToken
}

// OrderRequest carries the maker-supplied fields of a new order.
type OrderRequest struct {
	Maker      string `json:"maker"`
	FromToken  string `json:"fromToken"`
	ToToken    string `json:"toToken"`
	FromAmount string `json:"fromAmount"`
	ToAmount   string `json:"toAmount"`
	Signature  string `json:"signature"`
	PublicKey  string `json:"publicKey"`
}
