package models

import "time"

type OrderEventType string

const (
	OrderEventCreated   OrderEventType = "created"
	OrderEventMatched   OrderEventType = "matched"
	OrderEventCompleted OrderEventType = "completed"
	OrderEventCancelled OrderEventType = "cancelled"
	OrderEventExpired   OrderEventType = "expired"
)

// OrderEvent is published on every order state change.
type OrderEvent struct {
	Type    OrderEventType `json:"type"`
	Order   SwapOrder      `json:"order"`
	Counter *SwapOrder     `json:"counter,omitempty"`
	At      time.Time      `json:"at"`
}

// PriceUpdate is published by the price refresher.
type PriceUpdate struct {
	Ticker     string    `json:"ticker"`
	PriceInUSD float64   `json:"priceInUsd"`
	FloorPrice float64   `json:"floorPrice"`
	At         time.Time `json:"at"`
}
