package models

import "time"

// DefaultDecimals is used when the upstream catalog omits a token's decimals.
const DefaultDecimals = 8

// PriceSnapshot is the normalized price view of one ticker.
// FloorPrice is quoted in the native chain unit and is never mixed with USD figures.
type PriceSnapshot struct {
	Ticker         string    `json:"ticker"`
	PriceInUSD     float64   `json:"priceInUsd"`
	FloorPrice     float64   `json:"floorPrice"`
	MarketCapInUSD float64   `json:"marketCapInUsd"`
	Change24h      float64   `json:"change24h"`
	Decimals       int       `json:"decimals"`
	LogoURL        string    `json:"logoUrl,omitempty"`
	Sources        int       `json:"sources"`
	FetchedAt      time.Time `json:"fetchedAt"`
}

// CatalogToken is one tradable token row enriched with a USD price.
type CatalogToken struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Decimals   int     `json:"decimals"`
	LogoURL    string  `json:"logoUrl,omitempty"`
	PriceInUSD float64 `json:"priceInUsd"`
}

// TokenPage is a single page of the catalog.
type TokenPage struct {
	Page    int            `json:"page"`
	Tokens  []CatalogToken `json:"tokens"`
	HasMore bool           `json:"hasMore"`
}

// WalletToken is a token held by the connected wallet. Balance is in human units.
type WalletToken struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
	Balance  string `json:"balance"`
}
