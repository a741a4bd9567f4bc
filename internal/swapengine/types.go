package swapengine

import (
	"errors"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/models"
)

var (
	ErrInvalidAmount    = errors.New("amount must be a positive decimal")
	ErrInvalidPair      = errors.New("fromToken and toToken must be set and differ")
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrRiskRejected     = errors.New("rejected by risk check")
	ErrNoSession        = errors.New("no wallet session")
)

// QuoteBasis names the unit both prices were read in.
type QuoteBasis string

const (
	BasisUSD   QuoteBasis = "usd"
	BasisFloor QuoteBasis = "floor"
)

// QuoteResult is an indicative conversion of amount from one token to another.
type QuoteResult struct {
	FromToken       string     `json:"fromToken"`
	ToToken         string     `json:"toToken"`
	Amount          string     `json:"amount"`
	EstimatedAmount string     `json:"estimatedAmount"`
	FromPrice       float64    `json:"fromPrice"`
	ToPrice         float64    `json:"toPrice"`
	Basis           QuoteBasis `json:"basis"`
	Rate            float64    `json:"rate"`               // output per input
	ValueUSD        float64    `json:"valueUsd,omitempty"` // 0 when the input has no USD price
	QuotedAt        time.Time  `json:"quotedAt"`
}

// SubmitRequest is a holder's swap request before signing.
// An empty ExpectedAmount is filled from a fresh quote.
type SubmitRequest struct {
	FromToken      string `json:"fromToken"`
	ToToken        string `json:"toToken"`
	Amount         string `json:"amount"`
	ExpectedAmount string `json:"expectedAmount,omitempty"`
}

// PlaceResult is the stored order plus the counter order it matched, if any.
type PlaceResult struct {
	Order *models.SwapOrder `json:"order"`
	Match *models.SwapOrder `json:"match,omitempty"`
}

type SubmitResult struct {
	PlaceResult
	Quote *QuoteResult     `json:"quote,omitempty"`
	Risk  *RiskCheckResult `json:"risk,omitempty"`
}

// RiskCheckResult contains risk validation outcome
type RiskCheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// Per-order limit
	ExceedsMaxOrder bool    `json:"exceedsMaxOrder,omitempty"`
	MaxOrderUSD     float64 `json:"maxOrderUsd,omitempty"`
	OrderValueUSD   float64 `json:"orderValueUsd,omitempty"`

	// Daily limits
	ExceedsDailyLimit bool    `json:"exceedsDailyLimit,omitempty"`
	DailyLimitUSD     float64 `json:"dailyLimitUsd,omitempty"`
	DailyUsedUSD      float64 `json:"dailyUsedUsd,omitempty"`
	DailyRemainingUSD float64 `json:"dailyRemainingUsd,omitempty"`

	// Token whitelist
	TokenNotWhitelisted bool     `json:"tokenNotWhitelisted,omitempty"`
	WhitelistedTokens   []string `json:"whitelistedTokens,omitempty"`

	// Expected vs quoted
	DeviationTooHigh    bool    `json:"deviationTooHigh,omitempty"`
	MaxRateDeviationBps uint16  `json:"maxRateDeviationBps,omitempty"`
	ActualDeviationBps  float64 `json:"actualDeviationBps,omitempty"`

	InsufficientBalance bool `json:"insufficientBalance,omitempty"`
}
