package swapengine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfig defines risk management parameters. Zero values disable a check.
type RiskConfig struct {
	// Per-order limit
	MaxOrderUSD float64

	// Rolling 24h limit
	DailyLimitUSD float64

	// Max distance between the caller's expected amount and the quote
	MaxRateDeviationBps uint16

	// Token whitelist (empty = allow all)
	AllowedTokens []string

	// Refuse orders larger than the session's balance of the input token
	RequireBalance bool
}

// DefaultRiskConfig returns conservative risk settings
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxOrderUSD:         1_000,
		DailyLimitUSD:       10_000,
		MaxRateDeviationBps: 500, // 5%
		RequireBalance:      true,
	}
}

// RiskInput is what a check looks at for one order.
type RiskInput struct {
	FromToken string
	ToToken   string
	Amount    decimal.Decimal
	ValueUSD  float64

	// Expected and Estimated are compared only when both are set.
	Expected  *decimal.Decimal
	Estimated *decimal.Decimal

	// Balance is the holder's balance of FromToken; nil when unknown.
	Balance *decimal.Decimal
}

// RiskManager enforces risk limits
type RiskManager struct {
	config       RiskConfig
	dailyTracker *DailyLimitTracker
}

func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{
		config:       config,
		dailyTracker: NewDailyLimitTracker(time.Now),
	}
}

// CheckOrder validates an order against all risk rules
func (rm *RiskManager) CheckOrder(in RiskInput) *RiskCheckResult {
	result := &RiskCheckResult{
		Allowed:             true,
		MaxOrderUSD:         rm.config.MaxOrderUSD,
		OrderValueUSD:       in.ValueUSD,
		DailyLimitUSD:       rm.config.DailyLimitUSD,
		WhitelistedTokens:   rm.config.AllowedTokens,
		MaxRateDeviationBps: rm.config.MaxRateDeviationBps,
	}

	// 1. Token whitelist
	if !rm.isTokenAllowed(in.FromToken) || !rm.isTokenAllowed(in.ToToken) {
		result.Allowed = false
		result.TokenNotWhitelisted = true
		result.Reason = fmt.Sprintf("token not whitelisted: %s or %s", in.FromToken, in.ToToken)
		return result
	}

	// 2. Per-order limit
	if rm.config.MaxOrderUSD > 0 && in.ValueUSD > rm.config.MaxOrderUSD {
		result.Allowed = false
		result.ExceedsMaxOrder = true
		result.Reason = fmt.Sprintf("order value $%.2f exceeds max $%.2f per order",
			in.ValueUSD, rm.config.MaxOrderUSD)
		return result
	}

	// 3. Daily limit
	if rm.config.DailyLimitUSD > 0 {
		used := rm.dailyTracker.Usage()
		result.DailyUsedUSD = used
		result.DailyRemainingUSD = rm.config.DailyLimitUSD - used
		if used+in.ValueUSD > rm.config.DailyLimitUSD {
			result.Allowed = false
			result.ExceedsDailyLimit = true
			result.Reason = fmt.Sprintf("daily limit exceeded: used $%.2f + $%.2f > $%.2f",
				used, in.ValueUSD, rm.config.DailyLimitUSD)
			return result
		}
	}

	// 4. Expected amount vs quote
	if rm.config.MaxRateDeviationBps > 0 && in.Expected != nil && in.Estimated != nil && in.Estimated.IsPositive() {
		dev := in.Expected.Sub(*in.Estimated).Abs().Div(*in.Estimated).Mul(decimal.NewFromInt(10_000))
		bps, _ := dev.Float64()
		result.ActualDeviationBps = bps
		if bps > float64(rm.config.MaxRateDeviationBps) {
			result.Allowed = false
			result.DeviationTooHigh = true
			result.Reason = fmt.Sprintf("expected amount deviates %.0f bps from quote, max %d bps",
				bps, rm.config.MaxRateDeviationBps)
			return result
		}
	}

	// 5. Balance
	if rm.config.RequireBalance {
		if in.Balance == nil || in.Balance.LessThan(in.Amount) {
			have := "0"
			if in.Balance != nil {
				have = in.Balance.String()
			}
			result.Allowed = false
			result.InsufficientBalance = true
			result.Reason = fmt.Sprintf("insufficient %s balance: have %s, need %s",
				in.FromToken, have, in.Amount.String())
			return result
		}
	}

	return result
}

// RecordOrder records a placed order for daily limit tracking
func (rm *RiskManager) RecordOrder(valueUSD float64) {
	rm.dailyTracker.Record(valueUSD)
}

func (rm *RiskManager) isTokenAllowed(symbol string) bool {
	if len(rm.config.AllowedTokens) == 0 {
		return true
	}
	for _, allowed := range rm.config.AllowedTokens {
		if allowed == symbol {
			return true
		}
	}
	return false
}

// DailyLimitTracker tracks rolling 24-hour usage
type DailyLimitTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	records []usageRecord
}

type usageRecord struct {
	at       time.Time
	valueUSD float64
}

func NewDailyLimitTracker(now func() time.Time) *DailyLimitTracker {
	if now == nil {
		now = time.Now
	}
	return &DailyLimitTracker{now: now}
}

func (t *DailyLimitTracker) Record(valueUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, usageRecord{at: t.now(), valueUSD: valueUSD})
	t.cleanupLocked()
}

// Usage is the total recorded in the last 24 hours.
func (t *DailyLimitTracker) Usage() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanupLocked()

	total := 0.0
	for _, r := range t.records {
		total += r.valueUSD
	}
	return total
}

func (t *DailyLimitTracker) cleanupLocked() {
	cutoff := t.now().Add(-24 * time.Hour)
	kept := t.records[:0]
	for _, r := range t.records {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	t.records = kept
}
