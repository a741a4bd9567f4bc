package oracle

import (
	"sort"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
)

// Normalize folds one token info payload into a snapshot.
//
// The USD price is the flat price.priceInUsd when positive, otherwise the
// median of the positive per-market USD prices, otherwise 0. FloorPrice is
// copied as-is and never used as a USD figure.
func Normalize(ticker string, resp *kasfyi.TokenInfoResponse, now time.Time) *models.PriceSnapshot {
	snap := &models.PriceSnapshot{
		Ticker:    ticker,
		Decimals:  models.DefaultDecimals,
		FetchedAt: now.UTC(),
	}
	if resp == nil {
		return snap
	}

	if d := resp.Decimal.Int(); d > 0 {
		snap.Decimals = d
	}
	snap.LogoURL = resp.IconURL

	if p := resp.Price; p != nil {
		snap.FloorPrice = nonNegative(float64(p.FloorPrice))
		snap.MarketCapInUSD = nonNegative(float64(p.MarketCapInUSD))
		snap.Change24h = float64(p.Change24h)
		if usd := float64(p.PriceInUSD); usd > 0 {
			snap.PriceInUSD = usd
			snap.Sources = 1
			return snap
		}
	}

	var prices []float64
	for _, m := range resp.AllMarkets() {
		if usd := m.USD(); usd > 0 {
			prices = append(prices, usd)
		}
	}
	snap.PriceInUSD = median(prices)
	snap.Sources = len(prices)
	return snap
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
