package orderbook

import "github.com/aman-zulfiqar/krc20-swap/internal/models"

// Matcher picks the counter order for a taker. Candidates are actionable
// orders in the opposite direction, in insertion order. Returning nil means
// no match.
type Matcher interface {
	Select(taker *models.SwapOrder, candidates []*models.SwapOrder) *models.SwapOrder
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(taker *models.SwapOrder, candidates []*models.SwapOrder) *models.SwapOrder

func (f MatcherFunc) Select(taker *models.SwapOrder, candidates []*models.SwapOrder) *models.SwapOrder {
	return f(taker, candidates)
}

// FirstEligible takes the oldest candidate. There is no price-improvement search.
var FirstEligible Matcher = MatcherFunc(func(_ *models.SwapOrder, candidates []*models.SwapOrder) *models.SwapOrder {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
})
