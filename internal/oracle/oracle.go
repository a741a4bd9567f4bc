package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/cache"
	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxParallelFetches caps concurrent upstream requests from one GetPrices call.
const maxParallelFetches = 8

// InfoFetcher is the upstream used on cache misses. *kasfyi.Client satisfies it.
type InfoFetcher interface {
	TokenInfo(ctx context.Context, ticker string) (*kasfyi.TokenInfoResponse, error)
}

// Oracle resolves ticker prices through a time-windowed cache.
// It never surfaces upstream errors: a failed lookup reads as absent.
type Oracle struct {
	fetcher InfoFetcher
	cache   storage.PriceCache
	logger  *logrus.Logger
	now     func() time.Time

	group singleflight.Group
}

type Config struct {
	Fetcher InfoFetcher
	Cache   storage.PriceCache
	Logger  *logrus.Logger
	Now     func() time.Time
}

func New(cfg Config) (*Oracle, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("oracle: fetcher is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemoryPriceCache(cache.MemoryConfig{Now: cfg.Now})
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Oracle{
		fetcher: cfg.Fetcher,
		cache:   cfg.Cache,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// GetTokenInfo returns the normalized snapshot for ticker, fetching it on a
// cache miss. Concurrent misses for one ticker share a single upstream call.
func (o *Oracle) GetTokenInfo(ctx context.Context, ticker string) (*models.PriceSnapshot, bool) {
	if ticker == "" {
		return nil, false
	}
	if snap, ok := o.cache.Get(ctx, ticker); ok {
		return snap, true
	}

	v, err, shared := o.group.Do(ticker, func() (interface{}, error) {
		// another flight may have filled the cache while we waited
		if snap, ok := o.cache.Get(ctx, ticker); ok {
			return snap, nil
		}
		resp, err := o.fetcher.TokenInfo(ctx, ticker)
		if err != nil {
			return nil, err
		}
		snap := Normalize(ticker, resp, o.now())
		o.cache.Put(ctx, ticker, snap)
		return snap, nil
	})
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"ticker": ticker,
			"shared": shared,
		}).Warn("token info fetch failed")
		return nil, false
	}
	return v.(*models.PriceSnapshot), true
}

// GetPrice returns the USD price of ticker. A zero price reads as absent.
func (o *Oracle) GetPrice(ctx context.Context, ticker string) (float64, bool) {
	snap, ok := o.GetTokenInfo(ctx, ticker)
	if !ok || snap.PriceInUSD <= 0 {
		return 0, false
	}
	return snap.PriceInUSD, true
}

// GetPrices resolves many tickers at once. Duplicates are fetched once and
// tickers without a price are omitted from the result.
func (o *Oracle) GetPrices(ctx context.Context, tickers []string) map[string]float64 {
	unique := dedupe(tickers)
	out := make(map[string]float64, len(unique))
	if len(unique) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(maxParallelFetches)

	for _, t := range unique {
		t := t
		g.Go(func() error {
			if p, ok := o.GetPrice(ctx, t); ok {
				mu.Lock()
				out[t] = p
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.WithFields(logrus.Fields{
		"requested": len(unique),
		"priced":    len(out),
	}).Debug("batch price lookup")

	return out
}

// CalculateUSDValue converts a base-unit amount to USD:
// (amount / 10^decimals) * price. Unparsable amounts are worth 0.
func CalculateUSDValue(amount string, priceInUSD float64, decimals int) float64 {
	amt, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil || decimals < 0 || math.IsNaN(priceInUSD) || math.IsInf(priceInUSD, 0) {
		return 0
	}
	v, _ := amt.Shift(int32(-decimals)).Mul(decimal.NewFromFloat(priceInUSD)).Float64()
	return v
}

func dedupe(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
