package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/sirupsen/logrus"
)

// PriceSource is the part of the oracle the refresher needs.
type PriceSource interface {
	GetPrices(ctx context.Context, tickers []string) map[string]float64
	GetTokenInfo(ctx context.Context, ticker string) (*models.PriceSnapshot, bool)
}

// Refresher keeps a watch list of tickers warm and publishes a PriceUpdate
// for every ticker that resolved on each tick.
type Refresher struct {
	source    PriceSource
	tickers   []string
	interval  time.Duration
	publisher storage.EventPublisher
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

type RefresherConfig struct {
	Source    PriceSource
	Tickers   []string
	Interval  time.Duration
	Publisher storage.EventPublisher
	Logger    *logrus.Logger
	Now       func() time.Time
}

func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = constants.DefaultRefresh
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Refresher{
		source:    cfg.Source,
		tickers:   dedupe(cfg.Tickers),
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Start refreshes immediately, then on every interval until ctx is done or
// Stop is called. It blocks.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	r.logger.WithFields(logrus.Fields{
		"interval": r.interval,
		"tickers":  r.tickers,
	}).Info("starting price refresher")

	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Refresh runs one pass and returns the number of updates published.
func (r *Refresher) Refresh(ctx context.Context) int {
	if len(r.tickers) == 0 {
		return 0
	}

	prices := r.source.GetPrices(ctx, r.tickers)
	published := 0
	for _, t := range r.tickers {
		usd, ok := prices[t]
		if !ok {
			continue
		}
		u := &models.PriceUpdate{Ticker: t, PriceInUSD: usd, At: r.now().UTC()}
		if snap, ok := r.source.GetTokenInfo(ctx, t); ok {
			u.FloorPrice = snap.FloorPrice
		}

		if r.publisher != nil {
			if err := r.publisher.PublishPriceUpdate(ctx, u); err != nil {
				r.logger.WithError(err).WithField("ticker", t).Warn("failed to publish price update")
				continue
			}
		}
		published++
	}

	r.logger.WithFields(logrus.Fields{
		"watched": len(r.tickers),
		"priced":  len(prices),
	}).Debug("price refresh complete")
	return published
}
