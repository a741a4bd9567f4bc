package orderbook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferSigner pre-signs the maker's transfer leg at order creation.
type TransferSigner interface {
	SignTransfer(ctx context.Context, tick, amount string) (string, error)
}

// Book is an in-memory order book for signed swap intents.
//
// One mutex guards the whole collection, so a match is a compare-and-swap on
// both orders' status: two concurrent MatchOrder calls can never claim the
// same counter order. Events and archive writes happen after the lock is
// released.
type Book struct {
	mu     sync.Mutex
	orders map[string]*models.SwapOrder
	seq    []string

	ttl       time.Duration
	settle    time.Duration
	matcher   Matcher
	signer    TransferSigner
	publisher storage.EventPublisher
	archive   storage.OrderArchive
	logger    *logrus.Logger
	now       func() time.Time
}

type Config struct {
	TTL       time.Duration
	Matcher   Matcher
	Signer    TransferSigner
	Publisher storage.EventPublisher
	Archive   storage.OrderArchive
	Logger    *logrus.Logger
	Now       func() time.Time

	// SettleTimeout bounds how long a matched order may wait for
	// completion before Sweep drops it.
	SettleTimeout time.Duration
}

func NewBook(cfg Config) *Book {
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultOrderTTL
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = constants.DefaultSettleTimeout
	}
	if cfg.Matcher == nil {
		cfg.Matcher = FirstEligible
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Book{
		orders:    make(map[string]*models.SwapOrder),
		ttl:       cfg.TTL,
		settle:    cfg.SettleTimeout,
		matcher:   cfg.Matcher,
		signer:    cfg.Signer,
		publisher: cfg.Publisher,
		archive:   cfg.Archive,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// CreateOrder validates req and stores a new pending order. When a transfer
// signer is configured the maker leg is signed first and a decline aborts
// creation.
func (b *Book) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.SwapOrder, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	var signed string
	if b.signer != nil {
		s, err := b.signer.SignTransfer(ctx, req.FromToken, req.FromAmount)
		if err != nil {
			return nil, fmt.Errorf("sign transfer: %w", err)
		}
		signed = s
	}

	now := b.now().UTC()
	order := &models.SwapOrder{
		OrderID:        uuid.NewString(),
		Maker:          req.Maker,
		FromToken:      req.FromToken,
		ToToken:        req.ToToken,
		FromAmount:     strings.TrimSpace(req.FromAmount),
		ToAmount:       strings.TrimSpace(req.ToAmount),
		Signature:      req.Signature,
		PublicKey:      req.PublicKey,
		Status:         models.OrderStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.ttl),
		UpdatedAt:      now,
		SignedTransfer: signed,
	}

	b.mu.Lock()
	b.orders[order.OrderID] = order
	b.seq = append(b.seq, order.OrderID)
	out := *order
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"order_id": out.OrderID,
		"pair":     out.Pair(),
		"amount":   out.FromAmount,
	}).Info("order created")

	b.publish(ctx, models.OrderEventCreated, &out, nil)
	return &out, nil
}

// Get returns a copy of the order with the given id.
func (b *Book) Get(id string) (*models.SwapOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

// GetOrders lists actionable orders selling from for to, oldest first.
func (b *Book) GetOrders(from, to string) []models.SwapOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	candidates := b.actionableLocked(from, to, b.now())
	out := make([]models.SwapOrder, 0, len(candidates))
	for _, o := range candidates {
		out = append(out, *o)
	}
	return out
}

// Len is the number of orders held in memory, terminal ones included.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

// MatchOrder pairs the taker with a counter order and returns the counter
// order. A taker that is no longer actionable, or has nothing to match
// against, yields nil without error.
func (b *Book) MatchOrder(ctx context.Context, takerID string) (*models.SwapOrder, error) {
	b.mu.Lock()

	taker, ok := b.orders[takerID]
	if !ok {
		b.mu.Unlock()
		return nil, ErrOrderNotFound
	}
	now := b.now()
	if !taker.IsActionable(now) {
		b.mu.Unlock()
		return nil, nil
	}

	maker := b.matcher.Select(taker, b.actionableLocked(taker.ToToken, taker.FromToken, now))
	if maker == nil || !maker.IsActionable(now) || maker.FromToken != taker.ToToken || maker.ToToken != taker.FromToken {
		b.mu.Unlock()
		return nil, nil
	}

	stamp := now.UTC()
	taker.Status, maker.Status = models.OrderStatusMatched, models.OrderStatusMatched
	taker.MatchedWith, maker.MatchedWith = maker.OrderID, taker.OrderID
	taker.UpdatedAt, maker.UpdatedAt = stamp, stamp

	takerCopy, makerCopy := *taker, *maker
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"taker": takerCopy.OrderID,
		"maker": makerCopy.OrderID,
		"pair":  takerCopy.Pair(),
	}).Info("orders matched")

	b.publish(ctx, models.OrderEventMatched, &takerCopy, &makerCopy)
	return &makerCopy, nil
}

// CompleteOrder settles a matched order together with its counterpart.
func (b *Book) CompleteOrder(ctx context.Context, id string) (*models.SwapOrder, error) {
	b.mu.Lock()

	o, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return nil, ErrOrderNotFound
	}
	if o.Status != models.OrderStatusMatched {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, models.OrderStatusCompleted)
	}

	stamp := b.now().UTC()
	o.Status, o.UpdatedAt = models.OrderStatusCompleted, stamp

	var counter *models.SwapOrder
	if c, ok := b.orders[o.MatchedWith]; ok && c.Status == models.OrderStatusMatched {
		c.Status, c.UpdatedAt = models.OrderStatusCompleted, stamp
		cc := *c
		counter = &cc
	}
	out := *o
	b.mu.Unlock()

	b.publish(ctx, models.OrderEventCompleted, &out, counter)
	return &out, nil
}

// CancelOrder withdraws a pending order.
func (b *Book) CancelOrder(ctx context.Context, id string) (*models.SwapOrder, error) {
	b.mu.Lock()

	o, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return nil, ErrOrderNotFound
	}
	if o.Status != models.OrderStatusPending {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, models.OrderStatusCancelled)
	}

	o.Status, o.UpdatedAt = models.OrderStatusCancelled, b.now().UTC()
	out := *o
	b.mu.Unlock()

	b.publish(ctx, models.OrderEventCancelled, &out, nil)
	return &out, nil
}

// Sweep drops expired pending orders, matched orders left unsettled past the
// settle timeout, and terminal orders from memory, archiving each one. It
// returns how many orders were removed.
func (b *Book) Sweep(ctx context.Context) int {
	b.mu.Lock()
	now := b.now()

	var removed, expired, unsettled []models.SwapOrder
	kept := b.seq[:0]
	for _, id := range b.seq {
		o := b.orders[id]
		switch {
		case o.Status == models.OrderStatusPending && o.IsExpired(now):
			expired = append(expired, *o)
		case o.Status == models.OrderStatusMatched && !now.Before(o.UpdatedAt.Add(b.settle)):
			unsettled = append(unsettled, *o)
		case o.Status == models.OrderStatusCompleted || o.Status == models.OrderStatusCancelled:
			removed = append(removed, *o)
		default:
			kept = append(kept, id)
			continue
		}
		delete(b.orders, id)
	}
	b.seq = kept
	b.mu.Unlock()

	for i := range expired {
		b.archiveOrder(ctx, &expired[i])
		b.publish(ctx, models.OrderEventExpired, &expired[i], nil)
	}
	for i := range unsettled {
		b.archiveOrder(ctx, &unsettled[i])
		b.publish(ctx, models.OrderEventExpired, &unsettled[i], nil)
	}
	for i := range removed {
		b.archiveOrder(ctx, &removed[i])
	}

	n := len(expired) + len(unsettled) + len(removed)
	if n > 0 {
		b.logger.WithFields(logrus.Fields{
			"expired":   len(expired),
			"unsettled": len(unsettled),
			"terminal":  len(removed),
		}).Info("swept order book")
	}
	return n
}

// Run sweeps on every interval until ctx is done.
func (b *Book) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = constants.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Sweep(ctx)
		}
	}
}

func (b *Book) actionableLocked(from, to string, now time.Time) []*models.SwapOrder {
	var out []*models.SwapOrder
	for _, id := range b.seq {
		o := b.orders[id]
		if o.FromToken == from && o.ToToken == to && o.IsActionable(now) {
			out = append(out, o)
		}
	}
	return out
}

func (b *Book) publish(ctx context.Context, typ models.OrderEventType, order, counter *models.SwapOrder) {
	if b.publisher == nil {
		return
	}
	ev := &models.OrderEvent{Type: typ, Order: *order, Counter: counter, At: b.now().UTC()}
	if err := b.publisher.PublishOrderEvent(ctx, ev); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": order.OrderID,
			"event":    typ,
		}).Warn("failed to publish order event")
	}
}

func (b *Book) archiveOrder(ctx context.Context, o *models.SwapOrder) {
	if b.archive == nil {
		return
	}
	if err := b.archive.InsertOrder(ctx, o); err != nil {
		b.logger.WithError(err).WithField("order_id", o.OrderID).Warn("failed to archive order")
	}
}

func validate(req models.OrderRequest) error {
	if strings.TrimSpace(req.FromToken) == "" || strings.TrimSpace(req.ToToken) == "" {
		return ErrMissingToken
	}
	if req.FromToken == req.ToToken {
		return ErrSameToken
	}
	for _, a := range []string{req.FromAmount, req.ToAmount} {
		d, err := decimal.NewFromString(strings.TrimSpace(a))
		if err != nil || d.IsNegative() {
			return fmt.Errorf("%w: %q", ErrInvalidAmount, a)
		}
	}
	return nil
}
