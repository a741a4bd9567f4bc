package storage

import (
	"context"
	"errors"
	"io"

	"github.com/aman-zulfiqar/krc20-swap/internal/models"
)

// PriceCache is a time-windowed ticker -> snapshot cache.
// Get reports false for missing and stale entries alike.
type PriceCache interface {
	Get(ctx context.Context, ticker string) (*models.PriceSnapshot, bool)
	Put(ctx context.Context, ticker string, snap *models.PriceSnapshot)
}

// EventPublisher fans order and price events out to subscribers
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev *models.OrderEvent) error
	PublishPriceUpdate(ctx context.Context, u *models.PriceUpdate) error
}

// OrderArchive persists orders that leave the in-memory book
type OrderArchive interface {
	// InsertOrder appends the final state of an order
	InsertOrder(ctx context.Context, order *models.SwapOrder) error

	// Ping checks if the archive is reachable
	Ping(ctx context.Context) error

	io.Closer
}

// Publishers publishes to every member and joins their errors.
type Publishers []EventPublisher

func (p Publishers) PublishOrderEvent(ctx context.Context, ev *models.OrderEvent) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishOrderEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p Publishers) PublishPriceUpdate(ctx context.Context, u *models.PriceUpdate) error {
	var errs []error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.PublishPriceUpdate(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
