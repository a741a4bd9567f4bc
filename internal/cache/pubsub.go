package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PubSub publishes order and price events over Redis channels.
type PubSub struct {
	client *redis.Client
	logger *logrus.Logger
}

var _ storage.EventPublisher = (*PubSub)(nil)

func NewPubSub(client *redis.Client, logger *logrus.Logger) *PubSub {
	if logger == nil {
		logger = logrus.New()
	}
	return &PubSub{client: client, logger: logger}
}

// PublishOrderEvent publishes to the global and the pair-specific channel
func (p *PubSub) PublishOrderEvent(ctx context.Context, ev *models.OrderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	channels := []string{
		constants.PubSubChannelOrders,
		PairChannel(ev.Order.FromToken, ev.Order.ToToken),
	}

	pipe := p.client.Pipeline()
	for _, channel := range channels {
		pipe.Publish(ctx, channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (p *PubSub) PublishPriceUpdate(ctx context.Context, u *models.PriceUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, constants.PubSubChannelPriceUpdates, data).Err(); err != nil {
		return fmt.Errorf("publish price update: %w", err)
	}
	return nil
}

// SubscribeOrders delivers order events from the given channel patterns until ctx is done.
func (p *PubSub) SubscribeOrders(ctx context.Context, pattern string, handler func(*models.OrderEvent)) error {
	pubsub := p.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	p.logger.WithField("pattern", pattern).Info("subscribed to order events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.OrderEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				p.logger.WithError(err).Warn("error unmarshaling order event")
				continue
			}
			handler(&ev)
		}
	}
}

// SubscribePrices delivers price updates until ctx is done.
func (p *PubSub) SubscribePrices(ctx context.Context, handler func(*models.PriceUpdate)) error {
	pubsub := p.client.Subscribe(ctx, constants.PubSubChannelPriceUpdates)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u models.PriceUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				p.logger.WithError(err).Warn("error unmarshaling price update")
				continue
			}
			handler(&u)
		}
	}
}

// PairChannel is the channel carrying events for one direction.
func PairChannel(from, to string) string {
	return constants.PubSubChannelPairPrefix + from + "/" + to
}
