package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisPriceCache shares price snapshots between processes.
// Keys expire through Redis; freshness is re-checked on read against storedAt.
type RedisPriceCache struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Logger
}

type RedisConfig struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *logrus.Logger
}

type redisEntry struct {
	Snapshot *models.PriceSnapshot `json:"snapshot"`
	StoredAt time.Time             `json:"storedAt"`
}

var _ storage.PriceCache = (*RedisPriceCache)(nil)

func NewRedisPriceCache(client redis.Cmdable, cfg RedisConfig) (*RedisPriceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = constants.DefaultPriceCacheTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &RedisPriceCache{client: client, ttl: cfg.TTL, now: cfg.Now, logger: cfg.Logger}, nil
}

func (c *RedisPriceCache) Get(ctx context.Context, ticker string) (*models.PriceSnapshot, bool) {
	val, err := c.client.Get(ctx, priceKey(ticker)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("ticker", ticker).Warn("redis price cache read failed")
		return nil, false
	}

	var e redisEntry
	if err := json.Unmarshal([]byte(val), &e); err != nil || e.Snapshot == nil {
		c.logger.WithField("ticker", ticker).Warn("redis price cache entry malformed")
		return nil, false
	}
	if c.now().Sub(e.StoredAt) >= c.ttl {
		return nil, false
	}
	return e.Snapshot, true
}

func (c *RedisPriceCache) Put(ctx context.Context, ticker string, snap *models.PriceSnapshot) {
	if snap == nil {
		return
	}
	b, err := json.Marshal(redisEntry{Snapshot: snap, StoredAt: c.now().UTC()})
	if err != nil {
		c.logger.WithError(err).Warn("marshal price snapshot")
		return
	}
	if err := c.client.Set(ctx, priceKey(ticker), b, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("ticker", ticker).Warn("redis price cache write failed")
	}
}

func priceKey(ticker string) string {
	return constants.RedisKeyPricePrefix + ticker
}
