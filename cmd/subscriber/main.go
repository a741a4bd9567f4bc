package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/aman-zulfiqar/krc20-swap/internal/cache"
	"github.com/aman-zulfiqar/krc20-swap/internal/config"
	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

// subscriber prints order and price events published by the API.
func main() {
	loadEnv()

	pair := flag.String("pair", "", "only order events for FROM/TO (default: every pair)")
	prices := flag.Bool("prices", true, "also print price updates")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	cfg := config.Load()
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down subscriber")
		cancel()
	}()

	rclient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rclient.Close()
	if err := rclient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}

	ps := cache.NewPubSub(rclient, logger)

	pattern := constants.PubSubChannelOrders
	if *pair != "" {
		pattern = constants.PubSubChannelPairPrefix + *pair
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ps.SubscribeOrders(gctx, pattern, func(ev *models.OrderEvent) {
			fields := logrus.Fields{
				"event":  ev.Type,
				"order":  ev.Order.OrderID,
				"pair":   ev.Order.Pair(),
				"amount": ev.Order.FromAmount + " -> " + ev.Order.ToAmount,
				"status": ev.Order.Status,
			}
			if ev.Counter != nil {
				fields["counter"] = ev.Counter.OrderID
			}
			logger.WithFields(fields).Info("order event")
		})
	})
	if *prices {
		g.Go(func() error {
			return ps.SubscribePrices(gctx, func(u *models.PriceUpdate) {
				logger.WithFields(logrus.Fields{
					"ticker": u.Ticker,
					"usd":    u.PriceInUSD,
					"floor":  u.FloorPrice,
				}).Info("price update")
			})
		})
	}

	logger.WithField("pattern", pattern).Info("subscriber running, press Ctrl+C to stop")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("subscriber stopped")
	}
}
