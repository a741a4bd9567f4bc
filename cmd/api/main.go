package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/aman-zulfiqar/krc20-swap/internal/ai"
	"github.com/aman-zulfiqar/krc20-swap/internal/cache"
	"github.com/aman-zulfiqar/krc20-swap/internal/catalog"
	"github.com/aman-zulfiqar/krc20-swap/internal/config"
	"github.com/aman-zulfiqar/krc20-swap/internal/halts"
	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/aman-zulfiqar/krc20-swap/internal/oracle"
	"github.com/aman-zulfiqar/krc20-swap/internal/orderbook"
	"github.com/aman-zulfiqar/krc20-swap/internal/server"
	"github.com/aman-zulfiqar/krc20-swap/internal/storage"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	// Get the project root directory (where go.mod is)
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// main is the entry point for the API server.
// It wires the price oracle, catalog, order book and swap engine behind the
// HTTP API and runs the price refresher and order sweeper alongside it.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.DevMode {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	client := kasfyi.NewClient(kasfyi.ClientConfig{
		BaseURL:      cfg.KasFyiBaseURL,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RPS:          cfg.UpstreamRPS,
		Burst:        cfg.UpstreamBurst,
		Logger:       logger,
	})

	hub := server.NewHub(logger)
	publishers := storage.Publishers{hub}

	// Redis is optional: it backs the shared price cache, the event bus
	// and trading halts.
	var (
		rclient   *redis.Client
		haltStore server.HaltStore
	)
	if cfg.RedisAddr != "" {
		rclient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   0,
		})
		if err := rclient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		defer rclient.Close()

		publishers = append(publishers, cache.NewPubSub(rclient, logger))

		hs, err := halts.NewStore(rclient)
		if err != nil {
			logger.WithError(err).Fatal("failed to create halts store")
		}
		haltStore = hs
	}

	var priceCache storage.PriceCache
	switch cfg.PriceCacheBackend {
	case "redis":
		rc, err := cache.NewRedisPriceCache(rclient, cache.RedisConfig{TTL: cfg.PriceCacheTTL, Logger: logger})
		if err != nil {
			logger.WithError(err).Fatal("failed to create redis price cache")
		}
		priceCache = rc
	default:
		priceCache = cache.NewMemoryPriceCache(cache.MemoryConfig{
			TTL:        cfg.PriceCacheTTL,
			MaxEntries: cfg.PriceCacheMaxEntries,
		})
	}

	// ClickHouse archive is optional; the book works without it.
	var archive storage.OrderArchive
	if cfg.ClickHouseAddr != "" {
		a, err := cache.NewClickHouseArchive(ctx, cache.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
			Logger:   logger,
		})
		if err != nil {
			logger.WithError(err).Warn("order archive disabled")
		} else {
			archive = a
			defer a.Close()
		}
	}

	orc, err := oracle.New(oracle.Config{Fetcher: client, Cache: priceCache, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("failed to create price oracle")
	}

	tokens, err := catalog.New(catalog.Config{
		Lister:   client,
		Pricer:   orc,
		PageSize: cfg.CatalogPageSize,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create token catalog")
	}

	book := orderbook.NewBook(orderbook.Config{
		TTL:           cfg.OrderTTL,
		SettleTimeout: cfg.SettleTimeout,
		Publisher:     publishers,
		Archive:       archive,
		Logger:        logger,
	})

	engine, err := swapengine.NewEngine(swapengine.Config{Prices: orc, Book: book, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("failed to create swap engine")
	}

	go func() {
		if err := book.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("order sweeper stopped")
		}
	}()

	refresher := oracle.NewRefresher(oracle.RefresherConfig{
		Source:    orc,
		Tickers:   cfg.WatchTickers,
		Interval:  cfg.PriceRefresh,
		Publisher: publishers,
		Logger:    logger,
	})
	if len(cfg.WatchTickers) > 0 {
		go func() {
			if err := refresher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("price refresher stopped")
			}
		}()
	}

	// Initialize AI agent for natural language queries (optional)
	var agent *ai.Agent
	aiBase := ai.AgentConfig{
		ClickHouseAddr:     cfg.ClickHouseAddr,
		ClickHouseDatabase: cfg.ClickHouseDatabase,
		ClickHouseUsername: cfg.ClickHouseUsername,
		ClickHousePassword: cfg.ClickHousePassword,
		OpenRouterAPIKey:   cfg.OpenRouterAPIKey,
		Model:              "openai/gpt-4.1-mini",
		Logger:             logger,
	}
	if cfg.OpenRouterAPIKey != "" && cfg.ClickHouseAddr != "" {
		a, err := ai.NewAgent(ctx, aiBase)
		if err != nil {
			logger.WithError(err).Warn("failed to initialize ai agent")
		} else {
			agent = a
			defer func() {
				_ = agent.Close()
			}()
		}
	}

	h := &server.Handlers{
		Prices:       orc,
		Catalog:      tokens,
		Book:         book,
		Engine:       engine,
		Hub:          hub,
		Halts:        haltStore,
		AI:           agent,
		AIBaseConfig: aiBase,
		DevMode:      cfg.DevMode,
		Logger:       logger,
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		_ = refresher.Stop()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithFields(logrus.Fields{
		"addr":        cfg.APIAddr,
		"price_cache": cfg.PriceCacheBackend,
		"redis":       rclient != nil,
		"archive":     archive != nil,
		"watching":    len(cfg.WatchTickers),
	}).Info("api server starting")

	if err := srv.Start(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			_ = srv.WaitClosed(context.Background())
			return
		}
		logger.WithError(err).Fatal("api server failed")
	}

	if err := srv.WaitClosed(context.Background()); err != nil {
		fmt.Println(err)
	}
}
