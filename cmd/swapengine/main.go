package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/aman-zulfiqar/krc20-swap/internal/apiclient"
	"github.com/aman-zulfiqar/krc20-swap/internal/cache"
	"github.com/aman-zulfiqar/krc20-swap/internal/config"
	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/aman-zulfiqar/krc20-swap/internal/oracle"
	"github.com/aman-zulfiqar/krc20-swap/internal/orderbook"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
	"github.com/aman-zulfiqar/krc20-swap/internal/wallet"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func loadEnv() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	_ = godotenv.Load(filepath.Join(projectRoot, ".env"))
}

func main() {
	loadEnv()

	mode := flag.String("mode", "quote", "quote | submit")
	from := flag.String("from", "NACHO", "ticker to give")
	to := flag.String("to", "KAS", "ticker to receive")
	amt := flag.String("amt", "", "amount in human units (e.g. 1000)")
	expect := flag.String("expect", "", "expected output amount; defaults to the quote")
	api := flag.String("api", "", "swap API base URL; empty keeps the order book in-process")
	hold := flag.String("hold", "", "local wallet holdings, e.g. NACHO=1000,KASPY=5")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if strings.TrimSpace(*amt) == "" {
		fmt.Println("missing -amt")
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	client := kasfyi.NewClient(kasfyi.ClientConfig{
		BaseURL:      cfg.KasFyiBaseURL,
		Timeout:      cfg.HTTPTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		RPS:          cfg.UpstreamRPS,
		Burst:        cfg.UpstreamBurst,
		Logger:       logger,
	})
	orc, err := oracle.New(oracle.Config{
		Fetcher: client,
		Cache:   cache.NewMemoryPriceCache(cache.MemoryConfig{TTL: cfg.PriceCacheTTL}),
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create price oracle")
	}

	switch *mode {
	case "quote":
		engine, err := swapengine.NewEngine(swapengine.Config{
			Prices: orc,
			Book:   orderbook.NewBook(orderbook.Config{Logger: logger}),
			Logger: logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to init swapengine")
		}
		q, err := engine.Quote(ctx, *from, *to, *amt)
		if err != nil {
			fmt.Println("quote failed:", err)
			os.Exit(1)
		}
		printJSON(q)

	case "submit":
		holdings, err := parseHoldings(*hold)
		if err != nil {
			fmt.Println("invalid -hold:", err)
			os.Exit(2)
		}
		w, err := localWallet(cfg, holdings, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to open local wallet")
		}

		session := wallet.NewSession(w, wallet.SessionConfig{Origin: "cli", Logger: logger})
		if err := session.Connect(ctx); err != nil {
			logger.WithError(err).Fatal("wallet connect failed")
		}
		defer func() { _ = session.Disconnect(context.Background()) }()

		var book swapengine.OrderPlacer
		if *api != "" {
			book = apiclient.NewClient(*api, cfg.APIKey)
		} else {
			book = orderbook.NewBook(orderbook.Config{
				TTL:    cfg.OrderTTL,
				Signer: wallet.TransferSigner{Provider: w},
				Logger: logger,
			})
		}

		engine, err := swapengine.NewEngine(swapengine.Config{
			Prices:  orc,
			Book:    book,
			Session: session,
			Risk: swapengine.NewRiskManager(swapengine.RiskConfig{
				MaxOrderUSD:         cfg.RiskMaxOrderUSD,
				DailyLimitUSD:       cfg.RiskDailyLimitUSD,
				MaxRateDeviationBps: uint16(cfg.RiskMaxDeviationBps),
				AllowedTokens:       cfg.RiskAllowedTokens,
				RequireBalance:      len(holdings) > 0,
			}),
			Logger: logger,
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to init swapengine")
		}

		res, err := engine.Submit(ctx, swapengine.SubmitRequest{
			FromToken:      *from,
			ToToken:        *to,
			Amount:         *amt,
			ExpectedAmount: *expect,
		})
		if err != nil {
			if res != nil && res.Risk != nil {
				printJSON(res.Risk)
			}
			if res != nil && res.Order != nil {
				printJSON(res.PlaceResult)
			}
			fmt.Println("submit failed:", err)
			os.Exit(1)
		}
		printJSON(res)

	default:
		fmt.Println("invalid -mode (use quote|submit)")
		os.Exit(2)
	}
}

// localWallet opens WALLET_PRIVATE_KEY, or a throwaway key when unset.
func localWallet(cfg *config.Config, tokens []wallet.KRC20Balance, logger *logrus.Logger) (*wallet.LocalWallet, error) {
	lc := wallet.LocalConfig{
		PrivateKey: cfg.WalletPrivateKey,
		Address:    cfg.WalletAddress,
		Tokens:     tokens,
	}
	if strings.TrimSpace(cfg.WalletPrivateKey) == "" {
		logger.Warn("WALLET_PRIVATE_KEY not set, signing with a throwaway key")
		return wallet.NewRandomLocalWallet(lc)
	}
	return wallet.NewLocalWallet(lc)
}

// parseHoldings reads TICK=amount pairs in human units into raw balances.
func parseHoldings(s string) ([]wallet.KRC20Balance, error) {
	var out []wallet.KRC20Balance
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tick, amount, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(tick) == "" {
			return nil, fmt.Errorf("%q: want TICK=amount", part)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(amount))
		if err != nil || d.IsNegative() {
			return nil, fmt.Errorf("%q: bad amount", part)
		}
		out = append(out, wallet.KRC20Balance{
			Tick:    strings.TrimSpace(tick),
			Balance: d.Shift(8).Truncate(0).String(),
			Dec:     "8",
		})
	}
	return out, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
