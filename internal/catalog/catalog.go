package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Lister pages through the upstream token list. *kasfyi.Client satisfies it.
type Lister interface {
	Tokens(ctx context.Context, limit, offset int) (*kasfyi.TokenListResponse, error)
}

// Pricer is the oracle surface the catalog uses.
type Pricer interface {
	GetPrices(ctx context.Context, tickers []string) map[string]float64
	GetTokenInfo(ctx context.Context, ticker string) (*models.PriceSnapshot, bool)
}

// Service lists tradable tokens enriched with USD prices.
type Service struct {
	lister   Lister
	pricer   Pricer
	pageSize int
	logger   *logrus.Logger
}

type Config struct {
	Lister   Lister
	Pricer   Pricer
	PageSize int
	Logger   *logrus.Logger
}

func New(cfg Config) (*Service, error) {
	if cfg.Lister == nil || cfg.Pricer == nil {
		return nil, fmt.Errorf("catalog: lister and pricer are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultCatalogPageSize
	}
	if cfg.PageSize > constants.MaxCatalogPageSize {
		cfg.PageSize = constants.MaxCatalogPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Service{
		lister:   cfg.Lister,
		pricer:   cfg.Pricer,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
	}, nil
}

func (s *Service) PageSize() int { return s.pageSize }

// ListTokens returns one 1-based page of the catalog without the excluded
// tickers. An upstream failure yields an empty page with HasMore false.
func (s *Service) ListTokens(ctx context.Context, page int, exclude []string) models.TokenPage {
	if page < 1 {
		page = 1
	}
	out := models.TokenPage{Page: page, Tokens: []models.CatalogToken{}}

	resp, err := s.lister.Tokens(ctx, s.pageSize, (page-1)*s.pageSize)
	if err != nil {
		s.logger.WithError(err).WithField("page", page).Warn("failed to list tokens")
		return out
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		skip[t] = struct{}{}
	}

	tickers := make([]string, 0, len(resp.Results))
	for _, item := range resp.Results {
		if item.Ticker == "" {
			continue
		}
		if _, ok := skip[item.Ticker]; ok {
			continue
		}
		tickers = append(tickers, item.Ticker)
		out.Tokens = append(out.Tokens, models.CatalogToken{
			Symbol:   item.Ticker,
			Name:     firstNonEmpty(item.Name, item.Ticker),
			Decimals: decimalsOr(item.Decimal.Int()),
			LogoURL:  item.IconURL,
		})
	}

	prices := s.pricer.GetPrices(ctx, tickers)
	for i := range out.Tokens {
		out.Tokens[i].PriceInUSD = prices[out.Tokens[i].Symbol]
	}

	if total, ok := resp.Count(); ok {
		out.HasMore = total > page*s.pageSize
	} else {
		out.HasMore = len(resp.Results) == s.pageSize
	}

	s.logger.WithFields(logrus.Fields{
		"page":     page,
		"returned": len(out.Tokens),
		"has_more": out.HasMore,
	}).Debug("listed tokens")

	return out
}

// GetTokensInfo enriches the given tickers directly, keeping input order and
// dropping duplicates. Tokens without a price get 0.
func (s *Service) GetTokensInfo(ctx context.Context, tickers []string) []models.CatalogToken {
	seen := make(map[string]struct{}, len(tickers))
	unique := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	out := make([]models.CatalogToken, len(unique))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(constants.DefaultCatalogPageSize)

	for i, t := range unique {
		i, t := i, t
		g.Go(func() error {
			tok := models.CatalogToken{Symbol: t, Name: t, Decimals: models.DefaultDecimals}
			if snap, ok := s.pricer.GetTokenInfo(ctx, t); ok {
				tok.Decimals = decimalsOr(snap.Decimals)
				tok.LogoURL = snap.LogoURL
				tok.PriceInUSD = snap.PriceInUSD
			}
			mu.Lock()
			out[i] = tok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// SortTokensByBalance puts tokens listed in the wallet first, richest by
// balance x price, and leaves the rest in their original order. A wallet
// entry counts as held even when its balance is zero or unparsable.
// The input slice is not modified.
func SortTokensByBalance(tokens []models.CatalogToken, wallet []models.WalletToken) []models.CatalogToken {
	balances := make(map[string]decimal.Decimal, len(wallet))
	for _, w := range wallet {
		b, err := decimal.NewFromString(strings.TrimSpace(w.Balance))
		if err != nil || b.IsNegative() {
			b = decimal.Zero
		}
		balances[w.Symbol] = b
	}

	type ranked struct {
		token models.CatalogToken
		held  bool
		value decimal.Decimal
	}
	rows := make([]ranked, len(tokens))
	for i, t := range tokens {
		b, held := balances[t.Symbol]
		rows[i] = ranked{token: t, held: held}
		if held {
			rows[i].value = b.Mul(decimal.NewFromFloat(t.PriceInUSD))
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].held != rows[j].held {
			return rows[i].held
		}
		if !rows[i].held {
			return false
		}
		return rows[i].value.GreaterThan(rows[j].value)
	})

	out := make([]models.CatalogToken, len(rows))
	for i, r := range rows {
		out[i] = r.token
	}
	return out
}

// FilterTokens keeps tokens whose symbol or name contains query, ignoring case.
func FilterTokens(tokens []models.CatalogToken, query string) []models.CatalogToken {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.CatalogToken, 0, len(tokens))
	for _, t := range tokens {
		if q == "" ||
			strings.Contains(strings.ToLower(t.Symbol), q) ||
			strings.Contains(strings.ToLower(t.Name), q) {
			out = append(out, t)
		}
	}
	return out
}

func decimalsOr(d int) int {
	if d <= 0 {
		return models.DefaultDecimals
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
