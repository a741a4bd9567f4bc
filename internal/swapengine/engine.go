package swapengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// quoteScale is the number of decimal places an estimate is rounded to.
const quoteScale = 8

// PriceSource is the oracle surface quoting needs.
type PriceSource interface {
	GetTokenInfo(ctx context.Context, ticker string) (*models.PriceSnapshot, bool)
}

// OrderPlacer stores and matches orders. *orderbook.Book satisfies it.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.SwapOrder, error)
	MatchOrder(ctx context.Context, takerID string) (*models.SwapOrder, error)
}

// IntentSigner is the connected wallet session. *wallet.Session satisfies it.
type IntentSigner interface {
	SignSwapIntent(ctx context.Context, intent wallet.SwapIntent) (*models.OrderRequest, error)
	Tokens() []models.WalletToken
}

// Engine is the main orchestrator for swap operations
type Engine struct {
	prices  PriceSource
	book    OrderPlacer
	session IntentSigner
	risk    *RiskManager
	logger  *logrus.Logger
	now     func() time.Time
}

type Config struct {
	Prices  PriceSource
	Book    OrderPlacer
	Session IntentSigner // optional; required by Submit
	Risk    *RiskManager // optional
	Logger  *logrus.Logger
	Now     func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Prices == nil {
		return nil, fmt.Errorf("swapengine: price source is required")
	}
	if cfg.Book == nil {
		return nil, fmt.Errorf("swapengine: order book is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		prices:  cfg.Prices,
		book:    cfg.Book,
		session: cfg.Session,
		risk:    cfg.Risk,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// Quote estimates how much of to the given amount of from buys.
// The amount is validated before any price is fetched.
func (e *Engine) Quote(ctx context.Context, from, to, amount string) (*QuoteResult, error) {
	amt, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	if err := checkPair(from, to); err != nil {
		return nil, err
	}

	var fromSnap, toSnap *models.PriceSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fromSnap = e.snapshot(gctx, from)
		return nil
	})
	g.Go(func() error {
		toSnap = e.snapshot(gctx, to)
		return nil
	})
	_ = g.Wait()

	basis, fromPrice, toPrice, ok := pickBasis(fromSnap, toSnap)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPriceUnavailable, from, to)
	}

	fp, tp := decimal.NewFromFloat(fromPrice), decimal.NewFromFloat(toPrice)
	estimate := amt.Mul(fp).Div(tp).Round(quoteScale)
	rate, _ := fp.Div(tp).Float64()

	q := &QuoteResult{
		FromToken:       from,
		ToToken:         to,
		Amount:          amt.String(),
		EstimatedAmount: estimate.String(),
		FromPrice:       fromPrice,
		ToPrice:         toPrice,
		Basis:           basis,
		Rate:            rate,
		QuotedAt:        e.now().UTC(),
	}
	if fromSnap != nil && fromSnap.PriceInUSD > 0 {
		q.ValueUSD, _ = amt.Mul(decimal.NewFromFloat(fromSnap.PriceInUSD)).Float64()
	}

	e.logger.WithFields(logrus.Fields{
		"pair":     from + "/" + to,
		"amount":   q.Amount,
		"estimate": q.EstimatedAmount,
		"basis":    basis,
	}).Debug("quoted swap")

	return q, nil
}

// Place stores a signed order and immediately tries to match it. If the
// match attempt fails the stored order is still returned with the error;
// it stays pending in the book.
func (e *Engine) Place(ctx context.Context, req models.OrderRequest) (*PlaceResult, error) {
	order, err := e.book.CreateOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &PlaceResult{Order: order}
	match, err := e.book.MatchOrder(ctx, order.OrderID)
	if err != nil {
		return res, fmt.Errorf("match order %s: %w", order.OrderID, err)
	}
	if match != nil {
		res.Match = match
		res.Order.Status = models.OrderStatusMatched
		res.Order.MatchedWith = match.OrderID
	}
	return res, nil
}

// Submit quotes when needed, runs risk checks, has the wallet sign the
// swap intent and places the order. Nothing is signed if a check fails.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	amt, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := checkPair(req.FromToken, req.ToToken); err != nil {
		return nil, err
	}
	if e.session == nil {
		return nil, ErrNoSession
	}

	expected := strings.TrimSpace(req.ExpectedAmount)
	if expected != "" {
		if _, err := parseNonNegative(expected); err != nil {
			return nil, err
		}
	}

	out := &SubmitResult{}

	quote, qerr := e.Quote(ctx, req.FromToken, req.ToToken, req.Amount)
	switch {
	case qerr == nil:
		out.Quote = quote
		if expected == "" {
			expected = quote.EstimatedAmount
		}
	case expected == "":
		return nil, qerr
	default:
		e.logger.WithError(qerr).Warn("quote unavailable, using caller's expected amount")
	}

	if e.risk != nil {
		out.Risk = e.risk.CheckOrder(e.riskInput(req, amt, expected, quote))
		if !out.Risk.Allowed {
			return out, fmt.Errorf("%w: %s", ErrRiskRejected, out.Risk.Reason)
		}
	}

	orderReq, err := e.session.SignSwapIntent(ctx, wallet.SwapIntent{
		FromToken:      req.FromToken,
		ToToken:        req.ToToken,
		Amount:         amt.String(),
		ExpectedAmount: expected,
	})
	if err != nil {
		return nil, err
	}

	placed, err := e.Place(ctx, *orderReq)
	if placed == nil {
		return nil, err
	}
	out.PlaceResult = *placed

	if e.risk != nil && quote != nil {
		e.risk.RecordOrder(quote.ValueUSD)
	}
	if err != nil {
		return out, err
	}

	e.logger.WithFields(logrus.Fields{
		"order_id": placed.Order.OrderID,
		"pair":     placed.Order.Pair(),
		"matched":  placed.Match != nil,
	}).Info("swap submitted")

	return out, nil
}

func (e *Engine) riskInput(req SubmitRequest, amt decimal.Decimal, expected string, q *QuoteResult) RiskInput {
	in := RiskInput{FromToken: req.FromToken, ToToken: req.ToToken, Amount: amt}

	if q != nil {
		in.ValueUSD = q.ValueUSD
		if est, err := decimal.NewFromString(q.EstimatedAmount); err == nil {
			in.Estimated = &est
		}
	}
	if exp, err := decimal.NewFromString(expected); err == nil {
		in.Expected = &exp
	}

	for _, t := range e.session.Tokens() {
		if t.Symbol != req.FromToken {
			continue
		}
		if b, err := decimal.NewFromString(t.Balance); err == nil {
			in.Balance = &b
		}
		break
	}
	return in
}

// snapshot resolves a ticker's prices. The native ticker's floor price is 1
// since floor prices are quoted in it.
func (e *Engine) snapshot(ctx context.Context, ticker string) *models.PriceSnapshot {
	snap, ok := e.prices.GetTokenInfo(ctx, ticker)
	if ticker != constants.NativeTicker {
		if !ok {
			return nil
		}
		return snap
	}

	native := &models.PriceSnapshot{Ticker: ticker, Decimals: constants.NativeDecimals}
	if ok {
		*native = *snap
	}
	native.FloorPrice = 1
	return native
}

// pickBasis prefers USD on both sides and falls back to floor prices on
// both sides. Bases are never mixed.
func pickBasis(from, to *models.PriceSnapshot) (QuoteBasis, float64, float64, bool) {
	if from == nil || to == nil {
		return "", 0, 0, false
	}
	if from.PriceInUSD > 0 && to.PriceInUSD > 0 {
		return BasisUSD, from.PriceInUSD, to.PriceInUSD, true
	}
	if from.FloorPrice > 0 && to.FloorPrice > 0 {
		return BasisFloor, from.FloorPrice, to.FloorPrice, true
	}
	return "", 0, 0, false
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

func parseNonNegative(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

func checkPair(from, to string) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" || from == to {
		return ErrInvalidPair
	}
	return nil
}
