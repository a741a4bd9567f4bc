package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/ai"
	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/aman-zulfiqar/krc20-swap/internal/halts"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/orderbook"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// PriceReader is the oracle surface the API reads prices through.
type PriceReader interface {
	GetTokenInfo(ctx context.Context, ticker string) (*models.PriceSnapshot, bool)
	GetPrices(ctx context.Context, tickers []string) map[string]float64
}

// TokenLister is the catalog surface the API pages tokens through.
type TokenLister interface {
	ListTokens(ctx context.Context, page int, exclude []string) models.TokenPage
	GetTokensInfo(ctx context.Context, tickers []string) []models.CatalogToken
}

// HaltStore is the trading halt surface. *halts.Store satisfies it.
type HaltStore interface {
	Halt(ctx context.Context, key, reason string) (*halts.Halt, error)
	List(ctx context.Context) ([]*halts.Halt, error)
	Get(ctx context.Context, key string) (*halts.Halt, error)
	Resume(ctx context.Context, key string) error
	Check(ctx context.Context, from, to string) (*halts.Halt, error)
}

// Handlers contains all dependencies for API endpoint handlers
type Handlers struct {
	Prices       PriceReader        // Cached price oracle
	Catalog      TokenLister        // Paged token catalog
	Book         *orderbook.Book    // In-memory order book
	Engine       *swapengine.Engine // Quoting and order placement
	Hub          *Hub               // Websocket event fan-out (optional)
	Halts        HaltStore          // Redis-backed trading halts (optional)
	AI           *ai.Agent          // AI agent for natural language queries (optional)
	AIBaseConfig ai.AgentConfig     // Base configuration for AI agents
	DevMode      bool               // Enable detailed error responses in development
	Logger       *logrus.Logger     // Structured logger
}

// err returns a standardized JSON error response
// In dev mode, includes additional error details for debugging
func (h *Handlers) err(c echo.Context, code int, msg string, details any) error {
	resp := ErrorResponse{Error: msg, Code: code}
	if h.DevMode && details != nil {
		resp.Details = details
	}
	return c.JSON(code, resp)
}

// withTimeout creates a context with timeout, defaulting to 10 seconds if duration <= 0
func (h *Handlers) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// domainErr maps order book, engine and halt errors onto HTTP statuses.
func (h *Handlers) domainErr(c echo.Context, err error) error {
	if ae, ok := classify(err); ok {
		return h.err(c, ae.status, ae.msg, map[string]any{"err": err.Error()})
	}
	h.Logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	return h.err(c, http.StatusInternalServerError, "request failed", map[string]any{"err": err.Error()})
}

// Health returns a simple health check endpoint
func (h *Handlers) Health(c echo.Context) error {
	resp := HealthResponse{OK: true}
	if h.Book != nil {
		resp.Orders = h.Book.Len()
	}
	if h.Hub != nil {
		resp.WSClients = h.Hub.Len()
	}
	return c.JSON(http.StatusOK, resp)
}

// Price returns the normalized snapshot for one ticker.
// Tickers are case-sensitive and passed through unchanged.
func (h *Handlers) Price(c echo.Context) error {
	ticker := strings.TrimSpace(c.Param("ticker"))
	if ticker == "" {
		return h.err(c, http.StatusBadRequest, "invalid ticker", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	snap, ok := h.Prices.GetTokenInfo(ctx, ticker)
	if !ok {
		return h.err(c, http.StatusNotFound, "price unavailable", map[string]any{"ticker": ticker})
	}
	return c.JSON(http.StatusOK, snap)
}

// PricesBatch returns USD prices for a comma separated tickers list
func (h *Handlers) PricesBatch(c echo.Context) error {
	tickers := splitCSVQuery(c.QueryParams()["tickers"])
	if len(tickers) == 0 {
		return h.err(c, http.StatusBadRequest, "invalid tickers", map[string]any{"tickers": "required"})
	}
	if len(tickers) > constants.MaxPriceBatch {
		return h.err(c, http.StatusBadRequest, "invalid tickers", map[string]any{"tickers": "max " + strconv.Itoa(constants.MaxPriceBatch)})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	return c.JSON(http.StatusOK, PricesResponse{Prices: h.Prices.GetPrices(ctx, tickers)})
}

// Tokens returns one catalog page. Accepts page (default 1) and exclude.
func (h *Handlers) Tokens(c echo.Context) error {
	page := 1
	if v := strings.TrimSpace(c.QueryParam("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return h.err(c, http.StatusBadRequest, "invalid page", map[string]any{"page": "must be a positive integer"})
		}
		page = n
	}
	exclude := splitCSVQuery(c.QueryParams()["exclude"])

	ctx, cancel := h.withTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	return c.JSON(http.StatusOK, h.Catalog.ListTokens(ctx, page, exclude))
}

// TokensInfo returns catalog rows for the requested tickers, in request order.
func (h *Handlers) TokensInfo(c echo.Context) error {
	var req TokensInfoRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	tickers := splitCSVQuery(req.Tickers)
	if len(tickers) == 0 {
		return h.err(c, http.StatusBadRequest, "invalid tickers", map[string]any{"tickers": "required"})
	}
	if len(tickers) > constants.MaxPriceBatch {
		return h.err(c, http.StatusBadRequest, "invalid tickers", map[string]any{"tickers": "max " + strconv.Itoa(constants.MaxPriceBatch)})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	return c.JSON(http.StatusOK, map[string]any{"items": h.Catalog.GetTokensInfo(ctx, tickers)})
}

// Quote estimates a swap from the cached prices of both tokens
func (h *Handlers) Quote(c echo.Context) error {
	from := strings.TrimSpace(c.QueryParam("from"))
	to := strings.TrimSpace(c.QueryParam("to"))
	amount := strings.TrimSpace(c.QueryParam("amount"))

	if from == "" {
		return h.err(c, http.StatusBadRequest, "invalid from", map[string]any{"from": "required"})
	}
	if to == "" {
		return h.err(c, http.StatusBadRequest, "invalid to", map[string]any{"to": "required"})
	}
	if amount == "" {
		return h.err(c, http.StatusBadRequest, "invalid amount", map[string]any{"amount": "required"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	q, err := h.Engine.Quote(ctx, from, to, amount)
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

// CreateOrder stores a wallet-signed order and tries to match it right away.
// Returns 409 when a trading halt covers the pair.
func (h *Handlers) CreateOrder(c echo.Context) error {
	var req models.OrderRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if h.Halts != nil && req.FromToken != "" && req.ToToken != "" {
		halt, err := h.Halts.Check(ctx, req.FromToken, req.ToToken)
		if err != nil {
			h.Logger.WithError(err).Warn("halt check failed")
			return h.err(c, http.StatusServiceUnavailable, "halt check failed", nil)
		}
		if halt != nil {
			return c.JSON(http.StatusConflict, HaltedResponse{Error: "trading halted", Code: http.StatusConflict, Halt: halt})
		}
	}

	res, err := h.Engine.Place(ctx, req)
	if err != nil {
		if res == nil {
			return h.domainErr(c, err)
		}
		h.Logger.WithError(err).WithField("order_id", res.Order.OrderID).Warn("order stored but not matched")
	}

	h.Logger.WithFields(logrus.Fields{
		"order_id": res.Order.OrderID,
		"pair":     res.Order.Pair(),
		"matched":  res.Match != nil,
	}).Info("order placed")

	return c.JSON(http.StatusCreated, res)
}

// ListOrders returns actionable orders for one direction in insertion order
func (h *Handlers) ListOrders(c echo.Context) error {
	from := strings.TrimSpace(c.QueryParam("from"))
	to := strings.TrimSpace(c.QueryParam("to"))
	if from == "" || to == "" {
		return h.err(c, http.StatusBadRequest, "invalid pair", map[string]any{"from": "required", "to": "required"})
	}
	return c.JSON(http.StatusOK, map[string]any{"items": h.Book.GetOrders(from, to)})
}

func (h *Handlers) GetOrder(c echo.Context) error {
	o, err := h.Book.Get(c.Param("id"))
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// MatchOrder tries to pair an existing order with a counter order.
// A 200 with a null match means nothing was eligible.
func (h *Handlers) MatchOrder(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	match, err := h.Book.MatchOrder(ctx, id)
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, MatchResponse{OrderID: id, Match: match})
}

func (h *Handlers) CancelOrder(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Book.CancelOrder(ctx, c.Param("id"))
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handlers) CompleteOrder(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	o, err := h.Book.CompleteOrder(ctx, c.Param("id"))
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

// HaltsList returns every active trading halt
func (h *Handlers) HaltsList(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Halts.List(ctx)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to list halts", nil)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// HaltsGet returns one active halt
func (h *Handlers) HaltsGet(c echo.Context) error {
	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Halts.Get(ctx, c.Param("key"))
	if err != nil {
		return h.domainErr(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// HaltsPut halts a ticker or a pair ("FROM:TO")
func (h *Handlers) HaltsPut(c echo.Context) error {
	key := c.Param("key")
	if err := halts.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}
	var req HaltRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out, err := h.Halts.Halt(ctx, key, strings.TrimSpace(req.Reason))
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to set halt", nil)
	}

	h.Logger.WithFields(logrus.Fields{"key": key, "reason": out.Reason}).Warn("trading halted")
	return c.JSON(http.StatusOK, out)
}

// HaltsDelete resumes trading. Returns 204 No Content even if no halt existed.
func (h *Handlers) HaltsDelete(c echo.Context) error {
	key := c.Param("key")
	if err := halts.ValidateKey(key); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid key", map[string]any{"key": "invalid format"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	if err := h.Halts.Resume(ctx, key); err != nil {
		return h.err(c, http.StatusInternalServerError, "failed to resume trading", nil)
	}
	h.Logger.WithField("key", key).Info("trading resumed")
	return c.NoContent(http.StatusNoContent)
}

// AIAsk processes natural language questions about archived orders using AI
// Supports optional model override for one-off requests
func (h *Handlers) AIAsk(c echo.Context) error {
	if h.AI == nil {
		return h.err(c, http.StatusBadRequest, "ai is not configured", nil)
	}

	var req AIAskRequest
	if err := c.Bind(&req); err != nil {
		return h.err(c, http.StatusBadRequest, "invalid json", nil)
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return h.err(c, http.StatusBadRequest, "question is required", map[string]any{"question": "required"})
	}

	ctx, cancel := h.withTimeout(c.Request().Context(), 45*time.Second)
	defer cancel()

	start := time.Now()

	agent := h.AI
	if m := strings.TrimSpace(req.Model); m != "" {
		cfg := h.AIBaseConfig
		cfg.Model = m
		tmp, err := ai.NewAgent(ctx, cfg)
		if err != nil {
			return h.err(c, http.StatusInternalServerError, "failed to create ai agent", nil)
		}
		agent = tmp
		defer func() {
			_ = tmp.Close()
		}()
	}

	res, err := agent.Ask(ctx, req.Question)
	if err != nil {
		return h.err(c, http.StatusInternalServerError, "ai ask failed", map[string]any{"err": err.Error()})
	}

	return c.JSON(http.StatusOK, AIAskResponse{SQL: res.SQL, Rows: res.Rows, Answer: res.Answer, TookMs: time.Since(start).Milliseconds()})
}

func splitCSVQuery(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
