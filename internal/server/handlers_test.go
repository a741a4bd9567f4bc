package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/halts"
	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/orderbook"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrices struct {
	snaps map[string]*models.PriceSnapshot
}

func (f *fakePrices) GetTokenInfo(_ context.Context, ticker string) (*models.PriceSnapshot, bool) {
	s, ok := f.snaps[ticker]
	return s, ok
}

func (f *fakePrices) GetPrices(_ context.Context, tickers []string) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range tickers {
		if s, ok := f.snaps[t]; ok && s.PriceInUSD > 0 {
			out[t] = s.PriceInUSD
		}
	}
	return out
}

type fakeCatalog struct {
	mu          sync.Mutex
	lastPage    int
	lastExclude []string
}

func (f *fakeCatalog) ListTokens(_ context.Context, page int, exclude []string) models.TokenPage {
	f.mu.Lock()
	f.lastPage, f.lastExclude = page, exclude
	f.mu.Unlock()
	return models.TokenPage{
		Page:    page,
		Tokens:  []models.CatalogToken{{Symbol: "NACHO", Name: "Nacho", Decimals: 8, PriceInUSD: 0.5}},
		HasMore: true,
	}
}

func (f *fakeCatalog) last() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPage, f.lastExclude
}

func (f *fakeCatalog) GetTokensInfo(_ context.Context, tickers []string) []models.CatalogToken {
	out := make([]models.CatalogToken, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, models.CatalogToken{Symbol: t, Name: t, Decimals: 8})
	}
	return out
}

// memHalts mirrors halts.Store without Redis.
type memHalts struct {
	mu       sync.Mutex
	m        map[string]*halts.Halt
	checkErr error
}

func newMemHalts() *memHalts {
	return &memHalts{m: make(map[string]*halts.Halt)}
}

func (s *memHalts) Halt(_ context.Context, key, reason string) (*halts.Halt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &halts.Halt{Key: key, Reason: reason, CreatedAt: time.Now().UTC()}
	s.m[key] = h
	return h, nil
}

func (s *memHalts) List(_ context.Context) ([]*halts.Halt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*halts.Halt, 0, len(s.m))
	for _, h := range s.m {
		out = append(out, h)
	}
	return out, nil
}

func (s *memHalts) Get(_ context.Context, key string) (*halts.Halt, error) {
	if err := halts.ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.m[key]
	if !ok {
		return nil, halts.ErrNotFound
	}
	return h, nil
}

func (s *memHalts) Resume(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memHalts) Check(_ context.Context, from, to string) (*halts.Halt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		return nil, s.checkErr
	}
	for _, k := range []string{from, to, halts.PairKey(from, to), halts.PairKey(to, from)} {
		if h, ok := s.m[k]; ok {
			return h, nil
		}
	}
	return nil, nil
}

type testEnv struct {
	ts      *httptest.Server
	book    *orderbook.Book
	hub     *Hub
	halts   *memHalts
	catalog *fakeCatalog
	apiKey  string
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	prices := &fakePrices{snaps: map[string]*models.PriceSnapshot{
		"NACHO": {Ticker: "NACHO", PriceInUSD: 0.5, FloorPrice: 4, Decimals: 8},
		"KASPY": {Ticker: "KASPY", PriceInUSD: 2, FloorPrice: 16, Decimals: 8},
		"DEAD":  {Ticker: "DEAD", Decimals: 8},
	}}

	hub := NewHub(logger)
	book := orderbook.NewBook(orderbook.Config{TTL: time.Minute, Publisher: hub, Logger: logger})
	engine, err := swapengine.NewEngine(swapengine.Config{Prices: prices, Book: book, Logger: logger})
	require.NoError(t, err)

	env := &testEnv{book: book, hub: hub, halts: newMemHalts(), catalog: &fakeCatalog{}, apiKey: apiKey}

	srv, err := NewServer(ServerDeps{
		Handlers: &Handlers{
			Prices:  prices,
			Catalog: env.catalog,
			Book:    book,
			Engine:  engine,
			Hub:     hub,
			Halts:   env.halts,
			DevMode: true,
			Logger:  logger,
		},
		Config: ServerConfig{DevMode: true, APIKey: apiKey},
	})
	require.NoError(t, err)

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		env.ts.Close()
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, expectedStatus int) *http.Response {
	t.Helper()
	return e.doURL(t, method, e.ts.URL+path, body, expectedStatus)
}

func (e *testEnv) doURL(t *testing.T, method, url string, body any, expectedStatus int) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, expectedStatus, resp.StatusCode, "%s %s", method, url)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func orderReq(maker, from, to string) models.OrderRequest {
	return models.OrderRequest{
		Maker:      maker,
		FromToken:  from,
		ToToken:    to,
		FromAmount: "100",
		ToAmount:   "25",
		Signature:  "sig-" + maker,
		PublicKey:  "pk-" + maker,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodGet, "/v1/health", nil, http.StatusOK)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	out := decode[HealthResponse](t, resp)
	assert.True(t, out.OK)
	assert.Equal(t, 0, out.Orders)
}

func TestPrice(t *testing.T) {
	env := newTestEnv(t, "")

	snap := decode[models.PriceSnapshot](t, env.do(t, http.MethodGet, "/v1/prices/NACHO", nil, http.StatusOK))
	assert.Equal(t, "NACHO", snap.Ticker)
	assert.Equal(t, 0.5, snap.PriceInUSD)

	// tickers are not normalized
	errResp := decode[ErrorResponse](t, env.do(t, http.MethodGet, "/v1/prices/nacho", nil, http.StatusNotFound))
	assert.Equal(t, "price unavailable", errResp.Error)
}

func TestPrices(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(t, http.MethodGet, "/v1/prices", nil, http.StatusBadRequest)

	out := decode[PricesResponse](t, env.do(t, http.MethodGet, "/v1/prices?tickers=NACHO,KASPY,DEAD,MISSING", nil, http.StatusOK))
	assert.Equal(t, map[string]float64{"NACHO": 0.5, "KASPY": 2}, out.Prices)
}

func TestTokens(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(t, http.MethodGet, "/v1/tokens?page=abc", nil, http.StatusBadRequest)
	env.do(t, http.MethodGet, "/v1/tokens?page=0", nil, http.StatusBadRequest)

	page := decode[models.TokenPage](t, env.do(t, http.MethodGet, "/v1/tokens?page=2&exclude=KAS,NACHO", nil, http.StatusOK))
	assert.Equal(t, 2, page.Page)
	assert.True(t, page.HasMore)
	_, exclude := env.catalog.last()
	assert.Equal(t, []string{"KAS", "NACHO"}, exclude)

	page = decode[models.TokenPage](t, env.do(t, http.MethodGet, "/v1/tokens", nil, http.StatusOK))
	assert.Equal(t, 1, page.Page)
	p, _ := env.catalog.last()
	assert.Equal(t, 1, p)
}

func TestTokensInfo(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(t, http.MethodPost, "/v1/tokens/info", TokensInfoRequest{}, http.StatusBadRequest)

	out := decode[struct {
		Items []models.CatalogToken `json:"items"`
	}](t, env.do(t, http.MethodPost, "/v1/tokens/info", TokensInfoRequest{Tickers: []string{"KASPY", "NACHO"}}, http.StatusOK))
	require.Len(t, out.Items, 2)
	assert.Equal(t, "KASPY", out.Items[0].Symbol)
	assert.Equal(t, "NACHO", out.Items[1].Symbol)
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t, "")

	q := decode[swapengine.QuoteResult](t, env.do(t, http.MethodGet, "/v1/quote?from=NACHO&to=KASPY&amount=100", nil, http.StatusOK))
	assert.Equal(t, "25", q.EstimatedAmount)
	assert.Equal(t, swapengine.BasisUSD, q.Basis)

	env.do(t, http.MethodGet, "/v1/quote?from=NACHO&to=KASPY", nil, http.StatusBadRequest)
	env.do(t, http.MethodGet, "/v1/quote?from=NACHO&to=KASPY&amount=-1", nil, http.StatusBadRequest)
	env.do(t, http.MethodGet, "/v1/quote?from=NACHO&to=NACHO&amount=1", nil, http.StatusBadRequest)
	env.do(t, http.MethodGet, "/v1/quote?from=NACHO&to=DEAD&amount=1", nil, http.StatusNotFound)
}

func TestOrders_CreateMatchComplete(t *testing.T) {
	env := newTestEnv(t, "")

	first := decode[swapengine.PlaceResult](t, env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "B"), http.StatusCreated))
	require.NotNil(t, first.Order)
	assert.Equal(t, models.OrderStatusPending, first.Order.Status)
	assert.Nil(t, first.Match)
	assert.True(t, first.Order.ExpiresAt.After(first.Order.CreatedAt))

	listed := decode[struct {
		Items []models.SwapOrder `json:"items"`
	}](t, env.do(t, http.MethodGet, "/v1/orders?from=A&to=B", nil, http.StatusOK))
	require.Len(t, listed.Items, 1)
	assert.Equal(t, first.Order.OrderID, listed.Items[0].OrderID)

	second := decode[swapengine.PlaceResult](t, env.do(t, http.MethodPost, "/v1/orders", orderReq("bob", "B", "A"), http.StatusCreated))
	require.NotNil(t, second.Match)
	assert.Equal(t, first.Order.OrderID, second.Match.OrderID)
	assert.Equal(t, models.OrderStatusMatched, second.Order.Status)

	got := decode[models.SwapOrder](t, env.do(t, http.MethodGet, "/v1/orders/"+first.Order.OrderID, nil, http.StatusOK))
	assert.Equal(t, models.OrderStatusMatched, got.Status)
	assert.Equal(t, second.Order.OrderID, got.MatchedWith)

	done := decode[models.SwapOrder](t, env.do(t, http.MethodPost, "/v1/orders/"+first.Order.OrderID+"/complete", nil, http.StatusOK))
	assert.Equal(t, models.OrderStatusCompleted, done.Status)

	env.do(t, http.MethodPost, "/v1/orders/"+first.Order.OrderID+"/cancel", nil, http.StatusConflict)
	env.do(t, http.MethodPost, "/v1/orders/"+second.Order.OrderID+"/complete", nil, http.StatusConflict)
}

func TestOrders_Validation(t *testing.T) {
	env := newTestEnv(t, "")

	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "A"), http.StatusBadRequest)
	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "", "B"), http.StatusBadRequest)

	bad := orderReq("alice", "A", "B")
	bad.FromAmount = "lots"
	env.do(t, http.MethodPost, "/v1/orders", bad, http.StatusBadRequest)

	env.do(t, http.MethodGet, "/v1/orders?from=A", nil, http.StatusBadRequest)
	env.do(t, http.MethodGet, "/v1/orders/nope", nil, http.StatusNotFound)
	env.do(t, http.MethodPost, "/v1/orders/nope/match", nil, http.StatusNotFound)
	env.do(t, http.MethodPost, "/v1/orders/nope/cancel", nil, http.StatusNotFound)

	assert.Equal(t, 0, env.book.Len())
}

func TestOrders_MatchWithoutCounterAndCancel(t *testing.T) {
	env := newTestEnv(t, "")

	placed := decode[swapengine.PlaceResult](t, env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "B"), http.StatusCreated))
	id := placed.Order.OrderID

	m := decode[MatchResponse](t, env.do(t, http.MethodPost, "/v1/orders/"+id+"/match", nil, http.StatusOK))
	assert.Equal(t, id, m.OrderID)
	assert.Nil(t, m.Match)

	cancelled := decode[models.SwapOrder](t, env.do(t, http.MethodPost, "/v1/orders/"+id+"/cancel", nil, http.StatusOK))
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	env.do(t, http.MethodPost, "/v1/orders/"+id+"/cancel", nil, http.StatusConflict)
}

func TestHalts_BlockNewOrders(t *testing.T) {
	env := newTestEnv(t, "")

	h := decode[halts.Halt](t, env.do(t, http.MethodPut, "/v1/halts/KASPY:NACHO", HaltRequest{Reason: " upgrade "}, http.StatusOK))
	assert.Equal(t, "upgrade", h.Reason)

	blocked := decode[HaltedResponse](t, env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "NACHO", "KASPY"), http.StatusConflict))
	require.NotNil(t, blocked.Halt)
	assert.Equal(t, "KASPY:NACHO", blocked.Halt.Key)
	assert.Equal(t, 0, env.book.Len())

	// unrelated pairs still trade
	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "NACHO", "BURT"), http.StatusCreated)

	list := decode[struct {
		Items []halts.Halt `json:"items"`
	}](t, env.do(t, http.MethodGet, "/v1/halts", nil, http.StatusOK))
	assert.Len(t, list.Items, 1)

	got := decode[halts.Halt](t, env.do(t, http.MethodGet, "/v1/halts/KASPY:NACHO", nil, http.StatusOK))
	assert.Equal(t, "upgrade", got.Reason)

	env.do(t, http.MethodDelete, "/v1/halts/KASPY:NACHO", nil, http.StatusNoContent)
	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "NACHO", "KASPY"), http.StatusCreated)

	missing := decode[ErrorResponse](t, env.do(t, http.MethodGet, "/v1/halts/KASPY:NACHO", nil, http.StatusNotFound))
	assert.Equal(t, "halt not found", missing.Error)

	env.do(t, http.MethodPut, "/v1/halts/bad!key", HaltRequest{}, http.StatusBadRequest)
}

func TestHalts_CheckFailureRefusesOrder(t *testing.T) {
	env := newTestEnv(t, "")
	env.halts.mu.Lock()
	env.halts.checkErr = errors.New("redis down")
	env.halts.mu.Unlock()

	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "B"), http.StatusServiceUnavailable)
	assert.Equal(t, 0, env.book.Len())
}

func TestAIAsk_NotConfigured(t *testing.T) {
	env := newTestEnv(t, "")

	errResp := decode[ErrorResponse](t, env.do(t, http.MethodPost, "/v1/ai/ask", AIAskRequest{Question: "volume?"}, http.StatusBadRequest))
	assert.Equal(t, "ai is not configured", errResp.Error)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, "")

	errResp := decode[ErrorResponse](t, env.do(t, http.MethodGet, "/v1/nonexistent", nil, http.StatusNotFound))
	assert.Equal(t, "not found", errResp.Error)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, "secret")

	env.do(t, http.MethodGet, "/v1/health", nil, http.StatusOK)

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, env.ts.URL+"/v1/health", nil)
	require.NoError(t, err)
	resp2, err := env.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp2.StatusCode)
}

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebsocket_StreamsOrderEvents(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dialWS(t, env, "")
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	placed := decode[swapengine.PlaceResult](t, env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "B"), http.StatusCreated))

	msg := readWS(t, conn)
	assert.Equal(t, WSMessageOrder, msg.Type)
	require.NotNil(t, msg.Order)
	assert.Equal(t, models.OrderEventCreated, msg.Order.Type)
	assert.Equal(t, placed.Order.OrderID, msg.Order.Order.OrderID)

	health := decode[HealthResponse](t, env.do(t, http.MethodGet, "/v1/health", nil, http.StatusOK))
	assert.Equal(t, 1, health.WSClients)
}

func TestWebsocket_PairFilter(t *testing.T) {
	env := newTestEnv(t, "")
	conn := dialWS(t, env, "?pair=C/D")
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.do(t, http.MethodPost, "/v1/orders", orderReq("alice", "A", "B"), http.StatusCreated)
	require.NoError(t, env.hub.PublishPriceUpdate(context.Background(), &models.PriceUpdate{Ticker: "NACHO", PriceInUSD: 0.5}))

	msg := readWS(t, conn)
	assert.Equal(t, WSMessagePrice, msg.Type, "A/B order events are filtered out")
	require.NotNil(t, msg.Price)
	assert.Equal(t, "NACHO", msg.Price.Ticker)
}

func TestSplitCSVQuery(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, splitCSVQuery([]string{" A, ,B", "", "C"}))
	assert.Nil(t, splitCSVQuery(nil))
}
