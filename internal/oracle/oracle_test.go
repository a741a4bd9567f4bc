package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/cache"
	"github.com/aman-zulfiqar/krc20-swap/internal/kasfyi"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	prices map[string]float64
	delay  time.Duration
}

func newFakeFetcher(prices map[string]float64) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), prices: prices}
}

func (f *fakeFetcher) TokenInfo(ctx context.Context, ticker string) (*kasfyi.TokenInfoResponse, error) {
	f.mu.Lock()
	f.calls[ticker]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	p, ok := f.prices[ticker]
	if !ok {
		return nil, &kasfyi.HTTPError{StatusCode: http.StatusNotFound, Body: []byte("not found")}
	}
	var resp kasfyi.TokenInfoResponse
	body := fmt.Sprintf(`{"ticker":%q,"decimal":8,"price":{"priceInUsd":%g}}`, ticker, p)
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeFetcher) count(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ticker]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestOracle(t *testing.T, f InfoFetcher, now func() time.Time) *Oracle {
	t.Helper()
	o, err := New(Config{
		Fetcher: f,
		Cache:   cache.NewMemoryPriceCache(cache.MemoryConfig{TTL: 30 * time.Second, Now: now}),
		Logger:  quietLogger(),
		Now:     now,
	})
	require.NoError(t, err)
	return o
}

func TestNew_RequiresFetcher(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestGetPrice_CachesWithinTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFakeFetcher(map[string]float64{"NACHO": 0.25})
	o := newTestOracle(t, f, clock)
	ctx := context.Background()

	p, ok := o.GetPrice(ctx, "NACHO")
	require.True(t, ok)
	assert.Equal(t, 0.25, p)

	now = now.Add(29 * time.Second)
	_, ok = o.GetPrice(ctx, "NACHO")
	require.True(t, ok)
	assert.Equal(t, 1, f.count("NACHO"))

	now = now.Add(time.Second)
	_, ok = o.GetPrice(ctx, "NACHO")
	require.True(t, ok)
	assert.Equal(t, 2, f.count("NACHO"), "stale entry triggers a refetch")
}

func TestGetPrice_FailureIsAbsent(t *testing.T) {
	o := newTestOracle(t, newFakeFetcher(nil), time.Now)

	p, ok := o.GetPrice(context.Background(), "MISSING")
	assert.False(t, ok)
	assert.Zero(t, p)

	_, ok = o.GetTokenInfo(context.Background(), "")
	assert.False(t, ok)
}

func TestGetPrice_ZeroIsAbsent(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"DUST": 0})
	o := newTestOracle(t, f, time.Now)

	_, ok := o.GetPrice(context.Background(), "DUST")
	assert.False(t, ok)

	snap, ok := o.GetTokenInfo(context.Background(), "DUST")
	require.True(t, ok, "snapshot still exists, just unpriced")
	assert.Zero(t, snap.PriceInUSD)
}

func TestGetPrices_OneFetchPerTicker(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"A": 1, "B": 2})
	f.delay = 20 * time.Millisecond
	o := newTestOracle(t, f, time.Now)

	got := o.GetPrices(context.Background(), []string{"A", "B", "A", "C", "B", "A"})

	assert.Equal(t, map[string]float64{"A": 1, "B": 2}, got)
	assert.Equal(t, 1, f.count("A"))
	assert.Equal(t, 1, f.count("B"))
	assert.Equal(t, 1, f.count("C"))
	_, hasC := got["C"]
	assert.False(t, hasC, "failed tickers are omitted, not zero")
}

func TestGetPrices_Empty(t *testing.T) {
	o := newTestOracle(t, newFakeFetcher(nil), time.Now)
	assert.Empty(t, o.GetPrices(context.Background(), nil))
}

func TestGetTokenInfo_ConcurrentMissesShareFetch(t *testing.T) {
	f := newFakeFetcher(map[string]float64{"A": 1})
	f.delay = 50 * time.Millisecond
	o := newTestOracle(t, f, time.Now)

	var wg sync.WaitGroup
	var okCount int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := o.GetTokenInfo(context.Background(), "A"); ok {
				atomic.AddInt32(&okCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), okCount)
	assert.Equal(t, 1, f.count("A"))
}

func TestGetTokenInfo_AgainstHTTPUpstream(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/token/krc20/NACHO/info" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ticker":"NACHO","decimal":8,"price":{"floorPrice":0.002},"marketsData":[{"marketData":{"priceInUsd":0.0001}},{"marketData":{"priceInUsd":0.0003}}]}`))
	}))
	defer srv.Close()

	client := kasfyi.NewClient(kasfyi.ClientConfig{BaseURL: srv.URL, MaxRetries: 0, Logger: quietLogger()})
	o := newTestOracle(t, client, time.Now)

	snap, ok := o.GetTokenInfo(context.Background(), "NACHO")
	require.True(t, ok)
	assert.InDelta(t, 0.0002, snap.PriceInUSD, 1e-12)
	assert.Equal(t, 0.002, snap.FloorPrice)
	assert.Equal(t, 2, snap.Sources)

	_, ok = o.GetTokenInfo(context.Background(), "NACHO")
	require.True(t, ok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, ok = o.GetPrice(context.Background(), "OTHER")
	assert.False(t, ok)
}

func TestCalculateUSDValue(t *testing.T) {
	assert.Equal(t, 1.5, CalculateUSDValue("100000000", 1.5, 8))
	assert.Equal(t, 0.75, CalculateUSDValue("50000000", 1.5, 8))
	assert.Equal(t, 3.0, CalculateUSDValue("3", 1, 0))
	assert.Zero(t, CalculateUSDValue("abc", 1.5, 8))
	assert.Zero(t, CalculateUSDValue("", 1.5, 8))
	assert.Zero(t, CalculateUSDValue("100", 1.5, -1))
}

func TestFetcherErrorIsLoggedNotReturned(t *testing.T) {
	o := newTestOracle(t, fetcherFunc(func(ctx context.Context, ticker string) (*kasfyi.TokenInfoResponse, error) {
		return nil, errors.New("boom")
	}), time.Now)

	_, ok := o.GetTokenInfo(context.Background(), "X")
	assert.False(t, ok)
}

type fetcherFunc func(ctx context.Context, ticker string) (*kasfyi.TokenInfoResponse, error)

func (f fetcherFunc) TokenInfo(ctx context.Context, ticker string) (*kasfyi.TokenInfoResponse, error) {
	return f(ctx, ticker)
}
