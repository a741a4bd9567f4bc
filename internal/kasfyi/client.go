package kasfyi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/constants"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client talks to the KRC20 price/catalog API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	maxRetries   int
	retryBackoff time.Duration
	logger       *logrus.Logger
}

// ClientConfig holds configuration for the API client
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RPS          float64
	Burst        int
	HTTPClient   *http.Client
	Logger       *logrus.Logger
}

func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = constants.DefaultKasFyiBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:      baseURL,
		httpClient:   httpClient,
		limiter:      limiter,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
	}
}

type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("kasfyi http %d", e.StatusCode)
	}
	if len(b) > 256 {
		b = b[:256]
	}
	return fmt.Sprintf("kasfyi http %d: %s", e.StatusCode, b)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TokenInfo fetches price and market data for one ticker.
func (c *Client) TokenInfo(ctx context.Context, ticker string) (*TokenInfoResponse, error) {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	u := c.baseURL + constants.KRC20Path + "/" + url.PathEscape(ticker) + "/info"

	var out TokenInfoResponse
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("token info %s: %w", ticker, err)
	}
	if out.Ticker == "" {
		out.Ticker = ticker
	}
	return &out, nil
}

// Tokens fetches one page of the token catalog.
func (c *Client) Tokens(ctx context.Context, limit, offset int) (*TokenListResponse, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u := c.baseURL + constants.KRC20Path + "/tokens?" + q.Encode()

	var out TokenListResponse
	if err := c.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("token list: %w", err)
	}
	if out.Results == nil {
		return nil, fmt.Errorf("token list: missing results array")
	}
	return &out, nil
}

// get performs a GET with retry on transport errors, 429 and 5xx.
func (c *Client) get(ctx context.Context, u string, out any) error {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff,
				"url":     u,
			}).Debug("retrying upstream call")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.doRequest(ctx, u)
		if err != nil {
			var he *HTTPError
			if errors.As(err, &he) && !he.Retryable() {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: body}
	}
	return body, nil
}
