package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aman-zulfiqar/krc20-swap/internal/models"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
)

// Client talks to a running swap API. It satisfies swapengine.OrderPlacer,
// so a local engine can quote and sign while the shared book lives remotely.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

var _ swapengine.OrderPlacer = (*Client)(nil)

func NewClient(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(apiKey),
		HTTP: &http.Client{
			Timeout: 12 * time.Second,
		},
	}
}

// HTTPError carries a non-2xx response. Message is the API's "error" field
// when the body is a JSON error.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("swap api http %d: %s", e.StatusCode, e.Message)
	}
	b := strings.TrimSpace(string(e.Body))
	if b == "" {
		return fmt.Sprintf("swap api http %d", e.StatusCode)
	}
	return fmt.Sprintf("swap api http %d: %s", e.StatusCode, b)
}

func (c *Client) Quote(ctx context.Context, from, to, amount string) (*swapengine.QuoteResult, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("amount", amount)

	var out swapengine.QuoteResult
	if err := c.do(ctx, http.MethodGet, "/v1/quote?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder posts a signed order. The server tries to match it at once, so
// the returned order may already be matched.
func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.SwapOrder, error) {
	var out swapengine.PlaceResult
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return nil, err
	}
	if out.Order == nil {
		return nil, fmt.Errorf("swap api returned no order")
	}
	return out.Order, nil
}

func (c *Client) MatchOrder(ctx context.Context, id string) (*models.SwapOrder, error) {
	var out struct {
		Match *models.SwapOrder `json:"match"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(id)+"/match", nil, &out); err != nil {
		return nil, err
	}
	return out.Match, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (*models.SwapOrder, error) {
	var out models.SwapOrder
	if err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListOrders(ctx context.Context, from, to string) ([]models.SwapOrder, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)

	var out struct {
		Items []models.SwapOrder `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/orders?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("accept", "application/json")
	if in != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	if c.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.APIKey)
	}

	res, err := c.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		herr := &HTTPError{StatusCode: res.StatusCode, Body: raw}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil {
			herr.Message = e.Error
		}
		return herr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode swap api response: %w", err)
	}
	return nil
}
