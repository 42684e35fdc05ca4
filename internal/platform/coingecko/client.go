// Package coingecko is a rate-gated client for the CoinGecko simple price API.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/coinpick/internal/domain"
)

const apiKeyHeader = "x-cg-demo-api-key"

// Client fetches USD prices. Calls are serialised: at most one request is in
// flight and consecutive requests start at least the cooldown apart. A 429 is
// retried exactly once after the rate-limit backoff.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	cooldown time.Duration
	backoff  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	lastStart time.Time
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a price client for baseURL, e.g.
// "https://api.coingecko.com/api/v3".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:   slog.Default(),
		cooldown: 6 * time.Second,
		backoff:  10 * time.Second,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey sends key in the demo API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit sets the minimum gap between request starts and the wait
// before the single retry on HTTP 429.
func WithRateLimit(cooldown, backoff time.Duration) Option {
	return func(c *Client) {
		c.cooldown = cooldown
		c.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the time source and the context-aware sleep used for
// the cooldown and backoff waits.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

// FetchPrices returns the USD price for each id the API could price. Ids
// missing from the response or carrying a non-numeric or non-positive price
// are omitted.
func (c *Client) FetchPrices(ctx context.Context, ids []string) (map[string]float64, error) {
	quotes, err := c.fetch(ctx, ids, false)
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64, len(quotes))
	for id, q := range quotes {
		prices[id] = q.Price
	}
	return prices, nil
}

// FetchQuotes is FetchPrices with the 24h change included where reported.
func (c *Client) FetchQuotes(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	return c.fetch(ctx, ids, true)
}

func (c *Client) fetch(ctx context.Context, ids []string, withChange bool) (map[string]domain.Quote, error) {
	if len(ids) == 0 {
		return map[string]domain.Quote{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	if withChange {
		params.Set("include_24hr_change", "true")
	}
	path := "/simple/price?" + params.Encode()

	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.doGetGated(ctx, path)
	if errors.Is(err, domain.ErrRateLimited) {
		c.logger.WarnContext(ctx, "coingecko: rate limited, retrying once",
			slog.Duration("backoff", c.backoff),
		)
		if werr := c.sleep(ctx, c.backoff); werr != nil {
			return nil, fmt.Errorf("coingecko: backoff: %w: %w", domain.ErrSourceUnavailable, werr)
		}
		body, err = c.doGetGated(ctx, path)
	}
	if err != nil {
		return nil, fmt.Errorf("coingecko: simple price: %w: %w", domain.ErrSourceUnavailable, err)
	}

	quotes, err := parseSimplePrice(body, ids)
	if err != nil {
		return nil, fmt.Errorf("coingecko: %w: %w", domain.ErrSourceUnavailable, err)
	}
	if len(quotes) < len(ids) {
		c.logger.DebugContext(ctx, "coingecko: partial price response",
			slog.Int("requested", len(ids)),
			slog.Int("priced", len(quotes)),
		)
	}
	return quotes, nil
}

// doGetGated waits out the cooldown then issues the request. Caller holds mu.
func (c *Client) doGetGated(ctx context.Context, path string) ([]byte, error) {
	if !c.lastStart.IsZero() {
		if wait := c.cooldown - c.now().Sub(c.lastStart); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("cooldown: %w", err)
			}
		}
	}
	c.lastStart = c.now()
	return c.doGet(ctx, path)
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// parseSimplePrice decodes {"bitcoin":{"usd":67000.1,"usd_24h_change":-1.2}}.
// Only requested ids with a positive numeric usd field are returned.
func parseSimplePrice(body []byte, ids []string) (map[string]domain.Quote, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode simple price: %w", err)
	}

	out := make(map[string]domain.Quote, len(ids))
	for _, id := range ids {
		fields, ok := raw[id]
		if !ok {
			continue
		}
		price, ok := fields["usd"].(float64)
		if !ok || price <= 0 {
			continue
		}
		q := domain.Quote{ID: id, Price: price}
		if ch, ok := fields["usd_24h_change"].(float64); ok {
			q.Change24h = &ch
		}
		out[id] = q
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ domain.QuoteSource = (*Client)(nil)
