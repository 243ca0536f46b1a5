// Package coingecko fetches USD spot prices from the CoinGecko API.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// Client implements source.PriceSource.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	apiKey  string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends a demo API key with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithRetry overrides the retry policy.
func WithRetry(retries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = retries
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: newRetryClient()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 15 * time.Second
	c.Logger = nil
	return c
}

// FetchUSD returns the USD price of every key the API knows. Unknown keys
// are absent from the result.
func (c *Client) FetchUSD(ctx context.Context, keys []string) (map[string]float64, error) {
	if len(keys) == 0 {
		return map[string]float64{}, nil
	}

	q := url.Values{}
	q.Set("ids", strings.Join(keys, ","))
	q.Set("vs_currencies", "usd")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simple/price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("simple/price: unexpected status code: %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD *float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode simple/price: %w", err)
	}

	out := make(map[string]float64, len(body))
	for id, quote := range body {
		if quote.USD != nil {
			out[id] = *quote.USD
		}
	}
	return out, nil
}
