// Package stockapi provides a client for the stock/financials data API.
// Verso consumes it only to price holdings, resolve an asset's native
// trading currency, and feed the FX rate table.
package stockapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

const (
	DefaultBaseURL   = "http://localhost:3000"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the StockDataClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new stock data client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stock API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", path).Msg("Stock API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// GetStock retrieves the full stock payload for a ticker.
func (c *Client) GetStock(ctx context.Context, ticker string) (*models.StockData, error) {
	var data models.StockData
	path := "/api/stock?ticker=" + url.QueryEscape(models.NormalizeAssetID(ticker))
	if err := c.get(ctx, path, &data); err != nil {
		return nil, err
	}
	data.FetchedAt = time.Now()
	return &data, nil
}

// GetForexRates retrieves current rates for "FROM/TO" currency pairs. Pairs
// the upstream cannot quote are absent from the result rather than erroring.
func (c *Client) GetForexRates(ctx context.Context, pairs []string) (map[string]float64, error) {
	var resp struct {
		Rates map[string]float64 `json:"rates"`
	}

	path := "/api/forex?pairs=" + url.QueryEscape(strings.Join(pairs, ","))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	return resp.Rates, nil
}

// Ensure Client implements StockDataClient
var _ interfaces.StockDataClient = (*Client)(nil)
