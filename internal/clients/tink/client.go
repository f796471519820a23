// Package tink provides a client for the Tink API.
//
// Tink differs structurally from Plaid: link creation is market-scoped, and
// credential collection is out-of-band. CreateLink returns an external
// authorization URL and control immediately; there is no synchronous link
// confirmation. A later successful GetInvestments is the only signal that
// the link completed, so the Linked state is inferred rather than confirmed.
package tink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	DefaultBaseURL   = "https://api.tink.com"
	DefaultLinkURL   = "https://link.tink.com/1.0/investments/connect"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client implements the TinkClient interface
type Client struct {
	baseURL     string
	linkURL     string
	clientID    string
	secret      string
	redirectURI string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the API base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLinkURL sets the external authorization URL base
func WithLinkURL(linkURL string) ClientOption {
	return func(c *Client) {
		c.linkURL = linkURL
	}
}

// WithRedirectURI sets the redirect URI registered with Tink
func WithRedirectURI(uri string) ClientOption {
	return func(c *Client) {
		c.redirectURI = uri
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

// NewClient creates a new Tink client
func NewClient(clientID, secret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		linkURL:  DefaultLinkURL,
		clientID: clientID,
		secret:   secret,
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

// apiError is the error envelope Tink returns on non-200 responses.
type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// classify maps an HTTP failure to the shared provider error taxonomy.
// A 404/409 on the investments endpoint means the out-of-band flow has not
// completed yet: retryable, not fatal.
func classify(statusCode int, e apiError) *models.ProviderError {
	kind := models.ProviderUnavailable
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = models.ProviderAuthError
	case statusCode == http.StatusNotFound || statusCode == http.StatusConflict:
		kind = models.ProviderTransientError
	case statusCode == http.StatusTooManyRequests:
		kind = models.ProviderTransientError
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		kind = models.ProviderTransientError
	}

	msg := e.ErrorMessage
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &models.ProviderError{
		Provider:   models.ProviderTink,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// do performs a rate-limited request with client-credential basic auth.
func (c *Client) do(ctx context.Context, method, path string, body any, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().Str("method", method).Str("url", path).Msg("Tink API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("request canceled: %w", err)
		}
		return &models.ProviderError{
			Provider: models.ProviderTink,
			Kind:     models.ProviderTransientError,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		var e apiError
		_ = json.Unmarshal(raw, &e)
		perr := classify(resp.StatusCode, e)
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_code", e.ErrorCode).
			Str("endpoint", path).
			Msg("Tink API error")
		return perr
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// CreateLink opens a link session for the chosen market and returns the
// external authorization URL. The session id becomes the pending connection
// handle; completion is detected only by a later successful GetInvestments.
func (c *Client) CreateLink(ctx context.Context, userID, market string) (*models.TinkLink, error) {
	market = strings.ToUpper(strings.TrimSpace(market))
	if !models.ValidTinkMarket(market) {
		return nil, fmt.Errorf("unsupported market %q", market)
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}

	body := map[string]any{
		"external_user_id": userID,
		"market":           market,
	}

	if err := c.do(ctx, http.MethodPost, "/link/v1/sessions", body, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, &models.ProviderError{
			Provider: models.ProviderTink,
			Kind:     models.ProviderUnavailable,
			Message:  "empty session id in response",
		}
	}

	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("market", market)
	q.Set("session_id", resp.SessionID)
	if c.redirectURI != "" {
		q.Set("redirect_uri", c.redirectURI)
	}

	return &models.TinkLink{
		AuthorizationURL: c.linkURL + "?" + q.Encode(),
		SessionID:        resp.SessionID,
	}, nil
}

// GetInvestments pulls current positions for a session. A success implicitly
// confirms the out-of-band link completed.
func (c *Client) GetInvestments(ctx context.Context, userID, sessionID string) ([]*models.ProviderHolding, error) {
	var resp struct {
		Portfolios []struct {
			ID          string `json:"id"`
			Instruments []struct {
				Ticker                  string   `json:"ticker"`
				ISIN                    string   `json:"isin"`
				Name                    string   `json:"name"`
				Quantity                float64  `json:"quantity"`
				AverageAcquisitionPrice *float64 `json:"averageAcquisitionPrice"`
				MarketPrice             float64  `json:"marketPrice"`
				Currency                string   `json:"currency"`
			} `json:"instruments"`
		} `json:"portfolios"`
	}

	path := "/data/v2/investments?session_id=" + url.QueryEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	var holdings []*models.ProviderHolding
	for _, p := range resp.Portfolios {
		for _, inst := range p.Instruments {
			assetID := inst.Ticker
			if assetID == "" {
				assetID = inst.ISIN
			}
			if assetID == "" {
				c.logger.Warn().Str("portfolio", p.ID).Msg("Skipping instrument with no identifier")
				continue
			}
			if inst.Quantity <= 0 {
				continue
			}

			holdings = append(holdings, &models.ProviderHolding{
				AssetID:  models.NormalizeAssetID(assetID),
				Name:     inst.Name,
				Quantity: inst.Quantity,
				AvgCost:  inst.AverageAcquisitionPrice,
				Price:    inst.MarketPrice,
				Currency: inst.Currency,
			})
		}
	}

	return holdings, nil
}

// Ensure Client implements TinkClient
var _ interfaces.TinkClient = (*Client)(nil)
