// Package plaid provides a client for the Plaid API
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

const (
	DefaultBaseURL   = "https://sandbox.plaid.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
)

// Client implements the PlaidClient interface
type Client struct {
	baseURL    string
	clientID   string
	secret     string
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

// NewClient creates a new Plaid client
func NewClient(clientID, secret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
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

// apiError is the error envelope Plaid returns on non-200 responses.
type apiError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// classify maps a Plaid error envelope to the shared provider error taxonomy.
func classify(statusCode int, e apiError) *models.ProviderError {
	kind := models.ProviderUnavailable
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = models.ProviderAuthError
	case e.ErrorCode == "ITEM_LOGIN_REQUIRED" || e.ErrorCode == "INVALID_ACCESS_TOKEN" || e.ErrorCode == "INVALID_PUBLIC_TOKEN":
		kind = models.ProviderAuthError
	case statusCode == http.StatusTooManyRequests || e.ErrorType == "RATE_LIMIT_EXCEEDED":
		kind = models.ProviderTransientError
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		kind = models.ProviderTransientError
	}

	msg := e.ErrorMessage
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &models.ProviderError{
		Provider:   models.ProviderPlaid,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    msg,
	}
}

// post performs a rate-limited POST request with the client credentials
// injected into the body, as Plaid expects.
func (c *Client) post(ctx context.Context, path string, body map[string]any, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	body["client_id"] = c.clientID
	body["secret"] = c.secret

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("url", path).Msg("Plaid API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures (timeouts included) are retryable.
		kind := models.ProviderTransientError
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("request canceled: %w", err)
		}
		return &models.ProviderError{
			Provider: models.ProviderPlaid,
			Kind:     kind,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var e apiError
		_ = json.Unmarshal(raw, &e)
		perr := classify(resp.StatusCode, e)
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_code", e.ErrorCode).
			Str("endpoint", path).
			Msg("Plaid API error")
		return perr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// CreateLinkToken requests a short-lived, single-use link token for the
// credential-collection modal.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	var resp struct {
		LinkToken  string `json:"link_token"`
		Expiration string `json:"expiration"`
	}

	body := map[string]any{
		"user":          map[string]string{"client_user_id": userID},
		"client_name":   "Verso",
		"products":      []string{"investments"},
		"country_codes": []string{"US"},
		"language":      "en",
	}

	if err := c.post(ctx, "/link/token/create", body, &resp); err != nil {
		return "", err
	}
	if resp.LinkToken == "" {
		return "", &models.ProviderError{
			Provider: models.ProviderPlaid,
			Kind:     models.ProviderUnavailable,
			Message:  "empty link token in response",
		}
	}

	return resp.LinkToken, nil
}

// ExchangePublicToken exchanges a public token from the Link modal for the
// durable access token that serves as the connection handle.
func (c *Client) ExchangePublicToken(ctx context.Context, userID, publicToken string, inst models.Institution) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ItemID      string `json:"item_id"`
	}

	body := map[string]any{
		"public_token": publicToken,
	}

	if err := c.post(ctx, "/item/public_token/exchange", body, &resp); err != nil {
		return "", err
	}

	c.logger.Info().
		Str("user_id", userID).
		Str("institution", inst.Name).
		Str("item_id", resp.ItemID).
		Msg("Plaid token exchanged")

	return resp.AccessToken, nil
}

// GetInvestments pulls current investment positions and joins the holdings
// and securities arrays into the flat normalized shape.
func (c *Client) GetInvestments(ctx context.Context, userID, connectionHandle string) ([]*models.ProviderHolding, error) {
	var resp struct {
		Holdings []struct {
			SecurityID       string   `json:"security_id"`
			Quantity         float64  `json:"quantity"`
			CostBasis        *float64 `json:"cost_basis"`
			InstitutionPrice float64  `json:"institution_price"`
			ISOCurrencyCode  string   `json:"iso_currency_code"`
		} `json:"holdings"`
		Securities []struct {
			SecurityID      string `json:"security_id"`
			TickerSymbol    string `json:"ticker_symbol"`
			Name            string `json:"name"`
			ISOCurrencyCode string `json:"iso_currency_code"`
		} `json:"securities"`
	}

	body := map[string]any{
		"access_token": connectionHandle,
	}

	if err := c.post(ctx, "/investments/holdings/get", body, &resp); err != nil {
		return nil, err
	}

	securities := make(map[string]struct {
		ticker, name, currency string
	}, len(resp.Securities))
	for _, s := range resp.Securities {
		securities[s.SecurityID] = struct {
			ticker, name, currency string
		}{s.TickerSymbol, s.Name, s.ISOCurrencyCode}
	}

	holdings := make([]*models.ProviderHolding, 0, len(resp.Holdings))
	for _, h := range resp.Holdings {
		sec := securities[h.SecurityID]
		if sec.ticker == "" {
			c.logger.Warn().Str("security_id", h.SecurityID).Msg("Skipping holding with no ticker symbol")
			continue
		}
		if h.Quantity <= 0 {
			// Zero and removed positions are dropped; the orchestrator's
			// wholesale replace deletes them from the portfolio.
			continue
		}

		currency := h.ISOCurrencyCode
		if currency == "" {
			currency = sec.currency
		}

		var avgCost *float64
		if h.CostBasis != nil && h.Quantity > 0 {
			perUnit := *h.CostBasis / h.Quantity
			avgCost = &perUnit
		}

		holdings = append(holdings, &models.ProviderHolding{
			AssetID:  models.NormalizeAssetID(sec.ticker),
			Name:     sec.name,
			Quantity: h.Quantity,
			AvgCost:  avgCost,
			Price:    h.InstitutionPrice,
			Currency: currency,
		})
	}

	return holdings, nil
}

// Ensure Client implements PlaidClient
var _ interfaces.PlaidClient = (*Client)(nil)
