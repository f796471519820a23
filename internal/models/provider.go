package models

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies an external account-aggregation provider.
type Provider string

const (
	ProviderPlaid Provider = "plaid" // US-oriented aggregator, synchronous link confirmation
	ProviderTink  Provider = "tink"  // Europe-oriented aggregator, out-of-band link completion
)

// ParseProvider validates a provider name from request input.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderPlaid:
		return ProviderPlaid, nil
	case ProviderTink:
		return ProviderTink, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// TinkMarkets enumerates the market codes a user can link against. Tink's
// available institutions are market-scoped, so the market is chosen before
// link creation.
var TinkMarkets = []string{"SE", "NO", "DK", "FI", "DE", "FR", "NL", "BE", "ES", "IT", "PT", "GB", "IE", "AT", "PL", "EE", "LV", "LT"}

// ValidTinkMarket reports whether code is a linkable Tink market.
func ValidTinkMarket(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, m := range TinkMarkets {
		if m == code {
			return true
		}
	}
	return false
}

// ProviderErrorKind classifies provider failures for retry policy.
type ProviderErrorKind string

const (
	// ProviderUnavailable: upstream outage. Retry later, non-fatal.
	ProviderUnavailable ProviderErrorKind = "unavailable"
	// ProviderAuthError: credentials invalid or revoked. Forces the sync
	// state back toward NotConnected and requires a user re-link. Never
	// auto-retried.
	ProviderAuthError ProviderErrorKind = "auth"
	// ProviderTransientError: timeout or rate limit. Bounded automatic
	// retry with backoff.
	ProviderTransientError ProviderErrorKind = "transient"
)

// ProviderError is the typed error surface shared by both provider adapters.
type ProviderError struct {
	Provider   Provider
	Kind       ProviderErrorKind
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
}

// IsProviderAuth reports whether err is a provider auth failure.
func IsProviderAuth(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderAuthError
}

// IsProviderTransient reports whether err is a retryable provider failure.
func IsProviderTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderTransientError
}

// IsProviderUnavailable reports whether err is an upstream outage.
func IsProviderUnavailable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ProviderUnavailable
}

// Institution carries the metadata returned by Plaid Link when the user
// selects an institution during credential collection.
type Institution struct {
	ID   string `json:"institution_id"`
	Name string `json:"institution_name"`
}

// ProviderHolding is the flat normalized position shape every provider
// adapter returns from fetchInvestments.
type ProviderHolding struct {
	AssetID  string   `json:"asset_id"`
	Name     string   `json:"name,omitempty"`
	Quantity float64  `json:"quantity"`
	AvgCost  *float64 `json:"avg_cost,omitempty"`
	Price    float64  `json:"price"`
	Currency string   `json:"currency"`
}

// LinkRequest is the response to a link creation request. Exactly one of
// LinkToken (Plaid: collected in-process) or AuthorizationURL (Tink:
// completed out-of-band) is set.
type LinkRequest struct {
	Provider         Provider `json:"provider"`
	LinkToken        string   `json:"link_token,omitempty"`
	AuthorizationURL string   `json:"authorization_url,omitempty"`
	Market           string   `json:"market,omitempty"`
}

// TinkLink is the result of creating a Tink link session: the external
// authorization URL the user completes out-of-band, and the session id kept
// as the pending connection handle.
type TinkLink struct {
	AuthorizationURL string `json:"authorization_url"`
	SessionID        string `json:"session_id"`
}
