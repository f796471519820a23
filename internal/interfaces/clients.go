// Package interfaces defines service contracts for Verso
package interfaces

import (
	"context"

	"github.com/versofin/verso/internal/models"
)

// PlaidClient normalizes the US-style aggregator's auth flow and holdings
// payload. Link confirmation is synchronous: ExchangePublicToken returns the
// durable connection handle directly.
type PlaidClient interface {
	// CreateLinkToken requests a short-lived, single-use credential-collection
	// token. Fails with a ProviderUnavailable error if the upstream service
	// errors; callers retry with backoff rather than reusing a stale token.
	CreateLinkToken(ctx context.Context, userID string) (string, error)

	// ExchangePublicToken exchanges a just-collected credential artifact for a
	// durable connection handle. Fails with a ProviderAuthError if the
	// artifact is invalid or expired.
	ExchangePublicToken(ctx context.Context, userID, publicToken string, inst models.Institution) (string, error)

	// GetInvestments pulls current positions as a flat normalized list.
	// Fails with ProviderAuthError (handle revoked: requires re-link) or
	// ProviderTransientError (rate limit / timeout: retryable).
	GetInvestments(ctx context.Context, userID, connectionHandle string) ([]*models.ProviderHolding, error)
}

// TinkClient normalizes the Europe-style aggregator. Two structural
// asymmetries vs Plaid: link creation is market-scoped, and credential
// collection happens out-of-band: CreateLink returns an external
// authorization URL and control immediately; completion is detected only
// when a later GetInvestments succeeds.
type TinkClient interface {
	// CreateLink opens a link session for the chosen market and returns the
	// external authorization URL plus the session id used as the pending
	// connection handle.
	CreateLink(ctx context.Context, userID, market string) (*models.TinkLink, error)

	// GetInvestments pulls current positions for a session. A success
	// implicitly confirms the out-of-band link completed.
	GetInvestments(ctx context.Context, userID, sessionID string) ([]*models.ProviderHolding, error)
}

// StockDataClient provides access to the stock/financials data API. It is
// consumed only to price holdings and resolve an asset's native trading
// currency; its internals are out of scope.
type StockDataClient interface {
	// GetStock retrieves the full stock payload for a ticker.
	GetStock(ctx context.Context, ticker string) (*models.StockData, error)

	// GetForexRates retrieves current rates for currency pairs expressed as
	// "FROM/TO" (e.g. "USD/EUR"). Pairs the upstream cannot quote are absent
	// from the result.
	GetForexRates(ctx context.Context, pairs []string) (map[string]float64, error)
}
