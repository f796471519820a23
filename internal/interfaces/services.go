package interfaces

import (
	"context"

	"github.com/versofin/verso/internal/models"
)

// FXService converts monetary amounts between currencies using a
// periodically refreshed rate table.
type FXService interface {
	// Convert converts amount from one currency to another. Identity when
	// the codes match. A missing rate returns the original amount with the
	// RateUnavailable advisory flag set instead of failing.
	Convert(amount float64, fromCurrency, toCurrency string) models.Conversion

	// ResolveAssetCurrency maps an asset to its native trading currency.
	// Consulted before any valuation conversion; treating all holdings as
	// USD-native is incorrect.
	ResolveAssetCurrency(ctx context.Context, assetID string) string

	// RefreshRates rebuilds the rate table from the upstream forex source.
	// Runs on a schedule independent of any single conversion call.
	RefreshRates(ctx context.Context) error
}

// PortfolioService manages portfolios, manual holdings, memberships, and
// valuation.
type PortfolioService interface {
	CreatePortfolio(ctx context.Context, userID, name, currency, description string) (*models.Portfolio, error)

	// GetPortfolio returns one portfolio with holdings valued in its display
	// currency. Accessible to the owner and accepted members.
	GetPortfolio(ctx context.Context, userID, portfolioID string) (*models.Portfolio, error)

	// ListUserPortfolios returns the deduplicated owned+member portfolio
	// list, each tagged with its access type and valued in its display
	// currency when includeHoldings is set.
	ListUserPortfolios(ctx context.Context, userID string, includeHoldings bool) ([]*models.Portfolio, error)

	// DeletePortfolio removes a portfolio and cascades to its holdings,
	// sync states, and memberships. Owner only.
	DeletePortfolio(ctx context.Context, userID, portfolioID string) error

	// Manual holdings. Provider syncs never touch these.
	AddManualHolding(ctx context.Context, userID, portfolioID string, h *models.Holding) (*models.Portfolio, error)
	UpdateManualHolding(ctx context.Context, userID, portfolioID, assetID string, quantity float64, avgCost *float64) (*models.Portfolio, error)
	DeleteManualHolding(ctx context.Context, userID, portfolioID, assetID string) error

	// Memberships: read-shared access without ownership.
	InviteMember(ctx context.Context, ownerID, portfolioID, email string) (*models.Membership, error)
	AcceptInvite(ctx context.Context, userID, portfolioID string) (*models.Membership, error)
}

// SyncService drives link creation, credential exchange, and holdings
// refresh per (portfolio, provider).
type SyncService interface {
	// RequestLink starts a link flow. For Plaid it returns a link token for
	// the in-process modal; for Tink it returns the external authorization
	// URL (market required). Either way the state moves to Connecting and
	// any previous connection handle for the pair is replaced.
	RequestLink(ctx context.Context, userID, portfolioID string, provider models.Provider, market string) (*models.LinkRequest, error)

	// CompleteLink exchanges a Plaid public token for the durable connection
	// handle and persists it against the pair's sync state in the same
	// logical operation (Connecting → Linked).
	CompleteLink(ctx context.Context, userID, portfolioID, publicToken string, inst models.Institution) (*models.SyncState, error)

	// CancelLink aborts an in-progress external flow
	// (Connecting → NotConnected).
	CancelLink(ctx context.Context, userID, portfolioID string, provider models.Provider) (*models.SyncState, error)

	// SyncPortfolio refreshes holdings from the provider. A second call for
	// the same pair while one is in flight is a no-op. On success the
	// provider's holdings are replaced wholesale (upsert by asset id); on
	// auth failure the state is forced back to NotConnected with a
	// reconnect-required signal; transient failures retry with bounded
	// exponential backoff before landing in Error.
	SyncPortfolio(ctx context.Context, userID, portfolioID string, provider models.Provider) (*models.SyncState, error)

	// SyncStates returns the per-provider states for a portfolio.
	SyncStates(ctx context.Context, userID, portfolioID string) ([]*models.SyncState, error)

	// SyncAllLinked refreshes every linked (portfolio, provider) pair. Used
	// by the overnight scheduler; per-pair failures are logged, not fatal.
	SyncAllLinked(ctx context.Context) error
}
