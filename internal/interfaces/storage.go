package interfaces

import (
	"context"

	"github.com/versofin/verso/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	InternalStore() InternalStore
	PortfolioStore() PortfolioStore
	MembershipStore() MembershipStore
	SyncStateStore() SyncStateStore

	Close() error
}

// InternalStore manages user accounts and system-level KV.
type InternalStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, userID string) error

	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error

	Close() error
}

// PortfolioStore reads/writes canonical portfolio and holding records.
//
// ListUserPortfolios runs one of two interchangeable strategies selected by
// a runtime capability probe: a single aggregated server-side query, or a
// three-query join combined client-side through the merge/dedup resolver.
// Callers never see which strategy ran. Both normalize heterogeneous holding
// field names into the canonical models.Holding before returning.
type PortfolioStore interface {
	ListUserPortfolios(ctx context.Context, userID string, includeHoldings bool) ([]*models.Portfolio, error)
	GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error)
	SavePortfolio(ctx context.Context, p *models.Portfolio) error
	// DeletePortfolio removes the portfolio and cascades to its holdings.
	DeletePortfolio(ctx context.Context, portfolioID string) error

	ListHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error)
	UpsertHolding(ctx context.Context, h *models.Holding) error
	DeleteHolding(ctx context.Context, portfolioID, assetID string, source models.HoldingSource) error

	// ReplaceProviderHoldings replaces all holdings of the given source under
	// the portfolio in a single transaction: a sync either fully replaces a
	// provider's holdings or makes no change. Manual holdings are untouched.
	ReplaceProviderHoldings(ctx context.Context, portfolioID string, source models.HoldingSource, holdings []models.Holding) error
}

// MembershipStore manages (portfolio, user) read-access grants.
type MembershipStore interface {
	Save(ctx context.Context, m *models.Membership) error
	Get(ctx context.Context, portfolioID, userID string) (*models.Membership, error)
	ListForUser(ctx context.Context, userID string, status models.MembershipStatus) ([]*models.Membership, error)
	ListForPortfolio(ctx context.Context, portfolioID string) ([]*models.Membership, error)
	DeleteByPortfolio(ctx context.Context, portfolioID string) (int, error)
}

// SyncStateStore manages per-(portfolio, provider) sync state rows. Writes
// are last-write-wins; the orchestrator's in-flight guard prevents
// concurrent writers.
type SyncStateStore interface {
	Get(ctx context.Context, portfolioID string, provider models.Provider) (*models.SyncState, error)
	Save(ctx context.Context, s *models.SyncState) error
	ListByPortfolio(ctx context.Context, portfolioID string) ([]*models.SyncState, error)
	// ListLinked returns states with an active connection (linked, synced,
	// or errored) across all portfolios: the overnight refresh input.
	ListLinked(ctx context.Context) ([]*models.SyncState, error)
	DeleteByPortfolio(ctx context.Context, portfolioID string) (int, error)
}
