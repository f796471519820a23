// Package portfolio provides portfolio management and valuation services
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

// Sentinel errors mapped to HTTP status codes by the server layer.
var (
	ErrNotFound     = errors.New("portfolio not found")
	ErrAccessDenied = errors.New("access denied")
)

// Service implements PortfolioService
type Service struct {
	storage interfaces.StorageManager
	fx      interfaces.FXService
	stock   interfaces.StockDataClient
	logger  *common.Logger
}

// NewService creates a new portfolio service
func NewService(
	storage interfaces.StorageManager,
	fx interfaces.FXService,
	stock interfaces.StockDataClient,
	logger *common.Logger,
) *Service {
	return &Service{
		storage: storage,
		fx:      fx,
		stock:   stock,
		logger:  logger,
	}
}

// CreatePortfolio creates an empty portfolio owned by userID.
func (s *Service) CreatePortfolio(ctx context.Context, userID, name, currency, description string) (*models.Portfolio, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("portfolio name is required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid display currency %q", currency)
	}

	now := time.Now()
	p := &models.Portfolio{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Currency:    currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.PortfolioStore().SavePortfolio(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save portfolio: %w", err)
	}

	s.logger.Info().
		Str("portfolio_id", p.ID).
		Str("user_id", userID).
		Str("currency", currency).
		Msg("Portfolio created")

	p.AccessType = models.AccessOwner
	return p, nil
}

// requireAccess loads a portfolio and verifies userID can reach it. When
// ownerOnly is set, accepted membership is not sufficient.
func (s *Service) requireAccess(ctx context.Context, userID, portfolioID string, ownerOnly bool) (*models.Portfolio, error) {
	p, err := s.storage.PortfolioStore().GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, portfolioID)
	}

	if p.UserID == userID {
		p.AccessType = models.AccessOwner
		return p, nil
	}
	if ownerOnly {
		return nil, ErrAccessDenied
	}

	m, err := s.storage.MembershipStore().Get(ctx, portfolioID, userID)
	if err != nil || m.Status != models.MembershipAccepted {
		return nil, ErrAccessDenied
	}
	p.AccessType = models.AccessMember
	return p, nil
}

// GetPortfolio returns one portfolio with holdings valued in its display
// currency and its per-provider sync states attached.
func (s *Service) GetPortfolio(ctx context.Context, userID, portfolioID string) (*models.Portfolio, error) {
	p, err := s.requireAccess(ctx, userID, portfolioID, false)
	if err != nil {
		return nil, err
	}

	holdings, err := s.storage.PortfolioStore().ListHoldings(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}
	p.Holdings = holdings

	states, err := s.storage.SyncStateStore().ListByPortfolio(ctx, portfolioID)
	if err != nil {
		s.logger.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to load sync states")
	} else {
		p.SyncStates = states
	}

	s.valuePortfolio(ctx, p)
	return p, nil
}

// ListUserPortfolios returns the deduplicated owned+member list. The
// repository already merges and tags; the defensive re-dedup here resolves
// any duplicate ids deterministically (owner wins) and logs rather than
// raising.
func (s *Service) ListUserPortfolios(ctx context.Context, userID string, includeHoldings bool) ([]*models.Portfolio, error) {
	portfolios, err := s.storage.PortfolioStore().ListUserPortfolios(ctx, userID, includeHoldings)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	portfolios = s.dedupTagged(portfolios)

	if includeHoldings {
		for _, p := range portfolios {
			s.valuePortfolio(ctx, p)
		}
	}

	return portfolios, nil
}

// DeletePortfolio removes a portfolio and cascades to its holdings, sync
// states, and memberships. Owner only.
func (s *Service) DeletePortfolio(ctx context.Context, userID, portfolioID string) error {
	if _, err := s.requireAccess(ctx, userID, portfolioID, true); err != nil {
		return err
	}

	if err := s.storage.PortfolioStore().DeletePortfolio(ctx, portfolioID); err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	if _, err := s.storage.SyncStateStore().DeleteByPortfolio(ctx, portfolioID); err != nil {
		s.logger.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to delete sync states")
	}
	if _, err := s.storage.MembershipStore().DeleteByPortfolio(ctx, portfolioID); err != nil {
		s.logger.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to delete memberships")
	}

	s.logger.Info().Str("portfolio_id", portfolioID).Str("user_id", userID).Msg("Portfolio deleted")
	return nil
}

// AddManualHolding adds a manually entered position. Provider syncs never
// touch manual holdings.
func (s *Service) AddManualHolding(ctx context.Context, userID, portfolioID string, h *models.Holding) (*models.Portfolio, error) {
	if _, err := s.requireAccess(ctx, userID, portfolioID, true); err != nil {
		return nil, err
	}

	h.AssetID = models.NormalizeAssetID(h.AssetID)
	if h.AssetID == "" {
		return nil, fmt.Errorf("asset identifier is required")
	}
	if h.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if h.AvgCost != nil && *h.AvgCost < 0 {
		return nil, fmt.Errorf("average cost cannot be negative")
	}

	// Price and native currency come from the stock data API when the user
	// didn't supply them.
	if h.CurrentPrice == 0 {
		if data, err := s.stock.GetStock(ctx, h.AssetID); err == nil {
			h.CurrentPrice = data.Snapshot.Price
			if h.Name == "" {
				h.Name = data.Snapshot.Name
			}
		} else {
			s.logger.Warn().Err(err).Str("asset", h.AssetID).Msg("Failed to price manual holding")
		}
	}
	if h.Currency == "" {
		h.Currency = s.fx.ResolveAssetCurrency(ctx, h.AssetID)
	}

	h.PortfolioID = portfolioID
	h.Source = models.SourceManual
	h.LastUpdated = time.Now()

	if err := s.storage.PortfolioStore().UpsertHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to save holding: %w", err)
	}

	s.logger.Info().
		Str("portfolio_id", portfolioID).
		Str("asset", h.AssetID).
		Float64("quantity", h.Quantity).
		Msg("Manual holding added")

	return s.GetPortfolio(ctx, userID, portfolioID)
}

// UpdateManualHolding edits a manual position. A negative quantity is
// rejected; zero deletes the holding rather than leaving a stale row.
func (s *Service) UpdateManualHolding(ctx context.Context, userID, portfolioID, assetID string, quantity float64, avgCost *float64) (*models.Portfolio, error) {
	if _, err := s.requireAccess(ctx, userID, portfolioID, true); err != nil {
		return nil, err
	}

	assetID = models.NormalizeAssetID(assetID)
	if quantity < 0 {
		return nil, fmt.Errorf("quantity cannot be negative")
	}
	if quantity == 0 {
		if err := s.storage.PortfolioStore().DeleteHolding(ctx, portfolioID, assetID, models.SourceManual); err != nil {
			return nil, fmt.Errorf("failed to delete holding: %w", err)
		}
		return s.GetPortfolio(ctx, userID, portfolioID)
	}

	holdings, err := s.storage.PortfolioStore().ListHoldings(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}

	var existing *models.Holding
	for i := range holdings {
		if holdings[i].AssetID == assetID && holdings[i].Source == models.SourceManual {
			existing = &holdings[i]
			break
		}
	}
	if existing == nil {
		return nil, fmt.Errorf("manual holding %s not found in portfolio", assetID)
	}

	existing.Quantity = quantity
	if avgCost != nil {
		existing.AvgCost = avgCost
	}
	existing.LastUpdated = time.Now()

	if err := s.storage.PortfolioStore().UpsertHolding(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to save holding: %w", err)
	}

	return s.GetPortfolio(ctx, userID, portfolioID)
}

// DeleteManualHolding removes a manual position.
func (s *Service) DeleteManualHolding(ctx context.Context, userID, portfolioID, assetID string) error {
	if _, err := s.requireAccess(ctx, userID, portfolioID, true); err != nil {
		return err
	}
	assetID = models.NormalizeAssetID(assetID)
	if err := s.storage.PortfolioStore().DeleteHolding(ctx, portfolioID, assetID, models.SourceManual); err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// InviteMember invites another user to read the portfolio.
func (s *Service) InviteMember(ctx context.Context, ownerID, portfolioID, email string) (*models.Membership, error) {
	if _, err := s.requireAccess(ctx, ownerID, portfolioID, true); err != nil {
		return nil, err
	}

	user, err := s.storage.InternalStore().GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	if user.ID == ownerID {
		return nil, fmt.Errorf("cannot invite the portfolio owner")
	}

	m := &models.Membership{
		PortfolioID: portfolioID,
		UserID:      user.ID,
		Status:      models.MembershipInvited,
		InvitedAt:   time.Now(),
	}
	if err := s.storage.MembershipStore().Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save membership: %w", err)
	}

	s.logger.Info().
		Str("portfolio_id", portfolioID).
		Str("member_id", user.ID).
		Msg("Member invited")
	return m, nil
}

// AcceptInvite accepts a pending invitation, granting read access.
func (s *Service) AcceptInvite(ctx context.Context, userID, portfolioID string) (*models.Membership, error) {
	m, err := s.storage.MembershipStore().Get(ctx, portfolioID, userID)
	if err != nil {
		return nil, fmt.Errorf("no invitation for this portfolio")
	}
	if m.Status == models.MembershipAccepted {
		return m, nil
	}

	now := time.Now()
	m.Status = models.MembershipAccepted
	m.AcceptedAt = &now
	if err := s.storage.MembershipStore().Save(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to save membership: %w", err)
	}

	return m, nil
}

// Ensure Service implements PortfolioService
var _ interfaces.PortfolioService = (*Service)(nil)
