package surrealdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/models"
)

// MembershipStore manages portfolio read-access grants.
type MembershipStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewMembershipStore(db *surrealdb.DB, logger *common.Logger) *MembershipStore {
	return &MembershipStore{
		db:     db,
		logger: logger,
	}
}

func membershipID(portfolioID, userID string) string {
	return portfolioID + "_" + userID
}

func (s *MembershipStore) Save(ctx context.Context, m *models.Membership) error {
	sql := "UPSERT type::record('membership', $id) CONTENT $membership"
	vars := map[string]any{
		"id":         membershipID(m.PortfolioID, m.UserID),
		"membership": m,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.Membership](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save membership after retries: %w", err)
		}
	}
	return nil
}

func (s *MembershipStore) Get(ctx context.Context, portfolioID, userID string) (*models.Membership, error) {
	m, err := surrealdb.Select[models.Membership](ctx, s.db, surrealmodels.NewRecordID("membership", membershipID(portfolioID, userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to select membership: %w", err)
	}
	if m == nil || m.PortfolioID == "" {
		return nil, errors.New("membership not found")
	}
	return m, nil
}

func (s *MembershipStore) ListForUser(ctx context.Context, userID string, status models.MembershipStatus) ([]*models.Membership, error) {
	sql := "SELECT * FROM membership WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}
	if status != "" {
		sql += " AND status = $status"
		vars["status"] = status
	}

	results, err := surrealdb.Query[[]models.Membership](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.Membership
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *MembershipStore) ListForPortfolio(ctx context.Context, portfolioID string) ([]*models.Membership, error) {
	sql := "SELECT * FROM membership WHERE portfolio_id = $portfolio_id"
	vars := map[string]any{"portfolio_id": portfolioID}

	results, err := surrealdb.Query[[]models.Membership](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolio memberships: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.Membership
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *MembershipStore) DeleteByPortfolio(ctx context.Context, portfolioID string) (int, error) {
	sql := "DELETE membership WHERE portfolio_id = $portfolio_id RETURN BEFORE"
	vars := map[string]any{"portfolio_id": portfolioID}

	results, err := surrealdb.Query[[]models.Membership](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memberships: %w", err)
	}

	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	return count, nil
}
