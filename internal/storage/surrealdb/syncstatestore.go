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

// SyncStateStore persists per-(portfolio, provider) sync state. Writes are
// last-write-wins; the sync orchestrator's in-flight guard keeps concurrent
// writers off the same row.
type SyncStateStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewSyncStateStore(db *surrealdb.DB, logger *common.Logger) *SyncStateStore {
	return &SyncStateStore{
		db:     db,
		logger: logger,
	}
}

func syncStateID(portfolioID string, provider models.Provider) string {
	return portfolioID + "_" + string(provider)
}

func (s *SyncStateStore) Get(ctx context.Context, portfolioID string, provider models.Provider) (*models.SyncState, error) {
	state, err := surrealdb.Select[models.SyncState](ctx, s.db, surrealmodels.NewRecordID("sync_state", syncStateID(portfolioID, provider)))
	if err != nil {
		return nil, fmt.Errorf("failed to select sync state: %w", err)
	}
	if state == nil || state.PortfolioID == "" {
		return nil, errors.New("sync state not found")
	}
	return state, nil
}

func (s *SyncStateStore) Save(ctx context.Context, state *models.SyncState) error {
	sql := "UPSERT type::record('sync_state', $id) CONTENT $state"
	vars := map[string]any{
		"id":    syncStateID(state.PortfolioID, state.Provider),
		"state": state,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]models.SyncState](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save sync state after retries: %w", err)
		}
	}
	return nil
}

func (s *SyncStateStore) ListByPortfolio(ctx context.Context, portfolioID string) ([]*models.SyncState, error) {
	sql := "SELECT * FROM sync_state WHERE portfolio_id = $portfolio_id"
	vars := map[string]any{"portfolio_id": portfolioID}

	results, err := surrealdb.Query[[]models.SyncState](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.SyncState
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *SyncStateStore) ListLinked(ctx context.Context) ([]*models.SyncState, error) {
	sql := "SELECT * FROM sync_state WHERE status IN $statuses"
	vars := map[string]any{
		"statuses": []models.SyncStatus{models.SyncLinked, models.SyncSynced, models.SyncError},
	}

	results, err := surrealdb.Query[[]models.SyncState](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked sync states: %w", err)
	}

	if results != nil && len(*results) > 0 {
		var mapped []*models.SyncState
		for i := range (*results)[0].Result {
			mapped = append(mapped, &(*results)[0].Result[i])
		}
		return mapped, nil
	}
	return nil, nil
}

func (s *SyncStateStore) DeleteByPortfolio(ctx context.Context, portfolioID string) (int, error) {
	sql := "DELETE sync_state WHERE portfolio_id = $portfolio_id RETURN BEFORE"
	vars := map[string]any{"portfolio_id": portfolioID}

	results, err := surrealdb.Query[[]models.SyncState](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sync states: %w", err)
	}

	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	return count, nil
}
