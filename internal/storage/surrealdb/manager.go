// Package surrealdb implements Verso's storage interfaces on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	internalStore   *InternalStore
	portfolioStore  *PortfolioStore
	membershipStore *MembershipStore
	syncStateStore  *SyncStateStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables up front (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"user", "system_kv", "portfolio", "investment", "membership", "sync_state"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	m.internalStore = NewInternalStore(db, logger)
	m.portfolioStore = NewPortfolioStore(db, logger)
	m.membershipStore = NewMembershipStore(db, logger)
	m.syncStateStore = NewSyncStateStore(db, logger)

	// Probe for server-side aggregation support. Older deployments reject
	// DEFINE FUNCTION or the probe call; the portfolio store then joins
	// client-side instead. Either way callers see the same results.
	if err := m.portfolioStore.probeAggregated(ctx); err != nil {
		logger.Warn().Err(err).Msg("Aggregated portfolio query unsupported, using client-side join")
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Bool("aggregated_queries", m.portfolioStore.aggregatedEnabled()).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) InternalStore() interfaces.InternalStore {
	return m.internalStore
}

func (m *Manager) PortfolioStore() interfaces.PortfolioStore {
	return m.portfolioStore
}

func (m *Manager) MembershipStore() interfaces.MembershipStore {
	return m.membershipStore
}

func (m *Manager) SyncStateStore() interfaces.SyncStateStore {
	return m.syncStateStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no record")
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
