// Package sync orchestrates link creation, credential exchange, and
// holdings refresh per (portfolio, provider).
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

// Sentinel errors mapped to HTTP status codes by the server layer.
var (
	ErrNotFound     = errors.New("portfolio not found")
	ErrAccessDenied = errors.New("access denied")
	// ErrSyncInFlight marks the duplicate-trigger no-op; the caller gets the
	// current state back, nothing is queued.
	ErrSyncInFlight = errors.New("sync already in flight")
	// ErrReconnectRequired surfaces a revoked connection: the sync state was
	// forced back to NotConnected and the user must re-link.
	ErrReconnectRequired = errors.New("provider connection revoked, reconnect required")
)

// Service implements SyncService.
type Service struct {
	storage interfaces.StorageManager
	plaid   interfaces.PlaidClient
	tink    interfaces.TinkClient
	fx      interfaces.FXService
	logger  *common.Logger

	maxRetries int
	retryBase  time.Duration

	// Guard: at most one sync in flight per (portfolio, provider). A second
	// trigger while one runs is ignored, not queued, so duplicate upserts
	// can never race each other.
	mu       stdsync.Mutex
	inflight map[string]struct{}
}

// NewService creates a new sync orchestrator.
func NewService(
	storage interfaces.StorageManager,
	plaid interfaces.PlaidClient,
	tink interfaces.TinkClient,
	fx interfaces.FXService,
	cfg common.SyncConfig,
	logger *common.Logger,
) *Service {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{
		storage:    storage,
		plaid:      plaid,
		tink:       tink,
		fx:         fx,
		logger:     logger,
		maxRetries: maxRetries,
		retryBase:  cfg.GetRetryBackoff(),
		inflight:   make(map[string]struct{}),
	}
}

func flightKey(portfolioID string, provider models.Provider) string {
	return portfolioID + "/" + string(provider)
}

// tryBegin marks a (portfolio, provider) sync as in flight. Returns false
// when one is already running.
func (s *Service) tryBegin(portfolioID string, provider models.Provider) bool {
	key := flightKey(portfolioID, provider)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Service) end(portfolioID string, provider models.Provider) {
	s.mu.Lock()
	delete(s.inflight, flightKey(portfolioID, provider))
	s.mu.Unlock()
}

// requireOwner verifies userID owns the portfolio. Linking and syncing are
// owner actions; members have read access only.
func (s *Service) requireOwner(ctx context.Context, userID, portfolioID string) (*models.Portfolio, error) {
	p, err := s.storage.PortfolioStore().GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, portfolioID)
	}
	if p.UserID != userID {
		return nil, ErrAccessDenied
	}
	return p, nil
}

// loadState returns the stored sync state for the pair, or a fresh
// NotConnected one.
func (s *Service) loadState(ctx context.Context, portfolioID string, provider models.Provider) *models.SyncState {
	state, err := s.storage.SyncStateStore().Get(ctx, portfolioID, provider)
	if err != nil || state == nil {
		return models.NewSyncState(portfolioID, provider)
	}
	return state
}

func (s *Service) persist(ctx context.Context, state *models.SyncState) error {
	if err := s.storage.SyncStateStore().Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

// RequestLink starts a link flow for the pair. Any previous connection
// handle is replaced: exactly one active handle exists per
// (portfolio, provider).
func (s *Service) RequestLink(ctx context.Context, userID, portfolioID string, provider models.Provider, market string) (*models.LinkRequest, error) {
	if _, err := s.requireOwner(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	// A new link attempt always begins from a fresh state so the old handle
	// is replaced, never appended to.
	state := models.NewSyncState(portfolioID, provider)

	switch provider {
	case models.ProviderPlaid:
		token, err := s.plaid.CreateLinkToken(ctx, userID)
		if err != nil {
			// ProviderUnavailable: caller retries with backoff, never reuses
			// a stale token.
			return nil, fmt.Errorf("failed to create link token: %w", err)
		}
		if err := state.Transition(models.SyncConnecting); err != nil {
			return nil, err
		}
		if err := s.persist(ctx, state); err != nil {
			return nil, err
		}
		return &models.LinkRequest{Provider: provider, LinkToken: token}, nil

	case models.ProviderTink:
		if !models.ValidTinkMarket(market) {
			return nil, fmt.Errorf("a valid market code is required for tink linking")
		}
		link, err := s.tink.CreateLink(ctx, userID, market)
		if err != nil {
			return nil, fmt.Errorf("failed to create link session: %w", err)
		}
		if err := state.Transition(models.SyncConnecting); err != nil {
			return nil, err
		}
		// The session id is the pending handle; completion is only ever
		// observed through a later successful investments fetch.
		state.ConnectionHandle = link.SessionID
		state.Market = market
		if err := s.persist(ctx, state); err != nil {
			return nil, err
		}
		return &models.LinkRequest{Provider: provider, AuthorizationURL: link.AuthorizationURL, Market: market}, nil
	}

	return nil, fmt.Errorf("unknown provider %q", provider)
}

// CompleteLink exchanges a Plaid public token for the durable connection
// handle and persists it against the pair's sync state in the same logical
// operation.
func (s *Service) CompleteLink(ctx context.Context, userID, portfolioID, publicToken string, inst models.Institution) (*models.SyncState, error) {
	if _, err := s.requireOwner(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	state := s.loadState(ctx, portfolioID, models.ProviderPlaid)
	if state.Status != models.SyncConnecting {
		return nil, fmt.Errorf("no link in progress for portfolio %s", portfolioID)
	}

	handle, err := s.plaid.ExchangePublicToken(ctx, userID, publicToken, inst)
	if err != nil {
		if models.IsProviderAuth(err) {
			// Invalid or expired artifact: connection failed, user restarts
			// the flow. Not silently retried.
			state.ForceDisconnect("link token exchange failed")
			if perr := s.persist(ctx, state); perr != nil {
				s.logger.Error().Err(perr).Msg("Failed to persist sync state after exchange failure")
			}
		}
		return state, fmt.Errorf("failed to exchange public token: %w", err)
	}

	state.ConnectionHandle = handle
	state.ReconnectNeeded = false
	state.LastError = ""
	if err := state.Transition(models.SyncLinked); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, state); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("portfolio_id", portfolioID).
		Str("institution", inst.Name).
		Msg("Plaid link completed")
	return state, nil
}

// CancelLink aborts an in-progress external flow.
func (s *Service) CancelLink(ctx context.Context, userID, portfolioID string, provider models.Provider) (*models.SyncState, error) {
	if _, err := s.requireOwner(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	state := s.loadState(ctx, portfolioID, provider)
	if err := state.Transition(models.SyncNotConnected); err != nil {
		return nil, err
	}
	state.ConnectionHandle = ""
	if err := s.persist(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SyncPortfolio refreshes the provider's holdings under the portfolio.
// Duplicate triggers while a sync is in flight are no-ops. A failed sync
// leaves the last-known-good holdings in place.
func (s *Service) SyncPortfolio(ctx context.Context, userID, portfolioID string, provider models.Provider) (*models.SyncState, error) {
	if _, err := s.requireOwner(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	if !s.tryBegin(portfolioID, provider) {
		s.logger.Info().
			Str("portfolio_id", portfolioID).
			Str("provider", string(provider)).
			Msg("Sync already in flight, ignoring duplicate trigger")
		return s.loadState(ctx, portfolioID, provider), ErrSyncInFlight
	}
	defer s.end(portfolioID, provider)

	state := s.loadState(ctx, portfolioID, provider)

	s.logger.Info().
		Str("portfolio_id", portfolioID).
		Str("provider", string(provider)).
		Str("status", string(state.Status)).
		Msg("Syncing portfolio")

	switch {
	case state.Status == models.SyncConnecting && provider == models.ProviderTink:
		// Out-of-band completion: the fetch doubles as the link probe. On
		// success the state still walks Connecting → Linked → Syncing.
		return s.syncTinkPending(ctx, userID, state)

	case state.Status == models.SyncLinked || state.Status == models.SyncSynced || state.Status == models.SyncError:
		return s.syncLinked(ctx, userID, state)

	default:
		return state, fmt.Errorf("cannot sync portfolio %s from state %s; link the provider first", portfolioID, state.Status)
	}
}

// syncLinked runs the normal refresh path from Linked, Synced, or Error.
func (s *Service) syncLinked(ctx context.Context, userID string, state *models.SyncState) (*models.SyncState, error) {
	if err := state.Transition(models.SyncSyncing); err != nil {
		return state, err
	}
	if err := s.persist(ctx, state); err != nil {
		return state, err
	}

	holdings, err := s.retryTransient(ctx, func() ([]*models.ProviderHolding, error) {
		return s.fetchInvestments(ctx, userID, state)
	})
	if err != nil {
		return s.failSync(ctx, state, err)
	}

	return s.applyHoldings(ctx, state, holdings)
}

// syncTinkPending handles the inferred-link path: a Tink pair still in
// Connecting whose external flow may or may not have completed.
func (s *Service) syncTinkPending(ctx context.Context, userID string, state *models.SyncState) (*models.SyncState, error) {
	holdings, err := s.retryTransient(ctx, func() ([]*models.ProviderHolding, error) {
		return s.tink.GetInvestments(ctx, userID, state.ConnectionHandle)
	})
	if err != nil {
		if models.IsProviderAuth(err) {
			state.ForceDisconnect("authorization rejected")
			if perr := s.persist(ctx, state); perr != nil {
				s.logger.Error().Err(perr).Msg("Failed to persist sync state")
			}
			return state, fmt.Errorf("%w: %s", ErrReconnectRequired, err)
		}
		// Flow not completed yet (or upstream hiccup): remain Connecting so
		// the user can finish the external authorization.
		state.LastError = err.Error()
		state.UpdatedAt = time.Now()
		if perr := s.persist(ctx, state); perr != nil {
			s.logger.Error().Err(perr).Msg("Failed to persist sync state")
		}
		return state, fmt.Errorf("link not completed: %w", err)
	}

	// Investments available ⇒ the out-of-band link succeeded. Walk the
	// machine through Linked before Syncing; no state is skipped.
	if err := state.Transition(models.SyncLinked); err != nil {
		return state, err
	}
	if err := s.persist(ctx, state); err != nil {
		return state, err
	}
	if err := state.Transition(models.SyncSyncing); err != nil {
		return state, err
	}
	if err := s.persist(ctx, state); err != nil {
		return state, err
	}

	return s.applyHoldings(ctx, state, holdings)
}

// fetchInvestments dispatches to the right adapter for the pair.
func (s *Service) fetchInvestments(ctx context.Context, userID string, state *models.SyncState) ([]*models.ProviderHolding, error) {
	switch state.Provider {
	case models.ProviderPlaid:
		return s.plaid.GetInvestments(ctx, userID, state.ConnectionHandle)
	case models.ProviderTink:
		return s.tink.GetInvestments(ctx, userID, state.ConnectionHandle)
	}
	return nil, fmt.Errorf("unknown provider %q", state.Provider)
}

// failSync records a fetch failure. Auth errors force NotConnected and a
// reconnect signal; everything else lands in Error with the last-known-good
// holdings untouched.
func (s *Service) failSync(ctx context.Context, state *models.SyncState, fetchErr error) (*models.SyncState, error) {
	if models.IsProviderAuth(fetchErr) {
		state.ForceDisconnect("connection revoked by provider")
		if err := s.persist(ctx, state); err != nil {
			s.logger.Error().Err(err).Msg("Failed to persist sync state")
		}
		return state, fmt.Errorf("%w: %s", ErrReconnectRequired, fetchErr)
	}

	state.LastError = fetchErr.Error()
	if err := state.Transition(models.SyncError); err != nil {
		s.logger.Error().Err(err).Msg("Failed to transition sync state to error")
	}
	if err := s.persist(ctx, state); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist sync state")
	}

	s.logger.Warn().
		Str("portfolio_id", state.PortfolioID).
		Str("provider", string(state.Provider)).
		Err(fetchErr).
		Msg("Portfolio sync failed, keeping last-known-good holdings")
	return state, fetchErr
}

// applyHoldings replaces the provider's holdings wholesale and completes the
// sync. The store does the replacement in one transaction, so a repository
// failure makes no change at all.
func (s *Service) applyHoldings(ctx context.Context, state *models.SyncState, fetched []*models.ProviderHolding) (*models.SyncState, error) {
	source := models.SourceForProvider(state.Provider)
	now := time.Now()

	holdings := make([]models.Holding, 0, len(fetched))
	for _, ph := range fetched {
		if ph.Quantity <= 0 {
			// Zero and removed positions are deleted by omission from the
			// replacement set.
			continue
		}
		currency := ph.Currency
		if currency == "" {
			currency = s.fx.ResolveAssetCurrency(ctx, ph.AssetID)
		}
		holdings = append(holdings, models.Holding{
			PortfolioID:  state.PortfolioID,
			AssetID:      models.NormalizeAssetID(ph.AssetID),
			Name:         ph.Name,
			Quantity:     ph.Quantity,
			AvgCost:      ph.AvgCost,
			CurrentPrice: ph.Price,
			Currency:     currency,
			Source:       source,
			LastUpdated:  now,
		})
	}

	if err := s.storage.PortfolioStore().ReplaceProviderHoldings(ctx, state.PortfolioID, source, holdings); err != nil {
		return s.failSync(ctx, state, fmt.Errorf("failed to replace holdings: %w", err))
	}

	if err := state.Transition(models.SyncSynced); err != nil {
		return state, err
	}
	state.LastSyncedAt = &now
	state.LastError = ""
	state.ReconnectNeeded = false
	if err := s.persist(ctx, state); err != nil {
		return state, err
	}

	s.logger.Info().
		Str("portfolio_id", state.PortfolioID).
		Str("provider", string(state.Provider)).
		Int("holdings", len(holdings)).
		Msg("Portfolio synced")
	return state, nil
}

// SyncStates returns the per-provider states for a portfolio, padding
// providers that were never linked so callers always see both.
func (s *Service) SyncStates(ctx context.Context, userID, portfolioID string) ([]*models.SyncState, error) {
	p, err := s.storage.PortfolioStore().GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, portfolioID)
	}
	if p.UserID != userID {
		m, err := s.storage.MembershipStore().Get(ctx, portfolioID, userID)
		if err != nil || m.Status != models.MembershipAccepted {
			return nil, ErrAccessDenied
		}
	}

	states, err := s.storage.SyncStateStore().ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}

	have := make(map[models.Provider]bool, len(states))
	for _, st := range states {
		have[st.Provider] = true
	}
	for _, provider := range []models.Provider{models.ProviderPlaid, models.ProviderTink} {
		if !have[provider] {
			states = append(states, models.NewSyncState(portfolioID, provider))
		}
	}

	return states, nil
}

// SyncAllLinked refreshes every actively linked (portfolio, provider) pair.
// Driven by the overnight scheduler; failures are per-pair and never block
// the rest of the batch.
func (s *Service) SyncAllLinked(ctx context.Context) error {
	states, err := s.storage.SyncStateStore().ListLinked(ctx)
	if err != nil {
		return fmt.Errorf("failed to list linked sync states: %w", err)
	}

	for _, state := range states {
		p, err := s.storage.PortfolioStore().GetPortfolio(ctx, state.PortfolioID)
		if err != nil {
			s.logger.Warn().Err(err).Str("portfolio_id", state.PortfolioID).Msg("Skipping sync for missing portfolio")
			continue
		}
		if _, err := s.SyncPortfolio(ctx, p.UserID, state.PortfolioID, state.Provider); err != nil && !errors.Is(err, ErrSyncInFlight) {
			s.logger.Warn().
				Err(err).
				Str("portfolio_id", state.PortfolioID).
				Str("provider", string(state.Provider)).
				Msg("Scheduled sync failed")
		}
	}
	return nil
}

// Ensure Service implements SyncService
var _ interfaces.SyncService = (*Service)(nil)
