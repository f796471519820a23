package common

import (
	"context"
	"errors"
	"sync"

	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

// MemStorage is an in-memory StorageManager for service and handler tests
// that don't need a SurrealDB container.
type MemStorage struct {
	Internal    *MemInternalStore
	Portfolios  *MemPortfolioStore
	Memberships *MemMembershipStore
	States      *MemSyncStateStore
}

// NewMemStorage builds an empty in-memory storage manager.
func NewMemStorage() *MemStorage {
	memberships := &MemMembershipStore{items: make(map[string]models.Membership)}
	return &MemStorage{
		Internal: &MemInternalStore{
			users: make(map[string]models.User),
			kv:    make(map[string]string),
		},
		Portfolios: &MemPortfolioStore{
			portfolios:  make(map[string]models.Portfolio),
			holdings:    make(map[string]map[string]models.Holding),
			memberships: memberships,
		},
		Memberships: memberships,
		States:      &MemSyncStateStore{states: make(map[string]models.SyncState)},
	}
}

func (m *MemStorage) InternalStore() interfaces.InternalStore     { return m.Internal }
func (m *MemStorage) PortfolioStore() interfaces.PortfolioStore   { return m.Portfolios }
func (m *MemStorage) MembershipStore() interfaces.MembershipStore { return m.Memberships }
func (m *MemStorage) SyncStateStore() interfaces.SyncStateStore   { return m.States }
func (m *MemStorage) Close() error                                { return nil }

var _ interfaces.StorageManager = (*MemStorage)(nil)

// MemInternalStore holds users and system KV in maps.
type MemInternalStore struct {
	mu    sync.Mutex
	users map[string]models.User
	kv    map[string]string
}

func (s *MemInternalStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return &u, nil
}

func (s *MemInternalStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (s *MemInternalStore) SaveUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *MemInternalStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

func (s *MemInternalStore) GetSystemKV(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	if !ok {
		return "", errors.New("system KV not found")
	}
	return v, nil
}

func (s *MemInternalStore) SetSystemKV(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

func (s *MemInternalStore) Close() error { return nil }

// MemPortfolioStore holds portfolios and holdings in maps. ReplaceErr, when
// set, is returned from ReplaceProviderHoldings to exercise the
// failed-transaction path.
type MemPortfolioStore struct {
	mu          sync.Mutex
	portfolios  map[string]models.Portfolio
	holdings    map[string]map[string]models.Holding // portfolio id → holding key
	memberships *MemMembershipStore

	ReplaceErr error
}

func holdingKey(source models.HoldingSource, assetID string) string {
	return string(source) + "_" + models.NormalizeAssetID(assetID)
}

func (s *MemPortfolioStore) ListUserPortfolios(ctx context.Context, userID string, includeHoldings bool) ([]*models.Portfolio, error) {
	s.mu.Lock()
	var owned []*models.Portfolio
	for _, p := range s.portfolios {
		if p.UserID == userID {
			p := p
			owned = append(owned, &p)
		}
	}
	s.mu.Unlock()

	var member []*models.Portfolio
	accepted, _ := s.memberships.ListForUser(ctx, userID, models.MembershipAccepted)
	for _, m := range accepted {
		s.mu.Lock()
		if p, ok := s.portfolios[m.PortfolioID]; ok {
			p := p
			member = append(member, &p)
		}
		s.mu.Unlock()
	}

	merged, _ := models.MergeByAccess(owned, member)
	if includeHoldings {
		for _, p := range merged {
			hs, _ := s.ListHoldings(ctx, p.ID)
			p.Holdings = hs
		}
	}
	return merged, nil
}

func (s *MemPortfolioStore) GetPortfolio(_ context.Context, portfolioID string) (*models.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, errors.New("portfolio not found")
	}
	return &p, nil
}

func (s *MemPortfolioStore) SavePortfolio(_ context.Context, p *models.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *p
	stored.Holdings = nil
	s.portfolios[p.ID] = stored
	return nil
}

func (s *MemPortfolioStore) DeletePortfolio(_ context.Context, portfolioID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.portfolios, portfolioID)
	delete(s.holdings, portfolioID)
	return nil
}

func (s *MemPortfolioStore) ListHoldings(_ context.Context, portfolioID string) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Holding
	for _, h := range s.holdings[portfolioID] {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemPortfolioStore) UpsertHolding(_ context.Context, h *models.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holdings[h.PortfolioID] == nil {
		s.holdings[h.PortfolioID] = make(map[string]models.Holding)
	}
	stored := *h
	stored.AssetID = models.NormalizeAssetID(h.AssetID)
	s.holdings[h.PortfolioID][holdingKey(h.Source, h.AssetID)] = stored
	return nil
}

func (s *MemPortfolioStore) DeleteHolding(_ context.Context, portfolioID, assetID string, source models.HoldingSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holdings[portfolioID], holdingKey(source, assetID))
	return nil
}

func (s *MemPortfolioStore) ReplaceProviderHoldings(_ context.Context, portfolioID string, source models.HoldingSource, holdings []models.Holding) error {
	if s.ReplaceErr != nil {
		return s.ReplaceErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holdings[portfolioID] == nil {
		s.holdings[portfolioID] = make(map[string]models.Holding)
	}
	for key, h := range s.holdings[portfolioID] {
		if h.Source == source {
			delete(s.holdings[portfolioID], key)
		}
	}
	for _, h := range holdings {
		stored := h
		stored.PortfolioID = portfolioID
		stored.Source = source
		stored.AssetID = models.NormalizeAssetID(h.AssetID)
		s.holdings[portfolioID][holdingKey(source, stored.AssetID)] = stored
	}
	return nil
}

var _ interfaces.PortfolioStore = (*MemPortfolioStore)(nil)

// MemMembershipStore holds memberships keyed by (portfolio, user).
type MemMembershipStore struct {
	mu    sync.Mutex
	items map[string]models.Membership
}

func membershipKey(portfolioID, userID string) string {
	return portfolioID + "_" + userID
}

func (s *MemMembershipStore) Save(_ context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[membershipKey(m.PortfolioID, m.UserID)] = *m
	return nil
}

func (s *MemMembershipStore) Get(_ context.Context, portfolioID, userID string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[membershipKey(portfolioID, userID)]
	if !ok {
		return nil, errors.New("membership not found")
	}
	return &m, nil
}

func (s *MemMembershipStore) ListForUser(_ context.Context, userID string, status models.MembershipStatus) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for _, m := range s.items {
		if m.UserID == userID && (status == "" || m.Status == status) {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *MemMembershipStore) ListForPortfolio(_ context.Context, portfolioID string) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for _, m := range s.items {
		if m.PortfolioID == portfolioID {
			m := m
			out = append(out, &m)
		}
	}
	return out, nil
}

func (s *MemMembershipStore) DeleteByPortfolio(_ context.Context, portfolioID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key, m := range s.items {
		if m.PortfolioID == portfolioID {
			delete(s.items, key)
			count++
		}
	}
	return count, nil
}

var _ interfaces.MembershipStore = (*MemMembershipStore)(nil)

// MemSyncStateStore holds sync states keyed by (portfolio, provider).
type MemSyncStateStore struct {
	mu     sync.Mutex
	states map[string]models.SyncState

	Saves int // write counter for concurrency assertions
}

func stateKey(portfolioID string, provider models.Provider) string {
	return portfolioID + "_" + string(provider)
}

func (s *MemSyncStateStore) Get(_ context.Context, portfolioID string, provider models.Provider) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey(portfolioID, provider)]
	if !ok {
		return nil, errors.New("sync state not found")
	}
	return &st, nil
}

func (s *MemSyncStateStore) Save(_ context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(state.PortfolioID, state.Provider)] = *state
	s.Saves++
	return nil
}

func (s *MemSyncStateStore) ListByPortfolio(_ context.Context, portfolioID string) ([]*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncState
	for _, st := range s.states {
		if st.PortfolioID == portfolioID {
			st := st
			out = append(out, &st)
		}
	}
	return out, nil
}

func (s *MemSyncStateStore) ListLinked(_ context.Context) ([]*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncState
	for _, st := range s.states {
		switch st.Status {
		case models.SyncLinked, models.SyncSynced, models.SyncError:
			st := st
			out = append(out, &st)
		}
	}
	return out, nil
}

func (s *MemSyncStateStore) DeleteByPortfolio(_ context.Context, portfolioID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key, st := range s.states {
		if st.PortfolioID == portfolioID {
			delete(s.states, key)
			count++
		}
	}
	return count, nil
}

var _ interfaces.SyncStateStore = (*MemSyncStateStore)(nil)
