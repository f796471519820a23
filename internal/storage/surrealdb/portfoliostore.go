package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/models"
)

// PortfolioStore reads and writes portfolio and investment records.
//
// Listing a user's portfolios has two strategies: a server-side function
// (fn::user_portfolios) that resolves ownership and membership in one round
// trip, and a client-side join of three queries. The server-side path is
// probed once at startup and abandoned permanently on the first runtime
// failure. Both paths produce identical results.
type PortfolioStore struct {
	db     *surrealdb.DB
	logger *common.Logger

	aggregated atomic.Bool
}

func NewPortfolioStore(db *surrealdb.DB, logger *common.Logger) *PortfolioStore {
	return &PortfolioStore{
		db:     db,
		logger: logger,
	}
}

// portfolioRecord is the stored shape of a portfolio. The record id carries
// the portfolio id, so the content deliberately has no id field.
type portfolioRecord struct {
	PortfolioID string    `json:"portfolio_id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newPortfolioRecord(p *models.Portfolio) portfolioRecord {
	return portfolioRecord{
		PortfolioID: p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		Description: p.Description,
		Currency:    p.Currency,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func (r portfolioRecord) toModel() *models.Portfolio {
	return &models.Portfolio{
		ID:          r.PortfolioID,
		UserID:      r.UserID,
		Name:        r.Name,
		Description: r.Description,
		Currency:    r.Currency,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// investmentRecord is the stored shape of a holding. Legacy rows carry the
// asset id under "ticker" or "asset_identifier" and the quantity under
// "units" or "shares"; all aliases are read, only canonical names are
// written.
type investmentRecord struct {
	PortfolioID     string               `json:"portfolio_id"`
	AssetID         string               `json:"asset_id,omitempty"`
	Ticker          string               `json:"ticker,omitempty"`
	AssetIdentifier string               `json:"asset_identifier,omitempty"`
	Name            string               `json:"name,omitempty"`
	Quantity        *float64             `json:"quantity,omitempty"`
	Units           *float64             `json:"units,omitempty"`
	Shares          *float64             `json:"shares,omitempty"`
	AvgCost         *float64             `json:"avg_cost,omitempty"`
	CostBasis       *float64             `json:"cost_basis,omitempty"`
	CurrentPrice    float64              `json:"current_price"`
	Currency        string               `json:"currency,omitempty"`
	Source          models.HoldingSource `json:"source"`
	LastUpdated     time.Time            `json:"last_updated"`
}

func newInvestmentRecord(h *models.Holding) investmentRecord {
	qty := h.Quantity
	return investmentRecord{
		PortfolioID:  h.PortfolioID,
		AssetID:      models.NormalizeAssetID(h.AssetID),
		Name:         h.Name,
		Quantity:     &qty,
		AvgCost:      h.AvgCost,
		CurrentPrice: h.CurrentPrice,
		Currency:     h.Currency,
		Source:       h.Source,
		LastUpdated:  h.LastUpdated,
	}
}

func (r investmentRecord) canonical() models.Holding {
	assetID := r.AssetID
	if assetID == "" {
		assetID = r.Ticker
	}
	if assetID == "" {
		assetID = r.AssetIdentifier
	}

	qty := 0.0
	switch {
	case r.Quantity != nil:
		qty = *r.Quantity
	case r.Units != nil:
		qty = *r.Units
	case r.Shares != nil:
		qty = *r.Shares
	}

	avgCost := r.AvgCost
	if avgCost == nil {
		avgCost = r.CostBasis
	}

	source := r.Source
	if source == "" {
		source = models.SourceManual
	}

	return models.Holding{
		PortfolioID:  r.PortfolioID,
		AssetID:      models.NormalizeAssetID(assetID),
		Name:         r.Name,
		Quantity:     qty,
		AvgCost:      avgCost,
		CurrentPrice: r.CurrentPrice,
		Currency:     r.Currency,
		Source:       source,
		LastUpdated:  r.LastUpdated,
	}
}

func holdingID(portfolioID string, source models.HoldingSource, assetID string) string {
	return portfolioID + "_" + string(source) + "_" + models.NormalizeAssetID(assetID)
}

const userPortfoliosFn = `
DEFINE FUNCTION IF NOT EXISTS fn::user_portfolios($user_id: string) {
    LET $owned = (SELECT * FROM portfolio WHERE user_id = $user_id);
    LET $ids = (SELECT VALUE portfolio_id FROM membership WHERE user_id = $user_id AND status = 'accepted');
    LET $member = (SELECT * FROM portfolio WHERE portfolio_id IN $ids);
    RETURN { owned: $owned, member: $member };
};`

type userPortfoliosResult struct {
	Owned  []portfolioRecord `json:"owned"`
	Member []portfolioRecord `json:"member"`
}

// probeAggregated defines the server-side function and exercises it once.
// Any failure leaves the store on the client-side join.
func (s *PortfolioStore) probeAggregated(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, s.db, userPortfoliosFn, nil); err != nil {
		return fmt.Errorf("define fn::user_portfolios: %w", err)
	}
	sql := "RETURN fn::user_portfolios($user_id)"
	vars := map[string]any{"user_id": "_probe"}
	if _, err := surrealdb.Query[userPortfoliosResult](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("probe fn::user_portfolios: %w", err)
	}
	s.aggregated.Store(true)
	return nil
}

func (s *PortfolioStore) aggregatedEnabled() bool {
	return s.aggregated.Load()
}

func (s *PortfolioStore) ListUserPortfolios(ctx context.Context, userID string, includeHoldings bool) ([]*models.Portfolio, error) {
	var owned, member []*models.Portfolio
	var err error

	if s.aggregated.Load() {
		owned, member, err = s.listAggregated(ctx, userID)
		if err != nil {
			// One failure demotes the strategy for the process lifetime.
			s.aggregated.Store(false)
			s.logger.Warn().Err(err).Msg("Aggregated portfolio query failed, switching to client-side join")
		}
	}
	if !s.aggregated.Load() {
		owned, member, err = s.listJoined(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	merged, conflicts := models.MergeByAccess(owned, member)
	if conflicts > 0 {
		s.logger.Warn().
			Str("user_id", userID).
			Int("conflicts", conflicts).
			Msg("Duplicate portfolio access resolved in favor of ownership")
	}

	if includeHoldings {
		if err := s.attachHoldings(ctx, merged); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func (s *PortfolioStore) listAggregated(ctx context.Context, userID string) ([]*models.Portfolio, []*models.Portfolio, error) {
	sql := "RETURN fn::user_portfolios($user_id)"
	vars := map[string]any{"user_id": userID}

	results, err := surrealdb.Query[userPortfoliosResult](ctx, s.db, sql, vars)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run aggregated portfolio query: %w", err)
	}

	var owned, member []*models.Portfolio
	if results != nil && len(*results) > 0 {
		res := (*results)[0].Result
		for _, r := range res.Owned {
			owned = append(owned, r.toModel())
		}
		for _, r := range res.Member {
			member = append(member, r.toModel())
		}
	}
	return owned, member, nil
}

func (s *PortfolioStore) listJoined(ctx context.Context, userID string) ([]*models.Portfolio, []*models.Portfolio, error) {
	ownedSQL := "SELECT * FROM portfolio WHERE user_id = $user_id"
	vars := map[string]any{"user_id": userID}

	ownedRes, err := surrealdb.Query[[]portfolioRecord](ctx, s.db, ownedSQL, vars)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query owned portfolios: %w", err)
	}

	idsSQL := "SELECT VALUE portfolio_id FROM membership WHERE user_id = $user_id AND status = $status"
	idsVars := map[string]any{"user_id": userID, "status": models.MembershipAccepted}

	idsRes, err := surrealdb.Query[[]string](ctx, s.db, idsSQL, idsVars)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query memberships: %w", err)
	}

	var memberIDs []string
	if idsRes != nil && len(*idsRes) > 0 {
		memberIDs = (*idsRes)[0].Result
	}

	var memberRes *[]surrealdb.QueryResult[[]portfolioRecord]
	if len(memberIDs) > 0 {
		memberSQL := "SELECT * FROM portfolio WHERE portfolio_id IN $ids"
		memberRes, err = surrealdb.Query[[]portfolioRecord](ctx, s.db, memberSQL, map[string]any{"ids": memberIDs})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to query member portfolios: %w", err)
		}
	}

	var owned, member []*models.Portfolio
	if ownedRes != nil && len(*ownedRes) > 0 {
		for _, r := range (*ownedRes)[0].Result {
			owned = append(owned, r.toModel())
		}
	}
	if memberRes != nil && len(*memberRes) > 0 {
		for _, r := range (*memberRes)[0].Result {
			member = append(member, r.toModel())
		}
	}
	return owned, member, nil
}

func (s *PortfolioStore) attachHoldings(ctx context.Context, portfolios []*models.Portfolio) error {
	if len(portfolios) == 0 {
		return nil
	}

	ids := make([]string, 0, len(portfolios))
	for _, p := range portfolios {
		ids = append(ids, p.ID)
	}

	sql := "SELECT * FROM investment WHERE portfolio_id IN $ids"
	results, err := surrealdb.Query[[]investmentRecord](ctx, s.db, sql, map[string]any{"ids": ids})
	if err != nil {
		return fmt.Errorf("failed to query holdings: %w", err)
	}

	byPortfolio := make(map[string][]models.Holding)
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			h := r.canonical()
			byPortfolio[h.PortfolioID] = append(byPortfolio[h.PortfolioID], h)
		}
	}
	for _, p := range portfolios {
		p.Holdings = byPortfolio[p.ID]
	}
	return nil
}

func (s *PortfolioStore) GetPortfolio(ctx context.Context, portfolioID string) (*models.Portfolio, error) {
	record, err := surrealdb.Select[portfolioRecord](ctx, s.db, surrealmodels.NewRecordID("portfolio", portfolioID))
	if err != nil {
		return nil, fmt.Errorf("failed to select portfolio: %w", err)
	}
	if record == nil || record.PortfolioID == "" {
		return nil, errors.New("portfolio not found")
	}
	return record.toModel(), nil
}

func (s *PortfolioStore) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	record := newPortfolioRecord(p)
	sql := "UPSERT type::record('portfolio', $id) CONTENT $portfolio"
	vars := map[string]any{"id": p.ID, "portfolio": record}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]portfolioRecord](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to save portfolio after retries: %w", err)
		}
	}
	return nil
}

func (s *PortfolioStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	sql := `
BEGIN TRANSACTION;
DELETE type::record('portfolio', $id);
DELETE investment WHERE portfolio_id = $id;
COMMIT TRANSACTION;`
	vars := map[string]any{"id": portfolioID}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	return nil
}

func (s *PortfolioStore) ListHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error) {
	sql := "SELECT * FROM investment WHERE portfolio_id = $portfolio_id"
	vars := map[string]any{"portfolio_id": portfolioID}

	results, err := surrealdb.Query[[]investmentRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	var holdings []models.Holding
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			holdings = append(holdings, r.canonical())
		}
	}
	return holdings, nil
}

func (s *PortfolioStore) UpsertHolding(ctx context.Context, h *models.Holding) error {
	record := newInvestmentRecord(h)
	sql := "UPSERT type::record('investment', $id) CONTENT $investment"
	vars := map[string]any{
		"id":         holdingID(h.PortfolioID, h.Source, h.AssetID),
		"investment": record,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]investmentRecord](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to upsert holding after retries: %w", err)
		}
	}
	return nil
}

func (s *PortfolioStore) DeleteHolding(ctx context.Context, portfolioID, assetID string, source models.HoldingSource) error {
	_, err := surrealdb.Delete[investmentRecord](ctx, s.db, surrealmodels.NewRecordID("investment", holdingID(portfolioID, source, assetID)))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// ReplaceProviderHoldings swaps the full set of provider-sourced holdings in
// one transaction. A failed sync write leaves the previous snapshot intact,
// and manual holdings are never touched.
func (s *PortfolioStore) ReplaceProviderHoldings(ctx context.Context, portfolioID string, source models.HoldingSource, holdings []models.Holding) error {
	rows := make([]map[string]any, 0, len(holdings))
	for i := range holdings {
		h := holdings[i]
		h.PortfolioID = portfolioID
		h.Source = source
		rows = append(rows, map[string]any{
			"id":     holdingID(portfolioID, source, h.AssetID),
			"record": newInvestmentRecord(&h),
		})
	}

	sql := `
BEGIN TRANSACTION;
DELETE investment WHERE portfolio_id = $portfolio_id AND source = $source;
FOR $row IN $rows {
    UPSERT type::record('investment', $row.id) CONTENT $row.record;
};
COMMIT TRANSACTION;`
	vars := map[string]any{
		"portfolio_id": portfolioID,
		"source":       source,
		"rows":         rows,
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to replace provider holdings after retries: %w", err)
		}
	}
	return nil
}

func (s *PortfolioStore) Close() error {
	return nil
}
