package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/versofin/verso/internal/models"
)

func savePortfolio(t *testing.T, m *Manager, id, userID, name string) {
	t.Helper()
	now := time.Now()
	err := m.PortfolioStore().SavePortfolio(context.Background(), &models.Portfolio{
		ID: id, UserID: userID, Name: name, Currency: "USD", CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("save portfolio %s: %v", id, err)
	}
}

func TestPortfolioRoundTrip(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	savePortfolio(t, m, "p1", "u1", "Main")

	got, err := m.PortfolioStore().GetPortfolio(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if got.ID != "p1" || got.UserID != "u1" || got.Name != "Main" || got.Currency != "USD" {
		t.Errorf("portfolio = %+v", got)
	}

	if _, err := m.PortfolioStore().GetPortfolio(ctx, "missing"); err == nil {
		t.Error("missing portfolio should error")
	}
}

func TestHoldingRoundTrip(t *testing.T) {
	m := testManager(t)
	store := m.PortfolioStore()
	ctx := context.Background()

	savePortfolio(t, m, "p1", "u1", "Main")

	cost := 150.0
	h := &models.Holding{
		PortfolioID:  "p1",
		AssetID:      "aapl",
		Name:         "Apple Inc",
		Quantity:     10,
		AvgCost:      &cost,
		CurrentPrice: 180,
		Currency:     "USD",
		Source:       models.SourceManual,
		LastUpdated:  time.Now(),
	}
	if err := store.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("UpsertHolding failed: %v", err)
	}

	holdings, err := store.ListHoldings(ctx, "p1")
	if err != nil {
		t.Fatalf("ListHoldings failed: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(holdings))
	}
	got := holdings[0]
	if got.AssetID != "AAPL" {
		t.Errorf("asset id = %q, want normalized AAPL", got.AssetID)
	}
	if got.Quantity != 10 || got.AvgCost == nil || *got.AvgCost != 150 {
		t.Errorf("holding = %+v", got)
	}

	// Upserting the same (portfolio, source, asset) replaces, not duplicates.
	h.Quantity = 20
	if err := store.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("second UpsertHolding failed: %v", err)
	}
	holdings, _ = store.ListHoldings(ctx, "p1")
	if len(holdings) != 1 || holdings[0].Quantity != 20 {
		t.Errorf("after re-upsert: %+v", holdings)
	}

	if err := store.DeleteHolding(ctx, "p1", "AAPL", models.SourceManual); err != nil {
		t.Fatalf("DeleteHolding failed: %v", err)
	}
	holdings, _ = store.ListHoldings(ctx, "p1")
	if len(holdings) != 0 {
		t.Errorf("holdings after delete = %d", len(holdings))
	}

	// Deleting a missing holding is not an error.
	if err := store.DeleteHolding(ctx, "p1", "GONE", models.SourceManual); err != nil {
		t.Errorf("deleting a missing holding errored: %v", err)
	}
}

func TestLegacyFieldAliasesNormalized(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	savePortfolio(t, m, "p1", "u1", "Main")

	// Rows written by older deployments: asset id under "ticker" or
	// "asset_identifier", quantity under "units" or "shares", cost under
	// "cost_basis", no source.
	legacy := []map[string]any{
		{
			"portfolio_id": "p1", "ticker": "msft",
			"units": 5.0, "cost_basis": 300.0, "current_price": 400.0, "currency": "USD",
		},
		{
			"portfolio_id": "p1", "asset_identifier": "VOD.L",
			"shares": 100.0, "current_price": 70.0, "currency": "GBP",
		},
	}
	for i, record := range legacy {
		sql := "UPSERT type::record('investment', $id) CONTENT $record"
		vars := map[string]any{"id": "p1_legacy_" + string(rune('a'+i)), "record": record}
		if _, err := surrealdb.Query[any](ctx, m.db, sql, vars); err != nil {
			t.Fatalf("insert legacy row: %v", err)
		}
	}

	holdings, err := m.PortfolioStore().ListHoldings(ctx, "p1")
	if err != nil {
		t.Fatalf("ListHoldings failed: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("holdings = %d, want 2", len(holdings))
	}

	byAsset := map[string]models.Holding{}
	for _, h := range holdings {
		byAsset[h.AssetID] = h
	}

	msft, ok := byAsset["MSFT"]
	if !ok {
		t.Fatal("ticker alias not normalized to asset_id")
	}
	if msft.Quantity != 5 {
		t.Errorf("quantity from units = %v", msft.Quantity)
	}
	if msft.AvgCost == nil || *msft.AvgCost != 300 {
		t.Errorf("avg cost from cost_basis = %v", msft.AvgCost)
	}
	if msft.Source != models.SourceManual {
		t.Errorf("missing source = %q, want manual default", msft.Source)
	}

	vod, ok := byAsset["VOD.L"]
	if !ok {
		t.Fatal("asset_identifier alias not normalized")
	}
	if vod.Quantity != 100 {
		t.Errorf("quantity from shares = %v", vod.Quantity)
	}
	if vod.AvgCost != nil {
		t.Error("avg cost invented for a row without cost data")
	}

	// Writing the normalized holding back persists canonical names only.
	if err := m.PortfolioStore().UpsertHolding(ctx, &msft); err != nil {
		t.Fatalf("write-back failed: %v", err)
	}
	results, err := surrealdb.Query[[]investmentRecord](ctx, m.db,
		"SELECT * FROM investment WHERE portfolio_id = $pid AND asset_id = $aid",
		map[string]any{"pid": "p1", "aid": "MSFT"})
	if err != nil {
		t.Fatalf("query written row: %v", err)
	}
	rows := (*results)[0].Result
	if len(rows) != 1 {
		t.Fatalf("written rows = %d", len(rows))
	}
	if rows[0].Ticker != "" || rows[0].Units != nil || rows[0].CostBasis != nil {
		t.Error("write-back carried legacy alias fields")
	}
	if rows[0].AssetID != "MSFT" || rows[0].Quantity == nil {
		t.Errorf("canonical fields missing: %+v", rows[0])
	}
}

func TestReplaceProviderHoldings(t *testing.T) {
	m := testManager(t)
	store := m.PortfolioStore()
	ctx := context.Background()

	savePortfolio(t, m, "p1", "u1", "Main")

	seed := []models.Holding{
		{PortfolioID: "p1", AssetID: "GOLD", Quantity: 2, Source: models.SourceManual, Currency: "USD", LastUpdated: time.Now()},
		{PortfolioID: "p1", AssetID: "OLD", Quantity: 1, Source: models.SourcePlaid, Currency: "USD", LastUpdated: time.Now()},
		{PortfolioID: "p1", AssetID: "KEEP", Quantity: 3, Source: models.SourceTink, Currency: "EUR", LastUpdated: time.Now()},
	}
	for i := range seed {
		if err := store.UpsertHolding(ctx, &seed[i]); err != nil {
			t.Fatalf("seed holding: %v", err)
		}
	}

	replacement := []models.Holding{
		{AssetID: "AAPL", Quantity: 10, CurrentPrice: 180, Currency: "USD", LastUpdated: time.Now()},
		{AssetID: "MSFT", Quantity: 5, CurrentPrice: 400, Currency: "USD", LastUpdated: time.Now()},
	}
	if err := store.ReplaceProviderHoldings(ctx, "p1", models.SourcePlaid, replacement); err != nil {
		t.Fatalf("ReplaceProviderHoldings failed: %v", err)
	}

	holdings, _ := store.ListHoldings(ctx, "p1")
	got := map[string]models.HoldingSource{}
	for _, h := range holdings {
		got[h.AssetID] = h.Source
	}

	if len(holdings) != 4 {
		t.Errorf("holdings = %d, want manual + tink + 2 plaid", len(holdings))
	}
	if got["GOLD"] != models.SourceManual {
		t.Error("manual holding lost")
	}
	if got["KEEP"] != models.SourceTink {
		t.Error("other provider's holding lost")
	}
	if _, stale := got["OLD"]; stale {
		t.Error("stale plaid holding survived")
	}
	if got["AAPL"] != models.SourcePlaid || got["MSFT"] != models.SourcePlaid {
		t.Error("replacement holdings missing")
	}

	// An empty replacement clears the provider's rows.
	if err := store.ReplaceProviderHoldings(ctx, "p1", models.SourcePlaid, nil); err != nil {
		t.Fatalf("empty replace failed: %v", err)
	}
	holdings, _ = store.ListHoldings(ctx, "p1")
	for _, h := range holdings {
		if h.Source == models.SourcePlaid {
			t.Errorf("plaid holding %s survived empty replace", h.AssetID)
		}
	}
}

func TestDeletePortfolioCascadesInvestments(t *testing.T) {
	m := testManager(t)
	store := m.PortfolioStore()
	ctx := context.Background()

	savePortfolio(t, m, "p1", "u1", "Doomed")
	h := &models.Holding{PortfolioID: "p1", AssetID: "AAPL", Quantity: 1, Source: models.SourceManual, LastUpdated: time.Now()}
	if err := store.UpsertHolding(ctx, h); err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	if err := store.DeletePortfolio(ctx, "p1"); err != nil {
		t.Fatalf("DeletePortfolio failed: %v", err)
	}

	if _, err := store.GetPortfolio(ctx, "p1"); err == nil {
		t.Error("portfolio survived delete")
	}
	holdings, _ := store.ListHoldings(ctx, "p1")
	if len(holdings) != 0 {
		t.Errorf("holdings after delete = %d", len(holdings))
	}
}

func TestListUserPortfolios(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	savePortfolio(t, m, "owned1", "u1", "Mine A")
	savePortfolio(t, m, "owned2", "u1", "Mine B")
	savePortfolio(t, m, "shared", "u2", "Theirs")
	savePortfolio(t, m, "invited", "u3", "Pending")

	now := time.Now()
	memberships := []*models.Membership{
		{PortfolioID: "shared", UserID: "u1", Status: models.MembershipAccepted, InvitedAt: now, AcceptedAt: &now},
		{PortfolioID: "invited", UserID: "u1", Status: models.MembershipInvited, InvitedAt: now},
	}
	for _, mem := range memberships {
		if err := m.MembershipStore().Save(ctx, mem); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}

	h := &models.Holding{PortfolioID: "owned1", AssetID: "AAPL", Quantity: 1, Source: models.SourceManual, LastUpdated: now}
	if err := m.PortfolioStore().UpsertHolding(ctx, h); err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	check := func(t *testing.T, portfolios []*models.Portfolio) {
		t.Helper()
		if len(portfolios) != 3 {
			t.Fatalf("portfolios = %d, want 2 owned + 1 member", len(portfolios))
		}
		access := map[string]models.AccessType{}
		holdings := map[string]int{}
		for _, p := range portfolios {
			access[p.ID] = p.AccessType
			holdings[p.ID] = len(p.Holdings)
		}
		if access["owned1"] != models.AccessOwner || access["owned2"] != models.AccessOwner {
			t.Error("owned portfolios not tagged owner")
		}
		if access["shared"] != models.AccessMember {
			t.Error("shared portfolio not tagged member")
		}
		if _, ok := access["invited"]; ok {
			t.Error("unaccepted invitation should not grant access")
		}
		if holdings["owned1"] != 1 {
			t.Error("holdings not attached")
		}
	}

	// Server-side aggregated path (probed at startup against a fresh server).
	if !m.portfolioStore.aggregatedEnabled() {
		t.Fatal("aggregated strategy not enabled against a current server")
	}
	aggregated, err := m.PortfolioStore().ListUserPortfolios(ctx, "u1", true)
	if err != nil {
		t.Fatalf("aggregated list failed: %v", err)
	}
	check(t, aggregated)

	// Client-side join path must produce identical results.
	m.portfolioStore.aggregated.Store(false)
	joined, err := m.PortfolioStore().ListUserPortfolios(ctx, "u1", true)
	if err != nil {
		t.Fatalf("joined list failed: %v", err)
	}
	check(t, joined)
}
