package portfolio

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/models"
	fxservice "github.com/versofin/verso/internal/services/fx"
	tcommon "github.com/versofin/verso/tests/common"
)

type stubStockClient struct {
	stocks map[string]*models.StockData
}

func (c *stubStockClient) GetStock(_ context.Context, ticker string) (*models.StockData, error) {
	if data, ok := c.stocks[ticker]; ok {
		return data, nil
	}
	return nil, errors.New("unknown ticker")
}

func (c *stubStockClient) GetForexRates(_ context.Context, _ []string) (map[string]float64, error) {
	return nil, errors.New("not used")
}

func newTestService(t *testing.T) (*Service, *tcommon.MemStorage) {
	t.Helper()

	storage := tcommon.NewMemStorage()
	stock := &stubStockClient{stocks: map[string]*models.StockData{
		"AAPL":  {Snapshot: models.StockSnapshot{Ticker: "AAPL", Name: "Apple Inc", Price: 180, Currency: "USD"}},
		"VOD.L": {Snapshot: models.StockSnapshot{Ticker: "VOD.L", Name: "Vodafone", Price: 70, Currency: "GBP"}},
	}}
	fx := fxservice.NewService(stock, nil, common.NewSilentLogger())
	fx.SetRates(map[string]float64{
		"USD/EUR": 0.90,
		"GBP/EUR": 1.15,
		"USD/GBP": 0.78,
	})
	svc := NewService(storage, fx, stock, common.NewSilentLogger())
	return svc, storage
}

func seedUser(t *testing.T, storage *tcommon.MemStorage, id, email string) {
	t.Helper()
	err := storage.Internal.SaveUser(context.Background(), &models.User{
		ID: id, Email: email, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestCreatePortfolioValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreatePortfolio(ctx, "u1", "", "USD", ""); err == nil {
		t.Error("empty name should be rejected")
	}
	if _, err := svc.CreatePortfolio(ctx, "u1", "Retirement", "EURO", ""); err == nil {
		t.Error("non-ISO currency should be rejected")
	}

	p, err := svc.CreatePortfolio(ctx, "u1", "Retirement", "eur", "long term")
	if err != nil {
		t.Fatalf("CreatePortfolio failed: %v", err)
	}
	if p.Currency != "EUR" {
		t.Errorf("currency = %q, want EUR", p.Currency)
	}
	if p.AccessType != models.AccessOwner {
		t.Errorf("access type = %q, want owner", p.AccessType)
	}
}

func TestGetPortfolioAccessControl(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreatePortfolio(ctx, "owner", "Main", "USD", "")

	if _, err := svc.GetPortfolio(ctx, "stranger", p.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("stranger access error = %v, want ErrAccessDenied", err)
	}
	if _, err := svc.GetPortfolio(ctx, "owner", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing portfolio error = %v, want ErrNotFound", err)
	}

	// Invited but not yet accepted: still denied.
	seedUser(t, storage, "friend", "friend@example.com")
	if _, err := svc.InviteMember(ctx, "owner", p.ID, "friend@example.com"); err != nil {
		t.Fatalf("InviteMember failed: %v", err)
	}
	if _, err := svc.GetPortfolio(ctx, "friend", p.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("invited-only access error = %v, want ErrAccessDenied", err)
	}

	if _, err := svc.AcceptInvite(ctx, "friend", p.ID); err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}
	got, err := svc.GetPortfolio(ctx, "friend", p.ID)
	if err != nil {
		t.Fatalf("member access failed: %v", err)
	}
	if got.AccessType != models.AccessMember {
		t.Errorf("access type = %q, want member", got.AccessType)
	}
}

func TestManualHoldingLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreatePortfolio(ctx, "u1", "Main", "USD", "")

	avgCost := 150.0
	got, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{
		AssetID:  "aapl",
		Quantity: 10,
		AvgCost:  &avgCost,
	})
	if err != nil {
		t.Fatalf("AddManualHolding failed: %v", err)
	}
	if len(got.Holdings) != 1 {
		t.Fatalf("holdings = %d, want 1", len(got.Holdings))
	}

	h := got.Holdings[0]
	if h.AssetID != "AAPL" {
		t.Errorf("asset id = %q, want normalized AAPL", h.AssetID)
	}
	if h.Source != models.SourceManual {
		t.Errorf("source = %q, want manual", h.Source)
	}
	if h.CurrentPrice != 180 {
		t.Errorf("price = %v, want 180 from stock API", h.CurrentPrice)
	}
	if h.Currency != "USD" {
		t.Errorf("currency = %q, want USD", h.Currency)
	}

	// Update quantity; avg cost preserved when not supplied.
	got, err = svc.UpdateManualHolding(ctx, "u1", p.ID, "AAPL", 20, nil)
	if err != nil {
		t.Fatalf("UpdateManualHolding failed: %v", err)
	}
	h = got.Holdings[0]
	if h.Quantity != 20 {
		t.Errorf("quantity = %v, want 20", h.Quantity)
	}
	if h.AvgCost == nil || *h.AvgCost != 150 {
		t.Error("avg cost lost on update")
	}

	// Zero quantity deletes.
	got, err = svc.UpdateManualHolding(ctx, "u1", p.ID, "AAPL", 0, nil)
	if err != nil {
		t.Fatalf("zero-quantity update failed: %v", err)
	}
	if len(got.Holdings) != 0 {
		t.Errorf("holdings after zero-quantity update = %d, want 0", len(got.Holdings))
	}

	// Negative quantity rejected.
	if _, err := svc.UpdateManualHolding(ctx, "u1", p.ID, "AAPL", -1, nil); err == nil {
		t.Error("negative quantity should be rejected")
	}
}

func TestAddManualHoldingValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, _ := svc.CreatePortfolio(ctx, "u1", "Main", "USD", "")

	if _, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{AssetID: " ", Quantity: 1}); err == nil {
		t.Error("blank asset id should be rejected")
	}
	if _, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{AssetID: "AAPL", Quantity: 0}); err == nil {
		t.Error("zero quantity should be rejected")
	}
	neg := -5.0
	if _, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{AssetID: "AAPL", Quantity: 1, AvgCost: &neg}); err == nil {
		t.Error("negative avg cost should be rejected")
	}
}

func TestValuationMultiCurrency(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// EUR display portfolio holding USD and GBP assets.
	p, _ := svc.CreatePortfolio(ctx, "u1", "Global", "EUR", "")

	cost := 150.0
	if _, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{AssetID: "AAPL", Quantity: 10, AvgCost: &cost}); err != nil {
		t.Fatalf("add AAPL: %v", err)
	}
	if _, err := svc.AddManualHolding(ctx, "u1", p.ID, &models.Holding{AssetID: "VOD.L", Quantity: 100}); err != nil {
		t.Fatalf("add VOD.L: %v", err)
	}

	got, err := svc.GetPortfolio(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}

	// AAPL: 10 * 180 USD = 1800 USD -> 1620 EUR. VOD: 100 * 70 GBP -> 8050 EUR.
	var sum float64
	for _, h := range got.Holdings {
		sum += h.MarketValue
		if h.RateUnavailable {
			t.Errorf("holding %s flagged rate unavailable", h.AssetID)
		}
	}
	if math.Abs(got.TotalValue-sum) > 1e-6 {
		t.Errorf("total %v != holding sum %v", got.TotalValue, sum)
	}
	if math.Abs(got.TotalValue-(1620+8050)) > 1e-6 {
		t.Errorf("total value = %v, want 9670", got.TotalValue)
	}
	if got.RateIncomplete {
		t.Error("portfolio flagged rate incomplete with full coverage")
	}

	// AAPL gain: (1800 - 1500) USD * 0.90 = 270 EUR. VOD has no cost basis.
	if math.Abs(got.GainLoss-270) > 1e-6 {
		t.Errorf("gain = %v, want 270", got.GainLoss)
	}
	for _, h := range got.Holdings {
		if h.AssetID == "VOD.L" && h.GainLoss != nil {
			t.Error("holding without cost basis should omit gain")
		}
	}
}

func TestValuationMissingRateIsAdvisory(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreatePortfolio(ctx, "u1", "Nordic", "SEK", "")

	// Seed a holding in a currency with no SEK rate in the table.
	err := storage.Portfolios.UpsertHolding(ctx, &models.Holding{
		PortfolioID:  p.ID,
		AssetID:      "AAPL",
		Quantity:     5,
		CurrentPrice: 180,
		Currency:     "USD",
		Source:       models.SourceManual,
	})
	if err != nil {
		t.Fatalf("seed holding: %v", err)
	}

	got, err := svc.GetPortfolio(ctx, "u1", p.ID)
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !got.RateIncomplete {
		t.Error("missing rate should set the portfolio advisory flag")
	}
	if got.Holdings[0].MarketValue != 900 {
		t.Errorf("unconverted value = %v, want 900 passthrough", got.Holdings[0].MarketValue)
	}
}

func TestListUserPortfoliosMergesAccess(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	owned, _ := svc.CreatePortfolio(ctx, "u1", "Mine", "USD", "")
	shared, _ := svc.CreatePortfolio(ctx, "u2", "Theirs", "USD", "")

	seedUser(t, storage, "u1", "u1@example.com")
	if _, err := svc.InviteMember(ctx, "u2", shared.ID, "u1@example.com"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, "u1", shared.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	list, err := svc.ListUserPortfolios(ctx, "u1", false)
	if err != nil {
		t.Fatalf("ListUserPortfolios failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	access := map[string]models.AccessType{}
	for _, p := range list {
		access[p.ID] = p.AccessType
	}
	if access[owned.ID] != models.AccessOwner {
		t.Errorf("owned portfolio tagged %q", access[owned.ID])
	}
	if access[shared.ID] != models.AccessMember {
		t.Errorf("shared portfolio tagged %q", access[shared.ID])
	}
}

func TestDeletePortfolioCascades(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreatePortfolio(ctx, "u1", "Main", "USD", "")
	seedUser(t, storage, "u2", "u2@example.com")
	if _, err := svc.InviteMember(ctx, "u1", p.ID, "u2@example.com"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	state := models.NewSyncState(p.ID, models.ProviderPlaid)
	if err := storage.States.Save(ctx, state); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	// Member cannot delete.
	if err := svc.DeletePortfolio(ctx, "u2", p.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("member delete error = %v, want ErrAccessDenied", err)
	}

	if err := svc.DeletePortfolio(ctx, "u1", p.ID); err != nil {
		t.Fatalf("DeletePortfolio failed: %v", err)
	}
	if _, err := svc.GetPortfolio(ctx, "u1", p.ID); !errors.Is(err, ErrNotFound) {
		t.Error("portfolio survived delete")
	}
	if states, _ := storage.States.ListByPortfolio(ctx, p.ID); len(states) != 0 {
		t.Error("sync states survived delete")
	}
	if ms, _ := storage.Memberships.ListForPortfolio(ctx, p.ID); len(ms) != 0 {
		t.Error("memberships survived delete")
	}
}

func TestInviteMemberRejectsOwnerAndUnknown(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	seedUser(t, storage, "u1", "owner@example.com")
	p, _ := svc.CreatePortfolio(ctx, "u1", "Main", "USD", "")

	if _, err := svc.InviteMember(ctx, "u1", p.ID, "owner@example.com"); err == nil {
		t.Error("inviting the owner should fail")
	}
	if _, err := svc.InviteMember(ctx, "u1", p.ID, "ghost@example.com"); err == nil {
		t.Error("inviting an unknown email should fail")
	}
}

func TestAcceptInviteIdempotent(t *testing.T) {
	svc, storage := newTestService(t)
	ctx := context.Background()

	p, _ := svc.CreatePortfolio(ctx, "u1", "Main", "USD", "")
	seedUser(t, storage, "u2", "u2@example.com")
	if _, err := svc.InviteMember(ctx, "u1", p.ID, "u2@example.com"); err != nil {
		t.Fatalf("invite: %v", err)
	}

	first, err := svc.AcceptInvite(ctx, "u2", p.ID)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := svc.AcceptInvite(ctx, "u2", p.ID)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if second.Status != models.MembershipAccepted || first.Status != models.MembershipAccepted {
		t.Error("accept not idempotent")
	}
}
