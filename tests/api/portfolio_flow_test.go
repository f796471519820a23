package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versofin/verso/internal/models"
)

// TestPortfolioLinkAndSyncFlow walks the full happy path over HTTP:
// register, create a portfolio, add a manual holding, link Plaid, sync,
// and read back the valued portfolio. Provider holdings are replaced
// wholesale on each sync; the manual holding must survive every step.
func TestPortfolioLinkAndSyncFlow(t *testing.T) {
	env := setupEnv(t)
	token := registerUser(t, env, "owner@example.com")

	// Create portfolio
	status, body := env.request(t, http.MethodPost, "/api/portfolios", token, map[string]any{
		"name":     "Retirement",
		"currency": "USD",
	})
	require.Equal(t, http.StatusCreated, status, "create portfolio: %s", string(body))

	var created models.Portfolio
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)
	portfolioPath := "/api/portfolios/" + created.ID

	// Manual holding, entered before any provider is linked
	status, body = env.request(t, http.MethodPost, portfolioPath+"/holdings", token, map[string]any{
		"asset_id": "gold",
		"quantity": 2.0,
		"avg_cost": 1800.0,
	})
	require.Equal(t, http.StatusCreated, status, "add manual holding: %s", string(body))

	// Start the Plaid link flow
	status, body = env.request(t, http.MethodPost, portfolioPath+"/link", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusOK, status, "request link: %s", string(body))

	var link models.LinkRequest
	require.NoError(t, json.Unmarshal(body, &link))
	assert.Equal(t, models.ProviderPlaid, link.Provider)
	assert.Equal(t, "link-sandbox-e2e", link.LinkToken)

	t.Run("state_is_connecting_during_link", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, portfolioPath+"/sync", token, nil)
		require.Equal(t, http.StatusOK, status)

		states := decodeSyncStates(t, body)
		require.Contains(t, states, models.ProviderPlaid)
		assert.Equal(t, models.SyncConnecting, states[models.ProviderPlaid].Status)
	})

	// Complete the link with the public token from the modal
	status, body = env.request(t, http.MethodPost, portfolioPath+"/link/complete", token, map[string]any{
		"public_token":     "public-sandbox-e2e",
		"institution_id":   "ins_1",
		"institution_name": "Sandbox Bank",
	})
	require.Equal(t, http.StatusOK, status, "complete link: %s", string(body))

	var linked models.SyncState
	require.NoError(t, json.Unmarshal(body, &linked))
	assert.Equal(t, models.SyncLinked, linked.Status)

	// First sync pulls AAPL and MSFT from the stub
	status, body = env.request(t, http.MethodPost, portfolioPath+"/sync", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusOK, status, "sync: %s", string(body))

	var synced models.SyncState
	require.NoError(t, json.Unmarshal(body, &synced))
	assert.Equal(t, models.SyncSynced, synced.Status)
	assert.NotNil(t, synced.LastSyncedAt, "last_synced_at should be set after a successful sync")

	status, body = env.request(t, http.MethodGet, portfolioPath, token, nil)
	require.Equal(t, http.StatusOK, status)

	var got models.Portfolio
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Holdings, 3, "manual gold plus two synced holdings")

	byAsset := holdingsByAsset(got)
	require.Contains(t, byAsset, "GOLD")
	require.Contains(t, byAsset, "AAPL")
	require.Contains(t, byAsset, "MSFT")

	t.Run("sources_tagged", func(t *testing.T) {
		assert.Equal(t, models.SourceManual, byAsset["GOLD"].Source)
		assert.Equal(t, models.SourcePlaid, byAsset["AAPL"].Source)
		assert.Equal(t, models.SourcePlaid, byAsset["MSFT"].Source)
	})

	t.Run("cost_basis_converted_per_unit", func(t *testing.T) {
		require.NotNil(t, byAsset["AAPL"].AvgCost, "AAPL carried a cost basis")
		assert.InDelta(t, 150.0, *byAsset["AAPL"].AvgCost, 0.001, "1500 basis over 10 units")
		assert.Nil(t, byAsset["MSFT"].AvgCost, "MSFT had no cost basis")
	})

	t.Run("totals_sum_holdings", func(t *testing.T) {
		var sum float64
		for _, h := range got.Holdings {
			assert.Greater(t, h.MarketValue, 0.0, "holding %s should have a market value", h.AssetID)
			sum += h.MarketValue
		}
		assert.InDelta(t, sum, got.TotalValue, 0.01, "total should equal the holding sum")
	})

	// Second sync with a changed provider book: MSFT sold, AAPL trimmed.
	// The replace must drop MSFT and leave the manual holding alone.
	env.plaid.setHoldings(
		[]map[string]any{
			{"security_id": "sec-aapl", "quantity": 4.0, "cost_basis": 600.0, "institution_price": 185.0, "iso_currency_code": "USD"},
		},
		[]map[string]any{
			{"security_id": "sec-aapl", "ticker_symbol": "AAPL", "name": "Apple Inc", "iso_currency_code": "USD"},
		},
	)

	status, body = env.request(t, http.MethodPost, portfolioPath+"/sync", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusOK, status, "second sync: %s", string(body))

	status, body = env.request(t, http.MethodGet, portfolioPath, token, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &got))

	byAsset = holdingsByAsset(got)
	assert.NotContains(t, byAsset, "MSFT", "sold position should be gone after replace")
	require.Contains(t, byAsset, "AAPL")
	assert.InDelta(t, 4.0, byAsset["AAPL"].Quantity, 0.001)
	require.Contains(t, byAsset, "GOLD", "manual holding must survive provider syncs")
	assert.InDelta(t, 2.0, byAsset["GOLD"].Quantity, 0.001)
}

// TestSyncAuthFailureRequiresRelink verifies that a provider auth rejection
// mid-sync surfaces as 409 reconnect_required and tears the connection down,
// while previously synced holdings stay readable.
func TestSyncAuthFailureRequiresRelink(t *testing.T) {
	env := setupEnv(t)
	token := registerUser(t, env, "owner@example.com")

	status, body := env.request(t, http.MethodPost, "/api/portfolios", token, map[string]any{
		"name": "Brokerage",
	})
	require.Equal(t, http.StatusCreated, status, "create portfolio: %s", string(body))

	var created models.Portfolio
	require.NoError(t, json.Unmarshal(body, &created))
	portfolioPath := "/api/portfolios/" + created.ID

	status, body = env.request(t, http.MethodPost, portfolioPath+"/link", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusOK, status, "request link: %s", string(body))

	status, body = env.request(t, http.MethodPost, portfolioPath+"/link/complete", token, map[string]any{
		"public_token": "public-sandbox-e2e",
	})
	require.Equal(t, http.StatusOK, status, "complete link: %s", string(body))

	// First sync succeeds and stores holdings
	status, body = env.request(t, http.MethodPost, portfolioPath+"/sync", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusOK, status, "initial sync: %s", string(body))

	// Credentials expire upstream
	env.plaid.setInvestmentsError("ITEM_LOGIN_REQUIRED")

	status, body = env.request(t, http.MethodPost, portfolioPath+"/sync", token, map[string]any{
		"provider": "plaid",
	})
	require.Equal(t, http.StatusConflict, status, "auth failure should map to 409: %s", string(body))

	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "reconnect_required", errResp.Code)

	t.Run("state_torn_down", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, portfolioPath+"/sync", token, nil)
		require.Equal(t, http.StatusOK, status)

		states := decodeSyncStates(t, body)
		require.Contains(t, states, models.ProviderPlaid)
		assert.Equal(t, models.SyncNotConnected, states[models.ProviderPlaid].Status)
		assert.True(t, states[models.ProviderPlaid].ReconnectNeeded)
	})

	t.Run("last_known_good_holdings_survive", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, portfolioPath, token, nil)
		require.Equal(t, http.StatusOK, status)

		var got models.Portfolio
		require.NoError(t, json.Unmarshal(body, &got))
		assert.NotEmpty(t, got.Holdings, "failed sync must not wipe the last successful snapshot")
	})
}

func decodeSyncStates(t *testing.T, body []byte) map[models.Provider]*models.SyncState {
	t.Helper()

	var resp struct {
		SyncStates []*models.SyncState `json:"sync_states"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))

	states := make(map[models.Provider]*models.SyncState, len(resp.SyncStates))
	for _, st := range resp.SyncStates {
		states[st.Provider] = st
	}
	return states
}

func holdingsByAsset(p models.Portfolio) map[string]models.Holding {
	byAsset := make(map[string]models.Holding, len(p.Holdings))
	for _, h := range p.Holdings {
		byAsset[h.AssetID] = h
	}
	return byAsset
}
