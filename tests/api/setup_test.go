package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/versofin/verso/internal/app"
	"github.com/versofin/verso/internal/clients/plaid"
	"github.com/versofin/verso/internal/clients/stockapi"
	"github.com/versofin/verso/internal/clients/tink"
	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/server"
	fxservice "github.com/versofin/verso/internal/services/fx"
	portfolioservice "github.com/versofin/verso/internal/services/portfolio"
	syncservice "github.com/versofin/verso/internal/services/sync"
	"github.com/versofin/verso/internal/storage/surrealdb"
	tcommon "github.com/versofin/verso/tests/common"
)

// plaidStub fakes the three Plaid endpoints the sync flow touches. Holdings
// and the investments error are mutable so tests can change provider
// behaviour between syncs.
type plaidStub struct {
	mu             sync.Mutex
	investmentsErr string // Plaid error_code; empty means success
	holdings       []map[string]any
	securities     []map[string]any

	srv *httptest.Server
}

func newPlaidStub() *plaidStub {
	p := &plaidStub{}
	p.setDefaultHoldings()

	mux := http.NewServeMux()
	mux.HandleFunc("/link/token/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"link_token": "link-sandbox-e2e",
			"expiration": time.Now().Add(30 * time.Minute).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/item/public_token/exchange", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-sandbox-e2e",
			"item_id":      "item-e2e",
		})
	})
	mux.HandleFunc("/investments/holdings/get", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.investmentsErr != "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error_type":    "ITEM_ERROR",
				"error_code":    p.investmentsErr,
				"error_message": "stubbed provider failure",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"holdings":   p.holdings,
			"securities": p.securities,
		})
	})

	p.srv = httptest.NewServer(mux)
	return p
}

func (p *plaidStub) setDefaultHoldings() {
	p.holdings = []map[string]any{
		{"security_id": "sec-aapl", "quantity": 10.0, "cost_basis": 1500.0, "institution_price": 180.0, "iso_currency_code": "USD"},
		{"security_id": "sec-msft", "quantity": 5.0, "institution_price": 410.0, "iso_currency_code": "USD"},
	}
	p.securities = []map[string]any{
		{"security_id": "sec-aapl", "ticker_symbol": "AAPL", "name": "Apple Inc", "iso_currency_code": "USD"},
		{"security_id": "sec-msft", "ticker_symbol": "MSFT", "name": "Microsoft Corp", "iso_currency_code": "USD"},
	}
}

func (p *plaidStub) setInvestmentsError(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.investmentsErr = code
}

func (p *plaidStub) setHoldings(holdings, securities []map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdings = holdings
	p.securities = securities
}

// newStockStub fakes the stock data API with fixed quotes and forex rates.
func newStockStub() *httptest.Server {
	quotes := map[string]struct {
		price    float64
		currency string
	}{
		"AAPL": {180.0, "USD"},
		"MSFT": {410.0, "USD"},
		"GOLD": {1900.0, "USD"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stock", func(w http.ResponseWriter, r *http.Request) {
		ticker := r.URL.Query().Get("ticker")
		q, ok := quotes[ticker]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown ticker"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot": map[string]any{
				"ticker":   ticker,
				"price":    q.price,
				"currency": q.currency,
			},
		})
	})
	mux.HandleFunc("/api/forex", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"rates": map[string]float64{
				"USD/EUR": 0.90,
				"USD/GBP": 0.78,
			},
		})
	})

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testEnv is a fully wired server over real SurrealDB storage with stubbed
// upstream providers.
type testEnv struct {
	ts    *httptest.Server
	plaid *plaidStub
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	container := tcommon.StartSurrealDB(t)
	plaidSrv := newPlaidStub()
	stockSrv := newStockStub()

	config := common.NewDefaultConfig()
	config.Storage.Address = container.Address()
	config.Storage.Namespace = "verso_api"
	config.Storage.Database = dbNameFromTest(t.Name())
	config.Clients.Plaid.BaseURL = plaidSrv.srv.URL
	config.Clients.Plaid.ClientID = "test-client"
	config.Clients.Plaid.Secret = "test-secret"
	config.Clients.StockAPI.BaseURL = stockSrv.URL
	config.Sync.RetryBackoff = "1ms"

	logger := common.NewSilentLogger()

	storage, err := surrealdb.NewManager(logger, config)
	require.NoError(t, err, "storage manager")

	plaidClient := plaid.NewClient(config.Clients.Plaid.ClientID, config.Clients.Plaid.Secret,
		plaid.WithBaseURL(config.Clients.Plaid.BaseURL),
		plaid.WithLogger(logger),
	)
	tinkClient := tink.NewClient("test-client", "test-secret",
		tink.WithLogger(logger),
	)
	stockClient := stockapi.NewClient("",
		stockapi.WithBaseURL(config.Clients.StockAPI.BaseURL),
		stockapi.WithLogger(logger),
	)

	fxService := fxservice.NewService(stockClient, config.FX.Pairs, logger)
	require.NoError(t, fxService.RefreshRates(context.Background()), "initial rate load")

	portfolioService := portfolioservice.NewService(storage, fxService, stockClient, logger)
	syncService := syncservice.NewService(storage, plaidClient, tinkClient, fxService, config.Sync, logger)

	a := &app.App{
		Config:           config,
		Logger:           logger,
		Storage:          storage,
		PlaidClient:      plaidClient,
		TinkClient:       tinkClient,
		StockClient:      stockClient,
		FXService:        fxService,
		PortfolioService: portfolioService,
		SyncService:      syncService,
		StartupTime:      time.Now(),
	}

	ts := httptest.NewServer(server.NewServer(a).Handler())

	t.Cleanup(func() {
		ts.Close()
		storage.Close()
		plaidSrv.srv.Close()
		stockSrv.Close()
	})

	return &testEnv{ts: ts, plaid: plaidSrv}
}

func dbNameFromTest(name string) string {
	r := strings.NewReplacer("/", "_", " ", "_", "-", "_", "#", "_")
	return strings.ToLower(r.Replace(name))
}

// request performs an HTTP call against the test server and returns the
// status code and raw body.
func (e *testEnv) request(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err, "build request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err, "%s %s", method, path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read response body")
	return resp.StatusCode, raw
}

// registerUser creates an account and returns its bearer token.
func registerUser(t *testing.T, env *testEnv, email string) string {
	t.Helper()

	status, body := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":        email,
		"password":     "correct-horse-battery",
		"display_name": "E2E User",
	})
	require.Equal(t, http.StatusCreated, status, "register failed: %s", string(body))

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Token, "register should return a token")
	return resp.Token
}
