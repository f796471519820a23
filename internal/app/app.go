// Package app wires configuration, storage, clients, and services into the
// shared core used by cmd/verso-server.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/versofin/verso/internal/clients/plaid"
	"github.com/versofin/verso/internal/clients/stockapi"
	"github.com/versofin/verso/internal/clients/tink"
	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	fxservice "github.com/versofin/verso/internal/services/fx"
	portfolioservice "github.com/versofin/verso/internal/services/portfolio"
	syncservice "github.com/versofin/verso/internal/services/sync"
	"github.com/versofin/verso/internal/storage/surrealdb"
)

// App holds all initialized services and clients.
type App struct {
	Config           *common.Config
	Logger           *common.Logger
	Storage          interfaces.StorageManager
	PlaidClient      interfaces.PlaidClient
	TinkClient       interfaces.TinkClient
	StockClient      interfaces.StockDataClient
	FXService        interfaces.FXService
	PortfolioService interfaces.PortfolioService
	SyncService      interfaces.SyncService
	StartupTime      time.Time

	scheduler *scheduler
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes configuration, storage, clients, and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Config resolution: explicit path, VERSO_CONFIG, binary dir, dev fallback
	if configPath == "" {
		configPath = os.Getenv("VERSO_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "verso.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/verso.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	plaidClient := plaid.NewClient(config.Clients.Plaid.ClientID, config.Clients.Plaid.Secret,
		plaid.WithBaseURL(config.Clients.Plaid.BaseURL),
		plaid.WithLogger(logger),
		plaid.WithRateLimit(config.Clients.Plaid.RateLimit),
		plaid.WithTimeout(config.Clients.Plaid.GetTimeout()),
	)
	if config.Clients.Plaid.ClientID == "" {
		logger.Warn().Msg("Plaid credentials not configured - US linking will be unavailable")
	}

	tinkClient := tink.NewClient(config.Clients.Tink.ClientID, config.Clients.Tink.Secret,
		tink.WithBaseURL(config.Clients.Tink.BaseURL),
		tink.WithRedirectURI(config.Clients.Tink.RedirectURI),
		tink.WithLogger(logger),
		tink.WithRateLimit(config.Clients.Tink.RateLimit),
		tink.WithTimeout(config.Clients.Tink.GetTimeout()),
	)
	if config.Clients.Tink.ClientID == "" {
		logger.Warn().Msg("Tink credentials not configured - EU linking will be unavailable")
	}

	stockClient := stockapi.NewClient(config.Clients.StockAPI.APIKey,
		stockapi.WithBaseURL(config.Clients.StockAPI.BaseURL),
		stockapi.WithLogger(logger),
		stockapi.WithRateLimit(config.Clients.StockAPI.RateLimit),
		stockapi.WithTimeout(config.Clients.StockAPI.GetTimeout()),
	)

	fxService := fxservice.NewService(stockClient, config.FX.Pairs, logger)
	portfolioService := portfolioservice.NewService(storageManager, fxService, stockClient, logger)
	syncService := syncservice.NewService(storageManager, plaidClient, tinkClient, fxService, config.Sync, logger)

	// Best-effort initial rate load; the scheduler keeps the table fresh.
	if err := fxService.RefreshRates(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Initial FX rate refresh failed, conversions flagged until next refresh")
	}

	a := &App{
		Config:           config,
		Logger:           logger,
		Storage:          storageManager,
		PlaidClient:      plaidClient,
		TinkClient:       tinkClient,
		StockClient:      stockClient,
		FXService:        fxService,
		PortfolioService: portfolioService,
		SyncService:      syncService,
		StartupTime:      startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")

	return a, nil
}

// StartScheduler launches the cron scheduler for FX refresh and the
// overnight sync.
func (a *App) StartScheduler() {
	a.scheduler = newScheduler(a.Config, a.FXService, a.SyncService, a.Logger)
	a.scheduler.start()
}

// Close releases all resources held by the App.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.stop()
		a.scheduler = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
