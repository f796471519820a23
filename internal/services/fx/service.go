// Package fx provides currency conversion over a periodically refreshed
// rate table.
package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
	"github.com/versofin/verso/internal/models"
)

// Service implements FXService. Conversions are pure reads against the
// current table; RefreshRates swaps the table wholesale on an interval
// independent of any single conversion call.
type Service struct {
	stock  interfaces.StockDataClient
	logger *common.Logger
	pairs  []string

	mu            sync.RWMutex
	rates         map[string]float64 // "USD/EUR" → rate
	lastRefreshed time.Time

	curMu         sync.RWMutex
	assetCurrency map[string]string // asset id → native currency
}

// NewService creates a new FX service. pairs lists the currency pairs to
// keep in the rate table ("FROM/TO").
func NewService(stock interfaces.StockDataClient, pairs []string, logger *common.Logger) *Service {
	return &Service{
		stock:         stock,
		logger:        logger,
		pairs:         pairs,
		rates:         make(map[string]float64),
		assetCurrency: make(map[string]string),
	}
}

func pairKey(from, to string) string {
	return from + "/" + to
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Convert converts amount between two currency codes. Identity when the
// codes match. When no direct or inverse rate exists, the original amount is
// returned with the RateUnavailable advisory flag set: valuation proceeds
// with the unconverted figure rather than failing.
func (s *Service) Convert(amount float64, fromCurrency, toCurrency string) models.Conversion {
	from := normalizeCode(fromCurrency)
	to := normalizeCode(toCurrency)

	if from == to || from == "" || to == "" {
		return models.Conversion{Amount: amount, Rate: 1}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rates[pairKey(from, to)]; ok && rate > 0 {
		return models.Conversion{Amount: amount * rate, Rate: rate}
	}
	if rate, ok := s.rates[pairKey(to, from)]; ok && rate > 0 {
		return models.Conversion{Amount: amount / rate, Rate: 1 / rate}
	}

	return models.Conversion{Amount: amount, RateUnavailable: true}
}

// RefreshRates rebuilds the rate table from the upstream forex source. The
// previous table is kept on failure so conversions degrade to last-known
// rates rather than losing coverage.
func (s *Service) RefreshRates(ctx context.Context) error {
	fetched, err := s.stock.GetForexRates(ctx, s.pairs)
	if err != nil {
		return fmt.Errorf("failed to refresh FX rates: %w", err)
	}

	rates := make(map[string]float64, len(fetched))
	for pair, rate := range fetched {
		if rate <= 0 {
			s.logger.Warn().Str("pair", pair).Float64("rate", rate).Msg("Ignoring non-positive FX rate")
			continue
		}
		rates[normalizeCode(pair)] = rate
	}

	s.mu.Lock()
	s.rates = rates
	s.lastRefreshed = time.Now()
	s.mu.Unlock()

	s.logger.Info().Int("pairs", len(rates)).Msg("FX rate table refreshed")
	return nil
}

// SetRates replaces the rate table directly. Used at startup before the
// first scheduled refresh and by tests.
func (s *Service) SetRates(rates map[string]float64) {
	normalized := make(map[string]float64, len(rates))
	for pair, rate := range rates {
		normalized[normalizeCode(pair)] = rate
	}
	s.mu.Lock()
	s.rates = normalized
	s.lastRefreshed = time.Now()
	s.mu.Unlock()
}

// LastRefreshed returns when the rate table was last rebuilt.
func (s *Service) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefreshed
}

// ResolveAssetCurrency maps an asset to its native trading currency via the
// stock data API, caching successes. Falls back to USD when the upstream
// cannot say: certain exchange listings trade in a currency other than USD,
// which is why this is consulted before every valuation conversion.
func (s *Service) ResolveAssetCurrency(ctx context.Context, assetID string) string {
	assetID = models.NormalizeAssetID(assetID)
	if assetID == "" {
		return "USD"
	}

	s.curMu.RLock()
	cached, ok := s.assetCurrency[assetID]
	s.curMu.RUnlock()
	if ok {
		return cached
	}

	data, err := s.stock.GetStock(ctx, assetID)
	if err != nil || data.Snapshot.Currency == "" {
		s.logger.Debug().Str("asset", assetID).Err(err).Msg("Asset currency unresolved, assuming USD")
		return "USD"
	}

	currency := normalizeCode(data.Snapshot.Currency)
	s.curMu.Lock()
	s.assetCurrency[assetID] = currency
	s.curMu.Unlock()

	return currency
}

// Ensure Service implements FXService
var _ interfaces.FXService = (*Service)(nil)
