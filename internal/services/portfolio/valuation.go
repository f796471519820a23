package portfolio

import (
	"context"

	"github.com/versofin/verso/internal/models"
)

// valuePortfolio computes per-holding and portfolio-level value, gain/loss,
// and return percentage in the portfolio's display currency.
//
// Gain/loss uses today's exchange rate for both the current value and the
// cost basis: per-transaction historical rates are not persisted, so
// cross-currency gain/loss is an approximation.
func (s *Service) valuePortfolio(ctx context.Context, p *models.Portfolio) {
	var totalValue, totalCost, totalGain float64
	var anyCost, rateIncomplete bool

	for i := range p.Holdings {
		h := &p.Holdings[i]

		// Native currency is resolved at ingestion; consult the resolver for
		// rows that predate currency capture.
		currency := h.Currency
		if currency == "" {
			currency = s.fx.ResolveAssetCurrency(ctx, h.AssetID)
			h.Currency = currency
		}

		conv := s.fx.Convert(h.Quantity*h.CurrentPrice, currency, p.Currency)
		h.MarketValue = conv.Amount
		h.RateUnavailable = conv.RateUnavailable
		if conv.RateUnavailable {
			rateIncomplete = true
		}
		totalValue += h.MarketValue

		if h.AvgCost == nil {
			h.GainLoss = nil
			h.GainLossPct = nil
			continue
		}

		costConv := s.fx.Convert(h.Quantity*(*h.AvgCost), currency, p.Currency)
		if costConv.RateUnavailable {
			rateIncomplete = true
			h.RateUnavailable = true
		}

		gain := h.MarketValue - costConv.Amount
		h.GainLoss = &gain
		if costConv.Amount > 0 {
			pct := gain / costConv.Amount * 100
			h.GainLossPct = &pct
		} else {
			h.GainLossPct = nil
		}

		anyCost = true
		totalCost += costConv.Amount
		totalGain += gain
	}

	p.TotalValue = totalValue
	p.RateIncomplete = rateIncomplete
	if anyCost {
		p.TotalCost = totalCost
		p.GainLoss = totalGain
		if totalCost > 0 {
			p.GainLossPct = totalGain / totalCost * 100
		}
	}
}
