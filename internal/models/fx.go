package models

import "time"

// Conversion is the result of a currency conversion. When the rate table has
// no rate for the pair, Amount carries the original unconverted value and
// RateUnavailable is set: an unpriced holding must not prevent the rest of
// the portfolio from rendering.
type Conversion struct {
	Amount          float64 `json:"amount"`
	Rate            float64 `json:"rate,omitempty"`
	RateUnavailable bool    `json:"rate_unavailable,omitempty"`
}

// StockSnapshot is the current-quote portion of the stock data API response.
type StockSnapshot struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"` // native trading currency of the listing
	Exchange string  `json:"exchange,omitempty"`
}

// StockData is the full stock data API payload. Only the snapshot and
// company facts are consumed here: pricing holdings and resolving an
// asset's native currency.
type StockData struct {
	Snapshot         StockSnapshot    `json:"snapshot"`
	IncomeStatements []map[string]any `json:"incomeStatements,omitempty"`
	QuarterlyIncome  []map[string]any `json:"quarterlyIncome,omitempty"`
	Metrics          map[string]any   `json:"metrics,omitempty"`
	CompanyFacts     map[string]any   `json:"companyFacts,omitempty"`
	FetchedAt        time.Time        `json:"fetched_at,omitempty"`
}
