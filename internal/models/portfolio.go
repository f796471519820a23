// Package models defines data structures for Verso
package models

import (
	"strings"
	"time"
)

// AccessType describes how a user reaches a portfolio.
type AccessType string

const (
	AccessOwner  AccessType = "owner"
	AccessMember AccessType = "member"
)

// HoldingSource identifies where a holding came from. Provider-sourced
// holdings are replaced wholesale on each successful sync for that provider;
// manual holdings persist independently.
type HoldingSource string

const (
	SourceManual HoldingSource = "manual"
	SourcePlaid  HoldingSource = "plaid"
	SourceTink   HoldingSource = "tink"
)

// SourceForProvider maps a provider to the holding source it owns.
func SourceForProvider(p Provider) HoldingSource {
	switch p {
	case ProviderPlaid:
		return SourcePlaid
	case ProviderTink:
		return SourceTink
	}
	return SourceManual
}

// Portfolio represents a user's investment portfolio. Totals are computed in
// the portfolio's display currency on response and are not persisted.
type Portfolio struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Currency    string     `json:"currency"` // display currency for all totals
	Holdings    []Holding  `json:"holdings,omitempty"`
	AccessType  AccessType `json:"access_type,omitempty"` // set on list responses
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Valuation results: computed on response, not persisted
	TotalValue     float64 `json:"total_value"`
	TotalCost      float64 `json:"total_cost,omitempty"`
	GainLoss       float64 `json:"gain_loss,omitempty"`
	GainLossPct    float64 `json:"gain_loss_pct,omitempty"`
	RateIncomplete bool    `json:"rate_incomplete,omitempty"` // at least one holding valued without an FX rate

	// Per-provider sync state: attached on single-portfolio responses
	SyncStates []*SyncState `json:"sync_states,omitempty"`
}

// Holding represents a single position within a portfolio. AssetID is the
// unified asset identifier (historically "ticker" in some stores and
// "asset_identifier" in others: normalized at the repository boundary).
type Holding struct {
	PortfolioID  string        `json:"portfolio_id,omitempty"`
	AssetID      string        `json:"asset_id"`
	Name         string        `json:"name,omitempty"`
	Quantity     float64       `json:"quantity"` // never negative, may be fractional
	AvgCost      *float64      `json:"avg_cost,omitempty"`
	CurrentPrice float64       `json:"current_price"`
	Currency     string        `json:"currency"` // native trading currency of the asset
	Source       HoldingSource `json:"source"`
	LastUpdated  time.Time     `json:"last_updated"`

	// Valuation results in the portfolio's display currency: computed on
	// response, not persisted. GainLoss is omitted when AvgCost is absent.
	MarketValue     float64  `json:"market_value"`
	GainLoss        *float64 `json:"gain_loss,omitempty"`
	GainLossPct     *float64 `json:"gain_loss_pct,omitempty"`
	RateUnavailable bool     `json:"rate_unavailable,omitempty"`
}

// MembershipStatus is the lifecycle state of a portfolio membership.
type MembershipStatus string

const (
	MembershipInvited  MembershipStatus = "invited"
	MembershipAccepted MembershipStatus = "accepted"
)

// Membership grants a user read access to a portfolio without ownership.
type Membership struct {
	PortfolioID string           `json:"portfolio_id"`
	UserID      string           `json:"user_id"`
	Status      MembershipStatus `json:"status"`
	InvitedAt   time.Time        `json:"invited_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
}

// NormalizeAssetID canonicalizes an asset identifier (upper-case, trimmed).
// Ticker and instrument id are the same concept under two historical names
// and are unified at ingestion.
func NormalizeAssetID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// MergeByAccess combines independently obtained owned and member portfolio
// lists into one list unique by portfolio id, each tagged with its access
// type. Ownership wins when a portfolio appears in both inputs; the conflict
// is reported through the returned count, never raised.
func MergeByAccess(owned, member []*Portfolio) (merged []*Portfolio, conflicts int) {
	merged = make([]*Portfolio, 0, len(owned)+len(member))
	seen := make(map[string]struct{}, len(owned))

	for _, p := range owned {
		if _, dup := seen[p.ID]; dup {
			conflicts++
			continue
		}
		seen[p.ID] = struct{}{}
		p.AccessType = AccessOwner
		merged = append(merged, p)
	}

	for _, p := range member {
		if _, dup := seen[p.ID]; dup {
			conflicts++
			continue
		}
		seen[p.ID] = struct{}{}
		p.AccessType = AccessMember
		merged = append(merged, p)
	}

	return merged, conflicts
}
