package models

import (
	"fmt"
	"time"
)

// SyncStatus is the per-(portfolio, provider) connection state.
type SyncStatus string

const (
	SyncNotConnected SyncStatus = "not_connected"
	SyncConnecting   SyncStatus = "connecting"
	SyncLinked       SyncStatus = "linked"
	SyncSyncing      SyncStatus = "syncing"
	SyncSynced       SyncStatus = "synced"
	SyncError        SyncStatus = "error"
)

// syncEdges defines the only legal transitions:
//
//	NotConnected → Connecting → Linked → Syncing → Synced
//	Syncing → Error, Error → Syncing (manual retry)
//	Connecting → NotConnected (user aborts the external flow)
//	Synced → Syncing (manual refresh)
//
// Tink infers link completion from a later successful fetch rather than a
// synchronous confirmation, but the orchestrator still walks
// Connecting → Linked → Syncing; no state is ever skipped. An auth failure
// forces any state back to NotConnected (re-link required).
var syncEdges = map[SyncStatus][]SyncStatus{
	SyncNotConnected: {SyncConnecting},
	SyncConnecting:   {SyncLinked, SyncNotConnected},
	SyncLinked:       {SyncSyncing},
	SyncSyncing:      {SyncSynced, SyncError},
	SyncSynced:       {SyncSyncing},
	SyncError:        {SyncSyncing},
}

// CanTransition reports whether moving from s to next is a legal edge.
// Auth failures bypass this via ForceDisconnect.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	for _, t := range syncEdges[s] {
		if t == next {
			return true
		}
	}
	return false
}

// SyncState tracks one portfolio × provider connection. Exactly one active
// connection handle exists per pair; a new link attempt replaces the
// existing one.
type SyncState struct {
	PortfolioID      string     `json:"portfolio_id"`
	Provider         Provider   `json:"provider"`
	Status           SyncStatus `json:"status"`
	ConnectionHandle string     `json:"connection_handle,omitempty"` // opaque item/session id
	Market           string     `json:"market,omitempty"`            // Tink market code chosen at link time
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	ReconnectNeeded  bool       `json:"reconnect_needed,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewSyncState returns the initial state for a (portfolio, provider) pair.
func NewSyncState(portfolioID string, provider Provider) *SyncState {
	return &SyncState{
		PortfolioID: portfolioID,
		Provider:    provider,
		Status:      SyncNotConnected,
		UpdatedAt:   time.Now(),
	}
}

// Transition moves the state along a legal edge or returns an error naming
// the illegal move.
func (s *SyncState) Transition(next SyncStatus) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("illegal sync transition %s → %s for portfolio %s provider %s",
			s.Status, next, s.PortfolioID, s.Provider)
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	return nil
}

// ForceDisconnect resets the state to NotConnected after a provider auth
// failure: the handle is dropped and the caller must re-link.
func (s *SyncState) ForceDisconnect(reason string) {
	s.Status = SyncNotConnected
	s.ConnectionHandle = ""
	s.LastError = reason
	s.ReconnectNeeded = true
	s.UpdatedAt = time.Now()
}
