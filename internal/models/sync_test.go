package models

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    SyncStatus
		to      SyncStatus
		allowed bool
	}{
		{SyncNotConnected, SyncConnecting, true},
		{SyncConnecting, SyncLinked, true},
		{SyncConnecting, SyncNotConnected, true}, // cancel
		{SyncLinked, SyncSyncing, true},
		{SyncSyncing, SyncSynced, true},
		{SyncSyncing, SyncError, true},
		{SyncSynced, SyncSyncing, true},
		{SyncError, SyncSyncing, true},

		{SyncNotConnected, SyncSynced, false},
		{SyncNotConnected, SyncLinked, false},
		{SyncLinked, SyncNotConnected, false}, // only ForceDisconnect may do this
		{SyncSynced, SyncNotConnected, false},
		{SyncConnecting, SyncSyncing, false},
		{SyncSynced, SyncLinked, false},
		{SyncError, SyncSynced, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	state := NewSyncState("p1", ProviderPlaid)
	if state.Status != SyncNotConnected {
		t.Fatalf("new state status = %s, want %s", state.Status, SyncNotConnected)
	}

	if err := state.Transition(SyncSynced); err == nil {
		t.Error("Transition(NotConnected -> Synced) should fail")
	}
	if state.Status != SyncNotConnected {
		t.Errorf("status changed on rejected transition: %s", state.Status)
	}

	if err := state.Transition(SyncConnecting); err != nil {
		t.Fatalf("Transition(NotConnected -> Connecting) failed: %v", err)
	}
	if state.Status != SyncConnecting {
		t.Errorf("status = %s, want %s", state.Status, SyncConnecting)
	}
}

func TestForceDisconnectBypassesTable(t *testing.T) {
	state := NewSyncState("p1", ProviderTink)
	state.Status = SyncSynced
	state.ConnectionHandle = "session-123"

	state.ForceDisconnect("credentials revoked")

	if state.Status != SyncNotConnected {
		t.Errorf("status = %s, want %s", state.Status, SyncNotConnected)
	}
	if state.ConnectionHandle != "" {
		t.Error("connection handle not cleared")
	}
	if !state.ReconnectNeeded {
		t.Error("reconnect flag not set")
	}
	if state.LastError == "" {
		t.Error("last error not recorded")
	}
}
