package match

import (
	"testing"
	"time"
)

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseWaiting, PhaseReady, true},
		{PhaseWaiting, PhaseInProgress, true},
		{PhaseReady, PhaseInProgress, true},
		{PhaseInProgress, PhaseFinished, true},
		{PhaseInProgress, PhaseAbandoned, true},
		{PhaseReady, PhaseWaiting, false},
		{PhaseInProgress, PhaseReady, false},
		{PhaseFinished, PhaseInProgress, false},
		{PhaseFinished, PhaseAbandoned, false},
		{PhaseAbandoned, PhaseWaiting, false},
		{PhaseWaiting, PhaseWaiting, false},
		{PhaseWaiting, Phase("bogus"), false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseWaiting, PhaseReady, PhaseInProgress} {
		if p.Terminal() {
			t.Errorf("%s should not be terminal", p)
		}
	}
	for _, p := range []Phase{PhaseFinished, PhaseAbandoned} {
		if !p.Terminal() {
			t.Errorf("%s should be terminal", p)
		}
	}
}

func TestIsParticipant(t *testing.T) {
	m := &Match{ID: "m1", Player1ID: "alice", Player2ID: "bob"}

	if !m.IsParticipant("alice") || !m.IsParticipant("bob") {
		t.Fatal("seated players must be participants")
	}
	if m.IsParticipant("carol") || m.IsParticipant("") {
		t.Fatal("outsiders must not be participants")
	}

	if m.Opponent("alice") != "bob" || m.Opponent("bob") != "alice" {
		t.Fatal("opponent lookup wrong")
	}
	if m.Opponent("carol") != "" {
		t.Fatal("non-participant has no opponent")
	}
}

func TestNewerSnapshotWins(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := &Match{ID: "m1", UpdatedAt: base}
	newer := &Match{ID: "m1", UpdatedAt: base.Add(time.Second)}

	if !newer.Newer(older) {
		t.Fatal("later snapshot should win")
	}
	if older.Newer(newer) {
		t.Fatal("earlier snapshot should lose")
	}
	// Equal timestamps keep the latest arrival.
	if !older.Newer(older) {
		t.Fatal("equal timestamp should still replace")
	}
	if !newer.Newer(nil) {
		t.Fatal("any snapshot beats none")
	}
}
