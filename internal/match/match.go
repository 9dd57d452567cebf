package match

import (
	"encoding/json"
	"time"
)

// Phase is the match record's authoritative lifecycle stage. It is distinct
// from the client controller's own idle/searching/matched state.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseReady      Phase = "ready"
	PhaseInProgress Phase = "in_progress"
	PhaseFinished   Phase = "finished"
	PhaseAbandoned  Phase = "abandoned"
)

// phaseRank orders the phases; transitions are monotonic.
var phaseRank = map[Phase]int{
	PhaseWaiting:    0,
	PhaseReady:      1,
	PhaseInProgress: 2,
	PhaseFinished:   3,
	PhaseAbandoned:  3,
}

// Terminal reports whether the phase ends the match.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseAbandoned
}

// CanTransition reports whether moving to next respects the monotonic
// phase order. A terminal phase never transitions.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() || p == next {
		return false
	}
	from, ok := phaseRank[p]
	if !ok {
		return false
	}
	to, ok := phaseRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Match is the shared record both peers read and write. Writes are blind
// field overwrites (last writer wins per field group); the record itself is
// the single arbiter of match state.
type Match struct {
	ID              string          `bson:"_id" json:"id"`
	Player1ID       string          `bson:"player1_id" json:"player1_id"`
	Player2ID       string          `bson:"player2_id" json:"player2_id"`
	Player1Deck     []int64         `bson:"player1_deck" json:"player1_deck"`
	Player2Deck     []int64         `bson:"player2_deck" json:"player2_deck"`
	GameState       json.RawMessage `bson:"game_state,omitempty" json:"game_state,omitempty"` // opaque, owned by the rules engine
	CurrentTurn     string          `bson:"current_turn" json:"current_turn"`                 // player id, empty pre/post game
	Phase           Phase           `bson:"phase" json:"phase"`
	WinnerID        string          `bson:"winner_id,omitempty" json:"winner_id,omitempty"`
	WinMethod       string          `bson:"win_method,omitempty" json:"win_method,omitempty"`
	Player1Ready    bool            `bson:"player1_ready" json:"player1_ready"`
	Player2Ready    bool            `bson:"player2_ready" json:"player2_ready"`
	Player1LastSeen time.Time       `bson:"player1_last_seen" json:"player1_last_seen"`
	Player2LastSeen time.Time       `bson:"player2_last_seen" json:"player2_last_seen"`
	CreatedAt       time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `bson:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether the player id is one of the two seats.
func (m *Match) IsParticipant(playerID string) bool {
	return playerID != "" && (playerID == m.Player1ID || playerID == m.Player2ID)
}

// Opponent returns the other seat's player id, or empty for a non-participant.
func (m *Match) Opponent(playerID string) string {
	switch playerID {
	case m.Player1ID:
		return m.Player2ID
	case m.Player2ID:
		return m.Player1ID
	}
	return ""
}

// Newer reports whether this snapshot is at least as fresh as other. The
// post-subscribe fetch can race an earlier push; the fresher snapshot
// replaces the older one wholesale, snapshots are never merged.
func (m *Match) Newer(other *Match) bool {
	if other == nil {
		return true
	}
	return !m.UpdatedAt.Before(other.UpdatedAt)
}
