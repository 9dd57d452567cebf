package comm

import (
	"encoding/json"

	"github.com/avvvet/duel-services/internal/match"
)

// WSMessage is the envelope every socket and NATS payload travels in.
type WSMessage struct {
	Type     string          `json:"type"` // e.g. "join-queue", "match-update"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
}

// Queue ticket statuses reported by the matchmaking service.
const (
	QueueSearching  = "searching"
	QueueMatched    = "matched"
	QueueNotInQueue = "not_in_queue"
	QueueIdle       = "idle"
)

// Heartbeat statuses reported by the matchmaking service.
const (
	HeartbeatOK                   = "ok"
	HeartbeatOpponentDisconnected = "opponent_disconnected"
)

type JoinQueueRequest struct {
	PlayerID    string  `json:"player_id"`
	DeckCardIDs []int64 `json:"deck_card_ids"`
}

type LeaveQueueRequest struct {
	PlayerID string `json:"player_id"`
}

type CheckMatchRequest struct {
	PlayerID string `json:"player_id"`
}

type HeartbeatRequest struct {
	PlayerID string `json:"player_id"`
	MatchID  string `json:"match_id"`
}

// QueueStatus is the response to join/leave/check requests.
type QueueStatus struct {
	Status  string `json:"status"`
	MatchID string `json:"match_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HeartbeatStatus is the response to a heartbeat.
type HeartbeatStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// WatchMatch is sent by a web client that wants pushes for one match.
type WatchMatch struct {
	MatchID  string `json:"match_id"`
	PlayerID string `json:"player_id"`
}

// MatchUpdate carries a full match snapshot to watching clients. Snapshots
// replace local state wholesale; there is no incremental patching.
type MatchUpdate struct {
	MatchID string       `json:"match_id"`
	Match   *match.Match `json:"match"`
}

// EffectResolved reports a resolved card effect for display.
type EffectResolved struct {
	MatchID     string `json:"match_id"`
	PlayerID    string `json:"player_id"`
	Position    int    `json:"position"`
	Round       int    `json:"round"`
	CardTitle   string `json:"card_title"`
	Kind        string `json:"kind"`
	CoinFace    string `json:"coin_face,omitempty"`
	Dice        []int  `json:"dice,omitempty"`
	PointChange int    `json:"point_change"`
	IsPositive  bool   `json:"is_positive"`
}

type Res struct {
	Status bool   `json:"status"`
	Error  string `json:"error,omitempty"`
}
