package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/avvvet/duel-services/internal/comm"
)

// Subjects of the matchmaking service's request/reply contract.
const (
	SubjectJoin      = "matchmaking.join"
	SubjectLeave     = "matchmaking.leave"
	SubjectCheck     = "matchmaking.check"
	SubjectHeartbeat = "matchmaking.heartbeat"
)

// Client consumes the matchmaking service over NATS request/reply. It
// implements lifecycle.Matchmaker; the pairing queue itself lives behind
// these subjects.
type Client struct {
	conn     *nats.Conn
	playerID string
}

func NewClient(conn *nats.Conn, playerID string) *Client {
	return &Client{conn: conn, playerID: playerID}
}

// request performs one JSON request/reply round trip.
func (c *Client) request(ctx context.Context, subject string, req interface{}, resp interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", subject, err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", subject, err)
	}

	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", subject, err)
	}
	return nil
}

func (c *Client) JoinQueue(ctx context.Context, deckCardIDs []int64) (*comm.QueueStatus, error) {
	req := comm.JoinQueueRequest{PlayerID: c.playerID, DeckCardIDs: deckCardIDs}
	st := &comm.QueueStatus{}
	if err := c.request(ctx, SubjectJoin, req, st); err != nil {
		return nil, err
	}
	if st.Error != "" {
		return nil, errors.New(st.Error)
	}
	return st, nil
}

func (c *Client) LeaveQueue(ctx context.Context) error {
	req := comm.LeaveQueueRequest{PlayerID: c.playerID}
	st := &comm.QueueStatus{}
	if err := c.request(ctx, SubjectLeave, req, st); err != nil {
		return err
	}
	if st.Error != "" {
		return errors.New(st.Error)
	}
	return nil
}

func (c *Client) CheckMatch(ctx context.Context) (*comm.QueueStatus, error) {
	req := comm.CheckMatchRequest{PlayerID: c.playerID}
	st := &comm.QueueStatus{}
	if err := c.request(ctx, SubjectCheck, req, st); err != nil {
		return nil, err
	}
	if st.Error != "" {
		return nil, errors.New(st.Error)
	}
	return st, nil
}

func (c *Client) Heartbeat(ctx context.Context, matchID string) (*comm.HeartbeatStatus, error) {
	req := comm.HeartbeatRequest{PlayerID: c.playerID, MatchID: matchID}
	st := &comm.HeartbeatStatus{}
	if err := c.request(ctx, SubjectHeartbeat, req, st); err != nil {
		return nil, err
	}
	if st.Error != "" {
		return nil, errors.New(st.Error)
	}
	return st, nil
}
