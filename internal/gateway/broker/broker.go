package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/duel-services/internal/comm"
	"github.com/avvvet/duel-services/internal/match"
	"github.com/avvvet/duel-services/internal/matchstore"
)

const requestTimeout = 10 * time.Second

// Broker bridges web sockets to the matchmaking service (NATS request/reply
// passthrough) and to the shared match store (one change subscription per
// watched match, fanned out to the sockets watching it).
type Broker struct {
	Conn  *nats.Conn
	Store *matchstore.Store

	GetConnection   func(string) (*websocket.Conn, bool)
	GetMatchSockets func(string) ([]string, bool)

	watchMu sync.Mutex
	watches map[string]func() // matchID -> subscription cancel
}

func NewBroker(conn *nats.Conn, store *matchstore.Store,
	fncGetConnection func(string) (*websocket.Conn, bool),
	fncGetMatchSockets func(string) ([]string, bool)) *Broker {
	return &Broker{
		Conn:            conn,
		Store:           store,
		GetConnection:   fncGetConnection,
		GetMatchSockets: fncGetMatchSockets,
		watches:         make(map[string]func()),
	}
}

// ForwardRequest relays a client's matchmaking request over NATS and sends
// the reply back to the originating socket.
func (b *Broker) ForwardRequest(subject, respType string, msg *comm.WSMessage) {
	m, err := b.Conn.Request(subject, msg.Data, requestTimeout)
	if err != nil {
		log.Errorf("Error [Broker.ForwardRequest] %s: %s", subject, err)
		b.sendError(msg.SocketId, respType, err.Error())
		return
	}

	b.sendMessage(&comm.WSMessage{
		Type:     respType,
		Data:     m.Data,
		SocketId: msg.SocketId,
	})
}

// EnsureWatch opens the change subscription for a match the first time a
// socket asks for it. Pushes replace client state wholesale.
func (b *Broker) EnsureWatch(matchID string) {
	b.watchMu.Lock()
	if _, ok := b.watches[matchID]; ok {
		b.watchMu.Unlock()
		return
	}
	b.watchMu.Unlock()

	cancel, err := b.Store.Subscribe(context.Background(), matchID, func(m *match.Match) {
		b.broadcastMatch(matchID, m)
	})
	if err != nil {
		log.Errorf("Error [Broker.EnsureWatch] subscribe %s: %s", matchID, err)
		return
	}

	b.watchMu.Lock()
	if _, ok := b.watches[matchID]; ok {
		// lost the race to another socket's watch
		b.watchMu.Unlock()
		cancel()
		return
	}
	b.watches[matchID] = cancel
	b.watchMu.Unlock()

	log.Infof("watching match %s", matchID)
}

// StopWatch tears down the subscription once no socket watches the match.
func (b *Broker) StopWatch(matchID string) {
	b.watchMu.Lock()
	cancel, ok := b.watches[matchID]
	if ok {
		delete(b.watches, matchID)
	}
	b.watchMu.Unlock()

	if ok {
		cancel()
		log.Infof("stopped watching match %s", matchID)
	}
}

// broadcastMatch sends a full snapshot to every socket watching the match.
func (b *Broker) broadcastMatch(matchID string, m *match.Match) {
	update := comm.MatchUpdate{MatchID: matchID, Match: m}
	data, err := json.Marshal(update)
	if err != nil {
		log.Errorf("Error [Broker.broadcastMatch] unable to marshal update for %s", matchID)
		return
	}

	sockets, ok := b.GetMatchSockets(matchID)
	if !ok {
		return
	}

	for _, socketId := range sockets {
		b.sendMessage(&comm.WSMessage{
			Type:     "match-update",
			Data:     data,
			SocketId: socketId,
		})
	}
}

func (b *Broker) sendError(socketId, respType, message string) {
	data, err := json.Marshal(comm.Res{Status: false, Error: message})
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}
	b.sendMessage(&comm.WSMessage{Type: respType, Data: data, SocketId: socketId})
}

// send socket message to the web client
func (b *Broker) sendMessage(m *comm.WSMessage) {
	if conn, ok := b.GetConnection(m.SocketId); ok {
		if err := conn.WriteJSON(m); err != nil {
			log.Errorf("Error writing to socket %s: %s", m.SocketId, err)
		}
	}
}
