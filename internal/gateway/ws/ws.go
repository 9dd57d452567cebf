package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/avvvet/duel-services/internal/comm"
	"github.com/avvvet/duel-services/internal/gateway/broker"
	"github.com/avvvet/duel-services/internal/matchmaker"
)

type Ws struct {
	connMap  sync.Map // socketId -> *websocket.Conn
	watchMap sync.Map // socketId -> matchId
	Broker   *broker.Broker
}

func NewWs() *Ws {
	return &Ws{}
}

// SocketMessage routes one message from a web client.
func (s *Ws) SocketMessage(socketId string, message *comm.WSMessage) {
	message.SocketId = socketId

	switch message.Type {
	case "watch-match":
		s.handleWatchMatch(socketId, message)
	case "join-queue":
		go s.Broker.ForwardRequest(matchmaker.SubjectJoin, "join-queue-response", message)
	case "leave-queue":
		go s.Broker.ForwardRequest(matchmaker.SubjectLeave, "leave-queue-response", message)
	case "check-match":
		go s.Broker.ForwardRequest(matchmaker.SubjectCheck, "check-match-response", message)
	case "heartbeat":
		go s.Broker.ForwardRequest(matchmaker.SubjectHeartbeat, "heartbeat-response", message)
	default:
		log.Warnf("unknown event received: %s", message.Type)
	}
}

func (s *Ws) handleWatchMatch(socketId string, msg *comm.WSMessage) {
	var payload comm.WatchMatch
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Errorf("Error: invalid watch-match payload %s", err)
		return
	}

	if payload.MatchID == "" {
		log.Error("Invalid watch-match payload: missing match id")
		return
	}

	// a socket watches one match at a time
	if prev, ok := s.GetWatch(socketId); ok && prev != payload.MatchID {
		s.watchMap.Delete(socketId)
		s.dropWatchIfIdle(prev)
	}

	s.watchMap.Store(socketId, payload.MatchID)
	s.Broker.EnsureWatch(payload.MatchID)

	log.Infof("socket %s watching match %s", socketId, payload.MatchID)
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	s.connMap.Store(socketId, conn)
}

func (s *Ws) GetConnection(socketId string) (*websocket.Conn, bool) {
	conn, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return conn.(*websocket.Conn), true
}

func (s *Ws) GetWatch(socketId string) (string, bool) {
	matchId, ok := s.watchMap.Load(socketId)
	if !ok {
		return "", false
	}
	return matchId.(string), true
}

// GetMatchSockets lists the sockets watching a match.
func (s *Ws) GetMatchSockets(matchId string) ([]string, bool) {
	var sockets []string
	found := false

	s.watchMap.Range(func(key, value interface{}) bool {
		if value.(string) == matchId {
			sockets = append(sockets, key.(string))
			found = true
		}
		return true // continue iterating
	})

	return sockets, found
}

// HandleDisconnect drops the socket and releases its watch when it was the
// last watcher of its match.
func (s *Ws) HandleDisconnect(socketId string) {
	matchId, watching := s.GetWatch(socketId)

	s.connMap.Delete(socketId)
	s.watchMap.Delete(socketId)

	if watching {
		s.dropWatchIfIdle(matchId)
	}
}

func (s *Ws) dropWatchIfIdle(matchId string) {
	if _, stillWatched := s.GetMatchSockets(matchId); !stillWatched {
		s.Broker.StopWatch(matchId)
	}
}
