// cmd/botsvc/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/duel-services/configs"
	"github.com/avvvet/duel-services/internal/catalog"
	"github.com/avvvet/duel-services/internal/db"
	"github.com/avvvet/duel-services/internal/effect"
	"github.com/avvvet/duel-services/internal/lifecycle"
	"github.com/avvvet/duel-services/internal/match"
	"github.com/avvvet/duel-services/internal/matchmaker"
	"github.com/avvvet/duel-services/internal/matchstore"
	natscli "github.com/avvvet/duel-services/internal/nats"
)

const SERVICE_NAME = "bot"

var instanceId string

func init() {
	instanceId = "001"
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
	config.LoadEnv(SERVICE_NAME)
}

// Bot player IDs - sequential starting from bot-9000000001
var botPlayerIDs = []string{
	"bot-9000000001", "bot-9000000002", "bot-9000000003", "bot-9000000004",
}

// Each bot plays a fixed deck of catalogued cards, one card per slot.
var botDecks = [][]int64{
	{101, 102, 103, 104, 105, 106},
	{107, 108, 109, 110, 111, 112},
	{101, 103, 105, 107, 109, 111},
	{102, 104, 106, 108, 110, 112},
}

const maxRounds = 6

// duelState is the bots' view of the shared game_state blob.
type duelState struct {
	Round  int            `json:"round"`
	Scores map[string]int `json:"scores"`
	Plays  []playRecord   `json:"plays"`
}

type playRecord struct {
	PlayerID string          `json:"player_id"`
	Round    int             `json:"round"`
	CardID   int64           `json:"card_id"`
	Outcome  *effect.Outcome `json:"outcome,omitempty"`
}

type bot struct {
	playerID string
	deck     []int64
	ctrl     *lifecycle.Controller
	store    *matchstore.Store
	cards    *catalog.Service
	updates  chan *match.Match
}

func main() {
	log.Printf("Starting Bot Service...")

	// card catalog lives in postgres
	dbpool, err := db.ConnectToPostgres()
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.ClosePool()
	log.Printf("pg connection established successfully")

	// shared match records
	mongoDb, cancelMongo, err := db.ConnectToMongo()
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer cancelMongo()
	log.Printf("mongo connection established successfully")

	// Connect to NATS
	nc, err := natscli.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer nc.Conn.Close()
	log.Infof("NATS connected at %s", nc.Url)

	store := matchstore.NewStore(mongoDb)
	cards := catalog.NewService(catalog.NewStore(dbpool))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i, playerID := range botPlayerIDs {
		b := &bot{
			playerID: playerID,
			deck:     botDecks[i],
			store:    store,
			cards:    cards,
			updates:  make(chan *match.Match, 32),
		}
		mm := matchmaker.NewClient(nc.Conn, playerID)
		b.ctrl = lifecycle.New(playerID, mm, store, lifecycle.Options{
			OnChange: b.pushUpdate,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			b.run(ctx)
		}()
	}
	log.Infof("%d bots running", len(botPlayerIDs))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	cancel()
	wg.Wait()
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}

// pushUpdate hands a snapshot to the bot's own goroutine. It runs on the
// controller's goroutine, so it must not block.
func (b *bot) pushUpdate(m *match.Match) {
	select {
	case b.updates <- m:
	default:
		log.Warnf("[bot %s] update dropped, channel full", b.playerID)
	}
}

// run keeps one bot in play: queue up, act on every match update, requeue
// when the match ends.
func (b *bot) run(ctx context.Context) {
	b.ctrl.Start()
	defer b.ctrl.Stop()

	for {
		if err := b.ctrl.JoinQueue(ctx, b.deck); err != nil {
			log.Errorf("Error [bot.run] %s join queue %s", b.playerID, err)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case m := <-b.updates:
				b.handleUpdate(ctx, m)
			}

			if m := b.ctrl.Match(); m != nil && m.Phase.Terminal() {
				log.Infof("[bot %s] match %s over: winner=%s method=%s",
					b.playerID, m.ID, m.WinnerID, m.WinMethod)
				if err := b.ctrl.LeaveQueue(ctx); err != nil {
					log.Errorf("Error [bot.run] %s reset %s", b.playerID, err)
				}
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (b *bot) handleUpdate(ctx context.Context, m *match.Match) {
	switch m.Phase {
	case match.PhaseWaiting, match.PhaseReady:
		ready := m.Player2Ready
		if b.playerID == m.Player1ID {
			ready = m.Player1Ready
		}
		if !ready {
			if err := b.ctrl.SetReady(ctx); err != nil {
				log.Errorf("Error [bot.handleUpdate] %s set ready %s", b.playerID, err)
			}
		}
	case match.PhaseInProgress:
		if m.CurrentTurn == b.playerID {
			b.playTurn(ctx, m)
		}
	}
}

// playTurn plays the deck card for the current round, folds the resolved
// outcome into the scores, and hands the turn over. The opponent resolving
// the same play arrives at the same outcome, so a blind write is safe.
func (b *bot) playTurn(ctx context.Context, m *match.Match) {
	st := duelState{Round: 1, Scores: map[string]int{}}
	if len(m.GameState) > 0 {
		if err := json.Unmarshal(m.GameState, &st); err != nil {
			log.Errorf("Error [bot.playTurn] %s bad game state %s", b.playerID, err)
			return
		}
	}
	if st.Scores == nil {
		st.Scores = map[string]int{}
	}
	if st.Round < 1 {
		st.Round = 1
	}

	if st.Round > maxRounds {
		b.finishMatch(ctx, m, &st)
		return
	}

	position := 0
	if b.playerID == m.Player2ID {
		position = 1
	}
	cardID := b.deck[(st.Round-1)%len(b.deck)]

	out, err := b.cards.ResolveEffect(ctx, m.ID, position, st.Round, cardID)
	if err != nil {
		log.Errorf("Error [bot.playTurn] %s resolve card %d %s", b.playerID, cardID, err)
		return
	}

	play := playRecord{PlayerID: b.playerID, Round: st.Round, CardID: cardID, Outcome: out}
	st.Plays = append(st.Plays, play)
	if out != nil {
		b.applyOutcome(&st, m, out)
	}

	// player 2 acting closes the round
	if b.playerID == m.Player2ID {
		st.Round++
	}

	blob, err := json.Marshal(st)
	if err != nil {
		log.Errorf("Error [bot.playTurn] %s marshal %s", b.playerID, err)
		return
	}

	fields := map[string]interface{}{
		"game_state":   json.RawMessage(blob),
		"current_turn": m.Opponent(b.playerID),
	}
	if err := b.store.Update(ctx, m.ID, fields); err != nil {
		log.Errorf("Error [bot.playTurn] %s update %s", b.playerID, err)
	}
}

// applyOutcome scores the numeric outcomes. Cancellation sentinels address
// cards on the board, which the bots do not model, so they only log.
func (b *bot) applyOutcome(st *duelState, m *match.Match, out *effect.Outcome) {
	switch out.PointChange {
	case effect.CancelCard, effect.CancelAllOwn, effect.CancelOpposing:
		log.Infof("[bot %s] cancellation effect %q, no score change", b.playerID, out.Description)
	default:
		st.Scores[b.playerID] += out.PointChange
		if out.Kind == effect.KindCoinSteal {
			st.Scores[m.Opponent(b.playerID)] -= out.PointChange
		}
	}
}

// finishMatch closes out the record once the rounds are exhausted.
func (b *bot) finishMatch(ctx context.Context, m *match.Match, st *duelState) {
	if !m.Phase.CanTransition(match.PhaseFinished) {
		return
	}

	opp := m.Opponent(b.playerID)
	winner := ""
	switch {
	case st.Scores[b.playerID] > st.Scores[opp]:
		winner = b.playerID
	case st.Scores[opp] > st.Scores[b.playerID]:
		winner = opp
	}

	fields := map[string]interface{}{
		"phase":        string(match.PhaseFinished),
		"winner_id":    winner,
		"win_method":   "points",
		"current_turn": "",
	}
	if err := b.store.Update(ctx, m.ID, fields); err != nil {
		log.Errorf("Error [bot.finishMatch] %s %s", b.playerID, err)
		return
	}
	log.Infof("[bot %s] match %s finished, winner=%s", b.playerID, m.ID, winner)
}
