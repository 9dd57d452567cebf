package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/avvvet/duel-services/internal/comm"
	"github.com/avvvet/duel-services/internal/match"
)

// State is the controller's client-visible lifecycle state. Once matched,
// further staging (in progress, game over) lives in the match record's
// phase, not here.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateMatched   State = "matched"
	StateError     State = "error"
)

var (
	// ErrNotAuthenticated is returned when a lifecycle operation is
	// attempted without a player identity. No service is contacted.
	ErrNotAuthenticated = errors.New("must be logged in")
	// ErrNotParticipant is returned when joining a match the caller is not
	// seated in.
	ErrNotParticipant = errors.New("not a participant of this match")
	// ErrNoMatch is returned by match-scoped operations outside a match.
	ErrNoMatch = errors.New("no active match")
	// ErrStopped is returned once the controller has been torn down.
	ErrStopped = errors.New("controller stopped")
)

// Matchmaker is the queue service contract the controller consumes. The
// pairing logic behind it is server-side and out of scope here.
type Matchmaker interface {
	JoinQueue(ctx context.Context, deckCardIDs []int64) (*comm.QueueStatus, error)
	LeaveQueue(ctx context.Context) error
	CheckMatch(ctx context.Context) (*comm.QueueStatus, error)
	Heartbeat(ctx context.Context, matchID string) (*comm.HeartbeatStatus, error)
}

// MatchStore is the shared match record contract: point read, field-scoped
// blind update, and a change subscription filtered to one match id. The
// cancel func returned by Subscribe tears the subscription down.
type MatchStore interface {
	Get(ctx context.Context, matchID string) (*match.Match, error)
	Update(ctx context.Context, matchID string, fields map[string]interface{}) error
	Subscribe(ctx context.Context, matchID string, onChange func(*match.Match)) (func(), error)
}

const (
	defaultPollInterval      = 2 * time.Second
	defaultHeartbeatInterval = 5 * time.Second
	requestTimeout           = 10 * time.Second
)

// Options tune the controller. Zero intervals take the default cadence.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// OnChange fires after each snapshot replacement, on the controller's
	// own goroutine. It must not call back into the controller.
	OnChange func(*match.Match)
}

// Controller owns one client's match lifecycle: queue search, match
// establishment, staleness detection, and match record freshness. Every
// state update (operation, timer tick, subscription push) funnels through a
// single run goroutine, so updates never interleave.
type Controller struct {
	playerID string
	mm       Matchmaker
	store    MatchStore
	opts     Options

	events   chan func()
	done     chan struct{}
	stopOnce sync.Once

	// owned by the run goroutine
	pollTicker  *time.Ticker
	hbTicker    *time.Ticker
	unsubscribe func()

	mu      sync.RWMutex // guards the published view below
	state   State
	errMsg  string
	current *match.Match
	elapsed int
}

// New builds a controller for the given player identity. An empty playerID
// means an unauthenticated caller; operations will refuse to run.
func New(playerID string, mm Matchmaker, store MatchStore, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	return &Controller{
		playerID: playerID,
		mm:       mm,
		store:    store,
		opts:     opts,
		events:   make(chan func(), 32),
		done:     make(chan struct{}),
		state:    StateIdle,
	}
}

// Start launches the run goroutine. Call Stop when the owning scope ends.
func (c *Controller) Start() {
	go c.run()
}

// Stop tears down timers and the subscription. Idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Controller) run() {
	for {
		var pollC, hbC <-chan time.Time
		if c.pollTicker != nil {
			pollC = c.pollTicker.C
		}
		if c.hbTicker != nil {
			hbC = c.hbTicker.C
		}

		select {
		case <-c.done:
			c.stopPolling()
			c.stopHeartbeat()
			c.dropSubscription()
			return
		case fn := <-c.events:
			fn()
		case <-pollC:
			c.pollTick()
		case <-hbC:
			c.heartbeatTick()
		}
	}
}

// do runs fn on the run goroutine and waits for its result, keeping all
// state updates serialized.
func (c *Controller) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.events <- func() { reply <- fn() }:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	}
}

// JoinQueue asks the matchmaking service to pair this player. Deck legality
// is the rules engine's concern; this only requires an authenticated caller.
// If the service pairs immediately the controller goes straight to matched,
// otherwise it polls until paired or cancelled.
func (c *Controller) JoinQueue(ctx context.Context, deckCardIDs []int64) error {
	if c.playerID == "" {
		return ErrNotAuthenticated
	}
	return c.do(ctx, func() error {
		c.setState(StateSearching, "")
		c.setElapsed(0)

		st, err := c.mm.JoinQueue(ctx, deckCardIDs)
		if err != nil {
			log.Errorf("Error [Controller.JoinQueue] %s", err)
			c.setState(StateError, err.Error())
			return err
		}
		if st.Status == comm.QueueMatched && st.MatchID != "" {
			return c.enterMatch(ctx, st.MatchID)
		}
		c.startPolling()
		return nil
	})
}

// LeaveQueue cancels the pending search. It is idempotent: whatever the
// current state, the controller ends up idle with its counters reset.
func (c *Controller) LeaveQueue(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.mm.LeaveQueue(ctx); err != nil {
			// routinely retried server-side; cancellation still applies locally
			log.Errorf("Error [Controller.LeaveQueue] %s", err)
		}
		c.reset()
		return nil
	})
}

// JoinMatch rejoins a known match. The caller must be one of the two seated
// players; anyone else gets ErrNotParticipant and no state change.
func (c *Controller) JoinMatch(ctx context.Context, matchID string) error {
	if c.playerID == "" {
		return ErrNotAuthenticated
	}
	return c.do(ctx, func() error {
		m, err := c.store.Get(ctx, matchID)
		if err != nil {
			log.Errorf("Error [Controller.JoinMatch] fetch %s", err)
			return err
		}
		if m == nil {
			return ErrNoMatch
		}
		if !m.IsParticipant(c.playerID) {
			return ErrNotParticipant
		}
		return c.enterMatch(ctx, matchID)
	})
}

// SetReady flips this player's ready flag on the shared record.
func (c *Controller) SetReady(ctx context.Context) error {
	return c.do(ctx, func() error {
		m := c.snapshot()
		if m == nil {
			return ErrNoMatch
		}
		field := "player2_ready"
		if c.playerID == m.Player1ID {
			field = "player1_ready"
		}
		if err := c.store.Update(ctx, m.ID, map[string]interface{}{field: true}); err != nil {
			log.Errorf("Error [Controller.SetReady] %s", err)
			return err
		}
		return nil
	})
}

// ResetReady clears both ready flags, gating the next round or rematch.
func (c *Controller) ResetReady(ctx context.Context) error {
	return c.do(ctx, func() error {
		m := c.snapshot()
		if m == nil {
			return ErrNoMatch
		}
		fields := map[string]interface{}{
			"player1_ready": false,
			"player2_ready": false,
		}
		if err := c.store.Update(ctx, m.ID, fields); err != nil {
			log.Errorf("Error [Controller.ResetReady] %s", err)
			return err
		}
		return nil
	})
}

// UpdateGameState blindly overwrites the shared game_state blob. Last writer
// wins at the store; the rules engine serializes its own writes, at most one
// in flight per turn.
func (c *Controller) UpdateGameState(ctx context.Context, blob json.RawMessage) error {
	return c.do(ctx, func() error {
		m := c.snapshot()
		if m == nil {
			return ErrNoMatch
		}
		if err := c.store.Update(ctx, m.ID, map[string]interface{}{"game_state": blob}); err != nil {
			log.Errorf("Error [Controller.UpdateGameState] %s", err)
			return err
		}
		return nil
	})
}

// enterMatch switches to the matched state: subscription first, then one
// explicit fetch to cover the window before the push channel went live.
func (c *Controller) enterMatch(ctx context.Context, matchID string) error {
	c.stopPolling()
	c.dropSubscription()

	unsub, err := c.store.Subscribe(context.Background(), matchID, c.pushSnapshot)
	if err != nil {
		log.Errorf("Error [Controller.enterMatch] subscribe %s", err)
	} else {
		c.unsubscribe = unsub
	}

	m, err := c.store.Get(ctx, matchID)
	if err != nil {
		log.Errorf("Error [Controller.enterMatch] fetch %s", err)
	} else {
		c.applySnapshot(m)
	}

	c.setState(StateMatched, "")
	c.startHeartbeat()
	return nil
}

// pushSnapshot is the subscription callback; it runs on the store's
// goroutine and hands the snapshot to the run loop.
func (c *Controller) pushSnapshot(m *match.Match) {
	select {
	case c.events <- func() { c.applySnapshot(m) }:
	case <-c.done:
	}
}

// applySnapshot replaces the local match wholesale when the incoming
// snapshot is at least as fresh. Stale arrivals (the fetch/push race) are
// dropped, never merged.
func (c *Controller) applySnapshot(m *match.Match) {
	if m == nil {
		return
	}
	c.mu.Lock()
	if !m.Newer(c.current) {
		c.mu.Unlock()
		return
	}
	c.current = m
	c.mu.Unlock()

	if m.Phase.Terminal() {
		c.stopHeartbeat()
	}
	if c.opts.OnChange != nil {
		c.opts.OnChange(m)
	}
}

// pollTick checks the queue while searching. The elapsed counter counts
// every tick regardless of outcome, feeding UI feedback and caller give-up
// logic.
func (c *Controller) pollTick() {
	c.mu.Lock()
	c.elapsed++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	st, err := c.mm.CheckMatch(ctx)
	if err != nil {
		// absorbed; the next tick retries
		log.Errorf("Error [Controller.poll] %s", err)
		return
	}

	switch st.Status {
	case comm.QueueMatched:
		if st.MatchID == "" {
			log.Error("Error [Controller.poll] matched status without match id")
			return
		}
		if err := c.enterMatch(ctx, st.MatchID); err != nil {
			log.Errorf("Error [Controller.poll] enter match %s", err)
		}
	case comm.QueueNotInQueue:
		c.stopPolling()
		c.setState(StateIdle, "")
		c.setElapsed(0)
	}
}

// heartbeatTick signals liveness while the match phase is non-terminal. An
// opponent_disconnected response means the service already mutated the
// record (forfeit marking); re-fetch it once instead of inferring locally.
func (c *Controller) heartbeatTick() {
	m := c.snapshot()
	if m == nil {
		return
	}
	if m.Phase.Terminal() {
		c.stopHeartbeat()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	hs, err := c.mm.Heartbeat(ctx, m.ID)
	if err != nil {
		// a single missed heartbeat must not end the match
		log.Errorf("Error [Controller.heartbeat] %s", err)
		return
	}

	if hs.Status == comm.HeartbeatOpponentDisconnected {
		fresh, err := c.store.Get(ctx, m.ID)
		if err != nil {
			log.Errorf("Error [Controller.heartbeat] refetch %s", err)
			return
		}
		c.applySnapshot(fresh)
	}
}

func (c *Controller) startPolling() {
	if c.pollTicker == nil {
		c.pollTicker = time.NewTicker(c.opts.PollInterval)
	}
}

func (c *Controller) stopPolling() {
	if c.pollTicker != nil {
		c.pollTicker.Stop()
		c.pollTicker = nil
	}
}

func (c *Controller) startHeartbeat() {
	if c.hbTicker == nil {
		c.hbTicker = time.NewTicker(c.opts.HeartbeatInterval)
	}
}

func (c *Controller) stopHeartbeat() {
	if c.hbTicker != nil {
		c.hbTicker.Stop()
		c.hbTicker = nil
	}
}

func (c *Controller) dropSubscription() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// reset returns the controller to idle and tears down everything it owns.
func (c *Controller) reset() {
	c.stopPolling()
	c.stopHeartbeat()
	c.dropSubscription()
	c.mu.Lock()
	c.state = StateIdle
	c.errMsg = ""
	c.current = nil
	c.elapsed = 0
	c.mu.Unlock()
}

func (c *Controller) setState(s State, msg string) {
	c.mu.Lock()
	c.state = s
	c.errMsg = msg
	c.mu.Unlock()
}

func (c *Controller) setElapsed(n int) {
	c.mu.Lock()
	c.elapsed = n
	c.mu.Unlock()
}

func (c *Controller) snapshot() *match.Match {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// State returns the controller's lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ErrorMessage returns the surfaced failure message, set only by JoinQueue
// request failures.
func (c *Controller) ErrorMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errMsg
}

// Match returns the latest match snapshot, or nil outside a match.
func (c *Controller) Match() *match.Match {
	return c.snapshot()
}

// Elapsed returns how many poll ticks have run in the current search.
func (c *Controller) Elapsed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed
}

// IsPlayer1 reports whether the caller holds the first seat of the current
// match.
func (c *Controller) IsPlayer1() bool {
	m := c.snapshot()
	return m != nil && c.playerID == m.Player1ID
}

// PlayerID returns the identity the controller acts as.
func (c *Controller) PlayerID() string {
	return c.playerID
}
