package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avvvet/duel-services/internal/comm"
	"github.com/avvvet/duel-services/internal/match"
)

type fakeMatchmaker struct {
	mu         sync.Mutex
	joinCalls  int
	leaveCalls int
	checkCalls int
	hbCalls    int

	joinResp   *comm.QueueStatus
	joinErr    error
	leaveErr   error
	checkResps []*comm.QueueStatus    // consumed in order, last repeats
	hbResps    []*comm.HeartbeatStatus // consumed in order, last repeats
}

func (f *fakeMatchmaker) JoinQueue(_ context.Context, _ []int64) (*comm.QueueStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	if f.joinResp != nil {
		return f.joinResp, nil
	}
	return &comm.QueueStatus{Status: comm.QueueSearching}, nil
}

func (f *fakeMatchmaker) LeaveQueue(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return f.leaveErr
}

func (f *fakeMatchmaker) CheckMatch(_ context.Context) (*comm.QueueStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if len(f.checkResps) == 0 {
		return &comm.QueueStatus{Status: comm.QueueSearching}, nil
	}
	resp := f.checkResps[0]
	if len(f.checkResps) > 1 {
		f.checkResps = f.checkResps[1:]
	}
	return resp, nil
}

func (f *fakeMatchmaker) Heartbeat(_ context.Context, _ string) (*comm.HeartbeatStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hbCalls++
	if len(f.hbResps) == 0 {
		return &comm.HeartbeatStatus{Status: comm.HeartbeatOK}, nil
	}
	resp := f.hbResps[0]
	if len(f.hbResps) > 1 {
		f.hbResps = f.hbResps[1:]
	}
	return resp, nil
}

func (f *fakeMatchmaker) counts() (join, leave, check, hb int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinCalls, f.leaveCalls, f.checkCalls, f.hbCalls
}

type fakeStore struct {
	mu         sync.Mutex
	matches    map[string]*match.Match
	getCalls   int
	updates    []map[string]interface{}
	subCalls   int
	unsubCalls int
	onChange   func(*match.Match)
}

func newFakeStore(ms ...*match.Match) *fakeStore {
	s := &fakeStore{matches: make(map[string]*match.Match)}
	for _, m := range ms {
		s.matches[m.ID] = m
	}
	return s
}

func (f *fakeStore) Get(_ context.Context, matchID string) (*match.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	m, ok := f.matches[matchID]
	if !ok {
		return nil, errors.New("match not found")
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) Update(_ context.Context, matchID string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeStore) Subscribe(_ context.Context, _ string, onChange func(*match.Match)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	f.onChange = onChange
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubCalls++
	}, nil
}

func (f *fakeStore) push(m *match.Match) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(m)
	}
}

func (f *fakeStore) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func testMatch(id string) *match.Match {
	return &match.Match{
		ID:        id,
		Player1ID: "alice",
		Player2ID: "bob",
		Phase:     match.PhaseInProgress,
		UpdatedAt: time.Now().UTC(),
	}
}

func fastOpts() Options {
	return Options{PollInterval: 5 * time.Millisecond, HeartbeatInterval: 5 * time.Millisecond}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestJoinQueueUnauthenticated(t *testing.T) {
	mm := &fakeMatchmaker{}
	c := New("", mm, newFakeStore(), fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinQueue(context.Background(), []int64{1, 2, 3}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
	if join, _, _, _ := mm.counts(); join != 0 {
		t.Fatal("service was contacted by an unauthenticated caller")
	}
}

func TestJoinQueueImmediateMatch(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	mm := &fakeMatchmaker{joinResp: &comm.QueueStatus{Status: comm.QueueMatched, MatchID: "m1"}}
	c := New("alice", mm, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinQueue(context.Background(), []int64{1, 2, 3}); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if c.State() != StateMatched {
		t.Fatalf("state = %s, want matched", c.State())
	}
	if m := c.Match(); m == nil || m.ID != "m1" {
		t.Fatalf("match = %+v, want m1", m)
	}
	if !c.IsPlayer1() {
		t.Fatal("alice holds seat 1")
	}
	st.mu.Lock()
	subs := st.subCalls
	st.mu.Unlock()
	if subs != 1 {
		t.Fatalf("subscriptions = %d, want 1", subs)
	}
}

func TestJoinQueueFailureSurfacesError(t *testing.T) {
	mm := &fakeMatchmaker{joinErr: errors.New("queue unavailable")}
	c := New("alice", mm, newFakeStore(), fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinQueue(context.Background(), []int64{1}); err == nil {
		t.Fatal("want error from failed join")
	}
	if c.State() != StateError {
		t.Fatalf("state = %s, want error", c.State())
	}
	if c.ErrorMessage() != "queue unavailable" {
		t.Fatalf("message = %q", c.ErrorMessage())
	}
}

func TestSearchPollsUntilMatched(t *testing.T) {
	st := newFakeStore(testMatch("m7"))
	mm := &fakeMatchmaker{
		checkResps: []*comm.QueueStatus{
			{Status: comm.QueueSearching},
			{Status: comm.QueueSearching},
			{Status: comm.QueueMatched, MatchID: "m7"},
		},
	}
	c := New("bob", mm, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinQueue(context.Background(), []int64{1, 2}); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if c.State() != StateSearching {
		t.Fatalf("state = %s, want searching", c.State())
	}

	waitFor(t, func() bool { return c.State() == StateMatched }, "never matched")
	if c.Elapsed() < 3 {
		t.Fatalf("elapsed = %d, want >= 3 poll ticks", c.Elapsed())
	}
	if c.IsPlayer1() {
		t.Fatal("bob holds seat 2")
	}
}

func TestSearchStopsWhenNotInQueue(t *testing.T) {
	mm := &fakeMatchmaker{
		checkResps: []*comm.QueueStatus{{Status: comm.QueueNotInQueue}},
	}
	c := New("alice", mm, newFakeStore(), fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinQueue(context.Background(), []int64{1}); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	waitFor(t, func() bool { return c.State() == StateIdle }, "never returned to idle")
	if c.Elapsed() != 0 {
		t.Fatalf("elapsed = %d, want reset to 0", c.Elapsed())
	}
}

func TestLeaveQueueAlwaysIdle(t *testing.T) {
	mm := &fakeMatchmaker{leaveErr: errors.New("flaky network")}
	c := New("alice", mm, newFakeStore(), fastOpts())
	c.Start()
	defer c.Stop()

	// from idle
	if err := c.LeaveQueue(context.Background()); err != nil {
		t.Fatalf("LeaveQueue from idle: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}

	// from searching, with the cancellation request failing
	if err := c.JoinQueue(context.Background(), []int64{1}); err != nil {
		t.Fatalf("JoinQueue: %v", err)
	}
	if err := c.LeaveQueue(context.Background()); err != nil {
		t.Fatalf("LeaveQueue from searching: %v", err)
	}
	if c.State() != StateIdle || c.Elapsed() != 0 {
		t.Fatalf("state = %s elapsed = %d, want idle/0", c.State(), c.Elapsed())
	}
	if _, leave, _, _ := mm.counts(); leave != 2 {
		t.Fatalf("leave calls = %d, want 2", leave)
	}
}

func TestJoinMatchAuthorization(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	c := New("carol", &fakeMatchmaker{}, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinMatch(context.Background(), "m1"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle after denied join", c.State())
	}

	// unknown match id fails without a transition either
	if err := c.JoinMatch(context.Background(), "nope"); err == nil {
		t.Fatal("want error for unknown match")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want idle", c.State())
	}
}

func TestJoinMatchParticipant(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	c := New("bob", &fakeMatchmaker{}, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if c.State() != StateMatched {
		t.Fatalf("state = %s, want matched", c.State())
	}
}

func TestHeartbeatDisconnectRefetchesOnce(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	mm := &fakeMatchmaker{
		hbResps: []*comm.HeartbeatStatus{
			{Status: comm.HeartbeatOpponentDisconnected},
			{Status: comm.HeartbeatOK},
		},
	}
	c := New("alice", mm, st, Options{PollInterval: 5 * time.Millisecond, HeartbeatInterval: 20 * time.Millisecond})
	c.Start()
	defer c.Stop()

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	baseline := st.gets()

	// first heartbeat reports the disconnect and triggers exactly one
	// re-fetch; the following ok heartbeats must not fetch again
	waitFor(t, func() bool {
		_, _, _, hb := mm.counts()
		return hb >= 3
	}, "heartbeats never ran")

	if got := st.gets() - baseline; got != 1 {
		t.Fatalf("refetches = %d, want exactly 1", got)
	}
}

func TestSubscriptionPushReplacesSnapshot(t *testing.T) {
	m := testMatch("m1")
	st := newFakeStore(m)
	c := New("alice", &fakeMatchmaker{}, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}

	newer := *m
	newer.CurrentTurn = "bob"
	newer.UpdatedAt = m.UpdatedAt.Add(time.Second)
	st.push(&newer)

	waitFor(t, func() bool {
		cur := c.Match()
		return cur != nil && cur.CurrentTurn == "bob"
	}, "push never applied")

	// a stale push must not roll the snapshot back
	stale := *m
	stale.CurrentTurn = "alice"
	stale.UpdatedAt = m.UpdatedAt.Add(-time.Hour)
	st.push(&stale)

	time.Sleep(20 * time.Millisecond)
	if cur := c.Match(); cur.CurrentTurn != "bob" {
		t.Fatalf("stale push replaced snapshot: turn = %q", cur.CurrentTurn)
	}
}

func TestTerminalPhaseStopsHeartbeat(t *testing.T) {
	m := testMatch("m1")
	st := newFakeStore(m)
	mm := &fakeMatchmaker{}
	c := New("alice", mm, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	waitFor(t, func() bool {
		_, _, _, hb := mm.counts()
		return hb >= 1
	}, "heartbeat never ran")

	done := *m
	done.Phase = match.PhaseFinished
	done.WinnerID = "bob"
	done.UpdatedAt = m.UpdatedAt.Add(time.Second)
	st.push(&done)

	waitFor(t, func() bool {
		cur := c.Match()
		return cur != nil && cur.Phase == match.PhaseFinished
	}, "terminal snapshot never applied")

	_, _, _, before := mm.counts()
	time.Sleep(40 * time.Millisecond)
	_, _, _, after := mm.counts()
	if after != before {
		t.Fatalf("heartbeat kept running after terminal phase: %d -> %d", before, after)
	}
}

func TestReadyAndGameStateUpdates(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	c := New("alice", &fakeMatchmaker{}, st, fastOpts())
	c.Start()
	defer c.Stop()

	if err := c.SetReady(context.Background()); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("SetReady outside a match: %v, want ErrNoMatch", err)
	}

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if err := c.SetReady(context.Background()); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	if err := c.ResetReady(context.Background()); err != nil {
		t.Fatalf("ResetReady: %v", err)
	}
	blob := json.RawMessage(`{"board":[1,2,3]}`)
	if err := c.UpdateGameState(context.Background(), blob); err != nil {
		t.Fatalf("UpdateGameState: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(st.updates))
	}
	if v, ok := st.updates[0]["player1_ready"]; !ok || v != true {
		t.Fatalf("SetReady fields = %v", st.updates[0])
	}
	if st.updates[1]["player1_ready"] != false || st.updates[1]["player2_ready"] != false {
		t.Fatalf("ResetReady fields = %v", st.updates[1])
	}
	if _, ok := st.updates[2]["game_state"]; !ok {
		t.Fatalf("UpdateGameState fields = %v", st.updates[2])
	}
}

func TestStopTearsDown(t *testing.T) {
	st := newFakeStore(testMatch("m1"))
	c := New("alice", &fakeMatchmaker{}, st, fastOpts())
	c.Start()

	if err := c.JoinMatch(context.Background(), "m1"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	c.Stop()

	waitFor(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.unsubCalls == 1
	}, "subscription not torn down")

	if err := c.SetReady(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("op after Stop: %v, want ErrStopped", err)
	}
}
