package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/grocery-sync/pkg/model"
)

type fakeConn struct {
	events chan Event

	mu     sync.Mutex
	sent   [][]model.Delta
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan Event, 16)}
}

func (c *fakeConn) Events() <-chan Event {
	return c.events
}

func (c *fakeConn) Send(ctx context.Context, deltas []model.Delta) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, deltas)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// finish reports a close from the remote end, as the transport would.
func (c *fakeConn) finish(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.events <- Event{Kind: EventClosed, Code: code, Reason: "bye"}
		close(c.events)
	}
}

func (c *fakeConn) sends() [][]model.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]model.Delta{}, c.sent...)
}

type fakeDialer struct {
	conns chan *fakeConn
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, cfg Config) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	c.events <- Event{Kind: EventConnected}
	d.conns <- c
	return c, nil
}

type fakePeer struct {
	mu      sync.Mutex
	applied [][]model.Delta
}

func (p *fakePeer) Deltas() []model.Delta {
	return []model.Delta{model.ItemDelta(model.Item{ID: "milk"})}
}

func (p *fakePeer) ApplyRemote(ctx context.Context, deltas []model.Delta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, deltas)
	return nil
}

type fakeSettings struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeSettings) SaveSyncConfig(ctx context.Context, room, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, room+" "+url)
	return nil
}

func (f *fakeSettings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type harness struct {
	session  *Session
	dialer   *fakeDialer
	peer     *fakePeer
	settings *fakeSettings
	states   chan State
}

func newHarness() *harness {
	h := &harness{
		dialer:   &fakeDialer{conns: make(chan *fakeConn, 4)},
		peer:     &fakePeer{},
		settings: &fakeSettings{},
		states:   make(chan State, 32),
	}
	h.session = New(h.dialer, h.peer, Options{
		ReplicaID: "me",
		Settings:  h.settings,
		OnState:   func(s State) { h.states <- s },
	})
	return h
}

func (h *harness) next(t *testing.T) State {
	t.Helper()
	select {
	case s := <-h.states:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a state change")
		return State{}
	}
}

func (h *harness) conn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInitSyncReachesSynced(t *testing.T) {
	h := newHarness()
	defer h.session.Close()
	assert.Equal(t, StatusNone, h.session.State().Status)

	h.session.InitSync("room", "ws://example")
	assert.Equal(t, StatusSyncing, h.next(t).Status)

	c := h.conn(t)
	eventually(t, func() bool { return len(c.sends()) == 1 })
	assert.Equal(t, "milk", c.sends()[0][0].ID)
	assert.Equal(t, 1, h.settings.count())

	c.events <- Event{Kind: EventDeltas, Deltas: []model.Delta{model.ItemDelta(model.Item{ID: "bread"})}}
	c.events <- Event{Kind: EventSynced}
	assert.Equal(t, StatusSynced, h.next(t).Status)

	h.peer.mu.Lock()
	assert.Equal(t, 1, len(h.peer.applied))
	h.peer.mu.Unlock()

	h.session.Push(context.Background(), []model.Delta{model.ItemDelta(model.Item{ID: "eggs"})})
	assert.Equal(t, 2, len(c.sends()))
}

func TestGracefulCloseGoesOffline(t *testing.T) {
	for _, code := range []int{CloseNormal, CloseGoingAway, CloseNoStatus} {
		h := newHarness()
		h.session.InitSync("room", "ws://example")
		assert.Equal(t, StatusSyncing, h.next(t).Status)
		h.conn(t).finish(code)
		assert.Equal(t, State{Status: StatusOffline}, h.next(t))
		h.session.Close()
	}
}

func TestOtherCloseCodesAreErrors(t *testing.T) {
	h := newHarness()
	defer h.session.Close()
	h.session.InitSync("room", "ws://example")
	_ = h.next(t)
	h.conn(t).finish(4000)

	st := h.next(t)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, 4000, st.Failure.Code)
	assert.Equal(t, "bye", st.Failure.Reason)
}

func TestDialFailureIsAbnormal(t *testing.T) {
	h := newHarness()
	defer h.session.Close()
	h.dialer.err = errors.New("connection refused")
	h.session.InitSync("room", "ws://example")
	_ = h.next(t)

	st := h.next(t)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, CloseAbnormal, st.Failure.Code)
	assert.Equal(t, 0, h.settings.count())
}

func TestPauseIsIdempotent(t *testing.T) {
	h := newHarness()
	defer h.session.Close()
	h.session.InitSync("room", "ws://example")
	_ = h.next(t)
	c := h.conn(t)
	c.events <- Event{Kind: EventSynced}
	assert.Equal(t, StatusSynced, h.next(t).Status)

	h.session.Pause()
	assert.Equal(t, StatusPaused, h.next(t).Status)
	h.session.Pause()
	assert.Equal(t, StatusPaused, h.session.State().Status)
	assert.Equal(t, 0, len(h.states))

	c.mu.Lock()
	assert.Equal(t, true, c.closed)
	c.mu.Unlock()
}

func TestPauseWhenOfflineDoesNothing(t *testing.T) {
	h := newHarness()
	h.session.Configure("room", "ws://example")
	assert.Equal(t, StatusOffline, h.next(t).Status)
	h.session.Pause()
	assert.Equal(t, StatusOffline, h.session.State().Status)
}

func TestResume(t *testing.T) {
	h := newHarness()
	defer h.session.Close()

	h.session.Resume()
	assert.Equal(t, StatusNone, h.session.State().Status)

	h.session.Configure("room", "ws://example")
	assert.Equal(t, StatusOffline, h.next(t).Status)

	h.session.Resume()
	assert.Equal(t, StatusSyncing, h.next(t).Status)
	c := h.conn(t)
	eventually(t, func() bool { return len(c.sends()) == 1 })
	assert.Equal(t, 0, h.settings.count())

	h.session.Resume()
	assert.Equal(t, 0, len(h.dialer.conns))
}

func TestEventsFromReplacedConnectionAreIgnored(t *testing.T) {
	h := newHarness()
	defer h.session.Close()
	h.session.InitSync("old", "ws://example")
	_ = h.next(t)
	old := h.conn(t)

	h.session.InitSync("new", "ws://example")
	fresh := h.conn(t)
	eventually(t, func() bool { return len(fresh.sends()) == 1 })

	old.mu.Lock()
	assert.Equal(t, true, old.closed)
	old.mu.Unlock()
	assert.Equal(t, StatusSyncing, h.session.State().Status)

	cfg, ok := h.session.Config()
	assert.Equal(t, true, ok)
	assert.Equal(t, "new", cfg.Room)
}

func TestStateJSON(t *testing.T) {
	raw, _ := json.Marshal(State{Status: StatusSynced})
	assert.Equal(t, `"synced"`, string(raw))

	raw, _ = json.Marshal(State{Status: StatusError, Failure: &ConnectionFailure{Code: 4000, Reason: "nope"}})
	assert.Equal(t, `{"error":"connection failed: code 4000, reason: nope"}`, string(raw))
}
