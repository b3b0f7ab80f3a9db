// Package session owns the optional connection to a remote collaboration peer.
//
// The transport reports what happens on the wire as Events; the session maps
// each one to at most one state transition and tells its listener about every
// transition exactly once.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/astromechza/grocery-sync/pkg/model"
)

type Config struct {
	Room      string
	URL       string
	ReplicaID string
}

type EventKind int

const (
	EventConnected EventKind = iota
	EventDeltas
	EventSynced
	EventClosed
)

type Event struct {
	Kind   EventKind
	Deltas []model.Delta
	Code   int
	Reason string
}

// Conn is one established connection. Events is closed once the connection is gone.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, deltas []model.Delta) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Conn, error)
}

// Peer is the local replica as seen by the session.
type Peer interface {
	Deltas() []model.Delta
	ApplyRemote(ctx context.Context, deltas []model.Delta) error
}

// SettingsWriter remembers a room/url pair once a connection got somewhere.
type SettingsWriter interface {
	SaveSyncConfig(ctx context.Context, room, url string) error
}

type Options struct {
	ReplicaID string
	Settings  SettingsWriter
	OnState   func(State)
	Logger    *slog.Logger
}

type Session struct {
	dialer   Dialer
	peer     Peer
	settings SettingsWriter
	onState  func(State)
	logger   *slog.Logger
	replica  string

	mu        sync.Mutex
	state     State
	cfg       *Config
	gen       uint64
	cancel    context.CancelFunc
	conn      Conn
	ready     bool
	persisted bool

	// pending holds transitions not yet delivered to onState, in order.
	pending  []State
	flushing bool

	// sendMu keeps the initial state and later pushes in order on the wire.
	sendMu sync.Mutex
	wg     sync.WaitGroup
}

func New(dialer Dialer, peer Peer, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnState == nil {
		opts.OnState = func(State) {}
	}
	return &Session{
		dialer:   dialer,
		peer:     peer,
		settings: opts.Settings,
		onState:  opts.OnState,
		logger:   opts.Logger,
		replica:  opts.ReplicaID,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the configured room and url, if any.
func (s *Session) Config() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return Config{}, false
	}
	return *s.cfg, true
}

// Configure records a room/url found in persisted settings without connecting.
func (s *Session) Configure(room, url string) {
	s.mu.Lock()
	s.cfg = &Config{Room: room, URL: url, ReplicaID: s.replica}
	s.persisted = true
	if s.state.Status == StatusNone {
		s.setLocked(State{Status: StatusOffline})
	}
	s.mu.Unlock()
	s.flush()
}

// InitSync points the session at a new room and starts connecting. The pair
// is persisted once the transport reports its first successful connection.
func (s *Session) InitSync(room, url string) {
	s.mu.Lock()
	s.cfg = &Config{Room: room, URL: url, ReplicaID: s.replica}
	s.persisted = false
	s.startLocked(*s.cfg)
	s.mu.Unlock()
	s.flush()
}

// Resume re-attempts the connection. It is a no-op when nothing is configured
// or an attempt is already underway.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.cfg == nil {
		s.mu.Unlock()
		s.logger.Info("resume ignored, sync not configured")
		return
	}
	if s.state.Status == StatusSyncing || s.state.Status == StatusSynced {
		s.mu.Unlock()
		return
	}
	s.startLocked(*s.cfg)
	s.mu.Unlock()
	s.flush()
}

// Pause closes the connection on purpose. It is a no-op unless connecting,
// connected, or failed.
func (s *Session) Pause() {
	s.mu.Lock()
	switch s.state.Status {
	case StatusSyncing, StatusSynced, StatusError:
	default:
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.setLocked(State{Status: StatusPaused})
	s.mu.Unlock()
	s.flush()
}

// Push sends locally produced deltas if the connection is up. When it is
// not, they go out with the full state on the next connection.
func (s *Session) Push(ctx context.Context, deltas []model.Delta) {
	if len(deltas) == 0 {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	conn, ready := s.conn, s.ready
	s.mu.Unlock()
	if !ready {
		return
	}
	if err := conn.Send(ctx, deltas); err != nil {
		s.logger.Warn("failed to push deltas", "err", err, "deltas", len(deltas))
	}
}

// Close drops any connection without a state transition and waits for the
// connection goroutine to finish.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) startLocked(cfg Config) {
	s.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx, s.gen, cfg)
	s.setLocked(State{Status: StatusSyncing})
}

// stopLocked abandons the current attempt. Events still in flight from it
// are ignored.
func (s *Session) stopLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("failed to close connection", "err", err)
		}
		s.conn = nil
	}
	s.ready = false
}

func (s *Session) setLocked(st State) {
	if s.state.Equal(st) {
		return
	}
	s.logger.Info("sync state changed", "from", s.state.String(), "to", st.String())
	s.state = st
	s.pending = append(s.pending, st)
}

// flush delivers pending transitions outside the lock. One goroutine delivers
// at a time, so listeners see transitions in the order they happened; a
// transition queued from inside a listener is delivered by the outer call.
func (s *Session) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.pending) > 0 {
		st := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.onState(st)
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Session) run(ctx context.Context, gen uint64, cfg Config) {
	defer s.wg.Done()
	s.logger.Info("connecting", "room", cfg.Room, "url", cfg.URL)
	conn, err := s.dialer.Dial(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.handle(ctx, gen, cfg, nil, Event{Kind: EventClosed, Code: CloseAbnormal, Reason: err.Error()})
		return
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = conn.Close()
		for range conn.Events() {
		}
		return
	}
	s.conn = conn
	s.mu.Unlock()

	for ev := range conn.Events() {
		s.handle(ctx, gen, cfg, conn, ev)
	}
}

func (s *Session) handle(ctx context.Context, gen uint64, cfg Config, conn Conn, ev Event) {
	switch ev.Kind {
	case EventConnected:
		s.connected(ctx, gen, cfg, conn)
	case EventDeltas:
		if !s.current(gen) {
			return
		}
		if err := s.peer.ApplyRemote(ctx, ev.Deltas); err != nil {
			s.logger.Error("failed to apply remote deltas", "err", err, "deltas", len(ev.Deltas))
		}
	case EventSynced:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		s.setLocked(State{Status: StatusSynced})
		s.mu.Unlock()
		s.flush()
	case EventClosed:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.conn = nil
		s.ready = false
		next := State{Status: StatusOffline}
		if !graceful(ev.Code) {
			next = State{Status: StatusError, Failure: &ConnectionFailure{Code: ev.Code, Reason: ev.Reason}}
		}
		s.setLocked(next)
		s.mu.Unlock()
		s.flush()
	}
}

func (s *Session) connected(ctx context.Context, gen uint64, cfg Config, conn Conn) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	persist := !s.persisted
	s.persisted = true
	s.mu.Unlock()

	if persist && s.settings != nil {
		if err := s.settings.SaveSyncConfig(ctx, cfg.Room, cfg.URL); err != nil {
			s.logger.Error("failed to persist sync settings", "err", err)
		}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.mu.Unlock()

	deltas := s.peer.Deltas()
	if err := conn.Send(ctx, deltas); err != nil {
		s.logger.Warn("failed to send initial state", "err", err)
		return
	}
	s.logger.Info("sent initial state", "room", cfg.Room, "deltas", len(deltas))
}
