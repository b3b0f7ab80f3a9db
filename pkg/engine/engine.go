// Package engine wires the replica, reconciler, change notifier and sync
// session into the single object a UI talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/notify"
	"github.com/astromechza/grocery-sync/pkg/reconcile"
	"github.com/astromechza/grocery-sync/pkg/replica"
	"github.com/astromechza/grocery-sync/pkg/session"
	"github.com/astromechza/grocery-sync/pkg/store"
)

var ErrNotInitialized = errors.New("engine not initialized")

// InitializationFailure is returned by Open when the durable store could not
// be opened or read. The engine is unusable afterwards.
type InitializationFailure struct {
	Err error
}

func (f *InitializationFailure) Error() string {
	return "failed to initialize: " + f.Err.Error()
}

func (f *InitializationFailure) Unwrap() error {
	return f.Err
}

// Listener receives events for the UI. Callbacks run on the goroutine that
// caused them and never while the engine holds a lock.
type Listener interface {
	DocumentChanged(model.Snapshot)
	SyncStateChanged(session.State)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are ignored.
type ListenerFuncs struct {
	OnDocumentChanged  func(model.Snapshot)
	OnSyncStateChanged func(session.State)
}

func (l ListenerFuncs) DocumentChanged(s model.Snapshot) {
	if l.OnDocumentChanged != nil {
		l.OnDocumentChanged(s)
	}
}

func (l ListenerFuncs) SyncStateChanged(s session.State) {
	if l.OnSyncStateChanged != nil {
		l.OnSyncStateChanged(s)
	}
}

type Options struct {
	Listener Listener
	Dialer   session.Dialer
	Logger   *slog.Logger
	// Wall overrides the wall clock used for timestamps.
	Wall func() time.Time
	// AutoResume connects at Open when a room and url are already stored.
	AutoResume bool
}

type Engine struct {
	adapter  store.Adapter
	listener Listener
	dialer   session.Dialer
	logger   *slog.Logger
	wall     func() time.Time
	resume   bool

	ready atomic.Bool

	// cmdMu is the single queue every command and inbound batch goes through.
	cmdMu      sync.Mutex
	settings   store.Settings
	persisted  uint64
	replica    *replica.Replica
	reconciler *reconcile.Reconciler
	notifier   *notify.Notifier
	session    *session.Session
}

func New(adapter store.Adapter, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Listener == nil {
		opts.Listener = ListenerFuncs{}
	}
	if opts.Dialer == nil {
		opts.Dialer = noDialer{}
	}
	return &Engine{
		adapter:  adapter,
		listener: opts.Listener,
		dialer:   opts.Dialer,
		logger:   opts.Logger,
		wall:     opts.Wall,
		resume:   opts.AutoResume,
	}
}

// Open waits for the adapter to finish hydrating, then loads settings and the
// document. Commands fail with ErrNotInitialized until Open has returned nil.
func (e *Engine) Open(ctx context.Context) error {
	select {
	case <-e.adapter.InitialSyncComplete():
	case <-ctx.Done():
		return &InitializationFailure{Err: fmt.Errorf("failed waiting for initial sync: %w", ctx.Err())}
	}

	settings, err := store.LoadSettings(ctx, e.adapter)
	if err != nil {
		return &InitializationFailure{Err: err}
	}
	if settings.ClientID == "" {
		settings.ClientID = model.NewID()
		if err := e.adapter.SetSetting(ctx, store.SettingClientID, settings.ClientID); err != nil {
			return &InitializationFailure{Err: fmt.Errorf("failed to store client id: %w", err)}
		}
	}
	if err := e.adapter.SetSetting(ctx, store.SettingVersion, strconv.Itoa(store.SchemaVersion)); err != nil {
		return &InitializationFailure{Err: fmt.Errorf("failed to store version: %w", err)}
	}
	st, err := e.adapter.Load(ctx)
	if err != nil {
		return &InitializationFailure{Err: fmt.Errorf("failed to load document: %w", err)}
	}

	e.cmdMu.Lock()
	e.settings = settings
	e.replica = replica.New(settings.ClientID, model.NewClock(e.wall))
	e.reconciler = reconcile.New(e.logger)
	e.notifier = notify.New(e.replica, e.listener.DocumentChanged, e.logger)
	e.session = session.New(e.dialer, e, session.Options{
		ReplicaID: settings.ClientID,
		Settings:  e,
		OnState:   e.listener.SyncStateChanged,
		Logger:    e.logger,
	})
	change := e.replica.Restore(st)
	e.persisted = change.Revision
	e.ready.Store(true)
	e.cmdMu.Unlock()

	e.logger.Info("engine open", "client", settings.ClientID, "items", len(st.Document.Items), "categories", len(st.Document.Categories))
	e.notifier.Observe(change)

	if settings.Sync != nil {
		e.session.Configure(settings.Sync.Room, settings.Sync.URL)
		if e.resume {
			e.session.Resume()
		}
	}
	return nil
}

// Close drops the sync connection. It does not touch the adapter.
func (e *Engine) Close() {
	if !e.ready.Load() {
		return
	}
	e.session.Close()
}

func (e *Engine) ClientID() string {
	if !e.ready.Load() {
		return ""
	}
	return e.replica.Handle()
}

func (e *Engine) NewID() string {
	return model.NewID()
}

func (e *Engine) UpsertItem(ctx context.Context, it model.Item) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.UpsertItem(it) })
}

func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.DeleteItem(id) })
}

func (e *Engine) BulkUpsertItems(ctx context.Context, items []model.Item) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.BulkUpsertItems(items) })
}

func (e *Engine) UpsertCategory(ctx context.Context, c model.Category) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.UpsertCategory(c) })
}

func (e *Engine) DeleteCategory(ctx context.Context, id string) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.DeleteCategory(id) })
}

func (e *Engine) ReplaceAll(ctx context.Context, dump model.Dump) error {
	return e.mutate(ctx, func(r *replica.Replica) (replica.Change, error) { return r.ReplaceAll(dump) })
}

func (e *Engine) CurrentSnapshot() (model.Snapshot, error) {
	if !e.ready.Load() {
		return model.Snapshot{}, ErrNotInitialized
	}
	return e.replica.Snapshot(), nil
}

func (e *Engine) Export() (model.Dump, error) {
	snap, err := e.CurrentSnapshot()
	if err != nil {
		return model.Dump{}, err
	}
	return model.Dump{Version: store.SchemaVersion, Items: snap.Items, Categories: snap.Categories}, nil
}

func (e *Engine) mutate(ctx context.Context, fn func(r *replica.Replica) (replica.Change, error)) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	e.cmdMu.Lock()
	change, err := fn(e.replica)
	if err != nil || change.Empty() {
		e.cmdMu.Unlock()
		return err
	}
	perr := e.persistLocked(ctx)
	e.session.Push(ctx, change.Deltas)
	e.cmdMu.Unlock()

	e.notifier.Observe(change)
	return perr
}

// persistLocked writes the current state unless a state at least as new has
// already been written.
func (e *Engine) persistLocked(ctx context.Context) error {
	st := e.replica.State()
	if st.Revision <= e.persisted {
		return nil
	}
	if err := e.adapter.Persist(ctx, st); err != nil {
		return fmt.Errorf("failed to persist revision %d: %w", st.Revision, err)
	}
	e.persisted = st.Revision
	return nil
}

// Deltas is the full local state for a peer that just connected.
func (e *Engine) Deltas() []model.Delta {
	return e.replica.Deltas()
}

// ApplyRemote reconciles deltas received from the sync peer.
func (e *Engine) ApplyRemote(ctx context.Context, deltas []model.Delta) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	e.cmdMu.Lock()
	res, err := e.reconciler.Apply(e.replica, replica.OriginRemote, deltas)
	if err != nil {
		e.cmdMu.Unlock()
		return err
	}
	var perr error
	if !res.Change.Empty() {
		perr = e.persistLocked(ctx)
	}
	e.cmdMu.Unlock()

	e.logger.Debug("applied remote deltas", "outcome", res.Outcome(), "revision", res.Change.Revision)
	e.notifier.Observe(res.Change)
	return perr
}

func (e *Engine) ReconcileStats() reconcile.Stats {
	if !e.ready.Load() {
		return reconcile.Stats{}
	}
	return e.reconciler.Stats()
}

func (e *Engine) NotifyStats() notify.Stats {
	if !e.ready.Load() {
		return notify.Stats{}
	}
	return e.notifier.Stats()
}
