// Package relay is the collaboration peer clients sync through. Each room runs
// its own replica and reconciler; deltas that win reconciliation are fanned
// out to the other clients in the room.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/reconcile"
	"github.com/astromechza/grocery-sync/pkg/replica"
)

type Room struct {
	id         string
	replica    *replica.Replica
	reconciler *reconcile.Reconciler
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	saved   uint64
}

func newRoom(id, handle string, st model.State, logger *slog.Logger) *Room {
	r := &Room{
		id:         id,
		replica:    replica.New(handle, nil),
		reconciler: reconcile.New(logger),
		logger:     logger.With("room", id),
		clients:    map[*client]struct{}{},
	}
	r.saved = r.replica.Restore(st).Revision
	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Snapshot() model.Snapshot {
	return r.replica.Snapshot()
}

func (r *Room) State() model.State {
	return r.replica.State()
}

// join registers c and queues the room's full state followed by a synced marker.
// Both go out before anything fanned out later.
func (r *Room) join(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
	c.enqueue(r.replica.Deltas(), true)
	r.logger.Info("client joined", "client", c.replica, "clients", len(r.clients))
}

func (r *Room) leave(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	r.logger.Info("client left", "client", c.replica, "clients", len(r.clients))
}

// apply reconciles deltas from one client and forwards the winners to everyone else.
func (r *Room) apply(ctx context.Context, from *client, deltas []model.Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, err := r.reconciler.Apply(r.replica, replica.OriginRemote, deltas)
	if err != nil {
		return err
	}
	r.logger.Debug("applied", "client", from.replica, "outcome", res.Outcome())
	if len(res.Applied) == 0 {
		return nil
	}
	for c := range r.clients {
		if c == from {
			continue
		}
		c.enqueue(res.Applied, false)
	}
	return nil
}

// dirty reports the current state if it changed since the last markSaved.
func (r *Room) dirty() (model.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.replica.State()
	return st, st.Revision > r.saved
}

func (r *Room) markSaved(revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if revision > r.saved {
		r.saved = revision
	}
}
