// Package notify turns replica revisions into "document changed" events for
// the UI, skipping the ones the UI caused itself.
package notify

import (
	"log/slog"
	"sync"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/replica"
)

// Source is the part of the replica the notifier reads.
type Source interface {
	Snapshot() model.Snapshot
}

type Stats struct {
	Emitted    uint64
	Suppressed uint64
	Coalesced  uint64
}

type Notifier struct {
	source Source
	emit   func(model.Snapshot)
	logger *slog.Logger

	mu           sync.Mutex
	lastNotified uint64
	stats        Stats
}

func New(source Source, emit func(model.Snapshot), logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if emit == nil {
		emit = func(model.Snapshot) {}
	}
	return &Notifier{source: source, emit: emit, logger: logger}
}

// Notifies reports whether changes from origin are delivered to the UI.
func Notifies(origin replica.Origin) bool {
	switch origin {
	case replica.OriginRemote, replica.OriginHydration, replica.OriginImport:
		return true
	default:
		return false
	}
}

// Observe is called once per committed change, outside of any replica lock.
// The listener runs on the calling goroutine.
func (n *Notifier) Observe(change replica.Change) {
	if change.Empty() {
		return
	}
	n.mu.Lock()
	if !Notifies(change.Origin) {
		n.stats.Suppressed++
		n.mu.Unlock()
		return
	}
	if change.Revision <= n.lastNotified {
		n.stats.Coalesced++
		n.mu.Unlock()
		return
	}
	snap := n.source.Snapshot()
	if snap.Revision <= n.lastNotified {
		n.stats.Coalesced++
		n.mu.Unlock()
		return
	}
	n.lastNotified = snap.Revision
	n.stats.Emitted++
	n.mu.Unlock()

	n.logger.Debug("document changed", "origin", change.Origin, "revision", snap.Revision, "deltas", len(change.Deltas))
	n.emit(snap)
}

func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}
