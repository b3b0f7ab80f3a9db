// Package reconcile decides, entity by entity, whether an inbound delta wins
// against what the local replica holds.
//
// Versions are ordered by (updated, provenance). A delta that carries the
// local replica's own provenance is an echo and is only accepted when it is
// strictly newer than the local value. Anything else is accepted when it is
// at least as new as the local value, including tombstones, so a delete made
// after an update sticks and an update made after a delete re-creates.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/replica"
)

// ErrStaleWriteDiscarded marks a delta that lost the last-writer-wins comparison.
var ErrStaleWriteDiscarded = errors.New("stale write discarded")

// Discarded is an inbound delta that was not applied, and why.
type Discarded struct {
	Delta model.Delta
	Err   error
}

type Result struct {
	Change    replica.Change
	Applied   []model.Delta
	Unchanged []model.Delta
	Discarded []Discarded
}

type Stats struct {
	Applied   uint64
	Unchanged uint64
	Discarded uint64
	Echoes    uint64
}

type Reconciler struct {
	logger *slog.Logger

	applied   atomic.Uint64
	unchanged atomic.Uint64
	discarded atomic.Uint64
	echoes    atomic.Uint64
}

func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:   r.applied.Load(),
		Unchanged: r.unchanged.Load(),
		Discarded: r.discarded.Load(),
		Echoes:    r.echoes.Load(),
	}
}

// Apply reconciles a batch of deltas into rep as one revision.
func (r *Reconciler) Apply(rep *replica.Replica, origin replica.Origin, deltas []model.Delta) (Result, error) {
	for _, d := range deltas {
		if err := d.Validate(); err != nil {
			return Result{}, err
		}
	}
	var res Result
	change, err := rep.Update(origin, func(tx *replica.Tx) error {
		for _, d := range deltas {
			switch err := r.decide(tx, d); {
			case err == nil:
				tx.Put(d)
				res.Applied = append(res.Applied, d)
			case errors.Is(err, errUnchanged):
				res.Unchanged = append(res.Unchanged, d)
			default:
				res.Discarded = append(res.Discarded, Discarded{Delta: d, Err: err})
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to apply deltas: %w", err)
	}
	res.Change = change
	r.applied.Add(uint64(len(res.Applied)))
	r.unchanged.Add(uint64(len(res.Unchanged)))
	r.discarded.Add(uint64(len(res.Discarded)))
	for _, d := range res.Discarded {
		r.logger.Debug("discarded delta", "delta", d.Delta.String(), "err", d.Err)
	}
	return res, nil
}

var errUnchanged = errors.New("unchanged")

func (r *Reconciler) decide(tx *replica.Tx, d model.Delta) error {
	local, known := tx.Lookup(d.Key())
	if d.Provenance == tx.Handle() {
		r.echoes.Add(1)
		if known && d.Version().Compare(local.Version) <= 0 {
			return fmt.Errorf("echo of %s: %w", d, ErrStaleWriteDiscarded)
		}
		return nil
	}
	if !known {
		return nil
	}
	switch c := d.Version().Compare(local.Version); {
	case c > 0:
		return nil
	case c == 0 && d.Deleted == local.Deleted:
		return errUnchanged
	case c == 0:
		// same version but a different outcome can only come from a
		// tombstone racing its own value; the tombstone wins.
		if d.Deleted {
			return nil
		}
		return fmt.Errorf("%s loses to tombstone: %w", d, ErrStaleWriteDiscarded)
	default:
		return fmt.Errorf("%s older than local %d/%s: %w", d, local.Updated, local.Provenance, ErrStaleWriteDiscarded)
	}
}

// Outcome summarises a batch for logging.
func (res Result) Outcome() string {
	return fmt.Sprintf("applied=%d unchanged=%d discarded=%d", len(res.Applied), len(res.Unchanged), len(res.Discarded))
}
