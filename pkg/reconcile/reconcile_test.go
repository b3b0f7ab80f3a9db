package reconcile

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/replica"
)

func item(id, name string, updated int64, provenance string) model.Delta {
	return model.ItemDelta(model.Item{ID: id, Name: name, Created: 1, Updated: updated, Provenance: provenance})
}

func tombstone(id string, updated int64, provenance string) model.Delta {
	return model.TombstoneDelta(model.Tombstone{Kind: model.KindItem, ID: id, Updated: updated, Provenance: provenance})
}

func TestConvergesRegardlessOfOrder(t *testing.T) {
	older := item("x", "Milk", 5, "a")
	newer := item("x", "Oat milk", 10, "b")

	for _, order := range [][]model.Delta{{older, newer}, {newer, older}} {
		rep := replica.New("local", nil)
		rec := New(nil)
		for _, d := range order {
			_, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{d})
			assert.Equal(t, nil, err)
		}
		got := rep.Snapshot().Items["x"]
		assert.Equal(t, "Oat milk", got.Name)
		assert.Equal(t, int64(10), got.Updated)
	}
}

func TestStaleWriteIsDiscarded(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	_, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "new", 10, "b")})

	res, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "old", 5, "a")})
	assert.Equal(t, nil, err)
	assert.Equal(t, true, res.Change.Empty())
	assert.Equal(t, 1, len(res.Discarded))
	assert.Equal(t, true, errors.Is(res.Discarded[0].Err, ErrStaleWriteDiscarded))
	assert.Equal(t, "new", rep.Snapshot().Items["x"].Name)
}

func TestTieBrokenByProvenance(t *testing.T) {
	a := item("x", "from a", 10, "a")
	b := item("x", "from b", 10, "b")
	for _, order := range [][]model.Delta{{a, b}, {b, a}} {
		rep := replica.New("local", nil)
		rec := New(nil)
		_, err := rec.Apply(rep, replica.OriginRemote, order)
		assert.Equal(t, nil, err)
		assert.Equal(t, "from b", rep.Snapshot().Items["x"].Name)
	}
}

func TestIdenticalVersionIsUnchanged(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	d := item("x", "milk", 10, "a")
	_, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{d})
	rev := rep.Revision()

	res, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{d})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(res.Unchanged))
	assert.Equal(t, rev, rep.Revision())
	assert.Equal(t, "applied=0 unchanged=1 discarded=0", res.Outcome())
}

func TestEchoIsSuppressed(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	change, err := rep.UpsertItem(model.Item{ID: "x", Name: "milk"})
	assert.Equal(t, nil, err)

	res, err := rec.Apply(rep, replica.OriginRemote, change.Deltas)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, res.Change.Empty())
	assert.Equal(t, 1, len(res.Discarded))
	assert.Equal(t, uint64(1), rec.Stats().Echoes)

	// an own write that this replica lost, e.g. after a reset, is restored
	fresh := replica.New("local", nil)
	res, err = rec.Apply(fresh, replica.OriginRemote, change.Deltas)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(res.Applied))
	assert.Equal(t, "milk", fresh.Snapshot().Items["x"].Name)
}

func TestTombstonesBlockResurrection(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	_, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "milk", 5, "a")})

	res, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{tombstone("x", 10, "b")})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(res.Applied))
	_, exists := rep.Snapshot().Items["x"]
	assert.Equal(t, false, exists)

	res, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "milk", 7, "a")})
	assert.Equal(t, 1, len(res.Discarded))
	_, exists = rep.Snapshot().Items["x"]
	assert.Equal(t, false, exists)

	res, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "milk again", 12, "a")})
	assert.Equal(t, 1, len(res.Applied))
	assert.Equal(t, "milk again", rep.Snapshot().Items["x"].Name)
	assert.Equal(t, 0, len(rep.State().Tombstones))
}

func TestTombstoneWinsExactTie(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	_, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "milk", 10, "a")})

	res, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{tombstone("x", 10, "a")})
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(res.Applied))

	res, _ = rec.Apply(rep, replica.OriginRemote, []model.Delta{item("x", "milk", 10, "a")})
	assert.Equal(t, 1, len(res.Discarded))
}

func TestInvalidBatchAppliesNothing(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	_, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{
		item("x", "milk", 10, "a"),
		{Kind: model.KindItem, ID: "y"},
	})
	var invalid *model.InvalidEntity
	assert.Equal(t, true, errors.As(err, &invalid))
	assert.Equal(t, uint64(0), rep.Revision())
}

func TestBatchIsOneRevision(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	res, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{
		item("x", "milk", 10, "a"),
		item("y", "bread", 11, "a"),
		model.CategoryDelta(model.Category{ID: "c", Items: []string{"x", "y"}, Created: 1, Updated: 12, Provenance: "a"}),
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(1), res.Change.Revision)
	assert.Equal(t, replica.OriginRemote, res.Change.Origin)
	assert.Equal(t, 3, len(res.Change.Deltas))
	assert.Equal(t, Stats{Applied: 3}, rec.Stats())
}

func TestOlderEchoIsDiscarded(t *testing.T) {
	rep := replica.New("local", nil)
	rec := New(nil)
	first, _ := rep.UpsertItem(model.Item{ID: "x", Name: "milk"})
	_, _ = rep.UpsertItem(model.Item{ID: "x", Name: "oat milk"})
	rev := rep.Revision()

	res, err := rec.Apply(rep, replica.OriginRemote, first.Deltas)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, res.Change.Empty())
	assert.Equal(t, 1, len(res.Discarded))
	assert.Equal(t, uint64(1), rec.Stats().Echoes)
	assert.Equal(t, rev, rep.Revision())
	assert.Equal(t, "oat milk", rep.Snapshot().Items["x"].Name)
}

func categoryIDs(rep *replica.Replica) []string {
	out := []string{}
	for _, c := range rep.Snapshot().Categories {
		out = append(out, c.ID)
	}
	return out
}

func TestLocalCategoryOrderReplicates(t *testing.T) {
	a := replica.New("a", nil)
	b := replica.New("b", nil)
	rec := New(nil)
	shared := model.CategoryDelta(model.Category{ID: "P", Position: 200, Created: 200, Updated: 200, Provenance: "c"})
	for _, rep := range []*replica.Replica{a, b} {
		_, err := rec.Apply(rep, replica.OriginRemote, []model.Delta{shared})
		assert.Equal(t, nil, err)
	}

	change, err := a.UpsertCategory(model.Category{ID: "Q", Created: 100})
	assert.Equal(t, nil, err)
	_, err = rec.Apply(b, replica.OriginRemote, change.Deltas)
	assert.Equal(t, nil, err)

	assert.Equal(t, []string{"Q", "P"}, categoryIDs(a))
	assert.Equal(t, categoryIDs(a), categoryIDs(b))
}

func TestImportedCategoryOrderReplicates(t *testing.T) {
	a := replica.New("a", nil)
	b := replica.New("b", nil)
	rec := New(nil)
	_, _ = a.UpsertCategory(model.Category{ID: "Y", Name: "Y"})
	change, _ := a.UpsertCategory(model.Category{ID: "X", Name: "X"})
	_, err := rec.Apply(b, replica.OriginRemote, a.Deltas())
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"X", "Y"}, categoryIDs(b))
	assert.Equal(t, 1, len(change.Deltas))

	change, err = a.ReplaceAll(model.Dump{Categories: []model.Category{{ID: "Y", Name: "Y"}, {ID: "X", Name: "X"}}})
	assert.Equal(t, nil, err)
	res, err := rec.Apply(b, replica.OriginRemote, change.Deltas)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(res.Applied))

	assert.Equal(t, []string{"Y", "X"}, categoryIDs(a))
	assert.Equal(t, categoryIDs(a), categoryIDs(b))
}
