package notify

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/replica"
)

type recorder struct {
	snaps []model.Snapshot
}

func (r *recorder) emit(s model.Snapshot) {
	r.snaps = append(r.snaps, s)
}

func TestLocalChangesAreSuppressed(t *testing.T) {
	rep := replica.New("me", nil)
	rec := &recorder{}
	n := New(rep, rec.emit, nil)

	change, err := rep.UpsertItem(model.Item{ID: "milk"})
	assert.Equal(t, nil, err)
	n.Observe(change)

	assert.Equal(t, 0, len(rec.snaps))
	assert.Equal(t, Stats{Suppressed: 1}, n.Stats())
}

func TestReplaceAllNotifiesOnce(t *testing.T) {
	rep := replica.New("me", nil)
	rec := &recorder{}
	n := New(rep, rec.emit, nil)

	change, err := rep.ReplaceAll(model.Dump{
		Items: map[string]model.Item{
			"a": {ID: "a"},
			"b": {ID: "b"},
		},
		Categories: []model.Category{{ID: "c", Items: []string{"a", "b"}}},
	})
	assert.Equal(t, nil, err)
	n.Observe(change)
	n.Observe(change)

	assert.Equal(t, 1, len(rec.snaps))
	assert.Equal(t, change.Revision, rec.snaps[0].Revision)
	assert.Equal(t, 2, len(rec.snaps[0].Items))
	assert.Equal(t, uint64(1), n.Stats().Coalesced)
}

func TestRemoteAndHydrationNotify(t *testing.T) {
	rep := replica.New("me", nil)
	rec := &recorder{}
	n := New(rep, rec.emit, nil)

	n.Observe(rep.Restore(model.NewState()))
	assert.Equal(t, 0, len(rec.snaps))

	st := model.NewState()
	st.Document.Items["a"] = model.Item{ID: "a", Updated: 1, Provenance: "other"}
	n.Observe(rep.Restore(st))
	assert.Equal(t, 1, len(rec.snaps))

	change, err := rep.Update(replica.OriginRemote, func(tx *replica.Tx) error {
		tx.Put(model.ItemDelta(model.Item{ID: "b", Updated: 2, Provenance: "other"}))
		return nil
	})
	assert.Equal(t, nil, err)
	n.Observe(change)
	assert.Equal(t, 2, len(rec.snaps))
	assert.Equal(t, 2, len(rec.snaps[1].Items))
}

func TestCoalescesBehindNewerSnapshot(t *testing.T) {
	rep := replica.New("me", nil)
	rec := &recorder{}
	n := New(rep, rec.emit, nil)

	put := func(id string) replica.Change {
		change, _ := rep.Update(replica.OriginRemote, func(tx *replica.Tx) error {
			tx.Put(model.ItemDelta(model.Item{ID: id, Updated: 1, Provenance: "other"}))
			return nil
		})
		return change
	}
	first := put("a")
	second := put("b")

	n.Observe(second)
	n.Observe(first)

	assert.Equal(t, 1, len(rec.snaps))
	assert.Equal(t, second.Revision, rec.snaps[0].Revision)
}

func TestNotifies(t *testing.T) {
	assert.Equal(t, false, Notifies(replica.OriginLocal))
	assert.Equal(t, true, Notifies(replica.OriginImport))
	assert.Equal(t, true, Notifies(replica.OriginRemote))
	assert.Equal(t, true, Notifies(replica.OriginHydration))
}
