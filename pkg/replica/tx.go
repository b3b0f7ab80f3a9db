package replica

import (
	"maps"
	"slices"

	"github.com/astromechza/grocery-sync/pkg/model"
)

// Entry is what the replica currently holds for a key: a live value or a tombstone.
type Entry struct {
	model.Version
	Deleted bool
	Created int64
}

// Tx is a view of the replica inside Update. It must not escape fn.
type Tx struct {
	r      *Replica
	origin Origin
	deltas []model.Delta

	saved      bool
	items      map[string]model.Item
	categories []model.Category
	tombstones map[model.Key]model.Tombstone
}

func (tx *Tx) Handle() string {
	return tx.r.handle
}

func (tx *Tx) Origin() Origin {
	return tx.origin
}

// Lookup returns the current version for key, or false if the replica has never seen it.
func (tx *Tx) Lookup(key model.Key) (Entry, bool) {
	r := tx.r
	switch key.Kind {
	case model.KindItem:
		if it, ok := r.items[key.ID]; ok {
			return Entry{Version: model.Version{Updated: it.Updated, Provenance: it.Provenance}, Created: it.Created}, true
		}
	case model.KindCategory:
		if i := r.categoryIndex(key.ID); i >= 0 {
			c := r.categories[i]
			return Entry{Version: model.Version{Updated: c.Updated, Provenance: c.Provenance}, Created: c.Created}, true
		}
	}
	if t, ok := r.tombstones[key]; ok {
		return Entry{Version: model.Version{Updated: t.Updated, Provenance: t.Provenance}, Deleted: true}, true
	}
	return Entry{}, false
}

// Put stores an already stamped delta as-is.
func (tx *Tx) Put(d model.Delta) {
	tx.save()
	r := tx.r
	key := d.Key()
	r.clock.Observe(d.Updated)
	if d.Deleted {
		switch d.Kind {
		case model.KindItem:
			delete(r.items, d.ID)
		case model.KindCategory:
			if i := r.categoryIndex(d.ID); i >= 0 {
				r.categories = slices.Delete(r.categories, i, i+1)
			}
		}
		r.tombstones[key] = model.Tombstone{Kind: d.Kind, ID: d.ID, Updated: d.Updated, Provenance: d.Provenance}
		tx.deltas = append(tx.deltas, d)
		return
	}
	delete(r.tombstones, key)
	switch d.Kind {
	case model.KindItem:
		it := *d.Item
		it.Updated, it.Provenance = d.Updated, d.Provenance
		r.items[d.ID] = it
	case model.KindCategory:
		c := d.Category.Clone()
		c.Updated, c.Provenance = d.Updated, d.Provenance
		r.clock.Observe(c.Position)
		if i := r.categoryIndex(d.ID); i >= 0 {
			r.categories = slices.Delete(r.categories, i, i+1)
		}
		i, _ := slices.BinarySearchFunc(r.categories, c, model.CompareCategories)
		r.categories = slices.Insert(r.categories, i, c)
	}
	tx.deltas = append(tx.deltas, d)
}

func (tx *Tx) save() {
	if tx.saved {
		return
	}
	tx.saved = true
	tx.items = maps.Clone(tx.r.items)
	tx.categories = slices.Clone(tx.r.categories)
	tx.tombstones = maps.Clone(tx.r.tombstones)
}

func (tx *Tx) rollback() {
	if !tx.saved {
		return
	}
	tx.r.items = tx.items
	tx.r.categories = tx.categories
	tx.r.tombstones = tx.tombstones
	tx.deltas = nil
}
