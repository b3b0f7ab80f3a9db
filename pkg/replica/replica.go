// Package replica owns the in-memory grocery document. It is the only place the
// document is mutated; every mutation is serialised and advances a revision.
package replica

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/astromechza/grocery-sync/pkg/model"
)

// Origin says where a mutation came from.
type Origin string

const (
	OriginLocal     Origin = "local"
	OriginImport    Origin = "import"
	OriginRemote    Origin = "remote"
	OriginHydration Origin = "hydration"
)

// Change describes one committed revision.
type Change struct {
	Revision uint64
	Origin   Origin
	Deltas   []model.Delta
}

func (c Change) Empty() bool {
	return len(c.Deltas) == 0
}

type Replica struct {
	mu         sync.RWMutex
	handle     string
	clock      *model.Clock
	items      map[string]model.Item
	categories []model.Category
	tombstones map[model.Key]model.Tombstone
	revision   uint64
}

func New(handle string, clock *model.Clock) *Replica {
	if clock == nil {
		clock = model.NewClock(nil)
	}
	return &Replica{
		handle:     handle,
		clock:      clock,
		items:      map[string]model.Item{},
		categories: []model.Category{},
		tombstones: map[model.Key]model.Tombstone{},
	}
}

func (r *Replica) Handle() string {
	return r.handle
}

func (r *Replica) Clock() *model.Clock {
	return r.clock
}

func (r *Replica) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

// Update runs fn under the write lock. Everything fn puts is committed as a
// single revision; nothing is committed if fn fails or puts nothing.
func (r *Replica) Update(origin Origin, fn func(tx *Tx) error) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Tx{r: r, origin: origin}
	if err := fn(tx); err != nil {
		tx.rollback()
		return Change{Origin: origin, Revision: r.revision}, err
	}
	if len(tx.deltas) == 0 {
		return Change{Origin: origin, Revision: r.revision}, nil
	}
	r.revision++
	return Change{Revision: r.revision, Origin: origin, Deltas: tx.deltas}, nil
}

func (r *Replica) UpsertItem(it model.Item) (Change, error) {
	return r.BulkUpsertItems([]model.Item{it})
}

// BulkUpsertItems stamps and stores every item as a single revision.
func (r *Replica) BulkUpsertItems(items []model.Item) (Change, error) {
	for _, it := range items {
		if err := model.ValidateItem(it); err != nil {
			return Change{Origin: OriginLocal, Revision: r.Revision()}, err
		}
	}
	return r.Update(OriginLocal, func(tx *Tx) error {
		for _, it := range items {
			tx.Put(model.ItemDelta(r.stampItem(it)))
		}
		return nil
	})
}

func (r *Replica) DeleteItem(id string) (Change, error) {
	return r.Update(OriginLocal, func(tx *Tx) error {
		if _, ok := r.items[id]; ok {
			tx.Put(r.localTombstone(model.KindItem, id))
		}
		return nil
	})
}

// UpsertCategory replaces an existing category in place or inserts a new one
// at the front of the list.
func (r *Replica) UpsertCategory(c model.Category) (Change, error) {
	if err := model.ValidateCategory(c); err != nil {
		return Change{Origin: OriginLocal, Revision: r.Revision()}, err
	}
	return r.Update(OriginLocal, func(tx *Tx) error {
		tx.Put(model.CategoryDelta(r.stampCategory(c, false)))
		return nil
	})
}

func (r *Replica) DeleteCategory(id string) (Change, error) {
	return r.Update(OriginLocal, func(tx *Tx) error {
		if r.categoryIndex(id) >= 0 {
			tx.Put(r.localTombstone(model.KindCategory, id))
		}
		return nil
	})
}

// ReplaceAll clears the document and repopulates it from the dump. Removed
// entities leave tombstones so the removal replicates, and every category gets
// a fresh position so the dump's order replicates too.
func (r *Replica) ReplaceAll(dump model.Dump) (Change, error) {
	for id, it := range dump.Items {
		if err := validateDumpItem(id, it); err != nil {
			return Change{Origin: OriginImport, Revision: r.Revision()}, err
		}
	}
	for _, c := range dump.Categories {
		if err := model.ValidateCategory(c); err != nil {
			return Change{Origin: OriginImport, Revision: r.Revision()}, err
		}
	}
	return r.Update(OriginImport, func(tx *Tx) error {
		keepCategories := map[string]bool{}
		for _, c := range dump.Categories {
			keepCategories[c.ID] = true
		}
		for id := range r.items {
			if _, ok := dump.Items[id]; !ok {
				tx.Put(r.localTombstone(model.KindItem, id))
			}
		}
		for _, c := range slices.Clone(r.categories) {
			if !keepCategories[c.ID] {
				tx.Put(r.localTombstone(model.KindCategory, c.ID))
			}
		}
		ids := make([]string, 0, len(dump.Items))
		for id := range dump.Items {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			it := dump.Items[id]
			it.ID = id
			tx.Put(model.ItemDelta(r.stampItem(it)))
		}
		for i := len(dump.Categories) - 1; i >= 0; i-- {
			tx.Put(model.CategoryDelta(r.stampCategory(dump.Categories[i], true)))
		}
		return nil
	})
}

// Restore loads a persisted state wholesale. Used for hydration.
func (r *Replica) Restore(st model.State) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := st.Document.Clone()
	r.items = doc.Items
	r.categories = doc.Categories
	slices.SortStableFunc(r.categories, model.CompareCategories)
	r.tombstones = map[model.Key]model.Tombstone{}
	for _, t := range st.Tombstones {
		r.tombstones[model.Key{Kind: t.Kind, ID: t.ID}] = t
	}
	deltas := r.deltasLocked()
	for _, d := range deltas {
		r.clock.Observe(d.Updated)
	}
	if st.Revision > r.revision {
		r.revision = st.Revision
	}
	r.revision++
	return Change{Revision: r.revision, Origin: OriginHydration, Deltas: deltas}
}

func (r *Replica) Snapshot() model.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := model.Document{Items: r.items, Categories: r.categories}.Clone()
	return model.Snapshot{Document: doc, Revision: r.revision}
}

func (r *Replica) State() model.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := model.State{
		Document:   model.Document{Items: r.items, Categories: r.categories}.Clone(),
		Tombstones: make([]model.Tombstone, 0, len(r.tombstones)),
		Revision:   r.revision,
	}
	for _, t := range r.tombstones {
		st.Tombstones = append(st.Tombstones, t)
	}
	slices.SortFunc(st.Tombstones, func(a, b model.Tombstone) int {
		return cmp.Compare(model.Key{Kind: a.Kind, ID: a.ID}.String(), model.Key{Kind: b.Kind, ID: b.ID}.String())
	})
	return st
}

// Deltas renders the full state, tombstones included, as deltas.
func (r *Replica) Deltas() []model.Delta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.deltasLocked()
}

func (r *Replica) deltasLocked() []model.Delta {
	out := make([]model.Delta, 0, len(r.items)+len(r.categories)+len(r.tombstones))
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		out = append(out, model.ItemDelta(r.items[id]))
	}
	for _, c := range r.categories {
		out = append(out, model.CategoryDelta(c))
	}
	keys := make([]model.Key, 0, len(r.tombstones))
	for k := range r.tombstones {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b model.Key) int { return cmp.Compare(a.String(), b.String()) })
	for _, k := range keys {
		out = append(out, model.TombstoneDelta(r.tombstones[k]))
	}
	return out
}

func (r *Replica) stampItem(it model.Item) model.Item {
	now := r.clock.Now()
	if prev, ok := r.items[it.ID]; ok {
		it.Created = prev.Created
	} else if it.Created == 0 {
		it.Created = now
	}
	it.Updated = now
	it.Provenance = r.handle
	return it
}

// stampCategory keeps the stored position of an existing category unless
// reposition is set. New and repositioned categories move to the front.
func (r *Replica) stampCategory(c model.Category, reposition bool) model.Category {
	now := r.clock.Now()
	if i := r.categoryIndex(c.ID); i >= 0 {
		c.Created = r.categories[i].Created
		c.Position = r.categories[i].Position
	} else {
		reposition = true
		if c.Created == 0 {
			c.Created = now
		}
	}
	if reposition {
		c.Position = now
	}
	c.Updated = now
	c.Provenance = r.handle
	return c.Clone()
}

func validateDumpItem(id string, it model.Item) error {
	if id == "" {
		return &model.InvalidEntity{Kind: model.KindItem, Reason: "missing id"}
	}
	if it.ID != "" && it.ID != id {
		return &model.InvalidEntity{Kind: model.KindItem, ID: id, Reason: fmt.Sprintf("stored under key %q", it.ID)}
	}
	return nil
}

func (r *Replica) localTombstone(kind model.Kind, id string) model.Delta {
	return model.TombstoneDelta(model.Tombstone{Kind: kind, ID: id, Updated: r.clock.Now(), Provenance: r.handle})
}

func (r *Replica) categoryIndex(id string) int {
	return slices.IndexFunc(r.categories, func(c model.Category) bool { return c.ID == id })
}
