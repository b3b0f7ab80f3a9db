// Package amdoc stores replica state inside an automerge document so that
// every persisted revision becomes a change in the document's history.
//
// Layout under the root map:
//
//	items       map: item id -> item JSON
//	categories  map: category id -> category JSON
//	order       category ids JSON, display order
//	tombstones  map: kind/id -> tombstone JSON
//	meta        {"revision": n} JSON
package amdoc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/grocery-sync/pkg/model"
)

const (
	keyItems      = "items"
	keyCategories = "categories"
	keyOrder      = "order"
	keyTombstones = "tombstones"
	keyMeta       = "meta"
)

type meta struct {
	Revision uint64 `json:"revision"`
}

// Doc wraps an automerge document holding replica state.
type Doc struct {
	doc *automerge.Doc
}

func New(actor string) (*Doc, error) {
	d := &Doc{doc: automerge.New()}
	if actor != "" {
		if err := d.doc.SetActorID(hex.EncodeToString([]byte(actor))); err != nil {
			return nil, fmt.Errorf("failed to set actor: %w", err)
		}
	}
	if err := d.ensureMaps(); err != nil {
		return nil, err
	}
	return d, nil
}

func Load(raw []byte) (*Doc, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load doc: %w", err)
	}
	d := &Doc{doc: doc}
	if err := d.ensureMaps(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Doc) Automerge() *automerge.Doc {
	return d.doc
}

func (d *Doc) Save() []byte {
	return d.doc.Save()
}

func (d *Doc) ensureMaps() error {
	for _, key := range []string{keyItems, keyCategories, keyTombstones} {
		v, err := d.doc.Path(key).Get()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
		if v.Kind() == automerge.KindMap {
			continue
		}
		if err := d.doc.Path(key).Set(map[string]interface{}{}); err != nil {
			return fmt.Errorf("failed to create %s: %w", key, err)
		}
	}
	return nil
}

// Write brings the document in line with st and commits the difference.
// It reports whether anything changed.
func (d *Doc) Write(st model.State) (bool, error) {
	dirty := false

	items := map[string]interface{}{}
	for id, it := range st.Document.Items {
		items[id] = it
	}
	if changed, err := d.syncMap(keyItems, items); err != nil {
		return false, err
	} else if changed {
		dirty = true
	}

	categories := map[string]interface{}{}
	order := make([]string, 0, len(st.Document.Categories))
	for _, c := range st.Document.Categories {
		categories[c.ID] = c
		order = append(order, c.ID)
	}
	if changed, err := d.syncMap(keyCategories, categories); err != nil {
		return false, err
	} else if changed {
		dirty = true
	}
	if changed, err := d.setJSON(keyOrder, order); err != nil {
		return false, err
	} else if changed {
		dirty = true
	}

	tombstones := map[string]interface{}{}
	for _, t := range st.Tombstones {
		tombstones[model.Key{Kind: t.Kind, ID: t.ID}.String()] = t
	}
	if changed, err := d.syncMap(keyTombstones, tombstones); err != nil {
		return false, err
	} else if changed {
		dirty = true
	}

	if !dirty {
		return false, nil
	}
	if _, err := d.setJSON(keyMeta, meta{Revision: st.Revision}); err != nil {
		return false, err
	}
	if _, err := d.doc.Commit(fmt.Sprintf("revision %d", st.Revision)); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

func (d *Doc) syncMap(key string, want map[string]interface{}) (bool, error) {
	m := d.doc.Path(key).Map()
	existing, err := m.Keys()
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", key, err)
	}
	changed := false
	for _, k := range existing {
		if _, ok := want[k]; ok {
			continue
		}
		if err := m.Delete(k); err != nil {
			return false, fmt.Errorf("failed to delete %s/%s: %w", key, k, err)
		}
		changed = true
	}
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		raw, err := json.Marshal(want[k])
		if err != nil {
			return false, fmt.Errorf("failed to marshal %s/%s: %w", key, k, err)
		}
		if cur, err := automerge.As[string](d.doc.Path(key, k).Get()); err == nil && cur == string(raw) {
			continue
		}
		if err := d.doc.Path(key, k).Set(string(raw)); err != nil {
			return false, fmt.Errorf("failed to set %s/%s: %w", key, k, err)
		}
		changed = true
	}
	return changed, nil
}

func (d *Doc) setJSON(key string, v interface{}) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if cur, err := automerge.As[string](d.doc.Path(key).Get()); err == nil && cur == string(raw) {
		return false, nil
	}
	if err := d.doc.Path(key).Set(string(raw)); err != nil {
		return false, fmt.Errorf("failed to set %s: %w", key, err)
	}
	return true, nil
}

// Read decodes the state held by the document.
func (d *Doc) Read() (model.State, error) {
	return read(d.doc)
}

func read(doc *automerge.Doc) (model.State, error) {
	st := model.NewState()

	itemIDs, err := doc.Path(keyItems).Map().Keys()
	if err != nil {
		return model.State{}, fmt.Errorf("failed to list items: %w", err)
	}
	for _, id := range itemIDs {
		var it model.Item
		if err := getJSON(doc, &it, keyItems, id); err != nil {
			return model.State{}, err
		}
		st.Document.Items[id] = it
	}

	categories := map[string]model.Category{}
	catIDs, err := doc.Path(keyCategories).Map().Keys()
	if err != nil {
		return model.State{}, fmt.Errorf("failed to list categories: %w", err)
	}
	for _, id := range catIDs {
		var c model.Category
		if err := getJSON(doc, &c, keyCategories, id); err != nil {
			return model.State{}, err
		}
		categories[id] = c
	}
	var order []string
	if err := getJSON(doc, &order, keyOrder); err != nil {
		return model.State{}, err
	}
	for _, id := range order {
		if c, ok := categories[id]; ok {
			st.Document.Categories = append(st.Document.Categories, c.Clone())
			delete(categories, id)
		}
	}
	// categories missing from the order (a concurrent edit of the doc) go last
	rest := make([]string, 0, len(categories))
	for id := range categories {
		rest = append(rest, id)
	}
	slices.Sort(rest)
	for _, id := range rest {
		st.Document.Categories = append(st.Document.Categories, categories[id].Clone())
	}

	keys, err := doc.Path(keyTombstones).Map().Keys()
	if err != nil {
		return model.State{}, fmt.Errorf("failed to list tombstones: %w", err)
	}
	slices.Sort(keys)
	for _, k := range keys {
		var t model.Tombstone
		if err := getJSON(doc, &t, keyTombstones, k); err != nil {
			return model.State{}, err
		}
		st.Tombstones = append(st.Tombstones, t)
	}

	var m meta
	if err := getJSON(doc, &m, keyMeta); err != nil {
		return model.State{}, err
	}
	st.Revision = m.Revision
	return st, nil
}

// getJSON leaves v untouched when nothing is stored at the path.
func getJSON(doc *automerge.Doc, v interface{}, path ...interface{}) error {
	val, err := doc.Path(path...).Get()
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", path, err)
	}
	if val.Kind() == automerge.KindVoid {
		return nil
	}
	raw, err := automerge.As[string](val)
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", path, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %v: %w", path, err)
	}
	return nil
}

// Encode is a one-shot Write into a fresh document.
func Encode(actor string, st model.State) ([]byte, error) {
	d, err := New(actor)
	if err != nil {
		return nil, err
	}
	if _, err := d.Write(st); err != nil {
		return nil, err
	}
	return d.Save(), nil
}

func Decode(raw []byte) (model.State, error) {
	d, err := Load(raw)
	if err != nil {
		return model.State{}, err
	}
	return d.Read()
}
