package model

import (
	"cmp"
	"slices"
)

type ItemState string

const (
	ItemRequired ItemState = "required"
	ItemStuffed  ItemState = "stuffed"
)

type CollapsedState string

const (
	CategoryOpen      CollapsedState = "open"
	CategoryCollapsed CollapsedState = "collapsed"
)

type Quantity struct {
	Count float64 `json:"count"`
	Unit  string  `json:"unit"`
}

// Item is a single entry on the grocery list.
type Item struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Quantity   Quantity  `json:"quantity"`
	Comment    string    `json:"comment,omitempty"`
	Slug       string    `json:"slug"`
	Symbol     string    `json:"symbol"`
	State      ItemState `json:"state"`
	Created    int64     `json:"created"`
	Updated    int64     `json:"updated"`
	Provenance string    `json:"provenance,omitempty"`
}

// Category groups items; Items holds item ids in display order.
// Position is replicated with the rest of the category and decides where it
// sits in Document.Categories, highest first.
type Category struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Items      []string       `json:"items"`
	State      CollapsedState `json:"state"`
	Position   int64          `json:"position"`
	Created    int64          `json:"created"`
	Updated    int64          `json:"updated"`
	Provenance string         `json:"provenance,omitempty"`
}

func (c Category) Clone() Category {
	c.Items = slices.Clone(c.Items)
	if c.Items == nil {
		c.Items = []string{}
	}
	return c
}

// CompareCategories orders categories by position, highest first, then by id.
func CompareCategories(a, b Category) int {
	if c := cmp.Compare(b.Position, a.Position); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

type Document struct {
	Items      map[string]Item `json:"items"`
	Categories []Category      `json:"categories"`
}

func NewDocument() Document {
	return Document{Items: map[string]Item{}, Categories: []Category{}}
}

func (d Document) Clone() Document {
	out := Document{
		Items:      make(map[string]Item, len(d.Items)),
		Categories: make([]Category, 0, len(d.Categories)),
	}
	for k, v := range d.Items {
		out.Items[k] = v
	}
	for _, c := range d.Categories {
		out.Categories = append(out.Categories, c.Clone())
	}
	return out
}

// CategoryIndex returns the position of the first category with the given id, or -1.
func (d Document) CategoryIndex(id string) int {
	return slices.IndexFunc(d.Categories, func(c Category) bool { return c.ID == id })
}

// DanglingRefs lists, per category id, the referenced item ids that no longer exist.
func (d Document) DanglingRefs() map[string][]string {
	out := map[string][]string{}
	for _, c := range d.Categories {
		for _, id := range c.Items {
			if _, ok := d.Items[id]; !ok {
				out[c.ID] = append(out[c.ID], id)
			}
		}
	}
	return out
}

// Uncategorised returns ids of items not referenced by any category, sorted.
func (d Document) Uncategorised() []string {
	seen := map[string]bool{}
	for _, c := range d.Categories {
		for _, id := range c.Items {
			seen[id] = true
		}
	}
	out := make([]string, 0)
	for id := range d.Items {
		if !seen[id] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Snapshot is an immutable copy of the document taken at Revision.
type Snapshot struct {
	Document
	Revision uint64 `json:"revision"`
}

// Dump is the bulk import/export format.
type Dump struct {
	Version    int             `json:"version"`
	Items      map[string]Item `json:"items"`
	Categories []Category      `json:"categories"`
}

func (d Dump) Document() Document {
	return Document{Items: d.Items, Categories: d.Categories}.Clone()
}

// State is everything the durable store keeps for a replica.
type State struct {
	Document   Document    `json:"document"`
	Tombstones []Tombstone `json:"tombstones"`
	Revision   uint64      `json:"revision"`
}

func NewState() State {
	return State{Document: NewDocument(), Tombstones: []Tombstone{}}
}

// Tombstone records a delete so that late updates cannot resurrect the entity.
type Tombstone struct {
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`
	Updated    int64  `json:"updated"`
	Provenance string `json:"provenance"`
}
