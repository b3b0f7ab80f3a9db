package model

import (
	"cmp"
	"fmt"
)

type Kind string

const (
	KindItem     Kind = "item"
	KindCategory Kind = "category"
)

// Key identifies an entity across both collections.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// Version orders writes to the same entity. Provenance breaks timestamp ties.
type Version struct {
	Updated    int64  `json:"updated"`
	Provenance string `json:"provenance"`
}

func (v Version) Compare(o Version) int {
	if c := cmp.Compare(v.Updated, o.Updated); c != 0 {
		return c
	}
	return cmp.Compare(v.Provenance, o.Provenance)
}

// Delta is the unit of replication: a full entity value or a tombstone.
type Delta struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id"`
	Deleted    bool      `json:"deleted,omitempty"`
	Item       *Item     `json:"item,omitempty"`
	Category   *Category `json:"category,omitempty"`
	Updated    int64     `json:"updated"`
	Provenance string    `json:"provenance"`
}

func (d Delta) Key() Key {
	return Key{Kind: d.Kind, ID: d.ID}
}

func (d Delta) Version() Version {
	return Version{Updated: d.Updated, Provenance: d.Provenance}
}

func (d Delta) String() string {
	op := "upsert"
	if d.Deleted {
		op = "delete"
	}
	return fmt.Sprintf("%s %s@%d/%s", op, d.Key(), d.Updated, d.Provenance)
}

// Validate rejects deltas that could not have been produced by a replica.
func (d Delta) Validate() error {
	if d.ID == "" {
		return &InvalidEntity{Kind: d.Kind, Reason: "missing id"}
	}
	if d.Deleted {
		return nil
	}
	switch d.Kind {
	case KindItem:
		if d.Item == nil || d.Item.ID != d.ID {
			return &InvalidEntity{Kind: d.Kind, ID: d.ID, Reason: "item payload does not match delta"}
		}
	case KindCategory:
		if d.Category == nil || d.Category.ID != d.ID {
			return &InvalidEntity{Kind: d.Kind, ID: d.ID, Reason: "category payload does not match delta"}
		}
	default:
		return &InvalidEntity{Kind: d.Kind, ID: d.ID, Reason: "unknown kind"}
	}
	return nil
}

func ItemDelta(it Item) Delta {
	return Delta{Kind: KindItem, ID: it.ID, Item: &it, Updated: it.Updated, Provenance: it.Provenance}
}

func CategoryDelta(c Category) Delta {
	c = c.Clone()
	return Delta{Kind: KindCategory, ID: c.ID, Category: &c, Updated: c.Updated, Provenance: c.Provenance}
}

func TombstoneDelta(t Tombstone) Delta {
	return Delta{Kind: t.Kind, ID: t.ID, Deleted: true, Updated: t.Updated, Provenance: t.Provenance}
}

// InvalidEntity is returned for malformed input before any state change.
type InvalidEntity struct {
	Kind   Kind
	ID     string
	Reason string
}

func (e *InvalidEntity) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.ID, e.Reason)
}

func ValidateItem(it Item) error {
	if it.ID == "" {
		return &InvalidEntity{Kind: KindItem, Reason: "missing id"}
	}
	return nil
}

func ValidateCategory(c Category) error {
	if c.ID == "" {
		return &InvalidEntity{Kind: KindCategory, Reason: "missing id"}
	}
	return nil
}
