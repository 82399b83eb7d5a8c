package domain

import (
	"context"
	"time"
)

// SlotRecord is the committed content of one inventory slot.
type SlotRecord struct {
	Index    int      `json:"index"`
	Limit    int64    `json:"limit"`
	Resource Resource `json:"resource"`
	Amount   int64    `json:"amount"`
}

// Capacity is the largest amount the slot may hold for its current resource.
func (s SlotRecord) Capacity() int64 {
	if s.Resource.IsBlank() {
		return s.Limit
	}
	return min(s.Limit, s.Resource.MaxCount())
}

// InventoryRecord is the committed state of one player's inventory.
type InventoryRecord struct {
	Owner        string       `json:"owner"`
	SelectedSlot int          `json:"selected_slot"`
	Slots        []SlotRecord `json:"slots"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Totals sums slot amounts per resource.
func (r InventoryRecord) Totals() map[Resource]int64 {
	out := make(map[Resource]int64)
	for _, slot := range r.Slots {
		if slot.Resource.IsBlank() || slot.Amount == 0 {
			continue
		}
		out[slot.Resource] += slot.Amount
	}
	return out
}

// SameContents reports whether two records hold identical slots and selection.
func (r InventoryRecord) SameContents(other InventoryRecord) bool {
	if r.Owner != other.Owner || r.SelectedSlot != other.SelectedSlot || len(r.Slots) != len(other.Slots) {
		return false
	}
	for i := range r.Slots {
		if r.Slots[i] != other.Slots[i] {
			return false
		}
	}
	return true
}

// PersistentStore keeps the committed inventory records. Implementations are
// only written to after an outermost transaction commits.
type PersistentStore interface {
	Save(ctx context.Context, records ...InventoryRecord) error
	Load(ctx context.Context, owner string) (InventoryRecord, bool, error)
	List(ctx context.Context) ([]InventoryRecord, error)
	Close() error
}
