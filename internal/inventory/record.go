package inventory

import (
	"fmt"

	"stockpile/pkg/domain"
)

// Record exports the current content. UpdatedAt is left for the caller.
func (p *PlayerStorage) Record() domain.InventoryRecord {
	rec := domain.InventoryRecord{
		Owner:        p.owner,
		SelectedSlot: p.selected,
		Slots:        make([]domain.SlotRecord, len(p.slots)),
	}
	for i, slot := range p.slots {
		rec.Slots[i] = domain.SlotRecord{
			Index:    slot.Index(),
			Limit:    slot.Limit(),
			Resource: slot.Resource(),
			Amount:   slot.Amount(),
		}
	}
	return rec
}

// Restore loads a persisted record. It must not be called while a
// transaction touching this inventory is open. Nothing is loaded unless every
// slot of the record is valid.
func (p *PlayerStorage) Restore(rec domain.InventoryRecord) error {
	if rec.Owner != p.owner {
		return domain.InvalidArgument(fmt.Sprintf("inventory: record for %q cannot be restored into %q", rec.Owner, p.owner), nil)
	}
	for _, sr := range rec.Slots {
		slot := p.Slot(sr.Index)
		if slot == nil {
			return domain.InvalidArgument(fmt.Sprintf("inventory: slot index %d out of range", sr.Index), map[string]any{"owner": p.owner})
		}
		stack := domain.Stack{Resource: sr.Resource, Amount: sr.Amount}
		if sr.Amount < 0 || (!stack.IsEmpty() && sr.Amount > slot.CapacityFor(sr.Resource)) {
			return domain.InvalidArgument(fmt.Sprintf("inventory: slot %d cannot hold %s", sr.Index, stack), map[string]any{"owner": p.owner})
		}
	}
	for _, slot := range p.slots {
		_ = slot.Load(domain.Stack{})
	}
	for _, sr := range rec.Slots {
		if err := p.slots[sr.Index].Load(domain.Stack{Resource: sr.Resource, Amount: sr.Amount}); err != nil {
			return err
		}
	}
	p.selected = rec.SelectedSlot
	return nil
}
