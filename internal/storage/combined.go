package storage

import (
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// Pass is one sweep over a subset of slots. Slots the Accept predicate
// rejects are skipped; a nil Accept takes every slot.
type Pass struct {
	Name   string
	Slots  []SingleSlotStorage
	Accept func(SingleSlotStorage) bool
}

// Policy decides the order in which a Combined storage visits its slots.
type Policy interface {
	InsertPasses(slots []SingleSlotStorage, resource domain.Resource) ([]Pass, error)
	ExtractPasses(slots []SingleSlotStorage, resource domain.Resource) ([]Pass, error)
}

// Sequential visits every slot once in index order for both directions.
type Sequential struct{}

func (Sequential) InsertPasses(slots []SingleSlotStorage, _ domain.Resource) ([]Pass, error) {
	return []Pass{{Name: "sequential", Slots: slots}}, nil
}

func (Sequential) ExtractPasses(slots []SingleSlotStorage, _ domain.Resource) ([]Pass, error) {
	return []Pass{{Name: "sequential", Slots: slots}}, nil
}

// Combined coordinates an ordered sequence of slots. It holds no state of its
// own; all rollback happens inside the slots.
type Combined struct {
	slots  []SingleSlotStorage
	policy Policy
}

var _ Storage = (*Combined)(nil)

// NewCombined builds a combined storage. A nil policy means Sequential.
func NewCombined(policy Policy, slots ...SingleSlotStorage) *Combined {
	if policy == nil {
		policy = Sequential{}
	}
	return &Combined{slots: append([]SingleSlotStorage(nil), slots...), policy: policy}
}

// Slots returns the slots in container order.
func (c *Combined) Slots() []SingleSlotStorage {
	return append([]SingleSlotStorage(nil), c.slots...)
}

// Size is the number of slots.
func (c *Combined) Size() int { return len(c.slots) }

// Slot returns the slot at index or nil when out of range.
func (c *Combined) Slot(index int) SingleSlotStorage {
	if index < 0 || index >= len(c.slots) {
		return nil
	}
	return c.slots[index]
}

// Amount sums the content of every slot holding resource.
func (c *Combined) Amount(resource domain.Resource) int64 {
	var total int64
	for _, slot := range c.slots {
		if slot.Resource() == resource {
			total += slot.Amount()
		}
	}
	return total
}

// NonEmpty returns the slots currently holding something, in container order.
func (c *Combined) NonEmpty() []SingleSlotStorage {
	var out []SingleSlotStorage
	for _, slot := range c.slots {
		if !IsEmpty(slot) {
			out = append(out, slot)
		}
	}
	return out
}

func (c *Combined) Insert(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	if err := checkArgs(resource, maxAmount, tx); err != nil {
		return 0, err
	}
	passes, err := c.policy.InsertPasses(c.slots, resource)
	if err != nil {
		return 0, err
	}
	return RunPasses(passes, maxAmount, func(slot SingleSlotStorage, remaining int64) (int64, error) {
		return slot.Insert(resource, remaining, tx)
	})
}

func (c *Combined) Extract(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	if err := checkArgs(resource, maxAmount, tx); err != nil {
		return 0, err
	}
	passes, err := c.policy.ExtractPasses(c.slots, resource)
	if err != nil {
		return 0, err
	}
	return RunPasses(passes, maxAmount, func(slot SingleSlotStorage, remaining int64) (int64, error) {
		return slot.Extract(resource, remaining, tx)
	})
}

// RunPasses applies move to the slots of each pass until maxAmount has been
// moved, returning the running total. The first error stops the sweep.
func RunPasses(passes []Pass, maxAmount int64, move func(SingleSlotStorage, int64) (int64, error)) (int64, error) {
	var moved int64
	for _, pass := range passes {
		for _, slot := range pass.Slots {
			if moved == maxAmount {
				return moved, nil
			}
			if pass.Accept != nil && !pass.Accept(slot) {
				continue
			}
			n, err := move(slot, maxAmount-moved)
			if err != nil {
				return moved, err
			}
			moved += n
		}
	}
	return moved, nil
}
