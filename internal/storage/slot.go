package storage

import (
	"fmt"

	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// Filter restricts which resources a slot accepts.
type Filter func(domain.Resource) bool

// SlotOption configures a Slot.
type SlotOption func(*Slot)

// WithLimit caps the slot below the resource's own stack size.
func WithLimit(limit int64) SlotOption {
	return func(s *Slot) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithFilter rejects inserts of resources the filter refuses.
func WithFilter(filter Filter) SlotOption {
	return func(s *Slot) {
		s.filter = filter
	}
}

// WithOnChange registers a hook fired when a committed change reaches the slot.
func WithOnChange(fn func(*Slot)) SlotOption {
	return func(s *Slot) {
		s.onChange = fn
	}
}

type slotState struct {
	resource domain.Resource
	amount   int64
}

// Slot is the reference SingleSlotStorage. Every mutation registers a
// snapshot with the current transaction level, and the version only advances
// once an outermost commit includes the slot.
type Slot struct {
	index     int
	limit     int64
	filter    Filter
	resource  domain.Resource
	amount    int64
	version   uint64
	onChange  func(*Slot)
	snapshots *transaction.SnapshotParticipant[slotState]
}

var _ SingleSlotStorage = (*Slot)(nil)

// NewSlot returns an empty slot at the given index.
func NewSlot(index int, opts ...SlotOption) *Slot {
	s := &Slot{index: index, limit: domain.DefaultMaxCount}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.snapshots = transaction.NewSnapshotParticipant[slotState](s)
	return s
}

// Index is the slot's position inside its container.
func (s *Slot) Index() int { return s.index }

// Limit is the per-slot cap regardless of resource.
func (s *Slot) Limit() int64 { return s.limit }

// Version counts the outermost commits that touched the slot.
func (s *Slot) Version() uint64 { return s.version }

func (s *Slot) Resource() domain.Resource { return s.resource }

func (s *Slot) Amount() int64 { return s.amount }

func (s *Slot) IsResourceBlank() bool { return s.resource.IsBlank() }

func (s *Slot) Capacity() int64 {
	if s.resource.IsBlank() {
		return s.limit
	}
	return s.CapacityFor(s.resource)
}

// CapacityFor is the stack limit the slot applies to resource.
func (s *Slot) CapacityFor(resource domain.Resource) int64 {
	return min(s.limit, resource.MaxCount())
}

// Accepts reports whether the filter lets resource in.
func (s *Slot) Accepts(resource domain.Resource) bool {
	return s.filter == nil || s.filter(resource)
}

// Stack returns the current content.
func (s *Slot) Stack() domain.Stack {
	return domain.Stack{Resource: s.resource, Amount: s.amount}
}

func (s *Slot) Insert(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	if err := checkArgs(resource, maxAmount, tx); err != nil {
		return 0, err
	}
	if maxAmount == 0 || !s.Accepts(resource) {
		return 0, nil
	}
	if !s.resource.IsBlank() && s.resource != resource {
		return 0, nil
	}
	inserted := min(maxAmount, s.CapacityFor(resource)-s.amount)
	if inserted <= 0 {
		return 0, nil
	}
	if err := s.snapshots.RecordIfAbsent(tx); err != nil {
		return 0, err
	}
	s.resource = resource
	s.amount += inserted
	return inserted, nil
}

func (s *Slot) Extract(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	if err := checkArgs(resource, maxAmount, tx); err != nil {
		return 0, err
	}
	if maxAmount == 0 || s.resource != resource || s.amount == 0 {
		return 0, nil
	}
	extracted := min(maxAmount, s.amount)
	if err := s.snapshots.RecordIfAbsent(tx); err != nil {
		return 0, err
	}
	s.amount -= extracted
	if s.amount == 0 {
		s.resource = domain.Blank
	}
	return extracted, nil
}

// Load replaces the content outside of any transaction, e.g. when restoring
// a persisted record. It bypasses the filter but not the capacity.
func (s *Slot) Load(stack domain.Stack) error {
	if stack.Amount < 0 {
		return domain.InvalidArgument(fmt.Sprintf("slot %d: amount may not be negative, got %d", s.index, stack.Amount), nil)
	}
	if stack.IsEmpty() {
		s.resource, s.amount = domain.Blank, 0
		return nil
	}
	if capacity := s.CapacityFor(stack.Resource); stack.Amount > capacity {
		return domain.InvalidArgument(fmt.Sprintf("slot %d: %s exceeds capacity %d", s.index, stack, capacity), map[string]any{
			"slot":     s.index,
			"capacity": capacity,
		})
	}
	s.resource, s.amount = stack.Resource, stack.Amount
	return nil
}

// CaptureSnapshot implements transaction.Snapshotter.
func (s *Slot) CaptureSnapshot() slotState {
	return slotState{resource: s.resource, amount: s.amount}
}

// RestoreSnapshot implements transaction.Snapshotter.
func (s *Slot) RestoreSnapshot(state slotState) {
	s.resource, s.amount = state.resource, state.amount
}

// Finalize marks the slot changed once the outermost transaction commits.
func (s *Slot) Finalize() {
	s.version++
	if s.onChange != nil {
		s.onChange(s)
	}
}
