package inventory

import (
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// Dropper places stacks in the environment. It is only called after the
// outermost transaction commits, with stacks no larger than the resource's
// max count.
type Dropper interface {
	DropStack(owner string, stack domain.Stack)
}

// DropperFunc adapts a function to Dropper.
type DropperFunc func(owner string, stack domain.Stack)

func (f DropperFunc) DropStack(owner string, stack domain.Stack) { f(owner, stack) }

// droppedStacks queues drops until the outermost commit. Its snapshot is the
// queue length, so rolling back truncates whatever was queued since.
type droppedStacks struct {
	owner     string
	dropper   Dropper
	pending   []domain.Stack
	snapshots *transaction.SnapshotParticipant[int]
}

func newDroppedStacks(owner string, dropper Dropper) *droppedStacks {
	d := &droppedStacks{owner: owner, dropper: dropper}
	d.snapshots = transaction.NewSnapshotParticipant[int](d)
	return d
}

func (d *droppedStacks) add(stack domain.Stack, tx *transaction.Transaction) error {
	if err := d.snapshots.RecordIfAbsent(tx); err != nil {
		return err
	}
	d.pending = append(d.pending, stack)
	return nil
}

func (d *droppedStacks) CaptureSnapshot() int { return len(d.pending) }

func (d *droppedStacks) RestoreSnapshot(length int) {
	clear(d.pending[length:])
	d.pending = d.pending[:length]
}

func (d *droppedStacks) Finalize() {
	for _, stack := range d.pending {
		remaining := stack.Amount
		for remaining > 0 {
			chunk := min(stack.Resource.MaxCount(), remaining)
			d.dropper.DropStack(d.owner, domain.Stack{Resource: stack.Resource, Amount: chunk})
			remaining -= chunk
		}
	}
	d.pending = nil
}

func (d *droppedStacks) snapshot() []domain.Stack {
	return append([]domain.Stack(nil), d.pending...)
}
