package core

import (
	"stockpile/internal/inventory"
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// journal collects the changes made through player storages while a
// transaction is open. Entries written under a level that aborts are dropped
// with it; the outermost commit clears the journal.
type journal struct {
	changes     []domain.Change
	participant *transaction.SnapshotParticipant[int]
}

var _ inventory.Recorder = (*journal)(nil)

func newJournal() *journal {
	j := &journal{}
	j.participant = transaction.NewSnapshotParticipant[int](j)
	return j
}

func (j *journal) Record(tx *transaction.Transaction, change domain.Change) error {
	if err := j.participant.RecordIfAbsent(tx); err != nil {
		return err
	}
	j.changes = append(j.changes, change)
	return nil
}

func (j *journal) CaptureSnapshot() int { return len(j.changes) }

func (j *journal) RestoreSnapshot(length int) {
	clear(j.changes[length:])
	j.changes = j.changes[:length]
}

func (j *journal) Finalize() { j.changes = nil }

// Changes returns a copy of the entries recorded so far.
func (j *journal) Changes() []domain.Change {
	out := make([]domain.Change, len(j.changes))
	copy(out, j.changes)
	return out
}

// Owners lists the distinct owners in the journal in first-seen order.
func (j *journal) Owners() []string {
	seen := make(map[string]struct{}, len(j.changes))
	var owners []string
	for _, change := range j.changes {
		if _, ok := seen[change.Owner]; ok {
			continue
		}
		seen[change.Owner] = struct{}{}
		owners = append(owners, change.Owner)
	}
	return owners
}
