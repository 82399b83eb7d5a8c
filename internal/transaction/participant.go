package transaction

import "stockpile/pkg/domain"

// participant is the closed set of objects a level notifies when it closes.
// SnapshotParticipant is its only implementation.
type participant interface {
	closeLevel(tx *Transaction, result Result)
	finalCommit()
}

// Snapshotter is implemented by the state owner behind a SnapshotParticipant.
// RestoreSnapshot must make the owner's observable state identical to the
// moment the snapshot was captured.
type Snapshotter[S any] interface {
	CaptureSnapshot() S
	RestoreSnapshot(snapshot S)
}

// Finalizer is optionally implemented by a Snapshotter whose effects must not
// happen speculatively. Finalize runs once per outermost commit the owner took
// part in, never on nested commits and never on aborts.
type Finalizer interface {
	Finalize()
}

type snapshotSlot[S any] struct {
	value S
	set   bool
}

// SnapshotParticipant tracks one snapshot per open level for its owner.
type SnapshotParticipant[S any] struct {
	owner     Snapshotter[S]
	snapshots []snapshotSlot[S]
}

// NewSnapshotParticipant wires owner into transactional rollback.
func NewSnapshotParticipant[S any](owner Snapshotter[S]) *SnapshotParticipant[S] {
	return &SnapshotParticipant[S]{owner: owner}
}

// RecordIfAbsent captures the owner's state at tx's level unless it already
// did so for that level. Owners call it before every mutation; the first
// snapshot taken under a level is the one restored on abort.
func (p *SnapshotParticipant[S]) RecordIfAbsent(tx *Transaction) error {
	if err := tx.ensureCurrent("record snapshot"); err != nil {
		return err
	}
	for len(p.snapshots) <= tx.depth {
		p.snapshots = append(p.snapshots, snapshotSlot[S]{})
	}
	if p.snapshots[tx.depth].set {
		return nil
	}
	p.snapshots[tx.depth] = snapshotSlot[S]{value: p.owner.CaptureSnapshot(), set: true}
	tx.register(p)
	return nil
}

// RegisteredAt reports whether a snapshot is held for tx's level.
func (p *SnapshotParticipant[S]) RegisteredAt(tx *Transaction) bool {
	if tx == nil || tx.depth >= len(p.snapshots) {
		return false
	}
	return p.snapshots[tx.depth].set
}

func (p *SnapshotParticipant[S]) closeLevel(tx *Transaction, result Result) {
	depth := tx.depth
	if depth >= len(p.snapshots) || !p.snapshots[depth].set {
		panic(domain.InvariantViolation("transaction: participant closed at a level it never registered with", map[string]any{
			"depth": depth,
		}))
	}
	held := p.snapshots[depth]
	p.snapshots[depth] = snapshotSlot[S]{}

	if result == Aborted {
		p.owner.RestoreSnapshot(held.value)
		return
	}
	parent := tx.parent()
	if parent == nil {
		return
	}
	// Nested commit: the parent keeps the older snapshot if it has one,
	// otherwise it inherits this one so a later parent abort still rewinds.
	if !p.snapshots[depth-1].set {
		p.snapshots[depth-1] = held
		parent.register(p)
	}
}

func (p *SnapshotParticipant[S]) finalCommit() {
	if f, ok := p.owner.(Finalizer); ok {
		f.Finalize()
	}
}
