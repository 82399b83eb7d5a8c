// Package transaction implements nested, single-threaded transactions over
// in-process state. Mutable objects take part through SnapshotParticipant:
// they capture a snapshot the first time they are mutated at a level, are
// restored when that level aborts, and are finalized only once the outermost
// level commits.
package transaction

import (
	"fmt"

	"github.com/google/uuid"

	"stockpile/pkg/domain"
)

// Result is the outcome of closing a transaction level.
type Result int

const (
	// Aborted levels restore every registered participant.
	Aborted Result = iota
	// Committed levels carry their state forward to the enclosing level.
	Committed
)

// WasCommitted reports whether the level committed.
func (r Result) WasCommitted() bool { return r == Committed }

// WasAborted reports whether the level aborted.
func (r Result) WasAborted() bool { return r == Aborted }

func (r Result) String() string {
	if r == Committed {
		return "commit"
	}
	return "abort"
}

// CloseCallback runs when the level it was registered on closes.
type CloseCallback func(tx *Transaction, result Result)

// OuterCloseCallback runs after the outermost level has closed and no
// transaction is open anymore.
type OuterCloseCallback func(result Result)

// Observer is notified every time a level closes.
type Observer interface {
	TransactionClosed(depth int, result Result, participants int)
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver attaches an observer notified on every close.
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// Manager owns the stack of open transaction levels. It is not safe for
// concurrent use; every participant must be driven by a single manager.
type Manager struct {
	stack    []*Transaction
	observer Observer
}

// NewManager constructs a manager with no open transaction.
func NewManager(opts ...Option) *Manager {
	m := &Manager{}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Open pushes a new level. It is nested in the current level when one is
// open and becomes the outermost level otherwise.
func (m *Manager) Open() *Transaction {
	tx := &Transaction{
		manager: m,
		depth:   len(m.stack),
		id:      uuid.New(),
	}
	m.stack = append(m.stack, tx)
	return tx
}

// Current returns the innermost open level.
func (m *Manager) Current() (*Transaction, error) {
	if len(m.stack) == 0 {
		return nil, domain.NoOpenTransaction()
	}
	return m.stack[len(m.stack)-1], nil
}

// IsOpen reports whether any level is open.
func (m *Manager) IsOpen() bool { return len(m.stack) > 0 }

// Depth returns the number of open levels.
func (m *Manager) Depth() int { return len(m.stack) }

// AbortAll aborts every open level from the innermost outwards. It exists to
// unwind after a caller left nested levels open by mistake.
func (m *Manager) AbortAll() error {
	for len(m.stack) > 0 {
		if err := m.stack[len(m.stack)-1].Abort(); err != nil {
			return err
		}
	}
	return nil
}

// Transaction is one nesting level. Its zero value is not usable; levels are
// created by Manager.Open or Transaction.OpenNested.
type Transaction struct {
	manager        *Manager
	depth          int
	id             uuid.UUID
	participants   []participant
	closeCallbacks []CloseCallback
	outerCallbacks []OuterCloseCallback
	closed         bool
}

// ID identifies the level for logging.
func (tx *Transaction) ID() uuid.UUID { return tx.id }

// Depth is 0 for the outermost level.
func (tx *Transaction) Depth() int { return tx.depth }

// IsOpen reports whether the level has not been closed yet.
func (tx *Transaction) IsOpen() bool { return !tx.closed }

// Participants returns how many participants registered at this level so far.
func (tx *Transaction) Participants() int { return len(tx.participants) }

// OpenNested opens a level nested in tx, which must be the innermost open level.
func (tx *Transaction) OpenNested() (*Transaction, error) {
	if err := tx.ensureCurrent("open nested transaction"); err != nil {
		return nil, err
	}
	return tx.manager.Open(), nil
}

// Commit closes the level keeping its changes. Only the outermost commit
// finalizes participants.
func (tx *Transaction) Commit() error { return tx.close(Committed) }

// Abort closes the level restoring every participant registered on it.
func (tx *Transaction) Abort() error { return tx.close(Aborted) }

// Close aborts the level unless it was already closed, so it can be deferred
// right after opening.
func (tx *Transaction) Close() error {
	if tx.closed {
		return nil
	}
	return tx.Abort()
}

// AddCloseCallback registers fn to run when this level closes, after its
// participants were restored or carried forward.
func (tx *Transaction) AddCloseCallback(fn CloseCallback) error {
	if err := tx.ensureCurrent("add close callback"); err != nil {
		return err
	}
	tx.closeCallbacks = append(tx.closeCallbacks, fn)
	return nil
}

// AddOuterCloseCallback registers fn to run once the outermost level closes.
func (tx *Transaction) AddOuterCloseCallback(fn OuterCloseCallback) error {
	if err := tx.ensureCurrent("add outer close callback"); err != nil {
		return err
	}
	outer := tx.manager.stack[0]
	outer.outerCallbacks = append(outer.outerCallbacks, fn)
	return nil
}

func (tx *Transaction) ensureCurrent(operation string) error {
	if tx == nil {
		return domain.NoOpenTransaction()
	}
	if tx.closed {
		return domain.InvariantViolation(fmt.Sprintf("transaction: cannot %s, level %d is closed", operation, tx.depth), map[string]any{
			"transaction_id": tx.id.String(),
		})
	}
	m := tx.manager
	if len(m.stack) == 0 || m.stack[len(m.stack)-1] != tx {
		return domain.InvalidNesting(fmt.Sprintf("transaction: cannot %s, level %d is not the innermost open level", operation, tx.depth), map[string]any{
			"transaction_id": tx.id.String(),
			"open_levels":    len(m.stack),
		})
	}
	return nil
}

func (tx *Transaction) register(p participant) {
	tx.participants = append(tx.participants, p)
}

func (tx *Transaction) parent() *Transaction {
	if tx.depth == 0 {
		return nil
	}
	return tx.manager.stack[tx.depth-1]
}

func (tx *Transaction) close(result Result) error {
	if err := tx.ensureCurrent(result.String()); err != nil {
		return err
	}
	participants := tx.participants

	if result == Aborted {
		for i := len(participants) - 1; i >= 0; i-- {
			participants[i].closeLevel(tx, result)
		}
	} else {
		for _, p := range participants {
			p.closeLevel(tx, result)
		}
	}
	for _, fn := range tx.closeCallbacks {
		fn(tx, result)
	}
	outerCallbacks := tx.outerCallbacks

	m := tx.manager
	m.stack[len(m.stack)-1] = nil
	m.stack = m.stack[:len(m.stack)-1]
	tx.closed = true
	tx.participants = nil
	tx.closeCallbacks = nil
	tx.outerCallbacks = nil

	if m.observer != nil {
		m.observer.TransactionClosed(tx.depth, result, len(participants))
	}

	if tx.depth == 0 {
		if result == Committed {
			for _, p := range participants {
				p.finalCommit()
			}
		}
		for _, fn := range outerCallbacks {
			fn(result)
		}
	}
	return nil
}
