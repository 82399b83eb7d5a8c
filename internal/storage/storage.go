// Package storage provides transactional resource storages: a single-slot
// primitive and a combined storage that spreads inserts and extracts across
// an ordered sequence of slots.
package storage

import (
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// Storage accepts and yields resources under a transaction. Both operations
// return the amount actually moved, which may be anything from 0 up to
// maxAmount; a shortfall is not an error.
type Storage interface {
	Insert(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error)
	Extract(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error)
}

// SingleSlotStorage holds at most one resource kind at a time.
type SingleSlotStorage interface {
	Storage
	Resource() domain.Resource
	Amount() int64
	// Capacity is the largest amount the slot can hold for its current resource,
	// or for any resource when it is empty.
	Capacity() int64
	IsResourceBlank() bool
}

// checkArgs validates every mutating call before it touches state.
func checkArgs(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) error {
	if err := domain.NotBlankNotNegative(resource, maxAmount); err != nil {
		return err
	}
	if tx == nil {
		return domain.NoOpenTransaction()
	}
	return nil
}

// IsEmpty reports whether a slot holds nothing.
func IsEmpty(slot SingleSlotStorage) bool {
	return slot.IsResourceBlank() || slot.Amount() == 0
}
