package storage

import (
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// SimulateInsert reports how much storage would accept without keeping the
// change: the insert runs in a nested level that is always aborted.
func SimulateInsert(s Storage, resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	return simulate(tx, func(nested *transaction.Transaction) (int64, error) {
		return s.Insert(resource, maxAmount, nested)
	})
}

// SimulateExtract is the extract counterpart of SimulateInsert.
func SimulateExtract(s Storage, resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	return simulate(tx, func(nested *transaction.Transaction) (int64, error) {
		return s.Extract(resource, maxAmount, nested)
	})
}

func simulate(tx *transaction.Transaction, fn func(*transaction.Transaction) (int64, error)) (int64, error) {
	nested, err := tx.OpenNested()
	if err != nil {
		return 0, err
	}
	n, err := fn(nested)
	if abortErr := nested.Abort(); abortErr != nil && err == nil {
		err = abortErr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Move transfers up to maxAmount of resource from one storage to another.
// The transfer is all or nothing for the amount it reports: when the source
// cannot release exactly what the target accepted, the nested level aborts
// and Move returns 0.
func Move(from, to Storage, resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	if err := checkArgs(resource, maxAmount, tx); err != nil {
		return 0, err
	}
	if maxAmount == 0 {
		return 0, nil
	}
	nested, err := tx.OpenNested()
	if err != nil {
		return 0, err
	}
	defer func() { _ = nested.Close() }()

	available, err := SimulateExtract(from, resource, maxAmount, nested)
	if err != nil || available == 0 {
		return 0, err
	}
	accepted, err := to.Insert(resource, available, nested)
	if err != nil || accepted == 0 {
		return 0, err
	}
	extracted, err := from.Extract(resource, accepted, nested)
	if err != nil {
		return 0, err
	}
	if extracted != accepted {
		return 0, nested.Abort()
	}
	if err := nested.Commit(); err != nil {
		return 0, err
	}
	return accepted, nil
}
