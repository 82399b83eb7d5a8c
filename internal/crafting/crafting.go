// Package crafting consumes crafting ingredients and hands their remainders
// back to the player. The stack an ingredient came from is passed to the
// remainder provider explicitly.
package crafting

import (
	"fmt"

	"stockpile/internal/storage"
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// RemainderProvider computes what is left behind after one unit of input is
// consumed, e.g. an empty bucket for a water bucket. A blank stack means
// nothing remains.
type RemainderProvider interface {
	Remainder(input domain.Stack) domain.Stack
}

// RemainderFunc adapts a function to RemainderProvider.
type RemainderFunc func(input domain.Stack) domain.Stack

func (f RemainderFunc) Remainder(input domain.Stack) domain.Stack { return f(input) }

// Table maps item kinds to a fixed one-unit remainder.
type Table map[domain.ItemID]domain.Resource

func (t Table) Remainder(input domain.Stack) domain.Stack {
	r, ok := t[input.Resource.Item.ID]
	if !ok || r.IsBlank() {
		return domain.Stack{}
	}
	return domain.Stack{Resource: r, Amount: 1}
}

// Receiver takes remainders that do not fit back into the grid.
type Receiver interface {
	OfferOrDrop(resource domain.Resource, amount int64, tx *transaction.Transaction) error
}

// Consume takes one unit from every non-empty grid slot. Each remainder goes
// back into the slot it came from when possible and to the receiver
// otherwise. Either every ingredient is consumed or none is.
func Consume(grid []storage.SingleSlotStorage, receiver Receiver, provider RemainderProvider, tx *transaction.Transaction) ([]domain.Stack, error) {
	nested, err := tx.OpenNested()
	if err != nil {
		return nil, err
	}
	defer func() { _ = nested.Close() }()

	var remainders []domain.Stack
	for i, slot := range grid {
		if storage.IsEmpty(slot) {
			continue
		}
		input := domain.Stack{Resource: slot.Resource(), Amount: 1}
		extracted, err := slot.Extract(input.Resource, 1, nested)
		if err != nil {
			return nil, err
		}
		if extracted != 1 {
			return nil, domain.InvariantViolation(fmt.Sprintf("crafting: grid slot %d did not yield %s", i, input.Resource), nil)
		}
		if provider == nil {
			continue
		}
		rest := provider.Remainder(input)
		if rest.IsEmpty() {
			continue
		}
		remainders = append(remainders, rest)
		back, err := slot.Insert(rest.Resource, rest.Amount, nested)
		if err != nil {
			return nil, err
		}
		if back == rest.Amount {
			continue
		}
		if receiver == nil {
			return nil, domain.InvalidArgument("crafting: receiver is required for remainders that do not fit the grid", nil)
		}
		if err := receiver.OfferOrDrop(rest.Resource, rest.Amount-back, nested); err != nil {
			return nil, err
		}
	}
	if err := nested.Commit(); err != nil {
		return nil, err
	}
	return remainders, nil
}
