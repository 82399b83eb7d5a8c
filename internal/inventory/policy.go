package inventory

import (
	"stockpile/internal/storage"
	"stockpile/pkg/domain"
)

// Pass names reported by PriorityInsertPolicy.
const (
	PassHands     = "hands"
	PassMainStack = "main_stack"
	PassMainEmpty = "main_empty"
)

// HandResolver resolves a hand to the slot it currently refers to.
type HandResolver func(hand domain.Hand) (storage.SingleSlotStorage, error)

// PriorityInsertPolicy orders offers the way a player picks items up: hands
// already holding the resource first, then main slots that hold something,
// then empty main slots. Extraction walks the slots in index order.
type PriorityInsertPolicy struct {
	Hands HandResolver
}

var _ storage.Policy = PriorityInsertPolicy{}

// InsertPasses builds the three offer passes over the main slots. Resolving
// the main hand fails when the selected hotbar index is out of range.
func (p PriorityInsertPolicy) InsertPasses(slots []storage.SingleSlotStorage, resource domain.Resource) ([]storage.Pass, error) {
	hands := make([]storage.SingleSlotStorage, 0, len(domain.Hands))
	if p.Hands != nil {
		for _, hand := range domain.Hands {
			slot, err := p.Hands(hand)
			if err != nil {
				return nil, err
			}
			hands = append(hands, slot)
		}
	}
	return []storage.Pass{
		{
			Name:   PassHands,
			Slots:  hands,
			Accept: func(s storage.SingleSlotStorage) bool { return s.Resource() == resource },
		},
		{
			Name:   PassMainStack,
			Slots:  slots,
			Accept: func(s storage.SingleSlotStorage) bool { return !s.IsResourceBlank() },
		},
		{
			Name:   PassMainEmpty,
			Slots:  slots,
			Accept: storage.IsEmpty,
		},
	}, nil
}

func (PriorityInsertPolicy) ExtractPasses(slots []storage.SingleSlotStorage, _ domain.Resource) ([]storage.Pass, error) {
	return []storage.Pass{{Name: "main", Slots: slots}}, nil
}
