// Package inventory implements the player inventory storage: a fixed slot
// layout, priority offers that favour the held hands, and drops that only
// reach the environment once the outermost transaction commits.
package inventory

import (
	"fmt"

	"stockpile/internal/storage"
	"stockpile/internal/transaction"
	"stockpile/pkg/domain"
)

// Slot layout of a player inventory.
const (
	MainSize    = 36
	HotbarSize  = 9
	ArmorSize   = 4
	ArmorStart  = MainSize
	OffHandSlot = ArmorStart + ArmorSize
	Size        = OffHandSlot + 1
)

// IsValidHotbarIndex reports whether index selects a hotbar slot.
func IsValidHotbarIndex(index int) bool {
	return index >= 0 && index < HotbarSize
}

// Recorder journals successful mutations under the transaction that made them.
type Recorder interface {
	Record(tx *transaction.Transaction, change domain.Change) error
}

// Option configures a PlayerStorage.
type Option func(*PlayerStorage)

// WithAuthoritative marks whether this side may perform drops. A
// non-authoritative replica ignores drop requests.
func WithAuthoritative(authoritative bool) Option {
	return func(p *PlayerStorage) {
		p.authoritative = authoritative
	}
}

// WithRecorder journals every successful offer, extract and drop.
func WithRecorder(recorder Recorder) Option {
	return func(p *PlayerStorage) {
		p.recorder = recorder
	}
}

// WithSlotChange registers a hook fired for every slot an outermost commit touched.
func WithSlotChange(fn func(p *PlayerStorage, slot *storage.Slot)) Option {
	return func(p *PlayerStorage) {
		p.onSlotChange = fn
	}
}

// WithArmorFilter restricts what the armor slots accept.
func WithArmorFilter(filter storage.Filter) Option {
	return func(p *PlayerStorage) {
		p.armorFilter = filter
	}
}

// PlayerStorage is the transactional view of one player's inventory.
type PlayerStorage struct {
	owner         string
	slots         []*storage.Slot
	main          *storage.Combined
	all           *storage.Combined
	selected      int
	authoritative bool
	drops         *droppedStacks
	recorder      Recorder
	onSlotChange  func(*PlayerStorage, *storage.Slot)
	armorFilter   storage.Filter
}

var _ storage.Storage = (*PlayerStorage)(nil)

// New builds an empty inventory for owner whose drops go to dropper.
func New(owner string, dropper Dropper, opts ...Option) (*PlayerStorage, error) {
	if owner == "" {
		return nil, domain.InvalidArgument("inventory: owner is required", nil)
	}
	if dropper == nil {
		return nil, domain.InvalidArgument("inventory: dropper is required", map[string]any{"owner": owner})
	}
	p := &PlayerStorage{owner: owner, authoritative: true}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.drops = newDroppedStacks(owner, dropper)

	changed := storage.WithOnChange(func(s *storage.Slot) {
		if p.onSlotChange != nil {
			p.onSlotChange(p, s)
		}
	})
	p.slots = make([]*storage.Slot, Size)
	generic := make([]storage.SingleSlotStorage, Size)
	for i := range p.slots {
		slotOpts := []storage.SlotOption{changed}
		if i >= ArmorStart && i < OffHandSlot {
			slotOpts = append(slotOpts, storage.WithLimit(1), storage.WithFilter(p.armorFilter))
		}
		p.slots[i] = storage.NewSlot(i, slotOpts...)
		generic[i] = p.slots[i]
	}
	p.main = storage.NewCombined(PriorityInsertPolicy{Hands: p.resolveHand}, generic[:MainSize]...)
	p.all = storage.NewCombined(storage.Sequential{}, generic...)
	return p, nil
}

// Owner identifies the player.
func (p *PlayerStorage) Owner() string { return p.owner }

// Authoritative reports whether drops are performed on this side.
func (p *PlayerStorage) Authoritative() bool { return p.authoritative }

// SelectedSlot is the hotbar index the main hand refers to.
func (p *PlayerStorage) SelectedSlot() int { return p.selected }

// SetSelectedSlot changes the main hand selection. The index is not checked
// here; an out-of-range selection surfaces when the main hand is resolved.
func (p *PlayerStorage) SetSelectedSlot(index int) { p.selected = index }

// Slots returns every slot in layout order.
func (p *PlayerStorage) Slots() []*storage.Slot {
	return append([]*storage.Slot(nil), p.slots...)
}

// Slot returns the slot at index or nil when out of range.
func (p *PlayerStorage) Slot(index int) *storage.Slot {
	if index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// Main is the combined storage over the main slots using the offer policy.
func (p *PlayerStorage) Main() *storage.Combined { return p.main }

// Amount sums resource across every slot.
func (p *PlayerStorage) Amount(resource domain.Resource) int64 { return p.all.Amount(resource) }

// PendingDrops lists drops queued by open transactions.
func (p *PlayerStorage) PendingDrops() []domain.Stack { return p.drops.snapshot() }

// HandSlot resolves hand to its slot.
func (p *PlayerStorage) HandSlot(hand domain.Hand) (*storage.Slot, error) {
	switch hand {
	case domain.HandMain:
		if !IsValidHotbarIndex(p.selected) {
			return nil, domain.InvariantViolation(fmt.Sprintf("inventory: unexpected selected slot %d", p.selected), map[string]any{
				"owner":         p.owner,
				"selected_slot": p.selected,
			})
		}
		return p.slots[p.selected], nil
	case domain.HandOff:
		return p.slots[OffHandSlot], nil
	default:
		return nil, domain.UnsupportedOperation(fmt.Sprintf("inventory: unknown hand %s", hand), map[string]any{
			"owner": p.owner,
			"hand":  int(hand),
		})
	}
}

func (p *PlayerStorage) resolveHand(hand domain.Hand) (storage.SingleSlotStorage, error) {
	slot, err := p.HandSlot(hand)
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// Insert offers the resource; see Offer.
func (p *PlayerStorage) Insert(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	return p.Offer(resource, maxAmount, tx)
}

// Offer places up to amount of resource, stacking into the held hands first,
// then into non-empty main slots, then into empty main slots. It returns how
// much was placed.
func (p *PlayerStorage) Offer(resource domain.Resource, amount int64, tx *transaction.Transaction) (int64, error) {
	placed, err := p.main.Insert(resource, amount, tx)
	if err != nil {
		return placed, err
	}
	return placed, p.record(tx, domain.ActionInsert, resource, placed)
}

// Extract takes up to maxAmount of resource from any slot in index order.
func (p *PlayerStorage) Extract(resource domain.Resource, maxAmount int64, tx *transaction.Transaction) (int64, error) {
	extracted, err := p.all.Extract(resource, maxAmount, tx)
	if err != nil {
		return extracted, err
	}
	return extracted, p.record(tx, domain.ActionExtract, resource, extracted)
}

// Drop queues amount of resource to be dropped into the environment when the
// outermost transaction commits. A zero amount and a non-authoritative side
// make it a no-op.
func (p *PlayerStorage) Drop(resource domain.Resource, amount int64, tx *transaction.Transaction) error {
	if err := domain.NotBlankNotNegative(resource, amount); err != nil {
		return err
	}
	if amount == 0 || !p.authoritative {
		return nil
	}
	if err := p.drops.add(domain.Stack{Resource: resource, Amount: amount}, tx); err != nil {
		return err
	}
	return p.record(tx, domain.ActionDrop, resource, amount)
}

// OfferOrDrop offers the resource and drops whatever did not fit.
func (p *PlayerStorage) OfferOrDrop(resource domain.Resource, amount int64, tx *transaction.Transaction) error {
	placed, err := p.Offer(resource, amount, tx)
	if err != nil {
		return err
	}
	return p.Drop(resource, amount-placed, tx)
}

func (p *PlayerStorage) record(tx *transaction.Transaction, action domain.Action, resource domain.Resource, amount int64) error {
	if p.recorder == nil || amount == 0 {
		return nil
	}
	return p.recorder.Record(tx, domain.Change{
		Owner:    p.owner,
		Action:   action,
		Resource: resource,
		Amount:   amount,
	})
}
