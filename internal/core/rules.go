package core

import (
	"context"
	"fmt"
	"sort"

	"stockpile/pkg/domain"
)

// Rule names registered by NewDefaultRulesEngine.
const (
	RuleSlotCapacity = "slot_capacity"
	RuleDropLimit    = "drop_limit"
	RuleConservation = "conservation"
)

// NewDefaultRulesEngine returns the engine evaluated before every outermost
// commit. A dropLimit of zero disables the drop limit.
func NewDefaultRulesEngine(dropLimit int64) *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(SlotCapacityRule())
	engine.Register(DropLimitRule(dropLimit))
	engine.Register(ConservationRule())
	return engine
}

type slotCapacityRule struct{}

// SlotCapacityRule blocks commits that leave a slot above its capacity or below zero.
func SlotCapacityRule() domain.Rule { return slotCapacityRule{} }

func (slotCapacityRule) Name() string { return RuleSlotCapacity }

func (r slotCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, owner := range view.Owners() {
		rec, ok := view.After(owner)
		if !ok {
			continue
		}
		for _, slot := range rec.Slots {
			if slot.Amount >= 0 && slot.Amount <= slot.Capacity() {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("slot %d holds %d of %s, capacity %d", slot.Index, slot.Amount, slot.Resource, slot.Capacity()),
				Owner:    owner,
				Slot:     slot.Index,
			})
		}
	}
	return res, nil
}

type dropLimitRule struct {
	limit int64
}

// DropLimitRule blocks a transaction in which one player drops more than limit items in total.
func DropLimitRule(limit int64) domain.Rule { return dropLimitRule{limit: limit} }

func (dropLimitRule) Name() string { return RuleDropLimit }

func (r dropLimitRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	if r.limit <= 0 {
		return res, nil
	}
	dropped := make(map[string]int64)
	for _, change := range changes {
		if change.Action == domain.ActionDrop {
			dropped[change.Owner] += change.Amount
		}
	}
	owners := make([]string, 0, len(dropped))
	for owner := range dropped {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		if dropped[owner] <= r.limit {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("dropped %d items, limit is %d", dropped[owner], r.limit),
			Owner:    owner,
		})
	}
	return res, nil
}

type conservationRule struct{}

// ConservationRule warns when an inventory's contents changed by a different
// amount than the journal accounts for, which means a slot was mutated
// without going through the player storage.
func ConservationRule() domain.Rule { return conservationRule{} }

func (conservationRule) Name() string { return RuleConservation }

func (r conservationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	expected := make(map[string]map[domain.Resource]int64)
	for _, change := range changes {
		var delta int64
		switch change.Action {
		case domain.ActionInsert:
			delta = change.Amount
		case domain.ActionExtract:
			delta = -change.Amount
		default:
			continue
		}
		if expected[change.Owner] == nil {
			expected[change.Owner] = make(map[domain.Resource]int64)
		}
		expected[change.Owner][change.Resource] += delta
	}

	var res domain.Result
	for _, owner := range view.Owners() {
		before, _ := view.Before(owner)
		after, _ := view.After(owner)
		beforeTotals, afterTotals := before.Totals(), after.Totals()

		resources := make(map[domain.Resource]struct{})
		for resource := range beforeTotals {
			resources[resource] = struct{}{}
		}
		for resource := range afterTotals {
			resources[resource] = struct{}{}
		}
		for resource := range expected[owner] {
			resources[resource] = struct{}{}
		}
		ordered := make([]domain.Resource, 0, len(resources))
		for resource := range resources {
			ordered = append(ordered, resource)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

		for _, resource := range ordered {
			actual := afterTotals[resource] - beforeTotals[resource]
			want := expected[owner][resource]
			if actual == want {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("%s changed by %d but the journal accounts for %d", resource, actual, want),
				Owner:    owner,
			})
		}
	}
	return res, nil
}
