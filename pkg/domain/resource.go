// Package domain holds the value types shared by the transfer engine: resources,
// stacks, hands, the error taxonomy, rule evaluation and the persistence contract.
package domain

import "fmt"

// ItemID names an item kind, e.g. "minecraft:stone".
type ItemID string

// DefaultMaxCount is the stack limit applied to items that do not declare one.
const DefaultMaxCount int64 = 64

// Item describes an item kind and the largest stack it may form.
type Item struct {
	ID       ItemID `json:"id"`
	MaxCount int64  `json:"max_count,omitempty"`
}

// Resource identifies what is being moved: an item plus the attributes that
// distinguish otherwise identical items. Resources are immutable and compared
// with ==.
type Resource struct {
	Item Item   `json:"item"`
	Key  string `json:"key,omitempty"`
}

// Blank is the sentinel for "no resource". Empty slots report it.
var Blank = Resource{}

// ResourceOf builds a resource for the item with the given stack limit. A
// non-positive maxCount falls back to DefaultMaxCount.
func ResourceOf(id ItemID, maxCount int64) Resource {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	return Resource{Item: Item{ID: id, MaxCount: maxCount}}
}

// WithKey returns a copy of the resource carrying the given attribute key.
func (r Resource) WithKey(key string) Resource {
	r.Key = key
	return r
}

// IsBlank reports whether r is the blank sentinel.
func (r Resource) IsBlank() bool {
	return r.Item.ID == ""
}

// MaxCount is the largest amount of r that fits in one stack.
func (r Resource) MaxCount() int64 {
	if r.Item.MaxCount <= 0 {
		return DefaultMaxCount
	}
	return r.Item.MaxCount
}

func (r Resource) String() string {
	if r.IsBlank() {
		return "<blank>"
	}
	if r.Key == "" {
		return string(r.Item.ID)
	}
	return fmt.Sprintf("%s{%s}", r.Item.ID, r.Key)
}

// Stack is an amount of a single resource.
type Stack struct {
	Resource Resource `json:"resource"`
	Amount   int64    `json:"amount"`
}

// IsEmpty reports whether the stack carries nothing.
func (s Stack) IsEmpty() bool {
	return s.Resource.IsBlank() || s.Amount <= 0
}

func (s Stack) String() string {
	return fmt.Sprintf("%dx %s", s.Amount, s.Resource)
}

// Hand selects one of the player's held slots.
type Hand int

const (
	// HandMain is the hotbar slot currently selected by the player.
	HandMain Hand = iota
	// HandOff is the dedicated off-hand slot.
	HandOff
)

// Hands lists the hands in the order they are tried when offering resources.
var Hands = []Hand{HandMain, HandOff}

func (h Hand) String() string {
	switch h {
	case HandMain:
		return "main_hand"
	case HandOff:
		return "off_hand"
	default:
		return fmt.Sprintf("hand(%d)", int(h))
	}
}
