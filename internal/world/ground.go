// Package world holds the environment that receives stacks dropped by
// players once the transaction that dropped them has committed.
package world

import (
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"stockpile/pkg/domain"
)

// GroundItem is a stack lying in the world.
type GroundItem struct {
	ID        string          `json:"id"`
	DroppedBy string          `json:"dropped_by"`
	Resource  domain.Resource `json:"resource"`
	Amount    int64           `json:"amount"`
	DroppedAt time.Time       `json:"dropped_at"`
}

// Option configures a Ground.
type Option func(*Ground)

// WithLogger sets the logger used for drop events.
func WithLogger(logger glog.Logger) Option {
	return func(g *Ground) {
		g.logger = glog.Ensure(logger)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Ground) {
		if now != nil {
			g.now = now
		}
	}
}

// WithDropHook registers fn to observe every stack placed on the ground.
func WithDropHook(fn func(GroundItem)) Option {
	return func(g *Ground) {
		g.hooks = append(g.hooks, fn)
	}
}

// Ground is the in-memory item sink. It implements inventory.Dropper.
type Ground struct {
	mu     sync.RWMutex
	items  map[string]GroundItem
	logger glog.Logger
	now    func() time.Time
	hooks  []func(GroundItem)
}

// NewGround returns an empty ground.
func NewGround(opts ...Option) *Ground {
	g := &Ground{
		items:  make(map[string]GroundItem),
		logger: glog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// DropStack places stack on the ground as a new item.
func (g *Ground) DropStack(owner string, stack domain.Stack) {
	if stack.IsEmpty() {
		return
	}
	item := GroundItem{
		ID:        uuid.NewString(),
		DroppedBy: owner,
		Resource:  stack.Resource,
		Amount:    stack.Amount,
		DroppedAt: g.now(),
	}
	g.mu.Lock()
	g.items[item.ID] = item
	g.mu.Unlock()

	g.logger.Debug("ground item dropped", "item_id", item.ID, "owner", owner, "resource", stack.Resource.String(), "amount", stack.Amount)
	for _, hook := range g.hooks {
		hook(item)
	}
}

// Items returns every ground item ordered by drop time then ID.
func (g *Ground) Items() []GroundItem {
	g.mu.RLock()
	out := make([]GroundItem, 0, len(g.items))
	for _, item := range g.items {
		out = append(out, item)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DroppedAt.Equal(out[j].DroppedAt) {
			return out[i].DroppedAt.Before(out[j].DroppedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Total sums the amount of resource lying on the ground.
func (g *Ground) Total(resource domain.Resource) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var total int64
	for _, item := range g.items {
		if item.Resource == resource {
			total += item.Amount
		}
	}
	return total
}

// Take removes the item with id from the ground.
func (g *Ground) Take(id string) (GroundItem, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	item, ok := g.items[id]
	if ok {
		delete(g.items, id)
	}
	return item, ok
}
