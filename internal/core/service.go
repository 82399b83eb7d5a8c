// Package core wires player inventories, the transaction manager, the rules
// engine and persistence into a Service that runs transfers as units of work.
package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-logger/glog"

	"stockpile/internal/crafting"
	"stockpile/internal/infra/persistence/memory"
	"stockpile/internal/inventory"
	"stockpile/internal/storage"
	"stockpile/internal/transaction"
	"stockpile/internal/world"
	"stockpile/pkg/domain"
)

// Operation names reported to metrics, traces and logs.
const (
	OpRegisterPlayer   = "register_player"
	OpRunInTransaction = "run_in_transaction"
	OpOffer            = "offer"
	OpExtract          = "extract"
	OpDrop             = "drop"
	OpGive             = "give"
	OpTransfer         = "transfer"
	OpConsume          = "consume"
	OpSelectSlot       = "select_slot"
	OpExportCheckpoint = "export_checkpoint"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil keeps the no-op logger.
func WithLogger(logger glog.Logger) Option {
	return func(s *Service) {
		s.logger = glog.Ensure(logger)
	}
}

// WithMetricsRecorder sets the operation metrics sink. A recorder that also
// implements transaction.Observer or DropObserver receives those events too.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithRulesEngine replaces the default rules evaluated before each outermost commit.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) {
		s.engine = engine
	}
}

// WithGround sets the sink receiving dropped stacks.
func WithGround(ground *world.Ground) Option {
	return func(s *Service) {
		s.ground = ground
	}
}

// WithClock overrides the time source used for durations and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDropLimit caps how much a single player may drop per transaction when
// the default rules engine is used. Zero means unlimited.
func WithDropLimit(limit int64) Option {
	return func(s *Service) {
		s.dropLimit = limit
	}
}

// WithAuthoritative marks whether inventories created by the service may drop.
func WithAuthoritative(authoritative bool) Option {
	return func(s *Service) {
		s.authoritative = authoritative
	}
}

// WithTransactionObserver adds an observer notified whenever a level closes.
func WithTransactionObserver(observer transaction.Observer) Option {
	return func(s *Service) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// Service owns the player inventories and serializes every transaction on them.
type Service struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	store     domain.PersistentStore
	manager   *transaction.Manager
	engine    *domain.RulesEngine
	ground    *world.Ground
	journal   *journal
	players   map[string]*inventory.PlayerStorage
	dirty     map[string]struct{}
	observers []transaction.Observer

	logger        glog.Logger
	metrics       MetricsRecorder
	tracer        Tracer
	now           func() time.Time
	dropLimit     int64
	authoritative bool
}

// NewService constructs a service persisting committed inventories to store.
// A nil store keeps records in memory only.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:         store,
		journal:       newJournal(),
		players:       make(map[string]*inventory.PlayerStorage),
		dirty:         make(map[string]struct{}),
		logger:        glog.Nop(),
		metrics:       noopMetrics{},
		tracer:        noopTracer{},
		now:           func() time.Time { return time.Now().UTC() },
		authoritative: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.store == nil {
		s.store = memory.NewStore()
	}
	if s.engine == nil {
		s.engine = NewDefaultRulesEngine(s.dropLimit)
	}
	if s.ground == nil {
		s.ground = world.NewGround(world.WithLogger(s.logger), world.WithClock(s.now))
	}
	observers := s.observers
	if observer, ok := s.metrics.(transaction.Observer); ok {
		observers = append(observers, observer)
	}
	var managerOpts []transaction.Option
	if len(observers) > 0 {
		managerOpts = append(managerOpts, transaction.WithObserver(observerFanout(observers)))
	}
	s.manager = transaction.NewManager(managerOpts...)
	return s
}

// NewInMemoryService creates a service whose committed records live in memory.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Ground returns the sink holding dropped stacks.
func (s *Service) Ground() *world.Ground { return s.ground }

// RulesEngine returns the engine evaluated before each outermost commit.
func (s *Service) RulesEngine() *domain.RulesEngine { return s.engine }

// Close releases the persistent store.
func (s *Service) Close() error { return s.store.Close() }

type observerFanout []transaction.Observer

func (f observerFanout) TransactionClosed(depth int, result transaction.Result, participants int) {
	for _, observer := range f {
		observer.TransactionClosed(depth, result, participants)
	}
}

type txContextKey struct{}

func inTransaction(ctx context.Context) bool {
	return ctx != nil && ctx.Value(txContextKey{}) != nil
}

func nestingError(operation string) error {
	return domain.InvalidNesting(fmt.Sprintf("core: %s cannot run inside an open transaction", operation), map[string]any{
		"operation": operation,
	})
}

// RegisterPlayer creates the inventory for owner, restoring its committed
// record when the store has one. Registering an existing owner returns the
// inventory already held.
func (s *Service) RegisterPlayer(ctx context.Context, owner string) (player *inventory.PlayerStorage, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inTransaction(ctx) {
		return nil, nestingError(OpRegisterPlayer)
	}
	startedAt := s.now()
	ctx, span := s.tracer.Start(ctx, OpRegisterPlayer)
	defer func() {
		span.End(err)
		s.observeOperation(ctx, startedAt, OpRegisterPlayer, err, map[string]any{"player": owner})
	}()

	s.txMu.Lock()
	defer s.txMu.Unlock()
	if existing, ok := s.Player(owner); ok {
		return existing, nil
	}
	player, err = inventory.New(owner, inventory.DropperFunc(s.dropStack),
		inventory.WithAuthoritative(s.authoritative),
		inventory.WithRecorder(s.journal),
		inventory.WithSlotChange(s.markSlotDirty),
	)
	if err != nil {
		return nil, err
	}
	rec, ok, err := s.store.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", owner, err)
	}
	if ok {
		if err := player.Restore(rec); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	s.players[owner] = player
	s.mu.Unlock()
	return player, nil
}

// Player returns the registered inventory for owner.
func (s *Service) Player(owner string) (*inventory.PlayerStorage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[owner]
	return p, ok
}

// Players lists registered owners in order.
func (s *Service) Players() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.players))
	for owner := range s.players {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Committed loads the last persisted record for owner.
func (s *Service) Committed(ctx context.Context, owner string) (domain.InventoryRecord, bool, error) {
	return s.store.Load(ctx, owner)
}

func (s *Service) dropStack(owner string, stack domain.Stack) {
	s.ground.DropStack(owner, stack)
	if observer, ok := s.metrics.(DropObserver); ok {
		observer.ObserveDrop(owner, stack)
	}
}

func (s *Service) markSlotDirty(p *inventory.PlayerStorage, _ *storage.Slot) {
	s.dirty[p.Owner()] = struct{}{}
}

// Tx is the outermost level opened by RunInTransaction. Nested levels are
// opened from it with OpenNested.
type Tx struct {
	*transaction.Transaction
	ctx     context.Context
	service *Service
}

// Context carries the caller's context marked as being inside a transaction.
// Service operations called with it fail with an invalid nesting error
// instead of blocking.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Player returns the registered inventory for owner.
func (tx *Tx) Player(owner string) (*inventory.PlayerStorage, error) {
	p, ok := tx.service.Player(owner)
	if !ok {
		return nil, domain.InvalidArgument(fmt.Sprintf("core: player %q is not registered", owner), map[string]any{"player": owner})
	}
	return p, nil
}

// Current returns the innermost open level, which is where mutations must go.
func (tx *Tx) Current() (*transaction.Transaction, error) {
	return tx.service.manager.Current()
}

// RunInTransaction opens an outermost transaction, runs fn and commits when
// fn succeeds and no blocking rule fires. Any error aborts every change made
// under the transaction. Inventories the commit changed are persisted before
// RunInTransaction returns; a persistence error is returned after the
// in-memory commit and the records are retried with the next commit.
func (s *Service) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) (domain.Result, error) {
	return s.run(ctx, OpRunInTransaction, map[string]any{}, fn)
}

func (s *Service) run(ctx context.Context, operation string, fields map[string]any, fn func(tx *Tx) error) (res domain.Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inTransaction(ctx) {
		return domain.Result{}, nestingError(operation)
	}
	if fn == nil {
		return domain.Result{}, domain.InvalidArgument("core: transaction function is required", nil)
	}
	startedAt := s.now()
	ctx, span := s.tracer.Start(ctx, operation)
	defer func() {
		span.End(err)
		fields["violations"] = len(res.Violations)
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()

	s.txMu.Lock()
	defer s.txMu.Unlock()

	before := s.records()
	outer := s.manager.Open()
	defer func() {
		if s.manager.IsOpen() {
			_ = s.manager.AbortAll()
		}
	}()
	fields["transaction_id"] = outer.ID().String()
	tx := &Tx{
		Transaction: outer,
		ctx:         context.WithValue(ctx, txContextKey{}, outer.ID()),
		service:     s,
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	if !outer.IsOpen() || s.manager.Depth() != 1 {
		return domain.Result{}, domain.InvalidNesting("core: transaction function must leave only the outermost level open", map[string]any{
			"open_levels": s.manager.Depth(),
			"outer_open":  outer.IsOpen(),
		})
	}

	view := s.buildView(before)
	changes := s.journal.Changes()
	fields["changes"] = len(changes)
	fields["players"] = len(view.owners)

	res, err = s.engine.Evaluate(ctx, view, changes)
	if err != nil {
		return domain.Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}
	if err := outer.Commit(); err != nil {
		return res, err
	}
	s.logViolations(ctx, res)
	if err := s.persistDirty(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) records() map[string]domain.InventoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.InventoryRecord, len(s.players))
	for owner, p := range s.players {
		out[owner] = p.Record()
	}
	return out
}

func (s *Service) buildView(before map[string]domain.InventoryRecord) transactionView {
	after := s.records()
	touched := make(map[string]struct{})
	for _, owner := range s.journal.Owners() {
		touched[owner] = struct{}{}
	}
	for owner, rec := range after {
		if !rec.SameContents(before[owner]) {
			touched[owner] = struct{}{}
		}
	}
	owners := make([]string, 0, len(touched))
	for owner := range touched {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return transactionView{owners: owners, before: before, after: after}
}

func (s *Service) persistDirty(ctx context.Context) error {
	if len(s.dirty) == 0 {
		return nil
	}
	owners := make([]string, 0, len(s.dirty))
	for owner := range s.dirty {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	updatedAt := s.now()
	records := make([]domain.InventoryRecord, 0, len(owners))
	for _, owner := range owners {
		p, ok := s.Player(owner)
		if !ok {
			continue
		}
		rec := p.Record()
		rec.UpdatedAt = updatedAt
		records = append(records, rec)
	}
	if err := s.store.Save(ctx, records...); err != nil {
		return fmt.Errorf("persist inventories: %w", err)
	}
	clear(s.dirty)
	return nil
}

func (s *Service) logViolations(ctx context.Context, res domain.Result) {
	for _, v := range res.Violations {
		level := "warn"
		if v.Severity == domain.SeverityLog {
			level = "debug"
		}
		s.logWithLevel(ctx, level, "rule violation", map[string]any{
			"rule":     v.Rule,
			"severity": string(v.Severity),
			"player":   v.Owner,
			"message":  v.Message,
		})
	}
}

type transactionView struct {
	owners []string
	before map[string]domain.InventoryRecord
	after  map[string]domain.InventoryRecord
}

func (v transactionView) Owners() []string {
	out := make([]string, len(v.owners))
	copy(out, v.owners)
	return out
}

func (v transactionView) Before(owner string) (domain.InventoryRecord, bool) {
	rec, ok := v.before[owner]
	return rec, ok
}

func (v transactionView) After(owner string) (domain.InventoryRecord, bool) {
	rec, ok := v.after[owner]
	return rec, ok
}

// Offer places up to amount of resource into owner's inventory and reports how much fit.
func (s *Service) Offer(ctx context.Context, owner string, resource domain.Resource, amount int64) (int64, domain.Result, error) {
	var placed int64
	res, err := s.run(ctx, OpOffer, stackFields(owner, resource, amount), func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		placed, err = p.Offer(resource, amount, tx.Transaction)
		return err
	})
	if err != nil {
		return 0, res, err
	}
	return placed, res, nil
}

// Extract removes up to amount of resource from owner's inventory.
func (s *Service) Extract(ctx context.Context, owner string, resource domain.Resource, amount int64) (int64, domain.Result, error) {
	var extracted int64
	res, err := s.run(ctx, OpExtract, stackFields(owner, resource, amount), func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		extracted, err = p.Extract(resource, amount, tx.Transaction)
		return err
	})
	if err != nil {
		return 0, res, err
	}
	return extracted, res, nil
}

// Drop drops amount of resource on behalf of owner. The stack reaches the
// ground once the transaction commits.
func (s *Service) Drop(ctx context.Context, owner string, resource domain.Resource, amount int64) (domain.Result, error) {
	return s.run(ctx, OpDrop, stackFields(owner, resource, amount), func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		return p.Drop(resource, amount, tx.Transaction)
	})
}

// Give offers resource to owner and drops whatever does not fit.
func (s *Service) Give(ctx context.Context, owner string, resource domain.Resource, amount int64) (domain.Result, error) {
	return s.run(ctx, OpGive, stackFields(owner, resource, amount), func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		return p.OfferOrDrop(resource, amount, tx.Transaction)
	})
}

// Transfer moves up to amount of resource from one player to another and
// reports how much moved. Nothing moves unless the source releases exactly
// what the target accepts.
func (s *Service) Transfer(ctx context.Context, from, to string, resource domain.Resource, amount int64) (int64, domain.Result, error) {
	fields := stackFields(from, resource, amount)
	fields["target"] = to
	var moved int64
	res, err := s.run(ctx, OpTransfer, fields, func(tx *Tx) error {
		if from == to {
			return domain.InvalidArgument("core: transfer source and target must differ", map[string]any{"player": from})
		}
		src, err := tx.Player(from)
		if err != nil {
			return err
		}
		dst, err := tx.Player(to)
		if err != nil {
			return err
		}
		moved, err = storage.Move(src, dst, resource, amount, tx.Transaction)
		return err
	})
	if err != nil {
		return 0, res, err
	}
	return moved, res, nil
}

// Consume takes one unit from each non-empty slot at the given indices of
// owner's inventory and hands back the remainders provider computes. Either
// every ingredient is consumed or none is.
func (s *Service) Consume(ctx context.Context, owner string, slots []int, provider crafting.RemainderProvider) ([]domain.Stack, domain.Result, error) {
	var remainders []domain.Stack
	res, err := s.run(ctx, OpConsume, map[string]any{"player": owner, "slots": len(slots)}, func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		grid := make([]storage.SingleSlotStorage, 0, len(slots))
		for _, index := range slots {
			slot := p.Slot(index)
			if slot == nil {
				return domain.InvalidArgument(fmt.Sprintf("core: slot index %d out of range", index), map[string]any{"player": owner})
			}
			grid = append(grid, slot)
		}
		before := p.Record()
		mark := len(s.journal.Changes())
		remainders, err = crafting.Consume(grid, p, provider, tx.Transaction)
		if err != nil {
			return err
		}
		return s.journalGridChanges(tx.Transaction, p, before, mark)
	})
	if err != nil {
		return nil, res, err
	}
	return remainders, res, nil
}

// journalGridChanges records the slot changes crafting made directly on the
// grid, i.e. whatever the journal entries written since mark do not explain.
func (s *Service) journalGridChanges(tx *transaction.Transaction, p *inventory.PlayerStorage, before domain.InventoryRecord, mark int) error {
	journaled := make(map[domain.Resource]int64)
	for _, change := range s.journal.Changes()[mark:] {
		if change.Owner != p.Owner() {
			continue
		}
		switch change.Action {
		case domain.ActionInsert:
			journaled[change.Resource] += change.Amount
		case domain.ActionExtract:
			journaled[change.Resource] -= change.Amount
		}
	}
	beforeTotals, afterTotals := before.Totals(), p.Record().Totals()
	resources := make(map[domain.Resource]struct{})
	for resource := range beforeTotals {
		resources[resource] = struct{}{}
	}
	for resource := range afterTotals {
		resources[resource] = struct{}{}
	}
	ordered := make([]domain.Resource, 0, len(resources))
	for resource := range resources {
		ordered = append(ordered, resource)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	for _, resource := range ordered {
		residual := afterTotals[resource] - beforeTotals[resource] - journaled[resource]
		if residual == 0 {
			continue
		}
		change := domain.Change{Owner: p.Owner(), Action: domain.ActionInsert, Resource: resource, Amount: residual}
		if residual < 0 {
			change.Action = domain.ActionExtract
			change.Amount = -residual
		}
		if err := s.journal.Record(tx, change); err != nil {
			return err
		}
	}
	return nil
}

// SelectSlot changes owner's selected hotbar slot and persists it.
func (s *Service) SelectSlot(ctx context.Context, owner string, index int) error {
	_, err := s.run(ctx, OpSelectSlot, map[string]any{"player": owner, "slot": index}, func(tx *Tx) error {
		p, err := tx.Player(owner)
		if err != nil {
			return err
		}
		if !inventory.IsValidHotbarIndex(index) {
			return domain.InvariantViolation(fmt.Sprintf("core: %d is not a hotbar slot", index), map[string]any{"player": owner})
		}
		if p.SelectedSlot() != index {
			p.SetSelectedSlot(index)
			s.dirty[owner] = struct{}{}
		}
		return nil
	})
	return err
}

func stackFields(owner string, resource domain.Resource, amount int64) map[string]any {
	return map[string]any{
		"player":   owner,
		"resource": resource.String(),
		"amount":   amount,
	}
}
