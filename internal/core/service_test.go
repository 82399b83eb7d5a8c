package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpile/internal/archive"
	"stockpile/internal/crafting"
	"stockpile/internal/infra/persistence/memory"
	"stockpile/pkg/domain"
)

var (
	dirt        = domain.ResourceOf("minecraft:dirt", 64)
	stone       = domain.ResourceOf("minecraft:stone", 64)
	wheat       = domain.ResourceOf("minecraft:wheat", 64)
	bucket      = domain.ResourceOf("minecraft:bucket", 16)
	waterBucket = domain.ResourceOf("minecraft:water_bucket", 1)

	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	svc := NewService(store, opts...)
	for _, owner := range []string{"steve", "alex"} {
		_, err := svc.RegisterPlayer(context.Background(), owner)
		require.NoError(t, err)
	}
	return svc, store
}

func committedAmount(t *testing.T, store domain.PersistentStore, owner string, resource domain.Resource) int64 {
	t.Helper()
	rec, ok, err := store.Load(context.Background(), owner)
	require.NoError(t, err)
	if !ok {
		return 0
	}
	return rec.Totals()[resource]
}

func TestOfferCommitsAndPersists(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	placed, res, err := svc.Offer(ctx, "steve", stone, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), placed)
	assert.Empty(t, res.Violations)

	p, ok := svc.Player("steve")
	require.True(t, ok)
	assert.Equal(t, int64(100), p.Amount(stone))

	rec, ok, err := store.Load(ctx, "steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), rec.Totals()[stone])
	assert.Equal(t, fixedNow, rec.UpdatedAt)

	_, ok, err = store.Load(ctx, "alex")
	require.NoError(t, err)
	assert.False(t, ok, "untouched inventories are not written")
}

func TestExtractAndGive(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Offer(ctx, "steve", dirt, 10)
	require.NoError(t, err)
	extracted, _, err := svc.Extract(ctx, "steve", dirt, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), extracted)
	assert.Equal(t, int64(6), committedAmount(t, store, "steve", dirt))

	_, err = svc.Give(ctx, "alex", dirt, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), committedAmount(t, store, "alex", dirt))
	assert.Empty(t, svc.Ground().Items())
}

func TestRunInTransactionAbortsOnError(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		p, err := tx.Player("steve")
		if err != nil {
			return err
		}
		if _, err := p.Offer(stone, 20, tx.Transaction); err != nil {
			return err
		}
		if err := p.Drop(dirt, 2, tx.Transaction); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, _ := svc.Player("steve")
	assert.Zero(t, p.Amount(stone))
	assert.Empty(t, p.PendingDrops())
	assert.Empty(t, svc.Ground().Items())
	_, ok, err := store.Load(ctx, "steve")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNestedAbortKeepsOuterChanges(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		p, err := tx.Player("steve")
		if err != nil {
			return err
		}
		nested, err := tx.OpenNested()
		if err != nil {
			return err
		}
		if _, err := p.Offer(stone, 30, nested); err != nil {
			return err
		}
		if err := nested.Abort(); err != nil {
			return err
		}
		_, err = p.Offer(dirt, 5, tx.Transaction)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, committedAmount(t, store, "steve", stone))
	assert.Equal(t, int64(5), committedAmount(t, store, "steve", dirt))
}

func TestNestedCommitIsUndoneByOuterAbort(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		p, err := tx.Player("steve")
		if err != nil {
			return err
		}
		nested, err := tx.OpenNested()
		if err != nil {
			return err
		}
		if _, err := p.Offer(stone, 8, nested); err != nil {
			return err
		}
		if err := nested.Commit(); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	p, _ := svc.Player("steve")
	assert.Zero(t, p.Amount(stone))
}

func TestLeavingNestedLevelOpenAbortsEverything(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		p, err := tx.Player("steve")
		if err != nil {
			return err
		}
		if _, err := p.Offer(stone, 1, tx.Transaction); err != nil {
			return err
		}
		_, err = tx.OpenNested()
		return err
	})
	require.Error(t, err)
	assert.True(t, domain.IsInvalidNesting(err))
	p, _ := svc.Player("steve")
	assert.Zero(t, p.Amount(stone))
	assert.Zero(t, committedAmount(t, store, "steve", stone))

	_, _, err = svc.Offer(ctx, "steve", stone, 1)
	require.NoError(t, err, "the manager must be usable after an unbalanced callback")
}

func TestServiceCallsInsideTransactionAreRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		_, innerErr := svc.RunInTransaction(tx.Context(), func(*Tx) error { return nil })
		require.True(t, domain.IsInvalidNesting(innerErr))
		_, _, innerErr = svc.Offer(tx.Context(), "steve", stone, 1)
		require.True(t, domain.IsInvalidNesting(innerErr))
		_, innerErr = svc.RegisterPlayer(tx.Context(), "herobrine")
		require.True(t, domain.IsInvalidNesting(innerErr))
		_, innerErr = svc.ExportCheckpoint(tx.Context(), archive.NewMemory())
		require.True(t, domain.IsInvalidNesting(innerErr))
		return nil
	})
	require.NoError(t, err)
}

func TestDropReachesGroundOnlyAfterCommit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RunInTransaction(ctx, func(tx *Tx) error {
		p, err := tx.Player("steve")
		if err != nil {
			return err
		}
		if err := p.Drop(dirt, 7, tx.Transaction); err != nil {
			return err
		}
		assert.Empty(t, svc.Ground().Items(), "drops are deferred until the outer commit")
		return nil
	})
	require.NoError(t, err)

	items := svc.Ground().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "steve", items[0].DroppedBy)
	assert.Equal(t, int64(7), items[0].Amount)
	assert.Equal(t, fixedNow, items[0].DroppedAt)
}

func TestNonAuthoritativeServiceNeverDrops(t *testing.T) {
	svc, _ := newTestService(t, WithAuthoritative(false))
	_, err := svc.Drop(context.Background(), "steve", dirt, 4)
	require.NoError(t, err)
	assert.Empty(t, svc.Ground().Items())
}

func TestTransferMovesBetweenPlayers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Offer(ctx, "steve", stone, 10)
	require.NoError(t, err)
	moved, res, err := svc.Transfer(ctx, "steve", "alex", stone, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), moved)
	assert.Empty(t, res.Violations)
	assert.Equal(t, int64(6), committedAmount(t, store, "steve", stone))
	assert.Equal(t, int64(4), committedAmount(t, store, "alex", stone))

	moved, _, err = svc.Transfer(ctx, "alex", "steve", dirt, 4)
	require.NoError(t, err)
	assert.Zero(t, moved)

	_, _, err = svc.Transfer(ctx, "steve", "steve", stone, 1)
	assert.True(t, domain.IsInvalidArgument(err))
	_, _, err = svc.Transfer(ctx, "steve", "nobody", stone, 1)
	assert.True(t, domain.IsInvalidArgument(err))
	_, _, err = svc.Transfer(ctx, "steve", "alex", domain.Blank, 1)
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestDropLimitRuleBlocksCommit(t *testing.T) {
	svc, _ := newTestService(t, WithDropLimit(5))
	ctx := context.Background()

	res, err := svc.Drop(ctx, "steve", dirt, 6)
	var violation domain.RuleViolationError
	require.True(t, errors.As(err, &violation))
	require.Len(t, res.Violations, 1)
	assert.Equal(t, RuleDropLimit, res.Violations[0].Rule)
	assert.Equal(t, "steve", res.Violations[0].Owner)
	assert.Empty(t, svc.Ground().Items())

	_, err = svc.Drop(ctx, "steve", dirt, 5)
	require.NoError(t, err)
	assert.Len(t, svc.Ground().Items(), 1)
}

func TestCustomRulesEngine(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	svc, store := newTestService(t, WithRulesEngine(engine))

	_, _, err := svc.Offer(context.Background(), "steve", stone, 1)
	var violation domain.RuleViolationError
	require.True(t, errors.As(err, &violation))
	assert.Zero(t, committedAmount(t, store, "steve", stone))
	assert.Same(t, engine, svc.RulesEngine())
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }

func (blockEverything) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, owner := range view.Owners() {
		res.Violations = append(res.Violations, domain.Violation{Rule: "block_everything", Severity: domain.SeverityBlock, Owner: owner})
	}
	return res, nil
}

type flakyStore struct {
	*memory.Store
	fail bool
}

func (s *flakyStore) Save(ctx context.Context, records ...domain.InventoryRecord) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, records...)
}

func TestPersistenceFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: memory.NewStore()}
	svc := NewService(store)
	_, err := svc.RegisterPlayer(ctx, "steve")
	require.NoError(t, err)

	store.fail = true
	_, _, err = svc.Offer(ctx, "steve", stone, 12)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist inventories")
	p, _ := svc.Player("steve")
	assert.Equal(t, int64(12), p.Amount(stone), "the in-memory commit stands")

	store.fail = false
	require.NoError(t, svc.SelectSlot(ctx, "steve", 2))
	rec, ok, err := store.Load(ctx, "steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12), rec.Totals()[stone])
	assert.Equal(t, 2, rec.SelectedSlot)
}

func TestRegisterPlayerRestoresCommittedRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, domain.InventoryRecord{
		Owner:        "steve",
		SelectedSlot: 4,
		Slots:        []domain.SlotRecord{{Index: 9, Limit: 64, Resource: stone, Amount: 40}},
	}))
	svc := NewService(store)

	p, err := svc.RegisterPlayer(ctx, "steve")
	require.NoError(t, err)
	assert.Equal(t, int64(40), p.Amount(stone))
	assert.Equal(t, 4, p.SelectedSlot())

	again, err := svc.RegisterPlayer(ctx, "steve")
	require.NoError(t, err)
	assert.Same(t, p, again)
	assert.Equal(t, []string{"steve"}, svc.Players())

	_, err = svc.RegisterPlayer(ctx, "")
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestSelectSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.SelectSlot(ctx, "steve", 9)
	assert.True(t, domain.IsInvariantViolation(err))

	require.NoError(t, svc.SelectSlot(ctx, "steve", 3))
	rec, ok, err := svc.Committed(ctx, "steve")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, rec.SelectedSlot)

	err = svc.SelectSlot(ctx, "ghost", 1)
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestConsumeReturnsRemaindersAndJournalsGrid(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	p, _ := svc.Player("steve")
	require.NoError(t, p.Restore(domain.InventoryRecord{
		Owner: "steve",
		Slots: []domain.SlotRecord{
			{Index: 0, Resource: waterBucket, Amount: 1},
			{Index: 1, Resource: wheat, Amount: 3},
		},
	}))

	remainders, res, err := svc.Consume(ctx, "steve", []int{0, 1, 2}, crafting.Table{"minecraft:water_bucket": bucket})
	require.NoError(t, err)
	assert.Empty(t, res.Violations, "grid changes are journaled")
	require.Len(t, remainders, 1)
	assert.Equal(t, domain.Stack{Resource: bucket, Amount: 1}, remainders[0])
	assert.Equal(t, bucket, p.Slot(0).Resource())
	assert.Equal(t, int64(2), p.Slot(1).Amount())
	assert.Equal(t, int64(2), committedAmount(t, store, "steve", wheat))

	_, _, err = svc.Consume(ctx, "steve", []int{99}, nil)
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestCheckpointExport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.Offer(ctx, "steve", stone, 5)
	require.NoError(t, err)
	_, err = svc.Drop(ctx, "alex", dirt, 2)
	require.NoError(t, err)

	arc := archive.NewMemory()
	info, err := svc.ExportCheckpoint(ctx, arc)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Key, CheckpointPrefix))
	assert.True(t, strings.HasSuffix(info.Key, ".json"))

	cp, err := ReadCheckpoint(ctx, arc, info.Key)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, cp.CreatedAt)
	require.Len(t, cp.Inventories, 1)
	assert.Equal(t, "steve", cp.Inventories[0].Owner)
	require.Len(t, cp.Ground, 1)
	assert.Equal(t, int64(2), cp.Ground[0].Amount)

	listed, err := ListCheckpoints(ctx, arc)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = ReadCheckpoint(ctx, arc, "checkpoints/missing.json")
	assert.True(t, archive.IsNotFound(err))
	_, err = svc.ExportCheckpoint(ctx, nil)
	assert.True(t, domain.IsInvalidArgument(err))
}

func TestCheckpointExportToS3(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.Offer(ctx, "alex", wheat, 9)
	require.NoError(t, err)

	arc := archive.NewMockS3ForTests()
	info, err := svc.ExportCheckpoint(ctx, arc)
	require.NoError(t, err)
	cp, err := ReadCheckpoint(ctx, arc, info.Key)
	require.NoError(t, err)
	require.Len(t, cp.Inventories, 1)
	assert.Equal(t, int64(9), cp.Inventories[0].Totals()[wheat])
}
