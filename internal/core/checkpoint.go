package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockpile/internal/archive"
	"stockpile/internal/world"
	"stockpile/pkg/domain"
)

// CheckpointPrefix is the archive key prefix checkpoints are written under.
const CheckpointPrefix = "checkpoints/"

// Checkpoint is a point-in-time export of every committed inventory and the
// items lying on the ground.
type Checkpoint struct {
	ID          string                   `json:"id"`
	CreatedAt   time.Time                `json:"created_at"`
	Inventories []domain.InventoryRecord `json:"inventories"`
	Ground      []world.GroundItem       `json:"ground"`
}

// Checkpoint builds a checkpoint from the committed records. State changed
// by an open transaction is not included.
func (s *Service) Checkpoint(ctx context.Context) (Checkpoint, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	records, err := s.store.List(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("list inventories: %w", err)
	}
	return Checkpoint{
		ID:          uuid.NewString(),
		CreatedAt:   s.now(),
		Inventories: records,
		Ground:      s.ground.Items(),
	}, nil
}

// ExportCheckpoint writes a new checkpoint to a as checkpoints/<id>.json.
func (s *Service) ExportCheckpoint(ctx context.Context, a archive.Archive) (info archive.Info, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inTransaction(ctx) {
		return archive.Info{}, nestingError(OpExportCheckpoint)
	}
	if a == nil {
		return archive.Info{}, domain.InvalidArgument("core: archive is required", nil)
	}
	fields := map[string]any{"archive": string(a.Driver())}
	startedAt := s.now()
	ctx, span := s.tracer.Start(ctx, OpExportCheckpoint)
	defer func() {
		span.End(err)
		s.observeOperation(ctx, startedAt, OpExportCheckpoint, err, fields)
	}()

	cp, err := s.Checkpoint(ctx)
	if err != nil {
		return archive.Info{}, err
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return archive.Info{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	key := CheckpointPrefix + cp.ID + ".json"
	fields["key"] = key
	fields["inventories"] = len(cp.Inventories)
	info, err = a.Put(ctx, key, bytes.NewReader(payload), archive.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"checkpoint-id": cp.ID},
	})
	if err != nil {
		return archive.Info{}, fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	return info, nil
}

// ReadCheckpoint decodes the checkpoint stored under key.
func ReadCheckpoint(ctx context.Context, a archive.Archive, key string) (Checkpoint, error) {
	_, body, err := a.Get(ctx, key)
	if err != nil {
		return Checkpoint{}, err
	}
	defer func() { _ = body.Close() }()
	var cp Checkpoint
	if err := json.NewDecoder(body).Decode(&cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", key, err)
	}
	return cp, nil
}

// ListCheckpoints returns the checkpoints stored in a.
func ListCheckpoints(ctx context.Context, a archive.Archive) ([]archive.Info, error) {
	return a.List(ctx, CheckpointPrefix)
}
