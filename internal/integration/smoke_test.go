package integration

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"stockpile/internal/archive"
	"stockpile/internal/core"
	"stockpile/internal/infra/persistence/memory"
	"stockpile/internal/infra/persistence/postgres"
	pgtestutil "stockpile/internal/infra/persistence/postgres/testutil"
	"stockpile/internal/infra/persistence/sqlite"
	"stockpile/pkg/domain"
)

// TestIntegrationSmoke runs a short transfer session against every store
// backend and exports a checkpoint to every archive backend.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()
	stone := domain.ResourceOf("minecraft:stone", 64)
	dirt := domain.ResourceOf("minecraft:dirt", 64)

	storeVariants := []struct {
		name string
		open func(t *testing.T) domain.PersistentStore
	}{
		{
			name: "memory-store",
			open: func(_ *testing.T) domain.PersistentStore { return memory.NewStore() },
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) domain.PersistentStore {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "stockpile.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				return s
			},
		},
		{
			name: "postgres-stub-store",
			open: func(t *testing.T) domain.PersistentStore {
				db, _ := pgtestutil.NewStubDB()
				restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
				t.Cleanup(restore)
				s, err := postgres.NewStore(ctx, "")
				if err != nil {
					t.Fatalf("new postgres store: %v", err)
				}
				return s
			},
		},
	}

	archiveVariants := []struct {
		name string
		open func(t *testing.T) archive.Archive
	}{
		{
			name: "memory-archive",
			open: func(_ *testing.T) archive.Archive { return archive.NewMemory() },
		},
		{
			name: "filesystem-archive",
			open: func(t *testing.T) archive.Archive {
				a, err := archive.Open(ctx, archive.Config{Driver: archive.DriverFilesystem, FSRoot: t.TempDir()})
				if err != nil {
					t.Fatalf("open fs archive: %v", err)
				}
				return a
			},
		},
		{
			name: "mock-s3-archive",
			open: func(_ *testing.T) archive.Archive { return archive.NewMockS3ForTests() },
		},
	}

	for _, sv := range storeVariants {
		t.Run(sv.name, func(t *testing.T) {
			store := sv.open(t)
			metricsRecorder := core.NewExpvarMetricsRecorder("")
			var traceBuffer bytes.Buffer
			tracer := core.NewJSONTracer(&traceBuffer)
			svc := core.NewService(
				store,
				core.WithMetricsRecorder(metricsRecorder),
				core.WithTracer(tracer),
			)
			defer func() { _ = svc.Close() }()

			for _, owner := range []string{"steve", "alex"} {
				if _, err := svc.RegisterPlayer(ctx, owner); err != nil {
					t.Fatalf("register %s: %v", owner, err)
				}
			}
			if _, err := svc.Give(ctx, "steve", stone, 80); err != nil {
				t.Fatalf("give: %v", err)
			}
			moved, res, err := svc.Transfer(ctx, "steve", "alex", stone, 30)
			if err != nil {
				t.Fatalf("transfer: %v", err)
			}
			if moved != 30 || res.HasBlocking() {
				t.Fatalf("unexpected transfer result moved=%d violations=%+v", moved, res.Violations)
			}
			if _, err := svc.Drop(ctx, "alex", dirt, 2); err != nil {
				t.Fatalf("drop: %v", err)
			}

			records, err := store.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			totals := map[string]int64{}
			for _, rec := range records {
				totals[rec.Owner] = rec.Totals()[stone]
			}
			if totals["steve"] != 50 || totals["alex"] != 30 {
				t.Fatalf("unexpected committed totals: %+v", totals)
			}
			if svc.Ground().Total(dirt) != 2 {
				t.Fatalf("expected dropped dirt on the ground")
			}

			snapshot := metricsRecorder.Snapshot()
			if snapshot.Results[core.OpTransfer]["success"] == 0 {
				t.Fatalf("expected transfer success metric recorded: %+v", snapshot.Results)
			}
			if snapshot.Closes["commit_outer"] != 3 || snapshot.Closes["commit_nested"] == 0 {
				t.Fatalf("unexpected close counts: %+v", snapshot.Closes)
			}
			if traceBuffer.Len() == 0 {
				t.Fatalf("expected trace exporter to emit spans")
			}

			for _, av := range archiveVariants {
				t.Run(av.name, func(t *testing.T) {
					arc := av.open(t)
					info, err := svc.ExportCheckpoint(ctx, arc)
					if err != nil {
						t.Fatalf("export checkpoint: %v", err)
					}
					if info.Size <= 0 {
						t.Fatalf("expected positive checkpoint size, got %+v", info)
					}
					cp, err := core.ReadCheckpoint(ctx, arc, info.Key)
					if err != nil {
						t.Fatalf("read checkpoint: %v", err)
					}
					if len(cp.Inventories) != 2 || len(cp.Ground) != 1 {
						t.Fatalf("unexpected checkpoint contents: %+v", cp)
					}
				})
			}
		})
	}

	if os.Getenv("STOCKPILE_ARCHIVE_DRIVER") != "" || os.Getenv("STOCKPILE_STORAGE_DRIVER") != "" {
		t.Fatalf("expected no test-induced env leakage")
	}
}
