package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stockpile/internal/infra/persistence/sqlite"
	"stockpile/pkg/domain"
)

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stockpile.db")
	store, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stone := domain.ResourceOf("minecraft:stone", 64)
	if err := store.Save(context.Background(),
		domain.InventoryRecord{Owner: "steve", Slots: []domain.SlotRecord{{Index: 0, Limit: 64, Resource: stone, Amount: 12}}},
		domain.InventoryRecord{Owner: "alex", Slots: []domain.SlotRecord{{Index: 3, Limit: 64, Resource: stone, Amount: 1}}},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestCLIPrintsCommittedInventories(t *testing.T) {
	path := seedSQLite(t)
	t.Setenv("STOCKPILE_STORAGE_DRIVER", "sqlite")
	t.Setenv("STOCKPILE_SQLITE_PATH", path)

	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var out report
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out.Inventories) != 2 || out.Inventories[0].Owner != "alex" || out.Inventories[1].Owner != "steve" {
		t.Fatalf("unexpected inventories: %+v", out.Inventories)
	}
	if out.Checkpoint != nil {
		t.Fatalf("no checkpoint requested")
	}
}

func TestCLIOwnerFilterAndCheckpoint(t *testing.T) {
	path := seedSQLite(t)
	root := t.TempDir()
	t.Setenv("STOCKPILE_ARCHIVE_DRIVER", "fs")
	t.Setenv("STOCKPILE_ARCHIVE_FS_ROOT", root)

	var stdout, stderr bytes.Buffer
	code := cli([]string{"-driver", "sqlite", "-sqlite", path, "-owner", "steve", "-checkpoint"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	var out report
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out.Inventories) != 1 || out.Inventories[0].Totals()[domain.ResourceOf("minecraft:stone", 64)] != 12 {
		t.Fatalf("unexpected inventories: %+v", out.Inventories)
	}
	if out.Checkpoint == nil || !strings.HasPrefix(out.Checkpoint.Key, "checkpoints/") {
		t.Fatalf("expected checkpoint info, got %+v", out.Checkpoint)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(out.Checkpoint.Key))); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}
}

func TestCLIErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-bogus"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected usage exit 2, got %d", code)
	}

	stderr.Reset()
	if code := cli([]string{"-driver", "etcd"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected invalid config exit 2, got %d", code)
	}

	stderr.Reset()
	t.Setenv("STOCKPILE_STORAGE_DRIVER", "memory")
	if code := cli([]string{"-owner", "nobody"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 for missing owner, got %d", code)
	}
	if !strings.Contains(stderr.String(), "no committed inventory") {
		t.Fatalf("unexpected stderr: %s", stderr.String())
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	t.Setenv("STOCKPILE_STORAGE_DRIVER", "memory")
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"stockpile-inspect"}
	main()
	os.Args = []string{"stockpile-inspect", "-bogus"}
	main()
	if len(codes) != 2 || codes[0] != 0 || codes[1] != 2 {
		t.Fatalf("unexpected exit codes: %v", codes)
	}
}
