package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"stockpile/internal/infra/persistence/postgres/testutil"
	"stockpile/pkg/domain"
)

func stubOpen(t *testing.T) *testutil.StubConn {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return conn
}

func TestNewStoreCreatesTableAndHydrates(t *testing.T) {
	conn := stubOpen(t)
	dirt := domain.ResourceOf("minecraft:dirt", 64)
	payload, err := json.Marshal(domain.InventoryRecord{
		Owner: "steve",
		Slots: []domain.SlotRecord{{Index: 2, Limit: 64, Resource: dirt, Amount: 9}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn.Tables["inventories"] = []map[string]any{{"owner": "steve", "payload": payload}}

	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS inventories") {
		t.Fatalf("expected inventories DDL, got %v", conn.Execs)
	}
	rec, ok, err := store.Load(context.Background(), "steve")
	if err != nil || !ok {
		t.Fatalf("expected hydrated record, ok=%v err=%v", ok, err)
	}
	if rec.Slots[0].Amount != 9 || rec.Slots[0].Resource != dirt {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSaveUpsertsAndMirrors(t *testing.T) {
	conn := stubOpen(t)
	store, err := NewStore(context.Background(), "postgres://stub")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	for _, amount := range []int64{1, 5} {
		rec := domain.InventoryRecord{Owner: "alex", Slots: []domain.SlotRecord{{Index: 0, Limit: 64, Resource: domain.ResourceOf("minecraft:stone", 64), Amount: amount}}}
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	rows := conn.Rows("inventories")
	if len(rows) != 1 {
		t.Fatalf("expected single upserted row, got %d", len(rows))
	}
	var stored domain.InventoryRecord
	if err := json.Unmarshal(rows[0]["payload"].([]byte), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.Slots[0].Amount != 5 {
		t.Fatalf("expected latest payload, got %d", stored.Slots[0].Amount)
	}
	mirrored, _, _ := store.Load(ctx, "alex")
	if mirrored.Slots[0].Amount != 5 {
		t.Fatalf("mirror not updated")
	}
	if conn.Commits != 2 {
		t.Fatalf("expected two commits, got %d", conn.Commits)
	}
}

func TestSaveFailureLeavesMirrorUntouched(t *testing.T) {
	conn := stubOpen(t)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	conn.FailCommit = true
	err = store.Save(context.Background(), domain.InventoryRecord{Owner: "alex"})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if _, ok, _ := store.Load(context.Background(), "alex"); ok {
		t.Fatalf("failed save must not reach the mirror")
	}
	conn.FailCommit = false
	if err := store.Save(context.Background(), domain.InventoryRecord{}); !domain.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected rollback on rejected batch")
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
	restore()

	conn := stubOpen(t)
	conn.FailPing = true
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}

	conn = stubOpen(t)
	conn.FailTables = map[string]bool{"inventories": true}
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "select inventories") {
		t.Fatalf("expected select error, got %v", err)
	}

	conn = stubOpen(t)
	conn.Tables["inventories"] = []map[string]any{{"owner": "x", "payload": []byte("{")}}
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "decode x") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
