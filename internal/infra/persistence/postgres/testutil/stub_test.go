package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBUpsertsQueriesAndDeletes(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	upsert := "INSERT INTO inventories(owner,payload) VALUES($1,$2) ON CONFLICT(owner) DO UPDATE SET payload=EXCLUDED.payload"
	for _, payload := range []string{`{"v":1}`, `{"v":2}`} {
		if _, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: "steve"}, {Value: []byte(payload)}}); err != nil {
			t.Fatalf("ExecContext insert: %v", err)
		}
	}
	rows := conn.Rows("inventories")
	if len(rows) != 1 || string(rows[0]["payload"].([]byte)) != `{"v":2}` {
		t.Fatalf("expected upsert to replace the row, got %v", rows)
	}

	qr, err := conn.QueryContext(ctx, "SELECT owner, payload FROM inventories", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := qr.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "steve" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	_ = qr.Close()

	res, err := conn.ExecContext(ctx, "DELETE FROM inventories WHERE owner=$1", []driver.NamedValue{{Value: "steve"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 || len(conn.Rows("inventories")) != 0 {
		t.Fatalf("expected row deleted, affected=%d rows=%v", n, conn.Rows("inventories"))
	}
}

func TestStubDBFailureSwitches(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailTables = map[string]bool{"inventories": true}
	if _, err := conn.QueryContext(ctx, "SELECT owner FROM inventories", nil); err == nil {
		t.Fatalf("expected table failure")
	}
	conn.FailPing = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailBegin = true
	if _, err := conn.Begin(); err == nil {
		t.Fatalf("expected begin failure")
	}
}
