// Package sqlite persists committed inventory records to an embedded SQLite
// database, one JSON payload per owner.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"stockpile/internal/infra/persistence/memory"
	"stockpile/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "stockpile.db"

// Store mirrors the in-memory store and writes every saved record through to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the database at path and hydrates the memory mirror.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS inventories (
		owner TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create inventories table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT owner, payload FROM inventories`)
	if err != nil {
		return fmt.Errorf("select inventories: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var owner string
		var payload []byte
		if err := rows.Scan(&owner, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var rec domain.InventoryRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return fmt.Errorf("decode inventory %s: %w", owner, err)
		}
		snapshot.Inventories = append(snapshot.Inventories, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate inventories: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// Save writes records to SQLite in one transaction, then updates the mirror.
func (s *Store) Save(ctx context.Context, records ...domain.InventoryRecord) (retErr error) {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if rec.Owner == "" {
			return domain.InvalidArgument("sqlite store: record owner is required", nil)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO inventories(owner,payload) VALUES(?,?) ON CONFLICT(owner) DO UPDATE SET payload=excluded.payload`, rec.Owner, data); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Owner, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return s.Store.Save(ctx, records...)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
