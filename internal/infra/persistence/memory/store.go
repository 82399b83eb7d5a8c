// Package memory provides an in-memory implementation of the committed
// inventory store used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"stockpile/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

// Snapshot is the exported form of every stored record.
type Snapshot struct {
	Inventories []domain.InventoryRecord `json:"inventories"`
}

// Store keeps committed inventory records in process memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]domain.InventoryRecord
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]domain.InventoryRecord)}
}

// Save upserts records by owner.
func (s *Store) Save(_ context.Context, records ...domain.InventoryRecord) error {
	for _, rec := range records {
		if rec.Owner == "" {
			return domain.InvalidArgument("memory store: record owner is required", nil)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.Owner] = cloneRecord(rec)
	}
	return nil
}

// Load returns the record for owner.
func (s *Store) Load(_ context.Context, owner string) (domain.InventoryRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[owner]
	if !ok {
		return domain.InventoryRecord{}, false, nil
	}
	return cloneRecord(rec), true, nil
}

// List returns every record ordered by owner.
func (s *Store) List(_ context.Context) ([]domain.InventoryRecord, error) {
	return s.ExportState().Inventories, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ExportState returns a deep copy of all records ordered by owner.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InventoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return Snapshot{Inventories: out}
}

// ImportState replaces all records with the snapshot content.
func (s *Store) ImportState(snapshot Snapshot) {
	records := make(map[string]domain.InventoryRecord, len(snapshot.Inventories))
	for _, rec := range snapshot.Inventories {
		records[rec.Owner] = cloneRecord(rec)
	}
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

func cloneRecord(rec domain.InventoryRecord) domain.InventoryRecord {
	if rec.Slots != nil {
		rec.Slots = append([]domain.SlotRecord(nil), rec.Slots...)
	}
	return rec
}
