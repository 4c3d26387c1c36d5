package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
)

// BoltStore keeps cache tables in the bolthold database
type BoltStore struct {
	db   *models.Database
	ttls map[string]time.Duration
}

// NewBoltStore creates a cache store backed by db. A nil ttls uses DefaultTTLs.
func NewBoltStore(db *models.Database, ttls map[string]time.Duration) *BoltStore {
	return &BoltStore{db: db, ttls: ttls}
}

// Get hydrates the named tables
func (s *BoltStore) Get(ctx context.Context, names ...string) (*Tables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := s.db.GetCacheEntries(names...)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache tables: %w", err)
	}

	grouped := make(map[string]map[string]Entry, len(names))
	for _, name := range names {
		grouped[name] = make(map[string]Entry)
	}
	for _, entry := range entries {
		grouped[entry.Table][entry.EntryKey] = Entry{Value: entry.Value, UpdatedAt: entry.UpdatedAt}
	}

	now := time.Now()
	tables := NewTables()
	for name, values := range grouped {
		tables.add(newTable(name, values, ttlFor(s.ttls, name), now))
	}
	return tables, nil
}

// Set persists every pending change of tables in one transaction
func (s *BoltStore) Set(ctx context.Context, tables *Tables) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var upserts, deletes []*models.CacheEntry
	for _, c := range tables.changes() {
		entry := &models.CacheEntry{Table: c.table, EntryKey: c.key}
		if c.deleted {
			deletes = append(deletes, entry)
			continue
		}
		entry.Value = c.value
		entry.UpdatedAt = c.updatedAt
		upserts = append(upserts, entry)
	}
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	if err := s.db.WriteCacheEntries(upserts, deletes); err != nil {
		metrics.CacheFlushes.WithLabelValues("bolt", "failure").Inc()
		return fmt.Errorf("failed to flush cache tables: %w", err)
	}
	metrics.CacheFlushes.WithLabelValues("bolt", "success").Inc()
	tables.markClean()
	return nil
}
