package cache

import (
	"context"
	"sync"
	"time"

	"github.com/amaumene/scrobblarr/internal/metrics"
)

// MemoryStore keeps cache tables in process memory
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[string]Entry
	ttls   map[string]time.Duration

	// Flushes counts successful Set calls that wrote at least one change
	Flushes int
}

// NewMemoryStore creates an empty in-memory store. A nil ttls uses DefaultTTLs.
func NewMemoryStore(ttls map[string]time.Duration) *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Entry),
		ttls:   ttls,
	}
}

// Get hydrates the named tables
func (s *MemoryStore) Get(ctx context.Context, names ...string) (*Tables, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	tables := NewTables()
	for _, name := range names {
		values := make(map[string]Entry, len(s.tables[name]))
		for key, entry := range s.tables[name] {
			values[key] = entry
		}
		tables.add(newTable(name, values, ttlFor(s.ttls, name), now))
	}
	return tables, nil
}

// Set persists every pending change of tables
func (s *MemoryStore) Set(ctx context.Context, tables *Tables) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	changes := tables.changes()
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		if c.deleted {
			delete(s.tables[c.table], c.key)
			continue
		}
		if s.tables[c.table] == nil {
			s.tables[c.table] = make(map[string]Entry)
		}
		s.tables[c.table][c.key] = Entry{Value: c.value, UpdatedAt: c.updatedAt}
	}
	s.Flushes++
	metrics.CacheFlushes.WithLabelValues("memory", "success").Inc()
	tables.markClean()
	return nil
}

// Len returns the number of entries stored in table
func (s *MemoryStore) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}
