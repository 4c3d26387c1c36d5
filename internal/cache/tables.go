// Package cache provides the named cache tables shared by the history loader,
// the catalog matcher and the commit engine.
//
// Tables are hydrated once per logical operation with Store.Get, mutated in
// memory and written back with a single Store.Set. Nothing is flushed per write.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/amaumene/scrobblarr/internal/metrics"
)

// Table names
const (
	TableHistoryItemsToItems = "historyItemsToItems" // historyItemId -> databaseId
	TableItems               = "items"               // databaseId -> MediaItem
	TableServicesData        = "servicesData"        // providerId -> ServiceData
	TableItemsToTraktItems   = "itemsToTraktItems"   // databaseId -> canonical databaseId
	TableTraktItems          = "traktItems"          // canonical databaseId -> CatalogMatch
	TableURLsToTraktItems    = "urlsToTraktItems"    // canonical URL -> canonical databaseId
)

// DefaultTTLs is how long entries of each table stay valid. Tables not listed never expire.
var DefaultTTLs = map[string]time.Duration{
	TableHistoryItemsToItems: 30 * 24 * time.Hour,
	TableItems:               30 * 24 * time.Hour,
	TableServicesData:        7 * 24 * time.Hour,
	TableItemsToTraktItems:   30 * 24 * time.Hour,
	TableTraktItems:          30 * 24 * time.Hour,
	TableURLsToTraktItems:    30 * 24 * time.Hour,
}

// Store is the persistent backend of the cache tables
type Store interface {
	// Get hydrates the named tables
	Get(ctx context.Context, names ...string) (*Tables, error)
	// Set persists every change made to the tables since they were hydrated
	Set(ctx context.Context, tables *Tables) error
}

// Entry is a raw cache value with its write time
type Entry struct {
	Value     []byte
	UpdatedAt time.Time
}

// Table is one hydrated named mapping from string key to value
type Table struct {
	mu      sync.RWMutex
	name    string
	entries map[string]Entry
	dirty   map[string]struct{}
	removed map[string]struct{}
}

func newTable(name string, entries map[string]Entry, ttl time.Duration, now time.Time) *Table {
	t := &Table{
		name:    name,
		entries: make(map[string]Entry, len(entries)),
		dirty:   make(map[string]struct{}),
		removed: make(map[string]struct{}),
	}
	for key, entry := range entries {
		if ttl > 0 && now.Sub(entry.UpdatedAt) > ttl {
			t.removed[key] = struct{}{}
			continue
		}
		t.entries[key] = entry
	}
	return t
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// Len returns the number of live entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Keys returns the live keys in sorted order
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// GetRaw returns the encoded value stored under key
func (t *Table) GetRaw(key string) ([]byte, bool) {
	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()
	if !ok {
		metrics.CacheLookups.WithLabelValues(t.name, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues(t.name, "hit").Inc()
	return entry.Value, true
}

// SetRaw stores an encoded value under key
func (t *Table) SetRaw(key string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = Entry{Value: value, UpdatedAt: time.Now()}
	t.dirty[key] = struct{}{}
	delete(t.removed, key)
}

// Remove deletes key from the table
func (t *Table) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; !ok {
		return
	}
	delete(t.entries, key)
	delete(t.dirty, key)
	t.removed[key] = struct{}{}
}

// Changed reports whether the table has pending writes
func (t *Table) Changed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirty) > 0 || len(t.removed) > 0
}

// Get decodes the value stored under key. Undecodable values count as a miss.
func Get[V any](t *Table, key string) (V, bool) {
	var value V
	raw, ok := t.GetRaw(key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}

// Set encodes and stores value under key
func Set[V any](t *Table, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	t.SetRaw(key, raw)
	return nil
}

// Merge encodes and stores every value of values
func Merge[V any](t *Table, values map[string]V) error {
	for key, value := range values {
		if err := Set(t, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Tables is a group of hydrated tables written back as a unit
type Tables struct {
	mu     sync.Mutex
	tables map[string]*Table
}

// NewTables returns an empty group
func NewTables() *Tables {
	return &Tables{tables: make(map[string]*Table)}
}

// Table returns the named table, creating an empty one when it was not hydrated
func (ts *Tables) Table(name string) *Table {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.tables[name]
	if !ok {
		t = newTable(name, nil, 0, time.Time{})
		ts.tables[name] = t
	}
	return t
}

// Names returns the names of the tables in the group
func (ts *Tables) Names() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	names := make([]string, 0, len(ts.tables))
	for name := range ts.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Changed reports whether any table has pending writes
func (ts *Tables) Changed() bool {
	for _, name := range ts.Names() {
		if ts.Table(name).Changed() {
			return true
		}
	}
	return false
}

// Merge moves the tables of other into ts, replacing tables with the same name
func (ts *Tables) Merge(other *Tables) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for name, t := range other.tables {
		ts.tables[name] = t
	}
}

func (ts *Tables) add(t *Table) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tables[t.name] = t
}

// change is one pending write of a table
type change struct {
	table     string
	key       string
	value     []byte
	updatedAt time.Time
	deleted   bool
}

func (ts *Tables) changes() []change {
	var changes []change
	for _, name := range ts.Names() {
		t := ts.Table(name)
		t.mu.RLock()
		for key := range t.removed {
			changes = append(changes, change{table: name, key: key, deleted: true})
		}
		for key := range t.dirty {
			entry := t.entries[key]
			changes = append(changes, change{table: name, key: key, value: entry.Value, updatedAt: entry.UpdatedAt})
		}
		t.mu.RUnlock()
	}
	return changes
}

func (ts *Tables) markClean() {
	for _, name := range ts.Names() {
		t := ts.Table(name)
		t.mu.Lock()
		t.dirty = make(map[string]struct{})
		t.removed = make(map[string]struct{})
		t.mu.Unlock()
	}
}

func ttlFor(ttls map[string]time.Duration, name string) time.Duration {
	if ttls == nil {
		return DefaultTTLs[name]
	}
	return ttls[name]
}
