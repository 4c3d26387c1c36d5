package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/amaumene/scrobblarr/internal/metrics"
	"github.com/amaumene/scrobblarr/internal/models"
)

type sample struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

func newBoltStore(t *testing.T) (*BoltStore, *models.Database) {
	t.Helper()
	db, err := models.NewDatabase(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBoltStore(db, nil), db
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, nil)
}

func stores(t *testing.T) map[string]Store {
	bolt, _ := newBoltStore(t)
	return map[string]Store{
		"bolt":   bolt,
		"redis":  newRedisStore(t),
		"memory": NewMemoryStore(nil),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			tables, err := store.Get(ctx, TableItems, TableHistoryItemsToItems)
			if err != nil {
				t.Fatalf("Failed to get tables: %v", err)
			}
			if tables.Table(TableItems).Len() != 0 {
				t.Fatalf("Expected empty table, got %d entries", tables.Table(TableItems).Len())
			}

			if err := Set(tables.Table(TableItems), "netflix_movie_1", sample{Title: "Heat", Year: 1995}); err != nil {
				t.Fatalf("Failed to set value: %v", err)
			}
			if err := Merge(tables.Table(TableHistoryItemsToItems), map[string]string{
				"h1": "netflix_movie_1",
				"h2": "netflix_movie_2",
			}); err != nil {
				t.Fatalf("Failed to merge values: %v", err)
			}
			if err := store.Set(ctx, tables); err != nil {
				t.Fatalf("Failed to flush tables: %v", err)
			}
			if tables.Changed() {
				t.Error("Expected tables to be clean after flush")
			}

			reloaded, err := store.Get(ctx, TableItems, TableHistoryItemsToItems)
			if err != nil {
				t.Fatalf("Failed to reload tables: %v", err)
			}
			got, ok := Get[sample](reloaded.Table(TableItems), "netflix_movie_1")
			if !ok {
				t.Fatal("Expected cached item after reload")
			}
			if got.Title != "Heat" || got.Year != 1995 {
				t.Errorf("Expected Heat (1995), got %s (%d)", got.Title, got.Year)
			}
			if reloaded.Table(TableHistoryItemsToItems).Len() != 2 {
				t.Errorf("Expected 2 history mappings, got %d", reloaded.Table(TableHistoryItemsToItems).Len())
			}

			reloaded.Table(TableHistoryItemsToItems).Remove("h2")
			if err := store.Set(ctx, reloaded); err != nil {
				t.Fatalf("Failed to flush removal: %v", err)
			}
			final, err := store.Get(ctx, TableHistoryItemsToItems)
			if err != nil {
				t.Fatalf("Failed to reload tables: %v", err)
			}
			if keys := final.Table(TableHistoryItemsToItems).Keys(); len(keys) != 1 || keys[0] != "h1" {
				t.Errorf("Expected only h1 to remain, got %v", keys)
			}
		})
	}
}

func TestTablesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	tables, _ := store.Get(ctx, TableItems)
	Set(tables.Table(TableItems), "shared", "items value")
	store.Set(ctx, tables)

	other, _ := store.Get(ctx, TableTraktItems)
	if _, ok := other.Table(TableTraktItems).GetRaw("shared"); ok {
		t.Error("Expected key of another table not to be visible")
	}
}

func TestSetWithoutChangesDoesNotFlush(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	tables, _ := store.Get(ctx, TableItems)
	if err := store.Set(ctx, tables); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if store.Flushes != 0 {
		t.Errorf("Expected no flush for untouched tables, got %d", store.Flushes)
	}

	Set(tables.Table(TableItems), "a", 1)
	store.Set(ctx, tables)
	store.Set(ctx, tables)
	if store.Flushes != 1 {
		t.Errorf("Expected exactly 1 flush, got %d", store.Flushes)
	}
}

func TestExpiredEntriesAreDroppedOnHydration(t *testing.T) {
	ctx := context.Background()
	store, db := newBoltStore(t)

	old := &models.CacheEntry{Table: TableServicesData, EntryKey: "netflix", Value: []byte(`{}`), UpdatedAt: time.Now().Add(-8 * 24 * time.Hour)}
	fresh := &models.CacheEntry{Table: TableServicesData, EntryKey: "hbo", Value: []byte(`{}`), UpdatedAt: time.Now()}
	if err := db.WriteCacheEntries([]*models.CacheEntry{old, fresh}, nil); err != nil {
		t.Fatalf("Failed to seed entries: %v", err)
	}

	tables, err := store.Get(ctx, TableServicesData)
	if err != nil {
		t.Fatalf("Failed to get tables: %v", err)
	}
	table := tables.Table(TableServicesData)
	if _, ok := table.GetRaw("netflix"); ok {
		t.Error("Expected expired entry to be dropped")
	}
	if _, ok := table.GetRaw("hbo"); !ok {
		t.Error("Expected fresh entry to be kept")
	}

	// the expired entry is deleted from the backend on the next flush
	if err := store.Set(ctx, tables); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	entries, err := db.GetCacheEntries(TableServicesData)
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(entries) != 1 || entries[0].EntryKey != "hbo" {
		t.Errorf("Expected only hbo to remain, got %d entries", len(entries))
	}
}

func TestUndecodableValueIsAMiss(t *testing.T) {
	table := newTable(TableItems, map[string]Entry{
		"bad": {Value: []byte("not json"), UpdatedAt: time.Now()},
	}, 0, time.Now())

	if _, ok := Get[sample](table, "bad"); ok {
		t.Error("Expected undecodable value to be reported as a miss")
	}
}

func TestCacheLookupMetrics(t *testing.T) {
	table := newTable("metricsTable", nil, 0, time.Now())
	table.SetRaw("k", []byte(`1`))

	table.GetRaw("k")
	table.GetRaw("missing")

	if got := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("metricsTable", "hit")); got != 1 {
		t.Errorf("Expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("metricsTable", "miss")); got != 1 {
		t.Errorf("Expected 1 miss, got %v", got)
	}
}
