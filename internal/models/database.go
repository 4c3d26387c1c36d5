package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = bolthold.ErrNotFound

// Database wraps the bolthold store
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// Cache entry operations

// CacheEntry is one key of a named cache table
type CacheEntry struct {
	Key       string `boltholdKey:"Key"`
	Table     string `boltholdIndex:"Table"`
	EntryKey  string
	Value     []byte
	UpdatedAt time.Time
}

func cacheKey(table, key string) string {
	return table + "\x00" + key
}

// GetCacheEntries retrieves every entry of the given tables
func (db *Database) GetCacheEntries(tables ...string) ([]*CacheEntry, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	names := make([]interface{}, len(tables))
	for i, t := range tables {
		names[i] = t
	}

	var entries []*CacheEntry
	err := db.store.Find(&entries, bolthold.Where("Table").In(names...))
	return entries, err
}

// WriteCacheEntries upserts and deletes cache entries in a single transaction
func (db *Database) WriteCacheEntries(upserts []*CacheEntry, deletes []*CacheEntry) error {
	return db.store.Bolt().Update(func(tx *bbolt.Tx) error {
		for _, entry := range deletes {
			key := cacheKey(entry.Table, entry.EntryKey)
			err := db.store.TxDelete(tx, key, &CacheEntry{})
			if err != nil && !errors.Is(err, bolthold.ErrNotFound) {
				return fmt.Errorf("failed to delete cache entry %s/%s: %w", entry.Table, entry.EntryKey, err)
			}
		}
		for _, entry := range upserts {
			entry.Key = cacheKey(entry.Table, entry.EntryKey)
			if err := db.store.TxUpsert(tx, entry.Key, entry); err != nil {
				return fmt.Errorf("failed to write cache entry %s/%s: %w", entry.Table, entry.EntryKey, err)
			}
		}
		return nil
	})
}

// Resume state operations

// GetResumeState retrieves the resume state of a provider
func (db *Database) GetResumeState(providerID string) (*ResumeState, error) {
	var state ResumeState
	err := db.store.Get(providerID, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetResumeStateOrDefault retrieves the resume state of a provider, or a fresh one
func (db *Database) GetResumeStateOrDefault(providerID string) (*ResumeState, error) {
	state, err := db.GetResumeState(providerID)
	if errors.Is(err, ErrNotFound) {
		return &ResumeState{ProviderID: providerID, AutoSyncIntervalDays: 1}, nil
	}
	return state, err
}

// SaveResumeState creates or updates the resume state of a provider
func (db *Database) SaveResumeState(state *ResumeState) error {
	state.UpdatedAt = time.Now()
	return db.store.Upsert(state.ProviderID, state)
}

// GetAutoSyncStates retrieves the resume states of every provider with auto-sync enabled
func (db *Database) GetAutoSyncStates() ([]*ResumeState, error) {
	var states []*ResumeState
	err := db.store.Find(&states, bolthold.Where("AutoSyncEnabled").Eq(true).SortBy("ProviderID"))
	return states, err
}

// GetAllResumeStates retrieves every stored resume state
func (db *Database) GetAllResumeStates() ([]*ResumeState, error) {
	var states []*ResumeState
	err := db.store.Find(&states, nil)
	return states, err
}

// Correction operations

// GetCorrection retrieves the correction of an item
func (db *Database) GetCorrection(databaseID string) (*Correction, error) {
	var correction Correction
	err := db.store.Get(databaseID, &correction)
	if err != nil {
		return nil, err
	}
	return &correction, nil
}

// SaveCorrection creates or replaces a correction
func (db *Database) SaveCorrection(correction *Correction) error {
	if correction.CreatedAt.IsZero() {
		correction.CreatedAt = time.Now()
	}
	return db.store.Upsert(correction.DatabaseID, correction)
}

// DeleteCorrection deletes the correction of an item
func (db *Database) DeleteCorrection(databaseID string) error {
	return db.store.Delete(databaseID, &Correction{})
}

// GetAllCorrections retrieves every correction
func (db *Database) GetAllCorrections() ([]*Correction, error) {
	var corrections []*Correction
	err := db.store.Find(&corrections, nil)
	return corrections, err
}
