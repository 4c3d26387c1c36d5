// Package providers defines the contract every streaming-service adapter
// implements and the registry the sync core looks adapters up in.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/amaumene/scrobblarr/internal/models"
)

// Provider is the fixed capability set of a streaming-service adapter.
// Implementations keep no pagination state of their own: the cursor lives in
// the ProviderSessionState handed to LoadHistoryItems.
type Provider interface {
	// ID returns the provider identifier, used as ServiceID of its items
	ID() string

	// LoadHistoryItems fetches the next raw page described by state and
	// advances NextPage, NextURL and HasReachedHistoryEnd on it
	LoadHistoryItems(ctx context.Context, state *models.ProviderSessionState) ([]models.RawHistoryItem, error)

	// IsNewHistoryItem reports whether raw is newer than (sinceTimestamp, sinceID)
	IsNewHistoryItem(raw models.RawHistoryItem, sinceTimestamp int64, sinceID string) bool

	// HistoryItemID returns the stable identity of raw
	HistoryItemID(raw models.RawHistoryItem) string

	// ConvertHistoryItems converts raw items into media items, preserving order
	ConvertHistoryItems(ctx context.Context, raws []models.RawHistoryItem) ([]*models.MediaItem, error)

	// UpdateItemFromHistory re-stamps WatchedAt and Progress of item from raw
	UpdateItemFromHistory(item *models.MediaItem, raw models.RawHistoryItem)
}

// ItemGetter is implemented by providers able to fetch a single item by id
type ItemGetter interface {
	GetItem(ctx context.Context, id string) (*models.MediaItem, error)
}

// Registry holds the providers known to the process. It is populated at
// start-up and read-only afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a provider
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider %s already registered", p.ID())
	}
	r.providers[p.ID()] = p
	return nil
}

// Get returns the provider with the given id
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider ids in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HistoryItemTime returns the watched time a provider reports for raw, or 0
func HistoryItemTime(p Provider, raw models.RawHistoryItem) int64 {
	item := &models.MediaItem{}
	p.UpdateItemFromHistory(item, raw)
	return item.WatchedAt
}
