package syncstore

import (
	"sort"
	"sync"

	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
)

// Aggregate holds the store of every provider
type Aggregate struct {
	mu         sync.Mutex
	stores     map[string]*Store
	dispatcher *events.Dispatcher
}

// NewAggregate creates an aggregate with a store per provider id
func NewAggregate(dispatcher *events.Dispatcher, providerIDs ...string) *Aggregate {
	a := &Aggregate{
		stores:     make(map[string]*Store, len(providerIDs)),
		dispatcher: dispatcher,
	}
	for _, id := range providerIDs {
		a.stores[id] = NewStore(id, dispatcher)
	}
	return a
}

// Store returns the store of a provider, creating it if needed
func (a *Aggregate) Store(providerID string) *Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stores[providerID]
	if !ok {
		s = NewStore(providerID, a.dispatcher)
		a.stores[providerID] = s
	}
	return s
}

// Stores returns every store ordered by provider id
func (a *Aggregate) Stores() []*Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.stores))
	for id := range a.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	stores := make([]*Store, len(ids))
	for i, id := range ids {
		stores[i] = a.stores[id]
	}
	return stores
}

// Items returns the items of every store, grouped by provider id
func (a *Aggregate) Items() map[string][]*models.MediaItem {
	out := make(map[string][]*models.MediaItem)
	for _, s := range a.Stores() {
		out[s.ProviderID()] = s.Items()
	}
	return out
}

// SelectedCount returns the number of selected items across every store
func (a *Aggregate) SelectedCount() int {
	n := 0
	for _, s := range a.Stores() {
		n += len(s.SelectedItems())
	}
	return n
}

// ClearSelection deselects every item of every store
func (a *Aggregate) ClearSelection() {
	for _, s := range a.Stores() {
		s.ClearSelection()
	}
}

// Reset resets every store
func (a *Aggregate) Reset() {
	for _, s := range a.Stores() {
		s.Reset()
	}
}
