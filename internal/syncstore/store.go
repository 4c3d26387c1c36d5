// Package syncstore holds the items loaded for each provider during a session,
// their selection and their pagination state.
package syncstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/amaumene/scrobblarr/internal/events"
	"github.com/amaumene/scrobblarr/internal/models"
)

// IndexedItem is a replacement for the item at Index
type IndexedItem struct {
	Index int
	Item  *models.MediaItem
}

// Data is the session bookkeeping of a store
type Data struct {
	Session *models.ProviderSessionState
	Page    int
	PerPage int
	Loading bool
}

// Store is the sync state of one provider. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	providerID string
	items      []*models.MediaItem
	data       Data
	loadQueue  []int
	dispatcher *events.Dispatcher
}

// NewStore creates an empty store for a provider
func NewStore(providerID string, dispatcher *events.Dispatcher) *Store {
	return &Store{
		providerID: providerID,
		data:       Data{Session: &models.ProviderSessionState{}},
		dispatcher: dispatcher,
	}
}

// ProviderID returns the provider the store belongs to
func (s *Store) ProviderID() string {
	return s.providerID
}

// Len returns the number of items in the store
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a copy of every item, ordered by index
func (s *Store) Items() []*models.MediaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.items)
}

// Item returns a copy of the item at index
func (s *Store) Item(index int) (*models.MediaItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.items) {
		return nil, false
	}
	return s.items[index].Clone(), true
}

// SelectableItems returns the items with a resolved match and no remote record
func (s *Store) SelectableItems() []*models.MediaItem {
	return s.filter((*models.MediaItem).IsSelectable)
}

// SelectedItems returns the items currently selected for a commit
func (s *Store) SelectedItems() []*models.MediaItem {
	return s.filter(func(item *models.MediaItem) bool { return item.Selected })
}

func (s *Store) filter(keep func(*models.MediaItem) bool) []*models.MediaItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.MediaItem
	for _, item := range s.items {
		if keep(item) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Page returns the items of a 1-based page and the total number of pages
func (s *Store) Page(page, perPage int) ([]*models.MediaItem, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if perPage <= 0 {
		perPage = len(s.items)
		if perPage == 0 {
			return nil, 0
		}
	}
	total := (len(s.items) + perPage - 1) / perPage
	if page < 1 || page > total {
		return nil, total
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > len(s.items) {
		end = len(s.items)
	}
	return cloneAll(s.items[start:end]), total
}

// AddItems appends items, assigning each the next free index, and returns the indexes
func (s *Store) AddItems(items ...*models.MediaItem) []int {
	s.mu.Lock()
	indexes := make([]int, 0, len(items))
	for _, item := range items {
		c := item.Clone()
		c.Index = len(s.items)
		c.Selected = false
		s.items = append(s.items, c)
		indexes = append(indexes, c.Index)
	}
	s.mu.Unlock()
	return indexes
}

// Update replaces items by index and emits a single store update event for the batch
func (s *Store) Update(updates []IndexedItem, kind models.UpdateKind) error {
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, u := range updates {
		if u.Index < 0 || u.Index >= len(s.items) {
			s.mu.Unlock()
			return fmt.Errorf("item index %d out of range", u.Index)
		}
	}
	indexes := make([]int, 0, len(updates))
	for _, u := range updates {
		c := u.Item.Clone()
		c.Index = u.Index
		if !c.IsSelectable() {
			c.Selected = false
		}
		s.items[u.Index] = c
		indexes = append(indexes, u.Index)
	}
	s.mu.Unlock()

	sort.Ints(indexes)
	s.dispatcher.Dispatch(events.Event{
		Name:       events.StoreUpdate,
		ProviderID: s.providerID,
		Indexes:    indexes,
		Kind:       kind,
		Count:      len(indexes),
	})
	return nil
}

// SetSelected selects or deselects the item at index. Only selectable items can be selected.
func (s *Store) SetSelected(index int, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return fmt.Errorf("item index %d out of range", index)
	}
	item := s.items[index]
	if selected && !item.IsSelectable() {
		return fmt.Errorf("item %d is not selectable", index)
	}
	item.Selected = selected
	return nil
}

// SelectAll selects every selectable item and returns how many are selected
func (s *Store) SelectAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.IsSelectable() {
			item.Selected = true
			n++
		}
	}
	return n
}

// ClearSelection deselects every item
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		item.Selected = false
	}
}

// Data returns the session bookkeeping
func (s *Store) Data() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.data
	if d.Session != nil {
		d.Session = d.Session.Clone()
	}
	return d
}

// SetData replaces the session bookkeeping
func (s *Store) SetData(d Data) {
	if d.Session == nil {
		d.Session = &models.ProviderSessionState{}
	}
	s.mu.Lock()
	s.data = d
	s.mu.Unlock()
}

// SetSession replaces the pagination cursor only
func (s *Store) SetSession(session *models.ProviderSessionState) {
	s.mu.Lock()
	s.data.Session = session
	s.mu.Unlock()
}

// QueueLoad schedules the items at indexes for a match refresh
func (s *Store) QueueLoad(indexes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := make(map[int]bool, len(s.loadQueue))
	for _, i := range s.loadQueue {
		queued[i] = true
	}
	for _, i := range indexes {
		if i >= 0 && i < len(s.items) && !queued[i] {
			s.loadQueue = append(s.loadQueue, i)
			queued[i] = true
		}
	}
}

// TakeLoadQueue returns and clears the queued indexes
func (s *Store) TakeLoadQueue() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.loadQueue
	s.loadQueue = nil
	return queue
}

// Reset drops every item and starts a new session
func (s *Store) Reset() {
	s.mu.Lock()
	s.items = nil
	s.loadQueue = nil
	s.data = Data{Session: &models.ProviderSessionState{}, PerPage: s.data.PerPage}
	s.mu.Unlock()
}

func cloneAll(items []*models.MediaItem) []*models.MediaItem {
	out := make([]*models.MediaItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
