// Package events carries named notifications from the sync core to whoever
// presents them (HTTP status surface, logs).
package events

import (
	"sync"
	"time"

	"github.com/amaumene/scrobblarr/internal/cancel"
	"github.com/amaumene/scrobblarr/internal/models"
)

// Name identifies a kind of event
type Name string

const (
	HistoryLoadError  Name = "history_load_error"
	MatchError        Name = "match_error"
	StoreUpdate       Name = "store_update"
	CommitSuccess     Name = "commit_success"
	CommitError       Name = "commit_error"
	AutoSyncSuccess   Name = "autosync_success"
	AutoSyncError     Name = "autosync_error"
	ReconcileError    Name = "reconcile_error"
	CorrectionChanged Name = "correction_changed"
)

// Event is one notification
type Event struct {
	Name       Name
	ProviderID string
	Err        error
	// Indexes of the items touched by a store update
	Indexes []int
	Kind    models.UpdateKind
	Count   int
	Time    time.Time
}

// Handler receives dispatched events
type Handler func(Event)

// Dispatcher delivers events synchronously to the handlers subscribed to their name
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
}

// NewDispatcher creates a dispatcher without subscribers
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Name][]Handler)}
}

// Subscribe registers h for the given names, or for every event when no name is given
func (d *Dispatcher) Subscribe(h Handler, names ...Name) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(names) == 0 {
		d.all = append(d.all, h)
		return
	}
	for _, name := range names {
		d.handlers[name] = append(d.handlers[name], h)
	}
}

// Dispatch delivers e. Events carrying a cancellation are dropped.
func (d *Dispatcher) Dispatch(e Event) {
	if d == nil {
		return
	}
	if e.Err != nil && cancel.IsCanceled(e.Err) {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	d.mu.RLock()
	handlers := append(append([]Handler(nil), d.handlers[e.Name]...), d.all...)
	d.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Recorder keeps the most recent events, newest last
type Recorder struct {
	mu     sync.Mutex
	max    int
	events []Event
}

// NewRecorder creates a recorder holding at most max events
func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

// Handle records e
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.max > 0 && len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
