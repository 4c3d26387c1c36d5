package events

import (
	"errors"
	"fmt"
	"testing"

	"github.com/amaumene/scrobblarr/internal/cancel"
)

func TestDispatchToSubscribers(t *testing.T) {
	d := NewDispatcher()
	var commits, all int
	d.Subscribe(func(Event) { commits++ }, CommitSuccess, CommitError)
	d.Subscribe(func(Event) { all++ })

	d.Dispatch(Event{Name: CommitSuccess})
	d.Dispatch(Event{Name: CommitError, Err: errors.New("boom")})
	d.Dispatch(Event{Name: StoreUpdate})

	if commits != 2 {
		t.Errorf("Expected 2 commit events, got %d", commits)
	}
	if all != 3 {
		t.Errorf("Expected 3 events for catch-all subscriber, got %d", all)
	}
}

func TestCanceledErrorsAreNotDispatched(t *testing.T) {
	d := NewDispatcher()
	rec := NewRecorder(10)
	d.Subscribe(rec.Handle)

	d.Dispatch(Event{Name: HistoryLoadError, Err: fmt.Errorf("failed to load page: %w", cancel.ErrCanceled)})

	if len(rec.Events()) != 0 {
		t.Errorf("Expected canceled error to be suppressed, got %d events", len(rec.Events()))
	}
}

func TestRecorderKeepsNewest(t *testing.T) {
	rec := NewRecorder(2)
	rec.Handle(Event{Name: CommitSuccess, Count: 1})
	rec.Handle(Event{Name: CommitSuccess, Count: 2})
	rec.Handle(Event{Name: CommitSuccess, Count: 3})

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Count != 2 || got[1].Count != 3 {
		t.Errorf("Expected counts [2 3], got [%d %d]", got[0].Count, got[1].Count)
	}
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(Event{Name: StoreUpdate})
}
