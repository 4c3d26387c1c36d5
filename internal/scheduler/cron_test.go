package scheduler

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/scrobblarr/internal/cancel"
)

type fakeRunner struct {
	mu        sync.Mutex
	runs      int
	providers []string
	ran       chan struct{}
	block     bool
	errs      chan error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 10), errs: make(chan error, 10)}
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	r.ran <- struct{}{}
	return nil
}

func (r *fakeRunner) RunProvider(ctx context.Context, providerID string) error {
	r.mu.Lock()
	r.providers = append(r.providers, providerID)
	block := r.block
	r.mu.Unlock()
	r.ran <- struct{}{}
	if block {
		<-ctx.Done()
		err := cancel.Cause(ctx)
		r.errs <- err
		return err
	}
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a pass")
	}
}

func TestStartRunsInitialPass(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, "@every 1h", cancel.NewRegistry(), testLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	waitFor(t, runner.ran)
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.runs != 1 {
		t.Errorf("Expected 1 run, got %d", runner.runs)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(newFakeRunner(), "not a schedule", cancel.NewRegistry(), testLogger())
	if err := s.Start(); err == nil {
		t.Error("Expected an error for an invalid schedule")
	}
}

func TestTriggeredPassCanBeCanceled(t *testing.T) {
	runner := newFakeRunner()
	runner.block = true
	cancels := cancel.NewRegistry()
	s := NewScheduler(runner, "@every 1h", cancels, testLogger())

	s.TriggerProvider("jellyfin")
	waitFor(t, runner.ran)

	if n := cancels.Cancel(CancelKey); n != 1 {
		t.Fatalf("Expected 1 canceled pass, got %d", n)
	}
	select {
	case err := <-runner.errs:
		if err != cancel.ErrCanceled {
			t.Errorf("Expected ErrCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the canceled pass")
	}
	s.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.providers) != 1 || runner.providers[0] != "jellyfin" {
		t.Errorf("Expected a pass for jellyfin, got %v", runner.providers)
	}
}
