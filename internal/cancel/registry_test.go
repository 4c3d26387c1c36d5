package cancel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCancelAbortsEveryOperationWithKey(t *testing.T) {
	r := NewRegistry()

	ctx1, release1 := r.WithKey(context.Background(), "netflix")
	defer release1()
	ctx2, release2 := r.WithKey(context.Background(), "netflix")
	defer release2()
	other, releaseOther := r.WithKey(context.Background(), "hbo")
	defer releaseOther()

	if n := r.Cancel("netflix"); n != 2 {
		t.Errorf("Expected 2 canceled operations, got %d", n)
	}

	for i, ctx := range []context.Context{ctx1, ctx2} {
		if ctx.Err() == nil {
			t.Errorf("Expected context %d to be canceled", i)
		}
		if !errors.Is(Cause(ctx), ErrCanceled) {
			t.Errorf("Expected ErrCanceled cause for context %d, got %v", i, Cause(ctx))
		}
	}
	if other.Err() != nil {
		t.Error("Expected context with another key to stay alive")
	}
}

func TestReleaseUnregisters(t *testing.T) {
	r := NewRegistry()

	_, release := r.WithKey(context.Background(), "netflix")
	if r.Active("netflix") != 1 {
		t.Fatalf("Expected 1 active operation, got %d", r.Active("netflix"))
	}
	release()
	if r.Active("netflix") != 0 {
		t.Errorf("Expected no active operation after release, got %d", r.Active("netflix"))
	}
	if n := r.Cancel("netflix"); n != 0 {
		t.Errorf("Expected nothing to cancel, got %d", n)
	}
}

func TestCancelAbortsHTTPRequest(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		close(started)
		<-req.Context().Done()
	}))
	defer server.Close()

	r := NewRegistry()
	ctx, release := r.WithKey(context.Background(), "sync")
	defer release()

	errCh := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		errCh <- err
	}()

	<-started
	r.Cancel("sync")

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Expected request to fail after cancel")
		}
		if !IsCanceled(err) {
			t.Errorf("Expected canceled error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Request was not aborted")
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(fmt.Errorf("failed to load: %w", ErrCanceled)) {
		t.Error("Expected wrapped ErrCanceled to be detected")
	}
	if !IsCanceled(context.Canceled) {
		t.Error("Expected context.Canceled to be detected")
	}
	if IsCanceled(errors.New("boom")) {
		t.Error("Expected unrelated error not to be detected")
	}
}
