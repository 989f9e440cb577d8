package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRouter_SerializesPerSandbox(t *testing.T) {
	r := NewRouter()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Route(context.Background(), "sb-1", "terminal", func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("Route() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("expected at most one operation at a time, saw %d", peak)
	}
}

func TestRouter_SandboxesRunConcurrently(t *testing.T) {
	r := NewRouter()
	inA := make(chan struct{})
	release := make(chan struct{})

	go r.Route(context.Background(), "sb-a", "terminal", func(ctx context.Context) error {
		close(inA)
		<-release
		return nil
	})
	<-inA

	done := make(chan error, 1)
	go func() {
		done <- r.Route(context.Background(), "sb-b", "terminal", func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Route() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("operation on another sandbox blocked")
	}
	close(release)
}

func TestRouter_WaitCancelled(t *testing.T) {
	r := NewRouter()
	inFirst := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go r.Route(context.Background(), "sb-1", "terminal", func(ctx context.Context) error {
		close(inFirst)
		<-release
		return nil
	})
	<-inFirst

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := r.Route(ctx, "sb-1", "terminal", func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if called {
		t.Error("operation ran after its wait was cancelled")
	}
}

func TestRouter_MiddlewareOrder(t *testing.T) {
	r := NewRouter()
	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, sandboxID, op string, next func(ctx context.Context) error) error {
			order = append(order, name+":"+op)
			return next(ctx)
		}
	}
	r.Use(mw("outer"))
	r.Use(mw("inner"))

	var seenOp string
	err := r.Route(context.Background(), "sb-1", "readFile", func(ctx context.Context) error {
		seenOp = opFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if len(order) != 2 || order[0] != "outer:readFile" || order[1] != "inner:readFile" {
		t.Errorf("unexpected middleware order %v", order)
	}
	if seenOp != "readFile" {
		t.Errorf("expected op in context, got %q", seenOp)
	}
}

func TestRouter_ErrorPropagates(t *testing.T) {
	r := NewRouter()
	r.Use(LogMiddleware)
	want := errors.New("boom")

	if err := r.Route(context.Background(), "sb-1", "rm", func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	r.Unregister("sb-1")
	if err := r.Route(context.Background(), "sb-1", "rm", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("expected route after unregister to work, got %v", err)
	}
}

func TestRouter_DropsUnknownSandbox(t *testing.T) {
	r := NewRouter()

	for i := 0; i < 3; i++ {
		err := r.Route(context.Background(), fmt.Sprintf("ghost-%d", i), "readFile", func(ctx context.Context) error {
			return fmt.Errorf("lookup: %w", ErrSandboxNotFound)
		})
		if !errors.Is(err, ErrSandboxNotFound) {
			t.Fatalf("expected ErrSandboxNotFound, got %v", err)
		}
	}
	_ = r.Route(context.Background(), "live", "readFile", func(ctx context.Context) error { return errors.New("boom") })

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sandboxes) != 1 {
		t.Errorf("expected only the live sandbox to keep routing state, got %d entries", len(r.sandboxes))
	}
	if _, ok := r.sandboxes["live"]; !ok {
		t.Error("expected entry for live sandbox")
	}
}

func TestShell_UnknownSandboxLeavesNoRoute(t *testing.T) {
	m, _ := newTestManager(t)
	r := NewRouter()
	sh := NewShell(m, r)

	if _, err := sh.Run(context.Background(), "nope", "ls"); !errors.Is(err, ErrSandboxNotFound) {
		t.Fatalf("expected ErrSandboxNotFound, got %v", err)
	}
	if _, err := sh.Spawn(context.Background(), "nope", "ls", nil); !errors.Is(err, ErrSandboxNotFound) {
		t.Fatalf("expected ErrSandboxNotFound, got %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sandboxes) != 0 {
		t.Errorf("expected no routing state, got %d entries", len(r.sandboxes))
	}
}
