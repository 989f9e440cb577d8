package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// sandboxEntry holds per-sandbox routing state.
type sandboxEntry struct {
	slot chan struct{} // one-slot semaphore; holding it means an operation is running
}

// Middleware wraps a routed operation. It receives the sandbox ID, the operation
// name (e.g., "terminal", "readFile"), and the next function to call. It can
// short-circuit, augment, or observe the operation.
type Middleware func(ctx context.Context, sandboxID string, op string, next func(ctx context.Context) error) error

// Router serializes operations per sandbox. Every shell and one-shot
// operation flows through Route, so a cd never races a command issued for
// the same sandbox. Different sandboxes proceed concurrently.
type Router struct {
	mu        sync.Mutex
	sandboxes map[string]*sandboxEntry

	middlewares []Middleware
}

// NewRouter creates a new sandbox router.
func NewRouter() *Router {
	return &Router{sandboxes: make(map[string]*sandboxEntry)}
}

// Use registers middleware that wraps every routed operation.
// Middleware is applied in the order registered (first registered = outermost).
func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Unregister drops the routing state of a deleted sandbox.
func (r *Router) Unregister(sandboxID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sandboxes, sandboxID)
}

func (r *Router) entry(sandboxID string) *sandboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sandboxes[sandboxID]
	if !ok {
		e = &sandboxEntry{slot: make(chan struct{}, 1)}
		r.sandboxes[sandboxID] = e
	}
	return e
}

// Route waits for the sandbox's slot, then runs fn wrapped in the middleware
// chain. Waiting ends early with ctx.Err() if ctx is done.
func (r *Router) Route(ctx context.Context, sandboxID string, op string, fn func(ctx context.Context) error) error {
	// Apply middleware chain (outermost first)
	wrapped := fn
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		mw := r.middlewares[i]
		next := wrapped
		wrapped = func(ctx context.Context) error {
			return mw(ctx, sandboxID, op, next)
		}
	}

	e := r.entry(sandboxID)
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.slot }()

	err := wrapped(withOp(ctx, op))
	if errors.Is(err, ErrSandboxNotFound) {
		r.drop(sandboxID, e)
	}
	return err
}

// drop removes e if it is still the entry for sandboxID, so routing to an
// unknown sandbox leaves no state behind.
func (r *Router) drop(sandboxID string, e *sandboxEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sandboxes[sandboxID] == e {
		delete(r.sandboxes, sandboxID)
	}
}

// LogMiddleware logs every routed operation at debug level and failures at warn.
func LogMiddleware(ctx context.Context, sandboxID, op string, next func(ctx context.Context) error) error {
	start := time.Now()
	err := next(ctx)
	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("sandbox_id", sandboxID).Str("op", op).Dur("duration", time.Since(start)).Msg("sandbox: routed")
	return err
}

type opKey struct{}

func withOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

// opFromContext returns the routed operation name, or "exec" outside a route.
func opFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(opKey{}).(string); ok {
		return op
	}
	return "exec"
}
