package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensandbox/devbox/pkg/types"
)

func TestSandboxObserver(t *testing.T) {
	active := testutil.ToFloat64(SandboxesActive)
	success := testutil.ToFloat64(SandboxCreatesTotal.WithLabelValues("success"))
	failed := testutil.ToFloat64(SandboxCreatesTotal.WithLabelValues("error"))

	var o SandboxObserver
	o.Publish("created", types.Sandbox{Status: types.SandboxStatusCreating})
	o.Publish("running", types.Sandbox{Status: types.SandboxStatusRunning})
	o.Publish("error", types.Sandbox{Status: types.SandboxStatusError})

	if got := testutil.ToFloat64(SandboxesActive); got != active+1 {
		t.Errorf("expected active %v, got %v", active+1, got)
	}
	if got := testutil.ToFloat64(SandboxCreatesTotal.WithLabelValues("success")); got != success+1 {
		t.Errorf("expected success creates %v, got %v", success+1, got)
	}
	if got := testutil.ToFloat64(SandboxCreatesTotal.WithLabelValues("error")); got != failed+1 {
		t.Errorf("expected error creates %v, got %v", failed+1, got)
	}

	o.Publish("deleted", types.Sandbox{Status: types.SandboxStatusError})
	if got := testutil.ToFloat64(SandboxesActive); got != active+1 {
		t.Errorf("deleting a failed sandbox changed active to %v", got)
	}
	o.Publish("deleted", types.Sandbox{Status: types.SandboxStatusStopped})
	if got := testutil.ToFloat64(SandboxesActive); got != active {
		t.Errorf("expected active back to %v, got %v", active, got)
	}
}

func TestRouteMiddlewarePassesThrough(t *testing.T) {
	mw := RouteMiddleware()
	want := errors.New("boom")
	err := mw(context.Background(), "sb-1", "terminal", func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if n := testutil.CollectAndCount(OperationDuration); n == 0 {
		t.Error("expected an observation")
	}
}
