package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensandbox/devbox/pkg/types"
)

// Sandbox metrics
var (
	SandboxesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devbox_sandboxes_active",
			Help: "Number of currently running sandboxes",
		},
	)

	SandboxCreatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devbox_sandbox_creates_total",
			Help: "Total sandbox creations",
		},
		[]string{"status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devbox_operation_duration_seconds",
			Help:    "Time to run a routed sandbox operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0, 60.0},
		},
		[]string{"op", "result"},
	)

	EngineOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devbox_engine_op_duration_seconds",
			Help:    "Time for container engine operations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
		[]string{"operation"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "devbox_sessions_active",
			Help: "Number of open websocket sessions",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devbox_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SandboxesActive,
		SandboxCreatesTotal,
		OperationDuration,
		EngineOpDuration,
		SessionsActive,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEngineOp records the duration of an engine call started at start.
func ObserveEngineOp(operation string, start time.Time) {
	EngineOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RouteMiddleware returns a sandbox router middleware timing every operation.
func RouteMiddleware() func(ctx context.Context, sandboxID, op string, next func(ctx context.Context) error) error {
	return func(ctx context.Context, sandboxID, op string, next func(ctx context.Context) error) error {
		start := time.Now()
		err := next(ctx)
		result := "ok"
		if err != nil {
			result = "error"
		}
		OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
		return err
	}
}

// SandboxObserver turns sandbox lifecycle events into metrics.
type SandboxObserver struct{}

// Publish implements the sandbox event publisher interface.
func (SandboxObserver) Publish(kind string, sb types.Sandbox) {
	switch kind {
	case "running":
		SandboxCreatesTotal.WithLabelValues("success").Inc()
		SandboxesActive.Inc()
	case "error":
		SandboxCreatesTotal.WithLabelValues("error").Inc()
	case "deleted":
		if sb.Status == types.SandboxStatusStopped {
			SandboxesActive.Dec()
		}
	}
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, c.Path()).Observe(duration.Seconds())
			return err
		}
	}
}
