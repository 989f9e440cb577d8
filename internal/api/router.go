package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/devbox/internal/auth"
	"github.com/opensandbox/devbox/internal/logging"
	"github.com/opensandbox/devbox/internal/metrics"
	"github.com/opensandbox/devbox/internal/sandbox"
	"github.com/opensandbox/devbox/internal/session"
)

// Services are the sandbox services the API exposes.
type Services struct {
	Manager *sandbox.Manager
	Shell   *sandbox.Shell
	Files   *sandbox.Files
	Hub     *session.Hub
}

// Server holds the API server dependencies.
type Server struct {
	echo    *echo.Echo
	manager *sandbox.Manager
	shell   *sandbox.Shell
	files   *sandbox.Files
	hub     *session.Hub
}

// NewServer creates a new API server with all routes configured.
func NewServer(svc Services, apiKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		manager: svc.Manager,
		shell:   svc.Shell,
		files:   svc.Files,
		hub:     svc.Hub,
	}

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(logging.EchoRequestLogger())
	e.Use(metrics.EchoMiddleware())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(auth.APIKeyMiddleware(apiKey))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Sandbox lifecycle
	e.POST("/sandboxes", s.createSandbox)
	e.GET("/sandboxes", s.listSandboxes)
	e.GET("/sandboxes/:id", s.getSandbox)
	e.DELETE("/sandboxes/:id", s.deleteSandbox)
	e.GET("/sandboxes/:id/url", s.previewURL)

	// Filesystem
	e.POST("/sandboxes/:id/files", s.writeFile)
	e.GET("/sandboxes/:id/files", s.readFile)
	e.DELETE("/sandboxes/:id/files", s.removeFile)
	e.GET("/sandboxes/:id/files/list", s.listDir)
	e.POST("/sandboxes/:id/files/mkdir", s.makeDir)
	e.POST("/sandboxes/:id/files/upload", s.uploadFile)

	// Commands
	e.POST("/sandboxes/:id/spawn", s.spawn)
	e.POST("/sandboxes/:id/terminal", s.terminal)
	e.GET("/sandboxes/:id/history", s.history)

	// Sessions
	e.GET("/ws", s.sessionWebSocket)

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
