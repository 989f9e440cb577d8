package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/api"
	"github.com/opensandbox/devbox/internal/config"
	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/internal/events"
	"github.com/opensandbox/devbox/internal/logging"
	"github.com/opensandbox/devbox/internal/metrics"
	"github.com/opensandbox/devbox/internal/sandbox"
	"github.com/opensandbox/devbox/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	engine, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize docker client")
	}
	defer engine.Close()

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := engine.Ping(startCtx); err != nil {
		log.Fatal().Err(err).Msg("docker not responding")
	}
	if err := engine.EnsureImage(startCtx, cfg.Image); err != nil {
		log.Fatal().Err(err).Str("image", cfg.Image).Msg("failed to pull sandbox image")
	}
	cancel()

	var history *sandbox.History
	if cfg.HistoryLimit > 0 {
		history, err = sandbox.OpenHistory(cfg.HistoryLimit)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open command history")
		}
		defer history.Close()
	}

	observers := []sandbox.EventPublisher{metrics.SandboxObserver{}}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Warn().Err(err).Msg("NATS event publisher not available (continuing without)")
		} else {
			defer pub.Close()
			observers = append(observers, pub)
			log.Info().Str("url", cfg.NATSURL).Msg("NATS event publisher started")
		}
	}

	mgr := sandbox.NewManager(sandbox.ManagerConfig{
		Engine:         engine,
		Image:          cfg.Image,
		WorkDir:        cfg.WorkDir,
		PublicHost:     cfg.PublicHost,
		PortRangeStart: cfg.PortRangeStart,
		PortRangeSize:  cfg.PortRangeSize,
		AppPort:        cfg.AppPort,
		MemoryMB:       int64(cfg.MemoryMB),
		CPUShares:      int64(cfg.CPUShares),
		History:        history,
		Events:         observers,
	})

	router := sandbox.NewRouter()
	router.Use(sandbox.LogMiddleware)
	router.Use(metrics.RouteMiddleware())
	mgr.OnDelete(router.Unregister)

	shell := sandbox.NewShell(mgr, router)
	files := sandbox.NewFiles(mgr, router)
	server := api.NewServer(api.Services{
		Manager: mgr,
		Shell:   shell,
		Files:   files,
		Hub:     session.NewHub(mgr, shell, files),
	}, cfg.APIKey)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Str("image", cfg.Image).Bool("auth", cfg.APIKey != "").Msg("devbox: starting server")

	go func() {
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	log.Info().Msg("devbox: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error closing server")
	}

	// Containers are only reachable through this process's registry.
	for _, sb := range mgr.List() {
		if err := mgr.Delete(ctx, sb.ID); err != nil {
			log.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("devbox: failed to delete sandbox on shutdown")
		}
	}
}
