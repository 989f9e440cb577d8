package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/pkg/types"
)

const (
	labelPrefix   = "devbox"
	labelID       = labelPrefix + ".id"
	labelManaged  = labelPrefix + ".managed"
	containerName = "devbox"

	defaultImage          = "node:alpine"
	defaultWorkDir        = "/workspace"
	defaultPublicHost     = "localhost"
	defaultPortRangeStart = 8000
	defaultPortRangeSize  = 1000
	defaultAppPort        = 3000
	defaultMemoryMB       = 512
	defaultCPUShares      = 512
	stopTimeoutSec        = 10

	// The control channel is relayed by socat; the container idles otherwise.
	baseCommand = "apk add --no-cache socat && while true; do sleep 1000; done"
)

// ManagerConfig configures sandbox creation.
type ManagerConfig struct {
	Engine         Engine
	Image          string
	WorkDir        string
	PublicHost     string
	PortRangeStart int
	PortRangeSize  int
	AppPort        int
	MemoryMB       int64
	CPUShares      int64
	History        *History         // nil disables command history
	Events         []EventPublisher // lifecycle observers
}

// record is a registry entry. containerID is the engine handle and never
// leaves the Manager.
type record struct {
	sb          types.Sandbox
	containerID string
}

// Manager owns the sandbox registry and every engine call made for it.
type Manager struct {
	engine  Engine
	cfg     ManagerConfig
	history *History
	events  []EventPublisher

	mu        sync.RWMutex
	sandboxes map[string]*record
	onDelete  []func(sandboxID string)
}

// NewManager creates a sandbox manager, filling unset config with defaults.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Image == "" {
		cfg.Image = defaultImage
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultWorkDir
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = defaultPublicHost
	}
	if cfg.PortRangeStart <= 0 {
		cfg.PortRangeStart = defaultPortRangeStart
	}
	if cfg.PortRangeSize <= 0 {
		cfg.PortRangeSize = defaultPortRangeSize
	}
	if cfg.AppPort <= 0 {
		cfg.AppPort = defaultAppPort
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultMemoryMB
	}
	if cfg.CPUShares <= 0 {
		cfg.CPUShares = defaultCPUShares
	}
	return &Manager{
		engine:    cfg.Engine,
		cfg:       cfg,
		history:   cfg.History,
		events:    cfg.Events,
		sandboxes: make(map[string]*record),
	}
}

// WorkDir returns the sandbox root directory.
func (m *Manager) WorkDir() string {
	return m.cfg.WorkDir
}

// History returns the command history, or nil when disabled.
func (m *Manager) History() *History {
	return m.history
}

// OnDelete registers fn to run after a sandbox is removed from the registry.
func (m *Manager) OnDelete(fn func(sandboxID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDelete = append(m.onDelete, fn)
}

// ContainerName returns the engine container name for a sandbox id.
func (m *Manager) ContainerName(id string) string {
	return fmt.Sprintf("%s-%s", containerName, id)
}

// Create provisions a new sandbox. On failure the returned sandbox carries
// status error alongside the error. A sandbox deleted before it finished
// starting yields ErrSandboxNotFound and no sandbox.
func (m *Manager) Create(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	if err := validateTree(cfg.Files); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	rec := &record{sb: types.Sandbox{
		ID:        id,
		Status:    types.SandboxStatusCreating,
		CreatedAt: time.Now().UTC(),
	}}

	m.mu.Lock()
	m.sandboxes[id] = rec
	m.mu.Unlock()

	log.Info().Str("sandbox_id", id).Msg("sandbox: creating")
	m.publish(EventCreated, rec)

	sb, err := m.provision(ctx, rec, cfg.Files)
	if err != nil {
		m.mu.Lock()
		live := m.sandboxes[id] == rec
		if live {
			rec.sb.Status = types.SandboxStatusError
		}
		containerID := rec.containerID
		failed := rec.sb
		m.mu.Unlock()

		if containerID != "" {
			// Detached from ctx so cleanup still runs when the request was cancelled.
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if rmErr := m.engine.RemoveContainer(cctx, containerID, true); rmErr != nil && !docker.IsNotFound(rmErr) {
				log.Warn().Err(rmErr).Str("sandbox_id", id).Str("container_id", containerID).Msg("sandbox: cleanup failed")
			}
			cancel()
		}
		if !live {
			log.Warn().Str("sandbox_id", id).Msg("sandbox: deleted while creating")
			return nil, fmt.Errorf("sandbox %s deleted while creating: %w", id, ErrSandboxNotFound)
		}

		log.Error().Err(err).Str("sandbox_id", id).Msg("sandbox: create failed")
		m.publish(EventError, rec)
		return &failed, err
	}

	log.Info().Str("sandbox_id", id).Int("port", sb.Port).Int("preview_port", sb.PreviewPort).Msg("sandbox: running")
	m.publish(EventRunning, rec)
	return sb, nil
}

// provision brings up the container for rec. A record deleted meanwhile
// yields ErrSandboxNotFound; the caller removes whatever container was made.
func (m *Manager) provision(ctx context.Context, rec *record, files types.FileTree) (*types.Sandbox, error) {
	id := rec.sb.ID
	port := m.cfg.PortRangeStart + rand.Intn(m.cfg.PortRangeSize)

	ccfg := docker.DefaultContainerConfig(m.ContainerName(id), m.cfg.Image)
	ccfg.WorkingDir = m.cfg.WorkDir
	ccfg.Command = []string{baseCommand}
	ccfg.Labels[labelID] = id
	ccfg.Labels[labelManaged] = "true"
	ccfg.Env["NODE_ENV"] = "development"
	ccfg.Env["WEBSOCKET_PORT"] = strconv.Itoa(port)
	ccfg.Publish[fmt.Sprintf("%d/tcp", port)] = port
	ccfg.Publish[m.appPortKey()] = 0
	ccfg.MemoryMB = m.cfg.MemoryMB
	ccfg.CPUShares = m.cfg.CPUShares

	containerID, err := m.engine.CreateContainer(ctx, ccfg)
	if err != nil {
		return nil, &EngineError{Op: "create", Err: err}
	}
	m.mu.Lock()
	rec.containerID = containerID
	live := m.sandboxes[id] == rec
	m.mu.Unlock()
	if !live {
		return nil, ErrSandboxNotFound
	}

	if err := m.engine.StartContainer(ctx, containerID); err != nil {
		return nil, &EngineError{Op: "start", Err: err}
	}

	if len(files) > 0 {
		if err := m.seed(ctx, id, m.cfg.WorkDir, files); err != nil {
			return nil, err
		}
	}

	previewPort, err := m.PreviewPort(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("sandbox_id", id).Msg("sandbox: no preview port")
		previewPort = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sandboxes[id] != rec {
		return nil, ErrSandboxNotFound
	}
	rec.sb.Status = types.SandboxStatusRunning
	rec.sb.Port = port
	rec.sb.ControlURL = fmt.Sprintf("ws://%s:%d", m.cfg.PublicHost, port)
	if previewPort > 0 {
		rec.sb.PreviewPort = previewPort
		rec.sb.PreviewURL = fmt.Sprintf("http://%s:%d", m.cfg.PublicHost, previewPort)
	}
	sb := rec.sb
	return &sb, nil
}

// Get returns a copy of the registry record for id.
func (m *Manager) Get(id string) (*types.Sandbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sandboxes[id]
	if !ok {
		return nil, ErrSandboxNotFound
	}
	sb := rec.sb
	return &sb, nil
}

// List returns every registered sandbox ordered by creation time.
func (m *Manager) List() []types.Sandbox {
	m.mu.RLock()
	out := make([]types.Sandbox, 0, len(m.sandboxes))
	for _, rec := range m.sandboxes {
		out = append(out, rec.sb)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of registered sandboxes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sandboxes)
}

// Delete stops and removes the sandbox's container and drops it from the
// registry. An engine failure leaves the record in place.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	rec, ok := m.sandboxes[id]
	var containerID string
	if ok {
		containerID = rec.containerID
	}
	m.mu.RUnlock()
	if !ok {
		return ErrSandboxNotFound
	}

	if containerID == "" {
		found, err := m.findContainer(ctx, id)
		if err != nil {
			return err
		}
		containerID = found
	}

	if containerID != "" {
		if err := m.engine.StopContainer(ctx, containerID, stopTimeoutSec); err != nil && !docker.IsNotFound(err) {
			return &EngineError{Op: "stop", Err: err}
		}
		if err := m.engine.RemoveContainer(ctx, containerID, true); err != nil && !docker.IsNotFound(err) {
			return &EngineError{Op: "remove", Err: err}
		}
	} else {
		log.Warn().Str("sandbox_id", id).Msg("sandbox: no container found to delete")
	}

	m.mu.Lock()
	if rec.sb.Status == types.SandboxStatusRunning {
		rec.sb.Status = types.SandboxStatusStopped
	}
	delete(m.sandboxes, id)
	hooks := append([]func(string){}, m.onDelete...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	if m.history != nil {
		if err := m.history.Forget(id); err != nil {
			log.Warn().Err(err).Str("sandbox_id", id).Msg("sandbox: failed to drop history")
		}
	}

	log.Info().Str("sandbox_id", id).Str("container_id", containerID).Msg("sandbox: deleted")
	m.publish(EventDeleted, rec)
	return nil
}

// findContainer locates a sandbox container when no handle was stored: by
// label first, then by the id prefix in the container name.
func (m *Manager) findContainer(ctx context.Context, id string) (string, error) {
	list, err := m.engine.ListContainers(ctx, map[string]string{labelManaged: "true"})
	if err != nil {
		return "", &EngineError{Op: "list", Err: err}
	}
	prefix := id
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	for _, c := range list {
		if c.Labels[labelID] == id {
			return c.ID, nil
		}
	}
	for _, c := range list {
		for _, name := range c.Names {
			if strings.Contains(name, prefix) {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

// PreviewPort inspects the live container and returns the host port the
// engine published for the application port.
func (m *Manager) PreviewPort(ctx context.Context, id string) (int, error) {
	containerID, err := m.handle(id)
	if err != nil {
		return 0, err
	}
	info, err := m.engine.InspectContainer(ctx, containerID)
	if err != nil {
		return 0, &EngineError{Op: "inspect", Err: err}
	}
	port, ok := info.Ports[m.appPortKey()]
	if !ok || port == 0 {
		return 0, ErrPreviewUnavailable
	}
	return port, nil
}

// PreviewURL returns the externally reachable URL for a preview port.
func (m *Manager) PreviewURL(port int) string {
	return fmt.Sprintf("http://%s:%d", m.cfg.PublicHost, port)
}

func (m *Manager) appPortKey() string {
	return fmt.Sprintf("%d/tcp", m.cfg.AppPort)
}

// handle returns the engine handle for id.
func (m *Manager) handle(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sandboxes[id]
	if !ok || rec.containerID == "" {
		return "", ErrSandboxNotFound
	}
	return rec.containerID, nil
}

func (m *Manager) publish(kind string, rec *record) {
	m.mu.RLock()
	sb := rec.sb
	m.mu.RUnlock()
	for _, p := range m.events {
		p.Publish(kind, sb)
	}
}
