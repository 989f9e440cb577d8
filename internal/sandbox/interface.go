package sandbox

import (
	"context"
	"io"

	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/pkg/types"
)

// Engine is the container engine surface the sandbox layer depends on.
// *docker.Client implements it; tests substitute a fake.
type Engine interface {
	CreateContainer(ctx context.Context, cfg docker.ContainerConfig) (string, error)
	StartContainer(ctx context.Context, nameOrID string) error
	StopContainer(ctx context.Context, nameOrID string, timeoutSec int) error
	RemoveContainer(ctx context.Context, nameOrID string, force bool) error
	InspectContainer(ctx context.Context, nameOrID string) (*docker.ContainerInfo, error)
	ListContainers(ctx context.Context, labels map[string]string) ([]docker.PSEntry, error)
	ExecInContainer(ctx context.Context, containerID string, cmd []string, out io.Writer) (int, error)
}

var _ Engine = (*docker.Client)(nil)

// Lifecycle event kinds passed to an EventPublisher.
const (
	EventCreated = "created"
	EventRunning = "running"
	EventError   = "error"
	EventDeleted = "deleted"
)

// EventPublisher observes sandbox lifecycle transitions. Implementations must
// not block.
type EventPublisher interface {
	Publish(kind string, sb types.Sandbox)
}
