package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"

	"github.com/opensandbox/devbox/internal/metrics"
)

// ErrExitCodeUnknown is returned when the exec's output was fully copied but
// its exit code could not be read back from the engine.
var ErrExitCodeUnknown = errors.New("exec exit code unknown")

// ExecInContainer runs cmd inside a running container with stdout and stderr
// attached and copies the engine's multiplexed stream, unmodified, to out.
// It returns once the stream closes. The error is non-nil only when the
// engine refused or broke the exec; a failing command reports through the
// exit code. An error wrapping ErrExitCodeUnknown means out holds the
// complete output.
func (c *Client) ExecInContainer(ctx context.Context, containerID string, cmd []string, out io.Writer) (int, error) {
	defer metrics.ObserveEngineOp("exec", time.Now())
	created, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	})
	if err != nil {
		return -1, fmt.Errorf("docker exec create failed: %w", err)
	}

	attach, err := c.api.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, fmt.Errorf("docker exec attach failed: %w", err)
	}
	defer attach.Close()

	// Closing the hijacked connection unblocks the copy when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-done:
		}
	}()

	if _, err := io.Copy(out, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, fmt.Errorf("docker exec stream failed: %w", err)
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, fmt.Errorf("%w: docker exec inspect failed: %v", ErrExitCodeUnknown, err)
	}
	return inspect.ExitCode, nil
}
