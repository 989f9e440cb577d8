// Package docker is a thin wrapper over the Docker Engine API used to run
// sandbox containers.
package docker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/metrics"
)

// Client wraps the Docker Engine API client for container operations.
type Client struct {
	api *client.Client
}

// NewClient connects to the engine. An empty host uses DOCKER_HOST and the
// platform default socket.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: api}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.api.Close()
}

// Ping checks that the engine is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// EnsureImage pulls ref unless it is already present locally.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	defer metrics.ObserveEngineOp("pull", time.Now())
	_, _, err := c.api.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	log.Info().Str("image", ref).Msg("docker: pulling image")
	rc, err := c.api.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// IsNotFound reports whether err is an engine "no such object" error.
func IsNotFound(err error) bool {
	return client.IsErrNotFound(err)
}
