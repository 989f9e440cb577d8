package docker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/go-connections/nat"

	"github.com/opensandbox/devbox/internal/metrics"
)

// ContainerConfig defines how to create a container.
type ContainerConfig struct {
	Name       string
	Image      string
	Labels     map[string]string
	Env        map[string]string
	WorkingDir string
	Entrypoint []string
	Command    []string
	// Publish maps a container port ("8123/tcp") to a host port. A host
	// port of 0 lets the engine assign one.
	Publish   map[string]int
	MemoryMB  int64
	CPUShares int64
}

// DefaultContainerConfig returns a config for a long-lived sandbox container.
func DefaultContainerConfig(name, image string) ContainerConfig {
	return ContainerConfig{
		Name:       name,
		Image:      image,
		Labels:     make(map[string]string),
		Env:        make(map[string]string),
		Publish:    make(map[string]int),
		Entrypoint: []string{"/bin/sh", "-c"},
		Command:    []string{"while true; do sleep 1000; done"},
		MemoryMB:   512,
		CPUShares:  512,
	}
}

func (cfg ContainerConfig) toAPI() (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for portSpec, hostPort := range cfg.Publish {
		proto, port := nat.SplitProtoPort(portSpec)
		p, err := nat.NewPort(proto, port)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port %q: %w", portSpec, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostPort: strconv.Itoa(hostPort)}}
	}

	cc := &container.Config{
		Image:        cfg.Image,
		Labels:       cfg.Labels,
		Env:          env,
		WorkingDir:   cfg.WorkingDir,
		Entrypoint:   cfg.Entrypoint,
		Cmd:          cfg.Command,
		ExposedPorts: exposed,
	}
	hc := &container.HostConfig{
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:    cfg.MemoryMB * 1024 * 1024,
			CPUShares: cfg.CPUShares,
		},
	}
	return cc, hc, nil
}

// CreateContainer creates a container with the given config. Returns the container ID.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	defer metrics.ObserveEngineOp("create", time.Now())
	cc, hc, err := cfg.toAPI()
	if err != nil {
		return "", err
	}
	resp, err := c.api.ContainerCreate(ctx, cc, hc, nil, nil, cfg.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", cfg.Name, err)
	}
	return resp.ID, nil
}

// StartContainer starts a container by name or ID.
func (c *Client) StartContainer(ctx context.Context, nameOrID string) error {
	defer metrics.ObserveEngineOp("start", time.Now())
	if err := c.api.ContainerStart(ctx, nameOrID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", nameOrID, err)
	}
	return nil
}

// StopContainer stops a container by name or ID.
func (c *Client) StopContainer(ctx context.Context, nameOrID string, timeoutSec int) error {
	defer metrics.ObserveEngineOp("stop", time.Now())
	opts := container.StopOptions{}
	if timeoutSec > 0 {
		opts.Timeout = &timeoutSec
	}
	if err := c.api.ContainerStop(ctx, nameOrID, opts); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", nameOrID, err)
	}
	return nil
}

// RemoveContainer removes a container by name or ID. Force=true kills running containers.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string, force bool) error {
	defer metrics.ObserveEngineOp("remove", time.Now())
	if err := c.api.ContainerRemove(ctx, nameOrID, types.ContainerRemoveOptions{Force: force}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", nameOrID, err)
	}
	return nil
}

// ContainerInfo holds the parts of inspect output the sandbox layer uses.
type ContainerInfo struct {
	ID      string
	Name    string
	Status  string
	Running bool
	Labels  map[string]string
	// Ports maps a container port ("3000/tcp") to its published host port.
	Ports map[string]int
}

// InspectContainer returns live info about a container.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	defer metrics.ObserveEngineOp("inspect", time.Now())
	raw, err := c.api.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", nameOrID, err)
	}

	info := &ContainerInfo{
		ID:    raw.ID,
		Name:  strings.TrimPrefix(raw.Name, "/"),
		Ports: make(map[string]int),
	}
	if raw.State != nil {
		info.Status = raw.State.Status
		info.Running = raw.State.Running
	}
	if raw.Config != nil {
		info.Labels = raw.Config.Labels
	}
	if raw.NetworkSettings != nil {
		for port, bindings := range raw.NetworkSettings.Ports {
			for _, b := range bindings {
				hp, err := strconv.Atoi(b.HostPort)
				if err != nil || hp == 0 {
					continue
				}
				info.Ports[string(port)] = hp
				break
			}
		}
	}
	return info, nil
}

// PSEntry represents a container from a list call.
type PSEntry struct {
	ID     string
	Names  []string
	State  string
	Labels map[string]string
}

// ListContainers lists all containers (running or not) carrying every given label.
func (c *Client) ListContainers(ctx context.Context, labels map[string]string) ([]PSEntry, error) {
	defer metrics.ObserveEngineOp("list", time.Now())
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	list, err := c.api.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	entries := make([]PSEntry, 0, len(list))
	for _, ct := range list {
		names := make([]string, 0, len(ct.Names))
		for _, n := range ct.Names {
			names = append(names, strings.TrimPrefix(n, "/"))
		}
		entries = append(entries, PSEntry{
			ID:     ct.ID,
			Names:  names,
			State:  ct.State,
			Labels: ct.Labels,
		})
	}
	return entries, nil
}
