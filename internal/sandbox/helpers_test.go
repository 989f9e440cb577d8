package sandbox

import (
	"errors"

	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/internal/sandbox/sandboxtest"
)

var _ Engine = (*sandboxtest.Engine)(nil)

var errEngineDown = errors.New("engine unavailable")

func dockerEntry(id, name, sandboxID string) docker.PSEntry {
	labels := map[string]string{labelManaged: "true"}
	if sandboxID != "" {
		labels[labelID] = sandboxID
	}
	return docker.PSEntry{ID: id, Names: []string{name}, State: "running", Labels: labels}
}
