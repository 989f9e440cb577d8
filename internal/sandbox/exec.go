package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/internal/stream"
	"github.com/opensandbox/devbox/pkg/types"
)

// Exec runs argv inside the sandbox and returns its demultiplexed, cleaned
// output. Engine rejections come back as a result with Error set and a nil
// error; only an unknown sandbox or a cancelled ctx produce an error. When
// the output arrived but the exit status did not, the output is kept and
// ExitCode is -1.
func (m *Manager) Exec(ctx context.Context, sandboxID string, argv []string) (*types.CommandResult, error) {
	containerID, err := m.handle(sandboxID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	demux := stream.NewDemuxer()
	exitCode, err := m.engine.ExecInContainer(ctx, containerID, argv, demux)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, docker.ErrExitCodeUnknown):
		log.Warn().Err(err).Str("sandbox_id", sandboxID).Str("op", opFromContext(ctx)).Msg("sandbox: exec exit status lost")
		exitCode = -1
	default:
		log.Warn().Err(err).Str("sandbox_id", sandboxID).Str("op", opFromContext(ctx)).Msg("sandbox: exec rejected")
		return &types.CommandResult{Error: err.Error(), ExitCode: -1}, nil
	}

	result := &types.CommandResult{
		Output:   stream.Clean(demux.Text()),
		ExitCode: exitCode,
	}

	if m.history != nil {
		if err := m.history.Record(sandboxID, opFromContext(ctx), argv, exitCode, time.Since(start)); err != nil {
			log.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("sandbox: failed to record history")
		}
	}
	return result, nil
}
