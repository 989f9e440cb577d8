package sandbox

import (
	"context"
	"math/rand"
	"strings"

	"github.com/opensandbox/devbox/pkg/types"
)

// Spawn runs command with args through the shell session, so it executes in
// the sandbox's current directory. The returned PID is a display
// placeholder.
func (s *Shell) Spawn(ctx context.Context, sandboxID, command string, args []string) (*types.SpawnResult, error) {
	var res *types.CommandResult
	err := s.router.Route(ctx, sandboxID, "spawn", func(ctx context.Context) error {
		var err error
		res, err = s.run(ctx, sandboxID, buildCommandLine(command, args))
		return err
	})
	if err != nil {
		return nil, err
	}

	out := res.Output
	if out == "" {
		out = res.Error
	}
	return &types.SpawnResult{
		PID:      rand.Intn(10000),
		Output:   out,
		ExitCode: res.ExitCode,
	}, nil
}

// buildCommandLine keeps command as shell text and quotes each argument.
func buildCommandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, command)
	for _, a := range args {
		parts = append(parts, ShellQuote(a))
	}
	return strings.Join(parts, " ")
}
