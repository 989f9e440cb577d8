package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opensandbox/devbox/pkg/types"
)

// Failure texts that mark a cd resolution as rejected even when the shell
// printed something.
var cdFailures = []string{
	"no such file or directory",
	"permission denied",
	"can't cd to",
	"not a directory",
}

// Shell emulates one continuous terminal per sandbox on top of stateless
// executions. It remembers a working directory per sandbox and prefixes
// every command with a cd into it. Only cd writes that directory, and only
// with a path the sandbox's own shell resolved.
type Shell struct {
	mgr    *Manager
	router *Router
	root   string

	mu  sync.RWMutex
	cwd map[string]string
}

// NewShell creates a shell rooted at the manager's work dir. Shell state is
// dropped when the manager deletes a sandbox.
func NewShell(mgr *Manager, router *Router) *Shell {
	s := &Shell{
		mgr:    mgr,
		router: router,
		root:   mgr.WorkDir(),
		cwd:    make(map[string]string),
	}
	mgr.OnDelete(s.Forget)
	return s
}

// Root returns the directory every session starts in.
func (s *Shell) Root() string {
	return s.root
}

// Init sets the sandbox's directory to the root unless one is already held,
// and returns the current directory.
func (s *Shell) Init(sandboxID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.cwd[sandboxID]
	if !ok {
		dir = s.root
		s.cwd[sandboxID] = dir
	}
	return dir
}

// Cwd returns the sandbox's current directory, or the root if none is held.
func (s *Shell) Cwd(sandboxID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dir, ok := s.cwd[sandboxID]; ok {
		return dir
	}
	return s.root
}

// Forget drops the sandbox's directory; the next Init starts at the root.
func (s *Shell) Forget(sandboxID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cwd, sandboxID)
}

func (s *Shell) setCwd(sandboxID, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwd[sandboxID] = dir
}

// Run handles one line of terminal input.
func (s *Shell) Run(ctx context.Context, sandboxID, input string) (*types.CommandResult, error) {
	var res *types.CommandResult
	err := s.router.Route(ctx, sandboxID, "terminal", func(ctx context.Context) error {
		var err error
		res, err = s.run(ctx, sandboxID, input)
		return err
	})
	return res, err
}

// run must be called with the sandbox's route held.
func (s *Shell) run(ctx context.Context, sandboxID, input string) (*types.CommandResult, error) {
	if _, err := s.mgr.Get(sandboxID); err != nil {
		return nil, err
	}

	line := strings.TrimSpace(input)
	if line == "pwd" {
		return &types.CommandResult{Output: s.Cwd(sandboxID)}, nil
	}
	if target, ok := navigationTarget(line); ok {
		return s.navigate(ctx, sandboxID, input, target)
	}
	return s.mgr.Exec(ctx, sandboxID, inDirCmd(s.Cwd(sandboxID), input))
}

// navigationTarget reports whether line is a cd and returns its raw target.
func navigationTarget(line string) (string, bool) {
	if line != "cd" && !strings.HasPrefix(line, "cd ") && !strings.HasPrefix(line, "cd\t") {
		return "", false
	}
	return strings.TrimSpace(line[2:]), true
}

// navigate handles a cd line. The target goes through sh quote removal
// before it is resolved. A cd combined with shell operators runs as an
// ordinary command and leaves the stored directory alone.
func (s *Shell) navigate(ctx context.Context, sandboxID, input, target string) (*types.CommandResult, error) {
	w, err := splitWords(target)
	switch {
	case w.compound:
		return s.mgr.Exec(ctx, sandboxID, inDirCmd(s.Cwd(sandboxID), input))
	case err != nil:
		return cdFailure(target, err.Error()), nil
	case w.expands:
		return cdFailure(target, "variable and command expansion are not supported"), nil
	case len(w.words) > 1:
		return &types.CommandResult{Output: "cd: too many arguments", ExitCode: 1}, nil
	}

	dir := ""
	if len(w.words) == 1 {
		dir = w.words[0]
	}
	// Only an unquoted leading ~ means the root.
	return s.changeDir(ctx, sandboxID, dir, strings.HasPrefix(target, "~"))
}

func cdFailure(target, reason string) *types.CommandResult {
	return &types.CommandResult{
		Output:   fmt.Sprintf("cd: %s: %s", target, reason),
		ExitCode: 1,
	}
}

// changeDir asks the sandbox to resolve dir and stores the result only if
// the resolution clearly succeeded.
func (s *Shell) changeDir(ctx context.Context, sandboxID, dir string, tilde bool) (*types.CommandResult, error) {
	res, err := s.mgr.Exec(ctx, sandboxID, []string{"sh", "-c", s.resolveScript(sandboxID, dir, tilde)})
	if err != nil {
		return nil, err
	}

	resolved, ok := resolvedDir(res)
	if !ok {
		return cdFailure(dir, "No such file or directory"), nil
	}
	s.setCwd(sandboxID, resolved)
	return &types.CommandResult{}, nil
}

// resolveScript builds the shell text that prints the directory dir
// resolves to from the sandbox's current directory.
func (s *Shell) resolveScript(sandboxID, dir string, tilde bool) string {
	root := ShellQuote(s.root)
	switch {
	case dir == "", tilde && dir == "~", tilde && dir == "~/":
		return "cd " + root + " && pwd"
	case tilde && strings.HasPrefix(dir, "~/"):
		return "cd " + root + " && cd " + ShellQuote(strings.TrimPrefix(dir, "~/")) + " && pwd"
	case strings.HasPrefix(dir, "/"):
		return "cd " + ShellQuote(dir) + " && pwd"
	default:
		return "cd " + ShellQuote(s.Cwd(sandboxID)) + " && cd " + ShellQuote(dir) + " && pwd"
	}
}

func resolvedDir(res *types.CommandResult) (string, bool) {
	if res.Error != "" || res.ExitCode != 0 {
		return "", false
	}
	lower := strings.ToLower(res.Output)
	for _, f := range cdFailures {
		if strings.Contains(lower, f) {
			return "", false
		}
	}
	// CDPATH hits make cd print the directory too; pwd's line comes last.
	lines := strings.Split(strings.TrimSpace(res.Output), "\n")
	dir := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(dir, "/") {
		return "", false
	}
	return dir, true
}
