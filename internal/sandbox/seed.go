package sandbox

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/opensandbox/devbox/pkg/types"
)

// seed writes a file tree under base: mkdir -p for every directory, one
// positional-parameter write per file.
func (m *Manager) seed(ctx context.Context, id, base string, tree types.FileTree) error {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := m.mustRun(ctx, id, "mkdir", base, []string{"mkdir", "-p", base}); err != nil {
		return err
	}
	for _, name := range names {
		node := tree[name]
		full := path.Join(base, name)
		switch {
		case node.File != nil:
			if err := m.mustRun(ctx, id, "writeFile", full, writeFileCmd(full, node.File.Contents)); err != nil {
				return err
			}
		case node.Directory != nil:
			if err := m.seed(ctx, id, full, node.Directory); err != nil {
				return err
			}
		}
	}
	return nil
}

// mustRun executes argv and turns any failure into an error.
func (m *Manager) mustRun(ctx context.Context, id, op, target string, argv []string) error {
	res, err := m.Exec(ctx, id, argv)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return &CommandError{Op: op, Path: target, Output: res.Error}
	}
	if res.ExitCode != 0 {
		return &CommandError{Op: op, Path: target, Output: res.Output}
	}
	return nil
}

func validateTree(tree types.FileTree) error {
	for name, node := range tree {
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			return fmt.Errorf("%w: bad name %q", ErrInvalidFileTree, name)
		}
		if node.File != nil && node.Directory != nil {
			return fmt.Errorf("%w: %q is both a file and a directory", ErrInvalidFileTree, name)
		}
		if err := validateTree(node.Directory); err != nil {
			return err
		}
	}
	return nil
}
