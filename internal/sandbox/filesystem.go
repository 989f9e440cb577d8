package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/pkg/types"
)

// Files runs one-shot filesystem operations inside sandboxes. Every
// operation is a command executed in the sandbox; paths and contents are
// passed as argv, never as shell text.
type Files struct {
	mgr    *Manager
	router *Router
}

// NewFiles creates the filesystem operations for mgr's sandboxes.
func NewFiles(mgr *Manager, router *Router) *Files {
	return &Files{mgr: mgr, router: router}
}

// run routes argv for a sandbox.
func (f *Files) run(ctx context.Context, sandboxID, op, target string, argv []string) (string, error) {
	var out string
	err := f.router.Route(ctx, sandboxID, op, func(ctx context.Context) error {
		var err error
		out, err = f.exec(ctx, sandboxID, op, target, argv)
		return err
	})
	return out, err
}

// exec fails with a CommandError when the command was rejected or exited
// non-zero. Callers hold the sandbox's route.
func (f *Files) exec(ctx context.Context, sandboxID, op, target string, argv []string) (string, error) {
	res, err := f.mgr.Exec(ctx, sandboxID, argv)
	if err != nil {
		return "", err
	}
	if res.Error != "" {
		return "", &CommandError{Op: op, Path: target, Output: res.Error}
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Op: op, Path: target, Output: res.Output}
	}
	return res.Output, nil
}

// WriteFile writes contents followed by a newline to path.
func (f *Files) WriteFile(ctx context.Context, sandboxID, path, contents string) (*types.PathResult, error) {
	if _, err := f.run(ctx, sandboxID, "writeFile", path, writeFileCmd(path, contents)); err != nil {
		return nil, err
	}
	return &types.PathResult{Success: true, Path: path}, nil
}

// ReadFile returns the output of cat for path.
func (f *Files) ReadFile(ctx context.Context, sandboxID, path string) (*types.FileContentsResult, error) {
	out, err := f.run(ctx, sandboxID, "readFile", path, []string{"cat", path})
	if err != nil {
		return nil, err
	}
	return &types.FileContentsResult{Contents: out}, nil
}

// ListDir lists path via ls -la.
func (f *Files) ListDir(ctx context.Context, sandboxID, path string) (*types.DirListing, error) {
	out, err := f.run(ctx, sandboxID, "readdir", path, []string{"ls", "-la", path})
	if err != nil {
		return nil, err
	}
	return &types.DirListing{Files: parseLsLong(out)}, nil
}

// MakeDir creates path and any missing parents.
func (f *Files) MakeDir(ctx context.Context, sandboxID, path string) (*types.PathResult, error) {
	if _, err := f.run(ctx, sandboxID, "mkdir", path, []string{"mkdir", "-p", path}); err != nil {
		return nil, err
	}
	return &types.PathResult{Success: true, Path: path}, nil
}

// Remove deletes path recursively.
func (f *Files) Remove(ctx context.Context, sandboxID, path string) (*types.PathResult, error) {
	if _, err := f.run(ctx, sandboxID, "rm", path, []string{"rm", "-rf", path}); err != nil {
		return nil, err
	}
	return &types.PathResult{Success: true, Path: path}, nil
}

// Upload writes req.Content to req.TargetPath, creating the parent
// directory first. Base64 content is validated here and decoded inside the
// sandbox.
func (f *Files) Upload(ctx context.Context, sandboxID string, req types.UploadRequest) (*types.PathResult, error) {
	target := req.TargetPath
	if target == "" {
		return nil, fmt.Errorf("%w: targetPath is required", ErrInvalidUpload)
	}

	var argv []string
	switch req.Encoding {
	case "", types.EncodingUTF8:
		argv = writeFileCmd(target, req.Content)
	case types.EncodingBase64:
		if _, err := base64.StdEncoding.DecodeString(req.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		argv = writeBase64Cmd(target, req.Content)
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidUpload, req.Encoding)
	}

	err := f.router.Route(ctx, sandboxID, "upload", func(ctx context.Context) error {
		if dir := path.Dir(target); strings.Contains(target, "/") && dir != "/" && dir != "." {
			if _, err := f.exec(ctx, sandboxID, "mkdir", dir, []string{"mkdir", "-p", dir}); err != nil {
				return err
			}
		}
		_, err := f.exec(ctx, sandboxID, "upload", target, argv)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sandbox_id", sandboxID).Str("filename", req.Filename).Str("path", target).Msg("sandbox: file uploaded")
	return &types.PathResult{Success: true, Path: target}, nil
}

// parseLsLong turns ls -la output into entries. The name is everything from
// the ninth field on; symlink targets are dropped.
func parseLsLong(out string) []types.EntryInfo {
	entries := []types.EntryInfo{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "total") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if i := strings.Index(name, " -> "); i >= 0 {
			name = name[:i]
		}
		if name == "." || name == ".." {
			continue
		}
		typ := types.EntryFile
		if fields[0][0] == 'd' {
			typ = types.EntryDirectory
		}
		entries = append(entries, types.EntryInfo{Name: name, Type: typ})
	}
	return entries
}
