package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrSandboxNotFound is returned for an unknown sandbox id or a sandbox
	// without an engine handle.
	ErrSandboxNotFound = errors.New("sandbox not found")

	// ErrPreviewUnavailable is returned when the engine reports no published
	// application port for a sandbox.
	ErrPreviewUnavailable = errors.New("sandbox preview port not available")

	// ErrInvalidFileTree is returned when a seed file tree contains a name
	// that is not a single path element.
	ErrInvalidFileTree = errors.New("invalid file tree")

	// ErrInvalidUpload is returned for upload content that cannot be decoded.
	ErrInvalidUpload = errors.New("invalid upload")
)

// EngineError wraps a container engine fault.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// CommandError reports a one-shot operation whose command failed inside the
// sandbox.
type CommandError struct {
	Op     string
	Path   string
	Output string
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s %s failed", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Path, e.Output)
}
