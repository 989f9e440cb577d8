package types

import "time"

// SandboxStatus represents the current state of a sandbox.
type SandboxStatus string

const (
	SandboxStatusCreating SandboxStatus = "creating"
	SandboxStatusRunning  SandboxStatus = "running"
	SandboxStatusStopped  SandboxStatus = "stopped"
	SandboxStatusError    SandboxStatus = "error"
)

// Sandbox represents a sandbox record as seen by clients.
type Sandbox struct {
	ID          string        `json:"id"`
	Status      SandboxStatus `json:"status"`
	Port        int           `json:"port,omitempty"`
	PreviewPort int           `json:"previewPort,omitempty"`
	ControlURL  string        `json:"controlUrl,omitempty"`
	PreviewURL  string        `json:"previewUrl,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// FileNode is one entry of a FileTree: either a file or a nested directory.
type FileNode struct {
	File      *FileContents `json:"file,omitempty"`
	Directory FileTree      `json:"directory,omitempty"`
}

// FileContents holds the raw contents of a seeded file.
type FileContents struct {
	Contents string `json:"contents"`
}

// FileTree maps names to files or directories. It is only used to seed a
// sandbox at creation time.
type FileTree map[string]FileNode

// SandboxConfig is the request body for creating a sandbox.
type SandboxConfig struct {
	Files FileTree `json:"files,omitempty"`
}

// SandboxListResponse is the response for listing sandboxes.
type SandboxListResponse struct {
	Sandboxes []Sandbox `json:"sandboxes"`
}

// PreviewURLResponse is returned by the preview URL endpoint.
type PreviewURLResponse struct {
	URL       string `json:"url"`
	SandboxID string `json:"sandboxID"`
	Port      int    `json:"port"`
}

// ErrorResponse is the JSON error body. Sandbox is set when a create
// attempt failed after the record was registered.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Sandbox *Sandbox `json:"sandbox,omitempty"`
}
