package types

import "encoding/json"

// Session message types. Client-to-server types come first.
const (
	MsgJoinSandbox      = "join-sandbox"
	MsgTerminalInput    = "terminal-input"
	MsgFSOperation      = "fs-operation"
	MsgProcessOperation = "process-operation"

	MsgJoinedSandbox  = "joined-sandbox"
	MsgTerminalOutput = "terminal-output"
	MsgFSResult       = "fs-result"
	MsgProcessResult  = "process-result"
	MsgError          = "error"
)

// Message is the envelope for every frame on a session connection.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRequest binds a connection to a sandbox.
type JoinRequest struct {
	SandboxID string `json:"sandboxId"`
}

// JoinedEvent acknowledges a join.
type JoinedEvent struct {
	SandboxID string        `json:"sandboxId"`
	Status    SandboxStatus `json:"status"`
	Cwd       string        `json:"cwd"`
}

// FSOperation is a filesystem request sent over a session. Type is one of
// writeFile, readFile, readdir, mkdir, rm, upload.
type FSOperation struct {
	Type       string         `json:"type"`
	Path       string         `json:"path,omitempty"`
	Contents   string         `json:"contents,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	TargetPath string         `json:"targetPath,omitempty"`
	Content    string         `json:"content,omitempty"`
	Encoding   UploadEncoding `json:"encoding,omitempty"`
}

// ProcessOperation is a process request sent over a session.
type ProcessOperation struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// OperationResult wraps the result of a filesystem or process operation.
type OperationResult struct {
	Operation string `json:"operation"`
	Result    any    `json:"result"`
}

// ErrorEvent reports a failed message.
type ErrorEvent struct {
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}
