package types

import "time"

// CommandResult is the outcome of one command executed inside a sandbox.
// Error carries an engine rejection; a failing command reports through
// Output and ExitCode instead.
type CommandResult struct {
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
}

// SpawnRequest is the request body for spawning a process.
type SpawnRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SpawnResult is the result of a spawn. PID is a display placeholder, not a
// real process id.
type SpawnResult struct {
	PID      int    `json:"pid"`
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// TerminalRequest is one line of terminal input.
type TerminalRequest struct {
	Input string `json:"input"`
}

// TerminalResponse is the shell's reply to a line of input.
type TerminalResponse struct {
	Output string `json:"output"`
	Cwd    string `json:"cwd"`
}

// HistoryEntry is one recorded command execution.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Op         string    `json:"op"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exitCode"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}
