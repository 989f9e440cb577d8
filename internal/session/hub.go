// Package session binds long-lived client connections to sandboxes and
// routes their messages to the shell or to one-shot operations.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/opensandbox/devbox/internal/sandbox"
	"github.com/opensandbox/devbox/pkg/types"
)

// ErrNotJoined is reported for any operation on an unbound connection.
const ErrNotJoined = "Not connected to a sandbox"

// Hub holds connection bindings. Many connections may bind to one sandbox;
// a connection binds to at most one.
type Hub struct {
	mgr   *sandbox.Manager
	shell *sandbox.Shell
	files *sandbox.Files

	mu       sync.Mutex
	bindings map[string]string // connection id -> sandbox id
}

// NewHub creates a hub over the given sandbox services.
func NewHub(mgr *sandbox.Manager, shell *sandbox.Shell, files *sandbox.Files) *Hub {
	return &Hub{
		mgr:      mgr,
		shell:    shell,
		files:    files,
		bindings: make(map[string]string),
	}
}

// Join validates the sandbox, binds the connection to it and initializes the
// sandbox's shell state if absent. A connection already bound elsewhere is
// moved.
func (h *Hub) Join(connID, sandboxID string) (*types.JoinedEvent, error) {
	sb, err := h.mgr.Get(sandboxID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	prev, had := h.bindings[connID]
	h.bindings[connID] = sandboxID
	evict := had && prev != sandboxID && !h.boundLocked(prev)
	h.mu.Unlock()

	if evict {
		h.shell.Forget(prev)
	}
	cwd := h.shell.Init(sandboxID)

	log.Info().Str("conn_id", connID).Str("sandbox_id", sandboxID).Msg("session: joined")
	return &types.JoinedEvent{SandboxID: sandboxID, Status: sb.Status, Cwd: cwd}, nil
}

// Leave removes the connection's binding. Shell state is evicted when no
// other connection remains bound to the sandbox.
func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	sandboxID, ok := h.bindings[connID]
	delete(h.bindings, connID)
	evict := ok && !h.boundLocked(sandboxID)
	h.mu.Unlock()

	if evict {
		h.shell.Forget(sandboxID)
	}
	if ok {
		log.Info().Str("conn_id", connID).Str("sandbox_id", sandboxID).Bool("evicted", evict).Msg("session: left")
	}
}

// Bound returns the sandbox a connection is bound to.
func (h *Hub) Bound(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.bindings[connID]
	return id, ok
}

// Connections returns the number of bound connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bindings)
}

func (h *Hub) boundLocked(sandboxID string) bool {
	for _, id := range h.bindings {
		if id == sandboxID {
			return true
		}
	}
	return false
}

// Handle processes one client message and returns the reply. Failures are
// reported as error messages; the connection stays usable.
func (h *Hub) Handle(ctx context.Context, connID string, msg types.Message) types.Message {
	if msg.Type == types.MsgJoinSandbox {
		var req types.JoinRequest
		if err := decode(msg, &req); err != nil {
			return errorReply(msg.Type, err)
		}
		joined, err := h.Join(connID, req.SandboxID)
		if err != nil {
			return errorReply(msg.Type, err)
		}
		return reply(types.MsgJoinedSandbox, joined)
	}

	sandboxID, ok := h.Bound(connID)
	if !ok {
		return reply(types.MsgError, types.ErrorEvent{Message: ErrNotJoined})
	}

	switch msg.Type {
	case types.MsgTerminalInput:
		var req types.TerminalRequest
		if err := decode(msg, &req); err != nil {
			return errorReply(msg.Type, err)
		}
		res, err := h.shell.Run(ctx, sandboxID, req.Input)
		if err != nil {
			return errorReply(msg.Type, err)
		}
		out := res.Output
		if out == "" {
			out = res.Error
		}
		return reply(types.MsgTerminalOutput, types.TerminalResponse{Output: out, Cwd: h.shell.Cwd(sandboxID)})

	case types.MsgFSOperation:
		var op types.FSOperation
		if err := decode(msg, &op); err != nil {
			return errorReply(msg.Type, err)
		}
		result, err := h.fsOperation(ctx, sandboxID, op)
		if err != nil {
			return errorReply(op.Type, err)
		}
		return reply(types.MsgFSResult, types.OperationResult{Operation: op.Type, Result: result})

	case types.MsgProcessOperation:
		var op types.ProcessOperation
		if err := decode(msg, &op); err != nil {
			return errorReply(msg.Type, err)
		}
		if op.Type != "spawn" {
			return errorReply(msg.Type, fmt.Errorf("unknown process operation: %s", op.Type))
		}
		res, err := h.shell.Spawn(ctx, sandboxID, op.Command, op.Args)
		if err != nil {
			return errorReply(op.Type, err)
		}
		return reply(types.MsgProcessResult, types.OperationResult{Operation: op.Type, Result: res})
	}

	return errorReply(msg.Type, fmt.Errorf("unknown message type: %s", msg.Type))
}

func (h *Hub) fsOperation(ctx context.Context, sandboxID string, op types.FSOperation) (any, error) {
	switch op.Type {
	case "writeFile":
		return h.files.WriteFile(ctx, sandboxID, op.Path, op.Contents)
	case "readFile":
		return h.files.ReadFile(ctx, sandboxID, op.Path)
	case "readdir":
		return h.files.ListDir(ctx, sandboxID, op.Path)
	case "mkdir":
		return h.files.MakeDir(ctx, sandboxID, op.Path)
	case "rm":
		return h.files.Remove(ctx, sandboxID, op.Path)
	case "upload":
		return h.files.Upload(ctx, sandboxID, types.UploadRequest{
			Filename:   op.Filename,
			TargetPath: op.TargetPath,
			Content:    op.Content,
			Encoding:   op.Encoding,
		})
	}
	return nil, fmt.Errorf("unknown fs operation: %s", op.Type)
}

func decode(msg types.Message, v any) error {
	if len(msg.Data) == 0 {
		return fmt.Errorf("missing data for %s", msg.Type)
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("invalid data for %s: %w", msg.Type, err)
	}
	return nil
}

func reply(typ string, v any) types.Message {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(types.ErrorEvent{Message: err.Error()})
		typ = types.MsgError
	}
	return types.Message{Type: typ, Data: data}
}

func errorReply(operation string, err error) types.Message {
	return reply(types.MsgError, types.ErrorEvent{Message: err.Error(), Operation: operation})
}
