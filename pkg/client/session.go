package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensandbox/devbox/pkg/types"
)

// SessionError is an error message sent by the server.
type SessionError struct {
	Message   string
	Operation string
}

func (e *SessionError) Error() string {
	if e.Operation == "" {
		return e.Message
	}
	return e.Operation + ": " + e.Message
}

// Session is a websocket connection speaking the session message protocol.
// Requests are answered in order, so calls are serialized.
type Session struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial opens a session websocket.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial session: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial session: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close closes the session. The server drops the binding.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

// Join binds the session to a sandbox.
func (s *Session) Join(ctx context.Context, sandboxID string) (*types.JoinedEvent, error) {
	var ev types.JoinedEvent
	if err := s.call(ctx, types.MsgJoinSandbox, types.JoinRequest{SandboxID: sandboxID}, types.MsgJoinedSandbox, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Terminal sends one line of shell input.
func (s *Session) Terminal(ctx context.Context, input string) (*types.TerminalResponse, error) {
	var res types.TerminalResponse
	if err := s.call(ctx, types.MsgTerminalInput, types.TerminalRequest{Input: input}, types.MsgTerminalOutput, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// FS runs a filesystem operation and decodes its result into out.
func (s *Session) FS(ctx context.Context, op types.FSOperation, out any) error {
	var res struct {
		Operation string          `json:"operation"`
		Result    json.RawMessage `json:"result"`
	}
	if err := s.call(ctx, types.MsgFSOperation, op, types.MsgFSResult, &res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(res.Result, out)
}

// Spawn runs a command through the session.
func (s *Session) Spawn(ctx context.Context, command string, args []string) (*types.SpawnResult, error) {
	var res struct {
		Operation string            `json:"operation"`
		Result    types.SpawnResult `json:"result"`
	}
	op := types.ProcessOperation{Type: "spawn", Command: command, Args: args}
	if err := s.call(ctx, types.MsgProcessOperation, op, types.MsgProcessResult, &res); err != nil {
		return nil, err
	}
	return &res.Result, nil
}

func (s *Session) call(ctx context.Context, typ string, data any, wantType string, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	if err := s.conn.WriteJSON(types.Message{Type: typ, Data: raw}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	var reply types.Message
	if err := s.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	if reply.Type == types.MsgError {
		var ev types.ErrorEvent
		if err := json.Unmarshal(reply.Data, &ev); err != nil {
			return fmt.Errorf("decode error reply: %w", err)
		}
		return &SessionError{Message: ev.Message, Operation: ev.Operation}
	}
	if reply.Type != wantType {
		return errors.New("unexpected reply type " + reply.Type)
	}
	return json.Unmarshal(reply.Data, out)
}
