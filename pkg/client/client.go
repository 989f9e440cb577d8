// Package client is a Go client for the devbox HTTP API and session protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opensandbox/devbox/pkg/types"
)

// Client is an HTTP client for the devbox API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// APIError is a non-success API response.
type APIError struct {
	StatusCode int
	Message    string
	// Sandbox is set when a create failed after the sandbox was registered.
	Sandbox *types.Sandbox
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a new devbox API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Sandbox creation pulls packages inside the container.
			Timeout: 5 * time.Minute,
		},
	}
}

// doRequest performs an HTTP request with API key authentication and decodes
// a JSON response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		var er types.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Sandbox = er.Sandbox
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sandboxPath(sandboxID, suffix string) string {
	return "/sandboxes/" + url.PathEscape(sandboxID) + suffix
}

// CreateSandbox creates a new sandbox seeded with cfg.Files.
func (c *Client) CreateSandbox(ctx context.Context, cfg types.SandboxConfig) (*types.Sandbox, error) {
	var sb types.Sandbox
	if err := c.doRequest(ctx, http.MethodPost, "/sandboxes", cfg, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// ListSandboxes lists all sandboxes.
func (c *Client) ListSandboxes(ctx context.Context) ([]types.Sandbox, error) {
	var res types.SandboxListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/sandboxes", nil, &res); err != nil {
		return nil, err
	}
	return res.Sandboxes, nil
}

// GetSandbox gets a sandbox by ID.
func (c *Client) GetSandbox(ctx context.Context, sandboxID string) (*types.Sandbox, error) {
	var sb types.Sandbox
	if err := c.doRequest(ctx, http.MethodGet, sandboxPath(sandboxID, ""), nil, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// DeleteSandbox stops and removes a sandbox.
func (c *Client) DeleteSandbox(ctx context.Context, sandboxID string) error {
	return c.doRequest(ctx, http.MethodDelete, sandboxPath(sandboxID, ""), nil, nil)
}

// PreviewURL returns the sandbox's application preview URL.
func (c *Client) PreviewURL(ctx context.Context, sandboxID string) (*types.PreviewURLResponse, error) {
	var res types.PreviewURLResponse
	if err := c.doRequest(ctx, http.MethodGet, sandboxPath(sandboxID, "/url"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadFile reads a file from the sandbox.
func (c *Client) ReadFile(ctx context.Context, sandboxID, path string) (string, error) {
	var res types.FileContentsResult
	q := "?path=" + url.QueryEscape(path)
	if err := c.doRequest(ctx, http.MethodGet, sandboxPath(sandboxID, "/files")+q, nil, &res); err != nil {
		return "", err
	}
	return res.Contents, nil
}

// WriteFile writes a file in the sandbox. The parent directory must exist.
func (c *Client) WriteFile(ctx context.Context, sandboxID, path, contents string) error {
	req := types.WriteFileRequest{Path: path, Contents: contents}
	return c.doRequest(ctx, http.MethodPost, sandboxPath(sandboxID, "/files"), req, nil)
}

// ListDir lists a directory in the sandbox.
func (c *Client) ListDir(ctx context.Context, sandboxID, path string) ([]types.EntryInfo, error) {
	var res types.DirListing
	q := "?path=" + url.QueryEscape(path)
	if err := c.doRequest(ctx, http.MethodGet, sandboxPath(sandboxID, "/files/list")+q, nil, &res); err != nil {
		return nil, err
	}
	return res.Files, nil
}

// MakeDir creates a directory and its parents in the sandbox.
func (c *Client) MakeDir(ctx context.Context, sandboxID, path string) error {
	return c.doRequest(ctx, http.MethodPost, sandboxPath(sandboxID, "/files/mkdir"), types.PathRequest{Path: path}, nil)
}

// RemoveFile recursively removes a path in the sandbox.
func (c *Client) RemoveFile(ctx context.Context, sandboxID, path string) error {
	q := "?path=" + url.QueryEscape(path)
	return c.doRequest(ctx, http.MethodDelete, sandboxPath(sandboxID, "/files")+q, nil, nil)
}

// Upload writes uploaded content, creating the target's parent directory.
func (c *Client) Upload(ctx context.Context, sandboxID string, req types.UploadRequest) (*types.PathResult, error) {
	var res types.PathResult
	if err := c.doRequest(ctx, http.MethodPost, sandboxPath(sandboxID, "/files/upload"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Spawn runs a command to completion in the sandbox's current directory.
func (c *Client) Spawn(ctx context.Context, sandboxID, command string, args []string) (*types.SpawnResult, error) {
	var res types.SpawnResult
	req := types.SpawnRequest{Command: command, Args: args}
	if err := c.doRequest(ctx, http.MethodPost, sandboxPath(sandboxID, "/spawn"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Terminal sends one line of shell input.
func (c *Client) Terminal(ctx context.Context, sandboxID, input string) (*types.TerminalResponse, error) {
	var res types.TerminalResponse
	if err := c.doRequest(ctx, http.MethodPost, sandboxPath(sandboxID, "/terminal"), types.TerminalRequest{Input: input}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns the sandbox's most recent commands, newest first.
func (c *Client) History(ctx context.Context, sandboxID string, limit int) ([]types.HistoryEntry, error) {
	var res []types.HistoryEntry
	path := sandboxPath(sandboxID, "/history")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
