package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensandbox/devbox/internal/api"
	"github.com/opensandbox/devbox/internal/sandbox"
	"github.com/opensandbox/devbox/internal/sandbox/sandboxtest"
	"github.com/opensandbox/devbox/internal/session"
	"github.com/opensandbox/devbox/pkg/types"
)

func newTestClient(t *testing.T) (*Client, *sandboxtest.Engine) {
	t.Helper()
	eng := sandboxtest.NewEngine()
	mgr := sandbox.NewManager(sandbox.ManagerConfig{Engine: eng})
	router := sandbox.NewRouter()
	mgr.OnDelete(router.Unregister)
	shell := sandbox.NewShell(mgr, router)
	files := sandbox.NewFiles(mgr, router)
	srv := api.NewServer(api.Services{
		Manager: mgr,
		Shell:   shell,
		Files:   files,
		Hub:     session.NewHub(mgr, shell, files),
	}, "test-key")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return NewClient(httpSrv.URL, "test-key"), eng
}

func TestClient_SandboxAndFiles(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()

	sb, err := c.CreateSandbox(ctx, types.SandboxConfig{
		Files: types.FileTree{"src": {Directory: types.FileTree{
			"main.js": {File: &types.FileContents{Contents: "main"}},
		}}},
	})
	if err != nil {
		t.Fatalf("CreateSandbox() error: %v", err)
	}

	list, err := c.ListSandboxes(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSandboxes() = %v, %v", list, err)
	}

	got, err := c.ReadFile(ctx, sb.ID, "/workspace/src/main.js")
	if err != nil || got != "main" {
		t.Errorf("ReadFile() = %q, %v", got, err)
	}

	if err := c.WriteFile(ctx, sb.ID, "/workspace/src/util.js", "util"); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if eng.Files["/workspace/src/util.js"] != "util" {
		t.Errorf("file not written")
	}

	entries, err := c.ListDir(ctx, sb.ID, "/workspace/src")
	if err != nil || len(entries) != 2 {
		t.Errorf("ListDir() = %v, %v", entries, err)
	}

	preview, err := c.PreviewURL(ctx, sb.ID)
	if err != nil || preview.Port != 49153 {
		t.Errorf("PreviewURL() = %+v, %v", preview, err)
	}

	if err := c.DeleteSandbox(ctx, sb.ID); err != nil {
		t.Fatalf("DeleteSandbox() error: %v", err)
	}

	_, err = c.GetSandbox(ctx, sb.ID)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestClient_CreateFailureCarriesSandbox(t *testing.T) {
	c, eng := newTestClient(t)
	eng.StartErr = errors.New("no space left")

	_, err := c.CreateSandbox(context.Background(), types.SandboxConfig{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Sandbox == nil || apiErr.Sandbox.Status != types.SandboxStatusError {
		t.Errorf("expected error-status sandbox, got %+v", apiErr.Sandbox)
	}
}

func TestClient_WrongKey(t *testing.T) {
	c, _ := newTestClient(t)
	c.apiKey = "wrong"

	_, err := c.ListSandboxes(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestSession_Workflow(t *testing.T) {
	c, eng := newTestClient(t)
	ctx := context.Background()
	eng.MkdirAll("/workspace/app")

	sb, err := c.CreateSandbox(ctx, types.SandboxConfig{})
	if err != nil {
		t.Fatalf("CreateSandbox() error: %v", err)
	}

	sess, err := c.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer sess.Close()

	_, err = sess.Terminal(ctx, "pwd")
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Message != "Not connected to a sandbox" {
		t.Errorf("expected not-joined error, got %v", err)
	}

	joined, err := sess.Join(ctx, sb.ID)
	if err != nil || joined.Cwd != "/workspace" {
		t.Fatalf("Join() = %+v, %v", joined, err)
	}

	out, err := sess.Terminal(ctx, "cd app")
	if err != nil || out.Cwd != "/workspace/app" {
		t.Errorf("Terminal(cd app) = %+v, %v", out, err)
	}

	var res types.PathResult
	if err := sess.FS(ctx, types.FSOperation{Type: "writeFile", Path: "/workspace/app/x", Contents: "x"}, &res); err != nil || !res.Success {
		t.Errorf("FS(writeFile) = %+v, %v", res, err)
	}

	spawned, err := sess.Spawn(ctx, "pwd", nil)
	if err != nil || spawned.Output != "/workspace/app" {
		t.Errorf("Spawn(pwd) = %+v, %v", spawned, err)
	}
}
