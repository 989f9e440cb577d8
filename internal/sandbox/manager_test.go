package sandbox

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/opensandbox/devbox/internal/docker"
	"github.com/opensandbox/devbox/internal/sandbox/sandboxtest"
	"github.com/opensandbox/devbox/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *sandboxtest.Engine) {
	t.Helper()
	eng := sandboxtest.NewEngine()
	return NewManager(ManagerConfig{Engine: eng}), eng
}

func TestManager_CreateRunning(t *testing.T) {
	m, eng := newTestManager(t)

	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sb.Status != types.SandboxStatusRunning {
		t.Errorf("expected status running, got %s", sb.Status)
	}
	if sb.Port < defaultPortRangeStart || sb.Port >= defaultPortRangeStart+defaultPortRangeSize {
		t.Errorf("port %d outside allocation range", sb.Port)
	}
	if want := "ws://localhost:" + strconv.Itoa(sb.Port); sb.ControlURL != want {
		t.Errorf("expected control URL %s, got %s", want, sb.ControlURL)
	}
	if sb.PreviewPort != 49153 || sb.PreviewURL != "http://localhost:49153" {
		t.Errorf("unexpected preview: port=%d url=%s", sb.PreviewPort, sb.PreviewURL)
	}

	if len(eng.Created) != 1 {
		t.Fatalf("expected 1 container created, got %d", len(eng.Created))
	}
	cfg := eng.Created[0]
	if cfg.Image != "node:alpine" || cfg.WorkingDir != "/workspace" {
		t.Errorf("unexpected container config: image=%s workdir=%s", cfg.Image, cfg.WorkingDir)
	}
	if cfg.Labels[labelID] != sb.ID {
		t.Errorf("expected label %s=%s, got %q", labelID, sb.ID, cfg.Labels[labelID])
	}
	if cfg.Env["WEBSOCKET_PORT"] != strconv.Itoa(sb.Port) {
		t.Errorf("WEBSOCKET_PORT = %q", cfg.Env["WEBSOCKET_PORT"])
	}
	if hp, ok := cfg.Publish[strconv.Itoa(sb.Port)+"/tcp"]; !ok || hp != sb.Port {
		t.Errorf("control port not published 1:1: %v", cfg.Publish)
	}
	if hp, ok := cfg.Publish["3000/tcp"]; !ok || hp != 0 {
		t.Errorf("app port not published to an engine-assigned port: %v", cfg.Publish)
	}
}

func TestManager_CreateWithoutPreviewPort(t *testing.T) {
	m, eng := newTestManager(t)
	eng.PreviewPorts = map[string]int{}

	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sb.Status != types.SandboxStatusRunning {
		t.Errorf("expected status running, got %s", sb.Status)
	}
	if sb.PreviewPort != 0 || sb.PreviewURL != "" {
		t.Errorf("expected no preview, got port=%d url=%q", sb.PreviewPort, sb.PreviewURL)
	}
}

func TestManager_CreateSeedsFiles(t *testing.T) {
	m, eng := newTestManager(t)

	tree := types.FileTree{
		"package.json": {File: &types.FileContents{Contents: `{"name":"app"}`}},
		"src": {Directory: types.FileTree{
			"index.js": {File: &types.FileContents{Contents: "console.log('hi')"}},
		}},
	}
	if _, err := m.Create(context.Background(), types.SandboxConfig{Files: tree}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if got := eng.Files["/workspace/package.json"]; got != "{\"name\":\"app\"}\n" {
		t.Errorf("package.json = %q", got)
	}
	if !eng.Dirs["/workspace/src"] {
		t.Error("expected /workspace/src to exist")
	}
	if got := eng.Files["/workspace/src/index.js"]; got != "console.log('hi')\n" {
		t.Errorf("index.js = %q", got)
	}
}

func TestManager_CreateFailureMarksError(t *testing.T) {
	m, eng := newTestManager(t)
	eng.StartErr = errEngineDown

	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err == nil {
		t.Fatal("expected error")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Op != "start" {
		t.Errorf("expected start EngineError, got %v", err)
	}
	if sb == nil || sb.Status != types.SandboxStatusError {
		t.Fatalf("expected error record, got %+v", sb)
	}

	got, err := m.Get(sb.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != types.SandboxStatusError {
		t.Errorf("expected registry status error, got %s", got.Status)
	}
	if len(eng.Removed) != 1 {
		t.Errorf("expected failed container to be removed, got %v", eng.Removed)
	}
}

func TestManager_CreateSeedFailure(t *testing.T) {
	m, eng := newTestManager(t)
	eng.FailWrites = true

	tree := types.FileTree{"a.txt": {File: &types.FileContents{Contents: "x"}}}
	sb, err := m.Create(context.Background(), types.SandboxConfig{Files: tree})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if sb.Status != types.SandboxStatusError {
		t.Errorf("expected status error, got %s", sb.Status)
	}
}

func TestManager_CreateInvalidTree(t *testing.T) {
	m, eng := newTestManager(t)

	tree := types.FileTree{"../escape": {File: &types.FileContents{Contents: "x"}}}
	_, err := m.Create(context.Background(), types.SandboxConfig{Files: tree})
	if !errors.Is(err, ErrInvalidFileTree) {
		t.Fatalf("expected ErrInvalidFileTree, got %v", err)
	}
	if m.Count() != 0 || len(eng.Created) != 0 {
		t.Error("invalid tree should not register or create anything")
	}
}

func TestManager_UniqueIDs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		sb, err := m.Create(ctx, types.SandboxConfig{})
		if err != nil {
			t.Fatalf("Create() error: %v", err)
		}
		if seen[sb.ID] {
			t.Fatalf("duplicate id %s", sb.ID)
		}
		seen[sb.ID] = true
		if i%2 == 0 {
			if err := m.Delete(ctx, sb.ID); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}
		}
	}
}

func TestManager_DeleteUnknown(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Create(context.Background(), types.SandboxConfig{}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	err := m.Delete(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("expected ErrSandboxNotFound, got %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("expected registry unchanged, got %d sandboxes", m.Count())
	}
}

func TestManager_Delete(t *testing.T) {
	m, eng := newTestManager(t)
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	var hooked string
	m.OnDelete(func(id string) { hooked = id })

	if err := m.Delete(context.Background(), sb.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := m.Get(sb.ID); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("expected sandbox gone, got %v", err)
	}
	if len(eng.Removed) != 1 || eng.Removed[0] != "c0001" {
		t.Errorf("expected container c0001 removed, got %v", eng.Removed)
	}
	if hooked != sb.ID {
		t.Errorf("expected delete hook for %s, got %q", sb.ID, hooked)
	}
}

func TestManager_DeleteLocatesContainerByLabel(t *testing.T) {
	m, eng := newTestManager(t)
	id := "0b7c9a52-2f1e-4c57-9a43-1f1f6f9d2c11"
	m.sandboxes[id] = &record{sb: types.Sandbox{ID: id, Status: types.SandboxStatusCreating}}
	eng.Listed = append(eng.Listed,
		dockerEntry("other", "devbox-unrelated", ""),
		dockerEntry("cX", "devbox-"+id, id),
	)

	if err := m.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if len(eng.Removed) != 1 || eng.Removed[0] != "cX" {
		t.Errorf("expected cX removed, got %v", eng.Removed)
	}
}

func TestManager_DeleteLocatesContainerByName(t *testing.T) {
	m, eng := newTestManager(t)
	id := "0b7c9a52-2f1e-4c57-9a43-1f1f6f9d2c11"
	m.sandboxes[id] = &record{sb: types.Sandbox{ID: id, Status: types.SandboxStatusCreating}}
	eng.Listed = append(eng.Listed, dockerEntry("cY", "devbox-"+id[:12], ""))

	if err := m.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if len(eng.Removed) != 1 || eng.Removed[0] != "cY" {
		t.Errorf("expected cY removed, got %v", eng.Removed)
	}
}

func TestManager_PreviewPort(t *testing.T) {
	m, eng := newTestManager(t)
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	port, err := m.PreviewPort(context.Background(), sb.ID)
	if err != nil || port != 49153 {
		t.Errorf("PreviewPort() = %d, %v", port, err)
	}

	eng.PreviewPorts = map[string]int{}
	if _, err := m.PreviewPort(context.Background(), sb.ID); !errors.Is(err, ErrPreviewUnavailable) {
		t.Errorf("expected ErrPreviewUnavailable, got %v", err)
	}

	if _, err := m.PreviewPort(context.Background(), "nonexistent"); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("expected ErrSandboxNotFound, got %v", err)
	}
}

func TestManager_List(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < 3; i++ {
		if _, err := m.Create(context.Background(), types.SandboxConfig{}); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 sandboxes, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			t.Errorf("list not ordered by creation time")
		}
	}
}

func TestManager_ExecUnknownSandbox(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Exec(context.Background(), "nonexistent", []string{"ls"}); !errors.Is(err, ErrSandboxNotFound) {
		t.Errorf("expected ErrSandboxNotFound, got %v", err)
	}
}

func TestManager_ExecEngineRejection(t *testing.T) {
	m, eng := newTestManager(t)
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	eng.ExecErr = errEngineDown

	res, err := m.Exec(context.Background(), sb.ID, []string{"ls"})
	if err != nil {
		t.Fatalf("expected rejection as data, got error %v", err)
	}
	if res.Output != "" || !strings.Contains(res.Error, "engine unavailable") {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestManager_ExecFragmentedStream(t *testing.T) {
	m, eng := newTestManager(t)
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	eng.Chunk = 3

	res, err := m.Exec(context.Background(), sb.ID, []string{"sh", "-c", "echo hello world && exit 3"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Output != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", res.Output)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestManager_ExecKeepsOutputWhenExitUnknown(t *testing.T) {
	m, eng := newTestManager(t)
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	eng.ExitUnknown = true

	res, err := m.Exec(context.Background(), sb.ID, []string{"sh", "-c", "echo built ok"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Output != "built ok" {
		t.Errorf("expected output kept, got %q", res.Output)
	}
	if res.ExitCode != -1 || res.Error != "" {
		t.Errorf("expected exit code -1 without error, got %+v", res)
	}
}

func TestManager_ExecRecordsHistory(t *testing.T) {
	h, err := OpenHistory(10)
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	eng := sandboxtest.NewEngine()
	m := NewManager(ManagerConfig{Engine: eng, History: h})
	sb, err := m.Create(context.Background(), types.SandboxConfig{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := m.Exec(context.Background(), sb.ID, []string{"sh", "-c", "pwd"}); err != nil {
		t.Fatalf("Exec() error: %v", err)
	}

	entries, err := h.Recent(sb.ID, 5)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Command != "sh -c pwd" || entries[0].Op != "exec" {
		t.Errorf("unexpected history %+v", entries)
	}

	if err := m.Delete(context.Background(), sb.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	entries, _ = h.Recent(sb.ID, 5)
	if len(entries) != 0 {
		t.Errorf("expected history dropped on delete, got %d entries", len(entries))
	}
}

// hookEngine runs a callback before creating or starting a container.
type hookEngine struct {
	*sandboxtest.Engine
	beforeCreate func()
	beforeStart  func()
}

func (e *hookEngine) CreateContainer(ctx context.Context, cfg docker.ContainerConfig) (string, error) {
	if e.beforeCreate != nil {
		e.beforeCreate()
	}
	return e.Engine.CreateContainer(ctx, cfg)
}

func (e *hookEngine) StartContainer(ctx context.Context, id string) error {
	if e.beforeStart != nil {
		e.beforeStart()
	}
	return e.Engine.StartContainer(ctx, id)
}

func TestManager_DeleteWhileCreating(t *testing.T) {
	for _, stage := range []string{"create", "start"} {
		t.Run(stage, func(t *testing.T) {
			eng := &hookEngine{Engine: sandboxtest.NewEngine()}
			m := NewManager(ManagerConfig{Engine: eng})

			var deleteErrs []error
			deleteAll := func() {
				for _, sb := range m.List() {
					deleteErrs = append(deleteErrs, m.Delete(context.Background(), sb.ID))
				}
			}
			if stage == "create" {
				eng.beforeCreate = deleteAll
			} else {
				eng.beforeStart = deleteAll
			}

			sb, err := m.Create(context.Background(), types.SandboxConfig{
				Files: types.FileTree{"a.txt": {File: &types.FileContents{Contents: "a"}}},
			})
			if !errors.Is(err, ErrSandboxNotFound) {
				t.Fatalf("expected ErrSandboxNotFound, got %v", err)
			}
			if sb != nil {
				t.Errorf("expected no sandbox, got %+v", sb)
			}
			if len(deleteErrs) != 1 || deleteErrs[0] != nil {
				t.Errorf("expected one successful delete, got %v", deleteErrs)
			}
			if m.Count() != 0 {
				t.Errorf("expected empty registry, got %d", m.Count())
			}
			removed := false
			for _, id := range eng.Removed {
				if id == "c0001" {
					removed = true
				}
			}
			if !removed {
				t.Errorf("expected the new container removed, got %v", eng.Removed)
			}
		})
	}
}
