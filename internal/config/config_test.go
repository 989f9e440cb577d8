package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Clear env to test defaults
	for _, k := range []string{"DEVBOX_CONFIG", "DEVBOX_PORT", "DEVBOX_API_KEY", "DEVBOX_IMAGE", "DEVBOX_WORKDIR"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Image != "node:alpine" {
		t.Errorf("expected image node:alpine, got %s", cfg.Image)
	}
	if cfg.WorkDir != "/workspace" {
		t.Errorf("expected workdir /workspace, got %s", cfg.WorkDir)
	}
	if cfg.PortRangeStart != 8000 || cfg.PortRangeSize != 1000 {
		t.Errorf("unexpected port range %d+%d", cfg.PortRangeStart, cfg.PortRangeSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEVBOX_CONFIG", "")
	t.Setenv("DEVBOX_PORT", "9999")
	t.Setenv("DEVBOX_API_KEY", "test-key")
	t.Setenv("DEVBOX_MEMORY_MB", "1024")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.APIKey != "test-key" {
		t.Errorf("expected API key test-key, got %s", cfg.APIKey)
	}
	if cfg.MemoryMB != 1024 {
		t.Errorf("expected memory 1024, got %d", cfg.MemoryMB)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	t.Setenv("DEVBOX_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devbox.yaml")
	data := []byte("image: node:20-alpine\npublicHost: devbox.local\nhistoryLimit: 10\nport: 7000\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DEVBOX_CONFIG", path)
	t.Setenv("DEVBOX_PORT", "")
	t.Setenv("DEVBOX_IMAGE", "")
	t.Setenv("DEVBOX_PUBLIC_HOST", "override.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Image != "node:20-alpine" {
		t.Errorf("expected image from file, got %s", cfg.Image)
	}
	if cfg.Port != 7000 {
		t.Errorf("expected port from file, got %d", cfg.Port)
	}
	if cfg.PublicHost != "override.local" {
		t.Errorf("expected env to override file, got %s", cfg.PublicHost)
	}
	if cfg.HistoryLimit != 10 {
		t.Errorf("expected history limit 10, got %d", cfg.HistoryLimit)
	}
	if cfg.WorkDir != "/workspace" {
		t.Errorf("expected default workdir kept, got %s", cfg.WorkDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("DEVBOX_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsRelativeWorkDir(t *testing.T) {
	t.Setenv("DEVBOX_CONFIG", "")
	t.Setenv("DEVBOX_WORKDIR", "workspace")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for relative workdir")
	}
}
