package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the devbox server.
type Config struct {
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"apiKey"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // "json" or "console"

	// Docker engine
	DockerHost string `yaml:"dockerHost"` // empty = DOCKER_HOST or the default socket

	// Sandbox containers
	Image          string `yaml:"image"`
	WorkDir        string `yaml:"workDir"`
	PublicHost     string `yaml:"publicHost"` // host used in control and preview URLs
	PortRangeStart int    `yaml:"portRangeStart"`
	PortRangeSize  int    `yaml:"portRangeSize"`
	AppPort        int    `yaml:"appPort"`
	MemoryMB       int    `yaml:"memoryMB"`
	CPUShares      int    `yaml:"cpuShares"`

	// NATS lifecycle events; empty disables publishing
	NATSURL string `yaml:"natsURL"`

	// In-memory command history entries kept per sandbox; 0 disables history
	HistoryLimit int `yaml:"historyLimit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		LogLevel:       "info",
		LogFormat:      "json",
		Image:          "node:alpine",
		WorkDir:        "/workspace",
		PublicHost:     "localhost",
		PortRangeStart: 8000,
		PortRangeSize:  1000,
		AppPort:        3000,
		MemoryMB:       512,
		CPUShares:      512,
		HistoryLimit:   200,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// DEVBOX_CONFIG if set, then environment variables (which take precedence).
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("DEVBOX_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if portStr := os.Getenv("DEVBOX_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DEVBOX_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	cfg.APIKey = envOrDefault("DEVBOX_API_KEY", cfg.APIKey)
	cfg.LogLevel = envOrDefault("DEVBOX_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOrDefault("DEVBOX_LOG_FORMAT", cfg.LogFormat)
	cfg.DockerHost = envOrDefault("DEVBOX_DOCKER_HOST", cfg.DockerHost)
	cfg.Image = envOrDefault("DEVBOX_IMAGE", cfg.Image)
	cfg.WorkDir = envOrDefault("DEVBOX_WORKDIR", cfg.WorkDir)
	cfg.PublicHost = envOrDefault("DEVBOX_PUBLIC_HOST", cfg.PublicHost)
	cfg.PortRangeStart = envOrDefaultInt("DEVBOX_PORT_RANGE_START", cfg.PortRangeStart)
	cfg.PortRangeSize = envOrDefaultInt("DEVBOX_PORT_RANGE_SIZE", cfg.PortRangeSize)
	cfg.AppPort = envOrDefaultInt("DEVBOX_APP_PORT", cfg.AppPort)
	cfg.MemoryMB = envOrDefaultInt("DEVBOX_MEMORY_MB", cfg.MemoryMB)
	cfg.CPUShares = envOrDefaultInt("DEVBOX_CPU_SHARES", cfg.CPUShares)
	cfg.NATSURL = envOrDefault("DEVBOX_NATS_URL", cfg.NATSURL)
	cfg.HistoryLimit = envOrDefaultInt("DEVBOX_HISTORY_LIMIT", cfg.HistoryLimit)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PortRangeSize <= 0 {
		return fmt.Errorf("invalid port range size %d", c.PortRangeSize)
	}
	if c.PortRangeStart <= 0 || c.PortRangeStart+c.PortRangeSize > 65536 {
		return fmt.Errorf("invalid port range %d+%d", c.PortRangeStart, c.PortRangeSize)
	}
	if c.WorkDir == "" || c.WorkDir[0] != '/' {
		return fmt.Errorf("workdir must be absolute, got %q", c.WorkDir)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
