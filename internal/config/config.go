// Package config loads ADB client settings from a .env file in the project
// root, overridden by environment variables — the same two-layer lookup
// the teacher used for its own device connection settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the operational knobs spec §5-§6 leave to the host: key
// storage location, transport timeout, and the optional TCP target.
type Config struct {
	KeyDir     string
	TimeoutMs  int
	TCPAddr    string
	StatusAddr string
}

var (
	loaded *Config
	ready  bool
)

// Load reads .env (if present) then applies environment variable
// overrides, caching the result for subsequent calls.
func Load() (*Config, error) {
	if loaded != nil && ready {
		return loaded, nil
	}

	cfg := &Config{
		KeyDir:     defaultKeyDir(),
		TimeoutMs:  10000,
		StatusAddr: "127.0.0.1:5038",
	}

	root := findProjectRoot()
	if data, err := os.ReadFile(filepath.Join(root, ".env")); err == nil {
		parseEnvFile(string(data), cfg)
	}

	if v := os.Getenv("ADB_KEY_DIR"); v != "" {
		cfg.KeyDir = v
	}
	if v := os.Getenv("ADB_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutMs = n
		}
	}
	if v := os.Getenv("ADB_TCP_ADDR"); v != "" {
		cfg.TCPAddr = v
	}
	if v := os.Getenv("ADB_STATUS_ADDR"); v != "" {
		cfg.StatusAddr = v
	}

	loaded = cfg
	ready = true
	return cfg, nil
}

// Timeout returns the configured transport read timeout as a Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func parseEnvFile(content string, cfg *Config) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "ADB_KEY_DIR":
			cfg.KeyDir = value
		case "ADB_TIMEOUT_MS":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.TimeoutMs = n
			}
		case "ADB_TCP_ADDR":
			cfg.TCPAddr = value
		case "ADB_STATUS_ADDR":
			cfg.StatusAddr = value
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	// First check CWD for .env file
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	// Then walk up looking for go.mod
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

func defaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".android"
	}
	return filepath.Join(home, ".android")
}
