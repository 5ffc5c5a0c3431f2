package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLoaded() {
	loaded = nil
	ready = false
}

func TestParseEnvFileSetsKnownKeys(t *testing.T) {
	cfg := &Config{}
	parseEnvFile("ADB_KEY_DIR=/tmp/keys\nADB_TIMEOUT_MS=2500\nADB_TCP_ADDR=127.0.0.1:5555\n", cfg)

	assert.Equal(t, "/tmp/keys", cfg.KeyDir)
	assert.Equal(t, 2500, cfg.TimeoutMs)
	assert.Equal(t, "127.0.0.1:5555", cfg.TCPAddr)
}

func TestParseEnvFileIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := &Config{KeyDir: "original"}
	parseEnvFile("# a comment\n\nADB_KEY_DIR=/tmp/keys\n", cfg)
	assert.Equal(t, "/tmp/keys", cfg.KeyDir)
}

func TestParseEnvFileIgnoresMalformedTimeout(t *testing.T) {
	cfg := &Config{TimeoutMs: 10000}
	parseEnvFile("ADB_TIMEOUT_MS=not-a-number\n", cfg)
	assert.Equal(t, 10000, cfg.TimeoutMs)
}

func TestLoadAppliesEnvVarOverOptions(t *testing.T) {
	resetLoaded()
	t.Setenv("ADB_KEY_DIR", "")
	t.Setenv("ADB_TIMEOUT_MS", "1234")
	t.Setenv("ADB_TCP_ADDR", "")
	t.Setenv("ADB_STATUS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.TimeoutMs)

	resetLoaded()
}

func TestLoadCachesResult(t *testing.T) {
	resetLoaded()
	t.Setenv("ADB_TIMEOUT_MS", "7000")
	first, err := Load()
	require.NoError(t, err)

	t.Setenv("ADB_TIMEOUT_MS", "1")
	second, err := Load()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 7000, second.TimeoutMs, "second Load call must return the cached Config, not re-read env")

	resetLoaded()
}

func TestTimeoutConvertsMillisecondsToDuration(t *testing.T) {
	cfg := &Config{TimeoutMs: 500}
	assert.Equal(t, 500_000_000, int(cfg.Timeout()))
}

func TestDefaultKeyDirJoinsHomeWithDotAndroid(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".android"), defaultKeyDir())
}

func TestFindProjectRootPrefersCwdEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ADB_TIMEOUT_MS=1\n"), 0o644))

	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(orig)

	assert.Equal(t, dir, findProjectRoot())
}
