package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grocery.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, nil, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	assert.Equal(t, nil, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: debug
store:
  driver: redis
  redis_url: redis://localhost:6379/0
sync:
  auto_resume: false
relay:
  backup_interval: 30s
`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, "grocery:", cfg.Store.Prefix)
	assert.Equal(t, false, cfg.Sync.AutoResume)
	assert.Equal(t, 30*time.Second, cfg.Relay.BackupInterval)
	assert.Equal(t, "localhost:8080", cfg.Relay.Addr)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for _, content := range []string{
		"store:\n  driver: postgres\n",
		"store:\n  driver: redis\n",
		"log:\n  level: loud\n",
		"relay:\n  backup_interval: 0s\n",
		"log: [",
	} {
		_, err := Load(writeConfig(t, content))
		assert.NotEqual(t, nil, err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Level = "warn"
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.Equal(t, false, strings.Contains(buf.String(), "hidden"))
	assert.Equal(t, true, strings.Contains(buf.String(), "key=value"))

	level, err := ParseLevel("ERROR")
	assert.Equal(t, nil, err)
	assert.Equal(t, slog.LevelError, level)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"info+2":  slog.LevelInfo + 2,
	} {
		level, err := ParseLevel(in)
		assert.Equal(t, nil, err)
		assert.Equal(t, want, level)
	}
	_, err := ParseLevel("loud")
	assert.NotEqual(t, nil, err)
}
