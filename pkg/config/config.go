// Package config loads the YAML configuration shared by the grocery client and the relay.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log   Log   `yaml:"log"`
	Store Store `yaml:"store"`
	Sync  Sync  `yaml:"sync"`
	Relay Relay `yaml:"relay"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Store struct {
	// Driver is "sqlite" or "redis".
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

type Sync struct {
	AutoResume bool `yaml:"auto_resume"`
}

type Relay struct {
	Addr           string        `yaml:"addr"`
	Database       string        `yaml:"database"`
	BackupInterval time.Duration `yaml:"backup_interval"`
}

func Default() Config {
	return Config{
		Log:   Log{Level: "info"},
		Store: Store{Driver: "sqlite", Path: "grocery.sqlite3", Prefix: "grocery:"},
		Sync:  Sync{AutoResume: true},
		Relay: Relay{Addr: "localhost:8080", Database: "relay.sqlite3", BackupInterval: 5 * time.Second},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Relay.BackupInterval <= 0 {
		return fmt.Errorf("relay.backup_interval must be positive")
	}
	return nil
}

// ParseLevel accepts the slog level names, in any case and with offsets such
// as "debug+2", plus "warning". An empty level is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		s = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("failed to parse log level: %w", err)
	}
	return level, nil
}

// Logger builds a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Log.Level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
