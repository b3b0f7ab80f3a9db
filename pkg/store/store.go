// Package store defines the durable store adapter the engine persists through,
// the settings kept alongside the document, and an in-memory adapter.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/astromechza/grocery-sync/pkg/model"
)

type Adapter interface {
	// Load returns the persisted state, or an empty state on first use.
	Load(ctx context.Context) (model.State, error)
	// Persist replaces the persisted state.
	Persist(ctx context.Context, st model.State) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	// InitialSyncComplete is closed once the adapter has hydrated from its backing storage.
	InitialSyncComplete() <-chan struct{}
}

const (
	SettingTheme    = "theme"
	SettingRoom     = "room"
	SettingURL      = "url"
	SettingVersion  = "version"
	SettingClientID = "clientId"
)

type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func ParseTheme(s string) (Theme, error) {
	switch t := Theme(s); t {
	case ThemeAuto, ThemeLight, ThemeDark:
		return t, nil
	default:
		return "", fmt.Errorf("unknown theme %q", s)
	}
}

const SchemaVersion = 1

type SyncConfig struct {
	Room string
	URL  string
}

// Settings is everything read from the adapter at startup. Sync is nil
// unless both room and url are stored.
type Settings struct {
	Theme    Theme
	Sync     *SyncConfig
	Version  int
	ClientID string
}

func DefaultSettings() Settings {
	return Settings{Theme: ThemeAuto, Version: SchemaVersion}
}

// LoadSettings reads every setting in one pass and fills in defaults.
func LoadSettings(ctx context.Context, a Adapter) (Settings, error) {
	out := DefaultSettings()
	values := map[string]string{}
	for _, key := range []string{SettingTheme, SettingRoom, SettingURL, SettingVersion, SettingClientID} {
		v, ok, err := a.GetSetting(ctx, key)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read setting %s: %w", key, err)
		}
		if ok {
			values[key] = v
		}
	}
	if v, ok := values[SettingTheme]; ok {
		if t, err := ParseTheme(v); err == nil {
			out.Theme = t
		}
	}
	if v, ok := values[SettingVersion]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.Version = n
		}
	}
	if values[SettingRoom] != "" && values[SettingURL] != "" {
		out.Sync = &SyncConfig{Room: values[SettingRoom], URL: values[SettingURL]}
	}
	out.ClientID = values[SettingClientID]
	return out, nil
}
