package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/astromechza/grocery-sync/pkg/session"
	"github.com/astromechza/grocery-sync/pkg/store"
)

var errNoDialer = errors.New("no transport configured")

type noDialer struct{}

func (noDialer) Dial(context.Context, session.Config) (session.Conn, error) {
	return nil, errNoDialer
}

// InitSync starts syncing the document with room at url. The pair is stored
// once the first connection succeeds.
func (e *Engine) InitSync(ctx context.Context, room, url string) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	if room == "" || url == "" {
		return fmt.Errorf("room and url are required")
	}
	e.session.InitSync(room, url)
	return nil
}

func (e *Engine) PauseSync(ctx context.Context) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	e.session.Pause()
	return nil
}

func (e *Engine) ResumeSync(ctx context.Context) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	e.session.Resume()
	return nil
}

func (e *Engine) SyncState() session.State {
	if !e.ready.Load() {
		return session.State{}
	}
	return e.session.State()
}

// SaveSyncConfig implements session.SettingsWriter.
func (e *Engine) SaveSyncConfig(ctx context.Context, room, url string) error {
	if err := e.adapter.SetSetting(ctx, store.SettingRoom, room); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	if err := e.adapter.SetSetting(ctx, store.SettingURL, url); err != nil {
		return fmt.Errorf("failed to store url: %w", err)
	}
	e.cmdMu.Lock()
	e.settings.Sync = &store.SyncConfig{Room: room, URL: url}
	e.cmdMu.Unlock()
	return nil
}

func (e *Engine) Settings() (store.Settings, error) {
	if !e.ready.Load() {
		return store.Settings{}, ErrNotInitialized
	}
	e.cmdMu.Lock()
	defer e.cmdMu.Unlock()
	return e.settings, nil
}

func (e *Engine) SetTheme(ctx context.Context, theme string) error {
	if !e.ready.Load() {
		return ErrNotInitialized
	}
	t, err := store.ParseTheme(theme)
	if err != nil {
		return err
	}
	if err := e.adapter.SetSetting(ctx, store.SettingTheme, string(t)); err != nil {
		return fmt.Errorf("failed to store theme: %w", err)
	}
	e.cmdMu.Lock()
	e.settings.Theme = t
	e.cmdMu.Unlock()
	return nil
}
