// Package sqlitestore is a durable store adapter backed by a sqlite file. The
// document is kept as a saved automerge doc so that its history survives.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/grocery-sync/pkg/amdoc"
	"github.com/astromechza/grocery-sync/pkg/model"
)

const defaultStore = "default"

type Store struct {
	database *sql.DB
	actor    string
	logger   *slog.Logger

	mu  sync.Mutex
	doc *amdoc.Doc
	err error

	synced chan struct{}
}

// Open opens (creating if needed) the database at path and starts hydrating
// in the background. Watch InitialSyncComplete before calling Load.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{database: db, logger: logger, synced: make(chan struct{})}
	go s.hydrate()
	return s, nil
}

func (s *Store) Close() error {
	<-s.synced
	return s.database.Close()
}

func (s *Store) InitialSyncComplete() <-chan struct{} {
	return s.synced
}

func (s *Store) hydrate() {
	defer close(s.synced)
	ctx := context.Background()
	doc, err := s.init(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc, s.err = doc, err
	if err != nil {
		s.logger.Error("failed to hydrate store", "err", err)
	}
}

func (s *Store) init(ctx context.Context) (*amdoc.Doc, error) {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS stores (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		return nil, fmt.Errorf("failed to create stores table: %w", err)
	}
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS settings (
		key text not null primary key,
		value text not null
		)`,
	); err != nil {
		return nil, fmt.Errorf("failed to create settings table: %w", err)
	}

	var rawContent string
	if err := s.database.QueryRowContext(ctx, `SELECT content FROM stores WHERE id = ?`, defaultStore).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("no stored document, starting empty")
			return amdoc.New("")
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	doc, err := amdoc.Load(raw)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded stored document", "heads", doc.Automerge().Heads())
	return doc, nil
}

func (s *Store) ready() (*amdoc.Doc, error) {
	select {
	case <-s.synced:
	default:
		return nil, fmt.Errorf("store is still hydrating")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

func (s *Store) Load(ctx context.Context) (model.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.ready()
	if err != nil {
		return model.State{}, err
	}
	return doc.Read()
}

func (s *Store) Persist(ctx context.Context, st model.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.ready()
	if err != nil {
		return err
	}
	changed, err := doc.Write(st)
	if err != nil {
		return err
	} else if !changed {
		return nil
	}
	content := base64.StdEncoding.EncodeToString(doc.Save())
	if _, err := s.database.ExecContext(ctx,
		`INSERT INTO stores (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content`,
		defaultStore, content,
	); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	s.logger.Debug("persisted", "revision", st.Revision, "#doc", len(content))
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if _, err := s.readyLocked(); err != nil {
		return "", false, err
	}
	var value string
	if err := s.database.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query setting: %w", err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.readyLocked(); err != nil {
		return err
	}
	if _, err := s.database.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}
	return nil
}

func (s *Store) readyLocked() (*amdoc.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready()
}

// Doc returns a fork of the stored automerge document, for inspecting history.
func (s *Store) Doc() (*amdoc.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.ready()
	if err != nil {
		return nil, err
	}
	return amdoc.Load(doc.Save())
}
