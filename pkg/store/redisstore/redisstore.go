// Package redisstore is a durable store adapter backed by redis, for devices
// that share a redis instance rather than a local disk.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/astromechza/grocery-sync/pkg/model"
)

type Store struct {
	client *redis.Client
	prefix string

	err    error
	synced chan struct{}
}

// New parses redisURL and checks the connection in the background.
func New(redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), prefix), nil
}

func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "grocery:"
	}
	s := &Store{client: client, prefix: prefix, synced: make(chan struct{})}
	go s.hydrate()
	return s
}

func (s *Store) hydrate() {
	defer close(s.synced)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.err = fmt.Errorf("failed to connect to redis: %w", err)
	}
}

func (s *Store) InitialSyncComplete() <-chan struct{} {
	return s.synced
}

func (s *Store) stateKey() string {
	return s.prefix + "state"
}

func (s *Store) settingsKey() string {
	return s.prefix + "settings"
}

func (s *Store) ready() error {
	select {
	case <-s.synced:
		return s.err
	default:
		return fmt.Errorf("store is still hydrating")
	}
}

func (s *Store) Load(ctx context.Context) (model.State, error) {
	if err := s.ready(); err != nil {
		return model.State{}, err
	}
	raw, err := s.client.Get(ctx, s.stateKey()).Result()
	if errors.Is(err, redis.Nil) {
		return model.NewState(), nil
	}
	if err != nil {
		return model.State{}, fmt.Errorf("failed to load state: %w", err)
	}
	st := model.NewState()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.State{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if st.Document.Items == nil {
		st.Document.Items = map[string]model.Item{}
	}
	return st, nil
}

func (s *Store) Persist(ctx context.Context, st model.State) error {
	if err := s.ready(); err != nil {
		return err
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.stateKey(), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	if err := s.ready(); err != nil {
		return "", false, err
	}
	v, err := s.client.HGet(ctx, s.settingsKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting: %w", err)
	}
	return v, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.settingsKey(), key, value).Err(); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
