package store

import (
	"context"
	"sync"

	"github.com/astromechza/grocery-sync/pkg/model"
)

// Memory is an Adapter that keeps everything in process. Hydration completes
// when Hydrated is called, which makes it handy for exercising late hydration.
type Memory struct {
	mu       sync.Mutex
	state    model.State
	settings map[string]string
	persists int
	fail     error

	once   sync.Once
	synced chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		state:    model.NewState(),
		settings: map[string]string{},
		synced:   make(chan struct{}),
	}
}

// NewHydratedMemory returns a Memory whose initial sync has already completed.
func NewHydratedMemory() *Memory {
	m := NewMemory()
	m.Hydrated()
	return m
}

func (m *Memory) Hydrated() {
	m.once.Do(func() { close(m.synced) })
}

// FailWith makes every later Persist return err; nil clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) Persists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persists
}

func (m *Memory) InitialSyncComplete() <-chan struct{} {
	return m.synced
}

func (m *Memory) Load(ctx context.Context) (model.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.Document = st.Document.Clone()
	st.Tombstones = append([]model.Tombstone{}, st.Tombstones...)
	return st, nil
}

func (m *Memory) Persist(ctx context.Context, st model.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	st.Document = st.Document.Clone()
	st.Tombstones = append([]model.Tombstone{}, st.Tombstones...)
	m.state = st
	m.persists++
	return nil
}

func (m *Memory) GetSetting(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}
