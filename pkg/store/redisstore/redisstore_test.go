package redisstore

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/assert/v2"

	"github.com/astromechza/grocery-sync/pkg/model"
)

func setupTestRedis(t *testing.T) (*Store, *miniredis.Miniredis) {
	m := miniredis.RunT(t)
	s, err := New("redis://"+m.Addr(), "test:")
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	<-s.InitialSyncComplete()
	return s, m
}

func TestLoadEmpty(t *testing.T) {
	s, _ := setupTestRedis(t)
	defer s.Close()

	st, err := s.Load(context.Background())
	assert.Equal(t, nil, err)
	assert.Equal(t, model.NewState(), st)
}

func TestPersistAndLoad(t *testing.T) {
	s, m := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	st := model.NewState()
	st.Document.Items["eggs"] = model.Item{ID: "eggs", Name: "eggs", Quantity: model.Quantity{Count: 12}}
	st.Document.Categories = []model.Category{{ID: "dairy", Items: []string{"eggs"}}}
	st.Revision = 2
	assert.Equal(t, nil, s.Persist(ctx, st))
	assert.Equal(t, true, m.Exists("test:state"))

	loaded, err := s.Load(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, st, loaded)
}

func TestSettings(t *testing.T) {
	s, m := setupTestRedis(t)
	defer s.Close()
	ctx := context.Background()

	_, found, err := s.GetSetting(ctx, "room")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, found)

	assert.Equal(t, nil, s.SetSetting(ctx, "room", "kitchen"))
	v, found, err := s.GetSetting(ctx, "room")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, found)
	assert.Equal(t, "kitchen", v)
	assert.Equal(t, "kitchen", m.HGet("test:settings", "room"))
}

func TestUnreachableRedisFailsHydration(t *testing.T) {
	m := miniredis.RunT(t)
	addr := m.Addr()
	m.Close()

	s, err := New("redis://"+addr, "")
	assert.Equal(t, nil, err)
	defer s.Close()
	<-s.InitialSyncComplete()

	_, err = s.Load(context.Background())
	assert.NotEqual(t, nil, err)
	assert.Equal(t, true, strings.HasPrefix(err.Error(), "failed to connect to redis: "))
}

func TestCorruptStateIsReported(t *testing.T) {
	s, m := setupTestRedis(t)
	assert.Equal(t, nil, m.Set("test:state", "{not json"))

	_, err := s.Load(context.Background())
	assert.NotEqual(t, nil, err)
	assert.Equal(t, true, strings.HasPrefix(err.Error(), "failed to unmarshal state: "))
}
