package relay

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/grocery-sync/pkg/amdoc"
	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/store"
	"github.com/astromechza/grocery-sync/pkg/transport"
)

type Server struct {
	database *sql.DB
	handle   string
	logger   *slog.Logger

	mu      sync.Mutex
	rooms   map[string]*Room
	docs    map[string]*amdoc.Doc
	clients map[*client]struct{}
}

// NewServer creates the rooms table if needed and loads every stored room.
// database may be nil, in which case rooms live only in memory.
func NewServer(ctx context.Context, database *sql.DB, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		database: database,
		handle:   "relay-" + model.NewID(),
		logger:   logger,
		rooms:    map[string]*Room{},
		docs:     map[string]*amdoc.Doc{},
		clients:  map[*client]struct{}{},
	}
	if database == nil {
		return s, nil
	}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	if _, err := s.database.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	res, err := s.database.QueryContext(ctx, `SELECT id, content FROM rooms`)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			s.logger.Error("failed to close", "err", err)
		}
	}(res)
	for res.Next() {
		var roomID, rawSave string
		if err := res.Scan(&roomID, &rawSave); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(rawSave)
		if err != nil {
			return fmt.Errorf("failed to decode: %w", err)
		}
		doc, err := amdoc.Load(raw)
		if err != nil {
			return fmt.Errorf("failed to load room %s: %w", roomID, err)
		}
		st, err := doc.Read()
		if err != nil {
			return fmt.Errorf("failed to read room %s: %w", roomID, err)
		}
		s.docs[roomID] = doc
		s.rooms[roomID] = newRoom(roomID, s.handle, st, s.logger)
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("failed to iterate rooms: %w", err)
	}
	s.logger.Info("loaded rooms", "rooms", len(s.rooms))
	return nil
}

// Room returns the room with id, creating an empty one on first use.
func (s *Server) Room(id string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r
	}
	r := newRoom(id, s.handle, model.NewState(), s.logger)
	s.rooms[id] = r
	return r
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/rooms/{room}/latest").HandlerFunc(s.getLatest)
	r.Methods(http.MethodGet).Path("/rooms/{room}/sync").HandlerFunc(s.syncRoom)
	return r
}

func (s *Server) getLatest(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	s.mu.Lock()
	room, ok := s.rooms[vars["room"]]
	s.mu.Unlock()
	if !ok {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	snap := room.Snapshot()
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(model.Dump{
		Version:    store.SchemaVersion,
		Items:      snap.Items,
		Categories: snap.Categories,
	}); err != nil {
		s.logger.Error("failed to write out", "err", err)
	}
}

func (s *Server) syncRoom(writer http.ResponseWriter, request *http.Request) {
	vars := mux.Vars(request)
	room := s.Room(vars["room"])

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	sock := transport.NewSocket(conn)
	defer sock.Close()

	hello, err := sock.ReadFrame()
	if err != nil {
		s.logger.Error("failed to read hello", "err", err)
		return
	}
	if hello.Type != transport.FrameHello {
		_ = sock.CloseWith(websocket.CloseProtocolError, "expected hello")
		return
	}

	c := newClient(hello.Replica)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	room.join(c)
	defer room.leave(c)
	c.serve(request.Context(), sock, room, s.logger.With("room", room.ID(), "client", c.replica))
}

// Shutdown tells every connected client the relay is going away.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.disconnect(websocket.CloseGoingAway)
	}
}

// Backup writes every room that changed since the last backup.
func (s *Server) Backup(ctx context.Context) error {
	if s.database == nil {
		return nil
	}
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		st, dirty := r.dirty()
		if !dirty {
			continue
		}
		s.mu.Lock()
		doc, ok := s.docs[r.ID()]
		if !ok {
			var err error
			if doc, err = amdoc.New(s.handle); err != nil {
				s.mu.Unlock()
				return err
			}
			s.docs[r.ID()] = doc
		}
		if _, err := doc.Write(st); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to encode room %s: %w", r.ID(), err)
		}
		content := base64.StdEncoding.EncodeToString(doc.Save())
		s.mu.Unlock()

		if _, err := s.database.ExecContext(ctx,
			`INSERT INTO rooms (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content`,
			r.ID(), content,
		); err != nil {
			return fmt.Errorf("failed to backup room %s: %w", r.ID(), err)
		}
		r.markSaved(st.Revision)
		s.logger.Info("backed up", "room", r.ID(), "revision", st.Revision)
	}
	return nil
}

// RunBackups calls Backup every interval until ctx is done.
func (s *Server) RunBackups(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.Backup(ctx); err != nil {
				s.logger.Error("failed to backup rooms", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
