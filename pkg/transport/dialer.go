package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/session"
)

// SyncURL turns a relay base url and room into the room's websocket endpoint.
func SyncURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.JoinPath("rooms", room, "sync").String(), nil
}

// Dialer connects sessions to a relay over websockets.
type Dialer struct {
	WS     *websocket.Dialer
	Logger *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, cfg session.Config) (session.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	u, err := SyncURL(cfg.URL, cfg.Room)
	if err != nil {
		return nil, err
	}
	conn, _, err := ws.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	sock := NewSocket(conn)
	if err := sock.WriteFrame(ctx, Frame{Type: FrameHello, Replica: cfg.ReplicaID}); err != nil {
		_ = sock.Close()
		return nil, err
	}
	c := &clientConn{sock: sock, events: make(chan session.Event, 16), logger: logger.With("room", cfg.Room)}
	c.events <- session.Event{Kind: session.EventConnected}
	go c.readLoop()
	return c, nil
}

type clientConn struct {
	sock    *Socket
	events  chan session.Event
	closing atomic.Bool
	logger  *slog.Logger
}

func (c *clientConn) Events() <-chan session.Event {
	return c.events
}

func (c *clientConn) Send(ctx context.Context, deltas []model.Delta) error {
	return c.sock.WriteFrame(ctx, Frame{Type: FrameDeltas, Deltas: deltas})
}

func (c *clientConn) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	return c.sock.CloseWith(session.CloseNormal, "")
}

func (c *clientConn) readLoop() {
	defer close(c.events)
	for {
		f, err := c.sock.ReadFrame()
		if err != nil {
			_ = c.sock.Close()
			code, reason := CloseDetails(err)
			if c.closing.Load() {
				code, reason = session.CloseNormal, "closed by client"
			}
			c.logger.Info("connection closed", "code", code, "reason", reason)
			c.events <- session.Event{Kind: session.EventClosed, Code: code, Reason: reason}
			return
		}
		switch f.Type {
		case FrameDeltas:
			c.events <- session.Event{Kind: session.EventDeltas, Deltas: f.Deltas}
		case FrameSynced:
			c.events <- session.Event{Kind: session.EventSynced}
		default:
			c.logger.Debug("ignoring frame", "type", f.Type)
		}
	}
}
