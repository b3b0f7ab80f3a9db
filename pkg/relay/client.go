package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/transport"
)

const clientQueue = 256

type client struct {
	replica string
	out     chan transport.Frame

	once      sync.Once
	done      chan struct{}
	closeCode int
}

func newClient(replica string) *client {
	return &client{
		replica: replica,
		out:     make(chan transport.Frame, clientQueue),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks; a client that cannot keep up is disconnected and
// catches up from the full state when it reconnects.
func (c *client) enqueue(deltas []model.Delta, synced bool) {
	frames := make([]transport.Frame, 0, 2)
	if len(deltas) > 0 {
		frames = append(frames, transport.Frame{Type: transport.FrameDeltas, Deltas: deltas})
	}
	if synced {
		frames = append(frames, transport.Frame{Type: transport.FrameSynced})
	}
	for _, f := range frames {
		select {
		case c.out <- f:
		default:
			c.disconnect(websocket.CloseTryAgainLater)
			return
		}
	}
}

func (c *client) disconnect(code int) {
	c.once.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// serve pumps frames between the socket and the room until either side stops.
func (c *client) serve(ctx context.Context, sock *transport.Socket, room *Room, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case f := <-c.out:
				if err := sock.WriteFrame(ctx, f); err != nil {
					logger.Error(err.Error())
					_ = sock.Close()
					return
				}
			case <-c.done:
				_ = sock.CloseWith(c.closeCode, "")
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		f, err := sock.ReadFrame()
		if err != nil {
			code, reason := transport.CloseDetails(err)
			logger.Info("client disconnected", "code", code, "reason", reason)
			break
		}
		switch f.Type {
		case transport.FrameDeltas:
			if err := room.apply(ctx, c, f.Deltas); err != nil {
				logger.Error("failed to apply deltas", "err", err)
			}
		default:
			logger.Debug("ignoring frame", "type", f.Type)
		}
	}
	cancel()
	wg.Wait()
}
