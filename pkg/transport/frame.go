// Package transport carries replication frames over websockets. Every frame
// is a binary message holding snappy-compressed JSON.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"

	"github.com/astromechza/grocery-sync/pkg/model"
	"github.com/astromechza/grocery-sync/pkg/session"
)

type FrameType string

const (
	FrameHello  FrameType = "hello"
	FrameDeltas FrameType = "deltas"
	FrameSynced FrameType = "synced"
)

type Frame struct {
	Type    FrameType     `json:"type"`
	Replica string        `json:"replica,omitempty"`
	Deltas  []model.Delta `json:"deltas,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func DecodeFrame(b []byte) (Frame, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to decompress frame: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return f, nil
}

const writeTimeout = 10 * time.Second

// Socket serialises writes on a websocket connection. Reads must stay on a
// single goroutine.
type Socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

func (s *Socket) WriteFrame(ctx context.Context, f Frame) error {
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadFrame returns the next binary frame, skipping any other message types.
func (s *Socket) ReadFrame() (Frame, error) {
	for {
		mt, p, err := s.conn.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			return DecodeFrame(p)
		default:
		}
	}
}

// CloseWith sends a close frame with code and then drops the connection.
func (s *Socket) CloseWith(code int, reason string) error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Socket) Close() error {
	return s.conn.Close()
}

// CloseDetails extracts the close code and reason from a read error.
func CloseDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return session.CloseAbnormal, err.Error()
}
