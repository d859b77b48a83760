package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// WSWriter frames events as JSON text messages on a websocket connection.
type WSWriter struct {
	conn *websocket.Conn
}

var _ FrameWriter = (*WSWriter)(nil)

// NewWS wraps an accepted websocket connection. The caller keeps ownership of
// the connection and closes it after the stream ends.
func NewWS(conn *websocket.Conn) *WSWriter {
	return &WSWriter{conn: conn}
}

// WriteFrame sends the frame as one JSON text message.
func (w *WSWriter) WriteFrame(ctx context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("stream: marshal %s frame: %w", f.Type, err)
	}
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("stream: write %s frame: %w", f.Type, err)
	}
	return nil
}

// WriteHeartbeat pings the peer.
func (w *WSWriter) WriteHeartbeat(ctx context.Context) error {
	if err := w.conn.Ping(ctx); err != nil {
		return fmt.Errorf("stream: ping: %w", err)
	}
	return nil
}
