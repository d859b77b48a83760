package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter frames events as server-sent events on an HTTP response.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

var _ FrameWriter = (*SSEWriter)(nil)

// NewSSE prepares w for server-sent events and returns the writer. Fails when
// the response writer cannot flush incrementally.
func NewSSE(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("stream: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteFrame sends the frame as an SSE event named after the frame type.
func (s *SSEWriter) WriteFrame(_ context.Context, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("stream: marshal %s frame: %w", f.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
		return fmt.Errorf("stream: write %s frame: %w", f.Type, err)
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat sends an SSE comment, which clients ignore.
func (s *SSEWriter) WriteHeartbeat(context.Context) error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("stream: write heartbeat: %w", err)
	}
	s.flusher.Flush()
	return nil
}
