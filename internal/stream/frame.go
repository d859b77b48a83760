// Package stream implements the long-connection streaming adapter over
// lookup operations.
//
// An [Adapter] runs the pipeline in the background, relays progress states as
// frames, chunks the completion payload (basic info first, then one
// definition at a time, then examples in batches), keeps the connection
// alive with heartbeats, enforces an overall stream timeout, and cancels the
// pipeline when the client disconnects. Two [FrameWriter] implementations
// exist: server-sent events and websocket.
package stream

import "context"

// FrameType names a streaming frame kind.
type FrameType string

// Frame kinds, in the order a successful stream emits them: one config, any
// number of progress, then either completion_start + completion_chunk* +
// complete, or a single error.
const (
	FrameConfig          FrameType = "config"
	FrameProgress        FrameType = "progress"
	FrameCompletionStart FrameType = "completion_start"
	FrameCompletionChunk FrameType = "completion_chunk"
	FrameComplete        FrameType = "complete"
	FrameError           FrameType = "error"
)

// Frame is one streamed event.
type Frame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// FrameWriter delivers frames to one client connection. Implementations must
// be safe for use by the single adapter goroutine; they are not required to
// support concurrent writers.
type FrameWriter interface {
	// WriteFrame sends one frame.
	WriteFrame(ctx context.Context, f Frame) error

	// WriteHeartbeat sends a keepalive that carries no frame (an SSE comment,
	// a websocket ping).
	WriteHeartbeat(ctx context.Context) error
}
