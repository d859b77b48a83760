package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/pipeline"
	"github.com/lexibase/lexibase/internal/progress"
)

// exampleBatchSize caps how many examples one completion chunk carries.
const exampleBatchSize = 10

// Adapter streams one lookup operation to one client connection. Construct
// with [NewAdapter]; a single Adapter may serve many Run calls concurrently.
type Adapter struct {
	heartbeat time.Duration
	timeout   time.Duration
	log       *slog.Logger
}

// NewAdapter constructs an Adapter. heartbeat is the max idle gap before a
// keepalive; timeout caps the total stream lifetime.
func NewAdapter(heartbeat, timeout time.Duration, log *slog.Logger) *Adapter {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{heartbeat: heartbeat, timeout: timeout, log: log}
}

// configData is the payload of the opening config frame.
type configData struct {
	Stages           []progress.Stage `json:"stages"`
	HeartbeatSeconds int              `json:"heartbeat_seconds"`
	TimeoutSeconds   int              `json:"timeout_seconds"`
}

// errorData is the payload of an error frame.
type errorData struct {
	Message string `json:"message"`
}

// completionStart is the payload of the completion_start frame: everything
// about the entry except its definitions, which follow chunked.
type completionStart struct {
	Word            *model.Word          `json:"word"`
	Pronunciation   *model.Pronunciation `json:"pronunciation,omitempty"`
	Etymology       string               `json:"etymology,omitempty"`
	ModelInfo       *model.ModelInfo     `json:"model_info,omitempty"`
	CacheHit        bool                 `json:"cache_hit"`
	DefinitionCount int                  `json:"definition_count"`
}

// completionChunk is the payload of one completion_chunk frame. Exactly one
// of Definition, Examples, or Facts is set, indicated by Kind.
type completionChunk struct {
	Kind         string            `json:"kind"` // "definition", "examples", "facts"
	Definition   *model.Definition `json:"definition,omitempty"`
	DefinitionID uuid.UUID         `json:"definition_id,omitempty"`
	Examples     []*model.Example  `json:"examples,omitempty"`
	Facts        []*model.Fact     `json:"facts,omitempty"`
}

// Run executes op in the background and streams its progress and result to w.
// It returns when the stream ends: completion sent, error sent, the overall
// timeout fired, or the caller's ctx was cancelled (client disconnect). The
// background operation is always cancelled and awaited before returning.
func (a *Adapter) Run(ctx context.Context, w FrameWriter, tracker *progress.Tracker, op func(ctx context.Context) (*pipeline.Result, error)) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := w.WriteFrame(ctx, Frame{Type: FrameConfig, Data: configData{
		Stages:           progress.Stages(),
		HeartbeatSeconds: int(a.heartbeat.Seconds()),
		TimeoutSeconds:   int(a.timeout.Seconds()),
	}}); err != nil {
		return err
	}

	sub := tracker.Subscribe()
	defer sub.Close()

	type opOut struct {
		res *pipeline.Result
		err error
	}
	done := make(chan opOut, 1)
	go func() {
		res, err := op(ctx)
		done <- opOut{res: res, err: err}
	}()

	// await makes sure the background operation has unwound before Run
	// returns, so a dropped client never leaks a pipeline.
	await := func() {
		cancel()
		<-done
	}

	hb := time.NewTimer(a.heartbeat)
	defer hb.Stop()
	resetHeartbeat := func() {
		if !hb.Stop() {
			select {
			case <-hb.C:
			default:
			}
		}
		hb.Reset(a.heartbeat)
	}

	for {
		select {
		case st := <-sub.Updates():
			if err := w.WriteFrame(ctx, Frame{Type: FrameProgress, Data: st}); err != nil {
				await()
				return err
			}
			resetHeartbeat()

		case <-hb.C:
			if err := w.WriteHeartbeat(ctx); err != nil {
				await()
				return err
			}
			hb.Reset(a.heartbeat)

		case out := <-done:
			if out.err != nil {
				if writeErr := w.WriteFrame(ctx, Frame{Type: FrameError, Data: errorData{Message: out.err.Error()}}); writeErr != nil {
					return errors.Join(out.err, writeErr)
				}
				return out.err
			}
			return a.sendCompletion(ctx, w, out.res)

		case <-ctx.Done():
			await()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Best effort: the connection may still be up even though the
				// stream budget ran out.
				_ = w.WriteFrame(context.WithoutCancel(ctx), Frame{Type: FrameError, Data: errorData{Message: "stream timeout exceeded"}})
			}
			return ctx.Err()
		}
	}
}

// sendCompletion chunks the lookup result: basic info first, then one
// definition per frame, then each definition's examples in batches, then
// facts, then the final complete frame.
func (a *Adapter) sendCompletion(ctx context.Context, w FrameWriter, res *pipeline.Result) error {
	start := completionStart{
		Word:            res.Word,
		Pronunciation:   res.Pronunciation,
		CacheHit:        res.CacheHit,
		DefinitionCount: len(res.Definitions),
	}
	if res.Entry != nil {
		start.Etymology = res.Entry.Etymology
		start.ModelInfo = &res.Entry.ModelInfo
	}
	if err := w.WriteFrame(ctx, Frame{Type: FrameCompletionStart, Data: start}); err != nil {
		return err
	}

	for _, d := range res.Definitions {
		if err := w.WriteFrame(ctx, Frame{Type: FrameCompletionChunk, Data: completionChunk{
			Kind:       "definition",
			Definition: d,
		}}); err != nil {
			return err
		}
		examples := res.Examples[d.ID]
		for offset := 0; offset < len(examples); offset += exampleBatchSize {
			end := offset + exampleBatchSize
			if end > len(examples) {
				end = len(examples)
			}
			if err := w.WriteFrame(ctx, Frame{Type: FrameCompletionChunk, Data: completionChunk{
				Kind:         "examples",
				DefinitionID: d.ID,
				Examples:     examples[offset:end],
			}}); err != nil {
				return err
			}
		}
	}

	if len(res.Facts) > 0 {
		if err := w.WriteFrame(ctx, Frame{Type: FrameCompletionChunk, Data: completionChunk{
			Kind:  "facts",
			Facts: res.Facts,
		}}); err != nil {
			return err
		}
	}

	return w.WriteFrame(ctx, Frame{Type: FrameComplete, Data: map[string]any{
		"definitions": len(res.Definitions),
	}})
}
