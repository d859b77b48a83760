package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/pipeline"
	"github.com/lexibase/lexibase/internal/progress"
)

// recordWriter captures every frame and heartbeat for inspection.
type recordWriter struct {
	mu         sync.Mutex
	frames     []Frame
	heartbeats int
	writeErr   error
}

func (r *recordWriter) WriteFrame(_ context.Context, f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordWriter) WriteHeartbeat(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *recordWriter) types() []FrameType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FrameType, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Type
	}
	return out
}

func testResult() *pipeline.Result {
	defID := uuid.New()
	examples := make([]*model.Example, 25)
	for i := range examples {
		examples[i] = &model.Example{Meta: model.Meta{ID: uuid.New()}, DefinitionID: defID}
	}
	return &pipeline.Result{
		Word: &model.Word{Meta: model.Meta{ID: uuid.New()}, Text: "serendipity"},
		Definitions: []*model.Definition{
			{Meta: model.Meta{ID: defID}, Text: "a happy accident"},
		},
		Examples: map[uuid.UUID][]*model.Example{defID: examples},
		Facts: []*model.Fact{
			{Meta: model.Meta{ID: uuid.New()}, Content: "coined by Horace Walpole"},
		},
	}
}

func TestAdapter_SuccessfulStream(t *testing.T) {
	t.Parallel()

	a := NewAdapter(time.Minute, time.Minute, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	err := a.Run(context.Background(), w, tr, func(context.Context) (*pipeline.Result, error) {
		return testResult(), nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	types := w.types()
	if types[0] != FrameConfig {
		t.Errorf("first frame = %s, want config", types[0])
	}
	if types[len(types)-1] != FrameComplete {
		t.Errorf("last frame = %s, want complete", types[len(types)-1])
	}

	// One definition chunk, three example batches (25 examples, batches of
	// 10), one facts chunk.
	var chunks []completionChunk
	for _, f := range w.frames {
		if f.Type == FrameCompletionChunk {
			chunks = append(chunks, f.Data.(completionChunk))
		}
	}
	if len(chunks) != 5 {
		t.Fatalf("chunk count = %d, want 5", len(chunks))
	}
	if chunks[0].Kind != "definition" {
		t.Errorf("chunk 0 kind = %s, want definition", chunks[0].Kind)
	}
	batchSizes := []int{len(chunks[1].Examples), len(chunks[2].Examples), len(chunks[3].Examples)}
	for i, want := range []int{10, 10, 5} {
		if batchSizes[i] != want {
			t.Errorf("example batch %d size = %d, want %d", i, batchSizes[i], want)
		}
	}
	if chunks[4].Kind != "facts" || len(chunks[4].Facts) != 1 {
		t.Errorf("final chunk = %+v, want one facts chunk", chunks[4])
	}
}

func TestAdapter_ForwardsProgress(t *testing.T) {
	t.Parallel()

	a := NewAdapter(time.Minute, time.Minute, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	release := make(chan struct{})
	tr.Update(progress.StageResolve, 0.1, "resolving", nil)

	// Release the op only after the progress frame has been recorded, so Run
	// can finish; closing after Run would deadlock since Run awaits the op.
	go func() {
		defer close(release)
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			for _, ft := range w.types() {
				if ft == FrameProgress {
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	err := a.Run(context.Background(), w, tr, func(context.Context) (*pipeline.Result, error) {
		<-release
		return testResult(), nil
	})
	_ = err

	found := false
	for _, f := range w.frames {
		if f.Type == FrameProgress {
			found = true
		}
	}
	if !found {
		t.Error("no progress frame forwarded")
	}
}

func TestAdapter_OpErrorProducesErrorFrame(t *testing.T) {
	t.Parallel()

	a := NewAdapter(time.Minute, time.Minute, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	boom := errors.New("all providers failed")
	err := a.Run(context.Background(), w, tr, func(context.Context) (*pipeline.Result, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want the op error", err)
	}

	types := w.types()
	if types[len(types)-1] != FrameError {
		t.Fatalf("last frame = %s, want error", types[len(types)-1])
	}
	data := w.frames[len(w.frames)-1].Data.(errorData)
	if data.Message != "all providers failed" {
		t.Errorf("error message = %q", data.Message)
	}
}

func TestAdapter_DisconnectCancelsOperation(t *testing.T) {
	t.Parallel()

	a := NewAdapter(time.Minute, time.Minute, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	ctx, cancel := context.WithCancel(context.Background())
	opCancelled := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := a.Run(ctx, w, tr, func(opCtx context.Context) (*pipeline.Result, error) {
		<-opCtx.Done()
		close(opCancelled)
		return nil, opCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}

	select {
	case <-opCancelled:
	default:
		t.Error("Run returned before the background operation unwound")
	}
}

func TestAdapter_TimeoutSendsErrorFrame(t *testing.T) {
	t.Parallel()

	a := NewAdapter(time.Minute, 30*time.Millisecond, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	err := a.Run(context.Background(), w, tr, func(opCtx context.Context) (*pipeline.Result, error) {
		<-opCtx.Done()
		return nil, opCtx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want DeadlineExceeded", err)
	}

	types := w.types()
	if types[len(types)-1] != FrameError {
		t.Fatalf("last frame = %s, want the timeout error frame", types[len(types)-1])
	}
}

func TestAdapter_HeartbeatsDuringIdle(t *testing.T) {
	t.Parallel()

	a := NewAdapter(10*time.Millisecond, time.Minute, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	err := a.Run(context.Background(), w, tr, func(context.Context) (*pipeline.Result, error) {
		time.Sleep(60 * time.Millisecond)
		return testResult(), nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	w.mu.Lock()
	beats := w.heartbeats
	w.mu.Unlock()
	if beats == 0 {
		t.Error("no heartbeats sent while the operation was idle")
	}
}

func TestAdapter_ConfigFrameCarriesStages(t *testing.T) {
	t.Parallel()

	a := NewAdapter(25*time.Second, 200*time.Second, nil)
	w := &recordWriter{}
	tr := progress.NewTracker(8)

	if err := a.Run(context.Background(), w, tr, func(context.Context) (*pipeline.Result, error) {
		return testResult(), nil
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg := w.frames[0].Data.(configData)
	if len(cfg.Stages) != len(progress.Stages()) {
		t.Errorf("stage count = %d, want %d", len(cfg.Stages), len(progress.Stages()))
	}
	if cfg.HeartbeatSeconds != 25 || cfg.TimeoutSeconds != 200 {
		t.Errorf("config = %+v, want heartbeat 25s timeout 200s", cfg)
	}
}
