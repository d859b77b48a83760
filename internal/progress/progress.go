// Package progress implements the in-memory progress tracker observed by the
// streaming adapter.
//
// A [Tracker] is scoped to one pipeline operation. The pipeline goroutine is
// the single writer; any number of subscribers each receive updates through
// their own bounded queue. Slow subscribers lose the oldest non-terminal
// updates, never a terminal one. After a terminal update (complete or error)
// the tracker is sealed: further updates are ignored.
package progress

import (
	"sync"
	"time"
)

// Stage names a pipeline stage for progress reporting.
type Stage string

// Pipeline stages in execution order.
const (
	StageResolve       Stage = "resolve"
	StageCacheCheck    Stage = "cache_check"
	StageProviderFetch Stage = "provider_fetch"
	StageCluster       Stage = "cluster"
	StageSynthesis     Stage = "synthesis"
	StageWordSynthesis Stage = "word_synthesis"
	StagePersist       Stage = "persist"
	StageEnhance       Stage = "enhance"
)

// Stages lists every stage a lookup may traverse, in order. Emitted in the
// streaming adapter's config frame for client-side visualization.
func Stages() []Stage {
	return []Stage{
		StageResolve, StageCacheCheck, StageProviderFetch, StageCluster,
		StageSynthesis, StageWordSynthesis, StagePersist, StageEnhance,
	}
}

// State is one snapshot of pipeline progress.
type State struct {
	Stage      Stage          `json:"stage"`
	Progress   float64        `json:"progress"` // in [0,1]
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IsComplete bool           `json:"is_complete"`
	Err        string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// terminal reports whether s ends the operation.
func (s State) terminal() bool {
	return s.IsComplete || s.Err != ""
}

// DefaultQueueSize bounds each subscriber's update queue.
const DefaultQueueSize = 64

// Tracker publishes pipeline progress to subscribers. The zero value is not
// usable; construct with [NewTracker].
type Tracker struct {
	mu     sync.Mutex
	last   State
	sealed bool
	subs   map[*Subscription]struct{}
	qsize  int
}

// Subscription is one subscriber's handle. Release it with
// [Subscription.Close] on every exit path; [Tracker.Subscribe] callers
// typically defer it.
type Subscription struct {
	tracker *Tracker
	ch      chan State
	once    sync.Once
}

// Updates returns the subscriber's queue. The channel is closed when the
// subscription is closed. After a terminal state has been received no further
// states arrive.
func (s *Subscription) Updates() <-chan State {
	return s.ch
}

// Close releases the subscription. Safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.tracker.mu.Lock()
		delete(s.tracker.subs, s)
		s.tracker.mu.Unlock()
		close(s.ch)
	})
}

// NewTracker constructs a Tracker whose subscriber queues hold up to
// queueSize states. queueSize <= 0 uses [DefaultQueueSize].
func NewTracker(queueSize int) *Tracker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Tracker{
		subs:  make(map[*Subscription]struct{}),
		qsize: queueSize,
	}
}

// Subscribe registers a new subscriber and immediately queues the current
// state if any update has been published, so late subscribers see where the
// pipeline stands.
func (t *Tracker) Subscribe() *Subscription {
	sub := &Subscription{tracker: t, ch: make(chan State, t.qsize)}

	t.mu.Lock()
	t.subs[sub] = struct{}{}
	if !t.last.Timestamp.IsZero() {
		sub.ch <- t.last
	}
	t.mu.Unlock()

	return sub
}

// Last returns the most recently published state.
func (t *Tracker) Last() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Update publishes a non-terminal progress state. Ignored after a terminal
// update.
func (t *Tracker) Update(stage Stage, prog float64, message string, details map[string]any) {
	t.publish(State{
		Stage:    stage,
		Progress: prog,
		Message:  message,
		Details:  details,
	})
}

// UpdateComplete publishes the terminal success state and seals the tracker.
func (t *Tracker) UpdateComplete(message string, details map[string]any) {
	t.publish(State{
		Stage:      StagePersist,
		Progress:   1,
		Message:    message,
		Details:    details,
		IsComplete: true,
	})
}

// UpdateError publishes the terminal failure state and seals the tracker.
func (t *Tracker) UpdateError(stage Stage, errMsg string) {
	t.publish(State{
		Stage: stage,
		Err:   errMsg,
	})
}

func (t *Tracker) publish(s State) {
	s.Timestamp = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return
	}
	if s.terminal() {
		t.sealed = true
	}
	t.last = s

	for sub := range t.subs {
		for {
			select {
			case sub.ch <- s:
			default:
				// Queue full: drop the oldest queued state unless it is
				// terminal, which by sealing can only be the one we are
				// delivering now.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}
