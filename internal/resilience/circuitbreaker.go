// Package resilience provides the failure-isolation primitives the lookup
// and synthesis paths share: a three-state [CircuitBreaker], a generic
// [FallbackGroup] that fails over across providers, and [LLMFallback],
// its llm.Provider specialization used for model-tier failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and the reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through; their
	// outcome decides whether the breaker closes or re-opens.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages, e.g. "llm-high" or a
	// dictionary provider name.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing
	// trial calls. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial-call budget in the half-open state.
	// Default 3.
	HalfOpenMax int

	// Logger receives state-transition events. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the closed → open → half-open breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *slog.Logger
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewCircuitBreaker builds a breaker from cfg, filling in defaults for
// zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          cfg.Logger.With("breaker", cfg.Name),
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call. An open breaker returns
// [ErrCircuitOpen] without invoking fn; a half-open one admits calls only
// within the trial budget.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	inHalfOpen, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure(inHalfOpen)
	} else {
		cb.recordSuccess(inHalfOpen)
	}
	return err
}

// admit decides whether a call may proceed and performs the open → half-open
// transition when the reset timeout has elapsed.
func (cb *CircuitBreaker) admit() (inHalfOpen, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false, false
		}
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenFails = 0
		cb.log.Info("circuit breaker transitioning to half-open")

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			return false, false
		}
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
		return true, true
	}
	return false, true
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(inHalfOpen bool) {
	cb.lastFailure = cb.now()

	if inHalfOpen {
		cb.halfOpenFails++
		// Any half-open failure re-opens immediately.
		cb.state = StateOpen
		cb.consecutiveFail = cb.maxFailures
		cb.log.Warn("circuit breaker re-opened from half-open")
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		cb.log.Warn("circuit breaker opened",
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		if cb.halfOpenCalls-cb.halfOpenFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.consecutiveFail = 0
			cb.halfOpenCalls = 0
			cb.halfOpenFails = 0
			cb.log.Info("circuit breaker closed after successful trial calls")
		}
		return
	}
	cb.consecutiveFail = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored transition happens on the next
// [Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenFails = 0
	cb.log.Info("circuit breaker manually reset")
}
