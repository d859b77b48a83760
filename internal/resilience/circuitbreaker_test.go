package resilience

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream unavailable")

// fakeClock drives breaker timeouts without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker(cfg)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = clk.Now
	return cb, clk
}

func trip(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for range failures {
		_ = cb.Execute(func() error { return errUpstream })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after %d failures", cb.State(), failures)
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "freedict"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "freedict", MaxFailures: 3})
	called := false
	if err := cb.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "freedict", MaxFailures: 3})
	trip(t, cb, 3)

	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "freedict", MaxFailures: 3})

	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return nil })
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a success", cb.State())
	}

	// The counter restarted, so two more failures do not trip it.
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	if cb.State() != StateClosed {
		t.Fatal("tripped after 2 failures post-reset, want 3")
	}
}

func TestCircuitBreaker_OpenToHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "freedict",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  2,
	})
	trip(t, cb, 2)

	clk.Advance(30 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want still open before timeout", cb.State())
	}

	clk.Advance(31 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterTrialSuccesses(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "freedict",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  2,
	})
	trip(t, cb, 2)
	clk.Advance(2 * time.Minute)

	for i := range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("trial call %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after trial successes", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "freedict",
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  3,
	})
	trip(t, cb, 2)
	clk.Advance(2 * time.Minute)

	if err := cb.Execute(func() error { return errUpstream }); err == nil {
		t.Fatal("expected error from failing trial call")
	}

	// Open again; the next call is rejected without reaching the upstream.
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after half-open failure", err)
	}
}

func TestCircuitBreaker_HalfOpenBudgetExhausted(t *testing.T) {
	t.Parallel()

	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "freedict",
		MaxFailures:  1,
		ResetTimeout: time.Minute,
		HalfOpenMax:  1,
	})
	trip(t, cb, 1)
	clk.Advance(2 * time.Minute)

	// Hold the single trial slot open.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen while trial budget is in use", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call: %v", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(CircuitBreakerConfig{
		Name:         "freedict",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	trip(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
