package substrate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/config"
)

// Limiter enforces per-caller request and token budgets for AI calls.
//
// Request limits use sliding windows (per minute, per hour) kept as timestamp
// lists with eviction, plus a per-day counter that resets at UTC midnight.
// Token limits use a token bucket refilled at the per-minute budget, admitted
// on an estimate and corrected to the actual count after the call, plus a
// per-day counter.
//
// All state is process-global behind one mutex; every operation touching the
// lock is O(window size) at worst. Zero-valued limits are unlimited.
type Limiter struct {
	cfg config.RateConfig

	mu      sync.Mutex
	callers map[string]*callerState
}

type callerState struct {
	minute []time.Time
	hour   []time.Time

	day      int
	dayStart time.Time

	tokens      *rate.Limiter
	dayTokens   int
	tokDayStart time.Time
}

// Snapshot reports a caller's remaining budget, used for rate-limit response
// headers. Unlimited dimensions report -1 remaining.
type Snapshot struct {
	RequestLimit      int
	RequestsRemaining int
	TokenLimit        int
	TokensRemaining   int
}

// NewLimiter constructs a Limiter for the given budgets.
func NewLimiter(cfg config.RateConfig) *Limiter {
	return &Limiter{cfg: cfg, callers: make(map[string]*callerState)}
}

func (l *Limiter) state(caller string, now time.Time) *callerState {
	cs, ok := l.callers[caller]
	if !ok {
		cs = &callerState{dayStart: now.UTC().Truncate(24 * time.Hour), tokDayStart: now.UTC().Truncate(24 * time.Hour)}
		if l.cfg.TokensPerMinute > 0 {
			cs.tokens = rate.NewLimiter(rate.Limit(float64(l.cfg.TokensPerMinute)/60.0), l.cfg.TokensPerMinute)
		}
		l.callers[caller] = cs
	}
	return cs
}

// Admit requests admission for one AI call by caller with an estimated token
// cost. On denial it returns an apperr.RateLimitedError carrying a retry-after
// hint; the caller's counters are not charged. On success all request windows
// are charged immediately and estTokens are reserved; call [Limiter.Commit]
// with the actual usage afterwards.
func (l *Limiter) Admit(caller string, estTokens int) error {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.state(caller, now)
	evictWindow(&cs.minute, now, time.Minute)
	evictWindow(&cs.hour, now, time.Hour)
	rollDay(&cs.day, &cs.dayStart, now)
	rollDay(&cs.dayTokens, &cs.tokDayStart, now)

	if l.cfg.RequestsPerMinute > 0 && len(cs.minute) >= l.cfg.RequestsPerMinute {
		return &apperr.RateLimitedError{RetryAfter: windowRetry(cs.minute, now, time.Minute)}
	}
	if l.cfg.RequestsPerHour > 0 && len(cs.hour) >= l.cfg.RequestsPerHour {
		return &apperr.RateLimitedError{RetryAfter: windowRetry(cs.hour, now, time.Hour)}
	}
	if l.cfg.RequestsPerDay > 0 && cs.day >= l.cfg.RequestsPerDay {
		return &apperr.RateLimitedError{RetryAfter: untilNextUTCDay(now)}
	}
	if l.cfg.TokensPerDay > 0 && cs.dayTokens+estTokens > l.cfg.TokensPerDay {
		return &apperr.RateLimitedError{RetryAfter: untilNextUTCDay(now)}
	}
	if cs.tokens != nil {
		r := cs.tokens.ReserveN(now, estTokens)
		if !r.OK() {
			// Estimate exceeds the whole per-minute budget; admit-or-deny on
			// current availability is meaningless, deny with a minute hint.
			return &apperr.RateLimitedError{RetryAfter: time.Minute}
		}
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			return &apperr.RateLimitedError{RetryAfter: delay}
		}
	}

	cs.minute = append(cs.minute, now)
	cs.hour = append(cs.hour, now)
	cs.day++
	cs.dayTokens += estTokens
	return nil
}

// Commit corrects the token charge for an admitted call from the estimate to
// the actual usage. Underestimates consume the difference from the bucket;
// overestimates are left in place (conservative).
func (l *Limiter) Commit(caller string, estTokens, actualTokens int) {
	if actualTokens <= estTokens {
		return
	}
	delta := actualTokens - estTokens
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.state(caller, now)
	cs.dayTokens += delta
	if cs.tokens != nil {
		// Draw down the bucket; a resulting debt just delays future admits.
		cs.tokens.ReserveN(now, delta)
	}
}

// Release returns an admitted call's charges when the call never dispatched
// (e.g., a cache hit discovered after admission was not possible, or the
// context was cancelled first). Token reservations stay spent; only the
// request windows are refunded.
func (l *Limiter) Release(caller string) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.state(caller, now)
	if n := len(cs.minute); n > 0 {
		cs.minute = cs.minute[:n-1]
	}
	if n := len(cs.hour); n > 0 {
		cs.hour = cs.hour[:n-1]
	}
	if cs.day > 0 {
		cs.day--
	}
}

// Peek returns the caller's current budget snapshot without charging.
func (l *Limiter) Peek(caller string) Snapshot {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.state(caller, now)
	evictWindow(&cs.minute, now, time.Minute)
	rollDay(&cs.dayTokens, &cs.tokDayStart, now)

	snap := Snapshot{
		RequestLimit:      l.cfg.RequestsPerMinute,
		RequestsRemaining: -1,
		TokenLimit:        l.cfg.TokensPerMinute,
		TokensRemaining:   -1,
	}
	if l.cfg.RequestsPerMinute > 0 {
		snap.RequestsRemaining = max(l.cfg.RequestsPerMinute-len(cs.minute), 0)
	}
	if cs.tokens != nil {
		snap.TokensRemaining = max(int(cs.tokens.TokensAt(now)), 0)
	}
	return snap
}

func evictWindow(window *[]time.Time, now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	w := *window
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	*window = w[i:]
}

func rollDay(counter *int, start *time.Time, now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.After(*start) {
		*counter = 0
		*start = day
	}
}

func windowRetry(window []time.Time, now time.Time, span time.Duration) time.Duration {
	if len(window) == 0 {
		return time.Second
	}
	retry := window[0].Add(span).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry
}

func untilNextUTCDay(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}
