package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the circuit breaker created for each entry in a
// [FallbackGroup]. The per-entry breaker name is set to the entry's name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of the
// same provider type, each behind its own circuit breaker. Entries are tried
// in registration order; an open breaker skips its entry without contacting
// the backend. The same mechanism serves dictionary providers and LLM model
// tiers.
//
// FallbackGroup is safe for concurrent use once all fallbacks are added.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a group with primary as the first entry. Register
// additional backends with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.entries = append(fg.entries, fg.newEntry(primaryName, primary))
	return fg
}

// AddFallback appends a backend tried after all previously registered ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fg.newEntry(name, fallback))
}

func (fg *FallbackGroup[T]) newEntry(name string, value T) fallbackEntry[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	}
}

// attempt runs fn through the entry's breaker and logs skips and failures.
func (fg *FallbackGroup[T]) attempt(entry *fallbackEntry[T], fn func(T) error) error {
	err := entry.breaker.Execute(func() error {
		return fn(entry.value)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		fg.log.Debug("skipping provider (circuit open)", "provider", entry.name)
	} else {
		fg.log.Warn("provider failed, trying next",
			"provider", entry.name, "error", err)
	}
	return err
}

// Execute tries fn against each entry in order until one succeeds. When every
// entry fails, the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		if err := fg.attempt(&fg.entries[i], fn); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a package-level function because Go methods cannot introduce type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		var result R
		err := fg.attempt(&fg.entries[i], func(v T) error {
			var innerErr error
			result, innerErr = fn(v)
			return innerErr
		})
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
