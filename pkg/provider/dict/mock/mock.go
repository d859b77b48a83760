// Package mock provides a test double for the dict.Provider interface.
//
// Use Provider in unit tests to feed controlled dictionary results without
// upstream HTTP calls and to verify which words are fetched.
package mock

import (
	"context"
	"sync"

	"github.com/lexibase/lexibase/pkg/provider/dict"
)

// FetchCall records a single invocation of Fetch.
type FetchCall struct {
	// Ctx is the context passed to Fetch.
	Ctx context.Context
	// Word is the headword passed to Fetch.
	Word string
	// Language is the language code passed to Fetch.
	Language string
}

// Provider is a mock implementation of dict.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NameValue is returned by Name. Defaults to "mock" when empty.
	NameValue string

	// AvailableValue is returned by Available. Defaults to true unless
	// Unavailable is set.
	Unavailable bool

	// FetchResult is returned by Fetch when FetchFunc is nil.
	FetchResult *dict.Result

	// FetchErr, if non-nil, is returned as the error from Fetch.
	FetchErr error

	// FetchFunc, if non-nil, is invoked by Fetch instead of returning
	// FetchResult/FetchErr. Useful for per-word responses.
	FetchFunc func(ctx context.Context, word, language string) (*dict.Result, error)

	// --- Call records (read after test) ---

	// FetchCalls records every invocation of Fetch in order.
	FetchCalls []FetchCall
}

// Name returns NameValue, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NameValue == "" {
		return "mock"
	}
	return p.NameValue
}

// Available returns !Unavailable.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unavailable
}

// Fetch records the call and returns the configured response.
func (p *Provider) Fetch(ctx context.Context, word, language string) (*dict.Result, error) {
	p.mu.Lock()
	p.FetchCalls = append(p.FetchCalls, FetchCall{Ctx: ctx, Word: word, Language: language})
	fn := p.FetchFunc
	res, err := p.FetchResult, p.FetchErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, word, language)
	}
	return res, err
}

// Calls returns a copy of the recorded Fetch calls. Thread-safe.
func (p *Provider) Calls() []FetchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := make([]FetchCall, len(p.FetchCalls))
	copy(calls, p.FetchCalls)
	return calls
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FetchCalls = nil
}

// Ensure Provider implements dict.Provider at compile time.
var _ dict.Provider = (*Provider)(nil)
