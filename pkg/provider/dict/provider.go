// Package dict defines the Provider interface for external dictionary sources.
//
// A dictionary provider wraps one upstream source (e.g., the Wiktionary REST
// API, the Free Dictionary API, or a platform dictionary service) and exposes
// a uniform fetch operation returning the source's data normalized to the
// internal shape. Providers differ wildly in their upstream formats; all of
// that variance stays inside the provider subpackage.
//
// Not-found is a soft signal: providers return [ErrNotFound] and the lookup
// pipeline treats the provider as missing rather than failing the lookup.
//
// Implementations must be safe for concurrent use.
package dict

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrNotFound reports that the provider has no entry for the requested word.
// Distinct from transport errors: the provider was reachable and answered.
var ErrNotFound = errors.New("dict: word not found")

// ErrUnavailable reports that the provider cannot run in this environment
// (e.g., a platform dictionary service off-platform). Check Available()
// before fetching to avoid it.
var ErrUnavailable = errors.New("dict: provider unavailable")

// Definition is one sense of a word as reported by a provider, before
// persistence.
type Definition struct {
	PartOfSpeech string
	Text         string
	SenseNumber  int
	Synonyms     []string
	Antonyms     []string
	Examples     []string
}

// Pronunciation is the phonetic data a provider reports for a word.
type Pronunciation struct {
	Phonetic string
	IPA      string
	// AudioURLs point at provider-hosted audio files. Media download and
	// storage happen outside the provider.
	AudioURLs []string
}

// Result is a provider's complete answer for one word.
type Result struct {
	// Provider is the name of the provider that produced this result.
	Provider string

	// Word is the headword as the provider spells it.
	Word string

	Definitions   []Definition
	Pronunciation *Pronunciation
	Etymology     string

	// Raw is the provider's response as compact JSON, retained so definitions
	// can be re-normalized without refetching.
	Raw []byte
}

// Provider is the abstraction over one external dictionary source.
type Provider interface {
	// Name returns the provider's stable identifier (e.g., "wiktionary").
	Name() string

	// Available reports whether the provider can serve fetches in this
	// environment. Unavailability is a capability flag, not an error.
	Available() bool

	// Fetch retrieves and normalizes the provider's data for word in the
	// given language. Returns ErrNotFound when the provider has no entry,
	// ErrUnavailable when Available() is false.
	Fetch(ctx context.Context, word, language string) (*Result, error)
}

// limited wraps a Provider with a token-bucket outbound rate limit.
type limited struct {
	Provider
	bucket *rate.Limiter
}

// Limited wraps p so that fetches wait on a token bucket admitting rps
// requests per second with a burst of one. Passing rps <= 0 returns p
// unchanged.
func Limited(p Provider, rps float64) Provider {
	if rps <= 0 {
		return p
	}
	return &limited{Provider: p, bucket: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *limited) Fetch(ctx context.Context, word, language string) (*Result, error) {
	if err := l.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.Fetch(ctx, word, language)
}
