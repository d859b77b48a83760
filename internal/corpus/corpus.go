// Package corpus implements on-demand search corpora over wordlist
// vocabularies.
//
// A corpus is a normalized term set indexed for fuzzy matching and,
// optionally, for semantic matching through an embeddings backend with
// vectors stored in PostgreSQL (pgvector). Corpora are cached with a TTL and
// rebuilt lazily on expiry; builds are single-flight per corpus name.
// Mutating the source vocabulary invalidates the corpus explicitly.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
)

// Item is one searchable vocabulary entry.
type Item struct {
	// Key identifies the entry in its source (a wordlist id, a word id).
	Key string

	// Term is the searchable text.
	Term string
}

// Match is one search hit, ordered by descending score.
type Match struct {
	Key   string
	Term  string
	Score float64
}

// LoadFunc produces the current vocabulary of a corpus. Called at build time
// and again on every lazy rebuild after expiry or invalidation.
type LoadFunc func(ctx context.Context) ([]Item, error)

// semanticAutoThreshold is the vocabulary size above which semantic matching
// turns on when the caller leaves the choice open.
const semanticAutoThreshold = 100

// semanticWeight is the fixed blend weight of the semantic score against the
// fuzzy score.
const semanticWeight = 0.4

type corpus struct {
	name     string
	items    []Item
	norms    []string
	expires  time.Time
	ttl      time.Duration
	load     LoadFunc
	semantic bool // vectors indexed for this corpus
}

// Manager owns all live corpora. Construct with [NewManager]; safe for
// concurrent use.
type Manager struct {
	sem *SemanticIndex // nil when semantic search is disabled

	mu      sync.Mutex
	corpora map[string]*corpus
	build   singleflight.Group
	log     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// NewManager constructs a Manager. sem may be nil, in which case every corpus
// is fuzzy-only.
func NewManager(sem *SemanticIndex, opts ...Option) *Manager {
	m := &Manager{
		sem:     sem,
		corpora: make(map[string]*corpus),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateOrGet ensures a corpus named name exists and is fresh, building it
// from load if missing or expired. Concurrent builds of the same corpus
// coalesce.
func (m *Manager) CreateOrGet(ctx context.Context, name string, ttl time.Duration, load LoadFunc) error {
	m.mu.Lock()
	c, ok := m.corpora[name]
	fresh := ok && time.Now().Before(c.expires)
	if ok {
		// Keep the newest loader so invalidation-driven rebuilds see current
		// source data.
		c.load = load
		c.ttl = ttl
	}
	m.mu.Unlock()

	if fresh {
		return nil
	}
	return m.rebuild(ctx, name, ttl, load)
}

// rebuild builds (or replaces) the corpus, single-flight per name.
func (m *Manager) rebuild(ctx context.Context, name string, ttl time.Duration, load LoadFunc) error {
	_, err, _ := m.build.Do(name, func() (any, error) {
		items, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("corpus: build %q: %w", name, err)
		}

		c := &corpus{
			name:    name,
			items:   items,
			norms:   make([]string, len(items)),
			expires: time.Now().Add(ttl),
			ttl:     ttl,
			load:    load,
		}
		for i, it := range items {
			c.norms[i] = model.NormalizeText(it.Term)
		}

		if m.sem != nil && len(items) > 0 {
			if err := m.sem.index(ctx, name, items); err != nil {
				m.log.Warn("semantic indexing failed, corpus is fuzzy-only",
					"corpus", name, "error", err)
			} else {
				c.semantic = true
			}
		}

		m.mu.Lock()
		m.corpora[name] = c
		m.mu.Unlock()

		m.log.Debug("corpus built", "corpus", name, "entries", len(items), "semantic", c.semantic)
		return nil, nil
	})
	return err
}

// Search queries the named corpus. semantic nil leaves the choice to the
// auto heuristic (vocabulary larger than 100 entries). minScore is the base
// threshold; short queries get a lowered adaptive threshold.
func (m *Manager) Search(ctx context.Context, name, query string, maxResults int, minScore float64, semantic *bool) ([]Match, error) {
	// Snapshot the rebuild inputs while holding the lock: Invalidate and
	// CreateOrGet write expires, ttl, and load under it.
	m.mu.Lock()
	c, ok := m.corpora[name]
	var (
		expired bool
		ttl     time.Duration
		load    LoadFunc
	)
	if ok {
		expired = time.Now().After(c.expires)
		ttl = c.ttl
		load = c.load
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("corpus: %q: %w", name, apperr.ErrNotFound)
	}

	if expired {
		if err := m.rebuild(ctx, name, ttl, load); err != nil {
			return nil, err
		}
		m.mu.Lock()
		c, ok = m.corpora[name]
		m.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("corpus: %q: %w", name, apperr.ErrNotFound)
		}
	}

	q := model.NormalizeText(query)
	if q == "" {
		return nil, &apperr.ValidationError{Field: "query", Message: "must not be empty", Code: "required"}
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	threshold := adaptiveMinScore(q, minScore)

	useSemantic := c.semantic && m.sem != nil
	if semantic != nil {
		useSemantic = useSemantic && *semantic
	} else {
		useSemantic = useSemantic && len(c.items) > semanticAutoThreshold
	}

	scores := make([]float64, len(c.items))
	for i, norm := range c.norms {
		scores[i] = fuzzyScore(q, norm)
	}

	if useSemantic {
		sims, err := m.sem.search(ctx, name, query)
		if err != nil {
			m.log.Warn("semantic search failed, using fuzzy only", "corpus", name, "error", err)
		} else {
			for i, it := range c.items {
				if sim, ok := sims[it.Key]; ok {
					scores[i] = (1-semanticWeight)*scores[i] + semanticWeight*sim
				}
			}
		}
	}

	var matches []Match
	for i, score := range scores {
		if score < threshold {
			continue
		}
		matches = append(matches, Match{Key: c.items[i].Key, Term: c.items[i].Term, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return strings.Compare(matches[i].Term, matches[j].Term) < 0
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches, nil
}

// Invalidate marks the named corpus stale; the next search rebuilds it from
// its loader. Unknown names are ignored.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.corpora[name]; ok {
		c.expires = time.Time{}
	}
}

// Remove drops the named corpus and its semantic vectors. Unknown names are
// ignored.
func (m *Manager) Remove(ctx context.Context, name string) {
	m.mu.Lock()
	_, ok := m.corpora[name]
	delete(m.corpora, name)
	m.mu.Unlock()

	if ok && m.sem != nil {
		if err := m.sem.remove(ctx, name); err != nil {
			m.log.Warn("semantic vector cleanup failed", "corpus", name, "error", err)
		}
	}
}
