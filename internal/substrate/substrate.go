// Package substrate is the single entry point for every LLM call in lexibase.
//
// It layers, outside-in: a content-addressed TTL response cache, single-flight
// deduplication with a bounded wait, per-caller rate and token limiting, a
// circuit breaker per model tier, bounded retries for transient failures, and
// JSON-schema validation of every structured response.
//
// # Keying
//
// Responses are cached and deduplicated by the tuple (task, prompt, schema,
// tier): two calls with identical tuples within the TTL dispatch exactly one
// network request, regardless of caller.
//
// # Single-flight fallback
//
// A caller coalesced onto another caller's in-flight computation waits at
// most the configured max wait; past that it falls back to an independent
// call so one slow request cannot stall every duplicate behind it.
package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/observe"
	"github.com/lexibase/lexibase/internal/resilience"
	"github.com/lexibase/lexibase/pkg/provider/llm"
)

// Request describes one structured LLM call.
type Request struct {
	// Task tags the call; it selects the model tier and temperature and is
	// part of the cache key.
	Task Task

	// Prompt is the full user prompt.
	Prompt string

	// SystemPrompt optionally overrides the role instruction for this call.
	SystemPrompt string

	// Schema is the JSON schema the response must conform to. Required.
	Schema []byte

	// Caller identifies the principal charged for this call (authenticated
	// principal, else source address). Required.
	Caller string

	// TTL is the cache lifetime for the validated response. Zero uses the
	// substrate default.
	TTL time.Duration

	// Tier overrides the complexity class derived from Task.
	Tier Complexity

	// MaxTokens caps the visible completion length. Zero uses the provider
	// default. Reasoning-class models get a widened budget automatically.
	MaxTokens int
}

// Result is a schema-validated LLM response plus usage metadata.
type Result struct {
	// Data is the validated JSON payload.
	Data json.RawMessage

	// Usage is the token accounting reported by the backend. Zero when the
	// result came from cache.
	Usage llm.Usage

	// Model is the identifier of the model that produced Data.
	Model string

	// Cached reports whether Data was served from the response cache.
	Cached bool

	// Elapsed is the wall time of the network call; zero for cache hits.
	Elapsed time.Duration
}

// Option configures a Substrate.
type Option func(*Substrate)

// WithDefaultTTL sets the cache TTL used when a request does not supply one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Substrate) {
		s.defaultTTL = ttl
	}
}

// WithDedupMaxWait bounds how long a coalesced caller waits on an in-flight
// computation before falling back to an independent call.
func WithDedupMaxWait(d time.Duration) Option {
	return func(s *Substrate) {
		s.dedupMaxWait = d
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Substrate) {
		s.log = logger
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Substrate) {
		s.metrics = m
	}
}

// Substrate coordinates all LLM traffic. Construct with [New]; safe for
// concurrent use.
type Substrate struct {
	tiers   map[Complexity]llm.Provider
	limiter *Limiter

	cache     *responseCache
	validator *schemaValidator
	inflight  singleflight.Group
	breakers  map[Complexity]*resilience.CircuitBreaker

	defaultTTL   time.Duration
	dedupMaxWait time.Duration
	log          *slog.Logger
	metrics      *observe.Metrics
}

// New constructs a Substrate over one provider per complexity class. Missing
// tiers fall back to the medium provider, then to any present tier; at least
// one tier must be set.
func New(tiers map[Complexity]llm.Provider, limiter *Limiter, opts ...Option) (*Substrate, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("substrate: at least one model tier is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("substrate: limiter is required")
	}

	filled := make(map[Complexity]llm.Provider, 3)
	fallback := tiers[ComplexityMedium]
	if fallback == nil {
		for _, p := range tiers {
			fallback = p
			break
		}
	}
	for _, tier := range []Complexity{ComplexityHigh, ComplexityMedium, ComplexityLow} {
		if p := tiers[tier]; p != nil {
			filled[tier] = p
		} else {
			filled[tier] = fallback
		}
	}

	s := &Substrate{
		tiers:        filled,
		limiter:      limiter,
		cache:        newResponseCache(),
		validator:    newSchemaValidator(),
		breakers:     make(map[Complexity]*resilience.CircuitBreaker, 3),
		defaultTTL:   24 * time.Hour,
		dedupMaxWait: 25 * time.Second,
		log:          slog.Default(),
	}
	for tier := range filled {
		s.breakers[tier] = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm-" + string(tier)})
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Limiter exposes the substrate's rate limiter, used by the API layer for
// rate-limit response headers.
func (s *Substrate) Limiter() *Limiter {
	return s.limiter
}

// Do executes one structured LLM call end to end: cache lookup, single-flight
// coalescing, rate-limit admission, dispatch with retries, schema validation,
// and cache fill.
func (s *Substrate) Do(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	tier := req.Tier
	if !tier.IsValid() {
		tier = complexityFor(req.Task)
	}
	key := cacheKey(req.Task, req.Prompt, req.Schema, tier)

	if e, ok := s.cache.get(key); ok {
		s.metrics.RecordCacheEvent(ctx, "llm", true)
		return &Result{Data: e.data, Usage: e.usage, Model: e.model, Cached: true}, nil
	}
	s.metrics.RecordCacheEvent(ctx, "llm", false)

	ch := s.inflight.DoChan(key, func() (any, error) {
		return s.dispatch(ctx, req, tier, key)
	})

	wait := time.NewTimer(s.dedupMaxWait)
	defer wait.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.(*Result)
		if res.Shared {
			// Coalesced callers get the same bytes but their own Result.
			shared := *out
			return &shared, nil
		}
		return out, nil
	case <-wait.C:
		// The in-flight computation is slow; fall through to an independent
		// call rather than stalling behind it.
		s.log.Debug("single-flight wait exceeded, running independently",
			"task", req.Task, "max_wait", s.dedupMaxWait)
		out, err := s.dispatch(ctx, req, tier, key)
		if err != nil {
			return nil, err
		}
		return out.(*Result), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("substrate: %s: %w", req.Task, apperr.ErrCancelled)
	}
}

// dispatch performs the network call: admission, completion with retries,
// validation, commit, cache fill.
func (s *Substrate) dispatch(ctx context.Context, req Request, tier Complexity, key string) (any, error) {
	provider := s.tiers[tier]
	caps := provider.Capabilities()

	est := s.estimateTokens(provider, req)
	if err := s.limiter.Admit(req.Caller, est); err != nil {
		return nil, err
	}

	comp := llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		JSONOnly:     true,
	}
	if caps.Reasoning {
		comp.MaxTokens = reasoningBudget(req.MaxTokens)
	} else {
		comp.Temperature = temperatureFor(req.Task)
	}

	var resp *llm.CompletionResponse
	start := time.Now()
	err := withRetry(ctx, func() error {
		execErr := s.breakers[tier].Execute(func() error {
			var callErr error
			resp, callErr = provider.Complete(ctx, comp)
			switch {
			case callErr == nil:
				return nil
			case errors.Is(callErr, context.Canceled):
				return callErr
			case errors.Is(callErr, context.DeadlineExceeded):
				return fmt.Errorf("llm: %v: %w", callErr, apperr.ErrTimeout)
			default:
				return &apperr.UpstreamError{Service: "llm", Err: callErr}
			}
		})
		if errors.Is(execErr, resilience.ErrCircuitOpen) {
			return &apperr.ServiceUnavailableError{Service: "llm"}
		}
		return execErr
	})
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.limiter.Release(req.Caller)
			return nil, fmt.Errorf("substrate: %s: %w", req.Task, apperr.ErrCancelled)
		}
		return nil, err
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return nil, fmt.Errorf("substrate: %s: %w", req.Task, apperr.ErrEmptyResponse)
	}
	content = stripFences(content)

	if err := s.validator.validate(req.Schema, []byte(content)); err != nil {
		return nil, err
	}

	s.limiter.Commit(req.Caller, est, resp.Usage.TotalTokens)
	s.metrics.RecordLLMTokens(ctx, int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	s.metrics.LLMDuration.Record(ctx, elapsed.Seconds())

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	data := json.RawMessage(content)
	s.cache.put(key, cached{
		data:    data,
		usage:   resp.Usage,
		model:   resp.Model,
		expires: time.Now().Add(ttl),
	})

	s.log.Debug("llm call complete",
		"task", req.Task,
		"tier", tier,
		"model", resp.Model,
		"total_tokens", resp.Usage.TotalTokens,
		"elapsed", elapsed,
	)

	return &Result{Data: data, Usage: resp.Usage, Model: resp.Model, Elapsed: elapsed}, nil
}

// estimateTokens asks the provider for a count and pads for the completion.
// Falls back to a character heuristic when the provider cannot count.
func (s *Substrate) estimateTokens(provider llm.Provider, req Request) int {
	messages := []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}}
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	n, err := provider.CountTokens(messages)
	if err != nil || n <= 0 {
		n = len(req.Prompt) / 3
	}
	// Reserve headroom for the completion itself.
	return n + 500
}

func validateRequest(req Request) error {
	if req.Task == "" {
		return &apperr.ValidationError{Field: "task", Message: "must not be empty", Code: "required"}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return &apperr.ValidationError{Field: "prompt", Message: "must not be empty", Code: "required"}
	}
	if len(req.Schema) == 0 {
		return &apperr.ValidationError{Field: "schema", Message: "must not be empty", Code: "required"}
	}
	if req.Caller == "" {
		return &apperr.ValidationError{Field: "caller", Message: "must not be empty", Code: "required"}
	}
	return nil
}

// stripFences removes a markdown code fence wrapper if the model added one
// despite the JSON-only instruction.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
