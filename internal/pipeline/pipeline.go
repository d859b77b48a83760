// Package pipeline implements the staged lookup orchestration: resolve the
// headword, check the synthesized-entry cache, fan out to dictionary
// providers, cluster and synthesize definitions through the LLM substrate,
// persist the entry, and optionally kick off enhancement.
//
// Stages run strictly in order and each emits a progress event before it
// starts. Concurrent identical lookups (same word, provider set, and no_ai
// flag) coalesce onto one in-flight run with a bounded wait; past the wait a
// caller falls back to an independent run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/observe"
	"github.com/lexibase/lexibase/internal/progress"
	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/internal/synth"
	"github.com/lexibase/lexibase/pkg/provider/dict"
)

// Narrow persistence seams, satisfied by the [store.Store] repositories.
type (
	wordStore interface {
		GetOrCreate(ctx context.Context, text, language string) (*model.Word, error)
	}
	definitionStore interface {
		Create(ctx context.Context, d *model.Definition) error
		Update(ctx context.Context, d *model.Definition) error
		ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Definition, error)
	}
	exampleStore interface {
		Create(ctx context.Context, e *model.Example) error
		ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Example, error)
	}
	pronunciationStore interface {
		Create(ctx context.Context, p *model.Pronunciation) error
		Get(ctx context.Context, id uuid.UUID) (*model.Pronunciation, error)
	}
	providerDataStore interface {
		Upsert(ctx context.Context, pd *model.ProviderData) error
	}
	entryStore interface {
		GetByWord(ctx context.Context, wordID uuid.UUID) (*model.SynthesizedEntry, error)
		BumpAccess(ctx context.Context, e *model.SynthesizedEntry) error
		Create(ctx context.Context, e *model.SynthesizedEntry) error
		Replace(ctx context.Context, e *model.SynthesizedEntry) error
	}
	factStore interface {
		ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Fact, error)
	}
)

// stores bundles the slice of the persistence layer the pipeline touches.
type stores struct {
	words          wordStore
	definitions    definitionStore
	examples       exampleStore
	pronunciations pronunciationStore
	providerData   providerDataStore
	entries        entryStore
	facts          factStore
}

// Input is one lookup request.
type Input struct {
	// Word is the headword to look up. Required.
	Word string

	// Providers restricts the fan-out to the named providers, in the given
	// order. Empty means all configured providers.
	Providers []string

	// Languages lists the requested languages; only the first is used for
	// resolution. Empty defaults to "en".
	Languages []string

	// ForceRefresh bypasses the synthesized-entry cache and replaces the
	// stored entry. Forced lookups never coalesce with concurrent ones.
	ForceRefresh bool

	// NoAI stops the pipeline after the provider fan-out; the result is
	// materialized from provider data only and no entry is persisted.
	NoAI bool

	// Caller identifies the principal charged for LLM traffic.
	Caller string

	// Tracker receives progress updates. Nil disables progress reporting.
	Tracker *progress.Tracker
}

// Result is the lookup projection returned to clients.
type Result struct {
	Word *model.Word

	// Entry is the persisted synthesized entry. Nil for no_ai lookups, which
	// carry provider data only.
	Entry *model.SynthesizedEntry

	Definitions   []*model.Definition
	Examples      map[uuid.UUID][]*model.Example
	Pronunciation *model.Pronunciation
	Facts         []*model.Fact

	// CacheHit reports whether Entry was served from persistence without
	// running the synthesis stages.
	CacheHit bool
}

// Enhancer runs facet enhancement over freshly synthesized definitions.
// Satisfied by the enhancement engine; decoupled here so the pipeline does
// not depend on it.
type Enhancer interface {
	Enhance(ctx context.Context, caller string, w *model.Word, defs []*model.Definition, components []string, force bool) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnhancer enables the post-persistence enhancement stage over the given
// default component set.
func WithEnhancer(e Enhancer, components []string) Option {
	return func(p *Pipeline) {
		p.enhancer = e
		p.enhanceComponents = components
	}
}

// WithDedupMaxWait bounds how long a coalesced lookup waits on the in-flight
// run before falling back to an independent one.
func WithDedupMaxWait(d time.Duration) Option {
	return func(p *Pipeline) {
		p.dedupMaxWait = d
	}
}

// WithProviderTimeout bounds a single provider fetch.
func WithProviderTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.providerTimeout = d
	}
}

// WithLookupTimeout bounds a whole lookup run.
func WithLookupTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.lookupTimeout = d
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = logger
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline executes lookups. Construct with [New]; safe for concurrent use.
type Pipeline struct {
	store     stores
	synth     *synth.Synthesizer
	providers []dict.Provider
	byName    map[string]dict.Provider

	enhancer          Enhancer
	enhanceComponents []string

	inflight        singleflight.Group
	dedupMaxWait    time.Duration
	providerTimeout time.Duration
	lookupTimeout   time.Duration
	log             *slog.Logger
	metrics         *observe.Metrics
}

// New constructs a Pipeline over the given store, synthesizer, and provider
// fan-out order.
func New(st *store.Store, sy *synth.Synthesizer, providers []dict.Provider, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, fmt.Errorf("pipeline: store is required")
	}
	if sy == nil {
		return nil, fmt.Errorf("pipeline: synthesizer is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("pipeline: at least one dictionary provider is required")
	}

	byName := make(map[string]dict.Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, fmt.Errorf("pipeline: duplicate provider %q", p.Name())
		}
		byName[p.Name()] = p
	}

	p := &Pipeline{
		store: stores{
			words:          st.Words,
			definitions:    st.Definitions,
			examples:       st.Examples,
			pronunciations: st.Pronunciations,
			providerData:   st.ProviderData,
			entries:        st.Entries,
			facts:          st.Facts,
		},
		synth:           sy,
		providers:       providers,
		byName:          byName,
		dedupMaxWait:    25 * time.Second,
		providerTimeout: 15 * time.Second,
		lookupTimeout:   120 * time.Second,
		log:             slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Lookup runs one lookup end to end. Identical concurrent lookups share a
// single run; forced refreshes always run independently.
func (p *Pipeline) Lookup(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Word) == "" {
		return nil, &apperr.ValidationError{Field: "word", Message: "must not be empty", Code: "required"}
	}
	if in.Caller == "" {
		in.Caller = "anonymous"
	}
	if in.Tracker == nil {
		in.Tracker = progress.NewTracker(0)
	}

	provs, err := p.resolveProviders(in.Providers)
	if err != nil {
		return nil, err
	}

	if in.ForceRefresh {
		return p.run(ctx, in, provs)
	}

	key := lookupKey(in)
	ch := p.inflight.DoChan(key, func() (any, error) {
		return p.run(ctx, in, provs)
	})

	wait := time.NewTimer(p.dedupMaxWait)
	defer wait.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.(*Result)
		if res.Shared {
			// The initiating caller's tracker carried the stage updates; this
			// caller only sees the terminal state.
			in.Tracker.UpdateComplete("lookup complete", map[string]any{"word": in.Word, "shared": true})
			shared := *out
			return &shared, nil
		}
		return out, nil
	case <-wait.C:
		p.log.Debug("lookup single-flight wait exceeded, running independently",
			"word", in.Word, "max_wait", p.dedupMaxWait)
		return p.run(ctx, in, provs)
	case <-ctx.Done():
		in.Tracker.UpdateError(progress.StageCacheCheck, "lookup cancelled")
		return nil, fmt.Errorf("pipeline: lookup %q: %w", in.Word, apperr.ErrCancelled)
	}
}

// lookupKey builds the single-flight key for a lookup.
func lookupKey(in Input) string {
	lang := "en"
	if len(in.Languages) > 0 {
		lang = in.Languages[0]
	}
	return strings.Join([]string{
		model.NormalizeText(in.Word),
		lang,
		strings.Join(in.Providers, ","),
		fmt.Sprint(in.NoAI),
	}, "\x00")
}

// resolveProviders maps requested names to providers, preserving request
// order. Unknown names are a validation error.
func (p *Pipeline) resolveProviders(names []string) ([]dict.Provider, error) {
	if len(names) == 0 {
		return p.providers, nil
	}
	provs := make([]dict.Provider, 0, len(names))
	for _, name := range names {
		prov, ok := p.byName[name]
		if !ok {
			return nil, &apperr.ValidationError{
				Field:   "providers",
				Message: fmt.Sprintf("unknown provider %q", name),
				Code:    "unknown_provider",
			}
		}
		provs = append(provs, prov)
	}
	return provs, nil
}

// run executes the pipeline stages in order.
func (p *Pipeline) run(ctx context.Context, in Input, provs []dict.Provider) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.lookupTimeout)
	defer cancel()

	t := in.Tracker
	lang := "en"
	if len(in.Languages) > 0 {
		lang = in.Languages[0]
	}

	// ─── Stage 1: resolve ────────────────────────────────────────────────

	t.Update(progress.StageResolve, 0.05, "resolving word", nil)
	w, err := p.store.words.GetOrCreate(ctx, in.Word, lang)
	if err != nil {
		return p.fail(t, progress.StageResolve, err)
	}

	// ─── Stage 2: cache check ────────────────────────────────────────────

	t.Update(progress.StageCacheCheck, 0.1, "checking for existing entry", nil)
	if !in.ForceRefresh {
		entry, err := p.store.entries.GetByWord(ctx, w.ID)
		switch {
		case err == nil:
			p.metrics.RecordCacheEvent(ctx, "entry", true)
			// The returned projection carries the post-bump statistics.
			if err := p.store.entries.BumpAccess(ctx, entry); err != nil {
				p.log.Warn("bump access failed", "word", w.Text, "error", err)
			}
			res, err := p.project(ctx, w, entry)
			if err != nil {
				return p.fail(t, progress.StageCacheCheck, err)
			}
			res.CacheHit = true
			t.UpdateComplete("lookup complete", map[string]any{"word": w.Text, "cache_hit": true})
			return res, nil
		case errors.Is(err, apperr.ErrNotFound):
			p.metrics.RecordCacheEvent(ctx, "entry", false)
			// Fall through to the full pipeline.
		default:
			return p.fail(t, progress.StageCacheCheck, err)
		}
	}

	// ─── Stage 3: provider fan-out ───────────────────────────────────────

	t.Update(progress.StageProviderFetch, 0.2, "fetching dictionary providers",
		map[string]any{"providers": providerNames(provs)})
	fetched, err := p.fanOut(ctx, w, lang, provs)
	if err != nil {
		return p.fail(t, progress.StageProviderFetch, err)
	}

	if in.NoAI {
		res := p.materialize(w, fetched)
		t.UpdateComplete("lookup complete", map[string]any{"word": w.Text, "no_ai": true})
		return res, nil
	}

	usage := &synth.Usage{}

	// ─── Stage 4: cluster ────────────────────────────────────────────────

	t.Update(progress.StageCluster, 0.4, "clustering definitions",
		map[string]any{"definitions": len(fetched.definitions)})
	if err := p.synth.MapClusters(ctx, in.Caller, w.Text, fetched.definitions, usage); err != nil {
		return p.fail(t, progress.StageCluster, err)
	}
	for _, d := range fetched.definitions {
		if err := p.store.definitions.Update(ctx, d); err != nil {
			p.log.Warn("persist cluster assignment failed", "definition", d.ID, "error", err)
		}
	}

	// ─── Stage 5: per-cluster synthesis ──────────────────────────────────

	t.Update(progress.StageSynthesis, 0.55, "synthesizing definitions", nil)
	synthDefs, synthErrs := p.synth.SynthesizeClusters(ctx, in.Caller, w, fetched.definitions, usage)
	if len(synthDefs) == 0 {
		err := errors.Join(synthErrs...)
		if err == nil {
			err = fmt.Errorf("pipeline: no definitions synthesized for %q", w.Text)
		}
		return p.fail(t, progress.StageSynthesis, err)
	}
	for _, err := range synthErrs {
		p.log.Warn("cluster synthesis failed", "word", w.Text, "error", err)
	}

	// ─── Stage 6: word-level synthesis ───────────────────────────────────

	t.Update(progress.StageWordSynthesis, 0.7, "generating pronunciation, etymology, and facts", nil)

	pron := fetched.pronunciation
	if pron == nil {
		pron, err = p.synth.GeneratePronunciation(ctx, in.Caller, w, usage)
		if err != nil {
			p.log.Warn("pronunciation generation failed", "word", w.Text, "error", err)
			pron = nil
		}
	}

	etymology, err := p.synth.ExtractEtymology(ctx, in.Caller, w, fetched.etymologies, usage)
	if err != nil {
		p.log.Warn("etymology extraction failed", "word", w.Text, "error", err)
	}

	facts, err := p.synth.GenerateFacts(ctx, in.Caller, w, synthDefs[0], usage)
	if err != nil {
		p.log.Warn("fact generation failed", "word", w.Text, "error", err)
	}

	// ─── Stage 7: entry persistence ──────────────────────────────────────

	t.Update(progress.StagePersist, 0.9, "persisting entry", nil)
	entry := &model.SynthesizedEntry{
		WordID:                w.ID,
		DefinitionIDs:         definitionIDs(synthDefs),
		Etymology:             etymology,
		FactIDs:               factIDs(facts),
		ModelInfo:             usage.ModelInfo(),
		SourceProviderDataIDs: providerDataIDs(fetched.providerData),
	}
	if pron != nil {
		entry.PronunciationID = &pron.ID
	}
	if in.ForceRefresh {
		err = p.store.entries.Replace(ctx, entry)
	} else {
		err = p.store.entries.Create(ctx, entry)
	}
	if err != nil {
		return p.fail(t, progress.StagePersist, err)
	}

	// ─── Stage 8: enhancement ────────────────────────────────────────────

	if p.enhancer != nil && len(p.enhanceComponents) > 0 {
		t.Update(progress.StageEnhance, 0.95, "enhancing definitions",
			map[string]any{"components": p.enhanceComponents})
		if err := p.enhancer.Enhance(ctx, in.Caller, w, synthDefs, p.enhanceComponents, false); err != nil {
			p.log.Warn("enhancement failed", "word", w.Text, "error", err)
		}
	}

	res, err := p.project(ctx, w, entry)
	if err != nil {
		return p.fail(t, progress.StagePersist, err)
	}
	t.UpdateComplete("lookup complete", map[string]any{
		"word":        w.Text,
		"definitions": len(res.Definitions),
	})
	return res, nil
}

// fail emits the terminal error state and wraps the stage error.
func (p *Pipeline) fail(t *progress.Tracker, stage progress.Stage, err error) (*Result, error) {
	t.UpdateError(stage, err.Error())
	return nil, fmt.Errorf("pipeline: %s: %w", stage, err)
}

// fetchResult aggregates the persisted output of the provider fan-out.
type fetchResult struct {
	providerData  []*model.ProviderData
	definitions   []*model.Definition
	pronunciation *model.Pronunciation
	etymologies   []string
}

// fanOut fetches all providers concurrently, then persists successes in
// provider order so identical inputs produce identical persisted state. A
// provider failure is soft unless every provider fails.
func (p *Pipeline) fanOut(ctx context.Context, w *model.Word, lang string, provs []dict.Provider) (*fetchResult, error) {
	type fetchOut struct {
		res *dict.Result
		err error
	}
	outs := make([]fetchOut, len(provs))

	var wg sync.WaitGroup
	for i, prov := range provs {
		if !prov.Available() {
			outs[i] = fetchOut{err: dict.ErrUnavailable}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, p.providerTimeout)
			defer cancel()
			start := time.Now()
			res, err := prov.Fetch(fctx, w.Text, lang)
			p.metrics.ProviderFetchDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("provider", prov.Name())))
			outs[i] = fetchOut{res: res, err: err}
		}()
	}
	wg.Wait()

	out := &fetchResult{}
	successes := 0
	var hardErrs []error
	for i, o := range outs {
		name := provs[i].Name()
		if o.err != nil {
			switch {
			case errors.Is(o.err, dict.ErrNotFound):
				p.metrics.RecordProviderRequest(ctx, name, "not_found")
				p.log.Debug("provider skipped", "provider", name, "reason", o.err)
			case errors.Is(o.err, dict.ErrUnavailable):
				p.metrics.RecordProviderRequest(ctx, name, "unavailable")
				p.log.Debug("provider skipped", "provider", name, "reason", o.err)
			default:
				p.metrics.RecordProviderRequest(ctx, name, "error")
				p.metrics.RecordProviderError(ctx, name, errorKind(o.err))
				p.log.Warn("provider fetch failed", "provider", name, "error", o.err)
				hardErrs = append(hardErrs, fmt.Errorf("%s: %w", name, o.err))
			}
			continue
		}
		p.metrics.RecordProviderRequest(ctx, name, "ok")
		if err := p.persistProviderResult(ctx, w, o.res, out); err != nil {
			return nil, err
		}
		successes++
	}

	if successes == 0 {
		if len(hardErrs) > 0 {
			return nil, fmt.Errorf("pipeline: %q: %w: %w", w.Text, apperr.ErrAllProvidersFailed, errors.Join(hardErrs...))
		}
		return nil, fmt.Errorf("pipeline: word %q: %w", w.Text, apperr.ErrNotFound)
	}
	return out, nil
}

// persistProviderResult normalizes and persists one provider's result,
// folding it into acc.
func (p *Pipeline) persistProviderResult(ctx context.Context, w *model.Word, res *dict.Result, acc *fetchResult) error {
	var defIDs []uuid.UUID
	for _, pd := range res.Definitions {
		d := &model.Definition{
			WordID:       w.ID,
			PartOfSpeech: strings.ToLower(pd.PartOfSpeech),
			Text:         pd.Text,
			SenseNumber:  pd.SenseNumber,
			Synonyms:     pd.Synonyms,
			Antonyms:     pd.Antonyms,
		}
		if err := p.store.definitions.Create(ctx, d); err != nil {
			return err
		}
		for _, text := range pd.Examples {
			ex := &model.Example{DefinitionID: d.ID, Text: text, Type: model.ExampleProvider}
			if err := p.store.examples.Create(ctx, ex); err != nil {
				return err
			}
			d.ExampleIDs = append(d.ExampleIDs, ex.ID)
		}
		if len(d.ExampleIDs) > 0 {
			if err := p.store.definitions.Update(ctx, d); err != nil {
				return err
			}
		}
		defIDs = append(defIDs, d.ID)
		acc.definitions = append(acc.definitions, d)
	}

	data := &model.ProviderData{
		WordID:        w.ID,
		Provider:      res.Provider,
		DefinitionIDs: defIDs,
		Etymology:     res.Etymology,
		RawData:       res.Raw,
	}

	if res.Pronunciation != nil {
		pron := &model.Pronunciation{
			WordID:   w.ID,
			Phonetic: res.Pronunciation.Phonetic,
			IPA:      normalizeIPA(res.Pronunciation.IPA),
		}
		if err := p.store.pronunciations.Create(ctx, pron); err != nil {
			return err
		}
		data.PronunciationID = &pron.ID
		if acc.pronunciation == nil {
			acc.pronunciation = pron
		}
	}

	if err := p.store.providerData.Upsert(ctx, data); err != nil {
		return err
	}
	acc.providerData = append(acc.providerData, data)
	if res.Etymology != "" {
		acc.etymologies = append(acc.etymologies, res.Etymology)
	}
	return nil
}

// materialize builds a provider-data-only result for no_ai lookups. Nothing
// beyond the provider artifacts is persisted.
func (p *Pipeline) materialize(w *model.Word, fetched *fetchResult) *Result {
	res := &Result{
		Word:          w,
		Definitions:   fetched.definitions,
		Examples:      make(map[uuid.UUID][]*model.Example),
		Pronunciation: fetched.pronunciation,
	}
	return res
}

// project loads the full client projection for a persisted entry.
func (p *Pipeline) project(ctx context.Context, w *model.Word, entry *model.SynthesizedEntry) (*Result, error) {
	defs, err := p.store.definitions.ListByIDs(ctx, entry.DefinitionIDs)
	if err != nil {
		return nil, err
	}

	examples := make(map[uuid.UUID][]*model.Example, len(defs))
	for _, d := range defs {
		if len(d.ExampleIDs) == 0 {
			continue
		}
		exs, err := p.store.examples.ListByIDs(ctx, d.ExampleIDs)
		if err != nil {
			return nil, err
		}
		examples[d.ID] = exs
	}

	var pron *model.Pronunciation
	if entry.PronunciationID != nil {
		pron, err = p.store.pronunciations.Get(ctx, *entry.PronunciationID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	var facts []*model.Fact
	if len(entry.FactIDs) > 0 {
		facts, err = p.store.facts.ListByIDs(ctx, entry.FactIDs)
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		Word:          w,
		Entry:         entry,
		Definitions:   defs,
		Examples:      examples,
		Pronunciation: pron,
		Facts:         facts,
	}, nil
}

// errorKind classifies a hard provider failure for the error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fetch"
	}
}

// normalizeIPA strips the slash or bracket delimiters providers wrap IPA
// transcriptions in.
func normalizeIPA(ipa string) string {
	ipa = strings.TrimSpace(ipa)
	ipa = strings.Trim(ipa, "/[]")
	return strings.TrimSpace(ipa)
}

func providerNames(provs []dict.Provider) []string {
	names := make([]string, len(provs))
	for i, p := range provs {
		names[i] = p.Name()
	}
	return names
}

func definitionIDs(defs []*model.Definition) []uuid.UUID {
	ids := make([]uuid.UUID, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

func factIDs(facts []*model.Fact) []uuid.UUID {
	ids := make([]uuid.UUID, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	return ids
}

func providerDataIDs(pds []*model.ProviderData) []uuid.UUID {
	ids := make([]uuid.UUID, len(pds))
	for i, pd := range pds {
		ids[i] = pd.ID
	}
	return ids
}
