package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/observe"
	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/internal/synth"
	"github.com/lexibase/lexibase/pkg/provider/dict"
	dictmock "github.com/lexibase/lexibase/pkg/provider/dict/mock"
)

// ─── In-memory persistence double ────────────────────────────────────────────

// fakeDB backs one fake repo per store seam so Lookup can run without
// PostgreSQL.
type fakeDB struct {
	mu             sync.Mutex
	words          map[string]*model.Word
	definitions    map[uuid.UUID]*model.Definition
	examples       map[uuid.UUID]*model.Example
	pronunciations map[uuid.UUID]*model.Pronunciation
	providerData   []*model.ProviderData
	entries        map[uuid.UUID]*model.SynthesizedEntry // keyed by word id
	facts          map[uuid.UUID]*model.Fact
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		words:          make(map[string]*model.Word),
		definitions:    make(map[uuid.UUID]*model.Definition),
		examples:       make(map[uuid.UUID]*model.Example),
		pronunciations: make(map[uuid.UUID]*model.Pronunciation),
		entries:        make(map[uuid.UUID]*model.SynthesizedEntry),
		facts:          make(map[uuid.UUID]*model.Fact),
	}
}

func (db *fakeDB) stores() stores {
	return stores{
		words:          &fakeWords{db},
		definitions:    &fakeDefinitions{db},
		examples:       &fakeExamples{db},
		pronunciations: &fakePronunciations{db},
		providerData:   &fakeProviderData{db},
		entries:        &fakeEntries{db},
		facts:          &fakeFacts{db},
	}
}

// seedEntry stores a word with one definition and a synthesized entry,
// simulating a previously completed lookup.
func (db *fakeDB) seedEntry(word, language string, accessCount int64) (*model.Word, *model.SynthesizedEntry) {
	db.mu.Lock()
	defer db.mu.Unlock()

	w := &model.Word{
		Meta:       model.Meta{ID: uuid.New()},
		Text:       word,
		Normalized: model.NormalizeText(word),
		Language:   language,
	}
	db.words[w.Normalized+"/"+language] = w

	d := &model.Definition{Meta: model.Meta{ID: uuid.New()}, WordID: w.ID, Text: "stored definition"}
	db.definitions[d.ID] = d

	e := &model.SynthesizedEntry{
		Meta:          model.Meta{ID: uuid.New()},
		WordID:        w.ID,
		DefinitionIDs: []uuid.UUID{d.ID},
		AccessCount:   accessCount,
	}
	db.entries[w.ID] = e
	return w, e
}

type fakeWords struct{ db *fakeDB }

func (f *fakeWords) GetOrCreate(_ context.Context, text, language string) (*model.Word, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	key := model.NormalizeText(text) + "/" + language
	if w, ok := f.db.words[key]; ok {
		return w, nil
	}
	w := &model.Word{
		Meta:       model.Meta{ID: uuid.New()},
		Text:       strings.TrimSpace(text),
		Normalized: model.NormalizeText(text),
		Language:   language,
	}
	f.db.words[key] = w
	return w, nil
}

type fakeDefinitions struct{ db *fakeDB }

func (f *fakeDefinitions) Create(_ context.Context, d *model.Definition) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	f.db.definitions[d.ID] = d
	return nil
}

func (f *fakeDefinitions) Update(_ context.Context, d *model.Definition) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	f.db.definitions[d.ID] = d
	return nil
}

func (f *fakeDefinitions) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*model.Definition, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*model.Definition
	for _, id := range ids {
		if d, ok := f.db.definitions[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeExamples struct{ db *fakeDB }

func (f *fakeExamples) Create(_ context.Context, e *model.Example) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.db.examples[e.ID] = e
	return nil
}

func (f *fakeExamples) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*model.Example, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*model.Example
	for _, id := range ids {
		if e, ok := f.db.examples[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePronunciations struct{ db *fakeDB }

func (f *fakePronunciations) Create(_ context.Context, p *model.Pronunciation) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.db.pronunciations[p.ID] = p
	return nil
}

func (f *fakePronunciations) Get(_ context.Context, id uuid.UUID) (*model.Pronunciation, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if p, ok := f.db.pronunciations[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("pronunciation %s: %w", id, apperr.ErrNotFound)
}

type fakeProviderData struct{ db *fakeDB }

func (f *fakeProviderData) Upsert(_ context.Context, pd *model.ProviderData) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if pd.ID == uuid.Nil {
		pd.ID = uuid.New()
	}
	f.db.providerData = append(f.db.providerData, pd)
	return nil
}

type fakeEntries struct{ db *fakeDB }

func (f *fakeEntries) GetByWord(_ context.Context, wordID uuid.UUID) (*model.SynthesizedEntry, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if e, ok := f.db.entries[wordID]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("entry for word %s: %w", wordID, apperr.ErrNotFound)
}

func (f *fakeEntries) BumpAccess(_ context.Context, e *model.SynthesizedEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	e.AccessCount++
	e.AccessedAt = time.Now()
	return nil
}

func (f *fakeEntries) Create(_ context.Context, e *model.SynthesizedEntry) error {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.db.entries[e.WordID] = e
	return nil
}

func (f *fakeEntries) Replace(_ context.Context, e *model.SynthesizedEntry) error {
	return f.Create(context.Background(), e)
}

type fakeFacts struct{ db *fakeDB }

func (f *fakeFacts) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*model.Fact, error) {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	var out []*model.Fact
	for _, id := range ids {
		if fa, ok := f.db.facts[id]; ok {
			out = append(out, fa)
		}
	}
	return out, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func testPipeline(t *testing.T, provs ...dict.Provider) *Pipeline {
	t.Helper()
	p, _ := newFakePipeline(t, provs)
	return p
}

func newFakePipeline(t *testing.T, provs []dict.Provider, opts ...Option) (*Pipeline, *fakeDB) {
	t.Helper()
	if len(provs) == 0 {
		provs = []dict.Provider{&dictmock.Provider{}}
	}
	p, err := New(store.New(nil), synth.New(nil, nil, nil), provs, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	db := newFakeDB()
	p.store = db.stores()
	return p, db
}

func catResult(provider string) *dict.Result {
	return &dict.Result{
		Provider: provider,
		Word:     "cat",
		Definitions: []dict.Definition{
			{PartOfSpeech: "Noun", Text: "a small domesticated felid", SenseNumber: 1, Examples: []string{"the cat sat on the mat"}},
		},
		Pronunciation: &dict.Pronunciation{IPA: "/kæt/"},
	}
}

// ─── Constructor and helper tests ────────────────────────────────────────────

func TestNew_RejectsDuplicateProviders(t *testing.T) {
	t.Parallel()

	provs := []dict.Provider{
		&dictmock.Provider{NameValue: "wiktionary"},
		&dictmock.Provider{NameValue: "wiktionary"},
	}
	if _, err := New(store.New(nil), synth.New(nil, nil, nil), provs); err == nil {
		t.Fatal("duplicate provider accepted")
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	if _, err := New(store.New(nil), synth.New(nil, nil, nil), nil); err == nil {
		t.Fatal("empty provider set accepted")
	}
}

func TestLookupKey(t *testing.T) {
	t.Parallel()

	base := Input{Word: "Serendipity", Languages: []string{"en"}}

	// Case and surrounding whitespace do not split the key.
	if lookupKey(base) != lookupKey(Input{Word: "  serendipity  ", Languages: []string{"en"}}) {
		t.Error("key should normalize the headword")
	}

	variants := []Input{
		{Word: "serendipity", Languages: []string{"de"}},
		{Word: "serendipity", Languages: []string{"en"}, Providers: []string{"wiktionary"}},
		{Word: "serendipity", Languages: []string{"en"}, NoAI: true},
	}
	seen := map[string]bool{lookupKey(base): true}
	for _, in := range variants {
		k := lookupKey(in)
		if seen[k] {
			t.Errorf("input %+v collides with another key", in)
		}
		seen[k] = true
	}
}

func TestResolveProviders(t *testing.T) {
	t.Parallel()

	first := &dictmock.Provider{NameValue: "wiktionary"}
	second := &dictmock.Provider{NameValue: "freedict"}
	p := testPipeline(t, first, second)

	// Empty request means the full configured fan-out.
	provs, err := p.resolveProviders(nil)
	if err != nil {
		t.Fatalf("resolveProviders: %v", err)
	}
	if len(provs) != 2 {
		t.Errorf("len = %d, want 2", len(provs))
	}

	// Request order wins over configured order.
	provs, err = p.resolveProviders([]string{"freedict", "wiktionary"})
	if err != nil {
		t.Fatalf("resolveProviders: %v", err)
	}
	if provs[0].Name() != "freedict" {
		t.Errorf("first = %s, want freedict", provs[0].Name())
	}

	_, err = p.resolveProviders([]string{"duden"})
	var val *apperr.ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("err = %v, want ValidationError for unknown provider", err)
	}
}

func TestNormalizeIPA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"/ˌsɛɹ.ənˈdɪp.ɪ.ti/", "ˌsɛɹ.ənˈdɪp.ɪ.ti"},
		{"[ˈkæt]", "ˈkæt"},
		{"  /abc/  ", "abc"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := normalizeIPA(tc.in); got != tc.want {
			t.Errorf("normalizeIPA(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ─── Lookup path tests ───────────────────────────────────────────────────────

func TestLookup_CacheHitBumpsAccess(t *testing.T) {
	t.Parallel()

	prov := &dictmock.Provider{}
	p, db := newFakePipeline(t, []dict.Provider{prov})
	db.seedEntry("cat", "en", 3)

	res, err := p.Lookup(context.Background(), Input{Word: "cat"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !res.CacheHit {
		t.Error("stored entry should be a cache hit")
	}
	if res.Entry.AccessCount != 4 {
		t.Errorf("access count = %d, want 4 (post-bump statistics)", res.Entry.AccessCount)
	}
	if res.Entry.AccessedAt.IsZero() {
		t.Error("accessed_at should be refreshed")
	}
	if len(res.Definitions) != 1 {
		t.Errorf("definitions = %d, want 1", len(res.Definitions))
	}
	if got := len(prov.Calls()); got != 0 {
		t.Errorf("provider called %d times on a cache hit, want 0", got)
	}
}

func TestLookup_NoAIPersistsNoEntry(t *testing.T) {
	t.Parallel()

	prov := &dictmock.Provider{FetchResult: catResult("mock")}
	p, db := newFakePipeline(t, []dict.Provider{prov})

	res, err := p.Lookup(context.Background(), Input{Word: "cat", NoAI: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.Entry != nil {
		t.Error("no_ai result should carry no synthesized entry")
	}
	if res.CacheHit {
		t.Error("no_ai result should not be a cache hit")
	}
	if len(res.Definitions) != 1 {
		t.Fatalf("definitions = %d, want 1", len(res.Definitions))
	}
	if res.Definitions[0].PartOfSpeech != "noun" {
		t.Errorf("part of speech = %q, want lowercased noun", res.Definitions[0].PartOfSpeech)
	}
	if res.Pronunciation == nil || res.Pronunciation.IPA != "kæt" {
		t.Errorf("pronunciation = %+v, want delimiters stripped to kæt", res.Pronunciation)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.entries) != 0 {
		t.Errorf("%d entries persisted by a no_ai lookup, want 0", len(db.entries))
	}
	if len(db.providerData) != 1 {
		t.Errorf("provider data rows = %d, want 1", len(db.providerData))
	}
}

func TestLookup_FailSoftPartialProviderFailure(t *testing.T) {
	t.Parallel()

	ok := &dictmock.Provider{NameValue: "wiktionary", FetchResult: catResult("wiktionary")}
	broken := &dictmock.Provider{NameValue: "freedict", FetchErr: errors.New("upstream 502")}
	p, _ := newFakePipeline(t, []dict.Provider{ok, broken})

	res, err := p.Lookup(context.Background(), Input{Word: "cat", NoAI: true})
	if err != nil {
		t.Fatalf("Lookup with one healthy provider: %v", err)
	}
	if len(res.Definitions) != 1 {
		t.Errorf("definitions = %d, want 1 from the surviving provider", len(res.Definitions))
	}
}

func TestLookup_AllProvidersFailed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"hard failures", errors.New("connection refused"), apperr.ErrAllProvidersFailed},
		{"nowhere found", dict.ErrNotFound, apperr.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			provs := []dict.Provider{
				&dictmock.Provider{NameValue: "wiktionary", FetchErr: tc.err},
				&dictmock.Provider{NameValue: "freedict", FetchErr: tc.err},
			}
			p, _ := newFakePipeline(t, provs)

			_, err := p.Lookup(context.Background(), Input{Word: "cat", NoAI: true})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestLookup_ForceRefreshSkipsCache(t *testing.T) {
	t.Parallel()

	prov := &dictmock.Provider{FetchResult: catResult("mock")}
	p, db := newFakePipeline(t, []dict.Provider{prov})
	db.seedEntry("cat", "en", 0)

	res, err := p.Lookup(context.Background(), Input{Word: "cat", NoAI: true, ForceRefresh: true})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.CacheHit {
		t.Error("forced refresh should never report a cache hit")
	}
	if got := len(prov.Calls()); got != 1 {
		t.Errorf("provider called %d times, want 1 despite the stored entry", got)
	}
}

func TestLookup_DeduplicatesConcurrentRuns(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	var fetches atomic.Int32
	prov := &dictmock.Provider{
		FetchFunc: func(ctx context.Context, word, language string) (*dict.Result, error) {
			fetches.Add(1)
			<-gate
			return catResult("mock"), nil
		},
	}
	p, _ := newFakePipeline(t, []dict.Provider{prov})

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Lookup(context.Background(), Input{Word: "cat", NoAI: true})
		}()
	}

	// Let every caller coalesce onto the in-flight run, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("provider fan-out ran %d times for identical concurrent lookups, want 1", got)
	}
}

func TestLookup_RecordsProviderMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ok := &dictmock.Provider{NameValue: "wiktionary", FetchResult: catResult("wiktionary")}
	broken := &dictmock.Provider{NameValue: "freedict", FetchErr: errors.New("upstream 502")}
	p, _ := newFakePipeline(t, []dict.Provider{ok, broken}, WithMetrics(met))

	if _, err := p.Lookup(context.Background(), Input{Word: "cat", NoAI: true}); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if got := sumByAttr(rm, "lexibase.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("requests with status=ok = %d, want 1", got)
	}
	if got := sumByAttr(rm, "lexibase.provider.requests", "status", "error"); got != 1 {
		t.Errorf("requests with status=error = %d, want 1", got)
	}
	if got := sumByAttr(rm, "lexibase.provider.errors", "provider", "freedict"); got != 1 {
		t.Errorf("errors for freedict = %d, want 1", got)
	}
}

// sumByAttr totals the data points of a counter whose attribute key matches
// value.
func sumByAttr(rm metricdata.ResourceMetrics, name, key, value string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				for _, kv := range dp.Attributes.ToSlice() {
					if string(kv.Key) == key && kv.Value.AsString() == value {
						total += dp.Value
					}
				}
			}
		}
	}
	return total
}
