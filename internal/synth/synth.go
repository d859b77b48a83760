// Package synth produces AI artifacts from raw provider data: meaning
// clusters, per-cluster synthesized definitions, pronunciation, etymology,
// and facts.
//
// Every method issues its LLM traffic through the substrate (which handles
// rate limits, caching, retries, and schema validation) and persists what it
// produces, accumulating token usage into the model info that ends up on the
// synthesized entry.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/internal/substrate"
	"github.com/lexibase/lexibase/pkg/provider/llm"
)

// Synthesizer turns provider definitions into the canonical AI-refined entry
// parts. Safe for concurrent use.
type Synthesizer struct {
	sub   *substrate.Substrate
	store *store.Store
	log   *slog.Logger
}

// New constructs a Synthesizer.
func New(sub *substrate.Substrate, st *store.Store, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{sub: sub, store: st, log: log}
}

// Usage accumulates token accounting across the synthesis calls of one
// pipeline run.
type Usage struct {
	mu    sync.Mutex
	model string
	u     llm.Usage
}

// Add folds one call's usage into the total.
func (a *Usage) Add(model string, u llm.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if model != "" {
		a.model = model
	}
	a.u.PromptTokens += u.PromptTokens
	a.u.CompletionTokens += u.CompletionTokens
	a.u.TotalTokens += u.TotalTokens
}

// ModelInfo renders the accumulated usage as persistent model info.
func (a *Usage) ModelInfo() model.ModelInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return model.ModelInfo{
		Model:            a.model,
		PromptTokens:     a.u.PromptTokens,
		CompletionTokens: a.u.CompletionTokens,
		TotalTokens:      a.u.TotalTokens,
	}
}

// ─── Cluster mapping ─────────────────────────────────────────────────────────

type clusterResponse struct {
	Clusters []struct {
		ID      string `json:"id"`
		Label   string `json:"label"`
		Members []struct {
			Index     int     `json:"index"`
			Relevance float64 `json:"relevance"`
		} `json:"members"`
	} `json:"clusters"`
}

// MapClusters partitions defs into meaning clusters, mutating each
// definition's Cluster field in memory (persistence happens with the
// definitions). Definitions the model does not place become singleton
// clusters with ids "solo-1", "solo-2", ... in input order.
func (s *Synthesizer) MapClusters(ctx context.Context, caller, word string, defs []*model.Definition, usage *Usage) error {
	if len(defs) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Group the following definitions of %q into clusters of shared meaning.\n", word)
	b.WriteString("Give each cluster a short id (kebab-case), a label, and the member definition indexes with a relevance score in [0,1].\n")
	b.WriteString("Every index should appear in at most one cluster.\n\nDefinitions:\n")
	for i, d := range defs {
		fmt.Fprintf(&b, "%d. (%s) %s\n", i, d.PartOfSpeech, d.Text)
	}

	res, err := s.sub.Do(ctx, substrate.Request{
		Task:   substrate.TaskClusterMap,
		Prompt: b.String(),
		Schema: []byte(clusterSchema),
		Caller: caller,
	})
	if err != nil {
		return fmt.Errorf("synth: map clusters for %q: %w", word, err)
	}
	usage.Add(res.Model, res.Usage)

	var parsed clusterResponse
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return fmt.Errorf("synth: decode cluster response: %w", err)
	}

	assigned := make(map[int]bool, len(defs))
	for _, c := range parsed.Clusters {
		for _, m := range c.Members {
			if m.Index < 0 || m.Index >= len(defs) || assigned[m.Index] {
				continue
			}
			assigned[m.Index] = true
			defs[m.Index].Cluster = &model.MeaningCluster{
				ID:        c.ID,
				Label:     c.Label,
				Relevance: m.Relevance,
			}
		}
	}

	solo := 0
	for i, d := range defs {
		if assigned[i] {
			continue
		}
		solo++
		d.Cluster = &model.MeaningCluster{ID: fmt.Sprintf("solo-%d", solo)}
	}
	return nil
}

// ─── Per-cluster synthesis ───────────────────────────────────────────────────

type synthesisResponse struct {
	PartOfSpeech string   `json:"part_of_speech"`
	Text         string   `json:"text"`
	Synonyms     []string `json:"synonyms"`
	Antonyms     []string `json:"antonyms"`
	Examples     []string `json:"examples"`
}

// SynthesizeClusters produces one synthesized definition per meaning cluster
// found in defs and persists it (with its examples) under w. Clusters
// are processed concurrently but results are ordered by cluster id. A failed
// cluster does not abort its siblings; the per-cluster errors come back
// joined with the successes.
func (s *Synthesizer) SynthesizeClusters(ctx context.Context, caller string, w *model.Word, defs []*model.Definition, usage *Usage) ([]*model.Definition, []error) {
	byCluster := make(map[string][]*model.Definition)
	for _, d := range defs {
		if d.Cluster == nil {
			continue
		}
		byCluster[d.Cluster.ID] = append(byCluster[d.Cluster.ID], d)
	}
	if len(byCluster) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(byCluster))
	for id := range byCluster {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type cell struct {
		def      *model.Definition
		examples []string
		err      error
	}
	cells := make([]cell, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			def, examples, err := s.synthesizeCluster(ctx, caller, w, id, byCluster[id], usage)
			cells[i] = cell{def: def, examples: examples, err: err}
		}()
	}
	wg.Wait()

	var out []*model.Definition
	var errs []error
	sense := 0
	for i, c := range cells {
		if c.err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", ids[i], c.err))
			continue
		}
		sense++
		c.def.SenseNumber = sense

		if err := s.store.Definitions.Create(ctx, c.def); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.persistExamples(ctx, c.def, c.examples); err != nil {
			errs = append(errs, err)
		}
		out = append(out, c.def)
	}
	return out, errs
}

func (s *Synthesizer) synthesizeCluster(ctx context.Context, caller string, w *model.Word, clusterID string, members []*model.Definition, usage *Usage) (*model.Definition, []string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one clear dictionary definition of %q that covers this group of raw definitions.\n", w.Text)
	b.WriteString("Also give a part of speech, and optionally synonyms, antonyms, and example sentences.\n\nRaw definitions:\n")
	for _, m := range members {
		fmt.Fprintf(&b, "- (%s) %s\n", m.PartOfSpeech, m.Text)
	}

	res, err := s.sub.Do(ctx, substrate.Request{
		Task:   substrate.TaskSynthesis,
		Prompt: b.String(),
		Schema: []byte(synthesisSchema),
		Caller: caller,
	})
	if err != nil {
		return nil, nil, err
	}
	usage.Add(res.Model, res.Usage)

	var parsed synthesisResponse
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode synthesis response: %w", err)
	}

	label := ""
	if members[0].Cluster != nil {
		label = members[0].Cluster.Label
	}
	def := &model.Definition{
		WordID:       w.ID,
		PartOfSpeech: strings.ToLower(parsed.PartOfSpeech),
		Text:         parsed.Text,
		Cluster:      &model.MeaningCluster{ID: clusterID, Label: label},
		Synonyms:     parsed.Synonyms,
		Antonyms:     parsed.Antonyms,
	}
	return def, parsed.Examples, nil
}

func (s *Synthesizer) persistExamples(ctx context.Context, d *model.Definition, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	for _, text := range texts {
		ex := &model.Example{
			DefinitionID: d.ID,
			Text:         text,
			Type:         model.ExampleGenerated,
		}
		if err := s.store.Examples.Create(ctx, ex); err != nil {
			return err
		}
		d.ExampleIDs = append(d.ExampleIDs, ex.ID)
	}
	return s.store.Definitions.Update(ctx, d)
}

// ─── Word-level synthesis ────────────────────────────────────────────────────

type pronunciationResponse struct {
	IPA      string `json:"ipa"`
	Phonetic string `json:"phonetic"`
}

// GeneratePronunciation asks the model for IPA when no provider supplied a
// pronunciation, and persists the result.
func (s *Synthesizer) GeneratePronunciation(ctx context.Context, caller string, w *model.Word, usage *Usage) (*model.Pronunciation, error) {
	prompt := fmt.Sprintf("Give the pronunciation of the %s word %q in IPA, plus an informal phonetic respelling.", w.Language, w.Text)

	res, err := s.sub.Do(ctx, substrate.Request{
		Task:   substrate.TaskPronunciation,
		Prompt: prompt,
		Schema: []byte(pronunciationSchema),
		Caller: caller,
	})
	if err != nil {
		return nil, fmt.Errorf("synth: pronunciation for %q: %w", w.Text, err)
	}
	usage.Add(res.Model, res.Usage)

	var parsed pronunciationResponse
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, fmt.Errorf("synth: decode pronunciation response: %w", err)
	}

	p := &model.Pronunciation{WordID: w.ID, IPA: parsed.IPA, Phonetic: parsed.Phonetic}
	if err := s.store.Pronunciations.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

type etymologyResponse struct {
	Etymology string `json:"etymology"`
}

// ExtractEtymology distils a single etymology paragraph from provider
// etymologies (when present) or general knowledge.
func (s *Synthesizer) ExtractEtymology(ctx context.Context, caller string, w *model.Word, providerEtymologies []string, usage *Usage) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Give a concise etymology of the %s word %q, one paragraph.\n", w.Language, w.Text)
	if len(providerEtymologies) > 0 {
		b.WriteString("Provider etymology notes to reconcile:\n")
		for _, e := range providerEtymologies {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	res, err := s.sub.Do(ctx, substrate.Request{
		Task:   substrate.TaskEtymology,
		Prompt: b.String(),
		Schema: []byte(etymologySchema),
		Caller: caller,
	})
	if err != nil {
		return "", fmt.Errorf("synth: etymology for %q: %w", w.Text, err)
	}
	usage.Add(res.Model, res.Usage)

	var parsed etymologyResponse
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return "", fmt.Errorf("synth: decode etymology response: %w", err)
	}
	return parsed.Etymology, nil
}

type factsResponse struct {
	Facts []struct {
		Content  string `json:"content"`
		Category string `json:"category"`
	} `json:"facts"`
}

// GenerateFacts produces and persists interesting facts about the word,
// keyed off its primary synthesized definition.
func (s *Synthesizer) GenerateFacts(ctx context.Context, caller string, w *model.Word, primary *model.Definition, usage *Usage) ([]*model.Fact, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Give up to 3 genuinely interesting facts about the word %q.\n", w.Text)
	if primary != nil {
		fmt.Fprintf(&b, "Primary meaning: %s\n", primary.Text)
	}
	b.WriteString("Classify each fact as general, technical, cultural, scientific, etymology, or usage.\n")

	res, err := s.sub.Do(ctx, substrate.Request{
		Task:   substrate.TaskFacts,
		Prompt: b.String(),
		Schema: []byte(factsSchema),
		Caller: caller,
	})
	if err != nil {
		return nil, fmt.Errorf("synth: facts for %q: %w", w.Text, err)
	}
	usage.Add(res.Model, res.Usage)

	var parsed factsResponse
	if err := json.Unmarshal(res.Data, &parsed); err != nil {
		return nil, fmt.Errorf("synth: decode facts response: %w", err)
	}

	var facts []*model.Fact
	for _, f := range parsed.Facts {
		fact := &model.Fact{
			WordID:   w.ID,
			Content:  f.Content,
			Category: model.FactCategory(f.Category),
			ModelInfo: model.ModelInfo{
				Model: res.Model,
			},
		}
		if err := s.store.Facts.Create(ctx, fact); err != nil {
			return facts, err
		}
		facts = append(facts, fact)
	}
	return facts, nil
}
