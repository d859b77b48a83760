// Package enhance implements the component enhancement engine: a parallel
// fan-out over a (definitions × components) grid where each cell is one LLM
// call producing one facet value.
//
// The grid gathers successes and failures independently; a failed cell never
// aborts the batch. Facets that are already populated are skipped unless
// regeneration is forced. After the gather, every touched definition is
// persisted exactly once.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/internal/substrate"
	"github.com/lexibase/lexibase/internal/synth"
)

// CellError is one failed (definition, component) cell of the grid.
type CellError struct {
	DefinitionID uuid.UUID
	Component    string
	Err          error
}

func (e CellError) Error() string {
	return fmt.Sprintf("enhance: %s on definition %s: %v", e.Component, e.DefinitionID, e.Err)
}

func (e CellError) Unwrap() error { return e.Err }

// Report summarizes one enhancement run.
type Report struct {
	// Dispatched counts the cells that went to the LLM.
	Dispatched int

	// Skipped counts the cells whose facet was already populated.
	Skipped int

	// Updated counts the definitions persisted with at least one new facet.
	Updated int

	// Errors lists the failed cells. A non-empty list with a nil run error
	// means the rest of the grid succeeded.
	Errors []CellError
}

// Engine runs enhancement grids. Construct with [New]; safe for concurrent
// use.
type Engine struct {
	sub   *substrate.Substrate
	store *store.Store
	synth *synth.Synthesizer
	log   *slog.Logger
}

// New constructs an Engine. The synthesizer is used for the word-level
// components of [Engine.RegenerateEntry].
func New(sub *substrate.Substrate, st *store.Store, sy *synth.Synthesizer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{sub: sub, store: st, synth: sy, log: log}
}

// ValidateComponents rejects unrecognized component names.
func ValidateComponents(names []string) error {
	for _, name := range names {
		if _, ok := components[name]; ok {
			continue
		}
		if wordComponents[name] {
			continue
		}
		return &apperr.ValidationError{
			Field:   "components",
			Message: fmt.Sprintf("unknown component %q", name),
			Code:    "unknown_component",
		}
	}
	return nil
}

// EnhanceDefinitions runs the (defs × names) grid. Word-level names are
// ignored here; use [Engine.RegenerateEntry] for those. Cancelling ctx stops
// pending cells; definitions already persisted stay persisted.
func (e *Engine) EnhanceDefinitions(ctx context.Context, caller string, w *model.Word, defs []*model.Definition, names []string, force bool) (*Report, error) {
	if err := ValidateComponents(names); err != nil {
		return nil, err
	}
	if caller == "" {
		caller = "anonymous"
	}

	var defComps []string
	for _, name := range names {
		if wordComponents[name] {
			e.log.Debug("word-level component skipped in definition grid", "component", name)
			continue
		}
		defComps = append(defComps, name)
	}

	rep := &Report{}
	if len(defs) == 0 || len(defComps) == 0 {
		return rep, nil
	}

	// One mutex per definition: concurrent cells for the same definition
	// serialize their apply step.
	locks := make([]sync.Mutex, len(defs))
	touched := make([]bool, len(defs))

	var mu sync.Mutex // guards rep
	var wg sync.WaitGroup

	for i, d := range defs {
		for _, name := range defComps {
			comp := components[name]
			if !force && !comp.empty(d) {
				rep.Skipped++
				continue
			}
			rep.Dispatched++

			wg.Add(1)
			go func() {
				defer wg.Done()
				err := e.runCell(ctx, caller, w, d, &locks[i], name, comp)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					rep.Errors = append(rep.Errors, CellError{DefinitionID: d.ID, Component: name, Err: err})
					return
				}
				touched[i] = true
			}()
		}
	}
	wg.Wait()

	for i, d := range defs {
		if !touched[i] {
			continue
		}
		if err := e.store.Definitions.Update(ctx, d); err != nil {
			rep.Errors = append(rep.Errors, CellError{DefinitionID: d.ID, Component: "persist", Err: err})
			continue
		}
		rep.Updated++
	}
	return rep, nil
}

// runCell executes one grid cell: LLM call, then apply under the definition's
// lock.
func (e *Engine) runCell(ctx context.Context, caller string, w *model.Word, d *model.Definition, lock *sync.Mutex, name string, comp component) error {
	res, err := e.sub.Do(ctx, substrate.Request{
		Task:   comp.task,
		Prompt: comp.prompt(w.Text, d),
		Schema: []byte(comp.schema),
		Caller: caller,
	})
	if err != nil {
		return err
	}

	lock.Lock()
	defer lock.Unlock()
	return comp.apply(ctx, e, d, res.Data)
}

// Enhance adapts [Engine.EnhanceDefinitions] to the pipeline's enhancer
// contract: cell failures are logged, not returned.
func (e *Engine) Enhance(ctx context.Context, caller string, w *model.Word, defs []*model.Definition, names []string, force bool) error {
	rep, err := e.EnhanceDefinitions(ctx, caller, w, defs, names, force)
	if err != nil {
		return err
	}
	for _, cell := range rep.Errors {
		e.log.Warn("enhancement cell failed", "word", w.Text,
			"definition", cell.DefinitionID, "component", cell.Component, "error", cell.Err)
	}
	return nil
}

// EnhanceByIDs resolves definition ids, loads their word, and delegates to
// [Engine.EnhanceDefinitions]. All definitions must belong to the same word.
func (e *Engine) EnhanceByIDs(ctx context.Context, caller string, ids []uuid.UUID, names []string, force bool) (*Report, error) {
	if len(ids) == 0 {
		return nil, &apperr.ValidationError{Field: "definition_ids", Message: "must not be empty", Code: "required"}
	}
	defs, err := e.store.Definitions.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("enhance: definitions %v: %w", ids, apperr.ErrNotFound)
	}
	for _, d := range defs {
		if d.WordID != defs[0].WordID {
			return nil, &apperr.ValidationError{
				Field:   "definition_ids",
				Message: "definitions must belong to a single word",
				Code:    "mixed_words",
			}
		}
	}
	w, err := e.store.Words.Get(ctx, defs[0].WordID)
	if err != nil {
		return nil, err
	}
	return e.EnhanceDefinitions(ctx, caller, w, defs, names, force)
}

// RegenerateEntry re-runs components for a synthesized entry: the definition
// grid over the entry's definitions plus the word-level components
// (pronunciation, etymology, facts). The entry is persisted once at the end
// when any word-level artifact changed.
func (e *Engine) RegenerateEntry(ctx context.Context, caller string, entryID uuid.UUID, names []string, force bool) (*Report, error) {
	if err := ValidateComponents(names); err != nil {
		return nil, err
	}
	if caller == "" {
		caller = "anonymous"
	}

	entry, err := e.store.Entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	w, err := e.store.Words.Get(ctx, entry.WordID)
	if err != nil {
		return nil, err
	}
	defs, err := e.store.Definitions.ListByIDs(ctx, entry.DefinitionIDs)
	if err != nil {
		return nil, err
	}

	rep, err := e.EnhanceDefinitions(ctx, caller, w, defs, names, force)
	if err != nil {
		return nil, err
	}

	usage := &synth.Usage{}
	entryTouched := false
	for _, name := range names {
		if !wordComponents[name] {
			continue
		}
		changed, err := e.regenerateWordComponent(ctx, caller, name, w, entry, defs, force, usage)
		if err != nil {
			rep.Errors = append(rep.Errors, CellError{Component: name, Err: err})
			continue
		}
		if changed {
			rep.Dispatched++
			entryTouched = true
		} else {
			rep.Skipped++
		}
	}

	if entryTouched {
		entry.ModelInfo = addUsage(entry.ModelInfo, usage.ModelInfo())
		if err := e.store.Entries.Update(ctx, entry); err != nil {
			rep.Errors = append(rep.Errors, CellError{Component: "persist", Err: err})
		}
	}
	return rep, nil
}

// regenerateWordComponent runs one word-level component, reporting whether it
// produced a new artifact.
func (e *Engine) regenerateWordComponent(ctx context.Context, caller, name string, w *model.Word, entry *model.SynthesizedEntry, defs []*model.Definition, force bool, usage *synth.Usage) (bool, error) {
	switch name {
	case ComponentPronunciation:
		if entry.PronunciationID != nil && !force {
			return false, nil
		}
		pron, err := e.synth.GeneratePronunciation(ctx, caller, w, usage)
		if err != nil {
			return false, err
		}
		entry.PronunciationID = &pron.ID
		return true, nil

	case ComponentEtymology:
		if entry.Etymology != "" && !force {
			return false, nil
		}
		pds, err := e.store.ProviderData.ListByWord(ctx, w.ID)
		if err != nil {
			return false, err
		}
		var sources []string
		for _, pd := range pds {
			if pd.Etymology != "" {
				sources = append(sources, pd.Etymology)
			}
		}
		etym, err := e.synth.ExtractEtymology(ctx, caller, w, sources, usage)
		if err != nil {
			return false, err
		}
		entry.Etymology = etym
		return true, nil

	case ComponentFacts:
		if len(entry.FactIDs) > 0 && !force {
			return false, nil
		}
		if force {
			if _, err := e.store.Facts.DeleteByWord(ctx, w.ID); err != nil {
				return false, err
			}
		}
		var primary *model.Definition
		if len(defs) > 0 {
			primary = defs[0]
		}
		facts, err := e.synth.GenerateFacts(ctx, caller, w, primary, usage)
		if err != nil {
			return false, err
		}
		ids := make([]uuid.UUID, len(facts))
		for i, f := range facts {
			ids[i] = f.ID
		}
		entry.FactIDs = ids
		return true, nil
	}
	return false, errors.New("enhance: unreachable word component " + name)
}

// addUsage folds fresh token usage into an entry's model info, keeping the
// most recent model tag.
func addUsage(base, fresh model.ModelInfo) model.ModelInfo {
	if fresh.Model != "" {
		base.Model = fresh.Model
	}
	base.PromptTokens += fresh.PromptTokens
	base.CompletionTokens += fresh.CompletionTokens
	base.TotalTokens += fresh.TotalTokens
	return base
}
