package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/substrate"
)

// component is one definition-level facet generator: a pure function from
// (definition, word) to a facet value, realized as an LLM call plus an apply
// step writing the value onto the definition.
type component struct {
	task   substrate.Task
	schema string

	// empty reports whether the facet is unset on d. A non-empty facet is
	// skipped unless regeneration is forced.
	empty func(d *model.Definition) bool

	prompt func(word string, d *model.Definition) string

	// apply writes the validated payload onto d. The engine serializes apply
	// calls per definition.
	apply func(ctx context.Context, e *Engine, d *model.Definition, data json.RawMessage) error
}

// Word-level component names. They operate on the synthesized entry rather
// than on individual definitions and are only honored by
// [Engine.RegenerateEntry].
const (
	ComponentPronunciation = "pronunciation"
	ComponentEtymology     = "etymology"
	ComponentFacts         = "facts"
)

// wordComponents is the set of recognized word-level component names.
var wordComponents = map[string]bool{
	ComponentPronunciation: true,
	ComponentEtymology:     true,
	ComponentFacts:         true,
}

// Components lists every recognized component name, sorted.
func Components() []string {
	names := make([]string, 0, len(components)+len(wordComponents))
	for name := range components {
		names = append(names, name)
	}
	for name := range wordComponents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// definitionContext renders the definition being enhanced for a prompt.
func definitionContext(word string, d *model.Definition) string {
	return fmt.Sprintf("The word is %q, used as a %s meaning: %s", word, d.PartOfSpeech, d.Text)
}

func listPrompt(what, word string, d *model.Definition) string {
	return fmt.Sprintf("%s\nGive %s for this specific sense only.", definitionContext(word, d), what)
}

// listSchema builds the schema for a single string-array facet.
func listSchema(field string) string {
	return fmt.Sprintf(`{
  "type": "object",
  "required": [%q],
  "properties": {%q: {"type": "array", "items": {"type": "string"}}}
}`, field, field)
}

// listApply decodes a single string-array facet into assign.
func listApply(field string, assign func(d *model.Definition, values []string)) func(context.Context, *Engine, *model.Definition, json.RawMessage) error {
	return func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
		var parsed map[string][]string
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("enhance: decode %s: %w", field, err)
		}
		assign(d, parsed[field])
		return nil
	}
}

// components is the registry of definition-level facet generators.
var components = map[string]component{
	"synonyms": {
		task:   substrate.TaskSynonyms,
		schema: listSchema("synonyms"),
		empty:  func(d *model.Definition) bool { return len(d.Synonyms) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("up to 8 synonyms", w, d)
		},
		apply: listApply("synonyms", func(d *model.Definition, v []string) { d.Synonyms = v }),
	},

	"antonyms": {
		task:   substrate.TaskAntonyms,
		schema: listSchema("antonyms"),
		empty:  func(d *model.Definition) bool { return len(d.Antonyms) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("up to 8 antonyms", w, d)
		},
		apply: listApply("antonyms", func(d *model.Definition, v []string) { d.Antonyms = v }),
	},

	"examples": {
		task:   substrate.TaskExamples,
		schema: listSchema("examples"),
		empty:  func(d *model.Definition) bool { return len(d.ExampleIDs) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("3 natural example sentences", w, d)
		},
		apply: func(ctx context.Context, e *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				Examples []string `json:"examples"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode examples: %w", err)
			}
			for _, text := range parsed.Examples {
				ex := &model.Example{DefinitionID: d.ID, Text: text, Type: model.ExampleGenerated}
				if err := e.store.Examples.Create(ctx, ex); err != nil {
					return err
				}
				d.ExampleIDs = append(d.ExampleIDs, ex.ID)
			}
			return nil
		},
	},

	"cefr_level": {
		task: substrate.TaskCEFRLevel,
		schema: `{
  "type": "object",
  "required": ["cefr_level"],
  "properties": {"cefr_level": {"type": "string", "enum": ["A1", "A2", "B1", "B2", "C1", "C2"]}}
}`,
		empty: func(d *model.Definition) bool { return d.CEFRLevel == "" },
		prompt: func(w string, d *model.Definition) string {
			return definitionContext(w, d) + "\nClassify this sense on the CEFR scale (A1 to C2)."
		},
		apply: func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				CEFRLevel string `json:"cefr_level"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode cefr_level: %w", err)
			}
			d.CEFRLevel = parsed.CEFRLevel
			return nil
		},
	},

	"frequency_band": {
		task: substrate.TaskFrequencyBand,
		schema: `{
  "type": "object",
  "required": ["frequency_band"],
  "properties": {"frequency_band": {"type": "integer", "minimum": 1, "maximum": 5}}
}`,
		empty: func(d *model.Definition) bool { return d.FrequencyBand == 0 },
		prompt: func(w string, d *model.Definition) string {
			return definitionContext(w, d) + "\nRate how common this sense is, from 1 (very rare) to 5 (very common)."
		},
		apply: func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				FrequencyBand int `json:"frequency_band"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode frequency_band: %w", err)
			}
			d.FrequencyBand = parsed.FrequencyBand
			return nil
		},
	},

	"register": {
		task: substrate.TaskRegister,
		schema: `{
  "type": "object",
  "required": ["register"],
  "properties": {"register": {"type": "string", "enum": ["formal", "neutral", "informal", "slang", "technical", "literary", "archaic"]}}
}`,
		empty: func(d *model.Definition) bool { return d.Register == "" },
		prompt: func(w string, d *model.Definition) string {
			return definitionContext(w, d) + "\nClassify the language register of this sense."
		},
		apply: func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				Register string `json:"register"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode register: %w", err)
			}
			d.Register = parsed.Register
			return nil
		},
	},

	"domain": {
		task: substrate.TaskDomain,
		schema: `{
  "type": "object",
  "required": ["domain"],
  "properties": {"domain": {"type": "string"}}
}`,
		empty: func(d *model.Definition) bool { return d.Domain == "" },
		prompt: func(w string, d *model.Definition) string {
			return definitionContext(w, d) + "\nName the subject domain of this sense (e.g. medicine, law, computing), or \"general\"."
		},
		apply: func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				Domain string `json:"domain"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode domain: %w", err)
			}
			d.Domain = strings.ToLower(parsed.Domain)
			return nil
		},
	},

	"grammar_patterns": {
		task:   substrate.TaskGrammarPatterns,
		schema: listSchema("grammar_patterns"),
		empty:  func(d *model.Definition) bool { return len(d.GrammarPatterns) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("the typical grammar patterns (e.g. \"~ + to-infinitive\")", w, d)
		},
		apply: listApply("grammar_patterns", func(d *model.Definition, v []string) { d.GrammarPatterns = v }),
	},

	"collocations": {
		task:   substrate.TaskCollocations,
		schema: listSchema("collocations"),
		empty:  func(d *model.Definition) bool { return len(d.Collocations) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("up to 8 common collocations", w, d)
		},
		apply: listApply("collocations", func(d *model.Definition, v []string) { d.Collocations = v }),
	},

	"usage_notes": {
		task:   substrate.TaskUsageNotes,
		schema: listSchema("usage_notes"),
		empty:  func(d *model.Definition) bool { return len(d.UsageNotes) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("short usage notes a learner should know", w, d)
		},
		apply: listApply("usage_notes", func(d *model.Definition, v []string) { d.UsageNotes = v }),
	},

	"regional_variants": {
		task:   substrate.TaskRegionalVariants,
		schema: listSchema("regions"),
		empty:  func(d *model.Definition) bool { return len(d.Regions) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return listPrompt("the regions where this sense is used (e.g. \"British\", \"North American\"), empty if universal", w, d)
		},
		apply: listApply("regions", func(d *model.Definition, v []string) { d.Regions = v }),
	},

	"word_forms": {
		task: substrate.TaskWordForms,
		schema: `{
  "type": "object",
  "required": ["word_forms"],
  "properties": {
    "word_forms": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["form"],
        "properties": {
          "form": {"type": "string", "minLength": 1},
          "type": {"type": "string"}
        }
      }
    }
  }
}`,
		empty: func(d *model.Definition) bool { return len(d.WordForms) == 0 },
		prompt: func(w string, d *model.Definition) string {
			return definitionContext(w, d) + "\nList the inflected and derived forms of the word with their types (e.g. past, plural, comparative)."
		},
		apply: func(_ context.Context, _ *Engine, d *model.Definition, data json.RawMessage) error {
			var parsed struct {
				WordForms []model.WordForm `json:"word_forms"`
			}
			if err := json.Unmarshal(data, &parsed); err != nil {
				return fmt.Errorf("enhance: decode word_forms: %w", err)
			}
			d.WordForms = parsed.WordForms
			return nil
		},
	},
}
