// Package model defines the persistent entities of the lexibase dictionary
// service and the enumerations used across layers.
//
// Every persistent entity embeds [Meta]: a stable UUID, a monotonically
// increasing Version for optimistic concurrency, and created/updated
// timestamps. Repositories in internal/store assert the expected Version on
// every update and fail with an apperr.VersionConflictError on mismatch.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Meta is embedded by every persistent entity.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Word is the canonical headword record. (Normalized, Language) is unique.
type Word struct {
	Meta
	Text       string `json:"text"`
	Normalized string `json:"normalized"`
	Language   string `json:"language"`
}

// NormalizeText lowercases and trims a headword into its normalized form.
func NormalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// ProviderData holds one dictionary provider's raw and normalized output for
// a word. It is replaced wholesale on a forced refresh.
type ProviderData struct {
	Meta
	WordID          uuid.UUID   `json:"word_id"`
	Provider        string      `json:"provider"`
	DefinitionIDs   []uuid.UUID `json:"definition_ids"`
	PronunciationID *uuid.UUID  `json:"pronunciation_id,omitempty"`
	Etymology       string      `json:"etymology,omitempty"`

	// RawData is the provider's response as compact JSON, retained so
	// definitions can be re-normalized without refetching.
	RawData []byte `json:"raw_data,omitempty"`
}

// MeaningCluster identifies a meaning-level grouping of definitions for a
// single headword, produced by the LLM cluster-mapping task.
type MeaningCluster struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	// Relevance is the model-assigned fit of the definition to the cluster,
	// in [0,1]. Zero for singleton clusters.
	Relevance float64 `json:"relevance,omitempty"`
}

// Definition is a single sense of a word, either normalized from a provider
// or synthesized by the LLM, and optionally enriched with facets.
//
// All facet fields are independently optional; the enhancement engine only
// writes a facet when it is empty or when regeneration is forced.
type Definition struct {
	Meta
	WordID       uuid.UUID       `json:"word_id"`
	PartOfSpeech string          `json:"part_of_speech"`
	Text         string          `json:"text"`
	SenseNumber  int             `json:"sense_number"`
	Cluster      *MeaningCluster `json:"meaning_cluster,omitempty"`

	Synonyms        []string    `json:"synonyms,omitempty"`
	Antonyms        []string    `json:"antonyms,omitempty"`
	ExampleIDs      []uuid.UUID `json:"example_ids,omitempty"`
	ImageIDs        []uuid.UUID `json:"image_ids,omitempty"`
	WordForms       []WordForm  `json:"word_forms,omitempty"`
	CEFRLevel       string      `json:"cefr_level,omitempty"`
	FrequencyBand   int         `json:"frequency_band,omitempty"` // 1..5, 0 = unset
	Register        string      `json:"language_register,omitempty"`
	Domain          string      `json:"domain,omitempty"`
	Regions         []string    `json:"regions,omitempty"`
	GrammarPatterns []string    `json:"grammar_patterns,omitempty"`
	Collocations    []string    `json:"collocations,omitempty"`
	UsageNotes      []string    `json:"usage_notes,omitempty"`
	Transitivity    string      `json:"transitivity,omitempty"`
}

// WordForm is a single inflected or derived form of a word.
type WordForm struct {
	Form string `json:"form"`
	Type string `json:"type,omitempty"` // e.g. "past", "plural", "comparative"
}

// ExampleType distinguishes where an example sentence came from.
type ExampleType string

const (
	ExampleProvider   ExampleType = "provider"
	ExampleGenerated  ExampleType = "generated"
	ExampleLiterature ExampleType = "literature"
)

// IsValid reports whether t is a recognised example type.
func (t ExampleType) IsValid() bool {
	switch t {
	case ExampleProvider, ExampleGenerated, ExampleLiterature:
		return true
	}
	return false
}

// Example is a usage example owned by a Definition.
type Example struct {
	Meta
	DefinitionID uuid.UUID   `json:"definition_id"`
	Text         string      `json:"text"`
	Type         ExampleType `json:"type"`
	// QualityScore is in [0,1]; zero means unscored.
	QualityScore float64 `json:"quality_score,omitempty"`
}

// Pronunciation holds phonetic data for a word.
type Pronunciation struct {
	Meta
	WordID       uuid.UUID   `json:"word_id"`
	Phonetic     string      `json:"phonetic,omitempty"`
	IPA          string      `json:"ipa,omitempty"`
	AudioFileIDs []uuid.UUID `json:"audio_file_ids,omitempty"`
}

// ModelInfo records which model produced a derived artifact and at what cost.
type ModelInfo struct {
	Model            string  `json:"model"`
	Confidence       float64 `json:"confidence,omitempty"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
}

// SynthesizedEntry is the canonical AI-refined answer for a headword.
// At most one exists per word.
type SynthesizedEntry struct {
	Meta
	WordID                uuid.UUID   `json:"word_id"`
	DefinitionIDs         []uuid.UUID `json:"definition_ids"`
	PronunciationID       *uuid.UUID  `json:"pronunciation_id,omitempty"`
	Etymology             string      `json:"etymology,omitempty"`
	FactIDs               []uuid.UUID `json:"fact_ids,omitempty"`
	ImageIDs              []uuid.UUID `json:"image_ids,omitempty"`
	ModelInfo             ModelInfo   `json:"model_info"`
	SourceProviderDataIDs []uuid.UUID `json:"source_provider_data_ids"`
	AccessedAt            time.Time   `json:"accessed_at"`
	AccessCount           int64       `json:"access_count"`
}

// FactCategory classifies an interesting fact about a word.
type FactCategory string

const (
	FactGeneral    FactCategory = "general"
	FactTechnical  FactCategory = "technical"
	FactCultural   FactCategory = "cultural"
	FactScientific FactCategory = "scientific"
	FactEtymology  FactCategory = "etymology"
	FactUsage      FactCategory = "usage"
)

// IsValid reports whether c is a recognised fact category.
func (c FactCategory) IsValid() bool {
	switch c {
	case FactGeneral, FactTechnical, FactCultural, FactScientific, FactEtymology, FactUsage:
		return true
	}
	return false
}

// Fact is an LLM-generated interesting fact about a word.
type Fact struct {
	Meta
	WordID    uuid.UUID    `json:"word_id"`
	Content   string       `json:"content"`
	Category  FactCategory `json:"category"`
	ModelInfo ModelInfo    `json:"model_info"`
}
