package substrate

// Task tags every LLM call with the operation it serves. The tag drives model
// tier selection, temperature, and cache keying.
type Task string

// Pipeline and enhancement task tags.
const (
	TaskClusterMap    Task = "cluster_map"
	TaskSynthesis     Task = "synthesis"
	TaskPronunciation Task = "pronunciation"
	TaskEtymology     Task = "etymology"
	TaskFacts         Task = "facts"

	TaskSynonyms         Task = "synonyms"
	TaskAntonyms         Task = "antonyms"
	TaskExamples         Task = "examples"
	TaskCEFRLevel        Task = "cefr_level"
	TaskFrequencyBand    Task = "frequency_band"
	TaskRegister         Task = "register"
	TaskDomain           Task = "domain"
	TaskGrammarPatterns  Task = "grammar_patterns"
	TaskCollocations     Task = "collocations"
	TaskUsageNotes       Task = "usage_notes"
	TaskRegionalVariants Task = "regional_variants"
	TaskWordForms        Task = "word_forms"
)

// Complexity classes map a task onto a model tier.
type Complexity string

const (
	ComplexityHigh   Complexity = "high"
	ComplexityMedium Complexity = "medium"
	ComplexityLow    Complexity = "low"
)

// IsValid reports whether c is a recognised complexity class.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexityHigh, ComplexityMedium, ComplexityLow:
		return true
	}
	return false
}

// complexityFor maps a task to its complexity class. Clustering and synthesis
// need the strongest model; classification-style facets get the cheapest.
func complexityFor(task Task) Complexity {
	switch task {
	case TaskClusterMap, TaskSynthesis:
		return ComplexityHigh
	case TaskEtymology, TaskFacts, TaskExamples, TaskUsageNotes:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

// Temperature presets per task class.
const (
	tempClassification = 0.3
	tempCreative       = 0.8
	tempDefault        = 0.7
)

// temperatureFor returns the sampling temperature for a task. The task alone
// decides; model-specific handling (reasoning models take no temperature)
// happens at dispatch based on the provider's capabilities.
func temperatureFor(task Task) float64 {
	switch task {
	case TaskClusterMap, TaskCEFRLevel, TaskFrequencyBand, TaskRegister,
		TaskDomain, TaskRegionalVariants, TaskWordForms:
		return tempClassification
	case TaskExamples, TaskFacts:
		return tempCreative
	default:
		return tempDefault
	}
}

// reasoningBudget widens a completion token budget for reasoning-class models,
// which burn internal reasoning tokens before any visible output. Very small
// budgets get the larger multiplier.
func reasoningBudget(maxTokens int) int {
	if maxTokens <= 0 {
		return maxTokens
	}
	if maxTokens < 1024 {
		return maxTokens * 30
	}
	return maxTokens * 15
}
