// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface for the lexibase substrate to perform completions, count tokens,
// and inspect model capabilities without coupling to any specific SDK.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles used in completion requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting returned by the LLM backend. All counts are in
// the model's native token unit and may differ between providers for the same
// textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt. Directly affects billing and budget tracking.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. Some providers return it
	// directly rather than computing it from the parts.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. If the provider does not natively support a dedicated
	// system prompt, implementors should prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Lower values
	// produce more deterministic outputs.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default (usually the model's MaxOutputTokens).
	MaxTokens int

	// JSONOnly requests that the model respond with a single JSON document and
	// no surrounding prose. Providers enforce this through the backend's JSON
	// mode when available, or through prompt instruction otherwise. The caller
	// remains responsible for validating the payload.
	JSONOnly bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the model's reply.
	Content string

	// Model is the identifier of the model that served the request.
	Model string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// ModelCapabilities describes what a provider's underlying model supports.
// Assumed constant for the lifetime of a Provider instance.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of input + output tokens.
	ContextWindow int

	// MaxOutputTokens is the maximum completion length the model allows.
	MaxOutputTokens int

	// SupportsJSONOutput reports whether the model reliably honours JSONOnly
	// requests.
	SupportsJSONOutput bool

	// Reasoning reports whether the model spends internal reasoning tokens
	// before answering. Reasoning models need substantially larger MaxTokens
	// budgets for the same visible output.
	Reasoning bool
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given message list would
	// consume in the model's context window. Used to enforce token budgets
	// before sending a request. The result need not be exact but should not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities

	// ModelID returns the provider-specific model identifier (e.g., "gpt-4o").
	// Recorded in model info on every derived artifact.
	ModelID() string
}
