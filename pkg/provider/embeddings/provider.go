// Package embeddings defines the interface for vector embedding backends.
// Definition texts are embedded when a corpus index is built and queries at
// lookup time; cosine similarity between the two drives semantic search.
package embeddings

import "context"

// Provider maps text to dense float32 vectors. Every vector from one
// Provider instance has the same length, reported by Dimensions; vectors
// from different instances must not be compared unless they share a model.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed returns the vector for a single text. Text is passed to the
	// backend verbatim; any model-specific prompt prefix is the caller's
	// responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds all texts in one backend call. result[i]
	// corresponds to texts[i]; on error the whole result is nil, never a
	// partial batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length this provider produces.
	Dimensions() int

	// ModelID names the underlying model, e.g. "text-embedding-3-small".
	ModelID() string
}
