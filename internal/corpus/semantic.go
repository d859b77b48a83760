package corpus

import (
	"context"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/pkg/provider/embeddings"
)

// semanticTopK bounds how many vector neighbours a semantic search pulls
// before blending with fuzzy scores.
const semanticTopK = 50

// SemanticIndex stores corpus term embeddings in a PostgreSQL pgvector table
// and answers cosine-similarity queries. Safe for concurrent use.
type SemanticIndex struct {
	db       store.DB
	embedder embeddings.Provider
}

// NewSemanticIndex creates the corpus_vectors table (and the vector
// extension) if missing and returns the index. The vector column is sized to
// the embedder's dimensionality.
func NewSemanticIndex(ctx context.Context, db store.DB, embedder embeddings.Provider) (*SemanticIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("corpus: embeddings provider is required")
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS corpus_vectors (
    corpus    TEXT NOT NULL,
    key       TEXT NOT NULL,
    term      TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    PRIMARY KEY (corpus, key)
);
CREATE INDEX IF NOT EXISTS idx_corpus_vectors_embedding
    ON corpus_vectors USING hnsw (embedding vector_cosine_ops);
`, embedder.Dimensions())

	if _, err := db.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("corpus: create vector schema: %w", err)
	}
	return &SemanticIndex{db: db, embedder: embedder}, nil
}

// index replaces the stored vectors of the named corpus with embeddings of
// the given items.
func (s *SemanticIndex) index(ctx context.Context, corpus string, items []Item) error {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Term
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("corpus: embed %q vocabulary: %w", corpus, err)
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM corpus_vectors WHERE corpus = $1", corpus); err != nil {
		return fmt.Errorf("corpus: clear %q vectors: %w", corpus, err)
	}

	const q = `
		INSERT INTO corpus_vectors (corpus, key, term, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (corpus, key) DO UPDATE SET
		    term      = EXCLUDED.term,
		    embedding = EXCLUDED.embedding`
	for i, it := range items {
		vec := pgvector.NewVector(vectors[i])
		if _, err := s.db.Exec(ctx, q, corpus, it.Key, it.Term, vec); err != nil {
			return fmt.Errorf("corpus: index %q vector: %w", corpus, err)
		}
	}
	return nil
}

// search embeds the query and returns the cosine similarity of the nearest
// stored vectors, keyed by item key. Similarity is clamped to [0,1].
func (s *SemanticIndex) search(ctx context.Context, corpus, query string) (map[string]float64, error) {
	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("corpus: embed query: %w", err)
	}
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT key, embedding <=> $1 AS distance
		FROM   corpus_vectors
		WHERE  corpus = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.db.Query(ctx, q, queryVec, corpus, semanticTopK)
	if err != nil {
		return nil, fmt.Errorf("corpus: semantic search: %w", err)
	}
	defer rows.Close()

	sims := make(map[string]float64)
	for rows.Next() {
		var key string
		var distance float64
		if err := rows.Scan(&key, &distance); err != nil {
			return nil, fmt.Errorf("corpus: scan semantic result: %w", err)
		}
		sim := 1 - distance
		if sim < 0 {
			sim = 0
		} else if sim > 1 {
			sim = 1
		}
		sims[key] = sim
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("corpus: semantic rows: %w", err)
	}
	return sims, nil
}

// remove drops every stored vector of the named corpus.
func (s *SemanticIndex) remove(ctx context.Context, corpus string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM corpus_vectors WHERE corpus = $1", corpus); err != nil {
		return fmt.Errorf("corpus: remove %q vectors: %w", corpus, err)
	}
	return nil
}
