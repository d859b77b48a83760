package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
)

// FactRepo persists [model.Fact] records.
type FactRepo struct {
	db DB
}

const factColumns = `id, version, word_id, content, category, model_info, created_at, updated_at`

// Create inserts a new fact. The referenced word must exist.
func (r *FactRepo) Create(ctx context.Context, f *model.Fact) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Category == "" {
		f.Category = model.FactGeneral
	}
	f.Version = 1

	modelInfo, err := json.Marshal(f.ModelInfo)
	if err != nil {
		return fmt.Errorf("store: marshal model info: %w", err)
	}

	const q = `
		INSERT INTO facts (id, version, word_id, content, category, model_info)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, q, f.ID, f.Version, f.WordID, f.Content, f.Category, modelInfo).
		Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: create fact: word %s: %w", f.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: create fact: %w", err)
	}
	return nil
}

// CreateBatch inserts facts one at a time, mutating inputs with ids and
// timestamps.
func (r *FactRepo) CreateBatch(ctx context.Context, facts []*model.Fact) error {
	for _, f := range facts {
		if err := r.Create(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// ListByWord returns all facts for a word in creation order.
func (r *FactRepo) ListByWord(ctx context.Context, wordID uuid.UUID) ([]*model.Fact, error) {
	q := `SELECT ` + factColumns + ` FROM facts WHERE word_id = $1 ORDER BY created_at, id`
	return r.list(ctx, q, wordID)
}

// ListByIDs returns the facts with the given ids in the order given, skipping
// missing ids.
func (r *FactRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Fact, error) {
	if len(ids) == 0 {
		return []*model.Fact{}, nil
	}
	q := `SELECT ` + factColumns + ` FROM facts WHERE id = ANY($1)`
	facts, err := r.list(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	ordered := make([]*model.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			ordered = append(ordered, f)
		}
	}
	return ordered, nil
}

// DeleteByWord removes all facts for a word. Removing zero rows is not an
// error.
func (r *FactRepo) DeleteByWord(ctx context.Context, wordID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM facts WHERE word_id = $1`, wordID)
	if err != nil {
		return 0, fmt.Errorf("store: delete facts for word %s: %w", wordID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *FactRepo) list(ctx context.Context, q string, args ...any) ([]*model.Fact, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list facts: %w", err)
	}
	defer rows.Close()

	facts := []*model.Fact{}
	for rows.Next() {
		var (
			f             model.Fact
			modelInfoJSON []byte
		)
		err := rows.Scan(
			&f.ID, &f.Version, &f.WordID, &f.Content, &f.Category, &modelInfoJSON,
			&f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("store: list facts scan: %w", err)
		}
		if err := json.Unmarshal(modelInfoJSON, &f.ModelInfo); err != nil {
			return nil, fmt.Errorf("store: unmarshal model info: %w", err)
		}
		facts = append(facts, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list facts: %w", err)
	}
	return facts, nil
}

// Get retrieves a fact by id.
func (r *FactRepo) Get(ctx context.Context, id uuid.UUID) (*model.Fact, error) {
	q := `SELECT ` + factColumns + ` FROM facts WHERE id = $1`

	var (
		f             model.Fact
		modelInfoJSON []byte
	)
	err := r.db.QueryRow(ctx, q, id).Scan(
		&f.ID, &f.Version, &f.WordID, &f.Content, &f.Category, &modelInfoJSON,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: fact %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get fact %s: %w", id, err)
	}
	if err := json.Unmarshal(modelInfoJSON, &f.ModelInfo); err != nil {
		return nil, fmt.Errorf("store: unmarshal model info: %w", err)
	}
	return &f, nil
}
