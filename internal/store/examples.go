package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
)

// ExampleRepo persists [model.Example] records.
type ExampleRepo struct {
	db DB
}

const exampleColumns = `id, version, definition_id, text, type, quality_score, created_at, updated_at`

// Create inserts a new example. The referenced definition must exist.
func (r *ExampleRepo) Create(ctx context.Context, e *model.Example) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Type == "" {
		e.Type = model.ExampleProvider
	}
	e.Version = 1

	const q = `
		INSERT INTO examples (id, version, definition_id, text, type, quality_score)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, q, e.ID, e.Version, e.DefinitionID, e.Text, e.Type, e.QualityScore).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: create example: definition %s: %w", e.DefinitionID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: create example: %w", err)
	}
	return nil
}

// CreateBatch inserts examples one at a time, mutating inputs with ids and
// timestamps.
func (r *ExampleRepo) CreateBatch(ctx context.Context, examples []*model.Example) error {
	for _, e := range examples {
		if err := r.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves an example by id.
func (r *ExampleRepo) Get(ctx context.Context, id uuid.UUID) (*model.Example, error) {
	q := `SELECT ` + exampleColumns + ` FROM examples WHERE id = $1`
	e, err := scanExample(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: example %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get example %s: %w", id, err)
	}
	return e, nil
}

// ListByDefinition returns all examples for a definition, best quality first.
func (r *ExampleRepo) ListByDefinition(ctx context.Context, definitionID uuid.UUID) ([]*model.Example, error) {
	q := `SELECT ` + exampleColumns + ` FROM examples
		WHERE definition_id = $1
		ORDER BY quality_score DESC, created_at, id`
	return r.list(ctx, q, definitionID)
}

// ListByIDs returns the examples with the given ids in the order given,
// skipping missing ids.
func (r *ExampleRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Example, error) {
	if len(ids) == 0 {
		return []*model.Example{}, nil
	}
	q := `SELECT ` + exampleColumns + ` FROM examples WHERE id = ANY($1)`
	examples, err := r.list(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*model.Example, len(examples))
	for _, e := range examples {
		byID[e.ID] = e
	}
	ordered := make([]*model.Example, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// DeleteByDefinition removes all examples owned by a definition. Returns the
// number of rows removed; removing zero rows is not an error.
func (r *ExampleRepo) DeleteByDefinition(ctx context.Context, definitionID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM examples WHERE definition_id = $1`, definitionID)
	if err != nil {
		return 0, fmt.Errorf("store: delete examples for definition %s: %w", definitionID, err)
	}
	return tag.RowsAffected(), nil
}

func scanExample(row pgx.Row) (*model.Example, error) {
	var e model.Example
	err := row.Scan(
		&e.ID, &e.Version, &e.DefinitionID, &e.Text, &e.Type, &e.QualityScore,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExampleRepo) list(ctx context.Context, q string, args ...any) ([]*model.Example, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list examples: %w", err)
	}
	defer rows.Close()

	examples := []*model.Example{}
	for rows.Next() {
		e, err := scanExample(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list examples scan: %w", err)
		}
		examples = append(examples, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list examples: %w", err)
	}
	return examples, nil
}
