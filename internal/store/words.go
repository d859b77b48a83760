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

// WordRepo persists [model.Word] records.
type WordRepo struct {
	db DB
}

// Create inserts a new word. The normalized form is computed from the text
// if empty. Returns apperr.ConflictError when the (normalized, language)
// pair already exists.
func (r *WordRepo) Create(ctx context.Context, w *model.Word) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Normalized == "" {
		w.Normalized = model.NormalizeText(w.Text)
	}
	w.Version = 1

	const q = `
		INSERT INTO words (id, version, text, normalized, language)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, q, w.ID, w.Version, w.Text, w.Normalized, w.Language).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &apperr.ConflictError{Message: fmt.Sprintf("word %q (%s) already exists", w.Normalized, w.Language)}
		}
		return fmt.Errorf("store: create word: %w", err)
	}
	return nil
}

// Get retrieves a word by id.
func (r *WordRepo) Get(ctx context.Context, id uuid.UUID) (*model.Word, error) {
	const q = `
		SELECT id, version, text, normalized, language, created_at, updated_at
		FROM words WHERE id = $1`

	var w model.Word
	err := r.db.QueryRow(ctx, q, id).Scan(
		&w.ID, &w.Version, &w.Text, &w.Normalized, &w.Language, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: word %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get word %s: %w", id, err)
	}
	return &w, nil
}

// GetByText retrieves a word by its normalized text and language.
func (r *WordRepo) GetByText(ctx context.Context, text, language string) (*model.Word, error) {
	const q = `
		SELECT id, version, text, normalized, language, created_at, updated_at
		FROM words WHERE normalized = $1 AND language = $2`

	var w model.Word
	err := r.db.QueryRow(ctx, q, model.NormalizeText(text), language).Scan(
		&w.ID, &w.Version, &w.Text, &w.Normalized, &w.Language, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: word %q (%s): %w", text, language, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get word %q: %w", text, err)
	}
	return &w, nil
}

// GetOrCreate returns the word for (text, language), creating it if absent.
// A concurrent create by another caller is resolved by re-reading.
func (r *WordRepo) GetOrCreate(ctx context.Context, text, language string) (*model.Word, error) {
	w, err := r.GetByText(ctx, text, language)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	w = &model.Word{Text: text, Language: language}
	err = r.Create(ctx, w)
	if err == nil {
		return w, nil
	}
	var conflict *apperr.ConflictError
	if errors.As(err, &conflict) {
		// Lost the race to a concurrent creator.
		return r.GetByText(ctx, text, language)
	}
	return nil, err
}

// ListByIDs retrieves the words with the given ids. Missing ids are skipped,
// so the result may be shorter than the input.
func (r *WordRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Word, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const q = `
		SELECT id, version, text, normalized, language, created_at, updated_at
		FROM words WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, q, idsOrEmpty(ids))
	if err != nil {
		return nil, fmt.Errorf("store: list words by ids: %w", err)
	}
	defer rows.Close()

	var words []*model.Word
	for rows.Next() {
		var w model.Word
		if err := rows.Scan(&w.ID, &w.Version, &w.Text, &w.Normalized, &w.Language, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan word: %w", err)
		}
		words = append(words, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list words by ids: %w", err)
	}
	return words, nil
}

// Delete removes a word and, via cascade, all provider data, definitions,
// examples, pronunciations, facts, and its synthesized entry.
func (r *WordRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM words WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete word %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: word %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
