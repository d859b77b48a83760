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

// PronunciationRepo persists [model.Pronunciation] records.
type PronunciationRepo struct {
	db DB
}

const pronunciationColumns = `id, version, word_id, phonetic, ipa, audio_file_ids, created_at, updated_at`

// Create inserts a new pronunciation. The referenced word must exist.
func (r *PronunciationRepo) Create(ctx context.Context, p *model.Pronunciation) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Version = 1

	const q = `
		INSERT INTO pronunciations (id, version, word_id, phonetic, ipa, audio_file_ids)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, q, p.ID, p.Version, p.WordID, p.Phonetic, p.IPA, idsOrEmpty(p.AudioFileIDs)).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: create pronunciation: word %s: %w", p.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: create pronunciation: %w", err)
	}
	return nil
}

// Get retrieves a pronunciation by id.
func (r *PronunciationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Pronunciation, error) {
	q := `SELECT ` + pronunciationColumns + ` FROM pronunciations WHERE id = $1`

	var p model.Pronunciation
	err := r.db.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.Version, &p.WordID, &p.Phonetic, &p.IPA, &p.AudioFileIDs,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: pronunciation %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get pronunciation %s: %w", id, err)
	}
	return &p, nil
}

// Update persists modified phonetic fields using optimistic concurrency.
func (r *PronunciationRepo) Update(ctx context.Context, p *model.Pronunciation) error {
	const q = `
		UPDATE pronunciations SET
			version = version + 1,
			phonetic = $3, ipa = $4, audio_file_ids = $5, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, q, p.ID, p.Version, p.Phonetic, p.IPA, idsOrEmpty(p.AudioFileIDs)).
		Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return versionConflict(ctx, r.db, "pronunciations", "pronunciation", p.ID, p.Version)
		}
		return fmt.Errorf("store: update pronunciation %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a pronunciation.
func (r *PronunciationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pronunciations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete pronunciation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: pronunciation %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// idsOrEmpty keeps uuid-array columns non-null: pgx maps a nil slice to SQL
// NULL, which the schema rejects.
func idsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
