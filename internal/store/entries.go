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

// EntryRepo persists [model.SynthesizedEntry] records. At most one entry
// exists per word; a re-synthesis replaces it via [Replace].
type EntryRepo struct {
	db DB
}

const entryColumns = `id, version, word_id, definition_ids, pronunciation_id, etymology,
	fact_ids, image_ids, model_info, source_provider_data_ids, accessed_at, access_count,
	created_at, updated_at`

// Create inserts a new synthesized entry. Returns apperr.ConflictError when
// the word already has one.
func (r *EntryRepo) Create(ctx context.Context, e *model.SynthesizedEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Version = 1

	modelInfo, err := json.Marshal(e.ModelInfo)
	if err != nil {
		return fmt.Errorf("store: marshal model info: %w", err)
	}

	const q = `
		INSERT INTO synthesized_entries
			(id, version, word_id, definition_ids, pronunciation_id, etymology,
			 fact_ids, image_ids, model_info, source_provider_data_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING accessed_at, created_at, updated_at`

	err = r.db.QueryRow(ctx, q,
		e.ID, e.Version, e.WordID, idsOrEmpty(e.DefinitionIDs), e.PronunciationID, e.Etymology,
		idsOrEmpty(e.FactIDs), idsOrEmpty(e.ImageIDs), modelInfo, idsOrEmpty(e.SourceProviderDataIDs),
	).Scan(&e.AccessedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &apperr.ConflictError{Message: fmt.Sprintf("word %s already has a synthesized entry", e.WordID)}
		}
		if isForeignKeyError(err) {
			return fmt.Errorf("store: create entry: word %s: %w", e.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: create entry: %w", err)
	}
	return nil
}

// Replace stores a fresh synthesis for the word, overwriting any existing
// entry while keeping its id, version history, and access statistics.
// Creates the entry when none exists yet.
func (r *EntryRepo) Replace(ctx context.Context, e *model.SynthesizedEntry) error {
	modelInfo, err := json.Marshal(e.ModelInfo)
	if err != nil {
		return fmt.Errorf("store: marshal model info: %w", err)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	const q = `
		INSERT INTO synthesized_entries
			(id, version, word_id, definition_ids, pronunciation_id, etymology,
			 fact_ids, image_ids, model_info, source_provider_data_ids)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (word_id) DO UPDATE SET
			version = synthesized_entries.version + 1,
			definition_ids = EXCLUDED.definition_ids,
			pronunciation_id = EXCLUDED.pronunciation_id,
			etymology = EXCLUDED.etymology,
			fact_ids = EXCLUDED.fact_ids,
			image_ids = EXCLUDED.image_ids,
			model_info = EXCLUDED.model_info,
			source_provider_data_ids = EXCLUDED.source_provider_data_ids,
			updated_at = now()
		RETURNING id, version, accessed_at, access_count, created_at, updated_at`

	err = r.db.QueryRow(ctx, q,
		e.ID, e.WordID, idsOrEmpty(e.DefinitionIDs), e.PronunciationID, e.Etymology,
		idsOrEmpty(e.FactIDs), idsOrEmpty(e.ImageIDs), modelInfo, idsOrEmpty(e.SourceProviderDataIDs),
	).Scan(&e.ID, &e.Version, &e.AccessedAt, &e.AccessCount, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: replace entry: word %s: %w", e.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: replace entry: %w", err)
	}
	return nil
}

// Get retrieves a synthesized entry by id.
func (r *EntryRepo) Get(ctx context.Context, id uuid.UUID) (*model.SynthesizedEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM synthesized_entries WHERE id = $1`
	e, err := scanEntry(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: entry %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get entry %s: %w", id, err)
	}
	return e, nil
}

// GetByWord retrieves the word's synthesized entry.
func (r *EntryRepo) GetByWord(ctx context.Context, wordID uuid.UUID) (*model.SynthesizedEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM synthesized_entries WHERE word_id = $1`
	e, err := scanEntry(r.db.QueryRow(ctx, q, wordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: entry for word %s: %w", wordID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get entry for word %s: %w", wordID, err)
	}
	return e, nil
}

// Update persists a modified entry using optimistic concurrency. Access
// statistics are not touched; use [BumpAccess] for those.
func (r *EntryRepo) Update(ctx context.Context, e *model.SynthesizedEntry) error {
	modelInfo, err := json.Marshal(e.ModelInfo)
	if err != nil {
		return fmt.Errorf("store: marshal model info: %w", err)
	}

	const q = `
		UPDATE synthesized_entries SET
			version = version + 1,
			definition_ids = $3, pronunciation_id = $4, etymology = $5,
			fact_ids = $6, image_ids = $7, model_info = $8,
			source_provider_data_ids = $9, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err = r.db.QueryRow(ctx, q,
		e.ID, e.Version, idsOrEmpty(e.DefinitionIDs), e.PronunciationID, e.Etymology,
		idsOrEmpty(e.FactIDs), idsOrEmpty(e.ImageIDs), modelInfo, idsOrEmpty(e.SourceProviderDataIDs),
	).Scan(&e.Version, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return versionConflict(ctx, r.db, "synthesized_entries", "entry", e.ID, e.Version)
		}
		return fmt.Errorf("store: update entry %s: %w", e.ID, err)
	}
	return nil
}

// BumpAccess atomically records one read of the word's entry and refreshes
// e.AccessedAt and e.AccessCount from the updated row. It bypasses version
// checks so concurrent readers never conflict with each other or with content
// updates. Missing entries are ignored.
func (r *EntryRepo) BumpAccess(ctx context.Context, e *model.SynthesizedEntry) error {
	const q = `
		UPDATE synthesized_entries
		SET accessed_at = now(), access_count = access_count + 1
		WHERE word_id = $1
		RETURNING accessed_at, access_count`

	err := r.db.QueryRow(ctx, q, e.WordID).Scan(&e.AccessedAt, &e.AccessCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("store: bump access for word %s: %w", e.WordID, err)
	}
	return nil
}

// DeleteByWord removes the word's synthesized entry if present. Returns true
// when an entry was removed.
func (r *EntryRepo) DeleteByWord(ctx context.Context, wordID uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM synthesized_entries WHERE word_id = $1`, wordID)
	if err != nil {
		return false, fmt.Errorf("store: delete entry for word %s: %w", wordID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanEntry(row pgx.Row) (*model.SynthesizedEntry, error) {
	var (
		e             model.SynthesizedEntry
		modelInfoJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.Version, &e.WordID, &e.DefinitionIDs, &e.PronunciationID, &e.Etymology,
		&e.FactIDs, &e.ImageIDs, &modelInfoJSON, &e.SourceProviderDataIDs,
		&e.AccessedAt, &e.AccessCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(modelInfoJSON, &e.ModelInfo); err != nil {
		return nil, fmt.Errorf("store: unmarshal model info: %w", err)
	}
	return &e, nil
}
