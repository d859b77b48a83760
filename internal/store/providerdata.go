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

// ProviderDataRepo persists [model.ProviderData] records. At most one record
// exists per (word, provider) pair; forced refreshes replace it via [Upsert].
type ProviderDataRepo struct {
	db DB
}

const providerDataColumns = `id, version, word_id, provider, definition_ids, pronunciation_id, etymology, raw_data, created_at, updated_at`

// Upsert inserts provider data for (word, provider), replacing any existing
// record wholesale. The replaced record keeps its id and gets a bumped
// version; pd is mutated to reflect the stored row.
func (r *ProviderDataRepo) Upsert(ctx context.Context, pd *model.ProviderData) error {
	if pd.ID == uuid.Nil {
		pd.ID = uuid.New()
	}

	const q = `
		INSERT INTO provider_data (id, version, word_id, provider, definition_ids, pronunciation_id, etymology, raw_data)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (word_id, provider) DO UPDATE SET
			version = provider_data.version + 1,
			definition_ids = EXCLUDED.definition_ids,
			pronunciation_id = EXCLUDED.pronunciation_id,
			etymology = EXCLUDED.etymology,
			raw_data = EXCLUDED.raw_data,
			updated_at = now()
		RETURNING id, version, created_at, updated_at`

	err := r.db.QueryRow(ctx, q,
		pd.ID, pd.WordID, pd.Provider, idsOrEmpty(pd.DefinitionIDs), pd.PronunciationID, pd.Etymology, pd.RawData,
	).Scan(&pd.ID, &pd.Version, &pd.CreatedAt, &pd.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: upsert provider data: word %s: %w", pd.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: upsert provider data: %w", err)
	}
	return nil
}

// Get retrieves provider data by id.
func (r *ProviderDataRepo) Get(ctx context.Context, id uuid.UUID) (*model.ProviderData, error) {
	q := `SELECT ` + providerDataColumns + ` FROM provider_data WHERE id = $1`
	pd, err := scanProviderData(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: provider data %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get provider data %s: %w", id, err)
	}
	return pd, nil
}

// GetByWordProvider retrieves the record for one (word, provider) pair.
func (r *ProviderDataRepo) GetByWordProvider(ctx context.Context, wordID uuid.UUID, provider string) (*model.ProviderData, error) {
	q := `SELECT ` + providerDataColumns + ` FROM provider_data WHERE word_id = $1 AND provider = $2`
	pd, err := scanProviderData(r.db.QueryRow(ctx, q, wordID, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: provider data for word %s from %q: %w", wordID, provider, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get provider data for word %s: %w", wordID, err)
	}
	return pd, nil
}

// ListByWord returns all provider data for a word ordered by provider name.
func (r *ProviderDataRepo) ListByWord(ctx context.Context, wordID uuid.UUID) ([]*model.ProviderData, error) {
	q := `SELECT ` + providerDataColumns + ` FROM provider_data WHERE word_id = $1 ORDER BY provider`

	rows, err := r.db.Query(ctx, q, wordID)
	if err != nil {
		return nil, fmt.Errorf("store: list provider data: %w", err)
	}
	defer rows.Close()

	records := []*model.ProviderData{}
	for rows.Next() {
		pd, err := scanProviderData(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list provider data scan: %w", err)
		}
		records = append(records, pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list provider data: %w", err)
	}
	return records, nil
}

// Delete removes a provider data record.
func (r *ProviderDataRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM provider_data WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete provider data %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: provider data %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func scanProviderData(row pgx.Row) (*model.ProviderData, error) {
	var pd model.ProviderData
	err := row.Scan(
		&pd.ID, &pd.Version, &pd.WordID, &pd.Provider, &pd.DefinitionIDs,
		&pd.PronunciationID, &pd.Etymology, &pd.RawData, &pd.CreatedAt, &pd.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pd, nil
}
