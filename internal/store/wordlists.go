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

// WordListRepo persists [model.WordList] records. List items, including
// their spaced-repetition state, live in a JSONB column and are written as a
// whole with the list.
type WordListRepo struct {
	db DB
}

const wordListColumns = `id, version, name, hash_id, owner_id, visibility, words, stats, created_at, updated_at`

// Create inserts a new word list. HashID is computed from the item set when
// empty. Returns apperr.ConflictError when the owner already has a list with
// the same name.
func (r *WordListRepo) Create(ctx context.Context, wl *model.WordList) error {
	if wl.ID == uuid.Nil {
		wl.ID = uuid.New()
	}
	if wl.HashID == "" {
		wl.HashID = model.ComputeHashID(wl.Words)
	}
	if wl.Visibility == "" {
		wl.Visibility = model.VisibilityPrivate
	}
	wl.Version = 1

	wordsJSON, statsJSON, err := marshalWordList(wl)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO word_lists (id, version, name, hash_id, owner_id, visibility, words, stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, q,
		wl.ID, wl.Version, wl.Name, wl.HashID, wl.OwnerID, wl.Visibility, wordsJSON, statsJSON,
	).Scan(&wl.CreatedAt, &wl.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return &apperr.ConflictError{Message: fmt.Sprintf("word list %q already exists for this owner", wl.Name)}
		}
		return fmt.Errorf("store: create word list: %w", err)
	}
	return nil
}

// Get retrieves a word list by id.
func (r *WordListRepo) Get(ctx context.Context, id uuid.UUID) (*model.WordList, error) {
	q := `SELECT ` + wordListColumns + ` FROM word_lists WHERE id = $1`
	wl, err := scanWordList(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: word list %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get word list %s: %w", id, err)
	}
	return wl, nil
}

// GetByHashID retrieves a word list by its content hash.
func (r *WordListRepo) GetByHashID(ctx context.Context, hashID string) (*model.WordList, error) {
	q := `SELECT ` + wordListColumns + ` FROM word_lists WHERE hash_id = $1 ORDER BY created_at LIMIT 1`
	wl, err := scanWordList(r.db.QueryRow(ctx, q, hashID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: word list hash %q: %w", hashID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get word list hash %q: %w", hashID, err)
	}
	return wl, nil
}

// ListByOwner returns all lists owned by ownerID, most recently updated
// first.
func (r *WordListRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.WordList, error) {
	q := `SELECT ` + wordListColumns + ` FROM word_lists WHERE owner_id = $1 ORDER BY updated_at DESC`
	return r.list(ctx, q, ownerID)
}

// ListPublic returns all lists with public visibility, most recently updated
// first.
func (r *WordListRepo) ListPublic(ctx context.Context) ([]*model.WordList, error) {
	q := `SELECT ` + wordListColumns + ` FROM word_lists WHERE visibility = $1 ORDER BY updated_at DESC`
	return r.list(ctx, q, model.VisibilityPublic)
}

// ListAll returns every list, most recently updated first. Used to build the
// shared list-names search corpus.
func (r *WordListRepo) ListAll(ctx context.Context) ([]*model.WordList, error) {
	q := `SELECT ` + wordListColumns + ` FROM word_lists ORDER BY updated_at DESC`
	return r.list(ctx, q)
}

// Update persists a modified list using optimistic concurrency. HashID is
// recomputed from the current item set before writing.
func (r *WordListRepo) Update(ctx context.Context, wl *model.WordList) error {
	wl.HashID = model.ComputeHashID(wl.Words)

	wordsJSON, statsJSON, err := marshalWordList(wl)
	if err != nil {
		return err
	}

	const q = `
		UPDATE word_lists SET
			version = version + 1,
			name = $3, hash_id = $4, visibility = $5, words = $6, stats = $7,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err = r.db.QueryRow(ctx, q,
		wl.ID, wl.Version, wl.Name, wl.HashID, wl.Visibility, wordsJSON, statsJSON,
	).Scan(&wl.Version, &wl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return versionConflict(ctx, r.db, "word_lists", "word list", wl.ID, wl.Version)
		}
		if isDuplicateKeyError(err) {
			return &apperr.ConflictError{Message: fmt.Sprintf("word list %q already exists for this owner", wl.Name)}
		}
		return fmt.Errorf("store: update word list %s: %w", wl.ID, err)
	}
	return nil
}

// Delete removes a word list.
func (r *WordListRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM word_lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete word list %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: word list %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func marshalWordList(wl *model.WordList) (wordsJSON, statsJSON []byte, err error) {
	items := wl.Words
	if items == nil {
		items = []model.WordListItem{}
	}
	wordsJSON, err = json.Marshal(items)
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal word list items: %w", err)
	}
	statsJSON, err = json.Marshal(wl.Stats)
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal word list stats: %w", err)
	}
	return wordsJSON, statsJSON, nil
}

func scanWordList(row pgx.Row) (*model.WordList, error) {
	var (
		wl        model.WordList
		wordsJSON []byte
		statsJSON []byte
	)
	err := row.Scan(
		&wl.ID, &wl.Version, &wl.Name, &wl.HashID, &wl.OwnerID, &wl.Visibility,
		&wordsJSON, &statsJSON, &wl.CreatedAt, &wl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(wordsJSON, &wl.Words); err != nil {
		return nil, fmt.Errorf("store: unmarshal word list items: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &wl.Stats); err != nil {
		return nil, fmt.Errorf("store: unmarshal word list stats: %w", err)
	}
	return &wl, nil
}

func (r *WordListRepo) list(ctx context.Context, q string, args ...any) ([]*model.WordList, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list word lists: %w", err)
	}
	defer rows.Close()

	lists := []*model.WordList{}
	for rows.Next() {
		wl, err := scanWordList(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list word lists scan: %w", err)
		}
		lists = append(lists, wl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list word lists: %w", err)
	}
	return lists, nil
}
