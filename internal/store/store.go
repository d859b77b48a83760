// Package store is the PostgreSQL persistence facade for lexibase.
//
// One repository type exists per entity (words, definitions, examples,
// pronunciations, provider data, synthesized entries, facts, word lists).
// Obtain them from a [Store], which holds a single [pgxpool.Pool].
//
// # Concurrency control
//
// Every entity carries a monotonic version. Updates assert the expected
// version in the WHERE clause and increment it atomically; a mismatch
// surfaces as an apperr.VersionConflictError. No row locks are taken.
//
// # Ownership
//
// A word exclusively owns its provider data, definitions, pronunciations,
// examples, facts, and synthesized entry; all child tables declare
// ON DELETE CASCADE foreign keys so deleting a word removes the whole
// subtree. Word lists only reference words and definitions by id — they are
// never rewritten on word deletion, and dangling references are filtered
// on read.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexibase/lexibase/internal/apperr"
)

// Schema is the SQL DDL for all lexibase tables. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS words (
    id          UUID PRIMARY KEY,
    version     BIGINT NOT NULL DEFAULT 1,
    text        TEXT NOT NULL,
    normalized  TEXT NOT NULL,
    language    TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_words_normalized_language ON words(normalized, language);

CREATE TABLE IF NOT EXISTS definitions (
    id             UUID PRIMARY KEY,
    version        BIGINT NOT NULL DEFAULT 1,
    word_id        UUID NOT NULL REFERENCES words(id) ON DELETE CASCADE,
    part_of_speech TEXT NOT NULL DEFAULT '',
    text           TEXT NOT NULL,
    sense_number   INT NOT NULL DEFAULT 0,
    cluster        JSONB,
    facets         JSONB NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_definitions_word ON definitions(word_id);
CREATE INDEX IF NOT EXISTS idx_definitions_word_pos ON definitions(word_id, part_of_speech);

CREATE TABLE IF NOT EXISTS examples (
    id            UUID PRIMARY KEY,
    version       BIGINT NOT NULL DEFAULT 1,
    definition_id UUID NOT NULL REFERENCES definitions(id) ON DELETE CASCADE,
    text          TEXT NOT NULL,
    type          TEXT NOT NULL DEFAULT 'provider',
    quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_examples_definition ON examples(definition_id);

CREATE TABLE IF NOT EXISTS pronunciations (
    id             UUID PRIMARY KEY,
    version        BIGINT NOT NULL DEFAULT 1,
    word_id        UUID NOT NULL REFERENCES words(id) ON DELETE CASCADE,
    phonetic       TEXT NOT NULL DEFAULT '',
    ipa            TEXT NOT NULL DEFAULT '',
    audio_file_ids UUID[] NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pronunciations_word ON pronunciations(word_id);

CREATE TABLE IF NOT EXISTS provider_data (
    id               UUID PRIMARY KEY,
    version          BIGINT NOT NULL DEFAULT 1,
    word_id          UUID NOT NULL REFERENCES words(id) ON DELETE CASCADE,
    provider         TEXT NOT NULL,
    definition_ids   UUID[] NOT NULL DEFAULT '{}',
    pronunciation_id UUID,
    etymology        TEXT NOT NULL DEFAULT '',
    raw_data         JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_provider_data_word_provider ON provider_data(word_id, provider);

CREATE TABLE IF NOT EXISTS synthesized_entries (
    id                       UUID PRIMARY KEY,
    version                  BIGINT NOT NULL DEFAULT 1,
    word_id                  UUID NOT NULL REFERENCES words(id) ON DELETE CASCADE,
    definition_ids           UUID[] NOT NULL DEFAULT '{}',
    pronunciation_id         UUID,
    etymology                TEXT NOT NULL DEFAULT '',
    fact_ids                 UUID[] NOT NULL DEFAULT '{}',
    image_ids                UUID[] NOT NULL DEFAULT '{}',
    model_info               JSONB NOT NULL DEFAULT '{}',
    source_provider_data_ids UUID[] NOT NULL DEFAULT '{}',
    accessed_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    access_count             BIGINT NOT NULL DEFAULT 0,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_synthesized_entries_word ON synthesized_entries(word_id);

CREATE TABLE IF NOT EXISTS facts (
    id         UUID PRIMARY KEY,
    version    BIGINT NOT NULL DEFAULT 1,
    word_id    UUID NOT NULL REFERENCES words(id) ON DELETE CASCADE,
    content    TEXT NOT NULL,
    category   TEXT NOT NULL DEFAULT 'general',
    model_info JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_facts_word ON facts(word_id);

CREATE TABLE IF NOT EXISTS word_lists (
    id         UUID PRIMARY KEY,
    version    BIGINT NOT NULL DEFAULT 1,
    name       TEXT NOT NULL,
    hash_id    TEXT NOT NULL,
    owner_id   TEXT NOT NULL DEFAULT '',
    visibility TEXT NOT NULL DEFAULT 'private',
    words      JSONB NOT NULL DEFAULT '[]',
    stats      JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_word_lists_owner ON word_lists(owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_word_lists_owner_name ON word_lists(owner_id, name);
`

// DB is the database interface used by all repositories. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store bundles one repository per entity over a shared database handle.
// All repositories are safe for concurrent use.
type Store struct {
	db DB

	Words          *WordRepo
	Definitions    *DefinitionRepo
	Examples       *ExampleRepo
	Pronunciations *PronunciationRepo
	ProviderData   *ProviderDataRepo
	Entries        *EntryRepo
	Facts          *FactRepo
	WordLists      *WordListRepo
}

// New creates a Store over the given database handle. The caller is
// responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{
		db:             db,
		Words:          &WordRepo{db: db},
		Definitions:    &DefinitionRepo{db: db},
		Examples:       &ExampleRepo{db: db},
		Pronunciations: &PronunciationRepo{db: db},
		ProviderData:   &ProviderDataRepo{db: db},
		Entries:        &EntryRepo{db: db},
		Facts:          &FactRepo{db: db},
		WordLists:      &WordListRepo{db: db},
	}
}

// ConnectOption configures [Connect].
type ConnectOption func(*pgxpool.Config)

// WithStatementTimeout bounds every statement server-side via the PostgreSQL
// statement_timeout session parameter. Zero leaves the server default.
func WithStatementTimeout(d time.Duration) ConnectOption {
	return func(cfg *pgxpool.Config) {
		if d > 0 {
			cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(d.Milliseconds(), 10)
		}
	}
}

// Connect establishes a connection pool to the PostgreSQL database at dsn,
// pings it, and runs [Store.Migrate]. The returned pool should be closed by
// the caller when the Store is no longer needed.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*Store, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	for _, o := range opts {
		o(cfg)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL, creating all tables and indexes if they
// do not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isForeignKeyError checks whether a PostgreSQL error is a foreign-key
// violation (SQLSTATE 23503).
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

// versionConflict resolves an optimistic-update miss for entity id: either
// the row is gone (not found) or another writer moved the version.
func versionConflict(ctx context.Context, db DB, table, entity string, id any, expected int64) error {
	var actual int64
	err := db.QueryRow(ctx, "SELECT version FROM "+table+" WHERE id = $1", id).Scan(&actual)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: %s %v: %w", entity, id, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: %s version check: %w", entity, err)
	}
	return &apperr.VersionConflictError{Entity: entity, Expected: expected, Actual: actual}
}
