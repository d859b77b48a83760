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

// DefinitionRepo persists [model.Definition] records. Facet fields are
// serialised together as a single JSONB document; core sense fields are
// first-class columns so they can be indexed.
type DefinitionRepo struct {
	db DB
}

// definitionFacets is the JSONB shape of a definition's facet fields.
type definitionFacets struct {
	Synonyms        []string         `json:"synonyms,omitempty"`
	Antonyms        []string         `json:"antonyms,omitempty"`
	ExampleIDs      []uuid.UUID      `json:"example_ids,omitempty"`
	ImageIDs        []uuid.UUID      `json:"image_ids,omitempty"`
	WordForms       []model.WordForm `json:"word_forms,omitempty"`
	CEFRLevel       string           `json:"cefr_level,omitempty"`
	FrequencyBand   int              `json:"frequency_band,omitempty"`
	Register        string           `json:"language_register,omitempty"`
	Domain          string           `json:"domain,omitempty"`
	Regions         []string         `json:"regions,omitempty"`
	GrammarPatterns []string         `json:"grammar_patterns,omitempty"`
	Collocations    []string         `json:"collocations,omitempty"`
	UsageNotes      []string         `json:"usage_notes,omitempty"`
	Transitivity    string           `json:"transitivity,omitempty"`
}

func facetsOf(d *model.Definition) definitionFacets {
	return definitionFacets{
		Synonyms:        d.Synonyms,
		Antonyms:        d.Antonyms,
		ExampleIDs:      d.ExampleIDs,
		ImageIDs:        d.ImageIDs,
		WordForms:       d.WordForms,
		CEFRLevel:       d.CEFRLevel,
		FrequencyBand:   d.FrequencyBand,
		Register:        d.Register,
		Domain:          d.Domain,
		Regions:         d.Regions,
		GrammarPatterns: d.GrammarPatterns,
		Collocations:    d.Collocations,
		UsageNotes:      d.UsageNotes,
		Transitivity:    d.Transitivity,
	}
}

func applyFacets(d *model.Definition, f definitionFacets) {
	d.Synonyms = f.Synonyms
	d.Antonyms = f.Antonyms
	d.ExampleIDs = f.ExampleIDs
	d.ImageIDs = f.ImageIDs
	d.WordForms = f.WordForms
	d.CEFRLevel = f.CEFRLevel
	d.FrequencyBand = f.FrequencyBand
	d.Register = f.Register
	d.Domain = f.Domain
	d.Regions = f.Regions
	d.GrammarPatterns = f.GrammarPatterns
	d.Collocations = f.Collocations
	d.UsageNotes = f.UsageNotes
	d.Transitivity = f.Transitivity
}

func marshalDefinition(d *model.Definition) (clusterJSON, facetsJSON []byte, err error) {
	if d.Cluster != nil {
		clusterJSON, err = json.Marshal(d.Cluster)
		if err != nil {
			return nil, nil, fmt.Errorf("store: marshal cluster: %w", err)
		}
	}
	facetsJSON, err = json.Marshal(facetsOf(d))
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal facets: %w", err)
	}
	return clusterJSON, facetsJSON, nil
}

func scanDefinition(row pgx.Row) (*model.Definition, error) {
	var (
		d           model.Definition
		clusterJSON []byte
		facetsJSON  []byte
	)
	err := row.Scan(
		&d.ID, &d.Version, &d.WordID, &d.PartOfSpeech, &d.Text, &d.SenseNumber,
		&clusterJSON, &facetsJSON, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(clusterJSON) > 0 {
		d.Cluster = &model.MeaningCluster{}
		if err := json.Unmarshal(clusterJSON, d.Cluster); err != nil {
			return nil, fmt.Errorf("store: unmarshal cluster: %w", err)
		}
	}
	var f definitionFacets
	if err := json.Unmarshal(facetsJSON, &f); err != nil {
		return nil, fmt.Errorf("store: unmarshal facets: %w", err)
	}
	applyFacets(&d, f)
	return &d, nil
}

const definitionColumns = `id, version, word_id, part_of_speech, text, sense_number, cluster, facets, created_at, updated_at`

// Create inserts a new definition. The referenced word must exist.
func (r *DefinitionRepo) Create(ctx context.Context, d *model.Definition) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.Version = 1

	clusterJSON, facetsJSON, err := marshalDefinition(d)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO definitions (id, version, word_id, part_of_speech, text, sense_number, cluster, facets)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, q,
		d.ID, d.Version, d.WordID, d.PartOfSpeech, d.Text, d.SenseNumber, clusterJSON, facetsJSON,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("store: create definition: word %s: %w", d.WordID, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: create definition: %w", err)
	}
	return nil
}

// CreateBatch inserts definitions one statement at a time inside the
// caller's connection. Inputs are mutated with ids and timestamps.
func (r *DefinitionRepo) CreateBatch(ctx context.Context, defs []*model.Definition) error {
	for _, d := range defs {
		if err := r.Create(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a definition by id.
func (r *DefinitionRepo) Get(ctx context.Context, id uuid.UUID) (*model.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions WHERE id = $1`
	d, err := scanDefinition(r.db.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store: definition %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("store: get definition %s: %w", id, err)
	}
	return d, nil
}

// ListByWord returns all definitions for a word ordered by part of speech
// and sense number.
func (r *DefinitionRepo) ListByWord(ctx context.Context, wordID uuid.UUID) ([]*model.Definition, error) {
	q := `SELECT ` + definitionColumns + ` FROM definitions
		WHERE word_id = $1
		ORDER BY part_of_speech, sense_number, id`
	return r.list(ctx, q, wordID)
}

// ListByIDs returns the definitions with the given ids, in the order given.
// Missing ids are silently skipped (dangling references are tolerated).
func (r *DefinitionRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Definition, error) {
	if len(ids) == 0 {
		return []*model.Definition{}, nil
	}
	q := `SELECT ` + definitionColumns + ` FROM definitions WHERE id = ANY($1)`
	defs, err := r.list(ctx, q, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*model.Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	ordered := make([]*model.Definition, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
		}
	}
	return ordered, nil
}

// Update persists a modified definition using optimistic concurrency: the
// stored version must equal d.Version. On success d.Version is incremented.
func (r *DefinitionRepo) Update(ctx context.Context, d *model.Definition) error {
	clusterJSON, facetsJSON, err := marshalDefinition(d)
	if err != nil {
		return err
	}

	const q = `
		UPDATE definitions SET
			version = version + 1,
			part_of_speech = $3, text = $4, sense_number = $5,
			cluster = $6, facets = $7, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err = r.db.QueryRow(ctx, q,
		d.ID, d.Version, d.PartOfSpeech, d.Text, d.SenseNumber, clusterJSON, facetsJSON,
	).Scan(&d.Version, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return versionConflict(ctx, r.db, "definitions", "definition", d.ID, d.Version)
		}
		return fmt.Errorf("store: update definition %s: %w", d.ID, err)
	}
	return nil
}

// Delete removes a definition and, via cascade, its examples.
func (r *DefinitionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete definition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: definition %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func (r *DefinitionRepo) list(ctx context.Context, q string, args ...any) ([]*model.Definition, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list definitions: %w", err)
	}
	defer rows.Close()

	defs := []*model.Definition{}
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list definitions scan: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list definitions: %w", err)
	}
	return defs, nil
}
