package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can read a word list.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// IsValid reports whether v is a recognised visibility.
func (v Visibility) IsValid() bool {
	switch v {
	case VisibilityPrivate, VisibilityShared, VisibilityPublic:
		return true
	}
	return false
}

// Temperature marks how actively a word is being studied.
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureCold Temperature = "cold"
)

// ReviewRecord is one spaced-repetition review outcome.
type ReviewRecord struct {
	ReviewedAt time.Time `json:"reviewed_at"`
	// Grade is the recall quality in 0..5 (SM-2 convention).
	Grade int `json:"grade"`
}

// WordListItem is a word's membership in a list, carrying the learner's
// per-word spaced-repetition state. Items are owned by value by their list.
//
// DefinitionID is a weak reference: deleting a word does not rewrite lists,
// so dangling references are tolerated and filtered on read.
type WordListItem struct {
	WordID       uuid.UUID  `json:"word_id"`
	DefinitionID *uuid.UUID `json:"definition_id,omitempty"`

	Repetitions  int            `json:"repetitions"`
	IntervalDays int            `json:"interval_days"`
	EaseFactor   float64        `json:"ease_factor"`
	NextReviewAt time.Time      `json:"next_review_at"`
	History      []ReviewRecord `json:"history,omitempty"`

	MasteryLevel int         `json:"mastery_level"`
	Temperature  Temperature `json:"temperature,omitempty"`
	Frequency    int         `json:"frequency,omitempty"`
	Notes        string      `json:"notes,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
}

// LearningStats aggregates review state over a whole list.
type LearningStats struct {
	TotalWords    int       `json:"total_words"`
	MasteredWords int       `json:"mastered_words"`
	DueWords      int       `json:"due_words"`
	LastReviewed  time.Time `json:"last_reviewed,omitzero"`
}

// WordList is a named collection of words owned by a user.
type WordList struct {
	Meta
	Name       string         `json:"name"`
	HashID     string         `json:"hash_id"`
	OwnerID    string         `json:"owner_id"`
	Visibility Visibility     `json:"visibility"`
	Words      []WordListItem `json:"words"`
	Stats      LearningStats  `json:"learning_stats"`
}

// ComputeHashID returns the content hash identifying the list's word set.
// It is order-insensitive: the same set of word IDs always yields the same
// hash regardless of item order.
func ComputeHashID(items []WordListItem) string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.WordID.String()
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:16])
}
