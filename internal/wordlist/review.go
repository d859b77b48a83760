package wordlist

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
)

// Spaced-repetition tuning (SM-2 convention).
const (
	defaultEaseFactor = 2.5
	minEaseFactor     = 1.3

	// masteredLevel is the mastery level counted as mastered in the stats.
	masteredLevel = 5

	// hotIntervalDays: items reviewed at least this often are "hot".
	hotIntervalDays = 7
)

// RecordReview applies one SM-2 review outcome (grade 0..5) to a word in a
// list and persists the updated list. Grades below 3 reset the repetition
// streak; grades of 3 and above grow the interval by the item's ease factor.
func (s *Service) RecordReview(ctx context.Context, listID, wordID uuid.UUID, grade int) (*model.WordList, error) {
	if grade < 0 || grade > 5 {
		return nil, &apperr.ValidationError{Field: "grade", Message: "must be in 0..5", Code: "range"}
	}

	wl, err := s.store.WordLists.Get(ctx, listID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, it := range wl.Words {
		if it.WordID == wordID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("wordlist: word %s in list %s: %w", wordID, listID, apperr.ErrNotFound)
	}

	now := time.Now()
	applyReview(&wl.Words[idx], grade, now)

	s.recomputeStats(wl)
	if err := s.store.WordLists.Update(ctx, wl); err != nil {
		return nil, err
	}
	return wl, nil
}

// applyReview mutates one item per the SM-2 algorithm.
func applyReview(it *model.WordListItem, grade int, now time.Time) {
	if it.EaseFactor == 0 {
		it.EaseFactor = defaultEaseFactor
	}

	if grade >= 3 {
		switch it.Repetitions {
		case 0:
			it.IntervalDays = 1
		case 1:
			it.IntervalDays = 6
		default:
			it.IntervalDays = int(math.Round(float64(it.IntervalDays) * it.EaseFactor))
		}
		it.Repetitions++
	} else {
		it.Repetitions = 0
		it.IntervalDays = 1
	}

	q := float64(5 - grade)
	it.EaseFactor += 0.1 - q*(0.08+q*0.02)
	if it.EaseFactor < minEaseFactor {
		it.EaseFactor = minEaseFactor
	}

	it.NextReviewAt = now.AddDate(0, 0, it.IntervalDays)
	it.History = append(it.History, model.ReviewRecord{ReviewedAt: now, Grade: grade})

	if it.Repetitions < masteredLevel {
		it.MasteryLevel = it.Repetitions
	} else {
		it.MasteryLevel = masteredLevel
	}
	if it.IntervalDays <= hotIntervalDays {
		it.Temperature = model.TemperatureHot
	} else {
		it.Temperature = model.TemperatureCold
	}
}
