package wordlist

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/model"
)

func TestApplyReview_IntervalProgression(t *testing.T) {
	t.Parallel()

	now := time.Now()
	it := model.WordListItem{WordID: uuid.New()}

	// First three successful reviews: 1 day, 6 days, then interval*ease.
	applyReview(&it, 4, now)
	if it.IntervalDays != 1 || it.Repetitions != 1 {
		t.Fatalf("after 1st review: interval=%d reps=%d, want 1/1", it.IntervalDays, it.Repetitions)
	}
	applyReview(&it, 4, now)
	if it.IntervalDays != 6 || it.Repetitions != 2 {
		t.Fatalf("after 2nd review: interval=%d reps=%d, want 6/2", it.IntervalDays, it.Repetitions)
	}
	easeBefore := it.EaseFactor
	applyReview(&it, 4, now)
	want := int(math.Round(6 * easeBefore))
	if it.IntervalDays != want || it.Repetitions != 3 {
		t.Fatalf("after 3rd review: interval=%d reps=%d, want %d/3", it.IntervalDays, it.Repetitions, want)
	}
}

func TestApplyReview_FailureResetsStreak(t *testing.T) {
	t.Parallel()

	now := time.Now()
	it := model.WordListItem{WordID: uuid.New()}
	applyReview(&it, 5, now)
	applyReview(&it, 5, now)
	applyReview(&it, 5, now)

	applyReview(&it, 2, now)
	if it.Repetitions != 0 {
		t.Errorf("repetitions = %d, want 0 after failing grade", it.Repetitions)
	}
	if it.IntervalDays != 1 {
		t.Errorf("interval = %d, want 1 after failing grade", it.IntervalDays)
	}
	if it.MasteryLevel != 0 {
		t.Errorf("mastery = %d, want 0 after failing grade", it.MasteryLevel)
	}
}

func TestApplyReview_EaseFactorBounds(t *testing.T) {
	t.Parallel()

	now := time.Now()
	it := model.WordListItem{WordID: uuid.New()}

	// Repeated poor grades push ease down, but never below the floor.
	for i := 0; i < 20; i++ {
		applyReview(&it, 0, now)
	}
	if it.EaseFactor != minEaseFactor {
		t.Errorf("ease = %v, want floor %v", it.EaseFactor, minEaseFactor)
	}
}

func TestApplyReview_EaseFactorFormula(t *testing.T) {
	t.Parallel()

	now := time.Now()
	it := model.WordListItem{WordID: uuid.New()}
	applyReview(&it, 5, now)

	// SM-2: EF' = EF + (0.1 - (5-q)(0.08 + (5-q)*0.02)); perfect recall adds 0.1.
	if got, want := it.EaseFactor, defaultEaseFactor+0.1; math.Abs(got-want) > 1e-9 {
		t.Errorf("ease after grade 5 = %v, want %v", got, want)
	}

	it2 := model.WordListItem{WordID: uuid.New()}
	applyReview(&it2, 3, now)
	if got, want := it2.EaseFactor, defaultEaseFactor-0.14; math.Abs(got-want) > 1e-9 {
		t.Errorf("ease after grade 3 = %v, want %v", got, want)
	}
}

func TestApplyReview_SchedulesNextReview(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	it := model.WordListItem{WordID: uuid.New()}
	applyReview(&it, 4, now)

	if got, want := it.NextReviewAt, now.AddDate(0, 0, 1); !got.Equal(want) {
		t.Errorf("next review = %v, want %v", got, want)
	}
	if len(it.History) != 1 || it.History[0].Grade != 4 {
		t.Errorf("history = %+v, want single grade-4 record", it.History)
	}
}

func TestApplyReview_MasteryAndTemperature(t *testing.T) {
	t.Parallel()

	now := time.Now()
	it := model.WordListItem{WordID: uuid.New()}

	for i := 0; i < 7; i++ {
		applyReview(&it, 5, now)
	}
	if it.MasteryLevel != masteredLevel {
		t.Errorf("mastery = %d, want capped at %d", it.MasteryLevel, masteredLevel)
	}
	if it.IntervalDays <= hotIntervalDays {
		t.Fatalf("interval = %d, expected to exceed %d after 7 perfect reviews", it.IntervalDays, hotIntervalDays)
	}
	if it.Temperature != model.TemperatureCold {
		t.Errorf("temperature = %s, want cold for long intervals", it.Temperature)
	}

	applyReview(&it, 1, now)
	if it.Temperature != model.TemperatureHot {
		t.Errorf("temperature = %s, want hot after reset", it.Temperature)
	}
}

func TestRecomputeStats(t *testing.T) {
	t.Parallel()

	now := time.Now()
	reviewed := now.Add(-time.Hour)
	wl := &model.WordList{
		Words: []model.WordListItem{
			{WordID: uuid.New(), MasteryLevel: masteredLevel, NextReviewAt: now.AddDate(0, 0, 3)},
			{WordID: uuid.New(), MasteryLevel: 2, NextReviewAt: now.Add(-time.Minute),
				History: []model.ReviewRecord{{ReviewedAt: reviewed, Grade: 4}}},
			{WordID: uuid.New()}, // never reviewed, due immediately
		},
	}

	(&Service{}).recomputeStats(wl)

	if wl.Stats.TotalWords != 3 {
		t.Errorf("total = %d, want 3", wl.Stats.TotalWords)
	}
	if wl.Stats.MasteredWords != 1 {
		t.Errorf("mastered = %d, want 1", wl.Stats.MasteredWords)
	}
	if wl.Stats.DueWords != 2 {
		t.Errorf("due = %d, want 2", wl.Stats.DueWords)
	}
	if !wl.Stats.LastReviewed.Equal(reviewed) {
		t.Errorf("last reviewed = %v, want %v", wl.Stats.LastReviewed, reviewed)
	}
}
