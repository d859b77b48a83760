package corpus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lexibase/lexibase/internal/apperr"
)

func testItems() []Item {
	return []Item{
		{Key: "1", Term: "cat"},
		{Key: "2", Term: "catalog"},
		{Key: "3", Term: "dog"},
		{Key: "4", Term: "catastrophe"},
	}
}

func staticLoad(items []Item) LoadFunc {
	return func(context.Context) ([]Item, error) { return items, nil }
}

func TestManager_CreateOrGetAndSearch(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.CreateOrGet(context.Background(), "words", time.Hour, staticLoad(testItems())); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	matches, err := m.Search(context.Background(), "words", "cat", 10, 0.5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("no matches for exact term")
	}
	if matches[0].Term != "cat" {
		t.Errorf("top match = %q, want cat", matches[0].Term)
	}
	if matches[0].Score != 1 {
		t.Errorf("exact match score = %v, want 1", matches[0].Score)
	}
	// Substring containment keeps "catalog" above the threshold.
	found := false
	for _, mt := range matches {
		if mt.Term == "catalog" {
			found = true
		}
	}
	if !found {
		t.Error("catalog should match the query cat")
	}
}

func TestManager_SearchUnknownCorpus(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	_, err := m.Search(context.Background(), "missing", "cat", 10, 0.3, nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestManager_SearchEmptyQuery(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.CreateOrGet(context.Background(), "words", time.Hour, staticLoad(testItems())); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	_, err := m.Search(context.Background(), "words", "   ", 10, 0.3, nil)
	var val *apperr.ValidationError
	if !errors.As(err, &val) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestManager_MaxResultsTruncates(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.CreateOrGet(context.Background(), "words", time.Hour, staticLoad(testItems())); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	matches, err := m.Search(context.Background(), "words", "cat", 1, 0.1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Errorf("len(matches) = %d, want 1", len(matches))
	}
}

func TestManager_FreshCorpusNotRebuilt(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	load := func(context.Context) ([]Item, error) {
		builds.Add(1)
		return testItems(), nil
	}

	m := NewManager(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := m.CreateOrGet(ctx, "words", time.Hour, load); err != nil {
			t.Fatalf("CreateOrGet %d: %v", i, err)
		}
	}
	if builds.Load() != 1 {
		t.Errorf("loader called %d times, want 1", builds.Load())
	}
}

func TestManager_InvalidateForcesRebuild(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	load := func(context.Context) ([]Item, error) {
		builds.Add(1)
		return testItems(), nil
	}

	m := NewManager(nil)
	ctx := context.Background()
	if err := m.CreateOrGet(ctx, "words", time.Hour, load); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	m.Invalidate("words")

	if _, err := m.Search(ctx, "words", "cat", 10, 0.3, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if builds.Load() != 2 {
		t.Errorf("loader called %d times, want 2 (invalidate forces rebuild)", builds.Load())
	}
}

func TestManager_RemoveDropsCorpus(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	ctx := context.Background()
	if err := m.CreateOrGet(ctx, "words", time.Hour, staticLoad(testItems())); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	m.Remove(ctx, "words")
	if _, err := m.Search(ctx, "words", "cat", 10, 0.3, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after Remove", err)
	}
}

func TestManager_BuildErrorPropagates(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	boom := errors.New("db down")
	err := m.CreateOrGet(context.Background(), "words", time.Hour, func(context.Context) ([]Item, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped loader error", err)
	}
}

func TestFuzzyScore(t *testing.T) {
	t.Parallel()

	if got := fuzzyScore("cat", "cat"); got != 1 {
		t.Errorf("exact match score = %v, want 1", got)
	}
	if got := fuzzyScore("cat", "catalog"); got < 0.75 {
		t.Errorf("substring score = %v, want >= 0.75 floor", got)
	}
	near := fuzzyScore("recieve", "receive")
	far := fuzzyScore("recieve", "dog")
	if near <= far {
		t.Errorf("transposition score %v should beat unrelated score %v", near, far)
	}
}

func TestAdaptiveMinScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		base  float64
		want  float64
	}{
		{"ab", 0.5, 0.20},
		{"abcd", 0.5, 0.25},
		{"abcdef", 0.5, 0.30},
		{"abcdefg", 0.5, 0.5},
		{"héllo", 0.5, 0.30}, // rune count, not byte count
	}
	for _, tc := range tests {
		if got := adaptiveMinScore(tc.query, tc.base); got != tc.want {
			t.Errorf("adaptiveMinScore(%q, %v) = %v, want %v", tc.query, tc.base, got, tc.want)
		}
	}
}

func TestManager_ConcurrentSearchAndInvalidate(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	if err := m.CreateOrGet(context.Background(), "words", time.Hour, staticLoad(testItems())); err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}

	// Meaningful under the race detector: searches read the expiry and loader
	// while invalidations rewrite them.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := m.Search(context.Background(), "words", "cat", 5, 0.5, nil); err != nil {
					t.Errorf("Search: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			m.Invalidate("words")
		}
	}()
	wg.Wait()
}
