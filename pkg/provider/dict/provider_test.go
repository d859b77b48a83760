package dict_test

import (
	"context"
	"testing"
	"time"

	"github.com/lexibase/lexibase/pkg/provider/dict"
	"github.com/lexibase/lexibase/pkg/provider/dict/mock"
)

func TestLimited_ZeroRateReturnsUnwrapped(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	if got := dict.Limited(p, 0); got != dict.Provider(p) {
		t.Error("rps <= 0 should return the provider unchanged")
	}
}

func TestLimited_DelaysBeyondBurst(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{FetchResult: &dict.Result{Provider: "mock", Word: "cat"}}
	limited := dict.Limited(p, 10) // burst 1, then one fetch per 100ms

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := limited.Fetch(ctx, "cat", "en"); err != nil {
			t.Fatalf("Fetch %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("three fetches took %v, expected the bucket to delay past 150ms", elapsed)
	}
	if got := len(p.Calls()); got != 3 {
		t.Errorf("upstream called %d times, want 3", got)
	}
}

func TestLimited_CancelledContext(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{FetchResult: &dict.Result{}}
	limited := dict.Limited(p, 0.001) // practically never refills

	if _, err := limited.Fetch(context.Background(), "warmup", "en"); err != nil {
		t.Fatalf("burst fetch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := limited.Fetch(ctx, "cat", "en"); err == nil {
		t.Error("fetch should fail when the context expires while waiting")
	}
}
