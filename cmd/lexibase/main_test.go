package main

import (
	"context"
	"errors"
	"testing"

	"github.com/lexibase/lexibase/internal/config"
	"github.com/lexibase/lexibase/internal/substrate"
	"github.com/lexibase/lexibase/pkg/provider/llm"
	llmmock "github.com/lexibase/lexibase/pkg/provider/llm/mock"
)

func TestResolveTierModels(t *testing.T) {
	t.Parallel()

	cfg := config.LLMConfig{Model: "base"}
	cfg.ModelTiers.High = "big"

	models := resolveTierModels(cfg)
	if models[substrate.ComplexityHigh] != "big" {
		t.Errorf("high = %q, want big", models[substrate.ComplexityHigh])
	}
	// Unset tiers inherit the default model.
	if models[substrate.ComplexityMedium] != "base" || models[substrate.ComplexityLow] != "base" {
		t.Errorf("medium/low = %q/%q, want base/base",
			models[substrate.ComplexityMedium], models[substrate.ComplexityLow])
	}

	if got := resolveTierModels(config.LLMConfig{}); len(got) != 0 {
		t.Errorf("no models configured, got %v", got)
	}
}

func TestChainTierFallbacks_FailsOverToCheaperTier(t *testing.T) {
	t.Parallel()

	big := &llmmock.Provider{Model: "big", CompleteErr: errors.New("upstream down")}
	small := &llmmock.Provider{
		Model:            "small",
		CompleteResponse: &llm.CompletionResponse{Content: `{"ok":true}`, Model: "small"},
	}

	models := map[substrate.Complexity]string{
		substrate.ComplexityHigh:   "big",
		substrate.ComplexityMedium: "small",
		substrate.ComplexityLow:    "small",
	}
	byModel := map[string]llm.Provider{"big": big, "small": small}

	tiers := chainTierFallbacks(models, byModel)

	resp, err := tiers[substrate.ComplexityHigh].Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Model != "small" {
		t.Errorf("served by %q, want the cheaper tier small", resp.Model)
	}
	if got := len(big.Calls()); got != 1 {
		t.Errorf("primary called %d times, want 1", got)
	}
	if got := len(small.Calls()); got != 1 {
		t.Errorf("fallback called %d times, want 1", got)
	}
}

func TestChainTierFallbacks_SharedModelNotChainedToItself(t *testing.T) {
	t.Parallel()

	shared := &llmmock.Provider{Model: "base", CompleteErr: errors.New("upstream down")}
	models := map[substrate.Complexity]string{
		substrate.ComplexityHigh:   "base",
		substrate.ComplexityMedium: "base",
		substrate.ComplexityLow:    "base",
	}
	tiers := chainTierFallbacks(models, map[string]llm.Provider{"base": shared})

	if _, err := tiers[substrate.ComplexityHigh].Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error when the only backend fails")
	}
	// One attempt, not one per duplicate tier entry.
	if got := len(shared.Calls()); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}
}
