// Command lexibase is the main entry point for the lexibase dictionary server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lexibase/lexibase/internal/config"
	"github.com/lexibase/lexibase/internal/corpus"
	"github.com/lexibase/lexibase/internal/enhance"
	"github.com/lexibase/lexibase/internal/health"
	"github.com/lexibase/lexibase/internal/observe"
	"github.com/lexibase/lexibase/internal/pipeline"
	"github.com/lexibase/lexibase/internal/resilience"
	"github.com/lexibase/lexibase/internal/server"
	"github.com/lexibase/lexibase/internal/store"
	"github.com/lexibase/lexibase/internal/stream"
	"github.com/lexibase/lexibase/internal/substrate"
	"github.com/lexibase/lexibase/internal/synth"
	"github.com/lexibase/lexibase/internal/wordlist"
	"github.com/lexibase/lexibase/pkg/provider/dict"
	"github.com/lexibase/lexibase/pkg/provider/dict/apple"
	"github.com/lexibase/lexibase/pkg/provider/dict/freedict"
	"github.com/lexibase/lexibase/pkg/provider/dict/wiktionary"
	"github.com/lexibase/lexibase/pkg/provider/embeddings"
	ollamaembed "github.com/lexibase/lexibase/pkg/provider/embeddings/ollama"
	oaembed "github.com/lexibase/lexibase/pkg/provider/embeddings/openai"
	"github.com/lexibase/lexibase/pkg/provider/llm"
	"github.com/lexibase/lexibase/pkg/provider/llm/anyllm"
)

// defaultEnhanceComponents is the facet set the pipeline enriches after a
// fresh synthesis. Clients can run the rest on demand via the enhance API.
var defaultEnhanceComponents = []string{"synonyms", "antonyms", "examples"}

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lexibase: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lexibase: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("lexibase starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lexibase"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Persistence ───────────────────────────────────────────────────────────
	st, pool, err := store.Connect(ctx, cfg.Database.PostgresDSN,
		store.WithStatementTimeout(cfg.Database.BulkTimeout.Std()))
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer pool.Close()
	slog.Info("database connected")

	// ── LLM substrate ─────────────────────────────────────────────────────────
	tiers, err := buildModelTiers(cfg.LLM)
	if err != nil {
		slog.Error("failed to build model tiers", "err", err)
		return 1
	}
	limiter := substrate.NewLimiter(cfg.Rate)
	sub, err := substrate.New(tiers, limiter,
		substrate.WithDefaultTTL(hoursToDuration(cfg.Cache.LLMTTLHours)),
		substrate.WithDedupMaxWait(time.Duration(cfg.Pipeline.LookupDedupMaxWaitSeconds)*time.Second),
		substrate.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to build substrate", "err", err)
		return 1
	}

	// ── Dictionary providers ──────────────────────────────────────────────────
	provs, err := buildDictProviders(cfg.Providers)
	if err != nil {
		slog.Error("failed to build dictionary providers", "err", err)
		return 1
	}

	// ── Synthesis, enhancement, pipeline ──────────────────────────────────────
	sy := synth.New(sub, st, logger)
	engine := enhance.New(sub, st, sy, logger)

	pipe, err := pipeline.New(st, sy, provs,
		pipeline.WithEnhancer(engine, defaultEnhanceComponents),
		pipeline.WithDedupMaxWait(time.Duration(cfg.Pipeline.LookupDedupMaxWaitSeconds)*time.Second),
		pipeline.WithProviderTimeout(cfg.Pipeline.ProviderTimeout.Std()),
		pipeline.WithLookupTimeout(cfg.Pipeline.LookupTimeout.Std()),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	// ── Corpus search and word lists ──────────────────────────────────────────
	var sem *corpus.SemanticIndex
	if cfg.LLM.Embeddings.Provider != "" {
		embedder, err := buildEmbedder(cfg.LLM.Embeddings)
		if err != nil {
			slog.Error("failed to build embeddings provider", "err", err)
			return 1
		}
		sem, err = corpus.NewSemanticIndex(ctx, pool, embedder)
		if err != nil {
			slog.Warn("semantic index unavailable, corpus search is fuzzy-only", "err", err)
			sem = nil
		} else {
			slog.Info("semantic search enabled", "model", cfg.LLM.Embeddings.Model)
		}
	}
	corpora := corpus.NewManager(sem, corpus.WithLogger(logger))
	wordlists := wordlist.New(st, corpora,
		hoursToDuration(cfg.Cache.CorpusNamesTTLHours),
		hoursToDuration(cfg.Cache.CorpusWordlistTTLHours),
		logger,
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	adapter := stream.NewAdapter(
		time.Duration(cfg.Stream.HeartbeatSeconds)*time.Second,
		time.Duration(cfg.Stream.OverallTimeoutSeconds)*time.Second,
		logger,
	)
	checks := health.New(
		health.Checker{Name: "database", Check: pool.Ping},
		health.Checker{Name: "providers", Check: func(context.Context) error {
			for _, p := range provs {
				if p.Available() {
					return nil
				}
			}
			return errors.New("no dictionary provider available")
		}},
	)
	srv := server.New(pipe, engine, wordlists, sub, adapter,
		server.WithHealth(checks),
		server.WithLogger(logger),
	)

	printStartupSummary(cfg, provs)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildModelTiers constructs one LLM provider per complexity class, each
// wrapped in a failover chain through the cheaper tiers' models. Missing tier
// models fall back to the default model.
func buildModelTiers(cfg config.LLMConfig) (map[substrate.Complexity]llm.Provider, error) {
	var opts []anyllmlib.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
	}

	models := resolveTierModels(cfg)
	if len(models) == 0 {
		return nil, errors.New("no LLM model configured; set llm.model or llm.model_tiers")
	}

	byModel := make(map[string]llm.Provider, len(models))
	for tier, model := range models {
		if _, ok := byModel[model]; ok {
			continue
		}
		p, err := anyllm.New(cfg.Provider, model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q model %q: %w", cfg.Provider, model, err)
		}
		byModel[model] = p
		slog.Info("provider created", "kind", "llm", "name", cfg.Provider, "model", model, "tier", tier)
	}
	return chainTierFallbacks(models, byModel), nil
}

// resolveTierModels maps each complexity class to its configured model,
// substituting the default model where a tier is unset.
func resolveTierModels(cfg config.LLMConfig) map[substrate.Complexity]string {
	configured := map[substrate.Complexity]string{
		substrate.ComplexityHigh:   cfg.ModelTiers.High,
		substrate.ComplexityMedium: cfg.ModelTiers.Medium,
		substrate.ComplexityLow:    cfg.ModelTiers.Low,
	}
	models := make(map[substrate.Complexity]string, len(configured))
	for tier, model := range configured {
		if model == "" {
			model = cfg.Model
		}
		if model != "" {
			models[tier] = model
		}
	}
	return models
}

// chainTierFallbacks wraps every tier's provider in an [resilience.LLMFallback]
// that fails over to the cheaper tiers' models when the tier's own backend is
// erroring or its breaker is open. Tiers sharing a model are not chained to
// themselves.
func chainTierFallbacks(models map[substrate.Complexity]string, byModel map[string]llm.Provider) map[substrate.Complexity]llm.Provider {
	order := []substrate.Complexity{substrate.ComplexityHigh, substrate.ComplexityMedium, substrate.ComplexityLow}

	tiers := make(map[substrate.Complexity]llm.Provider, len(models))
	for i, tier := range order {
		model, ok := models[tier]
		if !ok {
			continue
		}
		fb := resilience.NewLLMFallback(byModel[model], model, resilience.FallbackConfig{})
		seen := map[string]bool{model: true}
		for _, cheaper := range order[i+1:] {
			m, ok := models[cheaper]
			if !ok || seen[m] {
				continue
			}
			seen[m] = true
			fb.AddFallback(m, byModel[m])
		}
		tiers[tier] = fb
	}
	return tiers
}

// buildDictProviders instantiates the enabled dictionary providers in fan-out
// order, each wrapped with the outbound rate limit.
func buildDictProviders(cfg config.ProvidersConfig) ([]dict.Provider, error) {
	names := cfg.Enabled
	if len(names) == 0 {
		names = []string{"wiktionary", "freedict"}
	}

	provs := make([]dict.Provider, 0, len(names))
	for _, name := range names {
		var (
			p   dict.Provider
			err error
		)
		switch name {
		case "wiktionary":
			p, err = wiktionary.New()
		case "freedict":
			p, err = freedict.New()
		case "apple":
			p = apple.New()
		default:
			return nil, fmt.Errorf("unknown dictionary provider %q; supported: wiktionary, freedict, apple", name)
		}
		if err != nil {
			return nil, fmt.Errorf("create dictionary provider %q: %w", name, err)
		}
		if !p.Available() {
			slog.Warn("dictionary provider unavailable on this platform — skipping", "name", name)
			continue
		}
		provs = append(provs, dict.Limited(p, cfg.RequestsPerSecond))
		slog.Info("provider created", "kind", "dict", "name", name)
	}
	if len(provs) == 0 {
		return nil, errors.New("no dictionary provider available")
	}
	return provs, nil
}

// buildEmbedder constructs the embeddings backend for semantic corpus search.
func buildEmbedder(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	switch cfg.Provider {
	case "openai":
		var opts []oaembed.Option
		if cfg.Dimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(cfg.Dimensions))
		}
		return oaembed.New(cfg.APIKey, cfg.Model, opts...)
	case "ollama":
		var opts []ollamaembed.Option
		if cfg.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(cfg.Dimensions))
		}
		return ollamaembed.New("", cfg.Model, opts...)
	default:
		return nil, fmt.Errorf("unsupported embeddings provider %q; supported: openai, ollama", cfg.Provider)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, provs []dict.Provider) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        lexibase — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.LLM.Provider+" / "+cfg.LLM.Model)
	if cfg.LLM.Embeddings.Provider != "" {
		printRow("Embeddings", cfg.LLM.Embeddings.Provider+" / "+cfg.LLM.Embeddings.Model)
	} else {
		printRow("Embeddings", "(disabled)")
	}
	dicts := ""
	for i, p := range provs {
		if i > 0 {
			dicts += ","
		}
		dicts += p.Name()
	}
	printRow("Dictionaries", dicts)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// hoursToDuration converts a fractional hour count to a duration.
func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
