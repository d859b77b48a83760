package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known dictionary provider names.
// Used by [Validate] to reject unrecognised entries in providers.enabled.
var ValidProviderNames = []string{"wiktionary", "freedict", "apple"}

// ValidLLMProviderNames lists known LLM backend names.
var ValidLLMProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills in
// defaults for zero-valued tuning knobs. It returns a joined error listing
// all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		errs = append(errs, fmt.Errorf("database.postgres_dsn is required"))
	}
	if cfg.Database.BulkTimeout <= 0 {
		cfg.Database.BulkTimeout = DefaultBulkTimeout
	}

	// LLM
	if cfg.LLM.Provider == "" {
		errs = append(errs, fmt.Errorf("llm.provider is required"))
	} else if !slices.Contains(ValidLLMProviderNames, cfg.LLM.Provider) {
		slog.Warn("unknown llm provider name — may be a typo or third-party backend",
			"name", cfg.LLM.Provider,
			"known", ValidLLMProviderNames,
		)
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if t := cfg.LLM.TemperatureDefault; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("llm.temperature_default %.2f is out of range [0, 2]", *t))
	}
	if e := cfg.LLM.Embeddings; e.Provider != "" {
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("llm.embeddings.model is required when llm.embeddings.provider is set"))
		}
		if e.Dimensions <= 0 {
			slog.Warn("llm.embeddings.dimensions is not set; defaulting to 1536")
			cfg.LLM.Embeddings.Dimensions = 1536
		}
	}

	// Rate limits: zero means unlimited, negative is a mistake.
	if cfg.Rate.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate.requests_per_minute must not be negative"))
	}
	if cfg.Rate.RequestsPerHour < 0 {
		errs = append(errs, fmt.Errorf("rate.requests_per_hour must not be negative"))
	}
	if cfg.Rate.RequestsPerDay < 0 {
		errs = append(errs, fmt.Errorf("rate.requests_per_day must not be negative"))
	}
	if cfg.Rate.TokensPerMinute < 0 {
		errs = append(errs, fmt.Errorf("rate.tokens_per_minute must not be negative"))
	}
	if cfg.Rate.TokensPerDay < 0 {
		errs = append(errs, fmt.Errorf("rate.tokens_per_day must not be negative"))
	}

	// Cache TTLs.
	if cfg.Cache.LLMTTLHours <= 0 {
		cfg.Cache.LLMTTLHours = DefaultLLMCacheTTLHours
	}
	if cfg.Cache.CorpusNamesTTLHours <= 0 {
		cfg.Cache.CorpusNamesTTLHours = DefaultCorpusNamesTTLHours
	}
	if cfg.Cache.CorpusWordlistTTLHours <= 0 {
		cfg.Cache.CorpusWordlistTTLHours = DefaultCorpusListTTLHours
	}

	// Stream.
	if cfg.Stream.HeartbeatSeconds <= 0 {
		cfg.Stream.HeartbeatSeconds = DefaultHeartbeatSeconds
	}
	if cfg.Stream.OverallTimeoutSeconds <= 0 {
		cfg.Stream.OverallTimeoutSeconds = DefaultOverallTimeoutSecs
	}
	if cfg.Stream.OverallTimeoutSeconds <= cfg.Stream.HeartbeatSeconds {
		errs = append(errs, fmt.Errorf("stream.overall_timeout_seconds (%d) must exceed stream.heartbeat_seconds (%d)",
			cfg.Stream.OverallTimeoutSeconds, cfg.Stream.HeartbeatSeconds))
	}

	// Pipeline.
	if cfg.Pipeline.LookupDedupMaxWaitSeconds <= 0 {
		cfg.Pipeline.LookupDedupMaxWaitSeconds = DefaultDedupMaxWaitSeconds
	}
	if cfg.Pipeline.ProviderTimeout <= 0 {
		cfg.Pipeline.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.Pipeline.LookupTimeout <= 0 {
		cfg.Pipeline.LookupTimeout = DefaultLookupTimeout
	}

	// Dictionary providers.
	if len(cfg.Providers.Enabled) == 0 {
		cfg.Providers.Enabled = []string{"wiktionary", "freedict"}
	}
	seen := make(map[string]int, len(cfg.Providers.Enabled))
	for i, name := range cfg.Providers.Enabled {
		prefix := fmt.Sprintf("providers.enabled[%d]", i)
		if !slices.Contains(ValidProviderNames, name) {
			errs = append(errs, fmt.Errorf("%s %q is unknown; valid values: %v", prefix, name, ValidProviderNames))
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of providers.enabled[%d]", prefix, name, prev))
		}
		seen[name] = i
	}
	if cfg.Providers.RequestsPerSecond <= 0 {
		cfg.Providers.RequestsPerSecond = DefaultProviderRPS
	}

	return errors.Join(errs...)
}
