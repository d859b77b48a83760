// Package apple provides a capability-gated dictionary provider backed by the
// macOS Dictionary Services framework.
//
// Go cannot call Dictionary Services directly, so the provider shells out to
// a small helper binary (expected on PATH as "appledict") that wraps the
// framework and prints a JSON document per lookup. Off macOS, or when the
// helper is missing, the provider reports unavailable; the lookup pipeline
// treats that as a capability flag rather than an error.
//
// Helper output contract:
//
//	{
//	  "word": "serendipity",
//	  "phonetic": "ˌsɛrənˈdɪpɪti",
//	  "etymology": "...",
//	  "definitions": [
//	    {"part_of_speech": "noun", "text": "...", "examples": ["..."]}
//	  ]
//	}
package apple

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/lexibase/lexibase/pkg/provider/dict"
)

// ProviderName is the stable identifier of this provider.
const ProviderName = "apple"

// DefaultHelper is the helper binary searched on PATH.
const DefaultHelper = "appledict"

// Ensure Provider implements the dict.Provider interface at compile time.
var _ dict.Provider = (*Provider)(nil)

// Provider implements dict.Provider by invoking the macOS dictionary helper.
// Safe for concurrent use.
type Provider struct {
	helperPath string
	available  bool
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithHelper overrides the helper binary path, bypassing the PATH search.
func WithHelper(path string) Option {
	return func(p *Provider) {
		p.helperPath = path
	}
}

// New constructs an apple Provider. Availability is resolved once at
// construction: the provider is available only on macOS with the helper
// binary resolvable.
func New(opts ...Option) *Provider {
	p := &Provider{}
	for _, o := range opts {
		o(p)
	}
	if p.helperPath == "" {
		if path, err := exec.LookPath(DefaultHelper); err == nil {
			p.helperPath = path
		}
	}
	p.available = runtime.GOOS == "darwin" && p.helperPath != ""
	return p
}

// Name implements dict.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// Available implements dict.Provider.
func (p *Provider) Available() bool {
	return p.available
}

// helperOutput mirrors the JSON document printed by the helper binary.
type helperOutput struct {
	Word        string `json:"word"`
	Phonetic    string `json:"phonetic"`
	Etymology   string `json:"etymology"`
	Definitions []struct {
		PartOfSpeech string   `json:"part_of_speech"`
		Text         string   `json:"text"`
		Examples     []string `json:"examples"`
	} `json:"definitions"`
}

// Fetch implements dict.Provider. The language argument is ignored: the
// system dictionary's active language set decides what the helper returns.
func (p *Provider) Fetch(ctx context.Context, word, language string) (*dict.Result, error) {
	if !p.available {
		return nil, dict.ErrUnavailable
	}
	if word == "" {
		return nil, fmt.Errorf("apple: word must not be empty")
	}

	cmd := exec.CommandContext(ctx, p.helperPath, "define", word)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// Exit code 2 is the helper's not-found signal.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
			return nil, dict.ErrNotFound
		}
		return nil, fmt.Errorf("apple: helper: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	var out helperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("apple: decode helper output: %w", err)
	}
	if len(out.Definitions) == 0 {
		return nil, dict.ErrNotFound
	}

	result := &dict.Result{
		Provider:  ProviderName,
		Word:      out.Word,
		Etymology: out.Etymology,
		Raw:       raw,
	}
	if result.Word == "" {
		result.Word = word
	}
	if out.Phonetic != "" {
		result.Pronunciation = &dict.Pronunciation{IPA: out.Phonetic}
	}
	for i, def := range out.Definitions {
		text := strings.TrimSpace(def.Text)
		if text == "" {
			continue
		}
		result.Definitions = append(result.Definitions, dict.Definition{
			PartOfSpeech: strings.ToLower(def.PartOfSpeech),
			Text:         text,
			SenseNumber:  i + 1,
			Examples:     def.Examples,
		})
	}
	if len(result.Definitions) == 0 {
		return nil, dict.ErrNotFound
	}
	return result, nil
}
