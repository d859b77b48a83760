// Package wiktionary provides a dictionary provider backed by the Wiktionary
// REST API (https://en.wiktionary.org/api/rest_v1/).
//
// The definition endpoint returns HTML-flavoured definition strings grouped
// by language section and part of speech; this package strips the markup and
// normalizes the result to the internal shape. Wiktionary's definition
// endpoint carries no pronunciation or etymology, so those fields are always
// empty in results from this provider.
//
// Example usage:
//
//	p, err := wiktionary.New()
//	res, err := p.Fetch(ctx, "serendipity", "en")
package wiktionary

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lexibase/lexibase/pkg/provider/dict"
)

// ProviderName is the stable identifier of this provider.
const ProviderName = "wiktionary"

// DefaultBaseURL is the Wiktionary REST API root.
const DefaultBaseURL = "https://en.wiktionary.org/api/rest_v1"

// Ensure Provider implements the dict.Provider interface at compile time.
var _ dict.Provider = (*Provider)(nil)

// Provider implements dict.Provider using the Wiktionary REST API.
// Safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the REST API root, e.g. to point at a mirror or a
// test server.
func WithBaseURL(u string) Option {
	return func(c *config) {
		c.baseURL = u
	}
}

// WithTimeout sets a per-request HTTP timeout. Ignored when WithHTTPClient
// is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.client = client
	}
}

// New constructs a Wiktionary Provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	baseURL := cfg.baseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	client := cfg.client
	if client == nil {
		client = &http.Client{}
		if cfg.timeout > 0 {
			client.Timeout = cfg.timeout
		}
	}

	return &Provider{baseURL: baseURL, httpClient: client}, nil
}

// Name implements dict.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// Available implements dict.Provider. Wiktionary is a remote HTTP service and
// is always considered available; reachability failures surface per fetch.
func (p *Provider) Available() bool {
	return true
}

// definitionUsage is one usage group in the REST definition response.
type definitionUsage struct {
	PartOfSpeech string `json:"partOfSpeech"`
	Language     string `json:"language"`
	Definitions  []struct {
		Definition     string `json:"definition"`
		ParsedExamples []struct {
			Example string `json:"example"`
		} `json:"parsedExamples"`
		Examples []string `json:"examples"`
	} `json:"definitions"`
}

// Fetch implements dict.Provider. It queries the REST definition endpoint and
// keeps only the language section matching the requested language code.
func (p *Provider) Fetch(ctx context.Context, word, language string) (*dict.Result, error) {
	if word == "" {
		return nil, fmt.Errorf("wiktionary: word must not be empty")
	}
	if language == "" {
		language = "en"
	}

	endpoint := p.baseURL + "/page/definition/" + url.PathEscape(word)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("wiktionary: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wiktionary: fetch %q: %w", word, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dict.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("wiktionary: fetch %q: unexpected status %d", word, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("wiktionary: read response: %w", err)
	}

	var sections map[string][]definitionUsage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("wiktionary: decode response: %w", err)
	}

	usages, ok := sections[language]
	if !ok || len(usages) == 0 {
		// The word exists on Wiktionary but not in the requested language.
		return nil, dict.ErrNotFound
	}

	result := &dict.Result{
		Provider: ProviderName,
		Word:     word,
		Raw:      raw,
	}
	sense := 0
	for _, usage := range usages {
		for _, def := range usage.Definitions {
			text := stripMarkup(def.Definition)
			if text == "" {
				continue
			}
			sense++
			d := dict.Definition{
				PartOfSpeech: strings.ToLower(usage.PartOfSpeech),
				Text:         text,
				SenseNumber:  sense,
			}
			for _, ex := range def.ParsedExamples {
				if e := stripMarkup(ex.Example); e != "" {
					d.Examples = append(d.Examples, e)
				}
			}
			for _, ex := range def.Examples {
				if e := stripMarkup(ex); e != "" {
					d.Examples = append(d.Examples, e)
				}
			}
			result.Definitions = append(result.Definitions, d)
		}
	}

	if len(result.Definitions) == 0 {
		return nil, dict.ErrNotFound
	}
	return result, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes HTML tags and entities from a Wiktionary definition
// string and collapses the remaining whitespace.
func stripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
