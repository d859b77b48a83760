// Package freedict provides a dictionary provider backed by the Free
// Dictionary API (https://dictionaryapi.dev/).
//
// The API returns fully structured JSON including phonetics with audio URLs,
// per-sense synonyms/antonyms/examples, and sometimes an origin string, so
// normalization here is mostly a re-shaping exercise.
package freedict

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lexibase/lexibase/pkg/provider/dict"
)

// ProviderName is the stable identifier of this provider.
const ProviderName = "freedict"

// DefaultBaseURL is the Free Dictionary API root.
const DefaultBaseURL = "https://api.dictionaryapi.dev/api/v2"

// Ensure Provider implements the dict.Provider interface at compile time.
var _ dict.Provider = (*Provider)(nil)

// Provider implements dict.Provider using the Free Dictionary API.
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

// WithBaseURL overrides the API root, e.g. to point at a test server.
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

// New constructs a Free Dictionary Provider.
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

// Available implements dict.Provider.
func (p *Provider) Available() bool {
	return true
}

// apiEntry mirrors one entry object in the API response array.
type apiEntry struct {
	Word      string `json:"word"`
	Phonetic  string `json:"phonetic"`
	Origin    string `json:"origin"`
	Phonetics []struct {
		Text  string `json:"text"`
		Audio string `json:"audio"`
	} `json:"phonetics"`
	Meanings []struct {
		PartOfSpeech string `json:"partOfSpeech"`
		Definitions  []struct {
			Definition string   `json:"definition"`
			Example    string   `json:"example"`
			Synonyms   []string `json:"synonyms"`
			Antonyms   []string `json:"antonyms"`
		} `json:"definitions"`
		Synonyms []string `json:"synonyms"`
		Antonyms []string `json:"antonyms"`
	} `json:"meanings"`
}

// Fetch implements dict.Provider.
func (p *Provider) Fetch(ctx context.Context, word, language string) (*dict.Result, error) {
	if word == "" {
		return nil, fmt.Errorf("freedict: word must not be empty")
	}
	if language == "" {
		language = "en"
	}

	endpoint := p.baseURL + "/entries/" + url.PathEscape(language) + "/" + url.PathEscape(word)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("freedict: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("freedict: fetch %q: %w", word, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dict.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("freedict: fetch %q: unexpected status %d", word, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("freedict: read response: %w", err)
	}

	var entries []apiEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("freedict: decode response: %w", err)
	}
	if len(entries) == 0 {
		return nil, dict.ErrNotFound
	}

	result := &dict.Result{
		Provider: ProviderName,
		Word:     entries[0].Word,
		Raw:      raw,
	}

	sense := 0
	for _, entry := range entries {
		if result.Etymology == "" && entry.Origin != "" {
			result.Etymology = entry.Origin
		}
		if result.Pronunciation == nil {
			result.Pronunciation = pronunciationOf(entry)
		}
		for _, meaning := range entry.Meanings {
			for _, def := range meaning.Definitions {
				text := strings.TrimSpace(def.Definition)
				if text == "" {
					continue
				}
				sense++
				d := dict.Definition{
					PartOfSpeech: strings.ToLower(meaning.PartOfSpeech),
					Text:         text,
					SenseNumber:  sense,
					Synonyms:     mergeLists(def.Synonyms, meaning.Synonyms),
					Antonyms:     mergeLists(def.Antonyms, meaning.Antonyms),
				}
				if ex := strings.TrimSpace(def.Example); ex != "" {
					d.Examples = []string{ex}
				}
				result.Definitions = append(result.Definitions, d)
			}
		}
	}

	if len(result.Definitions) == 0 {
		return nil, dict.ErrNotFound
	}
	return result, nil
}

// pronunciationOf extracts the entry's best pronunciation, preferring
// phonetics variants that carry audio. Returns nil when the entry has none.
func pronunciationOf(entry apiEntry) *dict.Pronunciation {
	pron := &dict.Pronunciation{IPA: entry.Phonetic}
	for _, ph := range entry.Phonetics {
		if pron.IPA == "" && ph.Text != "" {
			pron.IPA = ph.Text
		}
		if ph.Audio != "" {
			pron.AudioURLs = append(pron.AudioURLs, ph.Audio)
		}
	}
	if pron.IPA == "" && len(pron.AudioURLs) == 0 {
		return nil
	}
	return pron
}

// mergeLists concatenates the per-sense and per-meaning lists, dropping
// duplicates while keeping first-seen order.
func mergeLists(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
