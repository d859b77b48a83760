package wiktionary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lexibase/lexibase/pkg/provider/dict"
)

const sampleResponse = `{
  "en": [
    {
      "partOfSpeech": "Noun",
      "language": "English",
      "definitions": [
        {
          "definition": "A <a href=\"/wiki/fortunate\">fortunate</a> discovery made by accident",
          "parsedExamples": [{"example": "Pure <b>serendipity</b> led me here."}]
        },
        {
          "definition": "",
          "examples": ["skipped because the definition is empty"]
        },
        {
          "definition": "Good luck &amp; fortune",
          "examples": ["She found it by <i>serendipity</i>."]
        }
      ]
    }
  ],
  "de": [
    {
      "partOfSpeech": "Substantiv",
      "language": "German",
      "definitions": [{"definition": "glücklicher Zufall"}]
    }
  ]
}`

func testProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestFetch_ParsesDefinitions(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/page/definition/serendipity" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	res, err := p.Fetch(context.Background(), "serendipity", "en")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if res.Provider != ProviderName {
		t.Errorf("provider = %s, want %s", res.Provider, ProviderName)
	}
	if len(res.Definitions) != 2 {
		t.Fatalf("definitions = %d, want 2 (empty one dropped)", len(res.Definitions))
	}

	first := res.Definitions[0]
	if first.PartOfSpeech != "noun" {
		t.Errorf("part of speech = %q, want lowercased noun", first.PartOfSpeech)
	}
	if first.Text != "A fortunate discovery made by accident" {
		t.Errorf("text = %q, markup not stripped", first.Text)
	}
	if first.SenseNumber != 1 {
		t.Errorf("sense = %d, want 1", first.SenseNumber)
	}
	if len(first.Examples) != 1 || first.Examples[0] != "Pure serendipity led me here." {
		t.Errorf("examples = %v", first.Examples)
	}

	second := res.Definitions[1]
	if second.Text != "Good luck & fortune" {
		t.Errorf("text = %q, entity not unescaped", second.Text)
	}
	if second.SenseNumber != 2 {
		t.Errorf("sense = %d, want 2", second.SenseNumber)
	}
}

func TestFetch_LanguageSectionFiltering(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleResponse))
	})

	res, err := p.Fetch(context.Background(), "serendipity", "de")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Definitions) != 1 || res.Definitions[0].Text != "glücklicher Zufall" {
		t.Errorf("definitions = %+v, want the German section only", res.Definitions)
	}

	if _, err := p.Fetch(context.Background(), "serendipity", "fr"); !errors.Is(err, dict.ErrNotFound) {
		t.Errorf("missing language section: err = %v, want ErrNotFound", err)
	}
}

func TestFetch_NotFound(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if _, err := p.Fetch(context.Background(), "zxqv", "en"); !errors.Is(err, dict.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetch_UpstreamError(t *testing.T) {
	t.Parallel()

	p := testProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.Fetch(context.Background(), "serendipity", "en")
	if err == nil || errors.Is(err, dict.ErrNotFound) {
		t.Errorf("err = %v, want a hard upstream error", err)
	}
}

func TestFetch_EmptyWord(t *testing.T) {
	t.Parallel()

	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Fetch(context.Background(), "", "en"); err == nil {
		t.Error("empty word accepted")
	}
}

func TestStripMarkup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`<span class="x">plain</span>`, "plain"},
		{"a  b\n c", "a b c"},
		{"&lt;tag&gt;", "<tag>"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := stripMarkup(tc.in); got != tc.want {
			t.Errorf("stripMarkup(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
