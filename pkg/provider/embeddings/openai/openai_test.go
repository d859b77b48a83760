package openai

import (
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

func embedInput(text string) oai.EmbeddingNewParamsInputUnion {
	return oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)}
}

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tc := range tests {
		if got := modelDimensions(tc.model); got != tc.want {
			t.Errorf("modelDimensions(%s) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("empty API key accepted")
	}

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want default %q", p.ModelID(), DefaultModel)
	}
	if got := p.Dimensions(); got != 1536 {
		t.Errorf("Dimensions = %d, want 1536 for the default model", got)
	}

	if _, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	); err != nil {
		t.Fatalf("New with options: %v", err)
	}
}

func TestNew_WithDimensions(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions = %d, want 256", got)
	}
}

func TestParams_ReducedDimensions(t *testing.T) {
	t.Parallel()

	newProvider := func(model string, dims int) *Provider {
		p, err := New("sk-test", model, WithDimensions(dims))
		if err != nil {
			t.Fatalf("New(%s): %v", model, err)
		}
		return p
	}

	// text-embedding-3 models carry the dimensions parameter when reduced.
	p := newProvider("text-embedding-3-large", 256)
	if req := p.params(embedInput("cat")); !req.Dimensions.Valid() || req.Dimensions.Value != 256 {
		t.Errorf("dimensions param = %+v, want 256", req.Dimensions)
	}

	// Native dimension: no parameter is sent.
	p = newProvider("text-embedding-3-large", 3072)
	if req := p.params(embedInput("cat")); req.Dimensions.Valid() {
		t.Errorf("native dimension sent a dimensions param: %+v", req.Dimensions)
	}

	// ada-002 rejects the parameter, so it is never sent.
	p = newProvider("text-embedding-ada-002", 256)
	if req := p.params(embedInput("cat")); req.Dimensions.Valid() {
		t.Errorf("ada-002 sent a dimensions param: %+v", req.Dimensions)
	}
}

func TestModelID(t *testing.T) {
	t.Parallel()

	for _, model := range []string{"text-embedding-3-small", "my-custom-embeddings-model"} {
		p, err := New("sk-test", model)
		if err != nil {
			t.Fatalf("New(%s): %v", model, err)
		}
		if got := p.ModelID(); got != model {
			t.Errorf("ModelID() = %q, want %q", got, model)
		}
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	t.Parallel()

	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i, v := range out {
		if want := float32(in[i]); v != want {
			t.Errorf("out[%d] = %v, want %v", i, v, want)
		}
	}
}
