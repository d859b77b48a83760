// Package openai implements embeddings.Provider on the OpenAI embeddings
// API. It powers semantic similarity for fuzzy dictionary search when a
// local Ollama model is not available.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/lexibase/lexibase/pkg/provider/embeddings"
)

// DefaultModel is used when no embeddings model is configured.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an OpenAI-backed embeddings provider. It is safe for
// concurrent use.
type Provider struct {
	client     oai.Client
	model      string
	dimensions int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dimensions   int
}

// Option configures a Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions requests reduced-dimension vectors from the API.
// Only the text-embedding-3 family honours the parameter; for other models
// it still pins the value reported by Dimensions.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New builds a Provider for the given API key and embedding model. An empty
// model falls back to DefaultModel.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	dims := cfg.dimensions
	if dims <= 0 {
		dims = modelDimensions(model)
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      model,
		dimensions: dims,
	}, nil
}

// Embed returns the vector for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfString: param.NewOpt(text),
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}
	return float64ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch embeds all texts in one request, reordering the API response by
// index so result[i] corresponds to texts[i]. An empty input short-circuits
// without a network call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, p.params(oai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}))
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	result := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: unexpected index %d", e.Index)
		}
		result[e.Index] = float64ToFloat32(e.Embedding)
	}
	return result, nil
}

func (p *Provider) params(input oai.EmbeddingNewParamsInputUnion) oai.EmbeddingNewParams {
	req := oai.EmbeddingNewParams{
		Model: p.model,
		Input: input,
	}
	// Reduced dimensions are only requested for models that support them;
	// the API rejects the parameter otherwise.
	if p.dimensions > 0 && p.dimensions != modelDimensions(p.model) && supportsReducedDimensions(p.model) {
		req.Dimensions = param.NewOpt(int64(p.dimensions))
	}
	return req
}

// Dimensions returns the vector length this provider produces.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// ModelID returns the OpenAI model name supplied at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

func supportsReducedDimensions(model string) bool {
	return strings.Contains(strings.ToLower(model), "text-embedding-3")
}

// modelDimensions maps known OpenAI embedding models to their native output
// dimension. Unknown models assume 1536.
func modelDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "text-embedding-3-large"):
		return 3072
	case strings.Contains(lower, "text-embedding-3-small"):
		return 1536
	case strings.Contains(lower, "text-embedding-ada-002"):
		return 1536
	default:
		return 1536
	}
}

func float64ToFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
