// Package server exposes the lexibase HTTP API.
//
// Routes are versioned under /api/v1 and use the method-pattern mux from the
// standard library. Lookup is available in three shapes: a unary POST, a
// server-sent-events stream, and a websocket stream; the two streams share
// the frame protocol implemented by [stream.Adapter].
//
// Operational endpoints (/healthz, /readyz, /metrics) sit outside the API
// prefix and bypass the observability middleware.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexibase/lexibase/internal/enhance"
	"github.com/lexibase/lexibase/internal/health"
	"github.com/lexibase/lexibase/internal/observe"
	"github.com/lexibase/lexibase/internal/pipeline"
	"github.com/lexibase/lexibase/internal/stream"
	"github.com/lexibase/lexibase/internal/substrate"
	"github.com/lexibase/lexibase/internal/wordlist"
)

// Server holds the wired service layer and builds the HTTP handler tree.
// Construct with [New]; safe for concurrent use.
type Server struct {
	pipeline  *pipeline.Pipeline
	enhancer  *enhance.Engine
	wordlists *wordlist.Service
	sub       *substrate.Substrate
	adapter   *stream.Adapter
	health    *health.Handler
	metrics   *observe.Metrics
	log       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithHealth registers the health handler for /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New constructs a Server over the wired services.
func New(p *pipeline.Pipeline, e *enhance.Engine, wl *wordlist.Service, sub *substrate.Substrate, adapter *stream.Adapter, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		enhancer:  e,
		wordlists: wl,
		sub:       sub,
		adapter:   adapter,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the full route tree. API routes are wrapped in the
// observability middleware; operational routes are not.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()

	// Lookup.
	api.HandleFunc("POST /api/v1/lookup", s.handleLookup)
	api.HandleFunc("GET /api/v1/lookup/{word}/stream", s.handleLookupSSE)
	api.HandleFunc("GET /api/v1/lookup/{word}/ws", s.handleLookupWS)

	// Enhancement.
	api.HandleFunc("GET /api/v1/components", s.handleListComponents)
	api.HandleFunc("POST /api/v1/enhance", s.handleEnhance)
	api.HandleFunc("POST /api/v1/entries/{entryID}/regenerate", s.handleRegenerate)

	// Word lists.
	api.HandleFunc("POST /api/v1/wordlists", s.handleWordListCreate)
	api.HandleFunc("GET /api/v1/wordlists", s.handleWordListList)
	api.HandleFunc("GET /api/v1/wordlists/search", s.handleWordListSearch)
	api.HandleFunc("GET /api/v1/wordlists/hash/{hashID}", s.handleWordListGetByHash)
	api.HandleFunc("GET /api/v1/wordlists/{listID}", s.handleWordListGet)
	api.HandleFunc("PATCH /api/v1/wordlists/{listID}", s.handleWordListRename)
	api.HandleFunc("DELETE /api/v1/wordlists/{listID}", s.handleWordListDelete)
	api.HandleFunc("POST /api/v1/wordlists/{listID}/words", s.handleWordListAddWords)
	api.HandleFunc("DELETE /api/v1/wordlists/{listID}/words", s.handleWordListRemoveWords)
	api.HandleFunc("GET /api/v1/wordlists/{listID}/words/search", s.handleWordListSearchWords)
	api.HandleFunc("POST /api/v1/wordlists/{listID}/reviews", s.handleWordListReview)

	root := http.NewServeMux()
	root.Handle("/api/", observe.Middleware(s.metrics)(api))
	root.Handle("GET /metrics", promhttp.Handler())
	if s.health != nil {
		s.health.Register(root)
	}
	return root
}
