package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/pipeline"
	"github.com/lexibase/lexibase/internal/progress"
	"github.com/lexibase/lexibase/internal/stream"
)

// lookupRequest is the unary lookup body.
type lookupRequest struct {
	Word         string   `json:"word"`
	Providers    []string `json:"providers,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
	NoAI         bool     `json:"no_ai,omitempty"`
}

// lookupResponse is the unary lookup projection.
type lookupResponse struct {
	Word          *model.Word                    `json:"word"`
	Entry         *model.SynthesizedEntry        `json:"entry,omitempty"`
	Definitions   []*model.Definition            `json:"definitions"`
	Examples      map[uuid.UUID][]*model.Example `json:"examples,omitempty"`
	Pronunciation *model.Pronunciation           `json:"pronunciation,omitempty"`
	Facts         []*model.Fact                  `json:"facts,omitempty"`
	CacheHit      bool                           `json:"cache_hit"`
}

func toLookupResponse(res *pipeline.Result) lookupResponse {
	return lookupResponse{
		Word:          res.Word,
		Entry:         res.Entry,
		Definitions:   res.Definitions,
		Examples:      res.Examples,
		Pronunciation: res.Pronunciation,
		Facts:         res.Facts,
		CacheHit:      res.CacheHit,
	}
}

// handleLookup serves POST /api/v1/lookup.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller := callerID(r)
	ctx := r.Context()

	s.metrics.ActiveLookups.Add(ctx, 1)
	defer s.metrics.ActiveLookups.Add(ctx, -1)

	start := time.Now()
	res, err := s.pipeline.Lookup(ctx, pipeline.Input{
		Word:         req.Word,
		Providers:    req.Providers,
		Languages:    req.Languages,
		ForceRefresh: req.ForceRefresh,
		NoAI:         req.NoAI,
		Caller:       caller,
	})
	s.setRateHeaders(w, caller)
	if err != nil {
		s.metrics.RecordLookup(ctx, time.Since(start).Seconds(), "error", "miss")
		s.writeError(w, r, err)
		return
	}

	cache := "miss"
	if res.CacheHit {
		cache = "hit"
	}
	s.metrics.RecordLookup(ctx, time.Since(start).Seconds(), "ok", cache)
	s.writeJSON(w, http.StatusOK, toLookupResponse(res))
}

// streamInput builds the pipeline input for a streaming lookup from path and
// query parameters.
func (s *Server) streamInput(r *http.Request, tracker *progress.Tracker) pipeline.Input {
	q := r.URL.Query()
	in := pipeline.Input{
		Word:    r.PathValue("word"),
		Caller:  callerID(r),
		Tracker: tracker,
	}
	if v := q.Get("providers"); v != "" {
		in.Providers = strings.Split(v, ",")
	}
	if v := q.Get("languages"); v != "" {
		in.Languages = strings.Split(v, ",")
	}
	in.ForceRefresh, _ = strconv.ParseBool(q.Get("force_refresh"))
	in.NoAI, _ = strconv.ParseBool(q.Get("no_ai"))
	return in
}

// handleLookupSSE serves GET /api/v1/lookup/{word}/stream.
func (s *Server) handleLookupSSE(w http.ResponseWriter, r *http.Request) {
	fw, err := stream.NewSSE(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.metrics.ActiveStreams.Add(r.Context(), 1)
	defer s.metrics.ActiveStreams.Add(r.Context(), -1)

	tracker := progress.NewTracker(0)
	in := s.streamInput(r, tracker)
	if err := s.adapter.Run(r.Context(), fw, tracker, func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.Lookup(ctx, in)
	}); err != nil {
		// The error frame has already been written where possible; nothing
		// more can be sent on an SSE response.
		s.log.Debug("sse stream ended with error", "word", in.Word, "error", err)
	}
}

// handleLookupWS serves GET /api/v1/lookup/{word}/ws.
func (s *Server) handleLookupWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	s.metrics.ActiveStreams.Add(r.Context(), 1)
	defer s.metrics.ActiveStreams.Add(r.Context(), -1)

	tracker := progress.NewTracker(0)
	in := s.streamInput(r, tracker)
	err = s.adapter.Run(r.Context(), stream.NewWS(conn), tracker, func(ctx context.Context) (*pipeline.Result, error) {
		return s.pipeline.Lookup(ctx, in)
	})
	if err != nil {
		s.log.Debug("websocket stream ended with error", "word", in.Word, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "lookup failed")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
