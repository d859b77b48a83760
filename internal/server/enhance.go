package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/enhance"
)

// enhanceRequest is the body for POST /api/v1/enhance.
type enhanceRequest struct {
	DefinitionIDs []uuid.UUID `json:"definition_ids"`
	Components    []string    `json:"components,omitempty"`
	Force         bool        `json:"force,omitempty"`
}

// regenerateRequest is the body for POST /api/v1/entries/{entryID}/regenerate.
type regenerateRequest struct {
	Components []string `json:"components,omitempty"`
	Force      bool     `json:"force,omitempty"`
}

// cellErrorView is the JSON shape of one failed grid cell.
type cellErrorView struct {
	DefinitionID uuid.UUID `json:"definition_id,omitzero"`
	Component    string    `json:"component"`
	Error        string    `json:"error"`
}

// enhanceResponse summarizes one enhancement run for the client.
type enhanceResponse struct {
	Dispatched int             `json:"dispatched"`
	Skipped    int             `json:"skipped"`
	Updated    int             `json:"updated"`
	Errors     []cellErrorView `json:"errors,omitempty"`
}

func toEnhanceResponse(rep *enhance.Report) enhanceResponse {
	out := enhanceResponse{
		Dispatched: rep.Dispatched,
		Skipped:    rep.Skipped,
		Updated:    rep.Updated,
	}
	for _, ce := range rep.Errors {
		out.Errors = append(out.Errors, cellErrorView{
			DefinitionID: ce.DefinitionID,
			Component:    ce.Component,
			Error:        ce.Err.Error(),
		})
	}
	return out
}

// handleListComponents serves GET /api/v1/components.
func (s *Server) handleListComponents(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"components": enhance.Components(),
	})
}

// handleEnhance serves POST /api/v1/enhance: runs the enhancement grid over
// the given definitions.
func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.DefinitionIDs) == 0 {
		s.writeError(w, r, &apperr.ValidationError{
			Field: "definition_ids", Message: "must not be empty", Code: "required",
		})
		return
	}
	if err := enhance.ValidateComponents(req.Components); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller := callerID(r)
	start := time.Now()
	rep, err := s.enhancer.EnhanceByIDs(r.Context(), caller, req.DefinitionIDs, req.Components, req.Force)
	s.setRateHeaders(w, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.EnhancementDuration.Record(r.Context(), time.Since(start).Seconds())
	s.writeJSON(w, http.StatusOK, toEnhanceResponse(rep))
}

// handleRegenerate serves POST /api/v1/entries/{entryID}/regenerate: reruns
// definition and word-level components for one synthesized entry.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(r.PathValue("entryID"))
	if err != nil {
		s.writeError(w, r, &apperr.ValidationError{
			Field: "entryID", Message: "must be a UUID", Code: "format",
		})
		return
	}

	var req regenerateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := enhance.ValidateComponents(req.Components); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller := callerID(r)
	start := time.Now()
	rep, err := s.enhancer.RegenerateEntry(r.Context(), caller, entryID, req.Components, req.Force)
	s.setRateHeaders(w, caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.EnhancementDuration.Record(r.Context(), time.Since(start).Seconds())
	s.writeJSON(w, http.StatusOK, toEnhanceResponse(rep))
}
