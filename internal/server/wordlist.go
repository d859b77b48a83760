package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/model"
)

// wordListCreateRequest is the body for POST /api/v1/wordlists.
type wordListCreateRequest struct {
	Name       string               `json:"name"`
	Visibility model.Visibility     `json:"visibility,omitempty"`
	Words      []model.WordListItem `json:"words,omitempty"`
}

// wordListRenameRequest is the body for PATCH /api/v1/wordlists/{listID}.
type wordListRenameRequest struct {
	Name string `json:"name"`
}

// wordListAddRequest is the body for POST /api/v1/wordlists/{listID}/words.
type wordListAddRequest struct {
	Words []model.WordListItem `json:"words"`
}

// wordListRemoveRequest is the body for DELETE /api/v1/wordlists/{listID}/words.
type wordListRemoveRequest struct {
	WordIDs []uuid.UUID `json:"word_ids"`
}

// reviewRequest is the body for POST /api/v1/wordlists/{listID}/reviews.
type reviewRequest struct {
	WordID uuid.UUID `json:"word_id"`
	Grade  int       `json:"grade"`
}

func listIDFrom(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("listID"))
	if err != nil {
		return uuid.Nil, &apperr.ValidationError{
			Field: "listID", Message: "must be a UUID", Code: "format",
		}
	}
	return id, nil
}

// handleWordListCreate serves POST /api/v1/wordlists.
func (s *Server) handleWordListCreate(w http.ResponseWriter, r *http.Request) {
	var req wordListCreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	wl := &model.WordList{
		Name:       req.Name,
		OwnerID:    callerID(r),
		Visibility: req.Visibility,
		Words:      req.Words,
	}
	if wl.Visibility == "" {
		wl.Visibility = model.VisibilityPrivate
	}
	if err := s.wordlists.Create(r.Context(), wl); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wl)
}

// handleWordListList serves GET /api/v1/wordlists. With ?public=true it lists
// public lists; otherwise the caller's own lists.
func (s *Server) handleWordListList(w http.ResponseWriter, r *http.Request) {
	var (
		lists []*model.WordList
		err   error
	)
	if public, _ := strconv.ParseBool(r.URL.Query().Get("public")); public {
		lists, err = s.wordlists.ListPublic(r.Context())
	} else {
		lists, err = s.wordlists.ListByOwner(r.Context(), callerID(r))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"wordlists": lists})
}

// handleWordListGet serves GET /api/v1/wordlists/{listID}.
func (s *Server) handleWordListGet(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.wordlists.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleWordListGetByHash serves GET /api/v1/wordlists/hash/{hashID}.
func (s *Server) handleWordListGetByHash(w http.ResponseWriter, r *http.Request) {
	wl, err := s.wordlists.GetByHashID(r.Context(), r.PathValue("hashID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleWordListRename serves PATCH /api/v1/wordlists/{listID}.
func (s *Server) handleWordListRename(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req wordListRenameRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.wordlists.Rename(r.Context(), id, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleWordListDelete serves DELETE /api/v1/wordlists/{listID}.
func (s *Server) handleWordListDelete(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.wordlists.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWordListAddWords serves POST /api/v1/wordlists/{listID}/words.
func (s *Server) handleWordListAddWords(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req wordListAddRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.wordlists.AddWords(r.Context(), id, req.Words)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleWordListRemoveWords serves DELETE /api/v1/wordlists/{listID}/words.
func (s *Server) handleWordListRemoveWords(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req wordListRemoveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.wordlists.RemoveWords(r.Context(), id, req.WordIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// handleWordListReview serves POST /api/v1/wordlists/{listID}/reviews: records
// one spaced-repetition review outcome.
func (s *Server) handleWordListReview(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wl, err := s.wordlists.RecordReview(r.Context(), id, req.WordID, req.Grade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wl)
}

// searchParams reads the shared corpus search query parameters.
func searchParams(q url.Values) (query string, maxResults int, minScore float64, semantic *bool) {
	query = q.Get("q")
	maxResults, _ = strconv.Atoi(q.Get("max_results"))
	minScore, _ = strconv.ParseFloat(q.Get("min_score"), 64)
	if v := q.Get("semantic"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			semantic = &b
		}
	}
	return query, maxResults, minScore, semantic
}

// handleWordListSearch serves GET /api/v1/wordlists/search.
func (s *Server) handleWordListSearch(w http.ResponseWriter, r *http.Request) {
	query, maxResults, minScore, semantic := searchParams(r.URL.Query())
	if query == "" {
		s.writeError(w, r, &apperr.ValidationError{
			Field: "q", Message: "must not be empty", Code: "required",
		})
		return
	}
	matches, err := s.wordlists.SearchLists(r.Context(), query, maxResults, minScore, semantic)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// handleWordListSearchWords serves GET /api/v1/wordlists/{listID}/words/search.
func (s *Server) handleWordListSearchWords(w http.ResponseWriter, r *http.Request) {
	id, err := listIDFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query, maxResults, minScore, semantic := searchParams(r.URL.Query())
	if query == "" {
		s.writeError(w, r, &apperr.ValidationError{
			Field: "q", Message: "must not be empty", Code: "required",
		})
		return
	}
	matches, err := s.wordlists.SearchWords(r.Context(), id, query, maxResults, minScore, semantic)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}
