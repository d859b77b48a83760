package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/observe"
)

// errorResponse is the structured error body returned by every API endpoint.
type errorResponse struct {
	Error     string    `json:"error"`
	Details   []string  `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON encodes v with the given status. Encoding failures are logged and
// abandoned; headers have already been sent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// writeError maps err onto an HTTP status and structured body. Rate-limit
// denials additionally carry a Retry-After header.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	var details []string

	var (
		val  *apperr.ValidationError
		ver  *apperr.VersionConflictError
		conf *apperr.ConflictError
		rl   *apperr.RateLimitedError
		sva  *apperr.ServiceUnavailableError
		up   *apperr.UpstreamError
		in   *apperr.InternalError
	)
	switch {
	case errors.As(err, &val):
		status = http.StatusBadRequest
		msg = "invalid request"
		details = append(details, val.Error())
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	case errors.Is(err, apperr.ErrUnauthorized):
		status = http.StatusUnauthorized
		msg = "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
		msg = "forbidden"
	case errors.As(err, &ver):
		status = http.StatusConflict
		details = append(details, ver.Error())
		msg = "version conflict"
	case errors.As(err, &conf):
		status = http.StatusConflict
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
		msg = "rate limited"
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Round(time.Second).Seconds())))
		}
	case errors.Is(err, apperr.ErrBudgetExceeded):
		status = http.StatusTooManyRequests
	case errors.As(err, &sva):
		status = http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrTimeout):
		status = http.StatusGatewayTimeout
		msg = "upstream timeout"
	case errors.Is(err, apperr.ErrCancelled):
		// Client went away; 499 is the de-facto status for that.
		status = 499
		msg = "request cancelled"
	case errors.Is(err, apperr.ErrAllProvidersFailed),
		errors.Is(err, apperr.ErrNetworkFailure),
		errors.Is(err, apperr.ErrEmptyResponse),
		errors.As(err, &up):
		status = http.StatusBadGateway
	case errors.As(err, &in):
		status = http.StatusInternalServerError
		msg = "internal error"
	}

	if status >= http.StatusInternalServerError && status != 499 {
		s.log.Error("request failed", "status", status, "error", err,
			"method", r.Method, "path", r.URL.Path)
	}

	s.writeJSON(w, status, errorResponse{
		Error:     msg,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: observe.CorrelationID(r.Context()),
	})
}

// decodeBody decodes the JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &apperr.ValidationError{Field: "body", Message: err.Error(), Code: "malformed"}
	}
	return nil
}

// callerID identifies the principal charged for AI traffic: the API key when
// one was presented, otherwise the client address.
func callerID(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// setRateHeaders attaches the caller's current AI budget to the response.
// Unlimited dimensions are omitted.
func (s *Server) setRateHeaders(w http.ResponseWriter, caller string) {
	snap := s.sub.Limiter().Peek(caller)
	if snap.RequestLimit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(snap.RequestLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(snap.RequestsRemaining))
	}
	if snap.TokenLimit > 0 {
		w.Header().Set("X-RateLimit-Token-Limit", strconv.Itoa(snap.TokenLimit))
		w.Header().Set("X-RateLimit-Tokens-Remaining", strconv.Itoa(snap.TokensRemaining))
	}
}
