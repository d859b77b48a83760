// Package health serves the liveness and readiness endpoints.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] (database, dictionary providers) concurrently
// and answers 200 only when all of them pass, reporting per-check status
// and latency in the JSON body.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// can serve lookups and must respect context cancellation.
type Checker struct {
	// Name keys the check's entry in the JSON response, e.g. "database".
	Name string

	Check func(ctx context.Context) error
}

// checkResult is one entry of the readiness report.
type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// report is the JSON body for both endpoints.
type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker set is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given checkers. Each /readyz request
// evaluates all of them concurrently.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness endpoint. It always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every checker under a [checkTimeout] deadline derived from the
// request context and returns 503 if any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	type named struct {
		name string
		res  checkResult
	}

	results := make(chan named, len(h.checkers))
	var wg sync.WaitGroup
	for _, c := range h.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results <- named{name: c.Name, res: res}
		}(c)
	}
	wg.Wait()
	close(results)

	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}
	status := http.StatusOK
	for n := range results {
		rep.Checks[n.name] = n.res
		if n.res.Status != "ok" {
			rep.Status = "fail"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, rep)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
