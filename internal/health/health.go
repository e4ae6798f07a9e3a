// Package health provides HTTP health and status handlers for the pipeline.
//
// The package exposes three endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz — point-in-time snapshot of the pipeline loops, engine and
//     battery state.
//
// Health responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "store",
	// "engine"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Status is a point-in-time snapshot of the pipeline, served by /statusz.
type Status struct {
	// Engine is the name of the active transcription engine.
	Engine string `json:"engine"`

	// Language is the language the engine transcribes into.
	Language string `json:"language,omitempty"`

	// LowPower reports whether the pipeline is running in low-power mode.
	LowPower bool `json:"low_power"`

	// Battery is the last observed charge as a fraction of full. It is -1
	// until the first successful battery read.
	Battery float64 `json:"battery"`

	// Loops maps each pipeline loop to its current phase.
	Loops map[string]string `json:"loops,omitempty"`

	// Transcripts is the number of entries currently held in the shared log.
	Transcripts int `json:"transcripts"`

	// LastSeq is the sequence number of the newest transcript entry, zero
	// when nothing has been transcribed yet.
	LastSeq uint64 `json:"last_seq"`

	// Uptime is the time elapsed since the pipeline started.
	Uptime string `json:"uptime"`
}

// StatusFunc returns the current pipeline snapshot. It is called on every
// /statusz request and must be safe for concurrent use.
type StatusFunc func() Status

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz, /readyz and /statusz endpoints. It is safe for
// concurrent use; the status source and checker list are fixed at
// construction time.
type Handler struct {
	status   StatusFunc
	checkers []Checker
}

// New creates a [Handler] that serves the given status snapshot on /statusz
// and evaluates the checkers on each /readyz request. The checkers are
// evaluated sequentially in the order provided. A nil status leaves /statusz
// serving a zero snapshot.
func New(status StatusFunc, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{status: status, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Statusz reports the pipeline snapshot. The endpoint is informational and
// always returns 200; readiness decisions belong to /readyz.
func (h *Handler) Statusz(w http.ResponseWriter, _ *http.Request) {
	var s Status
	if h.status != nil {
		s = h.status()
	}
	writeJSON(w, http.StatusOK, s)
}

// Register adds the /healthz, /readyz and /statusz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /statusz", h.Statusz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
