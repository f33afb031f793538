// Package health serves the gateway's liveness and readiness probes.
//
//   - /healthz — liveness; reports uptime and the live voice session count.
//   - /readyz  — readiness; 200 only while every registered dependency check
//     (database, speech providers) passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 5 * time.Second

// CheckFunc probes one dependency. It must respect context cancellation.
type CheckFunc func(ctx context.Context) error

type check struct {
	name string
	fn   CheckFunc
}

// Handler serves the probe endpoints. Safe for concurrent use; the check list
// is fixed at construction time.
type Handler struct {
	checks   []check
	sessions func() int
	started  time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithCheck registers a named dependency check evaluated on every /readyz
// request. The name keys the check's entry in the JSON response.
func WithCheck(name string, fn CheckFunc) Option {
	return func(h *Handler) {
		h.checks = append(h.checks, check{name: name, fn: fn})
	}
}

// WithSessionGauge reports the live voice session count on /healthz.
func WithSessionGauge(fn func() int) Option {
	return func(h *Handler) { h.sessions = fn }
}

// New creates a probe handler.
func New(opts ...Option) *Handler {
	h := &Handler{started: time.Now()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// liveBody is the /healthz response.
type liveBody struct {
	Status         string `json:"status"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions *int   `json:"active_sessions,omitempty"`
}

// checkResult is one dependency's entry in the /readyz response.
type checkResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// readyBody is the /readyz response.
type readyBody struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Healthz is the liveness probe: a process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	body := liveBody{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.sessions != nil {
		n := h.sessions()
		body.ActiveSessions = &n
	}
	writeJSON(w, http.StatusOK, body)
}

// Readyz runs every dependency check concurrently and returns 200 only when
// all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		results = make(map[string]checkResult, len(h.checks))
		allOK   = true
	)

	g, gctx := errgroup.WithContext(r.Context())
	for _, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.fn(ctx)
			res := checkResult{
				Status:     "ok",
				DurationMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}

			mu.Lock()
			results[c.name] = res
			if err != nil {
				allOK = false
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	body := readyBody{Status: "ok", Checks: results}
	status := http.StatusOK
	if !allOK {
		body.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// Register adds the probe routes to mux.
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
