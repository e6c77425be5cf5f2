// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"taskboard-auth/backend/internal/server/httpx"
)

const defaultCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Handler serves /healthz and /readyz.
type Handler struct {
	checks  map[string]CheckFunc
	timeout time.Duration
}

// NewHandler returns a Handler running checks on readiness. Nil checks are skipped.
func NewHandler(checks map[string]CheckFunc) *Handler {
	h := &Handler{checks: make(map[string]CheckFunc, len(checks)), timeout: defaultCheckTimeout}
	for name, fn := range checks {
		if fn != nil {
			h.checks[name] = fn
		}
	}
	return h
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Live handles GET /healthz. It never touches dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, r, http.StatusOK, readiness{Status: "ok"})
}

// Ready handles GET /readyz: 200 when every check passes, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := readiness{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			out.Checks[name] = err.Error()
			out.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		out.Checks[name] = "ok"
	}
	httpx.JSON(w, r, status, out)
}
