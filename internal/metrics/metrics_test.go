package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_LabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.ToFloat64(RequestCount.WithLabelValues(http.MethodDelete, "/v1/sessions/{id}", "204"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/sessions/abc", nil))
	after := testutil.ToFloat64(RequestCount.WithLabelValues(http.MethodDelete, "/v1/sessions/{id}", "204"))
	if after-before != 1 {
		t.Errorf("request count delta = %v, want 1", after-before)
	}
}

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	Register(registry)
	GuardDecisions.WithLabelValues("ok").Inc()

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "auth_guard_decisions_total") {
		t.Error("metrics output should contain auth_guard_decisions_total")
	}
}
