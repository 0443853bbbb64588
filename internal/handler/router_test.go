package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/z-match/backend/internal/model/persona"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/notify"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewManager(metrics.WithPrometheusRegistry(reg))
	hub := notify.NewHub(m)
	personas := persona.NewMemoryStore(persona.Seed())
	registry, err := session.NewRegistry(session.DefaultConfig(), session.Deps{Personas: personas, Notifier: hub, Metrics: m})
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	if _, err := registry.Create(context.Background(), session.CreateRequest{
		Participants: [2]session.ParticipantSpec{{PersonaID: "maya"}, {PersonaID: "leo"}},
	}); err != nil {
		t.Fatalf("Create err: %v", err)
	}

	return NewRouter(Deps{
		Personas: personas,
		Registry: registry,
		Hub:      hub,
		Verifier: auth.NewVerifier("", ""),
		Metrics:  m,
		Gatherer: reg,
	})
}

func TestHealthz(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"sessions":1`) {
		t.Fatalf("unexpected healthz response %d: %s", resp.Code, resp.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "zmatch_session_active 1") {
		t.Fatalf("active sessions gauge missing:\n%s", resp.Body.String())
	}
}

func TestPersonaRouteMounted(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/personas/maya", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
