package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
)

func setupRouter(t *testing.T) (*chi.Mux, *session.Registry) {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.TurnLimit = 12
	registry, err := session.NewRegistry(cfg, session.Deps{})
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})

	handler := New(registry, auth.NewVerifier("", ""))
	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, registry
}

func createRequest(body string, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCreateSessionReturnsIdleSnapshot(t *testing.T) {
	r, _ := setupRouter(t)
	body := `{"id":"s1","matchId":"m1","participantA":{"personaId":"maya"},"participantB":{"personaId":"leo"}}`
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, createRequest(body, "user-maya"))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var snap chat.Snapshot
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if snap.ID != "s1" || snap.State != chat.StateIdle || snap.TurnLimit != 12 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Participants[1].UserID != "user-leo" {
		t.Fatalf("default user id not applied: %+v", snap.Participants[1])
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, createRequest(body, "user-maya"))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate id, got %d", resp.Code)
	}
}

func TestCreateSessionRequiresOwner(t *testing.T) {
	r, _ := setupRouter(t)
	body := `{"participantA":{"personaId":"maya"},"participantB":{"personaId":"leo"}}`

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, createRequest(body, ""))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, createRequest(body, "someone-else"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger, got %d", resp.Code)
	}
}

func TestCreateSessionInvalidPersona(t *testing.T) {
	r, _ := setupRouter(t)
	body := `{"participantA":{"personaId":"maya"},"participantB":{"personaId":"non-existent"}}`
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, createRequest(body, "user-maya"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionMissingPersonaID(t *testing.T) {
	r, _ := setupRouter(t)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, createRequest(`{}`, "user-maya"))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestGetUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListMessagesValidatesPage(t *testing.T) {
	r, _ := setupRouter(t)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/s1/messages?limit=abc", nil))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListSessionsOfMatch(t *testing.T) {
	r, registry := setupRouter(t)
	_, err := registry.Create(context.Background(), session.CreateRequest{
		MatchID:      "m7",
		Participants: [2]session.ParticipantSpec{{PersonaID: "sora"}, {PersonaID: "iris"}},
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/matches/m7/sessions", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var listing session.Listing
	if err := json.Unmarshal(resp.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(listing.Live) != 1 || len(listing.Finished) != 0 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
}
