package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/history"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/pkg/utils"
)

// Handler 会话 REST 接口
type Handler struct {
	registry *session.Registry
	verifier *auth.Verifier
}

// New 创建会话处理器
func New(registry *session.Registry, verifier *auth.Verifier) *Handler {
	return &Handler{
		registry: registry,
		verifier: verifier,
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Get("/matches/{matchID}/sessions", h.handleListSessions)
}

type participantPayload struct {
	UserID      string `json:"userId"`
	PersonaID   string `json:"personaId"`
	DisplayName string `json:"displayName"`
}

type createPayload struct {
	ID           string             `json:"id"`
	MatchID      string             `json:"matchId"`
	ParticipantA participantPayload `json:"participantA"`
	ParticipantB participantPayload `json:"participantB"`
	TurnLimit    int                `json:"turnLimit"`
}

// handleCreateSession 创建会话，调用方必须是其中一位参与者
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ParticipantA.PersonaID == "" || payload.ParticipantB.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "participantA.personaId and participantB.personaId are required")
		return
	}
	if payload.TurnLimit < 0 {
		utils.RespondError(w, http.StatusBadRequest, "turnLimit must not be negative")
		return
	}

	specs := [2]session.ParticipantSpec{
		{UserID: payload.ParticipantA.UserID, PersonaID: payload.ParticipantA.PersonaID, DisplayName: payload.ParticipantA.DisplayName},
		{UserID: payload.ParticipantB.UserID, PersonaID: payload.ParticipantB.PersonaID, DisplayName: payload.ParticipantB.DisplayName},
	}
	participants, err := h.registry.Resolve(specs)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	if identity.UserID != participants[0].UserID && identity.UserID != participants[1].UserID {
		utils.RespondError(w, http.StatusForbidden, "caller must own one of the participants")
		return
	}

	snap, err := h.registry.Create(r.Context(), session.CreateRequest{
		ID:           payload.ID,
		MatchID:      payload.MatchID,
		Participants: specs,
		TurnLimit:    payload.TurnLimit,
	})
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, snap)
}

// handleGetSession 返回实时快照，已结束的会话从存储还原
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Snapshot(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	messages, err := h.registry.Messages(r.Context(), chi.URLParam(r, "sessionID"), page)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"offset":   page.Offset,
		"limit":    page.Normalize().Limit,
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	listing, err := h.registry.ListSessions(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, listing)
}

func pageFromQuery(r *http.Request) (history.Page, error) {
	var page history.Page
	q := r.URL.Query()
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, errors.New("limit must be a non-negative integer")
		}
		page.Limit = v
	}
	return page, nil
}

// respondSessionError 把领域错误映射为 HTTP 状态码
func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, history.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrSessionExists):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrUnknownPersona), errors.Is(err, session.ErrInvalidParticipants), errors.Is(err, history.ErrSessionNeeded):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
