// Package stream serves the live session stream and the per-user
// notification stream over websocket, plus a read-only SSE session feed.
package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/notify"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/internal/transport/ws"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
	"github.com/zhouzirui/z-match/backend/pkg/utils"
)

// Handler 会话流与通知流
type Handler struct {
	registry *session.Registry
	hub      *notify.Hub
	verifier *auth.Verifier
	metrics  *metrics.Manager
	opts     ws.Options
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the stream handler. m may be nil.
func New(registry *session.Registry, hub *notify.Hub, verifier *auth.Verifier, m *metrics.Manager, opts ws.Options) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		verifier: verifier,
		metrics:  m,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logging.Component("stream"),
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{sessionID}", h.handleSession)
	r.Get("/ws/notifications/{userID}", h.handleNotifications)
	r.Get("/sse/sessions/{sessionID}", h.handleSessionEvents)
}

// handleSession attaches the caller to a session. Requests without a
// credential join as anonymous viewers.
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var identity auth.Identity
	if token := auth.TokenFromRequest(r); token != "" {
		var err error
		identity, err = h.verifier.Verify(token)
		if err != nil {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	if _, err := h.registry.Snapshot(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session", sessionID).Msg("upgrade failed")
		return
	}
	conn := ws.NewConn(raw, h.opts)
	h.opened(metrics.ChannelSession)
	defer h.closed(metrics.ChannelSession)

	log := h.log.With().Str("session", sessionID).Str("channel", conn.ID()).Str("user", identity.UserID).Logger()
	ctx := r.Context()

	res, err := h.registry.Attach(ctx, conn, sessionID, identity.UserID, identity.DisplayName)
	if err != nil {
		log.Warn().Err(err).Msg("attach failed")
		code := session.CloseInternalError
		if errors.Is(err, session.ErrSessionNotFound) {
			code = session.ClosePolicy
		}
		_ = conn.Send(chat.NewEvent(chat.EventError, sessionID, chat.ErrorNotice{Message: err.Error()}))
		_ = conn.Close(code, err.Error())
		drain(conn)
		return
	}
	log.Info().Str("role", res.Role.String()).Bool("replay", res.Replay).Msg("stream opened")

	if res.Replay {
		drain(conn)
		return
	}

	err = conn.ReadLoop(func(cmd chat.Command) {
		if err := h.registry.Deliver(ctx, conn, cmd); err != nil {
			log.Debug().Err(err).Str("type", string(cmd.Type)).Msg("command rejected")
		}
	})
	if err != nil {
		log.Debug().Err(err).Msg("stream read ended")
	}
	h.registry.Detach(context.WithoutCancel(ctx), conn)
	<-conn.Done()
	log.Info().Msg("stream closed")
}

// handleNotifications 通知流只允许用户本人订阅
func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if identity.UserID != userID {
		utils.RespondError(w, http.StatusForbidden, "credential does not match user")
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("user", userID).Msg("upgrade failed")
		return
	}
	conn := ws.NewConn(raw, h.opts)
	h.opened(metrics.ChannelNotify)
	defer h.closed(metrics.ChannelNotify)

	if err := h.hub.Subscribe(userID, conn); err != nil {
		_ = conn.Close(session.ClosePolicy, err.Error())
		drain(conn)
		return
	}
	_ = conn.ReadLoop(func(cmd chat.Command) {
		if err := h.hub.Handle(conn, cmd); err != nil {
			_ = conn.Send(chat.NewEvent(chat.EventError, "", chat.ErrorNotice{Message: err.Error()}))
		}
	})
	h.hub.Unsubscribe(userID, conn.ID())
	<-conn.Done()
}

func (h *Handler) opened(kind string) {
	if h.metrics != nil {
		h.metrics.ChannelOpened(kind)
	}
}

func (h *Handler) closed(kind string) {
	if h.metrics != nil {
		h.metrics.ChannelClosed(kind)
	}
}

// drain waits for the peer to acknowledge a close we already sent.
func drain(conn *ws.Conn) {
	_ = conn.ReadLoop(func(chat.Command) {})
	<-conn.Done()
}
