package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/internal/transport/ws"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
	"github.com/zhouzirui/z-match/backend/pkg/utils"
)

// closeEvent 是 SSE 流结束前发送的最后一个事件。
const closeEvent = "close"

type closeNotice struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// sseChannel 是只读的会话频道，事件由请求 goroutine 写出。
type sseChannel struct {
	id      string
	queue   chan chat.Event
	closing chan struct{}

	once   sync.Once
	mu     sync.Mutex
	notice closeNotice
}

var _ session.Channel = (*sseChannel)(nil)

func newSSEChannel(size int) *sseChannel {
	if size <= 0 {
		size = ws.DefaultOptions().QueueSize
	}
	return &sseChannel{
		id:      uuid.NewString(),
		queue:   make(chan chat.Event, size),
		closing: make(chan struct{}),
	}
}

func (c *sseChannel) ID() string { return c.id }

func (c *sseChannel) Send(ev chat.Event) error {
	select {
	case <-c.closing:
		return ws.ErrClosed
	default:
	}
	select {
	case c.queue <- ev:
		return nil
	default:
		return ws.ErrQueueFull
	}
}

func (c *sseChannel) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.notice = closeNotice{Code: code, Reason: reason}
		c.mu.Unlock()
		close(c.closing)
	})
	return nil
}

func (c *sseChannel) closeNotice() closeNotice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// handleSessionEvents 以 SSE 推送会话事件，只读，调用方总是以观众身份加入。
func (h *Handler) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

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

	ch := newSSEChannel(h.opts.QueueSize)
	h.opened(metrics.ChannelWatch)
	defer h.closed(metrics.ChannelWatch)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	log := h.log.With().Str("session", sessionID).Str("channel", ch.ID()).Logger()

	// 观众频道不能发送指令，这里仅用于展示名。
	if _, err := h.registry.Attach(ctx, ch, sessionID, "", identity.DisplayName); err != nil {
		_ = utils.SendSSEEvent(w, flusher, string(chat.EventError), chat.NewEvent(chat.EventError, sessionID, chat.ErrorNotice{Message: err.Error()}))
		return
	}
	defer h.registry.Detach(context.WithoutCancel(ctx), ch)

	keepalive := h.opts.PingInterval
	if keepalive <= 0 {
		keepalive = ws.DefaultOptions().PingInterval
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	write := func(ev chat.Event) bool {
		if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
			log.Debug().Err(err).Msg("sse write failed")
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-ch.queue:
			if !write(ev) {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "ping"); err != nil {
				return
			}
		case <-ch.closing:
			for {
				select {
				case ev := <-ch.queue:
					if !write(ev) {
						return
					}
				default:
					_ = utils.SendSSEEvent(w, flusher, closeEvent, ch.closeNotice())
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
