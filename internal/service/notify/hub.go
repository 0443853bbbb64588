// Package notify fans out-of-band events (new matches, finished
// conversations) to every notification channel a user has open.
package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

// ErrUnsupported is returned for commands the notification stream does not accept.
var ErrUnsupported = errors.New("unsupported notification command")

// Hub 按用户维护通知通道。Publish 不阻塞，跟不上的通道会被关闭。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]session.Channel

	metrics *metrics.Manager
	log     zerolog.Logger
}

// NewHub creates an empty hub. m may be nil.
func NewHub(m *metrics.Manager) *Hub {
	return &Hub{
		subs:    make(map[string]map[string]session.Channel),
		metrics: m,
		log:     logging.Component("notify"),
	}
}

// Subscribe registers ch for userID and sends it the welcome event.
func (h *Hub) Subscribe(userID string, ch session.Channel) error {
	if userID == "" {
		return fmt.Errorf("notify: user id required")
	}
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[string]session.Channel)
		h.subs[userID] = set
	}
	set[ch.ID()] = ch
	h.mu.Unlock()

	h.log.Info().Str("user", userID).Str("channel", ch.ID()).Msg("subscribed")
	h.deliver(userID, ch, chat.NewEvent(chat.EventConnectionEstablished, "", chat.Welcome{ChannelID: ch.ID(), Role: "user"}))
	return nil
}

// Unsubscribe removes the channel; unknown ids are ignored.
func (h *Hub) Unsubscribe(userID, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[userID]
	if _, ok := set[channelID]; !ok {
		return
	}
	delete(set, channelID)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	h.log.Info().Str("user", userID).Str("channel", channelID).Msg("unsubscribed")
}

// Publish implements session.Notifier.
func (h *Hub) Publish(userID string, ev chat.Event) {
	h.mu.RLock()
	targets := make([]session.Channel, 0, len(h.subs[userID]))
	for _, ch := range h.subs[userID] {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		h.log.Debug().Str("user", userID).Str("type", string(ev.Type)).Msg("no subscriber, event dropped")
		return
	}
	for _, ch := range targets {
		h.deliver(userID, ch, ev)
	}
}

// Handle answers commands received on a notification channel.
func (h *Hub) Handle(ch session.Channel, cmd chat.Command) error {
	if cmd.Type != chat.CommandPing {
		return fmt.Errorf("%w: %q", ErrUnsupported, cmd.Type)
	}
	return ch.Send(chat.NewEvent(chat.EventPong, "", nil))
}

// Subscribers returns how many channels userID has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) deliver(userID string, ch session.Channel, ev chat.Event) {
	if err := ch.Send(ev); err == nil {
		return
	}
	h.log.Warn().Str("user", userID).Str("channel", ch.ID()).Msg("dropping slow notification channel")
	if h.metrics != nil {
		h.metrics.RecordDroppedEvent(metrics.ChannelNotify)
	}
	h.Unsubscribe(userID, ch.ID())
	_ = ch.Close(session.CloseTryAgainLater, "slow consumer")
}
