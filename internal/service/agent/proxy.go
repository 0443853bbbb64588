package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

// DefaultTimeout is the per-response bound used when none is configured.
const DefaultTimeout = 30 * time.Second

const maxPendingGuidance = 5

// Proxy adapts one participant's provider to a uniform, time-bounded call.
// It never mutates session state.
type Proxy struct {
	sessionID string
	slot      chat.Sender
	self      persona.Persona
	partner   persona.Persona
	provider  Provider
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	guidance []string
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithTimeout sets the per-response timeout.
func WithTimeout(d time.Duration) ProxyOption {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProxyClock overrides the clock used for utterance timestamps.
func WithProxyClock(now func() time.Time) ProxyOption {
	return func(p *Proxy) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProxy builds the proxy for the participant in slot.
func NewProxy(sessionID string, slot chat.Sender, self, partner persona.Persona, provider Provider, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		sessionID: sessionID,
		slot:      slot,
		self:      self,
		partner:   partner,
		provider:  provider,
		timeout:   DefaultTimeout,
		now:       time.Now,
		log:       logging.Session("agent", sessionID).With().Str("participant", slot.String()).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Slot returns the participant this proxy speaks for.
func (p *Proxy) Slot() chat.Sender { return p.slot }

// Persona returns the profile this proxy speaks as.
func (p *Proxy) Persona() persona.Persona { return p.self }

// AddGuidance queues an instruction from the owning user. It is folded into
// the next successful reply only.
func (p *Proxy) AddGuidance(instruction string) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guidance = append(p.guidance, instruction)
	if len(p.guidance) > maxPendingGuidance {
		p.guidance = p.guidance[len(p.guidance)-maxPendingGuidance:]
	}
}

// PendingGuidance reports how many instructions are queued.
func (p *Proxy) PendingGuidance() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.guidance)
}

type reply struct {
	text string
	err  error
}

// NextUtterance asks the provider for the next reply given the full
// transcript. It never blocks past the configured timeout; a reply arriving
// later is logged and dropped. The returned utterance has no sequence number.
func (p *Proxy) NextUtterance(ctx context.Context, transcript []chat.Utterance) (chat.Utterance, error) {
	guidance := p.takeGuidance()

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := Request{
		SessionID:  p.sessionID,
		Slot:       p.slot,
		Self:       p.self,
		Partner:    p.partner,
		Transcript: chat.CloneTranscript(transcript),
		Guidance:   guidance,
	}

	done := make(chan reply, 1)
	go func() {
		text, err := p.provider.GenerateReply(callCtx, req)
		if callCtx.Err() != nil && err == nil {
			p.log.Warn().Int("length", len(text)).Msg("late reply discarded")
		}
		done <- reply{text: text, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		p.restoreGuidance(guidance)
		if ctx.Err() != nil {
			return chat.Utterance{}, ctx.Err()
		}
		return chat.Utterance{}, ErrAgentTimeout
	}

	if r.err != nil {
		p.restoreGuidance(guidance)
		return chat.Utterance{}, p.classify(ctx, callCtx, r.err)
	}

	text := strings.TrimSpace(r.text)
	if text == "" {
		p.restoreGuidance(guidance)
		return chat.Utterance{}, &ProviderError{Participant: p.slot, Err: ErrEmptyReply}
	}

	return chat.Utterance{
		SessionID: p.sessionID,
		Sender:    p.slot,
		Content:   text,
		Emotions:  emotion.Tags(text),
		CreatedAt: p.now().UTC(),
	}, nil
}

func (p *Proxy) classify(ctx, callCtx context.Context, err error) error {
	var quota *QuotaError
	switch {
	case errors.As(err, &quota):
		quota.Participant = p.slot
		return quota
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil:
		return ErrAgentTimeout
	case looksLikeQuota(err):
		return &QuotaError{Participant: p.slot, Details: err.Error()}
	default:
		return &ProviderError{Participant: p.slot, Err: err}
	}
}

func (p *Proxy) takeGuidance() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.guidance
	p.guidance = nil
	return out
}

func (p *Proxy) restoreGuidance(g []string) {
	if len(g) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guidance = append(append([]string(nil), g...), p.guidance...)
}
