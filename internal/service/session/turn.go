package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/z-match/backend/internal/analysis/compatibility"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

type turnRequest struct {
	token      uint64
	slot       chat.Sender
	seq        int
	transcript []chat.Utterance
}

type turnResult struct {
	token      uint64
	slot       chat.Sender
	utterance  chat.Utterance
	assessment compatibility.Assessment
	latency    time.Duration
	err        error
}

// scheduleTurn issues the next agent call unless one is already in flight.
// Participant-A speaks on even turn indices.
func (s *Session) scheduleTurn() {
	if s.state != chat.StateRunning || s.inflight {
		return
	}
	s.token++
	s.inflight = true
	req := turnRequest{
		token:      s.token,
		slot:       chat.ParticipantSlots[s.turnCount%2],
		seq:        len(s.transcript),
		transcript: chat.CloneTranscript(s.transcript),
	}
	s.log.Debug().Str("participant", req.slot.String()).Int("turn", s.turnCount).Uint64("attempt", req.token).Msg("turn issued")
	go s.runTurn(req)
}

// invalidateTurn makes any in-flight reply stale.
func (s *Session) invalidateTurn() {
	if s.inflight {
		s.token++
		s.inflight = false
	}
}

func (s *Session) runTurn(req turnRequest) {
	res := turnResult{token: req.token, slot: req.slot}
	proxy := s.proxies[req.slot.Index()]

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		res.err = err
		s.deliver(res)
		return
	}
	started := time.Now()
	u, err := proxy.NextUtterance(s.ctx, req.transcript)
	s.sem.Release(1)
	res.latency = time.Since(started)

	if err == nil {
		u.Seq = req.seq
		u.SessionID = s.id
		actx, cancel := context.WithTimeout(s.ctx, s.cfg.ResponseTimeout)
		res.assessment, err = s.scorer.Assess(actx, compatibility.Input{
			SessionID:  s.id,
			Utterance:  u,
			Speaker:    s.personas[req.slot.Index()],
			Partner:    s.personas[req.slot.Other().Index()],
			Transcript: req.transcript,
		})
		cancel()
	}
	res.utterance, res.err = u, err
	s.deliver(res)
}

func (s *Session) deliver(res turnResult) {
	select {
	case s.results <- res:
	case <-s.done:
		s.log.Warn().Str("participant", res.slot.String()).Msg("late reply discarded after eviction")
	}
}

func (s *Session) handleTurnResult(res turnResult) {
	if !s.inflight || res.token != s.token || s.state != chat.StateRunning {
		s.log.Warn().Str("participant", res.slot.String()).Uint64("attempt", res.token).
			Str("state", string(s.state)).Msg("late reply discarded")
		s.recordTurn(res.slot, metrics.OutcomeDiscard)
		return
	}
	s.inflight = false
	if s.metrics != nil {
		s.metrics.ObserveAgentLatency(res.latency)
	}

	switch {
	case res.err == nil:
		s.acceptTurn(res)
	case agent.IsQuota(res.err):
		s.quotaExceeded(res)
	case errors.Is(res.err, context.Canceled):
		// shutting down
	default:
		s.failTurn(res)
	}
}

func (s *Session) acceptTurn(res turnResult) {
	u := res.utterance
	u.Seq = len(s.transcript)
	u.SessionID = s.id

	obs, err := s.scorer.Apply(u, res.assessment)
	if err != nil {
		s.log.Error().Err(err).Int("seq", u.Seq).Msg("scoring failed")
	} else {
		impact := obs.Impact
		u.CompatibilityImpact = &impact
		u.Highlighted = obs.Highlighted
	}
	if u.Highlighted {
		s.highlights = append(s.highlights, u.Seq)
	}

	s.appendUtterance(u)
	s.turnCount++
	s.failures[res.slot.Index()] = 0
	s.retries = 0
	s.recordTurn(res.slot, metrics.OutcomeSuccess)

	// The last turn's reading and highlight are folded into the closing update.
	if s.turnCount >= s.cfg.TurnLimit {
		_ = s.complete(chat.ReasonTurnLimit, obs.Highlight)
		return
	}
	if err == nil {
		s.broadcast(chat.NewEvent(chat.EventCompatibilityUpdate, s.id, chat.CompatibilityUpdate{
			Reading:         obs.Reading,
			RecentHighlight: obs.Highlight,
		}))
	}
	s.scheduleTurn()
}

func (s *Session) failTurn(res turnResult) {
	idx := res.slot.Index()
	s.failures[idx]++
	outcome := metrics.OutcomeError
	if errors.Is(res.err, agent.ErrAgentTimeout) {
		outcome = metrics.OutcomeTimeout
	}
	s.recordTurn(res.slot, outcome)
	s.log.Warn().Err(res.err).Str("participant", res.slot.String()).Int("failures", s.failures[idx]).Msg("turn failed")

	if s.failures[idx] > s.cfg.MaxConsecutiveFailures {
		s.abort(chat.ReasonAgentUnresponsive)
		return
	}
	if s.retries < s.cfg.TurnRetries {
		s.retries++
		s.scheduleTurn()
		return
	}

	s.retries = 0
	s.recordTurn(res.slot, metrics.OutcomeSkipped)
	// turnCount is unchanged, so the skipped slot is asked again.
	s.systemNotice(fmt.Sprintf("%s did not reply, so this turn was skipped.", s.participants[idx].DisplayName))
	s.scheduleTurn()
}

func (s *Session) quotaExceeded(res turnResult) {
	s.recordTurn(res.slot, metrics.OutcomeQuota)
	var q *agent.QuotaError
	errors.As(res.err, &q)
	s.log.Warn().Str("participant", res.slot.String()).Str("details", q.Details).Msg("agent quota exceeded")

	notice := chat.NewEvent(chat.EventQuotaExceeded, s.id, chat.QuotaNotice{Participant: res.slot, Details: q.Details})
	for _, m := range append([]*member(nil), s.members...) {
		if m.role.Owns(res.slot) {
			s.sendTo(m, notice)
		}
	}
	if err := s.pause(chat.ReasonQuotaExceeded); err != nil {
		s.log.Error().Err(err).Msg("pause after quota failed")
	}
}

func (s *Session) appendUtterance(u chat.Utterance) {
	s.transcript = append(s.transcript, u.Clone())
	s.writes.append(s.id, u)
	s.broadcast(chat.NewEvent(chat.EventAIMessage, s.id, u))
}

func (s *Session) systemNotice(text string) {
	s.appendUtterance(chat.Utterance{
		Seq:       len(s.transcript),
		SessionID: s.id,
		Sender:    chat.SenderSystem,
		Content:   text,
		CreatedAt: s.now().UTC(),
	})
}

func (s *Session) recordTurn(slot chat.Sender, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTurn(slot.String(), outcome)
	}
}
