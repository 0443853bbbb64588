package session

import (
	"fmt"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

func (s *Session) transition(to chat.State, reason chat.Reason) error {
	if err := checkTransition(s.state, to); err != nil {
		return err
	}
	s.log.Info().Str("from", string(s.state)).Str("state", string(to)).Str("reason", string(reason)).Msg("state change")
	s.state = to
	s.reason = reason
	return nil
}

func (s *Session) start() error {
	if s.state == chat.StatePaused {
		return s.resume()
	}
	if err := s.transition(chat.StateRunning, chat.ReasonNone); err != nil {
		return err
	}
	now := s.now().UTC()
	s.startedAt = &now
	s.turnCount = 0
	s.broadcast(s.statusEvent())
	s.scheduleTurn()
	return nil
}

func (s *Session) resume() error {
	if s.state != chat.StatePaused {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, chat.StateRunning)
	}
	if err := s.transition(chat.StateRunning, chat.ReasonNone); err != nil {
		return err
	}
	s.retries = 0
	s.broadcast(s.statusEvent())
	s.scheduleTurn()
	return nil
}

func (s *Session) pause(reason chat.Reason) error {
	if s.state != chat.StateRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, chat.StatePaused)
	}
	if err := s.transition(chat.StatePaused, reason); err != nil {
		return err
	}
	s.invalidateTurn()
	s.broadcast(s.statusEvent())
	return nil
}

// complete runs the closing scorer pass and finishes as Completed. recent is
// the highlight of the turn that triggered completion, if any.
func (s *Session) complete(reason chat.Reason, recent *chat.HighlightRef) error {
	if err := s.transition(chat.StateCompleting, reason); err != nil {
		return err
	}
	s.invalidateTurn()
	s.broadcast(s.statusEvent())

	res, err := s.scorer.Finalize()
	if err != nil {
		s.log.Error().Err(err).Msg("final scoring pass failed")
	} else {
		highlight := recent
		if res.Standout != nil {
			s.highlights = append(s.highlights, res.Standout.Seq)
			highlight = res.Standout
		}
		s.broadcast(chat.NewEvent(chat.EventCompatibilityUpdate, s.id, chat.CompatibilityUpdate{
			Reading:         res.Reading,
			RecentHighlight: highlight,
		}))
	}
	return s.finish(chat.StateCompleted, reason, CloseNormal)
}

// abort moves any non-terminal session straight to Aborted.
func (s *Session) abort(reason chat.Reason) {
	if s.state.Terminal() {
		return
	}
	s.invalidateTurn()
	if err := s.finish(chat.StateAborted, reason, CloseNormal); err != nil {
		s.log.Error().Err(err).Msg("abort failed")
	}
}

// finish enters a terminal state, persists the summary, tells every channel
// why and closes them.
func (s *Session) finish(state chat.State, reason chat.Reason, closeCode int) error {
	if err := s.transition(state, reason); err != nil {
		return err
	}
	now := s.now().UTC()
	s.endedAt = &now
	if s.wall != nil {
		s.wall.Stop()
		s.wall = nil
	}

	summary := s.summary()
	s.writes.finalize(summary)

	if s.metrics != nil {
		s.metrics.RecordTerminal(string(state), string(reason))
		if summary.Final != nil {
			s.metrics.ObserveFinalCompatibility(summary.Final.Overall)
		}
	}
	s.notifyFinished(summary)

	status := s.statusEvent()
	for _, m := range s.members {
		_ = m.ch.Send(status)
		_ = m.ch.Close(closeCode, string(reason))
	}
	s.members = nil
	s.presence = make(map[string]int)
	s.viewers = make(map[string]chat.Viewer)
	return nil
}

func (s *Session) notifyFinished(summary chat.Summary) {
	if s.notifier == nil {
		return
	}
	var overall float64
	if summary.Final != nil {
		overall = summary.Final.Overall
	}
	preview := ""
	if n := len(s.transcript); n > 0 {
		preview = s.transcript[n-1].Content
	}
	for _, p := range s.participants {
		s.notifier.Publish(p.UserID, chat.NewEvent(chat.EventNewMessage, s.id, chat.MessageNotice{
			SessionID: s.id,
			MatchID:   s.matchID,
			State:     summary.State,
			Reason:    summary.Reason,
			Overall:   overall,
			Preview:   preview,
		}))
	}
}
