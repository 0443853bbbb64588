package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

const (
	maxGuidanceRunes = 500
	maxCommentRunes  = 1000
)

func (s *Session) handleCommand(m *member, cmd chat.Command) error {
	switch cmd.Type {
	case chat.CommandStart:
		if err := requireParticipant(m); err != nil {
			return err
		}
		return s.start()

	case chat.CommandEnd:
		if err := requireParticipant(m); err != nil {
			return err
		}
		return s.complete(chat.ReasonEndedByUser, nil)

	case chat.CommandPause:
		if err := requireParticipant(m); err != nil {
			return err
		}
		return s.pause(chat.ReasonPausedByUser)

	case chat.CommandResume:
		if err := requireParticipant(m); err != nil {
			return err
		}
		return s.resume()

	case chat.CommandFeedback:
		return s.handleFeedback(m, cmd.Data)

	case chat.CommandReaction:
		return s.handleReaction(m, cmd.Data)

	case chat.CommandGuidance:
		return s.handleGuidance(m, cmd.Data)

	case chat.CommandRequestCompatibility:
		s.sendTo(m, chat.NewEvent(chat.EventCompatibilityUpdate, s.id, chat.CompatibilityUpdate{Reading: s.scorer.Latest()}))
		return nil

	case chat.CommandPing:
		s.sendTo(m, chat.NewEvent(chat.EventPong, s.id, nil))
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, cmd.Type)
	}
}

func requireParticipant(m *member) error {
	if !m.role.Participant() {
		return ErrForbidden
	}
	return nil
}

func (s *Session) handleFeedback(m *member, raw json.RawMessage) error {
	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	var p chat.FeedbackPayload
	if err := decode(raw, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFeedback, err)
	}
	p.Comment = strings.TrimSpace(p.Comment)
	switch {
	case p.Rating == 0 && p.Comment == "":
		return fmt.Errorf("%w: rating or comment required", ErrInvalidFeedback)
	case p.Rating < 0 || p.Rating > 5:
		return fmt.Errorf("%w: rating must be 1..5", ErrInvalidFeedback)
	case utf8.RuneCountInString(p.Comment) > maxCommentRunes:
		return fmt.Errorf("%w: comment too long", ErrInvalidFeedback)
	}

	fb := chat.Feedback{UserID: m.viewer.ID, Rating: p.Rating, Comment: p.Comment, CreatedAt: s.now().UTC()}
	s.feedback = append(s.feedback, fb)
	s.broadcast(chat.NewEvent(chat.EventFeedbackReceived, s.id, fb))
	return nil
}

func (s *Session) handleReaction(m *member, raw json.RawMessage) error {
	var p chat.ReactionPayload
	if err := decode(raw, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReaction, err)
	}
	kind, err := chat.ParseReactionKind(p.Kind)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReaction, err)
	}
	if p.MessageID < 0 || p.MessageID >= len(s.transcript) {
		return fmt.Errorf("%w: message %d does not exist", ErrInvalidReaction, p.MessageID)
	}

	r := chat.Reaction{ViewerID: m.viewer.ID, TargetSeq: p.MessageID, Kind: kind, CreatedAt: s.now().UTC()}
	s.reactions = append(s.reactions, r)
	s.broadcast(chat.NewEvent(chat.EventReaction, s.id, r))
	return nil
}

func (s *Session) handleGuidance(m *member, raw json.RawMessage) error {
	if s.state.Terminal() {
		return ErrSessionTerminal
	}
	var p chat.GuidancePayload
	if err := decode(raw, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGuidance, err)
	}
	slot, err := chat.ParseSender(p.TargetParticipant)
	if err != nil || !slot.IsParticipant() {
		return fmt.Errorf("%w: unknown participant %q", ErrInvalidGuidance, p.TargetParticipant)
	}
	if !m.role.Owns(slot) {
		return ErrForbidden
	}
	instruction := strings.TrimSpace(p.Instruction)
	if instruction == "" || utf8.RuneCountInString(instruction) > maxGuidanceRunes {
		return fmt.Errorf("%w: instruction must be 1..%d characters", ErrInvalidGuidance, maxGuidanceRunes)
	}

	s.proxies[slot.Index()].AddGuidance(instruction)
	s.log.Info().Str("participant", slot.String()).Msg("guidance queued")
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	return json.Unmarshal(raw, v)
}
