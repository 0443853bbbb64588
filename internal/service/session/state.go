package session

import (
	"fmt"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

var transitions = map[chat.State][]chat.State{
	chat.StateIdle:       {chat.StateRunning, chat.StateCompleting, chat.StateAborted},
	chat.StateRunning:    {chat.StatePaused, chat.StateCompleting, chat.StateAborted},
	chat.StatePaused:     {chat.StateRunning, chat.StateCompleting, chat.StateAborted},
	chat.StateCompleting: {chat.StateCompleted, chat.StateAborted},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to chat.State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to chat.State) error {
	if from.Terminal() {
		return ErrSessionTerminal
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

func reasonMessage(reason chat.Reason) string {
	switch reason {
	case chat.ReasonTurnLimit:
		return "The conversation reached its turn limit."
	case chat.ReasonEndedByUser:
		return "The conversation was ended by a participant."
	case chat.ReasonAgentUnresponsive:
		return "An agent stopped responding, so the conversation was stopped."
	case chat.ReasonWallClock:
		return "The conversation ran past its time limit."
	case chat.ReasonQuotaExceeded:
		return "An agent ran out of model quota. Its owner can supply a new credential and resume."
	case chat.ReasonPausedByUser:
		return "The conversation was paused by a participant."
	case chat.ReasonInternalError:
		return "The conversation stopped because of an internal error."
	default:
		return ""
	}
}
