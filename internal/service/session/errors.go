package session

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already exists")
	ErrSessionTerminal     = errors.New("session has ended")
	ErrSessionGone         = errors.New("session evicted")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrForbidden           = errors.New("command not allowed for this channel")
	ErrUnknownMessage      = errors.New("unknown message type")
	ErrInvalidReaction     = errors.New("invalid reaction")
	ErrInvalidFeedback     = errors.New("invalid feedback")
	ErrInvalidGuidance     = errors.New("invalid guidance")
	ErrInvalidParticipants = errors.New("a session needs two distinct participants")
	ErrUnknownPersona      = errors.New("unknown persona")
	ErrNotAttached         = errors.New("channel is not attached")
)
