package session

import (
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

// Close codes shared with the transport layer (RFC 6455 values).
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	ClosePolicy        = 1008
	CloseInternalError = 1011
	CloseTryAgainLater = 1013
)

// Channel is one attached client connection. Send must not block: it queues
// the event or fails when the client cannot keep up.
type Channel interface {
	ID() string
	Send(ev chat.Event) error
	Close(code int, reason string) error
}

// Role is what an attached channel may do, derived from its credential.
type Role uint8

const (
	RoleViewer Role = 0
	RoleOwnerA Role = 1 << iota
	RoleOwnerB
)

// Owns reports whether the role owns the participant in slot.
func (r Role) Owns(slot chat.Sender) bool {
	switch slot {
	case chat.SenderParticipantA:
		return r&RoleOwnerA != 0
	case chat.SenderParticipantB:
		return r&RoleOwnerB != 0
	default:
		return false
	}
}

// Participant reports whether the role owns either participant.
func (r Role) Participant() bool { return r&(RoleOwnerA|RoleOwnerB) != 0 }

func (r Role) String() string {
	var parts []string
	if r&RoleOwnerA != 0 {
		parts = append(parts, "owner-A")
	}
	if r&RoleOwnerB != 0 {
		parts = append(parts, "owner-B")
	}
	if len(parts) == 0 {
		return "viewer"
	}
	return strings.Join(parts, "+")
}

// roleFor derives the role of userID within participants.
func roleFor(userID string, participants [2]chat.Participant) Role {
	var r Role
	if userID != "" && participants[0].UserID == userID {
		r |= RoleOwnerA
	}
	if userID != "" && participants[1].UserID == userID {
		r |= RoleOwnerB
	}
	return r
}
