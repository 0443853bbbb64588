package session

import (
	"errors"
	"testing"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to chat.State
		ok       bool
	}{
		{chat.StateIdle, chat.StateRunning, true},
		{chat.StateIdle, chat.StatePaused, false},
		{chat.StateRunning, chat.StatePaused, true},
		{chat.StatePaused, chat.StateRunning, true},
		{chat.StateRunning, chat.StateCompleted, false},
		{chat.StateRunning, chat.StateCompleting, true},
		{chat.StateCompleting, chat.StateCompleted, true},
		{chat.StateCompleting, chat.StateRunning, false},
		{chat.StatePaused, chat.StateAborted, true},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []chat.State{chat.StateCompleted, chat.StateAborted} {
		for _, to := range []chat.State{chat.StateIdle, chat.StateRunning, chat.StatePaused, chat.StateCompleting, chat.StateAborted} {
			if err := checkTransition(from, to); !errors.Is(err, ErrSessionTerminal) {
				t.Fatalf("%s -> %s: expected ErrSessionTerminal, got %v", from, to, err)
			}
		}
	}
}

func TestRoleString(t *testing.T) {
	participants := [2]chat.Participant{{UserID: "u1"}, {UserID: "u1"}}
	r := roleFor("u1", participants)
	if !r.Owns(chat.SenderParticipantA) || !r.Owns(chat.SenderParticipantB) {
		t.Fatal("a user owning both slots should own both")
	}
	if r.String() != "owner-A+owner-B" {
		t.Fatalf("unexpected role string %q", r.String())
	}
	if roleFor("", participants) != RoleViewer {
		t.Fatal("anonymous channels are viewers")
	}
}
