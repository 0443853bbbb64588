package chat

import (
	"encoding/json"
	"testing"
)

func TestSenderJSONRoundTrip(t *testing.T) {
	u := Utterance{Seq: 3, Sender: SenderParticipantB, Content: "hi"}
	raw, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if decoded["sender"] != "participant-B" {
		t.Fatalf("expected participant-B on the wire, got %v", decoded["sender"])
	}

	var back Utterance
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal utterance err: %v", err)
	}
	if back.Sender != SenderParticipantB {
		t.Fatalf("expected participant-B, got %s", back.Sender)
	}
}

func TestSenderRejectsUnknown(t *testing.T) {
	var s Sender
	if err := s.UnmarshalText([]byte("participant-C")); err == nil {
		t.Fatal("expected error for unknown sender")
	}
	if _, err := Sender(9).MarshalText(); err == nil {
		t.Fatal("expected error marshaling invalid sender")
	}
}

func TestSenderOther(t *testing.T) {
	if SenderParticipantA.Other() != SenderParticipantB {
		t.Fatal("A.Other should be B")
	}
	if SenderParticipantB.Other() != SenderParticipantA {
		t.Fatal("B.Other should be A")
	}
	if SenderSystem.IsParticipant() {
		t.Fatal("system is not a participant")
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateIdle, StateRunning, StatePaused, StateCompleting} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{StateCompleted, StateAborted} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestUtteranceCloneIsDeep(t *testing.T) {
	impact := 0.04
	u := Utterance{Emotions: []string{"happy"}, CompatibilityImpact: &impact}
	c := u.Clone()
	c.Emotions[0] = "sad"
	*c.CompatibilityImpact = 1
	if u.Emotions[0] != "happy" || u.Impact() != 0.04 {
		t.Fatal("clone shares state with original")
	}
}
