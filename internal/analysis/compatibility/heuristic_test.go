package compatibility

import (
	"context"
	"math"
	"testing"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

func seedPair(t *testing.T) (persona.Persona, persona.Persona) {
	t.Helper()
	seed := persona.Seed()
	return seed[0], seed[1]
}

func TestHeuristicDeltasAreBounded(t *testing.T) {
	maya, leo := seedPair(t)
	text := "Thank you, that makes sense! I love cooking and travel, family and honesty matter to me. " +
		"Tell me more, what about you? I agree, exactly, same here, you sound kind and funny."
	in := Input{
		Utterance: chat.Utterance{Seq: 1, Sender: chat.SenderParticipantB, Content: text},
		Speaker:   leo,
		Partner:   maya,
	}
	got, err := Heuristic{}.Assess(context.Background(), in)
	if err != nil {
		t.Fatalf("Assess returned error: %v", err)
	}
	if len(got.Deltas) != len(chat.Dimensions) {
		t.Fatalf("expected %d dimensions, got %d", len(chat.Dimensions), len(got.Deltas))
	}
	for dim, v := range got.Deltas {
		if v < -MaxDelta || v > MaxDelta {
			t.Fatalf("delta for %s out of range: %v", dim, v)
		}
	}
	if got.Deltas[chat.DimensionValues] <= 0 {
		t.Fatalf("expected positive values delta, got %v", got.Deltas[chat.DimensionValues])
	}
}

func TestHeuristicDismissiveLowersCommunication(t *testing.T) {
	maya, leo := seedPair(t)
	in := Input{
		Utterance: chat.Utterance{Sender: chat.SenderParticipantA, Content: "whatever, not really, i don't care"},
		Speaker:   maya,
		Partner:   leo,
	}
	got, _ := Heuristic{}.Assess(context.Background(), in)
	if got.Deltas[chat.DimensionCommunication] >= 0 {
		t.Fatalf("expected negative communication delta, got %v", got.Deltas[chat.DimensionCommunication])
	}
}

func TestClampDropsUnknownAndNaN(t *testing.T) {
	a := Assessment{Deltas: map[chat.Dimension]float64{
		chat.DimensionPersonality: 0.5,
		chat.DimensionValues:      math.NaN(),
		"humour":                  0.05,
	}}.Clamp()
	if a.Deltas[chat.DimensionPersonality] != MaxDelta {
		t.Fatalf("expected clamp to %v, got %v", MaxDelta, a.Deltas[chat.DimensionPersonality])
	}
	if a.Deltas[chat.DimensionValues] != 0 {
		t.Fatalf("expected NaN to become 0, got %v", a.Deltas[chat.DimensionValues])
	}
	if _, ok := a.Deltas["humour"]; ok {
		t.Fatalf("unknown dimension should be dropped")
	}
}

func TestProfileSeedRange(t *testing.T) {
	seed := persona.Seed()
	for i := range seed {
		for j := range seed {
			got := ProfileSeed(seed[i], seed[j])
			for dim, v := range got {
				if v < 0.35 || v > 0.85 {
					t.Fatalf("seed %s/%s %s = %v out of range", seed[i].ID, seed[j].ID, dim, v)
				}
			}
		}
	}
	self := ProfileSeed(seed[0], seed[0])
	if math.Abs(self[chat.DimensionValues]-0.85) > 1e-9 {
		t.Fatalf("identical profiles should seed at the ceiling, got %v", self[chat.DimensionValues])
	}
}

func TestSharedWordsCapped(t *testing.T) {
	prev := "pottery hiking sunrise weekends trails coffee"
	reply := "Pottery? Hiking at sunrise on weekends, trails too!"
	if got := sharedWords(prev, reply); got != 4 {
		t.Fatalf("expected cap of 4, got %d", got)
	}
}
