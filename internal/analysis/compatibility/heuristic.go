// Package compatibility holds the numeric contract for per-utterance
// compatibility assessment plus a keyword heuristic that satisfies it.
package compatibility

import (
	"context"
	"math"
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

// MaxDelta bounds every per-dimension delta an assessor may return.
const MaxDelta = 0.1

// Input is what an assessor sees for one new utterance.
type Input struct {
	SessionID  string
	Utterance  chat.Utterance
	Speaker    persona.Persona
	Partner    persona.Persona
	Transcript []chat.Utterance // prior utterances, oldest first
}

// Assessment is the per-dimension delta extracted from one utterance.
type Assessment struct {
	Deltas    map[chat.Dimension]float64
	Highlight bool
	Insight   string
	Source    string
}

// Clamp returns a copy with every known delta clamped into [-MaxDelta, MaxDelta].
// Unknown dimensions are dropped and NaN counts as zero.
func (a Assessment) Clamp() Assessment {
	out := a
	out.Deltas = make(map[chat.Dimension]float64, len(chat.Dimensions))
	for _, d := range chat.Dimensions {
		out.Deltas[d] = ClampDelta(a.Deltas[d])
	}
	return out
}

// ClampDelta clamps a single delta.
func ClampDelta(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-MaxDelta, math.Min(MaxDelta, v))
}

// Assessor turns an utterance into per-dimension deltas.
type Assessor interface {
	Assess(ctx context.Context, in Input) (Assessment, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, in Input) (Assessment, error)

func (f AssessorFunc) Assess(ctx context.Context, in Input) (Assessment, error) {
	return f(ctx, in)
}

var dimensionKeywords = map[chat.Dimension][]string{
	chat.DimensionPersonality: {
		"funny", "kind", "adventurous", "honest", "patient", "playful", "thoughtful", "sweet",
		"you sound", "i like that you", "same here",
	},
	chat.DimensionCommunication: {
		"i hear you", "that makes sense", "tell me more", "good question", "i understand",
		"what about you", "how about you", "i agree", "exactly",
	},
	chat.DimensionValues: {
		"family", "honesty", "trust", "growth", "kindness", "loyalty", "community", "faith",
		"respect", "future", "kids",
	},
	chat.DimensionLifestyle: {
		"weekend", "morning", "night", "travel", "cook", "hike", "gym", "movie", "coffee",
		"dinner", "routine", "sleep",
	},
}

var dismissiveMarkers = []string{
	"whatever", "not really", "i don't care", "boring", "never mind", "don't know",
}

const (
	keywordStep   = 0.02
	interestStep  = 0.03
	emotionWeight = 0.04
	echoStep      = 0.015
)

// Heuristic is the keyword-based assessor used when no model-backed judge is
// available.
type Heuristic struct{}

var _ Assessor = Heuristic{}

// Assess implements Assessor without any I/O.
func (Heuristic) Assess(_ context.Context, in Input) (Assessment, error) {
	text := strings.ToLower(in.Utterance.Content)
	deltas := make(map[chat.Dimension]float64, len(chat.Dimensions))

	for dim, words := range dimensionKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				deltas[dim] += keywordStep
			}
		}
	}

	// Shared ground with the partner's profile.
	for _, interest := range in.Partner.Interests {
		if interest != "" && strings.Contains(text, strings.ToLower(interest)) {
			deltas[chat.DimensionLifestyle] += interestStep
		}
	}
	for _, value := range in.Partner.Values {
		if value != "" && strings.Contains(text, strings.ToLower(value)) {
			deltas[chat.DimensionValues] += interestStep
		}
	}

	decision := emotion.Analyze(in.Utterance.Content)
	switch {
	case decision.Primary.Positive():
		deltas[chat.DimensionPersonality] += emotionWeight * decision.Intensity
		deltas[chat.DimensionCommunication] += emotionWeight * decision.Intensity / 2
	case decision.Primary.Negative():
		deltas[chat.DimensionPersonality] -= emotionWeight * decision.Intensity
		deltas[chat.DimensionCommunication] -= emotionWeight * decision.Intensity
	}

	for _, marker := range dismissiveMarkers {
		if strings.Contains(text, marker) {
			deltas[chat.DimensionCommunication] -= 2 * keywordStep
		}
	}

	if prev, ok := lastFrom(in.Transcript, in.Utterance.Sender.Other()); ok {
		deltas[chat.DimensionCommunication] += echoStep * float64(sharedWords(prev.Content, in.Utterance.Content))
	}

	return Assessment{Deltas: deltas, Source: "heuristic"}.Clamp(), nil
}

func lastFrom(transcript []chat.Utterance, sender chat.Sender) (chat.Utterance, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Sender == sender {
			return transcript[i], true
		}
	}
	return chat.Utterance{}, false
}

// sharedWords counts distinct words longer than four letters that the reply
// picks up from the partner's last utterance, capped at 4.
func sharedWords(previous, reply string) int {
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(previous)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 4 {
			seen[w] = struct{}{}
		}
	}
	count := 0
	for _, w := range strings.Fields(strings.ToLower(reply)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if _, ok := seen[w]; ok {
			count++
			delete(seen, w)
		}
		if count == 4 {
			break
		}
	}
	return count
}
