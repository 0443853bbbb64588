package compatibility

import (
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

const (
	seedFloor = 0.35
	seedSpan  = 0.5
)

// ProfileSeed derives the static starting score per dimension from two
// profiles. Each dimension lands in [0.35, 0.85].
func ProfileSeed(a, b persona.Persona) map[chat.Dimension]float64 {
	return map[chat.Dimension]float64{
		chat.DimensionPersonality:   seedFloor + seedSpan*jaccard(a.Traits, b.Traits),
		chat.DimensionCommunication: seedFloor + seedSpan*jaccard(toneWords(a.Tone), toneWords(b.Tone)),
		chat.DimensionValues:        seedFloor + seedSpan*jaccard(a.Values, b.Values),
		chat.DimensionLifestyle:     seedFloor + seedSpan*jaccard(concat(a.Lifestyle, a.Interests), concat(b.Lifestyle, b.Interests)),
	}
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func toneWords(tone string) []string {
	parts := strings.Split(tone, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	left := make(map[string]struct{}, len(a))
	for _, v := range a {
		left[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	union := make(map[string]struct{}, len(a)+len(b))
	for k := range left {
		union[k] = struct{}{}
	}
	inter := 0
	for _, v := range b {
		k := strings.ToLower(strings.TrimSpace(v))
		if _, ok := union[k]; !ok {
			union[k] = struct{}{}
		}
		if _, ok := left[k]; ok {
			inter++
			delete(left, k)
		}
	}
	if len(union) == 0 {
		return 0.5
	}
	return float64(inter) / float64(len(union))
}
