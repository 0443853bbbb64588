package emotion

import (
	"math"
	"sort"
	"strings"
)

// Label 表示附加在发言上的情绪标签。
type Label string

const (
	Neutral     Label = "neutral"
	Joy         Label = "joy"
	Warmth      Label = "warmth"
	Curiosity   Label = "curiosity"
	Humor       Label = "humor"
	Excitement  Label = "excitement"
	Sadness     Label = "sadness"
	Frustration Label = "frustration"
	Anxiety     Label = "anxiety"
)

// Positive 表示该情绪通常推动对话升温。
func (l Label) Positive() bool {
	switch l {
	case Joy, Warmth, Curiosity, Humor, Excitement:
		return true
	default:
		return false
	}
}

// Negative 表示该情绪通常让对话降温。
func (l Label) Negative() bool {
	switch l {
	case Sadness, Frustration, Anxiety:
		return true
	default:
		return false
	}
}

// Decision 给出情绪识别结果以及整体强度。
type Decision struct {
	Primary   Label
	Intensity float64 // 0..1
	Scores    map[Label]int
}

var keywordBuckets = map[Label][]string{
	Joy: {
		"happy", "glad", "great", "awesome", "amazing", "love", "loved", "wonderful", "delighted",
		"开心", "高兴", "快乐", "太好了", "喜欢",
	},
	Warmth: {
		"thank you", "thanks", "sweet", "kind", "appreciate", "care", "cozy", "hug", "means a lot",
		"谢谢", "温暖", "体贴", "暖",
	},
	Curiosity: {
		"what about", "how about", "tell me", "curious", "wonder", "why do you", "what do you",
		"have you ever", "好奇", "为什么", "说说",
	},
	Humor: {
		"haha", "lol", "funny", "joke", "pun", "hilarious", "laugh", "哈哈", "笑死", "搞笑",
	},
	Excitement: {
		"can't wait", "excited", "wow", "incredible", "let's do it", "adventure", "thrilled",
		"期待", "激动", "太酷了", "哇",
	},
	Sadness: {
		"sad", "miss", "lonely", "hurt", "cry", "sorry to hear", "tough time", "lost",
		"难过", "伤心", "孤单", "失落",
	},
	Frustration: {
		"annoyed", "frustrated", "hate", "ugh", "tired of", "fed up", "disagree", "whatever",
		"烦", "生气", "受够了", "无语",
	},
	Anxiety: {
		"nervous", "worried", "anxious", "afraid", "scared", "stress", "awkward", "overwhelmed",
		"紧张", "担心", "害怕", "焦虑",
	},
}

const (
	keywordWeight     = 3
	punctuationWeight = 2
	maxTags           = 3
	saturationScore   = 12.0
)

// Analyze 根据文本推断主要情绪与强度。
func Analyze(text string) Decision {
	scores := scoreText(text)

	best, bestScore := Neutral, 0
	for _, label := range orderedLabels(scores) {
		if scores[label] > bestScore {
			best, bestScore = label, scores[label]
		}
	}
	if bestScore == 0 {
		return Decision{Primary: Neutral, Intensity: 0, Scores: scores}
	}

	return Decision{
		Primary:   best,
		Intensity: math.Min(1, float64(bestScore)/saturationScore),
		Scores:    scores,
	}
}

// Tags 返回按得分排序的情绪标签（最多三个），无明显情绪时返回 neutral。
func Tags(text string) []string {
	scores := scoreText(text)
	labels := orderedLabels(scores)
	out := make([]string, 0, maxTags)
	for _, label := range labels {
		if scores[label] == 0 || len(out) == maxTags {
			break
		}
		out = append(out, string(label))
	}
	if len(out) == 0 {
		return []string{string(Neutral)}
	}
	return out
}

func scoreText(text string) map[Label]int {
	scores := make(map[Label]int)
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return scores
	}

	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += keywordWeight
			}
		}
	}

	if exclamations := strings.Count(text, "!") + strings.Count(text, "！"); exclamations > 0 {
		scores[Excitement] += exclamations * punctuationWeight
	}
	if questions := strings.Count(text, "?") + strings.Count(text, "？"); questions > 0 {
		scores[Curiosity] += questions * punctuationWeight
	}
	return scores
}

// orderedLabels sorts by score desc, then by label name so ties are stable.
func orderedLabels(scores map[Label]int) []Label {
	labels := make([]Label, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if scores[labels[i]] != scores[labels[j]] {
			return scores[labels[i]] > scores[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}
