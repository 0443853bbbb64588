package chat

import "time"

// Utterance 是会话记录中的一条发言，创建后不可修改，只会被标记为高光。
type Utterance struct {
	Seq                 int       `json:"seq"`
	SessionID           string    `json:"sessionId"`
	Sender              Sender    `json:"sender"`
	Content             string    `json:"content"`
	Emotions            []string  `json:"emotions,omitempty"`
	CompatibilityImpact *float64  `json:"compatibilityImpact,omitempty"`
	Highlighted         bool      `json:"highlighted"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Impact 返回兼容度影响值，未评分时为 0。
func (u Utterance) Impact() float64 {
	if u.CompatibilityImpact == nil {
		return 0
	}
	return *u.CompatibilityImpact
}

// Clone 返回深拷贝，避免共享切片与指针。
func (u Utterance) Clone() Utterance {
	out := u
	if u.Emotions != nil {
		out.Emotions = append([]string(nil), u.Emotions...)
	}
	if u.CompatibilityImpact != nil {
		v := *u.CompatibilityImpact
		out.CompatibilityImpact = &v
	}
	return out
}

// CloneTranscript 拷贝整段记录。
func CloneTranscript(in []Utterance) []Utterance {
	if in == nil {
		return nil
	}
	out := make([]Utterance, len(in))
	for i, u := range in {
		out[i] = u.Clone()
	}
	return out
}
