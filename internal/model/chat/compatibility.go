package chat

import "time"

// Dimension 是兼容度的一个维度。
type Dimension string

const (
	DimensionPersonality   Dimension = "personality"
	DimensionCommunication Dimension = "communication"
	DimensionValues        Dimension = "values"
	DimensionLifestyle     Dimension = "lifestyle"
)

// Dimensions 固定的维度顺序，用于权重与序列化。
var Dimensions = []Dimension{
	DimensionPersonality,
	DimensionCommunication,
	DimensionValues,
	DimensionLifestyle,
}

// Trend 表示整体分数相对近期读数的走向。
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// CompatibilityReading 是一次评分后的快照。
type CompatibilityReading struct {
	Seq          int                   `json:"seq"`
	UtteranceSeq *int                  `json:"utteranceSeq,omitempty"`
	Overall      float64               `json:"overall"`
	Dimensions   map[Dimension]float64 `json:"dimensions"`
	Trend        Trend                 `json:"trend"`
	Insights     []string              `json:"insights,omitempty"`
	Final        bool                  `json:"final,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// Clone 返回深拷贝。
func (r CompatibilityReading) Clone() CompatibilityReading {
	out := r
	out.Dimensions = make(map[Dimension]float64, len(r.Dimensions))
	for k, v := range r.Dimensions {
		out.Dimensions[k] = v
	}
	if r.Insights != nil {
		out.Insights = append([]string(nil), r.Insights...)
	}
	if r.UtteranceSeq != nil {
		v := *r.UtteranceSeq
		out.UtteranceSeq = &v
	}
	return out
}

// HighlightRef 指向一条高光发言。
type HighlightRef struct {
	Seq     int     `json:"messageId"`
	Sender  Sender  `json:"sender"`
	Impact  float64 `json:"impact"`
	Excerpt string  `json:"excerpt"`
}
