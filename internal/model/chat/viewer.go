package chat

import (
	"fmt"
	"time"
)

// Viewer 是正在观看会话的用户，按 ID 去重。
type Viewer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AttachedAt  time.Time `json:"attachedAt"`
}

// ReactionKind 观众反应的固定种类。
type ReactionKind string

const (
	ReactionHeart    ReactionKind = "heart"
	ReactionLaugh    ReactionKind = "laugh"
	ReactionWow      ReactionKind = "wow"
	ReactionFire     ReactionKind = "fire"
	ReactionThumbsUp ReactionKind = "thumbs_up"
)

// ParseReactionKind 校验反应种类。
func ParseReactionKind(raw string) (ReactionKind, error) {
	switch k := ReactionKind(raw); k {
	case ReactionHeart, ReactionLaugh, ReactionWow, ReactionFire, ReactionThumbsUp:
		return k, nil
	default:
		return "", fmt.Errorf("unknown reaction kind %q", raw)
	}
}

// Reaction 是对某条发言的标注，不会修改发言本身。
type Reaction struct {
	ViewerID  string       `json:"viewerId"`
	TargetSeq int          `json:"messageId"`
	Kind      ReactionKind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Feedback 是用户对会话的评价。
type Feedback struct {
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
