package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

// OfflineProvider 在未配置模型凭证时生成可预期的脚本化回复，便于本地开发与演示。
type OfflineProvider struct{}

var _ Provider = OfflineProvider{}

// GenerateReply 实现 Provider。
func (OfflineProvider) GenerateReply(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	turns := 0
	for _, u := range req.Transcript {
		if u.Sender == req.Slot {
			turns++
		}
	}

	if turns == 0 && strings.TrimSpace(req.Self.OpeningLine) != "" {
		return req.Self.OpeningLine, nil
	}

	var topic string
	if len(req.Partner.Interests) > 0 {
		topic = req.Partner.Interests[turns%len(req.Partner.Interests)]
	}
	var own string
	if len(req.Self.Interests) > 0 {
		own = req.Self.Interests[turns%len(req.Self.Interests)]
	}

	if len(req.Guidance) > 0 {
		return fmt.Sprintf("Okay, %s. %s", strings.TrimSuffix(req.Guidance[len(req.Guidance)-1], "."), followUp(topic)), nil
	}

	last := lastFrom(req.Transcript, req.Slot.Other())
	switch {
	case last == nil:
		return fmt.Sprintf("Hi %s! I'm %s. %s", req.Partner.Name, req.Self.Name, followUp(topic)), nil
	case own != "" && own == topic:
		return fmt.Sprintf("No way, I love %s too! That makes sense now. What got you into it?", own), nil
	case own != "":
		return fmt.Sprintf("That sounds fun. Lately I've been into %s. %s", own, followUp(topic)), nil
	default:
		return fmt.Sprintf("Thanks for sharing that. %s", followUp(topic)), nil
	}
}

func followUp(topic string) string {
	if topic == "" {
		return "What do you like to do on weekends?"
	}
	return fmt.Sprintf("I noticed you're into %s, tell me more?", topic)
}

func lastFrom(transcript []chat.Utterance, sender chat.Sender) *chat.Utterance {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Sender == sender {
			return &transcript[i]
		}
	}
	return nil
}
