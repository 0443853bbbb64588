package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

const defaultHistoryLimit = 20

// EinoProvider 通过 eino chain 调用聊天模型生成回复。
type EinoProvider struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompts      *PromptBuilder
	historyLimit int
	log          zerolog.Logger
}

var _ Provider = (*EinoProvider)(nil)

// NewEinoProvider 编译 system + history + query 的对话链。
func NewEinoProvider(ctx context.Context, chatModel model.ChatModel, historyLimit int) (*EinoProvider, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile agent chain: %w", err)
	}

	return &EinoProvider{
		chain:        runnable,
		prompts:      NewPromptBuilder(),
		historyLimit: historyLimit,
		log:          logging.Component("agent"),
	}, nil
}

// GenerateReply 实现 Provider。
func (p *EinoProvider) GenerateReply(ctx context.Context, req Request) (string, error) {
	resp, err := p.chain.Invoke(ctx, p.buildChainInput(req))
	if err != nil {
		return "", fmt.Errorf("failed to run agent chain: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}

	p.log.Debug().Str("session", req.SessionID).Str("participant", req.Slot.String()).
		Int("length", len(resp.Content)).Msg("generated reply")
	return resp.Content, nil
}

func (p *EinoProvider) buildChainInput(req Request) map[string]any {
	history, query := p.splitTranscript(req)
	return map[string]any{
		"system":  p.prompts.BuildSystemPrompt(req.Self, req.Partner, req.Guidance),
		"history": history,
		"query":   query,
	}
}

// splitTranscript 把自己的发言映射为 assistant，对方的发言映射为 user；
// 对方最后一句作为 query，系统提示不进入上下文。
func (p *EinoProvider) splitTranscript(req Request) ([]*schema.Message, string) {
	visible := make([]chat.Utterance, 0, len(req.Transcript))
	for _, u := range req.Transcript {
		if u.Sender.IsParticipant() && strings.TrimSpace(u.Content) != "" {
			visible = append(visible, u)
		}
	}

	query := p.prompts.OpeningQuery(req.Self)
	if n := len(visible); n > 0 {
		last := visible[n-1]
		if last.Sender == req.Slot {
			query = "对方暂时没有回应，请自然地延续话题。"
		} else {
			query = last.Content
			visible = visible[:n-1]
		}
	}

	if len(visible) > p.historyLimit {
		visible = visible[len(visible)-p.historyLimit:]
	}

	history := make([]*schema.Message, 0, len(visible))
	for _, u := range visible {
		if u.Sender == req.Slot {
			history = append(history, schema.AssistantMessage(u.Content, nil))
		} else {
			history = append(history, schema.UserMessage(u.Content))
		}
	}
	return history, query
}
