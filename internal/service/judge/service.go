// Package judge 使用大模型评估单条发言对兼容度各维度的影响，失败时回退到启发式规则。
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/analysis/compatibility"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

// Config 控制评估服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Service 实现 compatibility.Assessor。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     compatibility.Assessor
	historyLimit int
	log          zerolog.Logger
}

var _ compatibility.Assessor = (*Service)(nil)

// NewService 创建评估服务。chatModel 可重用回复生成所用的模型实例。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     compatibility.Heuristic{},
		historyLimit: historyLimit,
		log:          logging.Component("judge"),
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(judgeSystemPrompt),
		schema.UserMessage(judgeUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile judge chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了大模型评估。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Assess 实现 compatibility.Assessor。模型不可用或输出无法解析时返回启发式结果，不返回错误。
func (s *Service) Assess(ctx context.Context, in compatibility.Input) (compatibility.Assessment, error) {
	if !s.Enabled() {
		return s.fallback.Assess(ctx, in)
	}

	input := map[string]any{
		"speaker":   summarizePersona(in.Speaker),
		"partner":   summarizePersona(in.Partner),
		"history":   formatHistory(in.Transcript, s.historyLimit),
		"utterance": strings.TrimSpace(in.Utterance.Content),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		s.log.Warn().Err(err).Str("session", in.SessionID).Msg("judge invoke failed, use fallback")
		return s.fallback.Assess(ctx, in)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallback.Assess(ctx, in)
	}

	result, err := parseJudgeOutput(msg.Content)
	if err != nil {
		s.log.Warn().Err(err).Str("session", in.SessionID).Msg("judge output parse failed, use fallback")
		return s.fallback.Assess(ctx, in)
	}
	return result.assessment(), nil
}

type judgePayload struct {
	Personality   float64 `json:"personality"`
	Communication float64 `json:"communication"`
	Values        float64 `json:"values"`
	Lifestyle     float64 `json:"lifestyle"`
	Highlight     bool    `json:"highlight"`
	Insight       string  `json:"insight"`
}

func (p judgePayload) assessment() compatibility.Assessment {
	return compatibility.Assessment{
		Deltas: map[chat.Dimension]float64{
			chat.DimensionPersonality:   p.Personality,
			chat.DimensionCommunication: p.Communication,
			chat.DimensionValues:        p.Values,
			chat.DimensionLifestyle:     p.Lifestyle,
		},
		Highlight: p.Highlight,
		Insight:   strings.TrimSpace(p.Insight),
		Source:    "judge",
	}.Clamp()
}

// parseJudgeOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseJudgeOutput(content string) (*judgePayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &judgePayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func summarizePersona(p persona.Persona) string {
	sections := []string{fmt.Sprintf("名字:%s", strings.TrimSpace(p.Name))}
	if tone := strings.TrimSpace(p.Tone); tone != "" {
		sections = append(sections, fmt.Sprintf("语气:%s", tone))
	}
	if len(p.Traits) > 0 {
		sections = append(sections, "性格:"+strings.Join(p.Traits, "/"))
	}
	if len(p.Values) > 0 {
		sections = append(sections, "价值观:"+strings.Join(p.Values, "/"))
	}
	if len(p.Interests) > 0 {
		sections = append(sections, "兴趣:"+strings.Join(p.Interests, "/"))
	}
	return strings.Join(sections, " | ")
}

func formatHistory(transcript []chat.Utterance, limit int) string {
	if len(transcript) == 0 {
		return "无历史对话"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(transcript) - limit
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, len(transcript)-start)
	for _, u := range transcript[start:] {
		content := strings.TrimSpace(u.Content)
		if content == "" {
			continue
		}
		lines = append(lines, u.Sender.String()+": "+content)
	}
	if len(lines) == 0 {
		return "无历史对话"
	}
	return strings.Join(lines, "\n")
}

const judgeSystemPrompt = "你是一名约会对话的兼容度评估员。请阅读双方档案、最近对话与最新一句发言，评估这句发言让双方在各维度上更契合还是更疏远。\n输出要求：只返回一个 JSON 对象，字段如下：personality、communication、values、lifestyle（均为 -0.1~0.1 之间的小数，正数表示更契合）、highlight（布尔值，这句话是否是值得观众注意的高光时刻）、insight（一句简短说明，可为空）。不得输出多余文本。"

const judgeUserPrompt = "发言者档案：\n{speaker}\n\n对方档案：\n{partner}\n\n最近对话：\n{history}\n\n最新发言：\n{utterance}\n\n请给出 JSON。"
