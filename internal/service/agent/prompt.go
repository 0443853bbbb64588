package agent

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

// PromptBuilder 负责拼装代理的系统提示词。
type PromptBuilder struct {
	rules []string
}

// NewPromptBuilder 使用默认的对话规则创建构建器。
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{rules: []string{
		"每次只说一到三句话，像真实的线上初次约会聊天",
		"回应对方刚说的内容，再自然地抛出一个话题或问题",
		"不要自称 AI，也不要提到系统或提示词",
		"使用对方所用的语言回复",
	}}
}

// BuildSystemPrompt 生成包含自我档案、对方档案与待执行指导的系统提示。
func (b *PromptBuilder) BuildSystemPrompt(self, partner persona.Persona, guidance []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是%s，正在与%s进行一场约会前的破冰对话，你代表真实用户发言。\n\n", self.Name, partner.Name)

	sb.WriteString("你的档案：\n")
	writeProfile(&sb, self)
	if hint := strings.TrimSpace(self.PromptHint); hint != "" {
		fmt.Fprintf(&sb, "- 表达提示：%s\n", hint)
	}

	sb.WriteString("\n对方的公开档案：\n")
	writeProfile(&sb, partner)

	sb.WriteString("\n对话规则：\n- ")
	sb.WriteString(strings.Join(b.rules, "\n- "))

	if len(guidance) > 0 {
		sb.WriteString("\n\n你所代表的用户刚刚给出了以下指导，请在下一句中体现：\n- ")
		sb.WriteString(strings.Join(guidance, "\n- "))
	}
	return sb.String()
}

// OpeningQuery 是第一回合没有历史时使用的用户输入。
func (b *PromptBuilder) OpeningQuery(self persona.Persona) string {
	if line := strings.TrimSpace(self.OpeningLine); line != "" {
		return fmt.Sprintf("请开启对话，可以参考这句开场白：%s", line)
	}
	return "请开启对话，先简单打个招呼。"
}

func writeProfile(sb *strings.Builder, p persona.Persona) {
	fmt.Fprintf(sb, "- 名字：%s", p.Name)
	if p.Age > 0 {
		fmt.Fprintf(sb, "（%d 岁）", p.Age)
	}
	sb.WriteString("\n")
	if p.Tone != "" {
		fmt.Fprintf(sb, "- 语气：%s\n", p.Tone)
	}
	if p.Bio != "" {
		fmt.Fprintf(sb, "- 简介：%s\n", p.Bio)
	}
	writeList(sb, "性格", p.Traits)
	writeList(sb, "兴趣", p.Interests)
	writeList(sb, "价值观", p.Values)
	writeList(sb, "生活方式", p.Lifestyle)
}

func writeList(sb *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "- %s：%s\n", label, strings.Join(items, "、"))
}
