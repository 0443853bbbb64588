package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

var (
	// ErrAgentTimeout 表示代理在响应时限内未给出回复。
	ErrAgentTimeout = errors.New("agent response timed out")
	// ErrEmptyReply 表示模型返回了空内容。
	ErrEmptyReply = errors.New("agent returned an empty reply")
)

// QuotaError 表示底层模型的配额或限流错误，调用方应提示参与者补充凭证。
type QuotaError struct {
	Participant chat.Sender
	Details     string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s", e.Participant, e.Details)
}

// ProviderError 包装回复生成过程中的其它错误。
type ProviderError struct {
	Participant chat.Sender
	Err         error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error for %s: %v", e.Participant, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsQuota 判断错误是否为配额错误。
func IsQuota(err error) bool {
	var q *QuotaError
	return errors.As(err, &q)
}

var quotaMarkers = []string{
	"429",
	"quota",
	"rate limit",
	"ratelimit",
	"toomanyrequests",
	"insufficient_quota",
}

// looksLikeQuota 识别各家模型返回的限流文案。
func looksLikeQuota(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
