package chat

import (
	"encoding/json"
	"time"
)

// EventType 是服务端推送给客户端的事件类型。
type EventType string

const (
	EventConnectionEstablished EventType = "connection_established"
	EventAIMessage             EventType = "ai_message"
	EventCompatibilityUpdate   EventType = "compatibility_update"
	EventSessionStatusChange   EventType = "session_status_change"
	EventUserJoined            EventType = "user_joined"
	EventUserLeft              EventType = "user_left"
	EventQuotaExceeded         EventType = "quota_exceeded"
	EventReaction              EventType = "reaction"
	EventFeedbackReceived      EventType = "feedback_received"
	EventError                 EventType = "error"
	EventPong                  EventType = "pong"

	EventNewMatch   EventType = "new_match"
	EventNewMessage EventType = "new_message"
)

// CommandType 是客户端发送给服务端的指令类型。
type CommandType string

const (
	CommandStart                CommandType = "start_conversation"
	CommandEnd                  CommandType = "end_conversation"
	CommandPause                CommandType = "pause_conversation"
	CommandResume               CommandType = "resume_conversation"
	CommandFeedback             CommandType = "user_feedback"
	CommandReaction             CommandType = "reaction"
	CommandGuidance             CommandType = "user_guidance"
	CommandRequestCompatibility CommandType = "request_compatibility_update"
	CommandPing                 CommandType = "ping"
)

// Event 是推送给客户端的信封。
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewEvent 以当前时间构造事件。
func NewEvent(typ EventType, sessionID string, data any) Event {
	return Event{Type: typ, SessionID: sessionID, Data: data, Timestamp: time.Now().UnixMilli()}
}

// Command 是客户端指令信封。
type Command struct {
	Type      CommandType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// StatusChange 是 session_status_change 的数据体。
type StatusChange struct {
	State   State  `json:"state"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// CompatibilityUpdate 是 compatibility_update 的数据体。
type CompatibilityUpdate struct {
	Reading         CompatibilityReading `json:"reading"`
	RecentHighlight *HighlightRef        `json:"recentHighlight,omitempty"`
}

// QuotaNotice 是 quota_exceeded 的数据体。
type QuotaNotice struct {
	Participant Sender `json:"participant"`
	Details     string `json:"details"`
}

// ErrorNotice 是 error 的数据体。
type ErrorNotice struct {
	Message string `json:"message"`
}

// PresenceChange 是 user_joined / user_left 的数据体。
type PresenceChange struct {
	Viewer      Viewer `json:"viewer"`
	ViewerCount int    `json:"viewerCount"`
}

// ReactionPayload 是客户端 reaction 指令的数据体。
type ReactionPayload struct {
	MessageID int    `json:"messageId"`
	Kind      string `json:"kind"`
}

// GuidancePayload 是 user_guidance 指令的数据体。
type GuidancePayload struct {
	TargetParticipant string `json:"targetParticipant"`
	Instruction       string `json:"instruction"`
}

// FeedbackPayload 是 user_feedback 指令的数据体。
type FeedbackPayload struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// Welcome 是 connection_established 的数据体。
type Welcome struct {
	ChannelID string    `json:"channelId"`
	Role      string    `json:"role"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// MatchNotice 是 new_match 通知的数据体。
type MatchNotice struct {
	SessionID string      `json:"sessionId"`
	MatchID   string      `json:"matchId"`
	Partner   Participant `json:"partner"`
}

// MessageNotice 是 new_message 通知的数据体，会话结束后发给双方。
type MessageNotice struct {
	SessionID string  `json:"sessionId"`
	MatchID   string  `json:"matchId"`
	State     State   `json:"state"`
	Reason    Reason  `json:"reason,omitempty"`
	Overall   float64 `json:"overall"`
	Preview   string  `json:"preview,omitempty"`
}
