package chat

import "time"

// State 是会话状态机中的状态。
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Terminal 表示会话已结束，不再接受新发言。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Reason 描述会话进入终态或暂停的原因。
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonTurnLimit         Reason = "turn-limit-reached"
	ReasonEndedByUser       Reason = "ended-by-user"
	ReasonAgentUnresponsive Reason = "agent-unresponsive"
	ReasonWallClock         Reason = "wall-clock-exceeded"
	ReasonQuotaExceeded     Reason = "quota-exceeded"
	ReasonPausedByUser      Reason = "paused-by-user"
	ReasonInternalError     Reason = "internal-error"
)

// Participant 是会话中的一方：一个代表真实用户的 AI 代理。
type Participant struct {
	Slot        Sender `json:"slot"`
	UserID      string `json:"userId"`
	PersonaID   string `json:"personaId"`
	DisplayName string `json:"displayName"`
}

// Snapshot 是会话在某一时刻的只读视图。
type Snapshot struct {
	ID              string                `json:"id"`
	MatchID         string                `json:"matchId,omitempty"`
	Participants    [2]Participant        `json:"participants"`
	State           State                 `json:"state"`
	Reason          Reason                `json:"reason,omitempty"`
	TurnCount       int                   `json:"turnCount"`
	MessageCount    int                   `json:"messageCount"`
	TurnLimit       int                   `json:"turnLimit"`
	ResponseTimeout int64                 `json:"responseTimeoutMs"`
	CreatedAt       time.Time             `json:"createdAt"`
	StartedAt       *time.Time            `json:"startedAt,omitempty"`
	EndedAt         *time.Time            `json:"endedAt,omitempty"`
	Compatibility   *CompatibilityReading `json:"compatibility,omitempty"`
	Transcript      []Utterance           `json:"transcript,omitempty"`
	Viewers         []Viewer              `json:"viewers,omitempty"`
	ReadOnly        bool                  `json:"readOnly,omitempty"`
}

// Summary 是会话结束时写入持久化存储的记录。
type Summary struct {
	SessionID     string                `json:"sessionId"`
	MatchID       string                `json:"matchId"`
	Participants  [2]Participant        `json:"participants"`
	State         State                 `json:"state"`
	Reason        Reason                `json:"reason"`
	TurnCount     int                   `json:"turnCount"`
	MessageCount  int                   `json:"messageCount"`
	TurnLimit     int                   `json:"turnLimit"`
	CreatedAt     time.Time             `json:"createdAt"`
	StartedAt     *time.Time            `json:"startedAt,omitempty"`
	EndedAt       time.Time             `json:"endedAt"`
	Final         *CompatibilityReading `json:"final,omitempty"`
	HighlightSeqs []int                 `json:"highlights,omitempty"`
	Feedback      []Feedback            `json:"feedback,omitempty"`
}
