package chat

import "fmt"

// Sender 标识一条发言的来源。取值是封闭集合，switch 时应覆盖全部分支。
type Sender uint8

const (
	SenderParticipantA Sender = iota
	SenderParticipantB
	SenderSystem
)

// ParticipantSlots 按轮次顺序列出两个参与者。
var ParticipantSlots = [2]Sender{SenderParticipantA, SenderParticipantB}

func (s Sender) String() string {
	switch s {
	case SenderParticipantA:
		return "participant-A"
	case SenderParticipantB:
		return "participant-B"
	case SenderSystem:
		return "system"
	default:
		return fmt.Sprintf("sender(%d)", uint8(s))
	}
}

// IsParticipant 判断是否为两位参与者之一。
func (s Sender) IsParticipant() bool {
	return s == SenderParticipantA || s == SenderParticipantB
}

// Index 返回参与者在会话中的下标（A=0, B=1）。
func (s Sender) Index() int {
	switch s {
	case SenderParticipantA:
		return 0
	case SenderParticipantB:
		return 1
	default:
		return -1
	}
}

// Other 返回对方参与者；system 没有对方。
func (s Sender) Other() Sender {
	switch s {
	case SenderParticipantA:
		return SenderParticipantB
	case SenderParticipantB:
		return SenderParticipantA
	default:
		return SenderSystem
	}
}

// ParseSender 解析线上协议中的发送方字符串。
func ParseSender(raw string) (Sender, error) {
	switch raw {
	case "participant-A", "A", "a":
		return SenderParticipantA, nil
	case "participant-B", "B", "b":
		return SenderParticipantB, nil
	case "system":
		return SenderSystem, nil
	default:
		return 0, fmt.Errorf("unknown sender %q", raw)
	}
}

func (s Sender) MarshalText() ([]byte, error) {
	switch s {
	case SenderParticipantA, SenderParticipantB, SenderSystem:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid sender %d", uint8(s))
	}
}

func (s *Sender) UnmarshalText(text []byte) error {
	parsed, err := ParseSender(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
