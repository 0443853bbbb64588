// Package agent wraps each participant's reply-generation capability behind a
// uniform, time-bounded proxy.
package agent

import (
	"context"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

// Request carries everything a provider needs to produce one reply.
type Request struct {
	SessionID  string
	Slot       chat.Sender
	Self       persona.Persona
	Partner    persona.Persona
	Transcript []chat.Utterance
	Guidance   []string
}

// Provider generates the next reply for a participant.
type Provider interface {
	GenerateReply(ctx context.Context, req Request) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (string, error)

func (f ProviderFunc) GenerateReply(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
