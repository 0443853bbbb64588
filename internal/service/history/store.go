// Package history persists session transcripts and summaries.
package history

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

var (
	ErrNotFound      = errors.New("history record not found")
	ErrSessionNeeded = errors.New("session id is required")
)

// Pagination defaults.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page selects a window of utterances ordered by sequence number.
type Page struct {
	Offset int
	Limit  int
}

// Normalize clamps the page into supported bounds.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Store is the append-only persistence collaborator. Append is idempotent on
// (sessionID, seq): re-delivering the same utterance never duplicates it.
type Store interface {
	Append(ctx context.Context, sessionID string, u chat.Utterance) error
	Finalize(ctx context.Context, summary chat.Summary) error
	ListSessions(ctx context.Context, matchID string) ([]chat.Summary, error)
	ListMessages(ctx context.Context, sessionID string, page Page) ([]chat.Utterance, error)
	FindSummary(ctx context.Context, sessionID string) (chat.Summary, error)
	Close() error
}
