package history

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

// MemoryStore keeps history in process memory, suitable for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string]map[int]chat.Utterance
	summaries map[string]chat.Summary
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]map[int]chat.Utterance),
		summaries: make(map[string]chat.Summary),
	}
}

// Append stores the utterance unless (sessionID, seq) already exists.
func (s *MemoryStore) Append(_ context.Context, sessionID string, u chat.Utterance) error {
	if sessionID == "" {
		return ErrSessionNeeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bySeq, ok := s.messages[sessionID]
	if !ok {
		bySeq = make(map[int]chat.Utterance)
		s.messages[sessionID] = bySeq
	}
	if _, exists := bySeq[u.Seq]; exists {
		return nil
	}
	u = u.Clone()
	u.SessionID = sessionID
	bySeq[u.Seq] = u
	return nil
}

// Finalize records the summary once; later calls for the same session are ignored.
func (s *MemoryStore) Finalize(_ context.Context, summary chat.Summary) error {
	if summary.SessionID == "" {
		return ErrSessionNeeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.summaries[summary.SessionID]; exists {
		return nil
	}
	s.summaries[summary.SessionID] = cloneSummary(summary)
	return nil
}

// ListSessions returns finalized sessions of a match, oldest first.
func (s *MemoryStore) ListSessions(_ context.Context, matchID string) ([]chat.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Summary, 0)
	for _, summary := range s.summaries {
		if summary.MatchID == matchID {
			out = append(out, cloneSummary(summary))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListMessages returns a page of utterances ordered by sequence number.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, page Page) ([]chat.Utterance, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	bySeq := s.messages[sessionID]
	seqs := make([]int, 0, len(bySeq))
	for seq := range bySeq {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	if page.Offset >= len(seqs) {
		return []chat.Utterance{}, nil
	}
	end := page.Offset + page.Limit
	if end > len(seqs) {
		end = len(seqs)
	}

	out := make([]chat.Utterance, 0, end-page.Offset)
	for _, seq := range seqs[page.Offset:end] {
		out = append(out, bySeq[seq].Clone())
	}
	return out, nil
}

// FindSummary returns the finalized summary of a session.
func (s *MemoryStore) FindSummary(_ context.Context, sessionID string) (chat.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[sessionID]
	if !ok {
		return chat.Summary{}, ErrNotFound
	}
	return cloneSummary(summary), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func cloneSummary(in chat.Summary) chat.Summary {
	out := in
	if in.Final != nil {
		r := in.Final.Clone()
		out.Final = &r
	}
	if in.HighlightSeqs != nil {
		out.HighlightSeqs = append([]int(nil), in.HighlightSeqs...)
	}
	if in.Feedback != nil {
		out.Feedback = append([]chat.Feedback(nil), in.Feedback...)
	}
	if in.StartedAt != nil {
		t := *in.StartedAt
		out.StartedAt = &t
	}
	return out
}
