package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

func utterance(seq int, content string) chat.Utterance {
	return chat.Utterance{Seq: seq, Sender: chat.ParticipantSlots[seq%2], Content: content, CreatedAt: time.Now().UTC()}
}

func TestMemoryStoreAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Append(ctx, "s1", utterance(0, "hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s1", utterance(0, "hello again")); err != nil {
		t.Fatalf("re-Append: %v", err)
	}

	got, err := store.ListMessages(ctx, "s1", Page{})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stored utterance, got %d", len(got))
	}
	if got[0].Content != "hello" {
		t.Fatalf("first write should win, got %q", got[0].Content)
	}
	if got[0].SessionID != "s1" {
		t.Fatalf("session id not stamped: %q", got[0].SessionID)
	}
}

func TestMemoryStoreRequiresSession(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Append(context.Background(), "", utterance(0, "x")); !errors.Is(err, ErrSessionNeeded) {
		t.Fatalf("expected ErrSessionNeeded, got %v", err)
	}
	if err := store.Finalize(context.Background(), chat.Summary{}); !errors.Is(err, ErrSessionNeeded) {
		t.Fatalf("expected ErrSessionNeeded, got %v", err)
	}
}

func TestMemoryStorePagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, seq := range []int{3, 0, 4, 1, 2} {
		if err := store.Append(ctx, "s1", utterance(seq, "m")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	page, err := store.ListMessages(ctx, "s1", Page{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 1 || page[1].Seq != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}

	tail, _ := store.ListMessages(ctx, "s1", Page{Offset: 4, Limit: 10})
	if len(tail) != 1 || tail[0].Seq != 4 {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	empty, _ := store.ListMessages(ctx, "s1", Page{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestPageNormalize(t *testing.T) {
	cases := []struct {
		in   Page
		want Page
	}{
		{Page{}, Page{Offset: 0, Limit: DefaultPageLimit}},
		{Page{Offset: -3, Limit: 5}, Page{Offset: 0, Limit: 5}},
		{Page{Offset: 2, Limit: 10000}, Page{Offset: 2, Limit: MaxPageLimit}},
	}
	for _, tc := range cases {
		if got := tc.in.Normalize(); got != tc.want {
			t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreSummaries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := chat.Summary{SessionID: "s1", MatchID: "m1", State: chat.StateCompleted, CreatedAt: base, HighlightSeqs: []int{2}}
	second := chat.Summary{SessionID: "s2", MatchID: "m1", State: chat.StateAborted, CreatedAt: base.Add(time.Minute)}
	other := chat.Summary{SessionID: "s3", MatchID: "m2", State: chat.StateCompleted, CreatedAt: base}

	for _, s := range []chat.Summary{second, first, other} {
		if err := store.Finalize(ctx, s); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}
	changed := first
	changed.State = chat.StateAborted
	if err := store.Finalize(ctx, changed); err != nil {
		t.Fatalf("re-Finalize: %v", err)
	}

	list, err := store.ListSessions(ctx, "m1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].SessionID != "s1" || list[1].SessionID != "s2" {
		t.Fatalf("unexpected sessions: %+v", list)
	}
	if list[0].State != chat.StateCompleted {
		t.Fatalf("finalize must not overwrite, got %s", list[0].State)
	}

	list[0].HighlightSeqs[0] = 99
	again, _ := store.FindSummary(ctx, "s1")
	if again.HighlightSeqs[0] != 2 {
		t.Fatal("returned summaries must be copies")
	}

	if _, err := store.FindSummary(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
