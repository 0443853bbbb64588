package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
)

func testPersonas(t *testing.T) (persona.Persona, persona.Persona) {
	t.Helper()
	seed := persona.Seed()
	return seed[0], seed[1]
}

func TestNextUtteranceSuccess(t *testing.T) {
	maya, leo := testPersonas(t)
	provider := ProviderFunc(func(_ context.Context, req Request) (string, error) {
		if req.Slot != chat.SenderParticipantA {
			t.Fatalf("unexpected slot %s", req.Slot)
		}
		return "  Hi Leo! What do you like to cook?  ", nil
	})
	p := NewProxy("s1", chat.SenderParticipantA, maya, leo, provider, WithTimeout(time.Second))

	u, err := p.NextUtterance(context.Background(), nil)
	if err != nil {
		t.Fatalf("NextUtterance returned error: %v", err)
	}
	if u.Content != "Hi Leo! What do you like to cook?" {
		t.Fatalf("content not trimmed: %q", u.Content)
	}
	if u.Sender != chat.SenderParticipantA || u.SessionID != "s1" {
		t.Fatalf("unexpected utterance identity: %+v", u)
	}
	if len(u.Emotions) == 0 {
		t.Fatal("expected emotion tags")
	}
}

func TestNextUtteranceTimesOut(t *testing.T) {
	maya, leo := testPersonas(t)
	release := make(chan struct{})
	defer close(release)
	provider := ProviderFunc(func(context.Context, Request) (string, error) {
		<-release // ignores ctx on purpose
		return "too late", nil
	})
	p := NewProxy("s1", chat.SenderParticipantB, leo, maya, provider, WithTimeout(30*time.Millisecond))

	start := time.Now()
	_, err := p.NextUtterance(context.Background(), nil)
	if !errors.Is(err, ErrAgentTimeout) {
		t.Fatalf("expected ErrAgentTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("proxy blocked past its timeout: %v", elapsed)
	}
}

func TestNextUtteranceParentCancel(t *testing.T) {
	maya, leo := testPersonas(t)
	provider := ProviderFunc(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	p := NewProxy("s1", chat.SenderParticipantA, maya, leo, provider, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.NextUtterance(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNextUtteranceClassifiesErrors(t *testing.T) {
	maya, leo := testPersonas(t)
	cases := []struct {
		name      string
		err       error
		wantQuota bool
	}{
		{name: "http 429", err: errors.New("ark: status 429 TooManyRequests"), wantQuota: true},
		{name: "insufficient quota", err: errors.New("insufficient_quota: please top up"), wantQuota: true},
		{name: "typed quota", err: &QuotaError{Details: "daily budget"}, wantQuota: true},
		{name: "generic", err: errors.New("connection reset by peer")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := ProviderFunc(func(context.Context, Request) (string, error) { return "", tc.err })
			p := NewProxy("s1", chat.SenderParticipantB, leo, maya, provider)

			_, err := p.NextUtterance(context.Background(), nil)
			if got := IsQuota(err); got != tc.wantQuota {
				t.Fatalf("IsQuota = %v, want %v (err=%v)", got, tc.wantQuota, err)
			}
			if tc.wantQuota {
				var q *QuotaError
				errors.As(err, &q)
				if q.Participant != chat.SenderParticipantB {
					t.Fatalf("quota error attributed to %s", q.Participant)
				}
				return
			}
			var pe *ProviderError
			if !errors.As(err, &pe) || !errors.Is(err, tc.err) {
				t.Fatalf("expected wrapped ProviderError, got %v", err)
			}
		})
	}
}

func TestNextUtteranceRejectsEmptyReply(t *testing.T) {
	maya, leo := testPersonas(t)
	provider := ProviderFunc(func(context.Context, Request) (string, error) { return "   ", nil })
	p := NewProxy("s1", chat.SenderParticipantA, maya, leo, provider)

	_, err := p.NextUtterance(context.Background(), nil)
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestGuidanceConsumedOnce(t *testing.T) {
	maya, leo := testPersonas(t)
	var (
		mu   sync.Mutex
		seen [][]string
		fail = true
	)
	provider := ProviderFunc(func(_ context.Context, req Request) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, req.Guidance)
		if fail {
			fail = false
			return "", errors.New("boom")
		}
		return "sure thing", nil
	})
	p := NewProxy("s1", chat.SenderParticipantA, maya, leo, provider)
	p.AddGuidance("ask about weekend plans")
	p.AddGuidance("   ")

	if _, err := p.NextUtterance(context.Background(), nil); err == nil {
		t.Fatal("expected first call to fail")
	}
	if p.PendingGuidance() != 1 {
		t.Fatalf("guidance should survive a failed turn, pending=%d", p.PendingGuidance())
	}
	if _, err := p.NextUtterance(context.Background(), nil); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if _, err := p.NextUtterance(context.Background(), nil); err != nil {
		t.Fatalf("third call failed: %v", err)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 provider calls, got %d", len(seen))
	}
	if len(seen[1]) != 1 || seen[1][0] != "ask about weekend plans" {
		t.Fatalf("guidance missing from retried call: %v", seen[1])
	}
	if len(seen[2]) != 0 {
		t.Fatalf("guidance should be consumed once, got %v", seen[2])
	}
}

func TestSplitTranscriptMapsRoles(t *testing.T) {
	maya, leo := testPersonas(t)
	p := &EinoProvider{prompts: NewPromptBuilder(), historyLimit: defaultHistoryLimit}
	transcript := []chat.Utterance{
		{Seq: 0, Sender: chat.SenderParticipantA, Content: "Hi Leo!"},
		{Seq: 1, Sender: chat.SenderSystem, Content: "participant-B skipped"},
		{Seq: 2, Sender: chat.SenderParticipantB, Content: "Hey Maya, how was the hike?"},
	}

	history, query := p.splitTranscript(Request{Slot: chat.SenderParticipantA, Self: maya, Partner: leo, Transcript: transcript})
	if query != "Hey Maya, how was the hike?" {
		t.Fatalf("query = %q", query)
	}
	if len(history) != 1 || history[0].Role != "assistant" || history[0].Content != "Hi Leo!" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestSplitTranscriptOpening(t *testing.T) {
	maya, leo := testPersonas(t)
	p := &EinoProvider{prompts: NewPromptBuilder(), historyLimit: defaultHistoryLimit}

	history, query := p.splitTranscript(Request{Slot: chat.SenderParticipantA, Self: maya, Partner: leo})
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
	if !strings.Contains(query, maya.OpeningLine) {
		t.Fatalf("opening query should reference the opening line: %q", query)
	}
}

func TestPromptIncludesGuidance(t *testing.T) {
	maya, leo := testPersonas(t)
	prompt := NewPromptBuilder().BuildSystemPrompt(maya, leo, []string{"mention pottery"})
	for _, want := range []string{maya.Name, leo.Name, "mention pottery", "hiking"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestOfflineProviderOpensWithOpeningLine(t *testing.T) {
	maya, leo := testPersonas(t)
	reply, err := OfflineProvider{}.GenerateReply(context.Background(), Request{Slot: chat.SenderParticipantA, Self: maya, Partner: leo})
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply != maya.OpeningLine {
		t.Fatalf("reply = %q, want opening line", reply)
	}

	transcript := []chat.Utterance{
		{Seq: 0, Sender: chat.SenderParticipantA, Content: reply},
		{Seq: 1, Sender: chat.SenderParticipantB, Content: leo.OpeningLine},
	}
	next, err := OfflineProvider{}.GenerateReply(context.Background(), Request{Slot: chat.SenderParticipantA, Self: maya, Partner: leo, Transcript: transcript})
	if err != nil || next == "" || next == reply {
		t.Fatalf("expected a fresh follow-up, got %q (%v)", next, err)
	}
}
