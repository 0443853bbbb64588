package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
)

func TestCreateRejectsUnknownPersona(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	_, err := h.reg.Create(context.Background(), session.CreateRequest{
		Participants: [2]session.ParticipantSpec{{PersonaID: "maya"}, {PersonaID: "nobody"}},
	})
	if !errors.Is(err, session.ErrUnknownPersona) {
		t.Fatalf("expected ErrUnknownPersona, got %v", err)
	}
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "dup")
	_, err := h.reg.Create(context.Background(), session.CreateRequest{
		ID:           "dup",
		Participants: [2]session.ParticipantSpec{{PersonaID: "maya"}, {PersonaID: "leo"}},
	})
	if !errors.Is(err, session.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestCreateOrGetReturnsLiveSession(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	req := session.CreateRequest{
		MatchID:      "match-1",
		Participants: [2]session.ParticipantSpec{{PersonaID: "maya"}, {PersonaID: "leo"}},
	}
	first, err := h.reg.CreateOrGet(context.Background(), "shared", req)
	if err != nil {
		t.Fatalf("CreateOrGet err: %v", err)
	}
	second, err := h.reg.CreateOrGet(context.Background(), "shared", req)
	if err != nil {
		t.Fatalf("CreateOrGet err: %v", err)
	}
	if first.ID != second.ID || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatal("expected the same session back")
	}
	if h.reg.Len() != 1 {
		t.Fatalf("expected one live session, got %d", h.reg.Len())
	}
}

func TestCreateNotifiesBothUsers(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-notify")

	notes := h.notifier.ofType(chat.EventNewMatch)
	if len(notes) != 2 {
		t.Fatalf("expected two new_match notices, got %d", len(notes))
	}
	partners := map[string]string{}
	for _, n := range notes {
		partners[n.userID] = n.event.Data.(chat.MatchNotice).Partner.PersonaID
	}
	if partners["user-maya"] != "leo" || partners["user-leo"] != "maya" {
		t.Fatalf("unexpected partners: %v", partners)
	}
}

func TestAttachAssignsRoles(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-roles")

	cases := map[string]session.Role{
		"user-maya": session.RoleOwnerA,
		"user-leo":  session.RoleOwnerB,
		"stranger":  session.RoleViewer,
	}
	for userID, want := range cases {
		ch, res := h.attach(t, "s-roles", "ch-"+userID, userID)
		if res.Role != want {
			t.Fatalf("%s: got role %s want %s", userID, res.Role, want)
		}
		welcome := ch.ofType(chat.EventConnectionEstablished)
		if len(welcome) != 1 {
			t.Fatalf("%s: expected one welcome, got %d", userID, len(welcome))
		}
		if got := welcome[0].Data.(chat.Welcome).Role; got != want.String() {
			t.Fatalf("%s: welcome role %s", userID, got)
		}
	}
}

func TestViewerCannotDriveSession(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-viewer")
	viewer, _ := h.attach(t, "s-viewer", "v1", "stranger")

	for _, typ := range []chat.CommandType{chat.CommandStart, chat.CommandEnd, chat.CommandPause} {
		if err := h.send(viewer, typ, ""); !errors.Is(err, session.ErrForbidden) {
			t.Fatalf("%s: expected ErrForbidden, got %v", typ, err)
		}
	}
	if n := len(viewer.ofType(chat.EventError)); n != 3 {
		t.Fatalf("expected three error events, got %d", n)
	}
}

func TestUnknownCommandReportsError(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-unknown")
	ch, _ := h.attach(t, "s-unknown", "c1", "user-maya")

	if err := h.send(ch, chat.CommandType("dance"), ""); !errors.Is(err, session.ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestPresenceCountsUsersNotChannels(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-presence")
	watcher, _ := h.attach(t, "s-presence", "w", "user-maya")
	tab1, _ := h.attach(t, "s-presence", "tab1", "fan")
	tab2, _ := h.attach(t, "s-presence", "tab2", "fan")

	if n := len(watcher.ofType(chat.EventUserJoined)); n != 1 {
		t.Fatalf("expected one user_joined for fan, got %d", n)
	}

	h.reg.Detach(context.Background(), tab1)
	snap, err := h.reg.Snapshot(context.Background(), "s-presence")
	if err != nil {
		t.Fatalf("Snapshot err: %v", err)
	}
	if len(snap.Viewers) != 2 {
		t.Fatalf("expected two viewers, got %d", len(snap.Viewers))
	}
	if n := len(watcher.ofType(chat.EventUserLeft)); n != 0 {
		t.Fatalf("user_left sent while fan still has a channel")
	}

	h.reg.Detach(context.Background(), tab2)
	waitUntil(t, "user_left", func() bool { return len(watcher.ofType(chat.EventUserLeft)) == 1 })
}

func TestGuidanceRequiresOwnership(t *testing.T) {
	var (
		mu       sync.Mutex
		guidance []string
	)
	providers := func(p chat.Participant) agent.Provider {
		return agent.ProviderFunc(func(_ context.Context, req agent.Request) (string, error) {
			if p.Slot == chat.SenderParticipantA {
				mu.Lock()
				guidance = append(guidance, req.Guidance...)
				mu.Unlock()
			}
			return "fine", nil
		})
	}
	h := newHarness(t, testConfig(2), providers)
	h.create(t, "s-guide")
	ownerA, _ := h.attach(t, "s-guide", "a", "user-maya")

	err := h.send(ownerA, chat.CommandGuidance, `{"targetParticipant":"participant-B","instruction":"be shy"}`)
	if !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	err = h.send(ownerA, chat.CommandGuidance, `{"targetParticipant":"participant-A","instruction":"   "}`)
	if !errors.Is(err, session.ErrInvalidGuidance) {
		t.Fatalf("expected ErrInvalidGuidance, got %v", err)
	}
	if err := h.send(ownerA, chat.CommandGuidance, `{"targetParticipant":"participant-A","instruction":"ask about hiking"}`); err != nil {
		t.Fatalf("guidance err: %v", err)
	}
	if err := h.send(ownerA, chat.CommandStart, ""); err != nil {
		t.Fatalf("start err: %v", err)
	}
	ownerA.waitClosed(t)

	mu.Lock()
	defer mu.Unlock()
	if len(guidance) != 1 || guidance[0] != "ask about hiking" {
		t.Fatalf("unexpected guidance seen by provider: %v", guidance)
	}
}

func TestReactionNeedsExistingTarget(t *testing.T) {
	h := newHarness(t, testConfig(2), nil)
	h.create(t, "s-react")
	ownerA, _ := h.attach(t, "s-react", "a", "user-maya")

	if err := h.send(ownerA, chat.CommandReaction, `{"messageId":0,"kind":"heart"}`); !errors.Is(err, session.ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction before any utterance, got %v", err)
	}
	if err := h.send(ownerA, chat.CommandPause, ""); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected pause from idle to fail, got %v", err)
	}
}

func TestReactionBroadcast(t *testing.T) {
	release := make(chan struct{})
	providers := func(p chat.Participant) agent.Provider {
		if p.Slot == chat.SenderParticipantA {
			return scripted(p)
		}
		return agent.ProviderFunc(func(ctx context.Context, _ agent.Request) (string, error) {
			select {
			case <-release:
				return "ok", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
	}
	cfg := testConfig(2)
	cfg.ResponseTimeout = waitTimeout
	h := newHarness(t, cfg, providers)
	h.create(t, "s-react2")
	ownerA, _ := h.attach(t, "s-react2", "a", "user-maya")
	fan, _ := h.attach(t, "s-react2", "f", "fan")
	defer close(release)

	if err := h.send(ownerA, chat.CommandStart, ""); err != nil {
		t.Fatalf("start err: %v", err)
	}
	waitUntil(t, "first utterance", func() bool { return len(fan.utterances()) == 1 })

	if err := h.send(fan, chat.CommandReaction, `{"messageId":0,"kind":"fire"}`); err != nil {
		t.Fatalf("reaction err: %v", err)
	}
	if err := h.send(fan, chat.CommandReaction, `{"messageId":0,"kind":"meh"}`); !errors.Is(err, session.ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction, got %v", err)
	}
	waitUntil(t, "reaction broadcast", func() bool { return len(ownerA.ofType(chat.EventReaction)) == 1 })
	r := ownerA.ofType(chat.EventReaction)[0].Data.(chat.Reaction)
	if r.TargetSeq != 0 || r.Kind != chat.ReactionFire || r.ViewerID != "fan" {
		t.Fatalf("unexpected reaction: %+v", r)
	}
}

func TestFeedbackValidation(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-feedback")
	ch, _ := h.attach(t, "s-feedback", "c1", "user-leo")

	if err := h.send(ch, chat.CommandFeedback, `{"rating":9}`); !errors.Is(err, session.ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback, got %v", err)
	}
	if err := h.send(ch, chat.CommandFeedback, `{"rating":4,"comment":"nice pair"}`); err != nil {
		t.Fatalf("feedback err: %v", err)
	}
	if n := len(ch.ofType(chat.EventFeedbackReceived)); n != 1 {
		t.Fatalf("expected one feedback event, got %d", n)
	}
}

func TestSlowChannelIsDropped(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-slow")
	slow, _ := h.attach(t, "s-slow", "slow", "fan")
	other, _ := h.attach(t, "s-slow", "other", "user-maya")

	slow.setFull(true)
	if err := h.reg.Broadcast(context.Background(), "s-slow", chat.NewEvent(chat.EventPong, "", nil)); err != nil {
		t.Fatalf("Broadcast err: %v", err)
	}
	if code := slow.waitClosed(t); code != session.CloseTryAgainLater {
		t.Fatalf("unexpected close code: %d", code)
	}
	waitUntil(t, "user_left for slow viewer", func() bool { return len(other.ofType(chat.EventUserLeft)) == 1 })
}

func TestReplayAfterEviction(t *testing.T) {
	h := newHarness(t, testConfig(2), nil)
	h.create(t, "s-replay")
	ch, _ := h.attach(t, "s-replay", "c1", "user-maya")
	if err := h.send(ch, chat.CommandStart, ""); err != nil {
		t.Fatalf("start err: %v", err)
	}
	ch.waitClosed(t)
	waitUntil(t, "eviction", func() bool {
		_, ok := h.reg.Get("s-replay")
		return !ok
	})

	late, res := h.attach(t, "s-replay", "late", "user-leo")
	if !res.Replay || res.Role != session.RoleOwnerB {
		t.Fatalf("unexpected attach result: %+v", res)
	}
	if code := late.waitClosed(t); code != session.CloseNormal {
		t.Fatalf("unexpected close code: %d", code)
	}
	welcome := late.ofType(chat.EventConnectionEstablished)
	if len(welcome) != 1 {
		t.Fatalf("expected one welcome, got %d", len(welcome))
	}
	snap := welcome[0].Data.(chat.Welcome).Snapshot
	if !snap.ReadOnly || snap.State != chat.StateCompleted || len(snap.Transcript) != 2 {
		t.Fatalf("unexpected replay snapshot: %+v", snap)
	}

	listing, err := h.reg.ListSessions(context.Background(), "match-1")
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(listing.Live) != 0 || len(listing.Finished) != 1 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if n := len(h.notifier.ofType(chat.EventNewMessage)); n != 2 {
		t.Fatalf("expected new_message for both users, got %d", n)
	}
}

func TestAttachUnknownSession(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	_, err := h.reg.Attach(context.Background(), newChannel("c"), "missing", "user-maya", "")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestShutdownAbortsLiveSessions(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	h.create(t, "s-shutdown")
	ch, _ := h.attach(t, "s-shutdown", "c1", "user-maya")

	if err := h.reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown err: %v", err)
	}
	if code := ch.waitClosed(t); code != session.CloseGoingAway {
		t.Fatalf("unexpected close code: %d", code)
	}
	summary := h.summary(t, "s-shutdown")
	if summary.State != chat.StateAborted || summary.Reason != chat.ReasonInternalError {
		t.Fatalf("unexpected terminal state: %s/%s", summary.State, summary.Reason)
	}
}

func TestCreateFloorsRequestedTurnLimit(t *testing.T) {
	h := newHarness(t, testConfig(4), nil)
	cases := map[string]struct {
		requested, want int
	}{
		"s-short":   {requested: 1, want: session.MinTurnLimit},
		"s-long":    {requested: 30, want: 30},
		"s-inherit": {requested: 0, want: 4},
	}
	for id, tc := range cases {
		snap, err := h.reg.Create(context.Background(), session.CreateRequest{
			ID:           id,
			TurnLimit:    tc.requested,
			Participants: [2]session.ParticipantSpec{{PersonaID: "maya"}, {PersonaID: "leo"}},
		})
		if err != nil {
			t.Fatalf("Create(%s) err: %v", id, err)
		}
		if snap.TurnLimit != tc.want {
			t.Fatalf("%s: requested %d, got limit %d, want %d", id, tc.requested, snap.TurnLimit, tc.want)
		}
	}
}
