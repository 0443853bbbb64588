// Package session runs live two-agent conversations. Each session is an actor
// goroutine that owns its transcript, state machine, scorer and attached
// channels, so events reach every channel in the order they were produced.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/internal/service/scoring"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

// Notifier delivers out-of-band events to a user's notification stream.
type Notifier interface {
	Publish(userID string, ev chat.Event)
}

type member struct {
	ch     Channel
	role   Role
	viewer chat.Viewer
}

// Session is one live conversation. All mutable fields below the channel
// block are owned by the run goroutine.
type Session struct {
	id           string
	matchID      string
	cfg          Config
	participants [2]chat.Participant
	personas     [2]persona.Persona
	proxies      [2]*agent.Proxy
	scorer       *scoring.Scorer
	notifier     Notifier
	metrics      *metrics.Manager
	sem          *semaphore.Weighted
	now          func() time.Time
	log          zerolog.Logger
	onEvict      func(*Session)

	ctx     context.Context
	cancel  context.CancelFunc
	ops     chan func()
	results chan turnResult
	done    chan struct{}
	writes  *persister

	state      chat.State
	reason     chat.Reason
	turnCount  int
	transcript []chat.Utterance
	createdAt  time.Time
	startedAt  *time.Time
	endedAt    *time.Time
	failures   [2]int
	retries    int
	token      uint64
	inflight   bool
	wall       *time.Timer
	members    []*member
	presence   map[string]int
	viewers    map[string]chat.Viewer
	reactions  []chat.Reaction
	feedback   []chat.Feedback
	highlights []int
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// MatchID returns the match this session belongs to.
func (s *Session) MatchID() string { return s.matchID }

// Participants returns the two participants, fixed for the session's lifetime.
func (s *Session) Participants() [2]chat.Participant { return s.participants }

// Done is closed once the session has been evicted.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()
	go s.writes.run()

	for {
		var wallC <-chan time.Time
		if s.wall != nil {
			wallC = s.wall.C
		}

		select {
		case op := <-s.ops:
			op()
		case res := <-s.results:
			s.handleTurnResult(res)
		case <-wallC:
			s.wall = nil
			s.log.Warn().Dur("limit", s.cfg.WallClockLimit).Msg("wall clock exceeded")
			s.abort(chat.ReasonWallClock)
		case <-s.ctx.Done():
			s.shutdown()
			return
		}

		if s.state.Terminal() && len(s.members) == 0 {
			s.evict()
			return
		}
	}
}

// do runs fn on the actor goroutine.
func (s *Session) do(ctx context.Context, fn func()) error {
	select {
	case s.ops <- fn:
		return nil
	case <-s.done:
		return ErrSessionGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the actor goroutine and waits for its error.
func (s *Session) call(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if err := s.do(ctx, func() { errc <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot(ctx context.Context) (chat.Snapshot, error) {
	var snap chat.Snapshot
	err := s.call(ctx, func() error {
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// Attach adds ch under the given identity and sends it the welcome snapshot.
func (s *Session) Attach(ctx context.Context, ch Channel, userID, displayName string) (Role, error) {
	var role Role
	err := s.call(ctx, func() error {
		role = s.attach(ch, userID, displayName)
		return nil
	})
	return role, err
}

// Detach removes ch. Detaching every channel does not stop a running session.
func (s *Session) Detach(ctx context.Context, channelID string) error {
	return s.call(ctx, func() error {
		m := s.member(channelID)
		if m == nil {
			return ErrNotAttached
		}
		s.removeMember(m, true)
		return nil
	})
}

// Handle executes a client command received on channelID. Command errors are
// also reported to that channel as an error event.
func (s *Session) Handle(ctx context.Context, channelID string, cmd chat.Command) error {
	return s.call(ctx, func() error {
		m := s.member(channelID)
		if m == nil {
			return ErrNotAttached
		}
		err := s.handleCommand(m, cmd)
		if err != nil {
			s.sendTo(m, chat.NewEvent(chat.EventError, s.id, chat.ErrorNotice{Message: err.Error()}))
		}
		return err
	})
}

// Broadcast fans ev out to every attached channel in actor order.
func (s *Session) Broadcast(ctx context.Context, ev chat.Event) error {
	return s.do(ctx, func() {
		if ev.SessionID == "" {
			ev.SessionID = s.id
		}
		s.broadcast(ev)
	})
}

func (s *Session) attach(ch Channel, userID, displayName string) Role {
	role := roleFor(userID, s.participants)
	viewerID := userID
	if viewerID == "" {
		viewerID = "anon-" + ch.ID()
	}
	if displayName == "" {
		displayName = viewerID
	}

	m := &member{ch: ch, role: role, viewer: chat.Viewer{ID: viewerID, DisplayName: displayName, AttachedAt: s.now().UTC()}}
	if s.state.Terminal() {
		snap := s.snapshot()
		snap.ReadOnly = true
		_ = ch.Send(chat.NewEvent(chat.EventConnectionEstablished, s.id, chat.Welcome{ChannelID: ch.ID(), Role: role.String(), Snapshot: &snap}))
		_ = ch.Send(s.statusEvent())
		_ = ch.Close(CloseNormal, string(s.reason))
		return role
	}

	s.members = append(s.members, m)
	first := s.presence[viewerID] == 0
	s.presence[viewerID]++
	if first {
		s.viewers[viewerID] = m.viewer
	} else {
		m.viewer = s.viewers[viewerID]
	}

	snap := s.snapshot()
	s.sendTo(m, chat.NewEvent(chat.EventConnectionEstablished, s.id, chat.Welcome{ChannelID: ch.ID(), Role: role.String(), Snapshot: &snap}))
	s.log.Info().Str("channel", ch.ID()).Str("user", viewerID).Str("role", role.String()).Msg("channel attached")

	if first {
		s.broadcast(chat.NewEvent(chat.EventUserJoined, s.id, chat.PresenceChange{Viewer: m.viewer, ViewerCount: len(s.viewers)}))
	}
	return role
}

func (s *Session) member(channelID string) *member {
	for _, m := range s.members {
		if m.ch.ID() == channelID {
			return m
		}
	}
	return nil
}

func (s *Session) removeMember(target *member, announce bool) {
	idx := -1
	for i, m := range s.members {
		if m == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	s.members = append(s.members[:idx], s.members[idx+1:]...)
	s.log.Info().Str("channel", target.ch.ID()).Msg("channel detached")

	id := target.viewer.ID
	s.presence[id]--
	if s.presence[id] > 0 {
		return
	}
	delete(s.presence, id)
	viewer := s.viewers[id]
	delete(s.viewers, id)
	if announce {
		s.broadcast(chat.NewEvent(chat.EventUserLeft, s.id, chat.PresenceChange{Viewer: viewer, ViewerCount: len(s.viewers)}))
	}
}

// broadcast sends ev to every member. Members whose queue is full are
// detached as slow consumers.
func (s *Session) broadcast(ev chat.Event) {
	var slow []*member
	for _, m := range s.members {
		if err := m.ch.Send(ev); err != nil {
			slow = append(slow, m)
		}
	}
	for _, m := range slow {
		s.dropSlow(m)
	}
}

func (s *Session) sendTo(m *member, ev chat.Event) {
	if err := m.ch.Send(ev); err != nil {
		s.dropSlow(m)
	}
}

func (s *Session) dropSlow(m *member) {
	s.log.Warn().Str("channel", m.ch.ID()).Msg("dropping slow channel")
	if s.metrics != nil {
		s.metrics.RecordDroppedEvent(metrics.ChannelSession)
	}
	_ = m.ch.Close(CloseTryAgainLater, "slow consumer")
	s.removeMember(m, true)
}

func (s *Session) statusEvent() chat.Event {
	return chat.NewEvent(chat.EventSessionStatusChange, s.id, chat.StatusChange{
		State:   s.state,
		Reason:  s.reason,
		Message: reasonMessage(s.reason),
	})
}

func (s *Session) snapshot() chat.Snapshot {
	latest := s.scorer.Latest()
	viewers := make([]chat.Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	sort.Slice(viewers, func(i, j int) bool {
		if viewers[i].AttachedAt.Equal(viewers[j].AttachedAt) {
			return viewers[i].ID < viewers[j].ID
		}
		return viewers[i].AttachedAt.Before(viewers[j].AttachedAt)
	})

	return chat.Snapshot{
		ID:              s.id,
		MatchID:         s.matchID,
		Participants:    s.participants,
		State:           s.state,
		Reason:          s.reason,
		TurnCount:       s.turnCount,
		MessageCount:    len(s.transcript),
		TurnLimit:       s.cfg.TurnLimit,
		ResponseTimeout: s.cfg.ResponseTimeout.Milliseconds(),
		CreatedAt:       s.createdAt,
		StartedAt:       copyTime(s.startedAt),
		EndedAt:         copyTime(s.endedAt),
		Compatibility:   &latest,
		Transcript:      chat.CloneTranscript(s.transcript),
		Viewers:         viewers,
	}
}

func (s *Session) summary() chat.Summary {
	latest := s.scorer.Latest()
	ended := s.now().UTC()
	if s.endedAt != nil {
		ended = *s.endedAt
	}
	return chat.Summary{
		SessionID:     s.id,
		MatchID:       s.matchID,
		Participants:  s.participants,
		State:         s.state,
		Reason:        s.reason,
		TurnCount:     s.turnCount,
		MessageCount:  len(s.transcript),
		TurnLimit:     s.cfg.TurnLimit,
		CreatedAt:     s.createdAt,
		StartedAt:     copyTime(s.startedAt),
		EndedAt:       ended,
		Final:         &latest,
		HighlightSeqs: append([]int(nil), s.highlights...),
		Feedback:      append([]chat.Feedback(nil), s.feedback...),
	}
}

func (s *Session) shutdown() {
	if !s.state.Terminal() {
		s.invalidateTurn()
		_ = s.finish(chat.StateAborted, chat.ReasonInternalError, CloseGoingAway)
	}
	for _, m := range s.members {
		_ = m.ch.Close(CloseGoingAway, "server shutting down")
	}
	s.members = nil
	s.evict()
}

// evict waits for queued writes so a replay after eviction sees the final
// summary, then leaves the registry.
func (s *Session) evict() {
	s.writes.drain()
	s.log.Info().Str("state", string(s.state)).Msg("session evicted")
	if s.onEvict != nil {
		s.onEvict(s)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
