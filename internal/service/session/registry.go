package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-match/backend/internal/analysis/compatibility"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/model/persona"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/internal/service/history"
	"github.com/zhouzirui/z-match/backend/internal/service/scoring"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

// ProviderSource picks the reply provider for a participant.
type ProviderSource func(p chat.Participant) agent.Provider

// Deps bundles the collaborators shared by every session.
type Deps struct {
	Store     history.Store
	Personas  persona.Store
	Providers ProviderSource
	Assessor  compatibility.Assessor
	Notifier  Notifier
	Metrics   *metrics.Manager
	Clock     func() time.Time
	NewID     func() string
}

// ParticipantSpec names one side of a new session.
type ParticipantSpec struct {
	UserID      string `json:"userId"`
	PersonaID   string `json:"personaId"`
	DisplayName string `json:"displayName,omitempty"`
}

// CreateRequest describes a new session. ID is optional.
type CreateRequest struct {
	ID           string             `json:"id,omitempty"`
	MatchID      string             `json:"matchId"`
	Participants [2]ParticipantSpec `json:"participants"`
	TurnLimit    int                `json:"turnLimit,omitempty"`
}

// AttachResult reports how a channel was attached.
type AttachResult struct {
	Role   Role
	Replay bool
}

// Listing groups live and finished sessions of a match.
type Listing struct {
	Live     []chat.Snapshot `json:"live"`
	Finished []chat.Summary  `json:"finished"`
}

// Registry owns every live session. Its map is used for lookup only; all
// session state lives in the session actors.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	channels map[string]string

	cfg    Config
	deps   Deps
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewRegistry validates cfg and wires the defaults for missing deps.
func NewRegistry(cfg Config, deps Deps) (*Registry, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		deps.Store = history.NewMemoryStore()
	}
	if deps.Personas == nil {
		deps.Personas = persona.NewMemoryStore(persona.Seed())
	}
	if deps.Providers == nil {
		deps.Providers = func(chat.Participant) agent.Provider { return agent.OfflineProvider{} }
	}
	if deps.Assessor == nil {
		deps.Assessor = compatibility.Heuristic{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sessions: make(map[string]*Session),
		channels: make(map[string]string),
		cfg:      cfg,
		deps:     deps,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentTurns),
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.Component("registry"),
	}, nil
}

// Config returns the defaults applied to new sessions.
func (r *Registry) Config() Config { return r.cfg }

// Create starts a new idle session.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (chat.Snapshot, error) {
	s, err := r.create(req, false)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return s.Snapshot(ctx)
}

// CreateOrGet returns the live session id, creating it from req when absent.
func (r *Registry) CreateOrGet(ctx context.Context, id string, req CreateRequest) (chat.Snapshot, error) {
	req.ID = id
	s, err := r.create(req, true)
	if err != nil {
		return chat.Snapshot{}, err
	}
	return s.Snapshot(ctx)
}

func (r *Registry) create(req CreateRequest, reuse bool) (*Session, error) {
	participants, personas, err := r.resolve(req.Participants)
	if err != nil {
		return nil, err
	}

	cfg := r.cfg
	if req.TurnLimit > 0 {
		cfg.TurnLimit = req.TurnLimit
		if cfg.TurnLimit < MinTurnLimit {
			r.log.Warn().Int("requested", req.TurnLimit).Int("applied", MinTurnLimit).Msg("turn limit raised to minimum")
			cfg.TurnLimit = MinTurnLimit
		}
	}
	id := req.ID
	if id == "" {
		id = r.deps.NewID()
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		if reuse {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s := r.newSession(id, req.MatchID, cfg, participants, personas)
	r.sessions[id] = s
	r.mu.Unlock()

	if r.deps.Metrics != nil {
		r.deps.Metrics.SessionStarted()
	}
	go s.run()

	s.log.Info().Str("match", req.MatchID).Int("turn_limit", cfg.TurnLimit).
		Str("a", participants[0].PersonaID).Str("b", participants[1].PersonaID).Msg("session created")
	r.notifyMatch(s)
	return s, nil
}

// Resolve fills default user ids and display names from the personas.
func (r *Registry) Resolve(specs [2]ParticipantSpec) ([2]chat.Participant, error) {
	participants, _, err := r.resolve(specs)
	return participants, err
}

func (r *Registry) resolve(specs [2]ParticipantSpec) ([2]chat.Participant, [2]persona.Persona, error) {
	var (
		participants [2]chat.Participant
		personas     [2]persona.Persona
	)
	for i, spec := range specs {
		p, ok := r.deps.Personas.FindByID(spec.PersonaID)
		if !ok {
			return participants, personas, fmt.Errorf("%w: %q", ErrUnknownPersona, spec.PersonaID)
		}
		userID := spec.UserID
		if userID == "" {
			userID = p.UserID
		}
		name := spec.DisplayName
		if name == "" {
			name = p.Name
		}
		participants[i] = chat.Participant{Slot: chat.ParticipantSlots[i], UserID: userID, PersonaID: p.ID, DisplayName: name}
		personas[i] = p
	}
	if participants[0].UserID == participants[1].UserID && participants[0].PersonaID == participants[1].PersonaID {
		return participants, personas, ErrInvalidParticipants
	}
	return participants, personas, nil
}

func (r *Registry) newSession(id, matchID string, cfg Config, participants [2]chat.Participant, personas [2]persona.Persona) *Session {
	ctx, cancel := context.WithCancel(r.ctx)
	log := logging.Session("scheduler", id)

	scorer := scoring.New(compatibility.ProfileSeed(personas[0], personas[1]),
		scoring.WithWeights(cfg.Weights),
		scoring.WithHighlightThreshold(cfg.HighlightThreshold),
		scoring.WithTrend(cfg.TrendWindow, cfg.TrendEpsilon),
		scoring.WithAssessor(r.deps.Assessor),
		scoring.WithClock(r.deps.Clock),
		scoring.WithLogger(logging.Session("scorer", id)),
	)

	s := &Session{
		id:           id,
		matchID:      matchID,
		cfg:          cfg,
		participants: participants,
		personas:     personas,
		scorer:       scorer,
		notifier:     r.deps.Notifier,
		metrics:      r.deps.Metrics,
		sem:          r.sem,
		now:          r.deps.Clock,
		log:          log,
		onEvict:      r.evict,
		ctx:          ctx,
		cancel:       cancel,
		ops:          make(chan func()),
		results:      make(chan turnResult),
		done:         make(chan struct{}),
		writes:       newPersister(r.deps.Store, cfg, r.deps.Metrics, log),
		state:        chat.StateIdle,
		createdAt:    r.deps.Clock().UTC(),
		wall:         time.NewTimer(cfg.WallClockLimit),
		presence:     make(map[string]int),
		viewers:      make(map[string]chat.Viewer),
	}
	for i := range participants {
		slot := chat.ParticipantSlots[i]
		s.proxies[i] = agent.NewProxy(id, slot, personas[i], personas[1-i], r.deps.Providers(participants[i]),
			agent.WithTimeout(cfg.ResponseTimeout),
			agent.WithProxyClock(r.deps.Clock),
		)
	}
	return s
}

func (r *Registry) notifyMatch(s *Session) {
	if r.deps.Notifier == nil {
		return
	}
	for i, p := range s.participants {
		r.deps.Notifier.Publish(p.UserID, chat.NewEvent(chat.EventNewMatch, s.id, chat.MatchNotice{
			SessionID: s.id,
			MatchID:   s.matchID,
			Partner:   s.participants[1-i],
		}))
	}
}

// Get returns the live session id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Attach binds ch to sessionID. A session that already ended and was
// evicted is replayed read-only from the store, after which ch is closed.
func (r *Registry) Attach(ctx context.Context, ch Channel, sessionID, userID, displayName string) (AttachResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s, ok := r.Get(sessionID)
		if !ok {
			return r.replay(ctx, ch, sessionID, userID)
		}

		role, err := s.Attach(ctx, ch, userID, displayName)
		if errors.Is(err, ErrSessionGone) {
			continue
		}
		if err != nil {
			return AttachResult{}, err
		}

		r.mu.Lock()
		r.channels[ch.ID()] = sessionID
		r.mu.Unlock()
		return AttachResult{Role: role}, nil
	}
	return r.replay(ctx, ch, sessionID, userID)
}

// Detach unbinds ch from whatever session it is attached to.
func (r *Registry) Detach(ctx context.Context, ch Channel) {
	r.mu.Lock()
	sessionID, ok := r.channels[ch.ID()]
	delete(r.channels, ch.ID())
	s := r.sessions[sessionID]
	r.mu.Unlock()

	if !ok || s == nil {
		return
	}
	if err := s.Detach(ctx, ch.ID()); err != nil && !errors.Is(err, ErrSessionGone) && !errors.Is(err, ErrNotAttached) {
		r.log.Warn().Err(err).Str("channel", ch.ID()).Msg("detach failed")
	}
}

// Deliver routes a command received on ch to its session.
func (r *Registry) Deliver(ctx context.Context, ch Channel, cmd chat.Command) error {
	r.mu.RLock()
	sessionID, ok := r.channels[ch.ID()]
	s := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok || s == nil {
		return ErrNotAttached
	}
	if cmd.SessionID != "" && cmd.SessionID != sessionID {
		err := fmt.Errorf("%w: command addressed to %s", ErrForbidden, cmd.SessionID)
		_ = ch.Send(chat.NewEvent(chat.EventError, sessionID, chat.ErrorNotice{Message: err.Error()}))
		return err
	}
	return s.Handle(ctx, ch.ID(), cmd)
}

// Broadcast fans ev out to every channel of sessionID.
func (r *Registry) Broadcast(ctx context.Context, sessionID string, ev chat.Event) error {
	s, ok := r.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.Broadcast(ctx, ev)
}

// Snapshot returns the live view of a session, or the stored replay of an
// evicted one.
func (r *Registry) Snapshot(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	if s, ok := r.Get(sessionID); ok {
		snap, err := s.Snapshot(ctx)
		if !errors.Is(err, ErrSessionGone) {
			return snap, err
		}
	}
	return r.restore(ctx, sessionID)
}

// ListSessions returns the live and finished sessions of a match.
func (r *Registry) ListSessions(ctx context.Context, matchID string) (Listing, error) {
	r.mu.RLock()
	live := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.matchID == matchID {
			live = append(live, s)
		}
	}
	r.mu.RUnlock()

	out := Listing{Live: make([]chat.Snapshot, 0, len(live))}
	seen := make(map[string]struct{}, len(live))
	for _, s := range live {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			continue
		}
		snap.Transcript = nil
		out.Live = append(out.Live, snap)
		seen[snap.ID] = struct{}{}
	}
	sort.Slice(out.Live, func(i, j int) bool { return out.Live[i].CreatedAt.Before(out.Live[j].CreatedAt) })

	finished, err := r.deps.Store.ListSessions(ctx, matchID)
	if err != nil {
		return out, err
	}
	out.Finished = make([]chat.Summary, 0, len(finished))
	for _, summary := range finished {
		if _, dup := seen[summary.SessionID]; !dup {
			out.Finished = append(out.Finished, summary)
		}
	}
	return out, nil
}

// Messages returns a page of a session's persisted transcript.
func (r *Registry) Messages(ctx context.Context, sessionID string, page history.Page) ([]chat.Utterance, error) {
	return r.deps.Store.ListMessages(ctx, sessionID, page)
}

// Shutdown aborts every live session and waits for the actors to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	r.cancel()
	for _, s := range live {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.id]; !ok || current != s {
		return
	}
	delete(r.sessions, s.id)
	for ch, sid := range r.channels {
		if sid == s.id {
			delete(r.channels, ch)
		}
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.SessionEvicted()
	}
}

func (r *Registry) replay(ctx context.Context, ch Channel, sessionID, userID string) (AttachResult, error) {
	snap, err := r.restore(ctx, sessionID)
	if err != nil {
		return AttachResult{}, err
	}
	role := roleFor(userID, snap.Participants)
	_ = ch.Send(chat.NewEvent(chat.EventConnectionEstablished, sessionID, chat.Welcome{ChannelID: ch.ID(), Role: role.String(), Snapshot: &snap}))
	_ = ch.Send(chat.NewEvent(chat.EventSessionStatusChange, sessionID, chat.StatusChange{
		State:   snap.State,
		Reason:  snap.Reason,
		Message: reasonMessage(snap.Reason),
	}))
	_ = ch.Close(CloseNormal, string(snap.Reason))
	return AttachResult{Role: role, Replay: true}, nil
}

// restore rebuilds a read-only snapshot from the stored summary and transcript.
func (r *Registry) restore(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	summary, err := r.deps.Store.FindSummary(ctx, sessionID)
	if errors.Is(err, history.ErrNotFound) {
		return chat.Snapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Snapshot{}, err
	}

	var transcript []chat.Utterance
	for offset := 0; ; {
		page, err := r.deps.Store.ListMessages(ctx, sessionID, history.Page{Offset: offset, Limit: history.MaxPageLimit})
		if err != nil {
			return chat.Snapshot{}, err
		}
		transcript = append(transcript, page...)
		if len(page) < history.MaxPageLimit {
			break
		}
		offset += len(page)
	}

	ended := summary.EndedAt
	return chat.Snapshot{
		ID:            summary.SessionID,
		MatchID:       summary.MatchID,
		Participants:  summary.Participants,
		State:         summary.State,
		Reason:        summary.Reason,
		TurnCount:     summary.TurnCount,
		MessageCount:  summary.MessageCount,
		TurnLimit:     summary.TurnLimit,
		CreatedAt:     summary.CreatedAt,
		StartedAt:     summary.StartedAt,
		EndedAt:       &ended,
		Compatibility: summary.Final,
		Transcript:    transcript,
		ReadOnly:      true,
	}, nil
}
