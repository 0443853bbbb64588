package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhouzirui/z-match/backend/internal/analysis/compatibility"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/agent"
	"github.com/zhouzirui/z-match/backend/internal/service/history"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
)

const waitTimeout = 3 * time.Second

var errQueueFull = errors.New("queue full")

type fakeChannel struct {
	id string

	mu     sync.Mutex
	events []chat.Event
	full   bool
	code   int
	reason string

	once   sync.Once
	closed chan struct{}
}

func newChannel(id string) *fakeChannel {
	return &fakeChannel{id: id, closed: make(chan struct{})}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(ev chat.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errQueueFull
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.code, c.reason = code, reason
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

func (c *fakeChannel) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *fakeChannel) snapshot() []chat.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Event(nil), c.events...)
}

func (c *fakeChannel) ofType(typ chat.EventType) []chat.Event {
	var out []chat.Event
	for _, ev := range c.snapshot() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeChannel) utterances() []chat.Utterance {
	var out []chat.Utterance
	for _, ev := range c.ofType(chat.EventAIMessage) {
		out = append(out, ev.Data.(chat.Utterance))
	}
	return out
}

func (c *fakeChannel) waitClosed(t *testing.T) int {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("channel %s was not closed", c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// scripted replies instantly with a line naming the speaker and turn.
func scripted(p chat.Participant) agent.Provider {
	return agent.ProviderFunc(func(_ context.Context, req agent.Request) (string, error) {
		return fmt.Sprintf("%s line %d", p.PersonaID, len(req.Transcript)), nil
	})
}

type notification struct {
	userID string
	event  chat.Event
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Publish(userID string, ev chat.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{userID: userID, event: ev})
}

func (n *fakeNotifier) ofType(typ chat.EventType) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, x := range n.sent {
		if x.event.Type == typ {
			out = append(out, x)
		}
	}
	return out
}

type harness struct {
	reg      *session.Registry
	store    *history.MemoryStore
	notifier *fakeNotifier
}

func testConfig(turnLimit int) session.Config {
	cfg := session.DefaultConfig()
	cfg.TurnLimit = turnLimit
	cfg.ResponseTimeout = 80 * time.Millisecond
	cfg.PersistBackoff = time.Millisecond
	return cfg
}

// depsOption adjusts registry dependencies before the harness builds it.
type depsOption func(*session.Deps)

func withAssessor(a compatibility.Assessor) depsOption {
	return func(d *session.Deps) { d.Assessor = a }
}

func withStore(wrap func(history.Store) history.Store) depsOption {
	return func(d *session.Deps) { d.Store = wrap(d.Store) }
}

func newHarness(t *testing.T, cfg session.Config, providers session.ProviderSource, opts ...depsOption) *harness {
	t.Helper()
	if providers == nil {
		providers = scripted
	}
	h := &harness{store: history.NewMemoryStore(), notifier: &fakeNotifier{}}
	deps := session.Deps{
		Store:     h.store,
		Providers: providers,
		Notifier:  h.notifier,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	reg, err := session.NewRegistry(cfg, deps)
	if err != nil {
		t.Fatalf("NewRegistry err: %v", err)
	}
	h.reg = reg
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return h
}

func (h *harness) create(t *testing.T, id string) chat.Snapshot {
	t.Helper()
	snap, err := h.reg.Create(context.Background(), session.CreateRequest{
		ID:      id,
		MatchID: "match-1",
		Participants: [2]session.ParticipantSpec{
			{PersonaID: "maya"},
			{PersonaID: "leo"},
		},
	})
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	return snap
}

func (h *harness) attach(t *testing.T, sessionID, channelID, userID string) (*fakeChannel, session.AttachResult) {
	t.Helper()
	ch := newChannel(channelID)
	res, err := h.reg.Attach(context.Background(), ch, sessionID, userID, "")
	if err != nil {
		t.Fatalf("Attach(%s) err: %v", channelID, err)
	}
	return ch, res
}

func (h *harness) send(ch *fakeChannel, typ chat.CommandType, data string) error {
	cmd := chat.Command{Type: typ}
	if data != "" {
		cmd.Data = []byte(data)
	}
	return h.reg.Deliver(context.Background(), ch, cmd)
}

func (h *harness) summary(t *testing.T, sessionID string) chat.Summary {
	t.Helper()
	var summary chat.Summary
	waitUntil(t, "session summary", func() bool {
		s, err := h.store.FindSummary(context.Background(), sessionID)
		if err != nil {
			return false
		}
		summary = s
		return true
	})
	return summary
}

// gatedStore holds every Append until open is closed and records the order
// writes reach the store. Finalize is recorded as -1.
type gatedStore struct {
	history.Store
	open    chan struct{}
	waiting atomic.Int32

	mu    sync.Mutex
	order []int
}

func (g *gatedStore) record(seq int) {
	g.mu.Lock()
	g.order = append(g.order, seq)
	g.mu.Unlock()
}

func (g *gatedStore) writes() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.order...)
}

func (g *gatedStore) Finalize(ctx context.Context, summary chat.Summary) error {
	g.record(-1)
	return g.Store.Finalize(ctx, summary)
}

func (g *gatedStore) Append(ctx context.Context, sessionID string, u chat.Utterance) error {
	g.waiting.Add(1)
	defer g.waiting.Add(-1)
	select {
	case <-g.open:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.record(u.Seq)
	return g.Store.Append(ctx, sessionID, u)
}
