package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
	"github.com/zhouzirui/z-match/backend/internal/service/history"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
)

const persistTimeout = 5 * time.Second

type persistJob struct {
	op  string
	seq int
	fn  func(ctx context.Context) error
}

// persister writes a session's history in enqueue order on its own
// goroutine, so a slow store never holds the session actor. The queue is
// unbounded; enqueue never blocks.
type persister struct {
	store    history.Store
	attempts int
	backoff  time.Duration
	metrics  *metrics.Manager
	log      zerolog.Logger

	mu     sync.Mutex
	jobs   []persistJob
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersister(store history.Store, cfg Config, m *metrics.Manager, log zerolog.Logger) *persister {
	return &persister{
		store:    store,
		attempts: cfg.PersistAttempts,
		backoff:  cfg.PersistBackoff,
		metrics:  m,
		log:      log,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (p *persister) append(sessionID string, u chat.Utterance) {
	p.enqueue(persistJob{op: "append", seq: u.Seq, fn: func(ctx context.Context) error {
		return p.store.Append(ctx, sessionID, u)
	}})
}

func (p *persister) finalize(summary chat.Summary) {
	p.enqueue(persistJob{op: "finalize", seq: -1, fn: func(ctx context.Context) error {
		return p.store.Finalize(ctx, summary)
	}})
}

func (p *persister) enqueue(job persistJob) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Error().Str("op", job.op).Int("seq", job.seq).Msg("write after drain dropped")
		return
	}
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	p.signal()
}

func (p *persister) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// drain stops accepting writes and waits until every queued one has run.
// It must be called at most once.
func (p *persister) drain() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		if len(p.jobs) == 0 {
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return
			}
			<-p.wake
			continue
		}
		job := p.jobs[0]
		p.jobs[0] = persistJob{}
		p.jobs = p.jobs[1:]
		p.mu.Unlock()

		p.exec(job)
	}
}

// exec retries job with doubling backoff. Failures are logged and counted
// but never stop the conversation.
func (p *persister) exec(job persistJob) {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff << (attempt - 1))
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = job.fn(ctx)
		cancel()
		if err == nil {
			return
		}
	}
	p.log.Error().Err(err).Str("op", job.op).Int("seq", job.seq).Msg("persistence failed")
	if p.metrics != nil {
		p.metrics.RecordPersistenceFailure()
	}
}
