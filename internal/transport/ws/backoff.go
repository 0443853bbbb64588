package ws

import "time"

// Backoff is the client reconnection policy: Initial, doubled for each
// further attempt, at most Attempts tries per outage.
type Backoff struct {
	Initial  time.Duration
	Attempts int
}

// DefaultBackoff 1s 起步，最多重连 5 次
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Attempts: 5}
}

// Delay returns the wait before the 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Initial << (attempt - 1)
}

// Schedule lists every delay of one outage.
func (b Backoff) Schedule() []time.Duration {
	out := make([]time.Duration, 0, b.Attempts)
	for i := 1; i <= b.Attempts; i++ {
		out = append(out, b.Delay(i))
	}
	return out
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	return b
}
