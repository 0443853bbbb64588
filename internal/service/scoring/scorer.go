// Package scoring maintains the running compatibility signal of one session.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-match/backend/internal/analysis/compatibility"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

// Default scoring configuration constants.
const (
	DefaultHighlightThreshold = 0.05
	DefaultTrendWindow        = 3
	DefaultTrendEpsilon       = 0.02
	maxInsights               = 3
	excerptRunes              = 80
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights sets dimension weights. Negative weights are ignored and the
// remainder is normalized to sum to 1; an all-zero map falls back to equal weights.
func WithWeights(weights map[chat.Dimension]float64) Option {
	return func(s *Scorer) {
		if len(weights) > 0 {
			s.weights = normalizeWeights(weights)
		}
	}
}

// WithHighlightThreshold sets the |impact| at which an utterance is highlighted.
func WithHighlightThreshold(threshold float64) Option {
	return func(s *Scorer) {
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

// WithTrend sets the rolling window and the dead band used for trend detection.
func WithTrend(window int, epsilon float64) Option {
	return func(s *Scorer) {
		if window > 0 {
			s.window = window
		}
		if epsilon >= 0 {
			s.epsilon = epsilon
		}
	}
}

// WithAssessor replaces the default heuristic delta function.
func WithAssessor(a compatibility.Assessor) Option {
	return func(s *Scorer) {
		if a != nil {
			s.assessor = a
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the scorer logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scorer) { s.log = l }
}

// Observation is the outcome of scoring one utterance.
type Observation struct {
	Reading     chat.CompatibilityReading
	Impact      float64
	Highlighted bool
	Highlight   *chat.HighlightRef
}

// Result is the outcome of the final scoring pass.
type Result struct {
	Reading  chat.CompatibilityReading
	Standout *chat.HighlightRef
}

type impactRecord struct {
	seq     int
	sender  chat.Sender
	impact  float64
	tagged  bool
	excerpt string
}

// Scorer incrementally recomputes the compatibility signal. It is safe for
// concurrent use; the session actor is the only writer in practice.
type Scorer struct {
	mu sync.RWMutex

	assessor  compatibility.Assessor
	fallback  compatibility.Assessor
	weights   map[chat.Dimension]float64
	threshold float64
	window    int
	epsilon   float64
	now       func() time.Time
	log       zerolog.Logger

	dims     map[chat.Dimension]float64
	series   []chat.CompatibilityReading
	impacts  []impactRecord
	insights []string
	final    bool
}

// New creates a scorer seeded with the static profile compatibility. The
// seed becomes reading #0 of the series.
func New(seed map[chat.Dimension]float64, opts ...Option) *Scorer {
	s := &Scorer{
		assessor:  compatibility.Heuristic{},
		fallback:  compatibility.Heuristic{},
		weights:   equalWeights(),
		threshold: DefaultHighlightThreshold,
		window:    DefaultTrendWindow,
		epsilon:   DefaultTrendEpsilon,
		now:       time.Now,
		log:       logging.Component("scorer"),
		dims:      make(map[chat.Dimension]float64, len(chat.Dimensions)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, d := range chat.Dimensions {
		v, ok := seed[d]
		if !ok {
			v = 0.5
		}
		s.dims[d] = clamp01(v)
	}
	s.series = append(s.series, chat.CompatibilityReading{
		Seq:        0,
		Overall:    s.overallLocked(),
		Dimensions: s.copyDims(),
		Trend:      chat.TrendStable,
		CreatedAt:  s.now(),
	})
	return s
}

// Threshold returns the configured highlight threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Observe runs the delta function for a new utterance and folds it into the
// running aggregates. When the configured assessor fails the heuristic is
// used instead so every utterance still produces a reading.
func (s *Scorer) Observe(ctx context.Context, in compatibility.Input) (Observation, error) {
	assessment, err := s.Assess(ctx, in)
	if err != nil {
		return Observation{}, err
	}
	return s.Apply(in.Utterance, assessment)
}

// Assess runs the delta function without touching the aggregates, so it can
// be called off the session's critical path.
func (s *Scorer) Assess(ctx context.Context, in compatibility.Input) (compatibility.Assessment, error) {
	assessment, err := s.assessor.Assess(ctx, in)
	if err == nil {
		return assessment, nil
	}
	s.log.Warn().Err(err).Str("session", in.SessionID).Int("seq", in.Utterance.Seq).
		Msg("assessor failed, using heuristic")
	assessment, err = s.fallback.Assess(ctx, in)
	if err != nil {
		return compatibility.Assessment{}, fmt.Errorf("assess utterance %d: %w", in.Utterance.Seq, err)
	}
	return assessment, nil
}

// Apply folds an already computed assessment into the aggregates.
func (s *Scorer) Apply(u chat.Utterance, a compatibility.Assessment) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final {
		return Observation{}, ErrFinalized
	}

	a = a.Clamp()
	before := s.overallLocked()
	for _, d := range chat.Dimensions {
		s.dims[d] = clamp01(s.dims[d] + a.Deltas[d])
	}
	after := s.overallLocked()
	impact := after - before

	if a.Insight != "" {
		s.insights = append(s.insights, a.Insight)
		if len(s.insights) > maxInsights {
			s.insights = s.insights[len(s.insights)-maxInsights:]
		}
	}

	rec := impactRecord{
		seq:     u.Seq,
		sender:  u.Sender,
		impact:  impact,
		tagged:  a.Highlight,
		excerpt: excerpt(u.Content),
	}
	s.impacts = append(s.impacts, rec)

	seq := u.Seq
	reading := s.appendReadingLocked(&seq, false)

	obs := Observation{
		Reading:     reading,
		Impact:      impact,
		Highlighted: math.Abs(impact) >= s.threshold || a.Highlight,
	}
	if obs.Highlighted {
		obs.Highlight = rec.ref()
	}
	return obs, nil
}

// Finalize performs the closing pass. It produces exactly one final reading;
// later calls return ErrFinalized. When no utterance met the threshold the
// single highest-impact utterance is returned as the standout.
func (s *Scorer) Finalize() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final {
		return Result{}, ErrFinalized
	}
	s.final = true

	var standout *chat.HighlightRef
	if !s.anyHighlightLocked() {
		if best, ok := s.bestLocked(); ok {
			standout = best.ref()
		}
	}

	reading := s.appendReadingLocked(nil, true)
	return Result{Reading: reading, Standout: standout}, nil
}

// Latest returns a copy of the newest reading.
func (s *Scorer) Latest() chat.CompatibilityReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[len(s.series)-1].Clone()
}

// Series returns a copy of every reading so far, seed included.
func (s *Scorer) Series() []chat.CompatibilityReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.CompatibilityReading, len(s.series))
	for i, r := range s.series {
		out[i] = r.Clone()
	}
	return out
}

func (s *Scorer) appendReadingLocked(utteranceSeq *int, final bool) chat.CompatibilityReading {
	overall := s.overallLocked()
	reading := chat.CompatibilityReading{
		Seq:          len(s.series),
		UtteranceSeq: utteranceSeq,
		Overall:      overall,
		Dimensions:   s.copyDims(),
		Trend:        s.trendLocked(overall),
		Insights:     s.insightsLocked(final),
		Final:        final,
		CreatedAt:    s.now(),
	}
	s.series = append(s.series, reading)
	return reading.Clone()
}

// trendLocked compares overall with the mean of the last window prior readings.
func (s *Scorer) trendLocked(overall float64) chat.Trend {
	n := len(s.series)
	if n == 0 {
		return chat.TrendStable
	}
	start := n - s.window
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, r := range s.series[start:] {
		sum += r.Overall
	}
	mean := sum / float64(n-start)
	switch diff := overall - mean; {
	case diff > s.epsilon:
		return chat.TrendImproving
	case diff < -s.epsilon:
		return chat.TrendDeclining
	default:
		return chat.TrendStable
	}
}

func (s *Scorer) insightsLocked(final bool) []string {
	out := append([]string(nil), s.insights...)
	strongest, weakest := chat.Dimensions[0], chat.Dimensions[0]
	for _, d := range chat.Dimensions {
		if s.dims[d] > s.dims[strongest] {
			strongest = d
		}
		if s.dims[d] < s.dims[weakest] {
			weakest = d
		}
	}
	out = append(out, fmt.Sprintf("strongest dimension: %s (%.2f)", strongest, s.dims[strongest]))
	if final && weakest != strongest {
		out = append(out, fmt.Sprintf("room to grow: %s (%.2f)", weakest, s.dims[weakest]))
	}
	return out
}

func (s *Scorer) anyHighlightLocked() bool {
	for _, r := range s.impacts {
		if r.tagged || math.Abs(r.impact) >= s.threshold {
			return true
		}
	}
	return false
}

// bestLocked picks the largest |impact|; ties go to the earliest utterance.
func (s *Scorer) bestLocked() (impactRecord, bool) {
	if len(s.impacts) == 0 {
		return impactRecord{}, false
	}
	best := s.impacts[0]
	for _, r := range s.impacts[1:] {
		if math.Abs(r.impact) > math.Abs(best.impact) {
			best = r
		}
	}
	return best, true
}

func (s *Scorer) overallLocked() float64 {
	var total float64
	for _, d := range chat.Dimensions {
		total += s.weights[d] * s.dims[d]
	}
	return clamp01(total)
}

func (s *Scorer) copyDims() map[chat.Dimension]float64 {
	out := make(map[chat.Dimension]float64, len(s.dims))
	for k, v := range s.dims {
		out[k] = v
	}
	return out
}

func (r impactRecord) ref() *chat.HighlightRef {
	return &chat.HighlightRef{Seq: r.seq, Sender: r.sender, Impact: r.impact, Excerpt: r.excerpt}
}

func equalWeights() map[chat.Dimension]float64 {
	w := make(map[chat.Dimension]float64, len(chat.Dimensions))
	for _, d := range chat.Dimensions {
		w[d] = 1 / float64(len(chat.Dimensions))
	}
	return w
}

func normalizeWeights(in map[chat.Dimension]float64) map[chat.Dimension]float64 {
	var sum float64
	for _, d := range chat.Dimensions {
		if v := in[d]; v > 0 {
			sum += v
		}
	}
	if sum == 0 {
		return equalWeights()
	}
	out := make(map[chat.Dimension]float64, len(chat.Dimensions))
	for _, d := range chat.Dimensions {
		if v := in[d]; v > 0 {
			out[d] = v / sum
		} else {
			out[d] = 0
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "…"
}
