package session

import (
	"fmt"
	"time"

	"github.com/zhouzirui/z-match/backend/internal/model/chat"
)

// MinTurnLimit is the smallest turn limit a create request may ask for.
const MinTurnLimit = 12

// Config controls conversation length, timing and scoring for new sessions.
type Config struct {
	TurnLimit              int
	ResponseTimeout        time.Duration
	WallClockLimit         time.Duration
	HighlightThreshold     float64
	MaxConsecutiveFailures int
	TurnRetries            int
	TrendWindow            int
	TrendEpsilon           float64
	Weights                map[chat.Dimension]float64
	MaxConcurrentTurns     int64
	PersistAttempts        int
	PersistBackoff         time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TurnLimit:              20,
		ResponseTimeout:        30 * time.Second,
		WallClockLimit:         30 * time.Minute,
		HighlightThreshold:     0.05,
		MaxConsecutiveFailures: 2,
		TurnRetries:            1,
		TrendWindow:            3,
		TrendEpsilon:           0.02,
		MaxConcurrentTurns:     64,
		PersistAttempts:        3,
		PersistBackoff:         50 * time.Millisecond,
	}
}

// Validate reports the first unusable value.
func (c Config) Validate() error {
	switch {
	case c.TurnLimit <= 0:
		return fmt.Errorf("turn limit must be positive, got %d", c.TurnLimit)
	case c.ResponseTimeout <= 0:
		return fmt.Errorf("response timeout must be positive, got %s", c.ResponseTimeout)
	case c.WallClockLimit <= 0:
		return fmt.Errorf("wall clock limit must be positive, got %s", c.WallClockLimit)
	case c.HighlightThreshold <= 0 || c.HighlightThreshold > 1:
		return fmt.Errorf("highlight threshold must be in (0,1], got %v", c.HighlightThreshold)
	case c.MaxConsecutiveFailures < 0:
		return fmt.Errorf("max consecutive failures must not be negative, got %d", c.MaxConsecutiveFailures)
	case c.TurnRetries < 0:
		return fmt.Errorf("turn retries must not be negative, got %d", c.TurnRetries)
	case c.MaxConcurrentTurns <= 0:
		return fmt.Errorf("max concurrent turns must be positive, got %d", c.MaxConcurrentTurns)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.TrendEpsilon <= 0 {
		c.TrendEpsilon = d.TrendEpsilon
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = d.PersistAttempts
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = d.PersistBackoff
	}
	if c.MaxConcurrentTurns <= 0 {
		c.MaxConcurrentTurns = d.MaxConcurrentTurns
	}
	return c
}
