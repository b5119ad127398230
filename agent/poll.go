package agent

import (
	"math"
	"time"
)

// PollStrategy decides how long to wait before the next
// /request_status poll. A fresh instance is constructed per call and
// never shared: two concurrent calls must never observe each other's
// attempt counters.
type PollStrategy interface {
	// NextDelay returns how long to wait before the poll numbered attempt
	// (1-based).
	NextDelay(attempt int) time.Duration
}

// PollStrategyFactory constructs a fresh PollStrategy for one call.
type PollStrategyFactory func() PollStrategy

// ExponentialBackoff doubles its delay each attempt, capped at Max.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// NextDelay implements PollStrategy.
func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	factor := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(b.Base) * factor)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	return d
}

// DefaultPollStrategyFactory builds the engine's default backoff: 500ms
// base, 5s cap, matching the transport-retry backoff shape elsewhere in
// this codebase.
func DefaultPollStrategyFactory() PollStrategy {
	return ExponentialBackoff{Base: 500 * time.Millisecond, Max: 5 * time.Second}
}
