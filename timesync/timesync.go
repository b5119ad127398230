// Package timesync implements the time sync & retry controller: a
// per-engine drift estimate refreshed by taking the median of several
// read-state timestamp samples, with the fire-once-per-failure-event gate
// the request engine needs to avoid a sync loop.
package timesync

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

func nowMsSystemClock() int64 {
	return time.Now().UnixMilli()
}

// DefaultSampleCount is the number of read-state samples a sync takes
// before computing the median. The "3" is not derived from any deeper
// constraint; it is kept tunable via WithSampleCount.
const DefaultSampleCount = 3

// SampleFunc fetches one certificate time sample, in milliseconds since
// the Unix epoch. Implementations typically issue a read-state call
// against a well-known canister or an explicit subnet and extract /time.
type SampleFunc func(ctx context.Context) (timeMs int64, err error)

// Option configures a Controller at construction.
type Option func(*Controller)

// WithSampleCount overrides DefaultSampleCount.
func WithSampleCount(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.sampleCount = n
		}
	}
}

// WithClock overrides the wall-clock source used to compute drift,
// primarily for deterministic tests.
func WithClock(now func() int64) Option {
	return func(c *Controller) {
		if now != nil {
			c.nowMs = now
		}
	}
}

// Controller holds one engine's drift estimate. The zero value is not
// usable; construct with New.
type Controller struct {
	sample      SampleFunc
	sampleCount int
	nowMs       func() int64

	driftMs atomic.Int64
	synced  atomic.Bool
	fired   atomic.Bool

	group singleflight.Group
}

// New constructs a Controller. sample is called sampleCount times per
// sync, once per logical sample slot (sequentially, since replicas are
// typically queried one at a time to avoid thundering-herd against a
// single well-known canister).
func New(sample SampleFunc, opts ...Option) *Controller {
	c := &Controller{
		sample:      sample,
		sampleCount: DefaultSampleCount,
		nowMs:       nowMsSystemClock,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DriftMs returns the current drift estimate: positive means the
// replica's clock runs ahead of the caller's.
func (c *Controller) DriftMs() int64 {
	return c.driftMs.Load()
}

// HasSyncedTime reports whether at least one sync has completed.
func (c *Controller) HasSyncedTime() bool {
	return c.synced.Load()
}

// Sync performs an unconditional sync: it fetches sampleCount samples,
// takes their median, and sets the drift estimate. Concurrent calls to
// Sync collapse onto a single in-flight fetch via singleflight, so a
// burst of callers pays for one sync, not one each.
func (c *Controller) Sync(ctx context.Context) error {
	_, err, _ := c.group.Do("sync", func() (any, error) {
		samples := make([]int64, 0, c.sampleCount)
		for i := 0; i < c.sampleCount; i++ {
			ms, err := c.sample(ctx)
			if err != nil {
				return nil, fmt.Errorf("timesync: sample %d/%d: %w", i+1, c.sampleCount, err)
			}
			samples = append(samples, ms)
		}
		medianMs := median(samples)
		c.driftMs.Store(medianMs - c.nowMs())
		c.synced.Store(true)
		c.fired.Store(false)
		return nil, nil
	})
	return err
}

// SyncOnFailure implements the "fires at most once per failure event"
// policy: the first call after construction or after the last
// successful Sync performs a real sync; subsequent calls are no-ops
// until ResetFailureGate or a fresh Sync clears the gate.
func (c *Controller) SyncOnFailure(ctx context.Context) error {
	if !c.fired.CompareAndSwap(false, true) {
		return nil
	}
	return c.Sync(ctx)
}

// ResetFailureGate re-arms SyncOnFailure, so the next expiry-rejected
// submission can trigger exactly one more sync. The request engine calls
// this once a rebuild/resubmit cycle has run to completion.
func (c *Controller) ResetFailureGate() {
	c.fired.Store(false)
}

func median(samples []int64) int64 {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
