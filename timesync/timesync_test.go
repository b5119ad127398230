package timesync

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func fixedClock(ms int64) func() int64 {
	return func() int64 { return ms }
}

func TestSyncSetsDriftFromMedian(t *testing.T) {
	samples := []int64{1_700_000_000_000 - 6*60_000, 1_700_000_000_000 - 6*60_000 + 1, 1_700_000_000_000 - 6*60_000 - 1}
	idx := 0
	sample := func(ctx context.Context) (int64, error) {
		v := samples[idx]
		idx++
		return v, nil
	}
	c := New(sample, WithClock(fixedClock(1_700_000_000_000)))

	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !c.HasSyncedTime() {
		t.Fatalf("expected HasSyncedTime true after Sync")
	}
	wantDrift := (1_700_000_000_000 - 6*60_000) - 1_700_000_000_000
	if c.DriftMs() != wantDrift {
		t.Fatalf("DriftMs = %d, want %d", c.DriftMs(), wantDrift)
	}
}

func TestSyncPropagatesSampleError(t *testing.T) {
	sample := func(ctx context.Context) (int64, error) { return 0, errors.New("boom") }
	c := New(sample)
	if err := c.Sync(context.Background()); err == nil {
		t.Fatalf("expected error from failing sample")
	}
	if c.HasSyncedTime() {
		t.Fatalf("HasSyncedTime must remain false after a failed sync")
	}
}

func TestSyncOnFailureFiresOncePerEvent(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sample := func(ctx context.Context) (int64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 1_700_000_000_000, nil
	}
	c := New(sample, WithSampleCount(1), WithClock(fixedClock(1_700_000_000_000)))

	if err := c.SyncOnFailure(context.Background()); err != nil {
		t.Fatalf("first SyncOnFailure: %v", err)
	}
	if err := c.SyncOnFailure(context.Background()); err != nil {
		t.Fatalf("second SyncOnFailure: %v", err)
	}
	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("sample called %d times, want 1 (fire-once-per-failure-event)", got)
	}

	c.ResetFailureGate()
	if err := c.SyncOnFailure(context.Background()); err != nil {
		t.Fatalf("SyncOnFailure after reset: %v", err)
	}
	mu.Lock()
	got = calls
	mu.Unlock()
	if got != 2 {
		t.Fatalf("sample called %d times after reset, want 2", got)
	}
}

func TestConcurrentSyncCollapsesToOneFetch(t *testing.T) {
	var calls int
	var mu sync.Mutex
	release := make(chan struct{})
	sample := func(ctx context.Context) (int64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return 1_700_000_000_000, nil
	}
	c := New(sample, WithSampleCount(1))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Sync(context.Background())
		}()
	}
	close(release)
	wg.Wait()

	mu.Lock()
	got := calls
	mu.Unlock()
	if got == 0 {
		t.Fatalf("expected at least one sample call")
	}
}

func TestMedianEvenAndOdd(t *testing.T) {
	if got := median([]int64{1, 2, 3}); got != 2 {
		t.Fatalf("median(odd) = %d, want 2", got)
	}
	if got := median([]int64{1, 2, 3, 4}); got != 2 {
		t.Fatalf("median(even) = %d, want 2", got)
	}
}
