package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/apiary-data/forager.report/internal/timeutil"
)

type capturedRollups struct {
	mu    sync.Mutex
	snaps []CountSnapshot
	err   error
}

func (c *capturedRollups) InsertCountRollup(snap CountSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *capturedRollups) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *capturedRollups) snapshot(i int) CountSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[i]
}

type capturedUplink struct {
	mu    sync.Mutex
	snaps []CountSnapshot
	err   error
}

func (c *capturedUplink) SendCounts(snap CountSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.snaps = append(c.snaps, snap)
	return nil
}

func (c *capturedUplink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func startReporter(t *testing.T, r *CountReporter, ctx context.Context) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		if err := r.Run(ctx); err != nil {
			t.Errorf("reporter run: %v", err)
		}
		close(done)
	}()
	waitFor(t, r.IsRunning)
	return done
}

func TestCountReporterPeriodicReport(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	counter := NewCounter(false, clock.Now().UnixNano())
	rollups := &capturedRollups{}
	uplink := &capturedUplink{}

	counter.RecordEvent(CrossingEvent{Direction: DirectionEntering, Label: "pollen"})

	r := NewCountReporter(CountReporterConfig{
		Counter:  counter,
		Rollups:  rollups,
		Uplink:   uplink,
		Interval: time.Minute,
		Clock:    clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startReporter(t, r, ctx)

	// The ticker is registered inside Run; keep advancing until the
	// first report lands.
	waitFor(t, func() bool {
		clock.Advance(time.Minute)
		return rollups.count() >= 1
	})

	snap := rollups.snapshot(0)
	if got := snap.DirectionTotal(DirectionEntering); got != 1 {
		t.Errorf("reported entering = %d, want 1", got)
	}
	if uplink.count() < 1 {
		t.Errorf("uplink sends = %d, want at least 1", uplink.count())
	}

	// The interval was harvested; the next report carries nothing.
	if got := counter.SnapshotInterval(clock.Now().UnixNano()).Total(); got != 0 {
		t.Errorf("interval not reset after report: %d events remain", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop on context cancel")
	}
}

func TestCountReporterFinalFlushSkipsUplink(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	counter := NewCounter(false, clock.Now().UnixNano())
	rollups := &capturedRollups{}
	uplink := &capturedUplink{}

	r := NewCountReporter(CountReporterConfig{
		Counter:  counter,
		Rollups:  rollups,
		Uplink:   uplink,
		Interval: time.Minute,
		Clock:    clock,
	})

	ctx := context.Background()
	done := startReporter(t, r, ctx)

	// Partial interval at shutdown: persisted but never transmitted.
	counter.RecordEvent(CrossingEvent{Direction: DirectionExiting})
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}

	if rollups.count() != 1 {
		t.Fatalf("rollups = %d, want 1 final flush", rollups.count())
	}
	if got := rollups.snapshot(0).DirectionTotal(DirectionExiting); got != 1 {
		t.Errorf("final flush exiting = %d, want 1", got)
	}
	if uplink.count() != 0 {
		t.Errorf("uplink sends = %d, want 0 (partial interval must not reach the radio)", uplink.count())
	}
}

func TestCountReporterToleratesSinkErrors(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	counter := NewCounter(false, clock.Now().UnixNano())
	rollups := &capturedRollups{err: errors.New("disk full")}
	uplink := &capturedUplink{err: errors.New("radio silent")}

	counter.RecordEvent(CrossingEvent{Direction: DirectionEntering})

	r := NewCountReporter(CountReporterConfig{
		Counter:  counter,
		Rollups:  rollups,
		Uplink:   uplink,
		Interval: time.Minute,
		Clock:    clock,
	})

	// Failures are logged, not propagated: ReportNow must not panic and
	// the interval is still consumed.
	r.ReportNow()
	if got := counter.SnapshotInterval(clock.Now().UnixNano()).Total(); got != 0 {
		t.Errorf("interval not consumed despite sink errors: %d", got)
	}
}

func TestCountReporterZeroIntervalDoesNotStart(t *testing.T) {
	counter := NewCounter(false, 0)
	r := NewCountReporter(CountReporterConfig{Counter: counter, Interval: 0})

	done := make(chan struct{})
	go func() {
		if err := r.Run(context.Background()); err != nil {
			t.Errorf("run: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter with zero interval should return immediately")
	}
}

func TestCountReporterStopIsIdempotent(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	counter := NewCounter(false, clock.Now().UnixNano())
	r := NewCountReporter(CountReporterConfig{Counter: counter, Interval: time.Minute, Clock: clock})

	done := startReporter(t, r, context.Background())
	r.Stop()
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
	if r.IsRunning() {
		t.Error("reporter still reports running after Stop")
	}
}
