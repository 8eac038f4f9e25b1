package gate

import (
	"context"
	"sync"
	"time"

	"github.com/apiary-data/forager.report/internal/timeutil"
)

// RollupWriter persists one count snapshot per report interval.
type RollupWriter interface {
	InsertCountRollup(snap CountSnapshot) error
}

// SnapshotSink receives each interval snapshot after it is persisted.
// The uplink modem implements this.
type SnapshotSink interface {
	SendCounts(snap CountSnapshot) error
}

// CountReporter periodically drains the count aggregator into a rollup
// row, logs an operator summary, and hands the snapshot to the uplink.
// It provides context-aware lifecycle management for the report cadence.
type CountReporter struct {
	counter  *Counter
	stats    *GateStats
	rollups  RollupWriter
	uplink   SnapshotSink
	clock    timeutil.Clock
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// CountReporterConfig contains configuration for CountReporter.
type CountReporterConfig struct {
	// Counter is the aggregator to drain each interval.
	Counter *Counter
	// Stats is optional; when set its rate summary is logged alongside
	// the counts.
	Stats *GateStats
	// Rollups is optional; nil disables persistence.
	Rollups RollupWriter
	// Uplink is optional; nil disables the radio hand-off.
	Uplink SnapshotSink
	// Interval is how often to report (e.g. 60*time.Second).
	Interval time.Duration
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// NewCountReporter creates a new CountReporter.
func NewCountReporter(cfg CountReporterConfig) *CountReporter {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &CountReporter{
		counter:  cfg.Counter,
		stats:    cfg.Stats,
		rollups:  cfg.Rollups,
		uplink:   cfg.Uplink,
		clock:    clock,
		interval: cfg.Interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run starts the periodic reporting loop. It blocks until the context is
// cancelled or Stop() is called, flushing the partial interval before
// returning. Returns nil on clean shutdown.
func (r *CountReporter) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil // already running
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	defer func() {
		close(r.doneCh)
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if r.interval <= 0 {
		Opsf("count reporter: interval is zero or negative, not starting")
		return nil
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	Opsf("count reporter started: interval=%v", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.report(true)
			return nil
		case <-r.stopCh:
			r.report(true)
			return nil
		case <-ticker.C():
			r.report(false)
		}
	}
}

// Stop requests the reporter to stop. It is safe to call multiple times.
func (r *CountReporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.stopCh:
		// already closed
	default:
		close(r.stopCh)
	}
	r.mu.Unlock()

	<-r.doneCh
}

// IsRunning returns whether the reporter loop is currently active.
func (r *CountReporter) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ReportNow triggers an immediate report outside the regular cadence.
func (r *CountReporter) ReportNow() {
	r.report(false)
}

// report drains one interval and fans it out. A final report at
// shutdown skips the uplink so a partial interval never reaches the
// radio, but still persists the partial counts.
func (r *CountReporter) report(final bool) {
	if r.counter == nil {
		return
	}
	snap := r.counter.SnapshotAndReset(r.clock.Now().UnixNano())

	if r.rollups != nil {
		if err := r.rollups.InsertCountRollup(snap); err != nil {
			Opsf("count reporter: failed to persist rollup: %v", err)
		}
	}

	entering := snap.DirectionTotal(DirectionEntering)
	exiting := snap.DirectionTotal(DirectionExiting)
	indeterminate := snap.DirectionTotal(DirectionIndeterminate)
	if entering > 0 || exiting > 0 || indeterminate > 0 {
		Opsf("Interval counts: %d entering, %d exiting, %d indeterminate",
			entering, exiting, indeterminate)
	}

	if r.uplink != nil && !final {
		if err := r.uplink.SendCounts(snap); err != nil {
			Opsf("count reporter: uplink send failed: %v", err)
		}
	}

	if r.stats != nil {
		r.stats.LogStats()
	}
}
