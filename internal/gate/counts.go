package gate

import "sync"

// CountSnapshot is an immutable copy of the aggregator at one instant.
type CountSnapshot struct {
	IntervalStartUnixNanos int64 `json:"interval_start_unix_nanos"`
	TakenUnixNanos         int64 `json:"taken_unix_nanos"`

	// Counts maps direction → label → events. Only labeled events
	// appear here; per-direction unlabeled events are in Unlabeled.
	Counts    map[Direction]map[string]uint64 `json:"counts"`
	Unlabeled map[Direction]uint64            `json:"unlabeled"`

	// Cumulative reports whether the snapshot holds monotonic totals
	// since startup (true) or the current interval only (false).
	Cumulative bool `json:"cumulative"`
}

// DirectionTotal sums one direction's buckets including unlabeled.
func (s CountSnapshot) DirectionTotal(dir Direction) uint64 {
	total := s.Unlabeled[dir]
	for _, n := range s.Counts[dir] {
		total += n
	}
	return total
}

// LabelTotal sums one label's buckets across directions.
func (s CountSnapshot) LabelTotal(label string) uint64 {
	var total uint64
	for _, byLabel := range s.Counts {
		total += byLabel[label]
	}
	return total
}

// Total sums every bucket.
func (s CountSnapshot) Total() uint64 {
	var total uint64
	for dir := range s.Counts {
		total += s.DirectionTotal(dir)
	}
	for dir, n := range s.Unlabeled {
		if _, counted := s.Counts[dir]; !counted {
			total += n
		}
	}
	return total
}

// countBuckets is one set of (direction × label) buckets.
type countBuckets struct {
	labeled   map[Direction]map[string]uint64
	unlabeled map[Direction]uint64
}

func newCountBuckets() countBuckets {
	return countBuckets{
		labeled:   make(map[Direction]map[string]uint64),
		unlabeled: make(map[Direction]uint64),
	}
}

func (b *countBuckets) inc(dir Direction, label string) {
	if label == "" {
		b.unlabeled[dir]++
		return
	}
	byLabel := b.labeled[dir]
	if byLabel == nil {
		byLabel = make(map[string]uint64)
		b.labeled[dir] = byLabel
	}
	byLabel[label]++
}

// dec removes one event from a bucket, saturating at zero. Returns false
// when the bucket was already empty.
func (b *countBuckets) dec(dir Direction, label string) bool {
	if label == "" {
		if b.unlabeled[dir] == 0 {
			return false
		}
		b.unlabeled[dir]--
		return true
	}
	byLabel := b.labeled[dir]
	if byLabel == nil || byLabel[label] == 0 {
		return false
	}
	byLabel[label]--
	return true
}

func (b *countBuckets) snapshot() (map[Direction]map[string]uint64, map[Direction]uint64) {
	labeled := make(map[Direction]map[string]uint64, len(b.labeled))
	for dir, byLabel := range b.labeled {
		inner := make(map[string]uint64, len(byLabel))
		for label, n := range byLabel {
			inner[label] = n
		}
		labeled[dir] = inner
	}
	unlabeled := make(map[Direction]uint64, len(b.unlabeled))
	for dir, n := range b.unlabeled {
		unlabeled[dir] = n
	}
	return labeled, unlabeled
}

// Counter aggregates crossing events into (direction × label) buckets.
// Interval counters and monotonic cumulative totals are maintained in
// parallel; the cumulative flag chooses which view Snapshot reports.
// All mutation and snapshotting is serialized on one mutex, so a late
// reclassification is atomic with respect to snapshot reads.
type Counter struct {
	mu sync.Mutex

	cumulativeMode bool
	startNanos     int64
	intervalStart  int64

	interval countBuckets
	total    countBuckets
}

// NewCounter creates an empty aggregator. cumulative selects the view
// Snapshot reports; both views are always maintained.
func NewCounter(cumulative bool, nowNanos int64) *Counter {
	return &Counter{
		cumulativeMode: cumulative,
		startNanos:     nowNanos,
		intervalStart:  nowNanos,
		interval:       newCountBuckets(),
		total:          newCountBuckets(),
	}
}

// RecordEvent counts one crossing event into the current interval and
// the cumulative totals. Events are counted exactly once; later label
// changes go through Reclassify.
func (c *Counter) RecordEvent(ev CrossingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval.inc(ev.Direction, ev.Label)
	c.total.inc(ev.Direction, ev.Label)
}

// Reclassify moves one already-counted event between label buckets
// atomically: unlabeled→label on a first binding, label→label on a
// replacement. retiredNanos is the event's retirement time; an event
// counted before the current interval started adjusts the cumulative
// totals only, since its interval has already been reported.
func (c *Counter) Reclassify(dir Direction, oldLabel, newLabel string, retiredNanos int64) {
	if oldLabel == newLabel {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.total.dec(dir, oldLabel) {
		Diagf("reclassify %s %q→%q: cumulative bucket already empty", dir, oldLabel, newLabel)
	} else {
		c.total.inc(dir, newLabel)
	}

	if retiredNanos < c.intervalStart {
		return
	}
	if !c.interval.dec(dir, oldLabel) {
		Diagf("reclassify %s %q→%q: interval bucket already empty", dir, oldLabel, newLabel)
		return
	}
	c.interval.inc(dir, newLabel)
}

// Snapshot returns the configured view (interval or cumulative) without
// resetting anything.
func (c *Counter) Snapshot(nowNanos int64) CountSnapshot {
	if c.cumulativeMode {
		return c.SnapshotCumulative(nowNanos)
	}
	return c.SnapshotInterval(nowNanos)
}

// SnapshotInterval returns the current interval's counts.
func (c *Counter) SnapshotInterval(nowNanos int64) CountSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	labeled, unlabeled := c.interval.snapshot()
	return CountSnapshot{
		IntervalStartUnixNanos: c.intervalStart,
		TakenUnixNanos:         nowNanos,
		Counts:                 labeled,
		Unlabeled:              unlabeled,
		Cumulative:             false,
	}
}

// SnapshotCumulative returns the monotonic totals since startup.
func (c *Counter) SnapshotCumulative(nowNanos int64) CountSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	labeled, unlabeled := c.total.snapshot()
	return CountSnapshot{
		IntervalStartUnixNanos: c.startNanos,
		TakenUnixNanos:         nowNanos,
		Counts:                 labeled,
		Unlabeled:              unlabeled,
		Cumulative:             true,
	}
}

// SnapshotAndReset harvests the elapsed interval and starts a new one.
// The report worker persists rollups from the returned snapshot; the
// cumulative totals are unaffected.
func (c *Counter) SnapshotAndReset(nowNanos int64) CountSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	labeled, unlabeled := c.interval.snapshot()
	snap := CountSnapshot{
		IntervalStartUnixNanos: c.intervalStart,
		TakenUnixNanos:         nowNanos,
		Counts:                 labeled,
		Unlabeled:              unlabeled,
		Cumulative:             false,
	}

	c.interval = newCountBuckets()
	c.intervalStart = nowNanos
	return snap
}
