package gate

import (
	"testing"
)

func enteringEvent(label string) CrossingEvent {
	return CrossingEvent{Direction: DirectionEntering, Label: label}
}

func TestCounterRecordAndSnapshot(t *testing.T) {
	c := NewCounter(false, 1000)

	c.RecordEvent(enteringEvent("pollen"))
	c.RecordEvent(enteringEvent("pollen"))
	c.RecordEvent(enteringEvent(""))
	c.RecordEvent(CrossingEvent{Direction: DirectionExiting, Label: "wasp"})

	snap := c.SnapshotInterval(2000)
	if snap.IntervalStartUnixNanos != 1000 || snap.TakenUnixNanos != 2000 {
		t.Errorf("snapshot window = (%d, %d), want (1000, 2000)",
			snap.IntervalStartUnixNanos, snap.TakenUnixNanos)
	}
	if snap.Cumulative {
		t.Error("interval snapshot marked cumulative")
	}
	if got := snap.Counts[DirectionEntering]["pollen"]; got != 2 {
		t.Errorf("entering pollen = %d, want 2", got)
	}
	if got := snap.Unlabeled[DirectionEntering]; got != 1 {
		t.Errorf("entering unlabeled = %d, want 1", got)
	}
	if got := snap.DirectionTotal(DirectionEntering); got != 3 {
		t.Errorf("entering total = %d, want 3", got)
	}
	if got := snap.LabelTotal("wasp"); got != 1 {
		t.Errorf("wasp total = %d, want 1", got)
	}
	if got := snap.Total(); got != 4 {
		t.Errorf("grand total = %d, want 4", got)
	}
}

func TestCounterSnapshotAndReset(t *testing.T) {
	c := NewCounter(false, 1000)
	c.RecordEvent(enteringEvent("pollen"))

	first := c.SnapshotAndReset(5000)
	if got := first.Total(); got != 1 {
		t.Errorf("first interval total = %d, want 1", got)
	}

	// The interval is empty now; the cumulative totals are not.
	second := c.SnapshotInterval(6000)
	if got := second.Total(); got != 0 {
		t.Errorf("post-reset interval total = %d, want 0", got)
	}
	if second.IntervalStartUnixNanos != 5000 {
		t.Errorf("new interval start = %d, want 5000", second.IntervalStartUnixNanos)
	}
	cum := c.SnapshotCumulative(6000)
	if got := cum.Total(); got != 1 {
		t.Errorf("cumulative total after reset = %d, want 1", got)
	}
	if !cum.Cumulative {
		t.Error("cumulative snapshot not marked cumulative")
	}
}

func TestCounterSnapshotFollowsConfiguredView(t *testing.T) {
	c := NewCounter(true, 1000)
	c.RecordEvent(enteringEvent("pollen"))
	c.SnapshotAndReset(2000)

	// Cumulative mode: Snapshot keeps reporting the running totals
	// even after the interval was harvested.
	if got := c.Snapshot(3000).Total(); got != 1 {
		t.Errorf("cumulative view total = %d, want 1", got)
	}

	c2 := NewCounter(false, 1000)
	c2.RecordEvent(enteringEvent("pollen"))
	c2.SnapshotAndReset(2000)
	if got := c2.Snapshot(3000).Total(); got != 0 {
		t.Errorf("interval view total = %d, want 0", got)
	}
}

func TestCounterReclassifyWithinInterval(t *testing.T) {
	c := NewCounter(false, 1000)
	c.RecordEvent(enteringEvent(""))

	// Label arrives while the event's interval is still open: both
	// views move the count between buckets.
	c.Reclassify(DirectionEntering, "", "pollen", 1500)

	snap := c.SnapshotInterval(2000)
	if got := snap.Unlabeled[DirectionEntering]; got != 0 {
		t.Errorf("unlabeled after reclassify = %d, want 0", got)
	}
	if got := snap.Counts[DirectionEntering]["pollen"]; got != 1 {
		t.Errorf("pollen after reclassify = %d, want 1", got)
	}
	if got := snap.Total(); got != 1 {
		t.Errorf("total after reclassify = %d, want 1 (event must not be double counted)", got)
	}
}

func TestCounterReclassifyAfterIntervalReported(t *testing.T) {
	c := NewCounter(false, 1000)
	c.RecordEvent(enteringEvent(""))
	c.SnapshotAndReset(2000)

	// The event was counted in an already-reported interval; only the
	// cumulative totals may change.
	c.Reclassify(DirectionEntering, "", "pollen", 1500)

	interval := c.SnapshotInterval(3000)
	if got := interval.Total(); got != 0 {
		t.Errorf("current interval total = %d, want 0", got)
	}
	cum := c.SnapshotCumulative(3000)
	if got := cum.Counts[DirectionEntering]["pollen"]; got != 1 {
		t.Errorf("cumulative pollen = %d, want 1", got)
	}
	if got := cum.Unlabeled[DirectionEntering]; got != 0 {
		t.Errorf("cumulative unlabeled = %d, want 0", got)
	}
}

func TestCounterReclassifyNoOpAndEmptyBucket(t *testing.T) {
	c := NewCounter(false, 1000)
	c.RecordEvent(enteringEvent("pollen"))

	// Same label is a no-op.
	c.Reclassify(DirectionEntering, "pollen", "pollen", 1500)
	if got := c.SnapshotInterval(2000).Counts[DirectionEntering]["pollen"]; got != 1 {
		t.Errorf("pollen after no-op = %d, want 1", got)
	}

	// Decrementing an empty bucket must not underflow or invent counts.
	c.Reclassify(DirectionExiting, "wasp", "pollen", 1500)
	snap := c.SnapshotCumulative(2000)
	if got := snap.DirectionTotal(DirectionExiting); got != 0 {
		t.Errorf("exiting total after bogus reclassify = %d, want 0", got)
	}
}
