package gate

import (
	"context"
	"time"

	"github.com/apiary-data/forager.report/internal/timeutil"
)

// ClassificationResult is one asynchronous labeling outcome from the
// classifier workers. TrackID carries the identity the crop was
// dispatched with; zero means the dispatcher lost it and the result
// must be matched spatially.
type ClassificationResult struct {
	TrackID    int64   `json:"track_id,omitempty"`
	UnixNanos  int64   `json:"unix_nanos"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// EventWriter persists crossing events keyed by event ID.
type EventWriter interface {
	UpsertCrossingEvent(ev CrossingEvent) error
}

// ReconcilerConfig bounds the fallback spatial match for results that
// arrive without a usable track identity.
type ReconcilerConfig struct {
	LabelLatencyWindow time.Duration
	LabelProximity     float32
}

// Reconciler applies classification results to live or archived tracks
// and keeps the count aggregator and persisted events consistent when a
// label lands after the track was already counted. A single goroutine
// runs it; Apply is also safe to call directly.
type Reconciler struct {
	tracker *Tracker
	counter *Counter
	stats   *GateStats
	events  EventWriter // nil disables persistence updates
	clock   timeutil.Clock
	cfg     ReconcilerConfig
}

// NewReconciler wires a reconciler over the tracker and counter. The
// events writer may be nil when persistence is disabled.
func NewReconciler(tracker *Tracker, counter *Counter, stats *GateStats, events EventWriter, clock timeutil.Clock, cfg ReconcilerConfig) *Reconciler {
	if stats == nil {
		stats = NewGateStats()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reconciler{
		tracker: tracker,
		counter: counter,
		stats:   stats,
		events:  events,
		clock:   clock,
		cfg:     cfg,
	}
}

// Apply binds one classification result. Results that cannot be matched
// to any track within the latency and proximity bounds are counted as
// orphans and dropped.
func (r *Reconciler) Apply(res ClassificationResult) {
	nowNanos := r.clock.Now().UnixNano()

	trackID := res.TrackID
	if trackID == 0 {
		id, ok := r.tracker.FindTrackNear(res.UnixNanos, res.X, res.Y, r.cfg.LabelLatencyWindow, r.cfg.LabelProximity)
		if !ok {
			r.orphan(res, "no track near result position")
			return
		}
		trackID = id
		Tracef("matched identity-less result %q to track %d by position", res.Label, trackID)
	}

	out, ok := r.tracker.BindLabel(trackID, res.Label, res.Confidence, res.UnixNanos, nowNanos)
	if !ok {
		r.orphan(res, "track unknown or past archive window")
		return
	}
	if !out.Bound {
		Tracef("label %q (%.2f) for track %d lost to existing %q", res.Label, res.Confidence, trackID, out.PrevLabel)
		return
	}

	r.stats.AddLabelBound(out.Replaced)
	Tracef("bound label %q (%.2f) to track %d (archived=%v)", res.Label, res.Confidence, trackID, out.Archived)

	if out.Event == nil {
		return
	}

	// The event was already counted at retirement under its previous
	// label. Move the tallies and rewrite the persisted row in place.
	if r.counter != nil {
		r.counter.Reclassify(out.Event.Direction, out.PrevLabel, res.Label, out.RetiredUnixNanos)
	}
	if r.events != nil {
		if err := r.events.UpsertCrossingEvent(*out.Event); err != nil {
			Opsf("failed to update relabeled event %s: %v", out.Event.EventID, err)
		}
	}
	Diagf("event %s relabeled %q to %q (track %d, %s)",
		out.Event.EventID, out.PrevLabel, res.Label, trackID, out.Event.Direction)
}

func (r *Reconciler) orphan(res ClassificationResult, reason string) {
	r.stats.AddOrphanedClassification()
	Diagf("orphaned classification %q (%.2f) for track %d at (%.1f, %.1f): %s",
		res.Label, res.Confidence, res.TrackID, res.X, res.Y, reason)
}

// Run drains results until the channel closes or the context is
// canceled.
func (r *Reconciler) Run(ctx context.Context, results <-chan ClassificationResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			r.Apply(res)
		}
	}
}
