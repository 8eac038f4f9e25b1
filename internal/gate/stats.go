package gate

import (
	"sync"
	"time"
)

// GateStats tracks frame-path and reconciler counters with thread-safe
// operations. Track lifecycle totals live on the Tracker; callers that
// want a combined view fill them into StatsSnapshot from
// Tracker.LifecycleCounts.
type GateStats struct {
	mu              sync.Mutex
	frameCount      int64
	detectionCount  int64
	eventCount      int64
	cropsDispatched int64
	cropsDropped    int64
	labelsBound     int64
	labelsReplaced  int64
	orphanedResults int64
	lastReset       time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	FramesProcessed         int64 `json:"frames_processed"`
	DetectionsSeen          int64 `json:"detections_seen"`
	TracksCreated           int64 `json:"tracks_created"`
	TracksConfirmed         int64 `json:"tracks_confirmed"`
	TracksRetired           int64 `json:"tracks_retired"`
	EventsEmitted           int64 `json:"events_emitted"`
	CropsDispatched         int64 `json:"crops_dispatched"`
	CropsDropped            int64 `json:"crops_dropped"`
	LabelsBound             int64 `json:"labels_bound"`
	LabelsReplaced          int64 `json:"labels_replaced"`
	OrphanedClassifications int64 `json:"orphaned_classifications"`
}

// NewGateStats creates a new GateStats instance
func NewGateStats() *GateStats {
	return &GateStats{
		lastReset: time.Now(),
	}
}

// AddFrame increments frame count and detection count
func (gs *GateStats) AddFrame(detections int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.frameCount++
	gs.detectionCount += int64(detections)
}

// AddEvents increments the emitted crossing event count
func (gs *GateStats) AddEvents(count int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.eventCount += int64(count)
}

// AddCropDispatched increments the dispatched crop count
func (gs *GateStats) AddCropDispatched() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.cropsDispatched++
}

// AddCropDropped increments the dropped crop count
func (gs *GateStats) AddCropDropped() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.cropsDropped++
}

// AddLabelBound increments the bound label count, and the replaced
// count when the binding overwrote a different label.
func (gs *GateStats) AddLabelBound(replaced bool) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.labelsBound++
	if replaced {
		gs.labelsReplaced++
	}
}

// AddOrphanedClassification increments the orphaned result count
func (gs *GateStats) AddOrphanedClassification() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.orphanedResults++
}

// Snapshot returns the current counters without resetting them.
func (gs *GateStats) Snapshot() StatsSnapshot {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.snapshotLocked()
}

// GetAndReset returns current stats and resets counters
func (gs *GateStats) GetAndReset() (snap StatsSnapshot, duration time.Duration) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(gs.lastReset)
	snap = gs.snapshotLocked()

	gs.frameCount = 0
	gs.detectionCount = 0
	gs.eventCount = 0
	gs.cropsDispatched = 0
	gs.cropsDropped = 0
	gs.labelsBound = 0
	gs.labelsReplaced = 0
	gs.orphanedResults = 0
	gs.lastReset = now

	return snap, duration
}

func (gs *GateStats) snapshotLocked() StatsSnapshot {
	return StatsSnapshot{
		FramesProcessed:         gs.frameCount,
		DetectionsSeen:          gs.detectionCount,
		EventsEmitted:           gs.eventCount,
		CropsDispatched:         gs.cropsDispatched,
		CropsDropped:            gs.cropsDropped,
		LabelsBound:             gs.labelsBound,
		LabelsReplaced:          gs.labelsReplaced,
		OrphanedClassifications: gs.orphanedResults,
	}
}

// LogStats logs a one-line rate summary and resets the counters.
// Quiet when nothing happened since the last reset.
func (gs *GateStats) LogStats() {
	snap, duration := gs.GetAndReset()
	if snap.FramesProcessed == 0 && snap.OrphanedClassifications == 0 {
		return
	}

	framesPerSec := float64(snap.FramesProcessed) / duration.Seconds()
	Opsf("Gate stats (/sec): %.1f frames, %d detections, %d events, %d labels bound",
		framesPerSec, snap.DetectionsSeen, snap.EventsEmitted, snap.LabelsBound)

	if snap.CropsDropped > 0 {
		Opsf("Gate stats: %d crops dropped on dispatch", snap.CropsDropped)
	}
	if snap.OrphanedClassifications > 0 {
		Opsf("Gate stats: %d orphaned classification results", snap.OrphanedClassifications)
	}
}
