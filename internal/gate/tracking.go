package gate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/apiary-data/forager.report/internal/config"
	"github.com/google/uuid"
)

// TrackStatus represents the lifecycle state of a track.
type TrackStatus string

const (
	TrackTentative TrackStatus = "tentative" // New track, needs confirmation
	TrackConfirmed TrackStatus = "confirmed" // Stable track with sufficient history
	TrackLost      TrackStatus = "lost"      // Miss budget exceeded; consumed by retirement within the same frame
	TrackRetired   TrackStatus = "retired"   // Finalized, held in the archive for late labels
)

// maxSpeedHistorySamples bounds the per-track speed trace used for
// quality percentiles.
const maxSpeedHistorySamples = 256

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	MaxTracks             int     // Maximum number of concurrent live tracks
	MaxMisses             int     // Consecutive misses before tentative track retirement
	MaxMissesConfirmed    int     // Consecutive misses before confirmed track retirement (coasting)
	HitsToConfirm         int     // Consecutive hits needed for confirmation
	GatingDistanceSquared float32 // Squared association gate (σ² Mahalanobis, px² Euclidean)
	AssignmentMethod      string  // "greedy" or "optimal"
	UseEuclideanGate      bool    // Gate on pixel distance instead of Mahalanobis
	ProcessNoisePos       float32 // Process noise for position (σ², dt-normalised)
	ProcessNoiseVel       float32 // Process noise for velocity (σ², dt-normalised)
	MeasurementNoise      float32 // Measurement noise (σ²)
	MaxPredictDt          float32 // Maximum dt (seconds) per predict step
	MaxCovarianceDiag     float32 // Maximum covariance diagonal element

	// History limits
	MaxTrackHistoryLength int // Maximum position trail length

	// Retired-track archive
	ArchiveWindow     time.Duration // How long retired tracks stay bindable
	MaxArchivedTracks int           // Hard cap on archived tracks

	// Crossing geometry
	EntryLineY              float32
	EntryIsPositiveY        bool
	MinCrossingDisplacement float32
}

// DefaultTrackerConfig returns tracker configuration loaded from the
// canonical tuning defaults file (config/gate.defaults.json).
// Panics if the file cannot be found — intended for tests and binaries
// that have already validated config availability.
func DefaultTrackerConfig() TrackerConfig {
	cfg := config.MustLoadDefaultConfig()
	return TrackerConfigFromTuning(cfg)
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MaxTracks:               cfg.GetMaxTracks(),
		MaxMisses:               cfg.GetMaxMisses(),
		MaxMissesConfirmed:      cfg.GetMaxMissesConfirmed(),
		HitsToConfirm:           cfg.GetHitsToConfirm(),
		GatingDistanceSquared:   float32(cfg.GetGatingDistanceSquared()),
		AssignmentMethod:        cfg.GetAssignmentMethod(),
		UseEuclideanGate:        cfg.GetUseEuclideanGate(),
		ProcessNoisePos:         float32(cfg.GetProcessNoisePos()),
		ProcessNoiseVel:         float32(cfg.GetProcessNoiseVel()),
		MeasurementNoise:        float32(cfg.GetMeasurementNoise()),
		MaxPredictDt:            float32(cfg.GetMaxPredictDt()),
		MaxCovarianceDiag:       float32(cfg.GetMaxCovarianceDiag()),
		MaxTrackHistoryLength:   cfg.GetMaxTrackHistory(),
		ArchiveWindow:           cfg.GetArchiveWindow(),
		MaxArchivedTracks:       cfg.GetMaxArchivedTracks(),
		EntryLineY:              float32(cfg.GetEntryLineY()),
		EntryIsPositiveY:        cfg.GetEntryIsPositiveY(),
		MinCrossingDisplacement: float32(cfg.GetMinCrossingDisplacement()),
	}
}

// Track represents one insect identity at the hive entrance. The ID is
// process-unique and never reused; the identity persists across missed
// frames until retirement.
type Track struct {
	// Identity
	ID     int64
	Status TrackStatus

	// Lifecycle counters
	Hits          int  // Consecutive successful associations
	Misses        int  // Consecutive missed associations
	EverConfirmed bool // Reached Confirmed at least once

	// Timestamps and frame bounds of accepted observations
	FirstUnixNanos int64
	LastUnixNanos  int64
	FirstFrame     int64
	LastFrame      int64

	// Estimator state (pane pixel frame): [x, y, vx, vy]
	X  float32
	Y  float32
	VX float32 // px/s
	VY float32 // px/s

	// Estimator covariance (4x4, row-major)
	P [16]float32

	// Aggregated features
	ObservationCount int
	WidthAvg         float32
	HeightAvg        float32
	AvgSpeedPx       float32 // px/s
	PeakSpeedPx      float32 // px/s

	// History of accepted observations (filtered positions). Coasted
	// predictions are never appended.
	History []TrackPoint

	// Speed trace for percentile computation
	speedHistory []float32

	// Pending label slot (at most one bound label)
	Label           string
	LabelConfidence float32
	LabelUnixNanos  int64

	// Retirement outcome, set exactly once
	Direction        Direction
	EventID          string // "" when the track retired without an event
	RetiredUnixNanos int64

	// degenerate marks an estimator failure; the crossing outcome is
	// forced to Indeterminate.
	degenerate bool
}

// Speed returns the current speed magnitude in px/s.
func (track *Track) Speed() float32 {
	return float32(math.Sqrt(float64(track.VX*track.VX + track.VY*track.VY)))
}

// Heading returns the current heading in radians.
func (track *Track) Heading() float32 {
	return float32(math.Atan2(float64(track.VY), float64(track.VX)))
}

// SpeedHistory returns a copy of the track's speed trace.
func (track *Track) SpeedHistory() []float32 {
	if track.speedHistory == nil {
		return nil
	}
	result := make([]float32, len(track.speedHistory))
	copy(result, track.speedHistory)
	return result
}

// DurationSeconds returns the observed lifetime of the track.
func (track *Track) DurationSeconds() float32 {
	if track.LastUnixNanos <= track.FirstUnixNanos {
		return 0
	}
	return float32(track.LastUnixNanos-track.FirstUnixNanos) / 1e9
}

// Tracker owns the live track set and the retired archive. The frame
// path calls Update sequentially; the reconciler and the monitor access
// shared state through the lock-taking methods.
type Tracker struct {
	Tracks      map[int64]*Track
	NextTrackID int64
	Config      TrackerConfig

	// Last update timestamp for dt computation
	LastUpdateNanos int64

	// Lifecycle counters
	TracksCreated   int
	TracksConfirmed int
	TracksRetired   int

	// Retired tracks, bindable until ArchiveWindow elapses. archiveOrder
	// is FIFO by retirement time and drives expiry and the size cap.
	archived     map[int64]*Track
	archiveOrder []int64

	// Event sinks fed inside retire() while the tracker lock is held.
	// Counting there, not on the caller's side of Update, means a late
	// label binding can never observe a retired-but-uncounted event.
	counter *Counter
	events  EventWriter

	// lastAssociations stores the result of the most recent Update()
	// association, indexed by detection; 0 means unassociated.
	lastAssociations []int64

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		Tracks:      make(map[int64]*Track),
		NextTrackID: 1,
		Config:      cfg,
		archived:    make(map[int64]*Track),
	}
}

// SetEventSinks wires the count aggregator and the event writer invoked
// at retirement. Both are optional and may be nil. Call before the
// first Update; the sinks run under the tracker lock, so retirement,
// counting and the initial persisted row are atomic with respect to
// BindLabel.
func (t *Tracker) SetEventSinks(counter *Counter, events EventWriter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counter = counter
	t.events = events
}

// UpdateConfig applies the given function to the tracker's configuration
// under the tracker lock. This is the safe way to mutate Config fields
// from outside the frame goroutine (e.g. HTTP tuning handlers).
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.Config)
}

// Reset clears all live and archived tracks and restarts identity
// numbering. Used between replay runs so each starts with a clean
// estimator state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Tracks = make(map[int64]*Track)
	t.NextTrackID = 1
	t.LastUpdateNanos = 0
	t.TracksCreated = 0
	t.TracksConfirmed = 0
	t.TracksRetired = 0
	t.archived = make(map[int64]*Track)
	t.archiveOrder = nil
	t.lastAssociations = nil
}

// Update processes one frame of detections and returns the crossing
// events emitted by tracks retired during this frame. This is the main
// entry point for the frame path and must be called from one goroutine.
func (t *Tracker) Update(frame DetectionFrame) []CrossingEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := frame.UnixNanos
	dets := frame.Detections

	// Compute dt (time delta since last update)
	var dt float32
	if t.LastUpdateNanos > 0 {
		dt = float32(nowNanos-t.LastUpdateNanos) / 1e9
	} else {
		dt = 0.1 // Default 100ms for first frame
	}
	if dt < 0 {
		Opsf("frame %d timestamp went backwards (%d < %d), clamping dt to 0",
			frame.FrameIndex, nowNanos, t.LastUpdateNanos)
		dt = 0
	}
	// Clamp dt so replay catch-up or a stalled camera doesn't create an
	// inflated time step for association gating. predict() also clamps
	// independently.
	if dt > t.Config.MaxPredictDt {
		dt = t.Config.MaxPredictDt
	}
	t.LastUpdateNanos = nowNanos

	// Step 1: Predict all live tracks to current time
	for _, track := range t.Tracks {
		if track.Status != TrackLost {
			t.predict(track, dt)
		}
	}

	// Step 2: Associate detections to track predictions
	preds, predIDs := t.buildPredictions()
	result := Associate(dets, preds, AssociateOptions{
		GatingDistanceSquared: t.Config.GatingDistanceSquared,
		Method:                t.Config.AssignmentMethod,
		Euclidean:             t.Config.UseEuclideanGate,
	})

	t.lastAssociations = make([]int64, len(dets))
	for _, pair := range result.Pairs {
		t.lastAssociations[pair.DetIndex] = predIDs[pair.TrackIndex]
	}

	// Step 3: Update matched tracks
	matched := make(map[int64]bool)
	for _, pair := range result.Pairs {
		track := t.Tracks[predIDs[pair.TrackIndex]]
		if track == nil || track.Status == TrackLost {
			continue
		}
		if !t.kalmanUpdate(track, dets[pair.DetIndex]) {
			// Degenerate; retired below. The detection stays consumed.
			continue
		}
		t.observe(track, dets[pair.DetIndex], frame.FrameIndex, nowNanos)
		track.Hits++
		track.Misses = 0
		matched[track.ID] = true

		// Promote tentative → confirmed
		if track.Status == TrackTentative && track.Hits >= t.Config.HitsToConfirm {
			track.Status = TrackConfirmed
			track.EverConfirmed = true
			t.TracksConfirmed++
			Diagf("track %d confirmed after %d hits", track.ID, track.Hits)
		}
	}

	// Step 4: Unmatched tracks coast on the prediction. The miss budget
	// depends on maturity: confirmed tracks are allowed more missed
	// frames (MaxMissesConfirmed) than tentative ones (MaxMisses).
	for id, track := range t.Tracks {
		if matched[id] || track.Status == TrackLost {
			continue
		}
		track.Misses++
		track.Hits = 0

		maxMisses := t.Config.MaxMisses
		if track.Status == TrackConfirmed && t.Config.MaxMissesConfirmed > 0 {
			maxMisses = t.Config.MaxMissesConfirmed
		}
		if track.Misses >= maxMisses {
			track.Status = TrackLost
		}
	}

	// Step 5: Initialise new tentative tracks from unmatched detections
	budgetLogged := false
	for _, di := range result.UnmatchedDets {
		if len(t.Tracks) >= t.Config.MaxTracks {
			if !budgetLogged {
				Opsf("live track budget exhausted (%d), dropping unmatched detections in frame %d",
					t.Config.MaxTracks, frame.FrameIndex)
				budgetLogged = true
			}
			continue
		}
		t.initTrack(dets[di], frame.FrameIndex, nowNanos)
	}

	// Step 6: Retire lost tracks, resolving crossings and emitting events
	var events []CrossingEvent
	for _, track := range t.Tracks {
		if track.Status != TrackLost {
			continue
		}
		if ev := t.retire(track, nowNanos); ev != nil {
			events = append(events, *ev)
		}
	}

	t.purgeArchive(nowNanos)

	Tracef("frame %d: %d dets, %d matched, %d live, %d events",
		frame.FrameIndex, len(dets), len(result.Pairs), len(t.Tracks), len(events))

	return events
}

// buildPredictions flattens the live tracks into association input,
// ordered by ascending ID for deterministic replay.
func (t *Tracker) buildPredictions() ([]TrackPrediction, []int64) {
	ids := make([]int64, 0, len(t.Tracks))
	for id, track := range t.Tracks {
		if track.Status == TrackLost {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	preds := make([]TrackPrediction, 0, len(ids))
	for _, id := range ids {
		track := t.Tracks[id]
		s00, s01, s10, s11 := t.innovationCovariance(track)
		preds = append(preds, TrackPrediction{
			TrackID:    id,
			X:          track.X,
			Y:          track.Y,
			S00:        s00,
			S01:        s01,
			S10:        s10,
			S11:        s11,
			HistoryLen: track.ObservationCount,
		})
	}
	return preds, ids
}

// observe folds an accepted observation into the track: timestamps,
// running feature averages, history and speed trace.
func (t *Tracker) observe(track *Track, det Detection, frameIndex, nowNanos int64) {
	track.LastUnixNanos = nowNanos
	track.LastFrame = frameIndex
	track.ObservationCount++

	n := float32(track.ObservationCount)
	track.WidthAvg = ((n-1)*track.WidthAvg + det.W) / n
	track.HeightAvg = ((n-1)*track.HeightAvg + det.H) / n

	speed := track.Speed()
	track.AvgSpeedPx = ((n-1)*track.AvgSpeedPx + speed) / n
	if speed > track.PeakSpeedPx {
		track.PeakSpeedPx = speed
	}

	// Append the filtered position, not the raw detection.
	track.History = append(track.History, TrackPoint{
		X:          track.X,
		Y:          track.Y,
		FrameIndex: frameIndex,
		UnixNanos:  nowNanos,
	})
	if len(track.History) > t.Config.MaxTrackHistoryLength {
		track.History = track.History[len(track.History)-t.Config.MaxTrackHistoryLength:]
	}

	track.speedHistory = append(track.speedHistory, speed)
	if len(track.speedHistory) > maxSpeedHistorySamples {
		track.speedHistory = track.speedHistory[1:]
	}
}

// initTrack creates a new tentative track from an unassociated detection.
// IDs are process-unique and never reused.
func (t *Tracker) initTrack(det Detection, frameIndex, nowNanos int64) *Track {
	id := t.NextTrackID
	t.NextTrackID++

	track := &Track{
		ID:     id,
		Status: TrackTentative,
		Hits:   1,
		Misses: 0,

		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,
		FirstFrame:     frameIndex,
		LastFrame:      frameIndex,

		// Position from the detection, zero velocity seed
		X:  det.X,
		Y:  det.Y,
		VX: 0,
		VY: 0,

		P: initialCovariance,

		ObservationCount: 1,
		WidthAvg:         det.W,
		HeightAvg:        det.H,

		History: []TrackPoint{{
			X:          det.X,
			Y:          det.Y,
			FrameIndex: frameIndex,
			UnixNanos:  nowNanos,
		}},

		speedHistory: make([]float32, 0, maxSpeedHistorySamples),
	}

	if track.Hits >= t.Config.HitsToConfirm {
		track.Status = TrackConfirmed
		track.EverConfirmed = true
		t.TracksConfirmed++
	}

	t.Tracks[id] = track
	t.TracksCreated++
	return track
}

// retire finalizes a lost track: resolve the crossing once, emit the
// event when the track was ever confirmed, and move it to the archive.
// The event is counted and persisted here, before the tracker lock is
// released, so a concurrent BindLabel always sees a counted event.
// Returns nil for silent retirements.
func (t *Tracker) retire(track *Track, nowNanos int64) *CrossingEvent {
	delete(t.Tracks, track.ID)
	track.Status = TrackRetired
	track.RetiredUnixNanos = nowNanos
	t.TracksRetired++
	t.archived[track.ID] = track
	t.archiveOrder = append(t.archiveOrder, track.ID)

	if !track.EverConfirmed {
		track.Direction = DirectionIndeterminate
		Tracef("track %d retired silently (never confirmed, %d obs)", track.ID, track.ObservationCount)
		return nil
	}

	if track.degenerate {
		track.Direction = DirectionIndeterminate
	} else {
		track.Direction = ResolveCrossing(track.History, CrossingConfig{
			EntryLineY:              t.Config.EntryLineY,
			EntryIsPositiveY:        t.Config.EntryIsPositiveY,
			MinCrossingDisplacement: t.Config.MinCrossingDisplacement,
		})
	}

	track.EventID = uuid.NewString()
	ev := t.eventForTrack(track)
	if t.counter != nil {
		t.counter.RecordEvent(ev)
	}
	if t.events != nil {
		if err := t.events.UpsertCrossingEvent(ev); err != nil {
			Opsf("failed to persist event %s: %v", ev.EventID, err)
		}
	}
	Diagf("track %d retired %s after %d obs (y %.1f → %.1f)",
		track.ID, track.Direction, track.ObservationCount, ev.FirstY, ev.LastY)
	return &ev
}

// eventForTrack builds the crossing event for a retired track. Called
// at retirement and again when a late label binding updates the stored
// row; the EventID is stable across both.
func (t *Tracker) eventForTrack(track *Track) CrossingEvent {
	var firstY, lastY float32
	if len(track.History) > 0 {
		firstY = track.History[0].Y
		lastY = track.History[len(track.History)-1].Y
	}
	return CrossingEvent{
		EventID:         track.EventID,
		TrackID:         track.ID,
		Direction:       track.Direction,
		FirstUnixNanos:  track.FirstUnixNanos,
		LastUnixNanos:   track.LastUnixNanos,
		FirstY:          firstY,
		LastY:           lastY,
		Frames:          track.ObservationCount,
		Label:           track.Label,
		LabelConfidence: track.LabelConfidence,
	}
}

// purgeArchive drops archived tracks whose window has elapsed, then
// enforces the size cap oldest-first.
func (t *Tracker) purgeArchive(nowNanos int64) {
	windowNanos := int64(t.Config.ArchiveWindow)
	for len(t.archiveOrder) > 0 {
		id := t.archiveOrder[0]
		track := t.archived[id]
		expired := track == nil || nowNanos-track.RetiredUnixNanos > windowNanos
		overCap := len(t.archiveOrder) > t.Config.MaxArchivedTracks
		if !expired && !overCap {
			break
		}
		delete(t.archived, id)
		t.archiveOrder = t.archiveOrder[1:]
	}
}

// BindOutcome describes what a BindLabel call changed.
type BindOutcome struct {
	Bound     bool   // the label slot changed
	Replaced  bool   // a different previous label was displaced
	PrevLabel string // label before the call ("" when unlabeled)
	Archived  bool   // the track had already retired
	// Event is the updated event copy when an archived event changed
	// label; nil otherwise. The event was counted and persisted at
	// retirement, so the caller reclassifies the aggregator and
	// rewrites the stored row from this copy.
	Event *CrossingEvent
	// RetiredUnixNanos is the archived track's retirement time, which
	// is also when its event was counted.
	RetiredUnixNanos int64
}

// BindLabel attaches a classification label to a live or archived track.
// At most one label is bound: higher confidence wins, equal confidence
// goes to the most recent arrival. Returns ok=false when the track is
// unknown or its archive window has elapsed; the caller records the
// orphan.
func (t *Tracker) BindLabel(trackID int64, label string, confidence float32, resultNanos, nowNanos int64) (BindOutcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out BindOutcome
	track := t.Tracks[trackID]
	if track == nil {
		track = t.archived[trackID]
		if track == nil {
			return out, false
		}
		if nowNanos-track.RetiredUnixNanos > int64(t.Config.ArchiveWindow) {
			return out, false
		}
		out.Archived = true
	}

	out.PrevLabel = track.Label
	if track.Label != "" && confidence < track.LabelConfidence {
		return out, true // found, existing label kept
	}

	out.Replaced = track.Label != "" && track.Label != label
	track.Label = label
	track.LabelConfidence = confidence
	track.LabelUnixNanos = resultNanos
	out.Bound = true

	if out.Archived && track.EventID != "" {
		ev := t.eventForTrack(track)
		out.Event = &ev
		out.RetiredUnixNanos = track.RetiredUnixNanos
	}
	return out, true
}

// FindTrackNear locates the track whose history point closest to (x, y)
// lies within latency of unixNanos and within proximity pixels. Used by
// the reconciler when a classification result carries no identity.
// Ties prefer the spatially closer track.
func (t *Tracker) FindTrackNear(unixNanos int64, x, y float32, latency time.Duration, proximity float32) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	latNanos := int64(latency)
	prox2 := proximity * proximity
	bestID := int64(0)
	bestDist2 := float32(math.MaxFloat32)
	bestDt := int64(math.MaxInt64)

	consider := func(track *Track) {
		for _, p := range track.History {
			dtAbs := p.UnixNanos - unixNanos
			if dtAbs < 0 {
				dtAbs = -dtAbs
			}
			if dtAbs > latNanos {
				continue
			}
			dx := p.X - x
			dy := p.Y - y
			d2 := dx*dx + dy*dy
			if d2 > prox2 {
				continue
			}
			if d2 < bestDist2 || (d2 == bestDist2 && dtAbs < bestDt) {
				bestDist2 = d2
				bestDt = dtAbs
				bestID = track.ID
			}
		}
	}
	for _, track := range t.Tracks {
		consider(track)
	}
	for _, track := range t.archived {
		consider(track)
	}
	return bestID, bestID != 0
}

// copyTrack snapshots a track: shallow copy with deep-copied slices, safe
// to read without the tracker lock.
func copyTrack(track *Track) *Track {
	copied := *track
	if len(track.History) > 0 {
		copied.History = make([]TrackPoint, len(track.History))
		copy(copied.History, track.History)
	}
	if len(track.speedHistory) > 0 {
		copied.speedHistory = make([]float32, len(track.speedHistory))
		copy(copied.speedHistory, track.speedHistory)
	}
	return &copied
}

// GetActiveTracks returns copies of the current live tracks.
func (t *Tracker) GetActiveTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]*Track, 0, len(t.Tracks))
	for _, track := range t.Tracks {
		active = append(active, copyTrack(track))
	}
	return active
}

// GetConfirmedTracks returns copies of the live tracks currently confirmed.
func (t *Tracker) GetConfirmedTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	confirmed := make([]*Track, 0)
	for _, track := range t.Tracks {
		if track.Status == TrackConfirmed {
			confirmed = append(confirmed, copyTrack(track))
		}
	}
	return confirmed
}

// GetArchivedTracks returns copies of the retired tracks still inside
// the archive window, oldest first.
func (t *Tracker) GetArchivedTracks() []*Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Track, 0, len(t.archiveOrder))
	for _, id := range t.archiveOrder {
		if track := t.archived[id]; track != nil {
			out = append(out, copyTrack(track))
		}
	}
	return out
}

// GetTrack returns a copy of a live or archived track, or nil.
func (t *Tracker) GetTrack(trackID int64) *Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if track := t.Tracks[trackID]; track != nil {
		return copyTrack(track)
	}
	if track := t.archived[trackID]; track != nil {
		return copyTrack(track)
	}
	return nil
}

// GetTrackCount returns counts of live tracks by status plus the
// archive size.
func (t *Tracker) GetTrackCount() (total, tentative, confirmed, archived int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, track := range t.Tracks {
		total++
		switch track.Status {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		}
	}
	archived = len(t.archived)
	return
}

// LifecycleCounts returns the lifetime created/confirmed/retired totals.
func (t *Tracker) LifecycleCounts() (created, confirmed, retired int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return int64(t.TracksCreated), int64(t.TracksConfirmed), int64(t.TracksRetired)
}

// GetLastAssociations returns a copy of the most recent detection-to-track
// associations produced by Update(). The returned slice is indexed by
// detection; 0 means the detection was unassociated (and may have
// spawned a new track).
func (t *Tracker) GetLastAssociations() []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastAssociations == nil {
		return nil
	}
	out := make([]int64, len(t.lastAssociations))
	copy(out, t.lastAssociations)
	return out
}
