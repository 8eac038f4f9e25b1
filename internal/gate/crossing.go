package gate

// Direction is the inferred crossing outcome for a retired track.
type Direction string

const (
	DirectionEntering      Direction = "entering"
	DirectionExiting       Direction = "exiting"
	DirectionIndeterminate Direction = "indeterminate"
)

// CrossingEvent is the immutable record of one retired track's inferred
// crossing. EventID is a UUID used for persistence and late-label
// correlation; TrackID is the process-unique track identity. A late
// label binding produces an updated copy, never a mutation of a copy
// already handed out.
type CrossingEvent struct {
	EventID         string    `json:"event_id"`
	TrackID         int64     `json:"track_id"`
	Direction       Direction `json:"direction"`
	FirstUnixNanos  int64     `json:"first_unix_nanos"`
	LastUnixNanos   int64     `json:"last_unix_nanos"`
	FirstY          float32   `json:"first_y"`
	LastY           float32   `json:"last_y"`
	Frames          int       `json:"frames"`
	Label           string    `json:"label,omitempty"`
	LabelConfidence float32   `json:"label_confidence,omitempty"`
}

// CrossingConfig is the geometry for crossing inference. The entry line
// is horizontal at EntryLineY; EntryIsPositiveY says which side of it is
// the hive side (true: y greater than the line is inside).
type CrossingConfig struct {
	EntryLineY              float32
	EntryIsPositiveY        bool
	MinCrossingDisplacement float32
}

// ResolveCrossing classifies a finalized track history. It is a
// deterministic function of the history alone and is evaluated exactly
// once, at retirement.
//
// A directional outcome requires exactly one side transition between the
// first and last recorded positions and a net Y displacement of at least
// MinCrossingDisplacement. Zero transitions, oscillation across the line,
// or a sub-threshold displacement all yield Indeterminate. Points exactly
// on the line count as the non-positive side.
func ResolveCrossing(history []TrackPoint, cfg CrossingConfig) Direction {
	if len(history) < 2 {
		return DirectionIndeterminate
	}

	side := func(y float32) bool { return y > cfg.EntryLineY }

	transitions := 0
	prev := side(history[0].Y)
	for _, p := range history[1:] {
		s := side(p.Y)
		if s != prev {
			transitions++
			prev = s
		}
	}
	if transitions != 1 {
		return DirectionIndeterminate
	}

	firstY := history[0].Y
	lastY := history[len(history)-1].Y
	disp := lastY - firstY
	if disp < 0 {
		disp = -disp
	}
	if disp < cfg.MinCrossingDisplacement {
		return DirectionIndeterminate
	}

	endedPositive := side(lastY)
	if endedPositive == cfg.EntryIsPositiveY {
		return DirectionEntering
	}
	return DirectionExiting
}
