// Package pipeline wires the per-frame processing path: detections in,
// tracker update, crop dispatch. The callback it builds runs
// synchronously on the frame source's goroutine, which is what keeps
// frame ordering guarantees intact. Event counting and persistence
// happen inside the tracker at retirement (see Tracker.SetEventSinks),
// not here, so they stay atomic with label binding.
package pipeline

import (
	"reflect"

	"github.com/apiary-data/forager.report/internal/classify"
	"github.com/apiary-data/forager.report/internal/gate"
)

// CropDispatcher accepts classification requests without blocking.
type CropDispatcher interface {
	// Enqueue submits a crop for classification. False means the
	// dispatcher has shut down; a full queue is handled internally.
	Enqueue(req classify.Request) bool
}

// TrackingStage updates tracker state with one frame of detections and
// returns the crossing events retired by that update.
type TrackingStage interface {
	Update(frame gate.DetectionFrame) []gate.CrossingEvent
	GetLastAssociations() []int64
}

// FrameRecorder captures raw frames for later replay.
type FrameRecorder interface {
	Record(frame gate.DetectionFrame) error
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// GatePipelineConfig holds dependencies for the frame callback.
type GatePipelineConfig struct {
	// Tracker is the only mandatory stage.
	Tracker TrackingStage

	// Stats collects frame-path counters. Optional; a throwaway
	// instance is used when nil.
	Stats *gate.GateStats

	// Crops receives classification requests for detections that
	// carry a crop reference. Optional.
	Crops CropDispatcher

	// Recorder captures every frame before processing, for replay
	// capture. Optional.
	Recorder FrameRecorder
}

// NewFrameCallback builds the per-frame entry point. The callback is
// not safe for concurrent use; deliver frames from a single goroutine.
func (cfg *GatePipelineConfig) NewFrameCallback() func(gate.DetectionFrame) {
	stats := cfg.Stats
	if stats == nil {
		stats = gate.NewGateStats()
	}

	return func(frame gate.DetectionFrame) {
		if !isNilInterface(cfg.Recorder) {
			if err := cfg.Recorder.Record(frame); err != nil {
				opsf("failed to record frame %d: %v", frame.FrameIndex, err)
			}
		}

		stats.AddFrame(len(frame.Detections))

		events := cfg.Tracker.Update(frame)

		// Dispatch crops after the update so requests carry the track
		// identity each detection was associated with. Unassociated
		// detections go out with TrackID 0 and are matched spatially
		// when the result comes back.
		if !isNilInterface(cfg.Crops) {
			assoc := cfg.Tracker.GetLastAssociations()
			for i, det := range frame.Detections {
				if det.CropRef == "" {
					continue
				}
				var trackID int64
				if i < len(assoc) {
					trackID = assoc[i]
				}
				cfg.Crops.Enqueue(classify.Request{
					TrackID:    trackID,
					FrameIndex: frame.FrameIndex,
					UnixNanos:  frame.UnixNanos,
					X:          det.X,
					Y:          det.Y,
					CropRef:    det.CropRef,
				})
			}
		}

		if len(events) == 0 {
			return
		}
		stats.AddEvents(len(events))

		// Counting and persistence already happened inside the tracker
		// at retirement; all that remains here is bookkeeping.
		for _, ev := range events {
			diagf("event %s: track %d %s over %d frames",
				ev.EventID, ev.TrackID, ev.Direction, ev.Frames)
		}
	}
}
