package gate

import (
	"sync"
	"testing"
)

func TestGateStatsSnapshot(t *testing.T) {
	gs := NewGateStats()

	gs.AddFrame(3)
	gs.AddFrame(0)
	gs.AddEvents(2)
	gs.AddCropDispatched()
	gs.AddCropDropped()
	gs.AddLabelBound(false)
	gs.AddLabelBound(true)
	gs.AddOrphanedClassification()

	snap := gs.Snapshot()
	if snap.FramesProcessed != 2 {
		t.Errorf("frames = %d, want 2", snap.FramesProcessed)
	}
	if snap.DetectionsSeen != 3 {
		t.Errorf("detections = %d, want 3", snap.DetectionsSeen)
	}
	if snap.EventsEmitted != 2 {
		t.Errorf("events = %d, want 2", snap.EventsEmitted)
	}
	if snap.CropsDispatched != 1 || snap.CropsDropped != 1 {
		t.Errorf("crops = %d/%d, want 1/1", snap.CropsDispatched, snap.CropsDropped)
	}
	if snap.LabelsBound != 2 || snap.LabelsReplaced != 1 {
		t.Errorf("labels = %d bound / %d replaced, want 2/1", snap.LabelsBound, snap.LabelsReplaced)
	}
	if snap.OrphanedClassifications != 1 {
		t.Errorf("orphans = %d, want 1", snap.OrphanedClassifications)
	}
}

func TestGateStatsGetAndReset(t *testing.T) {
	gs := NewGateStats()
	gs.AddFrame(1)
	gs.AddEvents(1)

	snap, duration := gs.GetAndReset()
	if snap.FramesProcessed != 1 || snap.EventsEmitted != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if duration < 0 {
		t.Errorf("negative duration %v", duration)
	}

	after := gs.Snapshot()
	if after.FramesProcessed != 0 || after.EventsEmitted != 0 {
		t.Errorf("counters not reset: %+v", after)
	}
}

func TestGateStatsConcurrentUpdates(t *testing.T) {
	gs := NewGateStats()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				gs.AddFrame(1)
				gs.AddCropDispatched()
			}
		}()
	}
	wg.Wait()

	snap := gs.Snapshot()
	if snap.FramesProcessed != 800 {
		t.Errorf("frames = %d, want 800", snap.FramesProcessed)
	}
	if snap.CropsDispatched != 800 {
		t.Errorf("crops = %d, want 800", snap.CropsDispatched)
	}
}
