// Package classify submits tracked detection crops to an external
// classifier and delivers the resulting labels back to the tracking
// side as a stream of classification results. Submission is decoupled
// from the frame loop by a bounded queue: classification is best
// effort and must never stall tracking.
package classify

import (
	"context"
	"sync"

	"github.com/apiary-data/forager.report/internal/gate"
)

// Labels the classifier can produce. A crossing event keeps an empty
// label when no classification arrived in time.
const (
	LabelWasp    = "wasp"
	LabelVarroa  = "varroa"
	LabelPollen  = "pollen"
	LabelCooling = "cooling"
)

// KnownLabels lists every label the downstream counters bucket by.
var KnownLabels = []string{LabelWasp, LabelVarroa, LabelPollen, LabelCooling}

// IsKnownLabel reports whether label is one the system aggregates.
func IsKnownLabel(label string) bool {
	for _, known := range KnownLabels {
		if label == known {
			return true
		}
	}
	return false
}

// Request is one crop submitted for classification, carrying enough
// detection context to rebind the result to its track later.
type Request struct {
	TrackID    int64   `json:"track_id"`
	FrameIndex int64   `json:"frame_index"`
	UnixNanos  int64   `json:"unix_nanos"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	CropRef    string  `json:"crop_ref"`
}

// Prediction is a classifier's answer for one request.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Classifier produces a label for one crop. Implementations may block
// on I/O; the dispatcher calls them from worker goroutines only.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Prediction, error)
}

// DispatcherConfig sizes the submission queue and worker pool.
type DispatcherConfig struct {
	// QueueDepth bounds pending requests. When full, the oldest pending
	// request is dropped to admit the newest.
	QueueDepth int
	// Workers is the number of concurrent classification calls.
	Workers int
}

// DefaultQueueDepth bounds pending crops when the config gives none.
const DefaultQueueDepth = 20

// Dispatcher owns the bounded request queue and the worker pool that
// drains it. Enqueue never blocks the caller; when the queue is full
// the oldest request is discarded, on the grounds that a fresher crop
// of the same scene is more likely to still have a live track.
type Dispatcher struct {
	classifier Classifier
	stats      *gate.GateStats

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Request
	depth  int
	closed bool

	workers int
	results chan gate.ClassificationResult
}

// NewDispatcher creates a stopped dispatcher; call Run to start the
// workers. stats may be nil.
func NewDispatcher(classifier Classifier, stats *gate.GateStats, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if stats == nil {
		stats = gate.NewGateStats()
	}
	d := &Dispatcher{
		classifier: classifier,
		stats:      stats,
		depth:      cfg.QueueDepth,
		workers:    cfg.Workers,
		results:    make(chan gate.ClassificationResult, cfg.QueueDepth),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Results is the stream of successful classifications. It is closed
// when Run returns.
func (d *Dispatcher) Results() <-chan gate.ClassificationResult {
	return d.results
}

// Enqueue submits one request without blocking. It returns false only
// after the dispatcher has shut down; a full queue instead evicts the
// oldest pending request and admits this one.
func (d *Dispatcher) Enqueue(req Request) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	if len(d.queue) >= d.depth {
		evicted := d.queue[0]
		d.queue = d.queue[1:]
		d.stats.AddCropDropped()
		Diagf("queue full (%d), dropped oldest request for track %d frame %d",
			d.depth, evicted.TrackID, evicted.FrameIndex)
	}
	d.queue = append(d.queue, req)
	d.stats.AddCropDispatched()
	d.cond.Signal()
	return true
}

// Pending returns the current queue length.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run starts the worker pool and blocks until ctx is canceled, then
// drains the workers and closes the results channel. Requests still
// queued at cancellation are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.worker(ctx, id)
		}(i)
	}

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	wg.Wait()
	close(d.results)
	Opsf("dispatcher stopped (%d workers)", d.workers)
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	for {
		req, ok := d.next()
		if !ok {
			return
		}

		pred, err := d.classifier.Classify(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			Diagf("worker %d: classify track %d frame %d failed: %v",
				id, req.TrackID, req.FrameIndex, err)
			continue
		}
		if pred.Label == "" {
			Tracef("worker %d: track %d frame %d unclassified", id, req.TrackID, req.FrameIndex)
			continue
		}
		if !IsKnownLabel(pred.Label) {
			Diagf("worker %d: unknown label %q for track %d", id, pred.Label, req.TrackID)
		}

		res := gate.ClassificationResult{
			TrackID:    req.TrackID,
			UnixNanos:  req.UnixNanos,
			X:          req.X,
			Y:          req.Y,
			Label:      pred.Label,
			Confidence: pred.Confidence,
		}

		select {
		case d.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// next blocks until a request is available or the dispatcher closes.
func (d *Dispatcher) next() (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.queue) == 0 {
		return Request{}, false
	}
	req := d.queue[0]
	d.queue = d.queue[1:]
	return req, true
}
