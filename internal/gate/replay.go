package gate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apiary-data/forager.report/internal/timeutil"
)

// maxReplayLineBytes bounds a single recorded frame line.
const maxReplayLineBytes = 1 << 20

// ReplayOptions controls how recorded frames are fed back through the
// pipeline.
type ReplayOptions struct {
	// Pace sleeps between frames to reproduce the recorded cadence.
	// When false, frames are delivered as fast as the callback accepts
	// them.
	Pace bool
	// Clock is optional; if nil, uses the real clock.
	Clock timeutil.Clock
}

// ReplayFrames reads newline-delimited JSON detection frames from r and
// invokes fn for each, in file order. Blank lines are skipped; a
// malformed line aborts the replay with a line-numbered error. Returns
// the number of frames delivered.
func ReplayFrames(ctx context.Context, r io.Reader, opts ReplayOptions, fn func(DetectionFrame) error) (int, error) {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 64*1024), maxReplayLineBytes)

	frames := 0
	lineNum := 0
	prevNanos := int64(0)

	for scan.Scan() {
		lineNum++
		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame DetectionFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return frames, fmt.Errorf("replay line %d: %w", lineNum, err)
		}

		if opts.Pace && prevNanos > 0 && frame.UnixNanos > prevNanos {
			select {
			case <-ctx.Done():
				return frames, ctx.Err()
			case <-clock.After(time.Duration(frame.UnixNanos - prevNanos)):
			}
		} else if err := ctx.Err(); err != nil {
			return frames, err
		}
		prevNanos = frame.UnixNanos

		if err := fn(frame); err != nil {
			return frames, fmt.Errorf("replay line %d: %w", lineNum, err)
		}
		frames++
	}
	if err := scan.Err(); err != nil {
		return frames, fmt.Errorf("replay read: %w", err)
	}

	Opsf("replay delivered %d frames", frames)
	return frames, nil
}

// ReplayFile opens a recorded frame log and replays it through fn.
func ReplayFile(ctx context.Context, path string, opts ReplayOptions, fn func(DetectionFrame) error) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("replay open: %w", err)
	}
	defer f.Close()
	return ReplayFrames(ctx, f, opts, fn)
}

// FrameRecorder appends each frame it sees to w as one JSON line,
// producing files ReplayFrames can read back. It is not safe for
// concurrent use; the single-threaded frame path calls it in order.
type FrameRecorder struct {
	w   io.Writer
	enc *json.Encoder
}

// NewFrameRecorder wraps w for frame logging.
func NewFrameRecorder(w io.Writer) *FrameRecorder {
	return &FrameRecorder{w: w, enc: json.NewEncoder(w)}
}

// Record writes one frame line.
func (r *FrameRecorder) Record(frame DetectionFrame) error {
	return r.enc.Encode(frame)
}
