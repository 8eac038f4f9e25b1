package monitor

import (
	"fmt"
	"image/color"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/apiary-data/forager.report/internal/fsutil"
	"github.com/apiary-data/forager.report/internal/gate"
	"github.com/apiary-data/forager.report/internal/httputil"
	"github.com/apiary-data/forager.report/internal/security"
)

// TrackPlotter renders track traces (Y position vs frame) as PNG plots
// for offline inspection of tracker behaviour, typically after a replay
// run. The entry line is drawn so crossings are visible at a glance.
type TrackPlotter struct {
	mu         sync.Mutex
	fs         fsutil.FileSystem
	outputDir  string
	entryLineY float64
}

// NewTrackPlotter creates a plotter writing beneath baseDir on the
// given filesystem. entryLineY is drawn as a reference line.
func NewTrackPlotter(fs fsutil.FileSystem, baseDir string, entryLineY float64) *TrackPlotter {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &TrackPlotter{
		fs:         fs,
		outputDir:  baseDir,
		entryLineY: entryLineY,
	}
}

// SetOutputDir changes the directory plots are saved to.
func (tp *TrackPlotter) SetOutputDir(dir string) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.outputDir = dir
}

// GetOutputDir returns the current output directory for plots.
func (tp *TrackPlotter) GetOutputDir() string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.outputDir
}

// buildPlot assembles a Y-vs-frame plot for the given tracks.
func (tp *TrackPlotter) buildPlot(tracks []*gate.Track, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Y (px)"

	// Sort for a stable legend
	sorted := make([]*gate.Track, len(tracks))
	copy(sorted, tracks)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ID < sorted[b].ID })

	colors := generateColors(len(sorted))

	var minFrame, maxFrame float64
	first := true
	for i, t := range sorted {
		if len(t.History) == 0 {
			continue
		}

		pts := make(plotter.XYs, 0, len(t.History))
		for _, h := range t.History {
			pts = append(pts, plotter.XY{X: float64(h.FrameIndex), Y: float64(h.Y)})
			if first || float64(h.FrameIndex) < minFrame {
				minFrame = float64(h.FrameIndex)
			}
			if first || float64(h.FrameIndex) > maxFrame {
				maxFrame = float64(h.FrameIndex)
			}
			first = false
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)

		label := fmt.Sprintf("track %d", t.ID)
		if t.Label != "" {
			label = fmt.Sprintf("track %d (%s)", t.ID, t.Label)
		}
		p.Legend.Add(label, line)
	}

	// Entry line as a horizontal reference
	if !first {
		entryPts := plotter.XYs{
			{X: minFrame, Y: tp.entryLineY},
			{X: maxFrame, Y: tp.entryLineY},
		}
		entryLine, err := plotter.NewLine(entryPts)
		if err != nil {
			return nil, err
		}
		entryLine.Color = color.RGBA{R: 200, G: 200, B: 200, A: 255}
		entryLine.Width = vg.Points(1)
		entryLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(entryLine)
		p.Legend.Add("entry line", entryLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// WritePNG renders the tracks as a PNG image to w.
func (tp *TrackPlotter) WritePNG(w io.Writer, tracks []*gate.Track, title string) error {
	p, err := tp.buildPlot(tracks, title)
	if err != nil {
		return fmt.Errorf("build plot: %w", err)
	}

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

// SavePlot writes the tracks plot as a PNG under the output directory
// and returns the path written. The name is sanitized and the final
// path checked against the output directory before anything is
// created.
func (tp *TrackPlotter) SavePlot(tracks []*gate.Track, name string) (string, error) {
	tp.mu.Lock()
	outputDir := tp.outputDir
	tp.mu.Unlock()

	if outputDir == "" {
		return "", fmt.Errorf("no output directory configured")
	}

	safeName := security.SanitizeFilename(name)
	path := filepath.Join(outputDir, safeName+".png")
	// SanitizeFilename strips separators, so this is a lexical
	// backstop rather than a symlink-aware check (the filesystem may
	// be in-memory).
	if rel, err := filepath.Rel(outputDir, path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("plot name %q escapes output directory", name)
	}

	if err := tp.fs.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create plot dir: %w", err)
	}

	f, err := tp.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create plot file: %w", err)
	}
	if err := tp.WritePNG(f, tracks, safeName); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close plot file: %w", err)
	}
	return path, nil
}

// generateColors creates a palette of distinct colors for track lines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir builds a timestamped output directory for plots.
// For replay files: <baseDir>/<replay_basename>/<timestamp>
// For live data: <baseDir>/live_<timestamp>
func MakePlotOutputDir(baseDir, replayFile string) string {
	ts := FormatTimestamp(time.Now())
	if replayFile != "" {
		base := filepath.Base(replayFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "live_"+ts)
}

// handleTrackPlot renders recent tracks as a PNG. Query params:
//
//	state (optional): "archived" (default) or "active"
func (ws *WebServer) handleTrackPlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.plotter == nil || ws.tracker == nil {
		httputil.NotFound(w, "track plotting not configured")
		return
	}

	var tracks []*gate.Track
	var title string
	switch state := r.URL.Query().Get("state"); state {
	case "", "archived":
		tracks = ws.tracker.GetArchivedTracks()
		title = "Archived Tracks"
	case "active":
		tracks = ws.tracker.GetActiveTracks()
		title = "Active Tracks"
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown state %q", state))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := ws.plotter.WritePNG(w, tracks, title); err != nil {
		gate.Diagf("track plot render failed: %v", err)
	}
}
