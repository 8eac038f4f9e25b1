// Package monitor exposes the HTTP interface for the gate pipeline:
// live state APIs, runtime tuning, frame ingest, debug charts, and the
// database admin surface.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/apiary-data/forager.report/internal/config"
	"github.com/apiary-data/forager.report/internal/gate"
	"github.com/apiary-data/forager.report/internal/gatedb"
	"github.com/apiary-data/forager.report/internal/httputil"
	"github.com/apiary-data/forager.report/internal/units"
	"github.com/apiary-data/forager.report/internal/version"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for monitoring the gate pipeline.
// It provides endpoints for health checks, live track state, counts,
// runtime tuning, and frame ingest.
type WebServer struct {
	address string
	server  *http.Server

	tracker  *gate.Tracker
	counter  *gate.Counter
	stats    *gate.GateStats
	reporter *gate.CountReporter
	db       *gatedb.GateDB
	plotter  *TrackPlotter

	// frames receives ingested detection frames; a single consumer
	// goroutine owns the tracker update path.
	frames chan<- gate.DetectionFrame

	tuningMu sync.Mutex
	tuning   *config.TuningConfig

	startTime time.Time
}

// WebServerConfig contains configuration options for the web server.
// Tracker is required; everything else degrades gracefully when nil.
type WebServerConfig struct {
	Address  string
	Tracker  *gate.Tracker
	Counter  *gate.Counter
	Stats    *gate.GateStats
	Reporter *gate.CountReporter
	DB       *gatedb.GateDB
	Tuning   *config.TuningConfig
	Plotter  *TrackPlotter
	Frames   chan<- gate.DetectionFrame
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	ws := &WebServer{
		address:   cfg.Address,
		tracker:   cfg.Tracker,
		counter:   cfg.Counter,
		stats:     cfg.Stats,
		reporter:  cfg.Reporter,
		db:        cfg.DB,
		plotter:   cfg.Plotter,
		frames:    cfg.Frames,
		tuning:    tuning,
		startTime: time.Now(),
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

// Handler returns the configured route mux. Tests drive it through
// httptest without binding a port.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/events", ws.handleEvents)
	mux.HandleFunc("/api/counts", ws.handleCounts)
	mux.HandleFunc("/api/summary", ws.handleSummary)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/config", ws.handleConfig)
	mux.HandleFunc("/api/quality", ws.handleQuality)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/api/report", ws.handleReport)
	mux.HandleFunc("/charts/activity", ws.handleActivityChart)
	mux.HandleFunc("/charts/labels", ws.handleLabelsChart)
	mux.HandleFunc("/plots/tracks", ws.handleTrackPlot)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}

	return mux
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "forager", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var snap gate.StatsSnapshot
	if ws.stats != nil {
		snap = ws.stats.Snapshot()
	}
	if ws.tracker != nil {
		snap.TracksCreated, snap.TracksConfirmed, snap.TracksRetired = ws.tracker.LifecycleCounts()
	}

	var counts gate.CountSnapshot
	if ws.counter != nil {
		counts = ws.counter.SnapshotCumulative(time.Now().UnixNano())
	}

	total, tentative, confirmed, archived := 0, 0, 0, 0
	if ws.tracker != nil {
		total, tentative, confirmed, archived = ws.tracker.GetTrackCount()
	}

	data := struct {
		HTTPAddress string
		Version     string
		Uptime      string
		Stats       gate.StatsSnapshot
		Entering    uint64
		Exiting     uint64
		Live        int
		Tentative   int
		Confirmed   int
		Archived    int
	}{
		HTTPAddress: ws.address,
		Version:     version.Version,
		Uptime:      time.Since(ws.startTime).Round(time.Second).String(),
		Stats:       snap,
		Entering:    counts.DirectionTotal(gate.DirectionEntering),
		Exiting:     counts.DirectionTotal(gate.DirectionExiting),
		Live:        total,
		Tentative:   tentative,
		Confirmed:   confirmed,
		Archived:    archived,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// trackSummary is the JSON shape for one track on /api/tracks.
type trackSummary struct {
	ID              int64            `json:"id"`
	Status          gate.TrackStatus `json:"status"`
	X               float32          `json:"x"`
	Y               float32          `json:"y"`
	SpeedPx         float32          `json:"speed_px"`
	Hits            int              `json:"hits"`
	Misses          int              `json:"misses"`
	Observations    int              `json:"observations"`
	FirstUnixNanos  int64            `json:"first_unix_nanos"`
	LastUnixNanos   int64            `json:"last_unix_nanos"`
	Label           string           `json:"label,omitempty"`
	LabelConfidence float32          `json:"label_confidence,omitempty"`
	Direction       gate.Direction   `json:"direction,omitempty"`
	EventID         string           `json:"event_id,omitempty"`
}

func summarizeTrack(t *gate.Track) trackSummary {
	return trackSummary{
		ID:              t.ID,
		Status:          t.Status,
		X:               t.X,
		Y:               t.Y,
		SpeedPx:         t.Speed(),
		Hits:            t.Hits,
		Misses:          t.Misses,
		Observations:    t.ObservationCount,
		FirstUnixNanos:  t.FirstUnixNanos,
		LastUnixNanos:   t.LastUnixNanos,
		Label:           t.Label,
		LabelConfidence: t.LabelConfidence,
		Direction:       t.Direction,
		EventID:         t.EventID,
	}
}

// handleTracks returns live or archived tracks as JSON.
// Query params:
//
//	state (optional): "active" (default), "confirmed", or "archived"
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.tracker == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "tracker not configured")
		return
	}

	var tracks []*gate.Track
	switch state := r.URL.Query().Get("state"); state {
	case "", "active":
		tracks = ws.tracker.GetActiveTracks()
	case "confirmed":
		tracks = ws.tracker.GetConfirmedTracks()
	case "archived":
		tracks = ws.tracker.GetArchivedTracks()
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown state %q", state))
		return
	}

	summaries := make([]trackSummary, 0, len(tracks))
	for _, t := range tracks {
		summaries = append(summaries, summarizeTrack(t))
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	httputil.WriteJSONOK(w, summaries)
}

// handleEvents returns persisted crossing events.
// Query params:
//
//	limit (optional, default 100)
//	start, end (optional, unix seconds) to select a window
func (ws *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}

	var startNanos, endNanos int64
	if s := r.URL.Query().Get("start"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			startNanos = parsed * 1e9
		}
	}
	if e := r.URL.Query().Get("end"); e != "" {
		if parsed, err := strconv.ParseInt(e, 10, 64); err == nil {
			endNanos = parsed * 1e9
		}
	}

	var events []gate.CrossingEvent
	var err error
	if startNanos != 0 || endNanos != 0 {
		if endNanos == 0 {
			endNanos = time.Now().UnixNano()
		}
		events, err = ws.db.ListEventsInRange(startNanos, endNanos, limit)
	} else {
		events, err = ws.db.ListRecentEvents(limit)
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list events: %v", err))
		return
	}

	httputil.WriteJSONOK(w, events)
}

// handleCounts returns the in-memory count aggregator state.
// Query params:
//
//	view (optional): "interval" or "cumulative"; defaults to the
//	configured reporting view
func (ws *WebServer) handleCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.counter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "counter not configured")
		return
	}

	nowNanos := time.Now().UnixNano()
	var snap gate.CountSnapshot
	switch view := r.URL.Query().Get("view"); view {
	case "":
		snap = ws.counter.Snapshot(nowNanos)
	case "interval":
		snap = ws.counter.SnapshotInterval(nowNanos)
	case "cumulative":
		snap = ws.counter.SnapshotCumulative(nowNanos)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown view %q", view))
		return
	}

	httputil.WriteJSONOK(w, snap)
}

// handleSummary returns aggregate totals over persisted events.
// Query params:
//
//	start, end (optional, unix seconds)
func (ws *WebServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}

	var startNanos, endNanos int64
	if s := r.URL.Query().Get("start"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			startNanos = parsed * 1e9
		}
	}
	if e := r.URL.Query().Get("end"); e != "" {
		if parsed, err := strconv.ParseInt(e, 10, 64); err == nil {
			endNanos = parsed * 1e9
		}
	}

	summary, err := ws.db.GetEventSummary(startNanos, endNanos)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("event summary: %v", err))
		return
	}
	httputil.WriteJSONOK(w, summary)
}

// handleStats returns the frame-path counters merged with the tracker's
// lifecycle totals.
func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var snap gate.StatsSnapshot
	if ws.stats != nil {
		snap = ws.stats.Snapshot()
	}
	if ws.tracker != nil {
		snap.TracksCreated, snap.TracksConfirmed, snap.TracksRetired = ws.tracker.LifecycleCounts()
	}

	httputil.WriteJSONOK(w, snap)
}

// handleConfig serves and applies runtime tuning. GET returns the
// current config; POST overlays the posted fields and pushes the
// result into the tracker under its lock.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ws.tuningMu.Lock()
		defer ws.tuningMu.Unlock()
		httputil.WriteJSONOK(w, ws.tuning)

	case http.MethodPost:
		var overlay config.TuningConfig
		if err := json.NewDecoder(r.Body).Decode(&overlay); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("parse config: %v", err))
			return
		}
		if err := overlay.Validate(); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid config: %v", err))
			return
		}

		ws.tuningMu.Lock()
		defer ws.tuningMu.Unlock()

		// Overlay set fields onto the current config. Unset fields
		// are omitted from the marshalled overlay, so they keep their
		// existing values.
		merged := *ws.tuning
		data, err := json.Marshal(&overlay)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("merge config: %v", err))
			return
		}
		if err := json.Unmarshal(data, &merged); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("merge config: %v", err))
			return
		}
		if err := merged.Validate(); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid merged config: %v", err))
			return
		}

		ws.tuning = &merged
		if ws.tracker != nil {
			tc := gate.TrackerConfigFromTuning(&merged)
			ws.tracker.UpdateConfig(func(cfg *gate.TrackerConfig) {
				*cfg = tc
			})
		}
		gate.Opsf("tuning config updated via API")

		httputil.WriteJSONOK(w, ws.tuning)

	default:
		httputil.MethodNotAllowed(w)
	}
}

// qualityReport summarizes track quality from archived track traces.
type qualityReport struct {
	SampleTracks    int     `json:"sample_tracks"`
	SpeedSamples    int     `json:"speed_samples"`
	SpeedUnits      string  `json:"speed_units"`
	SpeedMean       float64 `json:"speed_mean"`
	SpeedP50        float64 `json:"speed_p50"`
	SpeedP90        float64 `json:"speed_p90"`
	SpeedP99        float64 `json:"speed_p99"`
	DurationMeanSec float64 `json:"duration_mean_sec"`
	DurationP50Sec  float64 `json:"duration_p50_sec"`
	Degenerate      int     `json:"short_history_tracks"`
}

// handleQuality computes speed and duration percentiles over archived
// tracks. A healthy gate shows a tight speed distribution; a fat P99
// usually means association is jumping between insects.
// Query params:
//
//	units (optional): px_s (default), mm_s, cm_s, or bl_s
//	px_per_mm (optional): camera scale; required for non-pixel units
func (ws *WebServer) handleQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.tracker == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "tracker not configured")
		return
	}

	speedUnits := units.PxPerSec
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w,
				fmt.Sprintf("unknown units %q (valid: %s)", u, units.GetValidUnitsString()))
			return
		}
		speedUnits = u
	}
	pxPerMM := 0.0
	if s := r.URL.Query().Get("px_per_mm"); s != "" {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil && parsed > 0 {
			pxPerMM = parsed
		}
	}
	if speedUnits != units.PxPerSec && pxPerMM <= 0 {
		httputil.BadRequest(w, "px_per_mm is required for physical units")
		return
	}

	archived := ws.tracker.GetArchivedTracks()
	if len(archived) == 0 {
		httputil.WriteJSONOK(w, qualityReport{})
		return
	}

	var speeds []float64
	var durations []float64
	short := 0
	for _, t := range archived {
		if len(t.History) < 2 {
			short++
			continue
		}
		for _, s := range t.SpeedHistory() {
			speeds = append(speeds, float64(s))
		}
		durations = append(durations, float64(t.DurationSeconds()))
	}

	report := qualityReport{
		SampleTracks: len(archived),
		SpeedSamples: len(speeds),
		SpeedUnits:   speedUnits,
		Degenerate:   short,
	}
	if len(speeds) > 0 {
		sort.Float64s(speeds)
		convert := func(v float64) float64 { return units.ConvertSpeed(v, pxPerMM, speedUnits) }
		report.SpeedMean = convert(stat.Mean(speeds, nil))
		report.SpeedP50 = convert(stat.Quantile(0.5, stat.Empirical, speeds, nil))
		report.SpeedP90 = convert(stat.Quantile(0.9, stat.Empirical, speeds, nil))
		report.SpeedP99 = convert(stat.Quantile(0.99, stat.Empirical, speeds, nil))
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		report.DurationMeanSec = stat.Mean(durations, nil)
		report.DurationP50Sec = stat.Quantile(0.5, stat.Empirical, durations, nil)
	}

	httputil.WriteJSONOK(w, report)
}

// handleFrames ingests one detection frame. The frame is handed to the
// pipeline's consumer goroutine; a full buffer answers 503 rather than
// blocking the detector.
func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.frames == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "frame ingest not configured")
		return
	}

	var frame gate.DetectionFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("parse frame: %v", err))
		return
	}
	if frame.UnixNanos == 0 {
		frame.UnixNanos = time.Now().UnixNano()
	}

	select {
	case ws.frames <- frame:
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "accepted",
			"detections": len(frame.Detections),
		})
	default:
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "frame buffer full")
	}
}

// handleReport triggers an immediate count report.
func (ws *WebServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.reporter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "reporter not configured")
		return
	}

	ws.reporter.ReportNow()
	httputil.WriteJSONOK(w, map[string]string{"status": "report triggered"})
}
