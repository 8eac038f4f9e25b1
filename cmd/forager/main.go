// Command forager runs the hive-entrance gate pipeline: detection
// frames in (HTTP ingest or replay file), Kalman tracking, crossing
// events, async classification reconciliation, and interval count
// reporting to SQLite and the LoRaWAN uplink.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apiary-data/forager.report/internal/classify"
	"github.com/apiary-data/forager.report/internal/config"
	"github.com/apiary-data/forager.report/internal/fsutil"
	"github.com/apiary-data/forager.report/internal/gate"
	"github.com/apiary-data/forager.report/internal/gate/monitor"
	"github.com/apiary-data/forager.report/internal/gate/pipeline"
	"github.com/apiary-data/forager.report/internal/gatedb"
	"github.com/apiary-data/forager.report/internal/security"
	"github.com/apiary-data/forager.report/internal/uplink"
	"github.com/apiary-data/forager.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	dbFile     = flag.String("db", "gate.db", "Path to the SQLite database file")
	configFile = flag.String("config", "", "Path to tuning config JSON (default: "+config.DefaultConfigPath+" if present)")
	replayFile = flag.String("replay", "", "Replay detection frames from a JSONL file instead of live ingest")
	replayFast = flag.Bool("replay-fast", false, "Replay without pacing (as fast as the pipeline accepts)")
	recordFile = flag.String("record", "", "Record ingested frames to a JSONL file for later replay")
	plotDir    = flag.String("plot-dir", "plots", "Base directory for track plot output")
	uplinkPort = flag.String("uplink-port", "", "Serial port for the LoRaWAN modem (overrides config)")
	logDiag    = flag.Bool("log-diag", false, "Enable diagnostic logging")
	logTrace   = flag.Bool("log-trace", false, "Enable per-frame trace logging (very verbose)")
	frameBuf   = flag.Int("frame-buffer", 256, "Ingest frame buffer depth")
)

// Env vars holding the ABP session keys. Keys never go on the command
// line where ps could see them.
const (
	envDevAddr = "FORAGER_DEVADDR"
	envNwkSKey = "FORAGER_NWKSKEY"
	envAppSKey = "FORAGER_APPSKEY"
)

func loadTuning() *config.TuningConfig {
	if *configFile != "" {
		cfg, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configFile, err)
		}
		return cfg
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		cfg, err := config.LoadTuningConfig(config.DefaultConfigPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", config.DefaultConfigPath, err)
		}
		return cfg
	}
	log.Printf("No config file found, using built-in defaults")
	return config.EmptyTuningConfig()
}

func setupLogging() {
	var diag, trace io.Writer
	if *logDiag || *logTrace {
		diag = os.Stderr
	}
	if *logTrace {
		trace = os.Stderr
	}
	gate.SetLogWriters(gate.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	classify.SetLogWriters(classify.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
	uplink.SetLogWriters(uplink.LogWriters{Ops: os.Stderr, Diag: diag, Trace: trace})
}

// openUplink opens the modem when a port is configured. Radio problems
// are logged, not fatal: the gate keeps counting without the uplink.
func openUplink(tuning *config.TuningConfig) gate.SnapshotSink {
	port := *uplinkPort
	if port == "" {
		port = tuning.GetUplinkPort()
	}
	if port == "" {
		return nil
	}

	cfg := uplink.ModemConfig{
		PortName: port,
		Baud:     tuning.GetUplinkBaud(),
		DevAddr:  os.Getenv(envDevAddr),
		NwkSKey:  os.Getenv(envNwkSKey),
		AppSKey:  os.Getenv(envAppSKey),
	}
	if cfg.DevAddr == "" || cfg.NwkSKey == "" || cfg.AppSKey == "" {
		log.Printf("Uplink port %s configured but %s/%s/%s not all set, uplink disabled",
			port, envDevAddr, envNwkSKey, envAppSKey)
		return nil
	}

	modem, err := uplink.Open(cfg)
	if err != nil {
		log.Printf("Failed to open uplink modem on %s: %v (continuing without uplink)", port, err)
		return nil
	}
	log.Printf("Uplink modem joined on %s", port)
	return modem
}

func main() {
	// Subcommand dispatch before flag.Parse: "forager migrate ..."
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		mdb := fs.String("db", "gate.db", "Path to the SQLite database file")
		if err := fs.Parse(os.Args[2:]); err != nil {
			os.Exit(1)
		}
		gatedb.RunMigrateCommand(fs.Args(), *mdb)
		return
	}

	flag.Parse()
	setupLogging()

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	log.Printf("forager %s starting", version.Version)

	tuning := loadTuning()

	// Initialize database
	gdb, err := gatedb.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open gate database: %v", err)
	}
	defer gdb.Close()

	if err := gdb.CheckMigrations(); err != nil {
		log.Fatalf("Database schema check failed: %v", err)
	}

	// Core pipeline state
	tracker := gate.NewTracker(gate.TrackerConfigFromTuning(tuning))
	counter := gate.NewCounter(tuning.GetCumulativeCounts(), time.Now().UnixNano())
	stats := gate.NewGateStats()

	// Events are counted and persisted at retirement, under the tracker
	// lock, so late label bindings cannot race the initial count.
	tracker.SetEventSinks(counter, gdb)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Classification path: only wired when a classifier URL is
	// configured. The pipeline drops crops otherwise.
	var dispatcher *classify.Dispatcher
	if url := tuning.GetClassifierURL(); url != "" {
		classifier := classify.NewHTTPClassifier(url, nil)
		dispatcher = classify.NewDispatcher(classifier, stats, classify.DispatcherConfig{
			QueueDepth: tuning.GetClassifierQueueSize(),
			Workers:    tuning.GetClassifierWorkers(),
		})

		reconciler := gate.NewReconciler(tracker, counter, stats, gdb, nil, gate.ReconcilerConfig{
			LabelLatencyWindow: tuning.GetLabelLatencyWindow(),
			LabelProximity:     float32(tuning.GetLabelProximity()),
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconciler.Run(ctx, dispatcher.Results())
		}()
		log.Printf("Classifier enabled: %s (%d workers)", url, tuning.GetClassifierWorkers())
	} else {
		log.Println("No classifier URL configured, crossings will be unlabeled")
	}

	// Uplink and interval reporting
	reporter := gate.NewCountReporter(gate.CountReporterConfig{
		Counter:  counter,
		Stats:    stats,
		Rollups:  gdb,
		Uplink:   openUplink(tuning),
		Interval: tuning.GetReportInterval(),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := reporter.Run(ctx); err != nil {
			log.Printf("Count reporter error: %v", err)
		}
	}()

	// Optional frame recording for later replay
	var recorder pipeline.FrameRecorder
	if *recordFile != "" {
		if err := security.ValidateExportPath(*recordFile); err != nil {
			log.Fatalf("Invalid record path: %v", err)
		}
		f, err := os.Create(*recordFile)
		if err != nil {
			log.Fatalf("Failed to create record file: %v", err)
		}
		defer f.Close()
		recorder = gate.NewFrameRecorder(f)
		log.Printf("Recording frames to %s", *recordFile)
	}

	pipelineCfg := pipeline.GatePipelineConfig{
		Tracker:  tracker,
		Stats:    stats,
		Recorder: recorder,
	}
	if dispatcher != nil {
		pipelineCfg.Crops = dispatcher
	}
	frameFn := pipelineCfg.NewFrameCallback()

	// Single consumer goroutine owns the tracker update path; the HTTP
	// ingest handler and the replay reader both feed this channel.
	frames := make(chan gate.DetectionFrame, *frameBuf)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case frame := <-frames:
				frameFn(frame)
			}
		}
	}()

	plotter := monitor.NewTrackPlotter(fsutil.OSFileSystem{}, *plotDir, tuning.GetEntryLineY())

	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:  *listen,
		Tracker:  tracker,
		Counter:  counter,
		Stats:    stats,
		Reporter: reporter,
		DB:       gdb,
		Tuning:   tuning,
		Plotter:  plotter,
		Frames:   frames,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("Web server error: %v", err)
		}
	}()

	// Replay mode: feed the file through the same ingest channel, dump
	// a track plot, then shut the daemon down.
	if *replayFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stop()

			count, err := gate.ReplayFile(ctx, *replayFile, gate.ReplayOptions{Pace: !*replayFast}, func(frame gate.DetectionFrame) error {
				select {
				case frames <- frame:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil && err != context.Canceled {
				log.Printf("Replay error after %d frames: %v", count, err)
				return
			}
			log.Printf("Replay complete: %d frames", count)

			// Let the consumer drain the buffer before plotting.
			for len(frames) > 0 && ctx.Err() == nil {
				time.Sleep(10 * time.Millisecond)
			}

			plotter.SetOutputDir(monitor.MakePlotOutputDir(*plotDir, *replayFile))
			archived := tracker.GetArchivedTracks()
			if path, err := plotter.SavePlot(archived, "tracks"); err != nil {
				log.Printf("Track plot failed: %v", err)
			} else {
				log.Printf("Wrote track plot for %d tracks: %s", len(archived), path)
			}

			reporter.ReportNow()
		}()
	}

	wg.Wait()

	// Final stats line for the shift log.
	snap := stats.Snapshot()
	fmt.Printf("forager shut down: %d frames, %d events, %d labels bound\n",
		snap.FramesProcessed, snap.EventsEmitted, snap.LabelsBound)
}
