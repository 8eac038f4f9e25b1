package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/gate.defaults.json"

// TuningConfig is the root configuration for the counting core. The
// schema matches the /api/config endpoint so the same JSON can be used
// for startup configuration and runtime updates. All fields are
// pointers so partial configs can be layered over defaults.
type TuningConfig struct {
	// Association params
	GatingDistanceSquared *float64 `json:"gating_distance_squared,omitempty"`
	AssignmentMethod      *string  `json:"assignment_method,omitempty"` // "greedy" or "optimal"
	UseEuclideanGate      *bool    `json:"use_euclidean_gate,omitempty"`

	// Motion estimator params
	ProcessNoisePos   *float64 `json:"process_noise_pos,omitempty"`
	ProcessNoiseVel   *float64 `json:"process_noise_vel,omitempty"`
	MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`
	MaxCovarianceDiag *float64 `json:"max_covariance_diag,omitempty"`
	MaxPredictDt      *float64 `json:"max_predict_dt,omitempty"` // seconds

	// Track lifecycle params
	HitsToConfirm       *int `json:"hits_to_confirm,omitempty"`
	MaxMisses           *int `json:"max_misses,omitempty"`
	MaxMissesConfirmed  *int `json:"max_misses_confirmed,omitempty"`
	MaxTracks           *int `json:"max_tracks,omitempty"`
	MaxTrackHistory     *int `json:"max_track_history,omitempty"`
	MaxArchivedTracks   *int `json:"max_archived_tracks,omitempty"`
	ArchiveWindow       *string `json:"archive_window,omitempty"` // duration string like "45s"

	// Crossing geometry
	EntryLineY              *float64 `json:"entry_line_y,omitempty"`
	EntryIsPositiveY        *bool    `json:"entry_is_positive_y,omitempty"`
	MinCrossingDisplacement *float64 `json:"min_crossing_displacement,omitempty"`

	// Label reconciliation
	LabelLatencyWindow *string  `json:"label_latency_window,omitempty"` // duration string like "30s"
	LabelProximity     *float64 `json:"label_proximity,omitempty"`

	// Reporting
	ReportInterval   *string `json:"report_interval,omitempty"` // duration string like "60s"
	CumulativeCounts *bool   `json:"cumulative_counts,omitempty"`

	// Classifier dispatch
	ClassifierQueueSize *int    `json:"classifier_queue_size,omitempty"`
	ClassifierWorkers   *int    `json:"classifier_workers,omitempty"`
	ClassifierURL       *string `json:"classifier_url,omitempty"`

	// Uplink modem
	UplinkPort *string `json:"uplink_port,omitempty"`
	UplinkBaud *int    `json:"uplink_baud,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe. The
// returned config has already passed Validate.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches from the current directory up through common parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/gate/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration values. Errors here are fatal at
// startup: the pipeline must not process a single frame on a config
// with a negative gate or a zero reporting interval.
func (c *TuningConfig) Validate() error {
	if c.GatingDistanceSquared != nil && *c.GatingDistanceSquared <= 0 {
		return fmt.Errorf("gating_distance_squared must be positive, got %f", *c.GatingDistanceSquared)
	}

	if c.AssignmentMethod != nil {
		switch *c.AssignmentMethod {
		case "greedy", "optimal":
		default:
			return fmt.Errorf("assignment_method must be \"greedy\" or \"optimal\", got %q", *c.AssignmentMethod)
		}
	}

	if c.ProcessNoisePos != nil && *c.ProcessNoisePos < 0 {
		return fmt.Errorf("process_noise_pos must be non-negative, got %f", *c.ProcessNoisePos)
	}
	if c.ProcessNoiseVel != nil && *c.ProcessNoiseVel < 0 {
		return fmt.Errorf("process_noise_vel must be non-negative, got %f", *c.ProcessNoiseVel)
	}
	if c.MeasurementNoise != nil && *c.MeasurementNoise <= 0 {
		return fmt.Errorf("measurement_noise must be positive, got %f", *c.MeasurementNoise)
	}
	if c.MaxPredictDt != nil && *c.MaxPredictDt <= 0 {
		return fmt.Errorf("max_predict_dt must be positive, got %f", *c.MaxPredictDt)
	}
	if c.MaxCovarianceDiag != nil && *c.MaxCovarianceDiag <= 0 {
		return fmt.Errorf("max_covariance_diag must be positive, got %f", *c.MaxCovarianceDiag)
	}

	if c.HitsToConfirm != nil && *c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be at least 1, got %d", *c.HitsToConfirm)
	}
	if c.MaxMisses != nil && *c.MaxMisses < 1 {
		return fmt.Errorf("max_misses must be at least 1, got %d", *c.MaxMisses)
	}
	if c.MaxTracks != nil && *c.MaxTracks < 1 {
		return fmt.Errorf("max_tracks must be at least 1, got %d", *c.MaxTracks)
	}
	if c.MaxArchivedTracks != nil && *c.MaxArchivedTracks < 1 {
		return fmt.Errorf("max_archived_tracks must be at least 1, got %d", *c.MaxArchivedTracks)
	}
	if c.MaxTrackHistory != nil && *c.MaxTrackHistory < 1 {
		return fmt.Errorf("max_track_history must be at least 1, got %d", *c.MaxTrackHistory)
	}

	if c.MinCrossingDisplacement != nil && *c.MinCrossingDisplacement < 0 {
		return fmt.Errorf("min_crossing_displacement must be non-negative, got %f", *c.MinCrossingDisplacement)
	}
	if c.LabelProximity != nil && *c.LabelProximity < 0 {
		return fmt.Errorf("label_proximity must be non-negative, got %f", *c.LabelProximity)
	}

	if err := validateDuration("archive_window", c.ArchiveWindow); err != nil {
		return err
	}
	if err := validateDuration("label_latency_window", c.LabelLatencyWindow); err != nil {
		return err
	}
	if err := validateDuration("report_interval", c.ReportInterval); err != nil {
		return err
	}

	if c.ClassifierQueueSize != nil && *c.ClassifierQueueSize < 1 {
		return fmt.Errorf("classifier_queue_size must be at least 1, got %d", *c.ClassifierQueueSize)
	}
	if c.ClassifierWorkers != nil && *c.ClassifierWorkers < 1 {
		return fmt.Errorf("classifier_workers must be at least 1, got %d", *c.ClassifierWorkers)
	}

	if c.UplinkBaud != nil && *c.UplinkBaud <= 0 {
		return fmt.Errorf("uplink_baud must be positive, got %d", *c.UplinkBaud)
	}

	return nil
}

// validateDuration rejects a duration field that is set but unparseable
// or non-positive.
func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, *v)
	}
	return nil
}

// GetGatingDistanceSquared returns the association gate or the default.
// The gate is in the chosen metric's squared units: normalised σ² for
// Mahalanobis (default metric, 16.0 = 4σ), px² for Euclidean.
func (c *TuningConfig) GetGatingDistanceSquared() float64 {
	if c.GatingDistanceSquared == nil {
		return 16.0
	}
	return *c.GatingDistanceSquared
}

// GetAssignmentMethod returns the assignment_method value or the default.
func (c *TuningConfig) GetAssignmentMethod() string {
	if c.AssignmentMethod == nil || *c.AssignmentMethod == "" {
		return "optimal"
	}
	return *c.AssignmentMethod
}

// GetUseEuclideanGate returns the use_euclidean_gate value or the default.
func (c *TuningConfig) GetUseEuclideanGate() bool {
	if c.UseEuclideanGate == nil {
		return false // gate on Mahalanobis distance
	}
	return *c.UseEuclideanGate
}

// GetProcessNoisePos returns the process_noise_pos value or the default.
func (c *TuningConfig) GetProcessNoisePos() float64 {
	if c.ProcessNoisePos == nil {
		return 25.0
	}
	return *c.ProcessNoisePos
}

// GetProcessNoiseVel returns the process_noise_vel value or the default.
// Insects change speed abruptly, so velocity uncertainty must grow fast
// enough for the gate to keep up with sharp accelerations.
func (c *TuningConfig) GetProcessNoiseVel() float64 {
	if c.ProcessNoiseVel == nil {
		return 2000.0
	}
	return *c.ProcessNoiseVel
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TuningConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 4.0
	}
	return *c.MeasurementNoise
}

// GetMaxCovarianceDiag returns the max_covariance_diag value or the default.
func (c *TuningConfig) GetMaxCovarianceDiag() float64 {
	if c.MaxCovarianceDiag == nil {
		return 1e4
	}
	return *c.MaxCovarianceDiag
}

// GetMaxPredictDt returns the max_predict_dt value in seconds or the default.
func (c *TuningConfig) GetMaxPredictDt() float64 {
	if c.MaxPredictDt == nil {
		return 0.5
	}
	return *c.MaxPredictDt
}

// GetHitsToConfirm returns the hits_to_confirm value or the default.
func (c *TuningConfig) GetHitsToConfirm() int {
	if c.HitsToConfirm == nil {
		return 3
	}
	return *c.HitsToConfirm
}

// GetMaxMisses returns the max_misses value or the default.
func (c *TuningConfig) GetMaxMisses() int {
	if c.MaxMisses == nil {
		return 3
	}
	return *c.MaxMisses
}

// GetMaxMissesConfirmed returns the max_misses_confirmed value or the default.
func (c *TuningConfig) GetMaxMissesConfirmed() int {
	if c.MaxMissesConfirmed == nil {
		return 8
	}
	return *c.MaxMissesConfirmed
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 64
	}
	return *c.MaxTracks
}

// GetMaxTrackHistory returns the max_track_history value or the default.
func (c *TuningConfig) GetMaxTrackHistory() int {
	if c.MaxTrackHistory == nil {
		return 600
	}
	return *c.MaxTrackHistory
}

// GetMaxArchivedTracks returns the max_archived_tracks value or the default.
func (c *TuningConfig) GetMaxArchivedTracks() int {
	if c.MaxArchivedTracks == nil {
		return 512
	}
	return *c.MaxArchivedTracks
}

// GetArchiveWindow parses and returns the ArchiveWindow as a time.Duration.
func (c *TuningConfig) GetArchiveWindow() time.Duration {
	return durationOr(c.ArchiveWindow, 45*time.Second)
}

// GetEntryLineY returns the entry_line_y value or the default.
func (c *TuningConfig) GetEntryLineY() float64 {
	if c.EntryLineY == nil {
		return 120.0
	}
	return *c.EntryLineY
}

// GetEntryIsPositiveY returns the entry_is_positive_y value or the default.
func (c *TuningConfig) GetEntryIsPositiveY() bool {
	if c.EntryIsPositiveY == nil {
		return true // entry side is below the line in image coordinates
	}
	return *c.EntryIsPositiveY
}

// GetMinCrossingDisplacement returns the min_crossing_displacement value or the default.
func (c *TuningConfig) GetMinCrossingDisplacement() float64 {
	if c.MinCrossingDisplacement == nil {
		return 40.0
	}
	return *c.MinCrossingDisplacement
}

// GetLabelLatencyWindow parses and returns the LabelLatencyWindow as a time.Duration.
func (c *TuningConfig) GetLabelLatencyWindow() time.Duration {
	return durationOr(c.LabelLatencyWindow, 30*time.Second)
}

// GetLabelProximity returns the label_proximity value or the default.
func (c *TuningConfig) GetLabelProximity() float64 {
	if c.LabelProximity == nil {
		return 60.0
	}
	return *c.LabelProximity
}

// GetReportInterval parses and returns the ReportInterval as a time.Duration.
func (c *TuningConfig) GetReportInterval() time.Duration {
	return durationOr(c.ReportInterval, 60*time.Second)
}

// GetCumulativeCounts returns the cumulative_counts value or the default.
func (c *TuningConfig) GetCumulativeCounts() bool {
	if c.CumulativeCounts == nil {
		return false // report interval counts, reset each snapshot
	}
	return *c.CumulativeCounts
}

// GetClassifierQueueSize returns the classifier_queue_size value or the default.
func (c *TuningConfig) GetClassifierQueueSize() int {
	if c.ClassifierQueueSize == nil {
		return 20
	}
	return *c.ClassifierQueueSize
}

// GetClassifierWorkers returns the classifier_workers value or the default.
func (c *TuningConfig) GetClassifierWorkers() int {
	if c.ClassifierWorkers == nil {
		return 2
	}
	return *c.ClassifierWorkers
}

// GetClassifierURL returns the classifier_url value; empty means
// classification dispatch is disabled.
func (c *TuningConfig) GetClassifierURL() string {
	if c.ClassifierURL == nil {
		return ""
	}
	return *c.ClassifierURL
}

// GetUplinkPort returns the uplink_port value; empty means the uplink
// is disabled.
func (c *TuningConfig) GetUplinkPort() string {
	if c.UplinkPort == nil {
		return ""
	}
	return *c.UplinkPort
}

// GetUplinkBaud returns the uplink_baud value or the default.
func (c *TuningConfig) GetUplinkBaud() int {
	if c.UplinkBaud == nil {
		return 57600
	}
	return *c.UplinkBaud
}

// durationOr parses a duration string field, falling back to def when
// the field is unset, empty, or unparseable.
func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
