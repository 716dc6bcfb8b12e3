// Package config provides configuration loading, validation, and hot-reload
// for the DAWN cognitive runtime.
//
// Configuration file: /etc/dawncore/config.yaml (default).
// Schema version: 1.
//
// Hot-reload:
//   - The agent listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml.
//   - A valid reloaded config is logged but not applied: running subsystems
//     keep the values they were constructed with, so every change takes
//     effect only after a restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The runtime does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges are enforced (e.g., smoothing factors in [0,1]).
//   - Invalid config on startup: the runtime refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the DAWN runtime.
// All fields have defaults; see Defaults() for values.
//
// Not every tuning field reaches a subsystem: the scheduler reads
// scheduler.min_interval, scheduler.max_interval and
// meta_reflex.suppress_rebloom_ticks, and entropy.ring_capacity sizes the
// entropy analyzer. The other pulse, entropy, sigil, memory-pool and
// meta_reflex tuning fields, and scheduler.subsystem_timeout,
// diagnostic_every_ticks and checkpoint_interval, are validated only; the
// subsystems use built-in constants with the same default values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this runtime instance. Used in
	// memory chunk pulse snapshots and log context. Default: hostname.
	NodeID string `yaml:"node_id"`

	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Pulse         PulseConfig         `yaml:"pulse"`
	Entropy       EntropyConfig       `yaml:"entropy"`
	Sigil         SigilConfig         `yaml:"sigil"`
	Memory        MemoryConfig        `yaml:"memory"`
	MetaReflex    MetaReflexConfig    `yaml:"meta_reflex"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Signals       SignalsConfig       `yaml:"signals"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SchedulerConfig holds tick-loop timing parameters.
type SchedulerConfig struct {
	// MinInterval is the floor of the adaptive tick interval. Default: 100ms.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxInterval is the ceiling of the adaptive tick interval. Default: 5s.
	MaxInterval time.Duration `yaml:"max_interval"`

	// SubsystemTimeout bounds any single subsystem callback within a tick.
	// Default: 250ms.
	SubsystemTimeout time.Duration `yaml:"subsystem_timeout"`

	// DiagnosticEveryTicks controls how often the last intervention log
	// entries are emitted as a diagnostic chunk. Default: 50.
	DiagnosticEveryTicks int `yaml:"diagnostic_every_ticks"`

	// CheckpointInterval is how often memory is checkpointed to disk.
	// Default: 300s.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PulseConfig holds heat/zone/grace parameters.
type PulseConfig struct {
	// SmoothingAlpha is the EWMA weight given to the existing heat value in
	// update_heat: smoothed = (1-alpha)*new + alpha*current. Default: 0.8.
	SmoothingAlpha float64 `yaml:"smoothing_alpha"`

	// MaxDeltaPerUpdate caps |heat_after - heat_before| per update_heat call.
	// Default: 15.
	MaxDeltaPerUpdate float64 `yaml:"max_delta_per_update"`

	// ZoneActiveThreshold is the heat at/above which zone becomes ACTIVE.
	// Default: 40.
	ZoneActiveThreshold float64 `yaml:"zone_active_threshold"`

	// ZoneSurgeThreshold is the heat at/above which zone becomes SURGE.
	// Default: 60.
	ZoneSurgeThreshold float64 `yaml:"zone_surge_threshold"`

	// GraceBase is the base grace seconds on surge close. Default: 30.
	GraceBase float64 `yaml:"grace_base"`

	// GraceMax caps the computed grace period. Default: 300.
	GraceMax float64 `yaml:"grace_max"`

	// SurgeWindow is the lookback window used to count recent surges for
	// the grace backoff formula. Default: 10m.
	SurgeWindow time.Duration `yaml:"surge_window"`

	// NaturalDecayFactor is applied to heat when no update_heat occurred
	// this tick. Default: 0.85.
	NaturalDecayFactor float64 `yaml:"natural_decay_factor"`
}

// EntropyConfig holds entropy-analyzer parameters.
type EntropyConfig struct {
	// RingCapacity bounds samples retained per bloom. Default: 1000.
	RingCapacity int `yaml:"ring_capacity"`

	// VolatilityWindow is the trailing sample count used to compute the
	// profile. Default: 50.
	VolatilityWindow int `yaml:"volatility_window"`

	// HotBloomThreshold is the mean-entropy threshold for get_hot_blooms.
	// Default: 0.7.
	HotBloomThreshold float64 `yaml:"hot_bloom_threshold"`

	// ChaosThreshold gates recommend_stabilization. Default: 0.7.
	ChaosThreshold float64 `yaml:"chaos_threshold"`

	// AnomalyZ is the z-score threshold for detect_entropy_anomalies.
	// Default: 2.5.
	AnomalyZ float64 `yaml:"anomaly_z"`
}

// SigilConfig holds sigil engine parameters.
type SigilConfig struct {
	// MaxLiveSigils bounds the live sigil table. Default: 128.
	MaxLiveSigils int `yaml:"max_live_sigils"`

	// DecayBaseRate is the base decay rate per decay() call. Default: 0.05.
	DecayBaseRate float64 `yaml:"decay_base_rate"`
}

// MemoryConfig holds memory-router parameters.
type MemoryConfig struct {
	// WorkingCap bounds the working pool (LRU eviction). Default: 50.
	WorkingCap int `yaml:"working_cap"`

	// RecentCap bounds the recent pool (FIFO eviction). Default: 200.
	RecentCap int `yaml:"recent_cap"`

	// SignificantSoftCap bounds the significant pool (eviction by lowest
	// importance). Default: 5000.
	SignificantSoftCap int `yaml:"significant_soft_cap"`

	// WorkingThreshold is the importance at/above which a chunk enters the
	// working pool. Default: 0.5.
	WorkingThreshold float64 `yaml:"working_threshold"`

	// SignificantThreshold is the importance at/above which a chunk enters
	// the significant pool. Default: 0.75.
	SignificantThreshold float64 `yaml:"significant_threshold"`

	// DBPath is the bbolt database file path. Default: /var/lib/dawncore/dawncore.db.
	DBPath string `yaml:"db_path"`

	// SessionLogDir is the directory for the per-session JSON Lines ledger.
	// Default: /var/lib/dawncore/memory.
	SessionLogDir string `yaml:"session_log_dir"`

	// SnapshotDir is where export_state() ZIP bundles
	// (DAWN_snapshot_YYYYMMDD-HHMMSS.zip) are written. Default:
	// /var/lib/dawncore/snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`

	// SnapshotInterval is how often the scheduler takes an automatic
	// snapshot; zero disables automatic snapshotting (export_state() is
	// still callable on demand). Default: 1h.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// MetaReflexConfig holds meta-reflex thresholds.
type MetaReflexConfig struct {
	// LowScupThreshold triggers LOW_SCUP below this value. Default: 0.5.
	LowScupThreshold float64 `yaml:"low_scup_threshold"`

	// HighEntropyThreshold triggers HIGH_ENTROPY above this value. Default: 0.75.
	HighEntropyThreshold float64 `yaml:"high_entropy_threshold"`

	// InterventionLogCap bounds the append-only intervention log. Default: 10000.
	InterventionLogCap int `yaml:"intervention_log_cap"`

	// SuppressReboloomTicks is how many ticks HIGH_ENTROPY suppresses
	// rebloom_candidates calls for. Default: 10.
	SuppressReboloomTicks int `yaml:"suppress_rebloom_ticks"`
}

// IngestConfig holds external-event ingestion parameters.
type IngestConfig struct {
	// QueueCapacity bounds the ingest_event backlog. Default: 1000.
	QueueCapacity int `yaml:"queue_capacity"`

	// RateLimitCapacity is the token bucket capacity for ingest_event calls.
	// Default: 200.
	RateLimitCapacity int `yaml:"rate_limit_capacity"`

	// RateLimitRefill is the token bucket refill period. Default: 10s.
	RateLimitRefill time.Duration `yaml:"rate_limit_refill"`
}

// SignalsConfig holds the real-OS-signal sampler parameters.
type SignalsConfig struct {
	// Enabled controls whether the gopsutil-backed sampler feeds heat
	// updates automatically. Default: true.
	Enabled bool `yaml:"enabled"`

	// SampleInterval is how often CPU/memory are sampled. Default: 2s.
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9090.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Scheduler: SchedulerConfig{
			MinInterval:          100 * time.Millisecond,
			MaxInterval:          5 * time.Second,
			SubsystemTimeout:     250 * time.Millisecond,
			DiagnosticEveryTicks: 50,
			CheckpointInterval:   300 * time.Second,
		},
		Pulse: PulseConfig{
			SmoothingAlpha:      0.8,
			MaxDeltaPerUpdate:   15,
			ZoneActiveThreshold: 40,
			ZoneSurgeThreshold:  60,
			GraceBase:           30,
			GraceMax:            300,
			SurgeWindow:         10 * time.Minute,
			NaturalDecayFactor:  0.85,
		},
		Entropy: EntropyConfig{
			RingCapacity:      1000,
			VolatilityWindow:  50,
			HotBloomThreshold: 0.7,
			ChaosThreshold:    0.7,
			AnomalyZ:          2.5,
		},
		Sigil: SigilConfig{
			MaxLiveSigils: 128,
			DecayBaseRate: 0.05,
		},
		Memory: MemoryConfig{
			WorkingCap:           50,
			RecentCap:            200,
			SignificantSoftCap:   5000,
			WorkingThreshold:     0.5,
			SignificantThreshold: 0.75,
			DBPath:               "/var/lib/dawncore/dawncore.db",
			SessionLogDir:        "/var/lib/dawncore/memory",
			SnapshotDir:          "/var/lib/dawncore/snapshots",
			SnapshotInterval:     time.Hour,
		},
		MetaReflex: MetaReflexConfig{
			LowScupThreshold:      0.5,
			HighEntropyThreshold:  0.75,
			InterventionLogCap:    10000,
			SuppressReboloomTicks: 10,
		},
		Ingest: IngestConfig{
			QueueCapacity:     1000,
			RateLimitCapacity: 200,
			RateLimitRefill:   10 * time.Second,
		},
		Signals: SignalsConfig{
			Enabled:        true,
			SampleInterval: 2 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Scheduler.MinInterval <= 0 || cfg.Scheduler.MaxInterval <= cfg.Scheduler.MinInterval {
		errs = append(errs, "scheduler.min_interval must be > 0 and < max_interval")
	}
	if cfg.Pulse.SmoothingAlpha < 0 || cfg.Pulse.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Sprintf("pulse.smoothing_alpha must be in [0,1], got %f", cfg.Pulse.SmoothingAlpha))
	}
	if cfg.Pulse.MaxDeltaPerUpdate <= 0 {
		errs = append(errs, "pulse.max_delta_per_update must be > 0")
	}
	if cfg.Pulse.ZoneActiveThreshold >= cfg.Pulse.ZoneSurgeThreshold {
		errs = append(errs, "pulse.zone_active_threshold must be < zone_surge_threshold")
	}
	if cfg.Pulse.GraceBase <= 0 || cfg.Pulse.GraceMax < cfg.Pulse.GraceBase {
		errs = append(errs, "pulse.grace_base must be > 0 and <= grace_max")
	}
	if cfg.Entropy.RingCapacity < 1 {
		errs = append(errs, "entropy.ring_capacity must be >= 1")
	}
	if cfg.Entropy.VolatilityWindow < 1 || cfg.Entropy.VolatilityWindow > cfg.Entropy.RingCapacity {
		errs = append(errs, "entropy.volatility_window must be in [1, ring_capacity]")
	}
	if cfg.Sigil.MaxLiveSigils < 1 {
		errs = append(errs, "sigil.max_live_sigils must be >= 1")
	}
	if cfg.Sigil.DecayBaseRate <= 0 {
		errs = append(errs, "sigil.decay_base_rate must be > 0")
	}
	if cfg.Memory.WorkingThreshold > cfg.Memory.SignificantThreshold {
		errs = append(errs, "memory.working_threshold must be <= significant_threshold")
	}
	if cfg.Memory.DBPath == "" {
		errs = append(errs, "memory.db_path must not be empty")
	}
	if cfg.Memory.SnapshotDir == "" {
		errs = append(errs, "memory.snapshot_dir must not be empty")
	}
	if cfg.Memory.SnapshotInterval < 0 {
		errs = append(errs, "memory.snapshot_interval must be >= 0")
	}
	if cfg.MetaReflex.InterventionLogCap < 1 {
		errs = append(errs, "meta_reflex.intervention_log_cap must be >= 1")
	}
	if cfg.Ingest.QueueCapacity < 1 {
		errs = append(errs, "ingest.queue_capacity must be >= 1")
	}
	if cfg.Ingest.RateLimitCapacity < 1 {
		errs = append(errs, "ingest.rate_limit_capacity must be >= 1")
	}
	if cfg.Ingest.RateLimitRefill <= 0 {
		errs = append(errs, "ingest.rate_limit_refill must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
