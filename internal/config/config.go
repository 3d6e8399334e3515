// Package config handles configuration loading, validation, and management for hwsentinel.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"hwsentinel/internal/classifier"
	"hwsentinel/internal/forensic"
	"hwsentinel/internal/fusion"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
	"hwsentinel/internal/recovery"
	"hwsentinel/internal/response"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Daemon holds run-loop and serving configuration.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Per-channel monitor thresholds.
	Power     PowerConfig     `toml:"power" json:"power" yaml:"power"`
	Clock     ClockConfig     `toml:"clock" json:"clock" yaml:"clock"`
	Thermal   ThermalConfig   `toml:"thermal" json:"thermal" yaml:"thermal"`
	Execution ExecutionConfig `toml:"execution" json:"execution" yaml:"execution"`

	// Fusion, classification and response parameters.
	Fusion     FusionConfig     `toml:"fusion" json:"fusion" yaml:"fusion"`
	Classifier ClassifierConfig `toml:"classifier" json:"classifier" yaml:"classifier"`
	Response   ResponseConfig   `toml:"response" json:"response" yaml:"response"`

	// Forensic log and recovery engine parameters.
	Forensic ForensicConfig `toml:"forensic" json:"forensic" yaml:"forensic"`
	Recovery RecoveryConfig `toml:"recovery" json:"recovery" yaml:"recovery"`

	// Archive holds the incident archive configuration.
	Archive ArchiveConfig `toml:"archive" json:"archive" yaml:"archive"`
}

// DaemonConfig holds run-loop and serving configuration.
type DaemonConfig struct {
	// TickIntervalUs is the wall-clock interval between pipeline ticks
	// in microseconds. 0 runs ticks back to back (replay mode).
	TickIntervalUs int `toml:"tick_interval_us" json:"tick_interval_us" yaml:"tick_interval_us"`

	// MetricsListen is the address for the metrics HTTP endpoint.
	// Empty disables the endpoint.
	MetricsListen string `toml:"metrics_listen" json:"metrics_listen" yaml:"metrics_listen"`

	// DrainIntervalTicks is how often locked forensic slots are drained
	// into the archive.
	DrainIntervalTicks int `toml:"drain_interval_ticks" json:"drain_interval_ticks" yaml:"drain_interval_ticks"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// PowerConfig holds power monitor thresholds.
type PowerConfig struct {
	Shift            uint   `toml:"shift" json:"shift" yaml:"shift"`
	WarmupTicks      uint32 `toml:"warmup_ticks" json:"warmup_ticks" yaml:"warmup_ticks"`
	VoltageThreshold uint32 `toml:"voltage_threshold" json:"voltage_threshold" yaml:"voltage_threshold"`
	CurrentThreshold uint32 `toml:"current_threshold" json:"current_threshold" yaml:"current_threshold"`
	GlitchThreshold  uint32 `toml:"glitch_threshold" json:"glitch_threshold" yaml:"glitch_threshold"`
	SustainTicks     uint32 `toml:"sustain_ticks" json:"sustain_ticks" yaml:"sustain_ticks"`
}

// ClockConfig holds clock monitor thresholds.
type ClockConfig struct {
	Shift           uint   `toml:"shift" json:"shift" yaml:"shift"`
	WarmupEdges     uint32 `toml:"warmup_edges" json:"warmup_edges" yaml:"warmup_edges"`
	GlitchThreshold uint32 `toml:"glitch_threshold" json:"glitch_threshold" yaml:"glitch_threshold"`
	DriftThreshold  uint32 `toml:"drift_threshold" json:"drift_threshold" yaml:"drift_threshold"`
	DriftSustain    uint32 `toml:"drift_sustain" json:"drift_sustain" yaml:"drift_sustain"`
	MaxPeriod       uint32 `toml:"max_period" json:"max_period" yaml:"max_period"`
}

// ThermalConfig holds thermal monitor thresholds.
type ThermalConfig struct {
	Shift            uint   `toml:"shift" json:"shift" yaml:"shift"`
	WarmupTicks      uint32 `toml:"warmup_ticks" json:"warmup_ticks" yaml:"warmup_ticks"`
	SpikeThreshold   uint32 `toml:"spike_threshold" json:"spike_threshold" yaml:"spike_threshold"`
	SustainThreshold uint32 `toml:"sustain_threshold" json:"sustain_threshold" yaml:"sustain_threshold"`
	SustainTicks     uint32 `toml:"sustain_ticks" json:"sustain_ticks" yaml:"sustain_ticks"`
	RateThreshold    uint32 `toml:"rate_threshold" json:"rate_threshold" yaml:"rate_threshold"`
	RegionLow        uint32 `toml:"region_low" json:"region_low" yaml:"region_low"`
	RegionHigh       uint32 `toml:"region_high" json:"region_high" yaml:"region_high"`
}

// ExecutionConfig holds execution monitor thresholds.
type ExecutionConfig struct {
	Shift            uint   `toml:"shift" json:"shift" yaml:"shift"`
	WarmupWindows    uint32 `toml:"warmup_windows" json:"warmup_windows" yaml:"warmup_windows"`
	IPCWindowTicks   uint32 `toml:"ipc_window_ticks" json:"ipc_window_ticks" yaml:"ipc_window_ticks"`
	IPCThreshold     uint32 `toml:"ipc_threshold" json:"ipc_threshold" yaml:"ipc_threshold"`
	PCJumpThreshold  uint32 `toml:"pc_jump_threshold" json:"pc_jump_threshold" yaml:"pc_jump_threshold"`
	BoundsCheck      bool   `toml:"bounds_check" json:"bounds_check" yaml:"bounds_check"`
	CodeLow          uint32 `toml:"code_low" json:"code_low" yaml:"code_low"`
	CodeHigh         uint32 `toml:"code_high" json:"code_high" yaml:"code_high"`
	PrivConfirmTicks uint32 `toml:"priv_confirm_ticks" json:"priv_confirm_ticks" yaml:"priv_confirm_ticks"`
	CountWindowTicks uint32 `toml:"count_window_ticks" json:"count_window_ticks" yaml:"count_window_ticks"`
	MemLow           uint32 `toml:"mem_low" json:"mem_low" yaml:"mem_low"`
	MemHigh          uint32 `toml:"mem_high" json:"mem_high" yaml:"mem_high"`
	MemOOBThreshold  uint32 `toml:"mem_oob_threshold" json:"mem_oob_threshold" yaml:"mem_oob_threshold"`
	NMIThreshold     uint32 `toml:"nmi_threshold" json:"nmi_threshold" yaml:"nmi_threshold"`
	FlushThreshold   uint32 `toml:"flush_threshold" json:"flush_threshold" yaml:"flush_threshold"`
}

// FusionConfig holds fusion engine parameters.
type FusionConfig struct {
	Threshold    uint8  `toml:"threshold" json:"threshold" yaml:"threshold"`
	WindowTicks  uint32 `toml:"window_ticks" json:"window_ticks" yaml:"window_ticks"`
	MinMultiHits uint32 `toml:"min_multi_hits" json:"min_multi_hits" yaml:"min_multi_hits"`
}

// ClassifierConfig holds threat classifier parameters. Weights are fixed;
// only the thresholds and hysteresis window are tunable.
type ClassifierConfig struct {
	LowThreshold      uint32 `toml:"low_threshold" json:"low_threshold" yaml:"low_threshold"`
	MediumThreshold   uint32 `toml:"medium_threshold" json:"medium_threshold" yaml:"medium_threshold"`
	HighThreshold     uint32 `toml:"high_threshold" json:"high_threshold" yaml:"high_threshold"`
	CriticalThreshold uint32 `toml:"critical_threshold" json:"critical_threshold" yaml:"critical_threshold"`
	HysteresisTicks   uint32 `toml:"hysteresis_ticks" json:"hysteresis_ticks" yaml:"hysteresis_ticks"`
}

// ResponseConfig holds response controller parameters.
type ResponseConfig struct {
	HoldTicks       uint32 `toml:"hold_ticks" json:"hold_ticks" yaml:"hold_ticks"`
	WatchdogTimeout uint32 `toml:"watchdog_timeout" json:"watchdog_timeout" yaml:"watchdog_timeout"`
	IsolateMask     uint16 `toml:"isolate_mask" json:"isolate_mask" yaml:"isolate_mask"`
	ThrottleDiv     uint8  `toml:"throttle_div" json:"throttle_div" yaml:"throttle_div"`
	ClockAttackDiv  uint8  `toml:"clock_attack_div" json:"clock_attack_div" yaml:"clock_attack_div"`
}

// ForensicConfig holds forensic log parameters.
type ForensicConfig struct {
	Slots       int    `toml:"slots" json:"slots" yaml:"slots"`
	WarmupTicks uint32 `toml:"warmup_ticks" json:"warmup_ticks" yaml:"warmup_ticks"`

	// SeedPath is the path to the 32-byte seal key seed. Empty derives a
	// fresh random seed per boot, which still chains records within a
	// boot but cannot verify across restarts.
	SeedPath string `toml:"seed_path" json:"seed_path" yaml:"seed_path"`
}

// RecoveryConfig holds recovery engine parameters.
type RecoveryConfig struct {
	StepHoldTicks     uint32 `toml:"step_hold_ticks" json:"step_hold_ticks" yaml:"step_hold_ticks"`
	IntegTimeoutTicks uint32 `toml:"integ_timeout_ticks" json:"integ_timeout_ticks" yaml:"integ_timeout_ticks"`
	ValidateTicks     uint32 `toml:"validate_ticks" json:"validate_ticks" yaml:"validate_ticks"`
	MaxRetries        uint32 `toml:"max_retries" json:"max_retries" yaml:"max_retries"`
	Modules           uint16 `toml:"modules" json:"modules" yaml:"modules"`
}

// ArchiveConfig holds the incident archive configuration.
type ArchiveConfig struct {
	// Type is the archive backend type: "sqlite" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the path to the database file (for sqlite).
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// DefaultConfig returns a configuration with the factory thresholds.
func DefaultConfig() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		Version: Version,
		Daemon: DaemonConfig{
			TickIntervalUs:     1000,
			MetricsListen:      "",
			DrainIntervalTicks: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Power: PowerConfig{
			Shift:            p.Power.Shift,
			WarmupTicks:      p.Power.WarmupTicks,
			VoltageThreshold: p.Power.VoltageThreshold,
			CurrentThreshold: p.Power.CurrentThreshold,
			GlitchThreshold:  p.Power.GlitchThreshold,
			SustainTicks:     p.Power.SustainTicks,
		},
		Clock: ClockConfig{
			Shift:           p.Clock.Shift,
			WarmupEdges:     p.Clock.WarmupEdges,
			GlitchThreshold: p.Clock.GlitchThreshold,
			DriftThreshold:  p.Clock.DriftThreshold,
			DriftSustain:    p.Clock.DriftSustain,
			MaxPeriod:       p.Clock.MaxPeriod,
		},
		Thermal: ThermalConfig{
			Shift:            p.Thermal.Shift,
			WarmupTicks:      p.Thermal.WarmupTicks,
			SpikeThreshold:   p.Thermal.SpikeThreshold,
			SustainThreshold: p.Thermal.SustainThreshold,
			SustainTicks:     p.Thermal.SustainTicks,
			RateThreshold:    p.Thermal.RateThreshold,
			RegionLow:        p.Thermal.RegionLow,
			RegionHigh:       p.Thermal.RegionHigh,
		},
		Execution: ExecutionConfig{
			Shift:            p.Execution.Shift,
			WarmupWindows:    p.Execution.WarmupWindows,
			IPCWindowTicks:   p.Execution.IPCWindowTicks,
			IPCThreshold:     p.Execution.IPCThreshold,
			PCJumpThreshold:  p.Execution.PCJumpThreshold,
			BoundsCheck:      p.Execution.BoundsCheck,
			CodeLow:          p.Execution.CodeLow,
			CodeHigh:         p.Execution.CodeHigh,
			PrivConfirmTicks: p.Execution.PrivConfirmTicks,
			CountWindowTicks: p.Execution.CountWindowTicks,
			MemLow:           p.Execution.MemLow,
			MemHigh:          p.Execution.MemHigh,
			MemOOBThreshold:  p.Execution.MemOOBThreshold,
			NMIThreshold:     p.Execution.NMIThreshold,
			FlushThreshold:   p.Execution.FlushThreshold,
		},
		Fusion: FusionConfig{
			Threshold:    p.Fusion.Threshold,
			WindowTicks:  p.Fusion.WindowTicks,
			MinMultiHits: p.Fusion.MinMultiHits,
		},
		Classifier: ClassifierConfig{
			LowThreshold:      p.Classifier.LowThreshold,
			MediumThreshold:   p.Classifier.MediumThreshold,
			HighThreshold:     p.Classifier.HighThreshold,
			CriticalThreshold: p.Classifier.CriticalThreshold,
			HysteresisTicks:   p.Classifier.HysteresisTicks,
		},
		Response: ResponseConfig{
			HoldTicks:       p.Response.HoldTicks,
			WatchdogTimeout: p.Response.WatchdogTimeout,
			IsolateMask:     p.Response.IsolateMask,
			ThrottleDiv:     p.Response.ThrottleDiv,
			ClockAttackDiv:  p.Response.ClockAttackDiv,
		},
		Forensic: ForensicConfig{
			Slots:       p.Forensic.Slots,
			WarmupTicks: p.Forensic.WarmupTicks,
		},
		Recovery: RecoveryConfig{
			StepHoldTicks:     p.Recovery.StepHoldTicks,
			IntegTimeoutTicks: p.Recovery.IntegTimeoutTicks,
			ValidateTicks:     p.Recovery.ValidateTicks,
			MaxRetries:        p.Recovery.MaxRetries,
			Modules:           p.Recovery.Modules,
		},
		Archive: ArchiveConfig{
			Type:          "sqlite",
			Path:          defaultArchivePath(),
			BusyTimeoutMs: 5000,
		},
	}
}

// defaultArchivePath returns the default incident archive location.
func defaultArchivePath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, _ := os.UserHomeDir()
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataHome, "hwsentinel", "incidents.db")
}

// Validation errors.
var (
	ErrBadShift      = errors.New("ewma shift must be between 1 and 16")
	ErrBadThresholds = errors.New("classifier thresholds must be strictly ascending")
	ErrBadWindow     = errors.New("window length must be positive")
	ErrBadSlots      = errors.New("forensic slot count must be positive")
	ErrBadDivider    = errors.New("clock divider must be a power of two between 1 and 8")
	ErrBadArchive    = errors.New("archive type must be sqlite or memory")
)

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	for _, s := range []uint{c.Power.Shift, c.Clock.Shift, c.Thermal.Shift, c.Execution.Shift} {
		if s < 1 || s > 16 {
			return ErrBadShift
		}
	}

	cl := c.Classifier
	if !(cl.LowThreshold < cl.MediumThreshold &&
		cl.MediumThreshold < cl.HighThreshold &&
		cl.HighThreshold < cl.CriticalThreshold) {
		return ErrBadThresholds
	}

	if c.Fusion.WindowTicks == 0 {
		return fmt.Errorf("fusion: %w", ErrBadWindow)
	}
	if c.Execution.IPCWindowTicks == 0 || c.Execution.CountWindowTicks == 0 {
		return fmt.Errorf("execution: %w", ErrBadWindow)
	}

	if c.Forensic.Slots <= 0 {
		return ErrBadSlots
	}

	for _, d := range []uint8{c.Response.ThrottleDiv, c.Response.ClockAttackDiv} {
		switch d {
		case 1, 2, 4, 8:
		default:
			return ErrBadDivider
		}
	}

	switch c.Archive.Type {
	case "sqlite", "memory", "":
	default:
		return ErrBadArchive
	}

	if _, err := logLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// logLevel validates a log level string.
func logLevel(s string) (string, error) {
	switch s {
	case "", "debug", "info", "warn", "warning", "error":
		return s, nil
	default:
		return "", fmt.Errorf("unknown log level: %s", s)
	}
}

// Pipeline converts the file configuration into stage configurations.
// The forensic seal seed is loaded separately because it is key material,
// not tunable configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Power: monitor.PowerConfig{
			Shift:            c.Power.Shift,
			WarmupTicks:      c.Power.WarmupTicks,
			VoltageThreshold: c.Power.VoltageThreshold,
			CurrentThreshold: c.Power.CurrentThreshold,
			GlitchThreshold:  c.Power.GlitchThreshold,
			SustainTicks:     c.Power.SustainTicks,
		},
		Clock: monitor.ClockConfig{
			Shift:           c.Clock.Shift,
			WarmupEdges:     c.Clock.WarmupEdges,
			GlitchThreshold: c.Clock.GlitchThreshold,
			DriftThreshold:  c.Clock.DriftThreshold,
			DriftSustain:    c.Clock.DriftSustain,
			MaxPeriod:       c.Clock.MaxPeriod,
		},
		Thermal: monitor.ThermalConfig{
			Shift:            c.Thermal.Shift,
			WarmupTicks:      c.Thermal.WarmupTicks,
			SpikeThreshold:   c.Thermal.SpikeThreshold,
			SustainThreshold: c.Thermal.SustainThreshold,
			SustainTicks:     c.Thermal.SustainTicks,
			RateThreshold:    c.Thermal.RateThreshold,
			RegionLow:        c.Thermal.RegionLow,
			RegionHigh:       c.Thermal.RegionHigh,
		},
		Execution: monitor.ExecutionConfig{
			Shift:            c.Execution.Shift,
			WarmupWindows:    c.Execution.WarmupWindows,
			IPCWindowTicks:   c.Execution.IPCWindowTicks,
			IPCThreshold:     c.Execution.IPCThreshold,
			PCJumpThreshold:  c.Execution.PCJumpThreshold,
			BoundsCheck:      c.Execution.BoundsCheck,
			CodeLow:          c.Execution.CodeLow,
			CodeHigh:         c.Execution.CodeHigh,
			PrivConfirmTicks: c.Execution.PrivConfirmTicks,
			CountWindowTicks: c.Execution.CountWindowTicks,
			MemLow:           c.Execution.MemLow,
			MemHigh:          c.Execution.MemHigh,
			MemOOBThreshold:  c.Execution.MemOOBThreshold,
			NMIThreshold:     c.Execution.NMIThreshold,
			FlushThreshold:   c.Execution.FlushThreshold,
		},
		Fusion: fusion.Config{
			Threshold:    c.Fusion.Threshold,
			WindowTicks:  c.Fusion.WindowTicks,
			MinMultiHits: c.Fusion.MinMultiHits,
		},
		Classifier: classifier.Config{
			Weights:           classifier.DefaultWeights(),
			LowThreshold:      c.Classifier.LowThreshold,
			MediumThreshold:   c.Classifier.MediumThreshold,
			HighThreshold:     c.Classifier.HighThreshold,
			CriticalThreshold: c.Classifier.CriticalThreshold,
			HysteresisTicks:   c.Classifier.HysteresisTicks,
		},
		Response: response.Config{
			HoldTicks:       c.Response.HoldTicks,
			WatchdogTimeout: c.Response.WatchdogTimeout,
			IsolateMask:     c.Response.IsolateMask,
			ThrottleDiv:     c.Response.ThrottleDiv,
			ClockAttackDiv:  c.Response.ClockAttackDiv,
		},
		Forensic: forensic.Config{
			Slots:       c.Forensic.Slots,
			WarmupTicks: c.Forensic.WarmupTicks,
		},
		Recovery: recovery.Config{
			StepHoldTicks:     c.Recovery.StepHoldTicks,
			IntegTimeoutTicks: c.Recovery.IntegTimeoutTicks,
			ValidateTicks:     c.Recovery.ValidateTicks,
			MaxRetries:        c.Recovery.MaxRetries,
			Modules:           c.Recovery.Modules,
		},
	}
}

// ApplyEnvOverrides applies environment variable overrides. Only the
// operational knobs are overridable; detection thresholds come from the
// file alone.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HWSENTINEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HWSENTINEL_METRICS_LISTEN"); v != "" {
		c.Daemon.MetricsListen = v
	}
	if v := os.Getenv("HWSENTINEL_ARCHIVE_PATH"); v != "" {
		c.Archive.Path = v
	}
}

// Clone returns a copy of the config. All fields are values, so a
// shallow copy is a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Save writes the configuration to the given path as TOML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
