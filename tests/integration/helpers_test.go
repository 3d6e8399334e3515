//go:build integration

// Package integration provides end-to-end integration tests for hwsentineld.
//
// These tests drive the full tick loop: telemetry in, detection and
// fusion, classification, response, forensic capture, recovery, and
// finally archival and report generation.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"path/filepath"
	"runtime"
	"testing"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/config"
	"hwsentinel/internal/daemon"
	"hwsentinel/internal/logging"
	"hwsentinel/internal/metrics"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
)

// =============================================================================
// Test Environment Setup
// =============================================================================

// TestEnv holds the components needed for an end-to-end run.
type TestEnv struct {
	T       *testing.T
	TempDir string

	Config  *config.Config
	Metrics *metrics.SentinelMetrics
	Archive archive.Archiver
	Daemon  *daemon.Daemon
}

// NewTestEnv creates a test environment with shortened warm-ups so a
// full attack lifecycle fits in a few hundred ticks. The daemon is not
// built yet; set Archive or adjust Config first, then call InitDaemon.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Daemon.TickIntervalUs = 0
	cfg.Daemon.DrainIntervalTicks = 64
	cfg.Archive.Type = "memory"
	cfg.Power.Shift = 4
	cfg.Power.WarmupTicks = 64
	cfg.Power.SustainTicks = 4
	cfg.Clock.Shift = 2
	cfg.Clock.WarmupEdges = 8
	cfg.Thermal.Shift = 2
	cfg.Thermal.WarmupTicks = 16
	cfg.Execution.Shift = 2
	cfg.Execution.WarmupWindows = 4
	cfg.Execution.IPCWindowTicks = 8
	cfg.Execution.CountWindowTicks = 64
	cfg.Fusion.WindowTicks = 8
	cfg.Fusion.MinMultiHits = 2
	cfg.Classifier.LowThreshold = 20
	cfg.Classifier.MediumThreshold = 40
	cfg.Classifier.HighThreshold = 60
	cfg.Classifier.CriticalThreshold = 90
	cfg.Classifier.HysteresisTicks = 8
	cfg.Response.HoldTicks = 8
	cfg.Recovery.StepHoldTicks = 2
	cfg.Recovery.IntegTimeoutTicks = 256
	cfg.Recovery.ValidateTicks = 2
	cfg.Recovery.Modules = 0x0003

	return &TestEnv{
		T:       t,
		TempDir: t.TempDir(),
		Config:  cfg,
		Metrics: metrics.NewSentinelMetrics(metrics.NewRegistry("hwsentinel", "")),
	}
}

// InitDaemon builds the daemon from the environment's current config.
func (env *TestEnv) InitDaemon(src daemon.Source, disableSequencer bool) {
	env.T.Helper()

	l, err := logging.New(&logging.Config{
		Level:  logging.LevelError + 4,
		Output: "stderr",
	})
	AssertNoError(env.T, err, "create logger")

	d, err := daemon.New(daemon.Options{
		Config:           env.Config,
		Source:           src,
		Archive:          env.Archive,
		Metrics:          env.Metrics,
		Logger:           l,
		DisableSequencer: disableSequencer,
	})
	AssertNoError(env.T, err, "create daemon")
	env.Daemon = d

	env.T.Cleanup(func() { d.Close() })
}

// Steps advances the daemon by n ticks and returns the last outputs.
func (env *TestEnv) Steps(n int) pipeline.Outputs {
	env.T.Helper()
	var out pipeline.Outputs
	for i := 0; i < n; i++ {
		var ok bool
		out, ok = env.Daemon.Step()
		AssertTrue(env.T, ok, "telemetry source exhausted mid-run")
	}
	return out
}

// StepUntil advances the daemon until done reports true, failing the
// test if the budget runs out first.
func (env *TestEnv) StepUntil(budget int, done func(pipeline.Outputs) bool) pipeline.Outputs {
	env.T.Helper()
	for i := 0; i < budget; i++ {
		out, ok := env.Daemon.Step()
		AssertTrue(env.T, ok, "telemetry source exhausted mid-run")
		if done(out) {
			return out
		}
	}
	env.T.Fatalf("condition not reached within %d ticks", budget)
	return pipeline.Outputs{}
}

// =============================================================================
// Telemetry Sources
// =============================================================================

// glitchSource plays calm bench telemetry with a sustained rail-and-PC
// attack between attackFrom and attackUntil. Outside the window the
// profile matches the daemon's quiet bench.
type glitchSource struct {
	tick        uint64
	pc          uint32
	attackFrom  uint64
	attackUntil uint64
}

func newGlitchSource(from, until uint64) *glitchSource {
	return &glitchSource{pc: 0x4000, attackFrom: from, attackUntil: until}
}

func (s *glitchSource) Next() (pipeline.Inputs, bool) {
	in := pipeline.Inputs{
		Power:      monitor.PowerSample{Voltage: 3300, Current: 450, Valid: true},
		Thermal:    monitor.ThermalSample{Temp: 1000, Valid: true},
		ClockLevel: (s.tick/4)%2 == 1,
		Proc:       monitor.ProcObs{PC: s.pc, Retired: true},
	}
	if s.tick >= s.attackFrom && s.tick < s.attackUntil {
		in.Power.Voltage = 3800
		in.Power.Current = 1200
		in.Proc.PC = 0x0050_0000
	}
	s.tick++
	s.pc += 4
	return in, true
}

// repoRoot locates the repository root from this source file so the
// tests can reach docs/ and traces/ regardless of the working dir.
func repoRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine caller path")
	}
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual[T comparable](t *testing.T, expected, actual T, msg string) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue fails the test if condition is false.
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", msg)
	}
}

// AssertFalse fails the test if condition is true.
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", msg)
	}
}
