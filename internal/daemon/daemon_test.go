package daemon

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/classifier"
	"hwsentinel/internal/config"
	"hwsentinel/internal/logging"
	"hwsentinel/internal/metrics"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
	"hwsentinel/internal/response"
)

// testConfig shortens warm-ups and windows so a full lifecycle fits in
// a few hundred ticks.
func testConfig() *config.Config {
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
	return cfg
}

func testMetrics() *metrics.SentinelMetrics {
	return metrics.NewSentinelMetrics(metrics.NewRegistry("hwsentinel", ""))
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(&logging.Config{
		Level:  logging.LevelError + 4,
		Output: "stderr",
	})
	require.NoError(t, err)
	return l
}

// attackSource plays calm telemetry with a sustained rail-and-PC attack
// window in the middle.
type attackSource struct {
	tick        uint64
	pc          uint32
	attackFrom  uint64
	attackUntil uint64
}

func newAttackSource(from, until uint64) *attackSource {
	return &attackSource{pc: 0x4000, attackFrom: from, attackUntil: until}
}

func (s *attackSource) Next() (pipeline.Inputs, bool) {
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

func newTestDaemon(t *testing.T, src Source) (*Daemon, *metrics.SentinelMetrics) {
	t.Helper()
	met := testMetrics()
	d, err := New(Options{
		Config:  testConfig(),
		Source:  src,
		Metrics: met,
		Logger:  quietLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, met
}

func steps(t *testing.T, d *Daemon, n int) pipeline.Outputs {
	t.Helper()
	var out pipeline.Outputs
	for i := 0; i < n; i++ {
		var ok bool
		out, ok = d.Step()
		require.True(t, ok)
	}
	return out
}

func stepUntil(t *testing.T, d *Daemon, budget int, done func(pipeline.Outputs) bool) pipeline.Outputs {
	t.Helper()
	for i := 0; i < budget; i++ {
		out, ok := d.Step()
		require.True(t, ok)
		if done(out) {
			return out
		}
	}
	t.Fatalf("condition not reached within %d ticks", budget)
	return pipeline.Outputs{}
}

func TestQuietBenchStaysIdle(t *testing.T) {
	d, met := newTestDaemon(t, nil)

	out := steps(t, d, 200)
	assert.Equal(t, classifier.LevelNone, out.Threat.Level)
	assert.Equal(t, response.LevelIdle, out.Response.Level)
	assert.Equal(t, uint64(200), met.TicksTotal.Value())
	assert.Equal(t, uint64(0), met.EscalationsTotal.Value())
	assert.Equal(t, uint64(0), met.LockdownsTotal.Value())
	assert.Equal(t, uint64(200), d.Ticks())
}

func TestAttackLifecycle(t *testing.T) {
	d, met := newTestDaemon(t, newAttackSource(160, 180))

	steps(t, d, 160)

	// Escalation through lockdown under sustained attack.
	stepUntil(t, d, 40, func(out pipeline.Outputs) bool {
		return out.Response.Level == response.LevelLockdown
	})
	assert.Equal(t, uint64(1), met.LockdownsTotal.Value())
	assert.Greater(t, met.EscalationsTotal.Value(), uint64(0))

	// The built-in sequencer walks recovery once the threat clears; the
	// controller then returns to idle.
	stepUntil(t, d, 400, func(out pipeline.Outputs) bool {
		return out.Response.Level == response.LevelIdle
	})
	assert.Equal(t, uint64(1), met.RecoveriesTotal.Value())
	assert.Greater(t, met.CapturesTotal.Value(), uint64(0))
	assert.Equal(t, classifier.LevelNone, d.Last().Threat.Level)

	// Drain interval has passed at least once since the capture, so the
	// incident is already archived.
	_, err := d.Drain()
	require.NoError(t, err)
	assert.Greater(t, met.ArchivedTotal.Value(), uint64(0))
}

func TestRunStopsWhenSourceExhausts(t *testing.T) {
	ticksLeft := 50
	src := FuncSource(func() (pipeline.Inputs, bool) {
		if ticksLeft == 0 {
			return pipeline.Inputs{}, false
		}
		ticksLeft--
		return pipeline.Inputs{
			Power:   monitor.PowerSample{Voltage: 3300, Current: 450, Valid: true},
			Thermal: monitor.ThermalSample{Temp: 1000, Valid: true},
			Proc:    monitor.ProcObs{PC: 0x4000, Retired: true},
		}, true
	})

	d, met := newTestDaemon(t, src)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, uint64(50), met.TicksTotal.Value())
}

func TestRunHonorsContextCancel(t *testing.T) {
	d, _ := newTestDaemon(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandlerServesMetricsAndProbes(t *testing.T) {
	d, _ := newTestDaemon(t, nil)
	steps(t, d, 10)

	h := d.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hwsentinel_ticks_total 10"),
		"metrics body missing tick counter:\n%s", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/livez", nil))
	assert.Equal(t, 200, rec.Code)

	// Readiness flips only inside Run.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestUsesConfiguredArchive(t *testing.T) {
	mem := archive.NewMemory()
	d, err := New(Options{
		Config:  testConfig(),
		Source:  newAttackSource(160, 180),
		Archive: mem,
		Metrics: testMetrics(),
		Logger:  quietLogger(t),
	})
	require.NoError(t, err)
	defer d.Close()

	steps(t, d, 160)
	stepUntil(t, d, 40, func(out pipeline.Outputs) bool {
		return out.Forensic.CaptureDone
	})

	_, err = d.Drain()
	require.NoError(t, err)

	n, err := mem.Count()
	require.NoError(t, err)
	assert.Greater(t, n, int64(0))
}
