package monitor

import (
	"hwsentinel/internal/baseline"
	"hwsentinel/internal/signal"
)

// ClockConfig parameterizes the clock-period monitor. Periods are measured
// in system ticks between synchronized rising edges of the monitored
// clock.
type ClockConfig struct {
	Shift       uint
	WarmupEdges uint32

	// GlitchThreshold is the single-measurement period delta that
	// indicates clock glitch injection.
	GlitchThreshold uint32

	// DriftThreshold bounds the sustained period delta; DriftSustain is
	// the number of consecutive violating measurements before frequency
	// drift is confirmed.
	DriftThreshold uint32
	DriftSustain   uint32

	// MaxPeriod saturates the edge-to-edge tick counter so a stopped
	// clock cannot overflow it.
	MaxPeriod uint32
}

// DefaultClockConfig returns the factory thresholds.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		Shift:           3,
		WarmupEdges:     16,
		GlitchThreshold: 12,
		DriftThreshold:  3,
		DriftSustain:    8,
		MaxPeriod:       1 << 16,
	}
}

// ClockMonitor measures the period of an externally clocked signal and
// compares each measurement against an adaptive period baseline. The raw
// level crosses a clock domain, so it runs through a two-stage
// synchronizer before edge detection. A separate reference-pulse input is
// edge-detected and counted but is advisory only; it does not feed the
// measurement path.
type ClockMonitor struct {
	cfg ClockConfig

	front    signal.SyncEdge
	refFront signal.SyncEdge

	base      *baseline.Baseline
	sinceEdge uint32
	haveEdge  bool

	driftRun  uint32
	refPulses uint64

	out Verdict
}

// NewClockMonitor returns a reset clock monitor.
func NewClockMonitor(cfg ClockConfig) *ClockMonitor {
	m := &ClockMonitor{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns the monitor to its power-on state.
func (m *ClockMonitor) Reset() {
	m.front.Reset()
	m.refFront.Reset()
	m.base = baseline.New(baseline.Config{Shift: m.cfg.Shift, WarmupTicks: m.cfg.WarmupEdges})
	m.sinceEdge = 0
	m.haveEdge = false
	m.driftRun = 0
	m.refPulses = 0
	m.out = Verdict{Channel: ChannelClock}
}

// Tick samples the monitored clock level (and the advisory reference
// pulse) for one system tick. Flags and the period snapshot update on edge
// ticks and hold between edges.
func (m *ClockMonitor) Tick(clockLevel, refPulse bool) Verdict {
	if m.refFront.Rising(refPulse) {
		m.refPulses++
	}

	if m.sinceEdge < m.cfg.MaxPeriod {
		m.sinceEdge++
	}

	if !m.front.Rising(clockLevel) {
		return m.out
	}

	period := m.sinceEdge
	m.sinceEdge = 0
	if !m.haveEdge {
		// First edge only anchors the measurement; there is no period yet.
		m.haveEdge = true
		return m.out
	}

	m.base.Observe(period)
	delta := m.base.Delta(period)

	if delta > m.cfg.DriftThreshold {
		m.driftRun++
	} else {
		m.driftRun = 0
	}

	out := Verdict{
		Channel:  ChannelClock,
		Ready:    m.base.Ready(),
		Sample:   period,
		Baseline: m.base.Value(),
		Delta:    delta,
	}
	if out.Ready {
		if delta > m.cfg.GlitchThreshold {
			out.Flags |= FlagClockGlitch
		}
		if m.driftRun >= m.cfg.DriftSustain {
			out.Flags |= FlagFreqDrift
		}
		out.Severity = clockSeverity(out.Flags)
	}

	m.out = out
	return out
}

// RefPulses returns the count of synchronized reference pulses seen since
// reset. Diagnostic only.
func (m *ClockMonitor) RefPulses() uint64 {
	return m.refPulses
}

// clockSeverity: glitch and drift together are high, a glitch alone is
// medium, drift alone is low.
func clockSeverity(f Flags) Severity {
	switch {
	case f.Has(FlagClockGlitch | FlagFreqDrift):
		return SevHigh
	case f.Has(FlagClockGlitch):
		return SevMedium
	case f.Has(FlagFreqDrift):
		return SevLow
	default:
		return SevNone
	}
}
