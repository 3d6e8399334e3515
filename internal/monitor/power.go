package monitor

import "hwsentinel/internal/baseline"

// PowerConfig parameterizes the power monitor. Thresholds are in the same
// fixed-point units as the incoming samples (millivolts / milliamps in the
// expected telemetry).
type PowerConfig struct {
	Shift       uint
	WarmupTicks uint32

	// VoltageThreshold and CurrentThreshold bound the sustained delta
	// from baseline on each rail.
	VoltageThreshold uint32
	CurrentThreshold uint32

	// GlitchThreshold is the single-tick delta on either rail that
	// indicates transient injection.
	GlitchThreshold uint32

	// SustainTicks is the number of consecutive violating ticks before a
	// rail anomaly is confirmed.
	SustainTicks uint32
}

// DefaultPowerConfig returns the factory thresholds.
func DefaultPowerConfig() PowerConfig {
	return PowerConfig{
		Shift:            4,
		WarmupTicks:      16,
		VoltageThreshold: 150,
		CurrentThreshold: 200,
		GlitchThreshold:  600,
		SustainTicks:     8,
	}
}

// PowerSample is one tick of power telemetry.
type PowerSample struct {
	Voltage uint32
	Current uint32
	Valid   bool
}

// PowerMonitor tracks the voltage and current rails against independent
// baselines and raises rail anomalies and glitch flags.
type PowerMonitor struct {
	cfg PowerConfig

	vBase *baseline.Baseline
	iBase *baseline.Baseline

	vSustain uint32
	iSustain uint32

	out Verdict
}

// NewPowerMonitor returns a reset power monitor.
func NewPowerMonitor(cfg PowerConfig) *PowerMonitor {
	m := &PowerMonitor{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns the monitor to its power-on state.
func (m *PowerMonitor) Reset() {
	bc := baseline.Config{Shift: m.cfg.Shift, WarmupTicks: m.cfg.WarmupTicks}
	m.vBase = baseline.New(bc)
	m.iBase = baseline.New(bc)
	m.vSustain = 0
	m.iSustain = 0
	m.out = Verdict{Channel: ChannelPower}
}

// Tick consumes one sample and returns the complete verdict for this tick.
// On an invalid sample the previous baseline is held and no flags change.
func (m *PowerMonitor) Tick(s PowerSample) Verdict {
	if !s.Valid {
		return m.out
	}

	m.vBase.Observe(s.Voltage)
	m.iBase.Observe(s.Current)

	vDelta := m.vBase.Delta(s.Voltage)
	iDelta := m.iBase.Delta(s.Current)

	if vDelta > m.cfg.VoltageThreshold {
		m.vSustain++
	} else {
		m.vSustain = 0
	}
	if iDelta > m.cfg.CurrentThreshold {
		m.iSustain++
	} else {
		m.iSustain = 0
	}

	out := Verdict{
		Channel:  ChannelPower,
		Ready:    m.vBase.Ready() && m.iBase.Ready(),
		Sample:   s.Voltage,
		Baseline: m.vBase.Value(),
		Delta:    vDelta,
	}

	if out.Ready {
		if m.vSustain >= m.cfg.SustainTicks {
			out.Flags |= FlagVoltageAnomaly
		}
		if m.iSustain >= m.cfg.SustainTicks {
			out.Flags |= FlagCurrentAnomaly
		}
		if vDelta > m.cfg.GlitchThreshold || iDelta > m.cfg.GlitchThreshold {
			out.Flags |= FlagPowerGlitch
		}
		out.Severity = powerSeverity(out.Flags)
	}

	m.out = out
	return out
}

// powerSeverity is the fixed priority table for the power channel:
// a glitch coinciding with a confirmed rail anomaly is high, both rails
// anomalous (or a glitch alone) is medium, a single rail anomaly is low.
func powerSeverity(f Flags) Severity {
	glitch := f.Has(FlagPowerGlitch)
	v := f.Has(FlagVoltageAnomaly)
	i := f.Has(FlagCurrentAnomaly)

	switch {
	case glitch && (v || i):
		return SevHigh
	case v && i, glitch:
		return SevMedium
	case v || i:
		return SevLow
	default:
		return SevNone
	}
}
