package monitor

import "hwsentinel/internal/baseline"

// ThermalConfig parameterizes the thermal monitor. Samples are unsigned
// fixed-point temperature codes straight from the sensor front end.
type ThermalConfig struct {
	Shift       uint
	WarmupTicks uint32

	// SpikeThreshold is the single-tick delta from baseline that counts
	// as a spike. SustainThreshold is the (smaller) delta that, held for
	// SustainTicks consecutive samples, confirms a sustained excursion.
	SpikeThreshold   uint32
	SustainThreshold uint32
	SustainTicks     uint32

	// RateThreshold bounds the sample-to-sample rate of change. A tick
	// that violates it freezes the baseline for that tick.
	RateThreshold uint32

	// RegionLow / RegionHigh bound the absolute operating region.
	RegionLow  uint32
	RegionHigh uint32
}

// DefaultThermalConfig returns the factory thresholds.
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{
		Shift:            5,
		WarmupTicks:      32,
		SpikeThreshold:   80,
		SustainThreshold: 40,
		SustainTicks:     16,
		RateThreshold:    25,
		RegionLow:        200,
		RegionHigh:       3500,
	}
}

// ThermalSample is one tick of temperature telemetry.
type ThermalSample struct {
	Temp  uint32
	Valid bool
}

// ThermalMonitor tracks temperature against an adaptive baseline with a
// rate-freeze rule: when the sample-to-sample rate of change exceeds the
// rate threshold the baseline does not absorb that sample. An attacker
// ramping the die temperature fast enough to matter is thereby denied the
// chance to drag the baseline along; the cost is one stale-baseline tick
// on any genuine fast transient.
type ThermalMonitor struct {
	cfg ThermalConfig

	base     *baseline.Baseline
	prev     uint32
	havePrev bool
	sustain  uint32

	out Verdict
}

// NewThermalMonitor returns a reset thermal monitor.
func NewThermalMonitor(cfg ThermalConfig) *ThermalMonitor {
	m := &ThermalMonitor{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns the monitor to its power-on state.
func (m *ThermalMonitor) Reset() {
	m.base = baseline.New(baseline.Config{Shift: m.cfg.Shift, WarmupTicks: m.cfg.WarmupTicks})
	m.prev = 0
	m.havePrev = false
	m.sustain = 0
	m.out = Verdict{Channel: ChannelThermal}
}

// Tick consumes one sample and returns the complete verdict for this tick.
func (m *ThermalMonitor) Tick(s ThermalSample) Verdict {
	if !s.Valid {
		return m.out
	}

	var rate uint32
	if m.havePrev {
		rate = baseline.AbsDiff(s.Temp, m.prev)
	}
	m.prev = s.Temp
	m.havePrev = true

	rateAnom := rate > m.cfg.RateThreshold
	if rateAnom {
		m.base.Freeze()
	} else {
		m.base.Observe(s.Temp)
	}

	delta := m.base.Delta(s.Temp)
	if delta > m.cfg.SustainThreshold {
		m.sustain++
	} else {
		m.sustain = 0
	}

	out := Verdict{
		Channel:  ChannelThermal,
		Ready:    m.base.Ready(),
		Sample:   s.Temp,
		Baseline: m.base.Value(),
		Delta:    delta,
	}
	if out.Ready {
		if delta > m.cfg.SpikeThreshold {
			out.Flags |= FlagTempSpike
		}
		if m.sustain >= m.cfg.SustainTicks {
			out.Flags |= FlagTempSustained
		}
		if rateAnom {
			out.Flags |= FlagTempRate
		}
		if s.Temp > m.cfg.RegionHigh {
			out.Flags |= FlagTempHigh
		}
		if s.Temp < m.cfg.RegionLow {
			out.Flags |= FlagTempLow
		}
		out.Severity = thermalSeverity(out.Flags)
	}

	m.out = out
	return out
}

// thermalSeverity: a sustained excursion coinciding with a spike is high,
// a spike or rate violation is medium, an out-of-region reading alone is
// low.
func thermalSeverity(f Flags) Severity {
	switch {
	case f.Has(FlagTempSustained | FlagTempSpike):
		return SevHigh
	case f.Any(FlagTempSpike | FlagTempRate):
		return SevMedium
	case f.Any(FlagTempHigh | FlagTempLow):
		return SevLow
	default:
		return SevNone
	}
}
