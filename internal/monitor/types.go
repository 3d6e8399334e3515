// Package monitor implements the per-channel telemetry monitors.
//
// Four monitors share the same structure: an adaptive baseline per sample
// stream, a warm-up gate, and a set of channel-specific anomaly rules that
// compare the delta from baseline (or a derived rate, or the raw sample
// against a fixed region) to configured thresholds. Glitch-class rules
// fire on a single violating tick; sustained-class rules require the
// violation to hold across a counted window. Each monitor folds its flags
// into a 2-bit severity through a fixed per-channel priority table.
//
// Monitors never raise flags before warm-up completes: the baseline is
// converging from zero and everything would look anomalous.
package monitor

// Channel identifies one telemetry domain.
type Channel uint8

const (
	ChannelPower Channel = iota
	ChannelClock
	ChannelThermal
	ChannelExecution

	// NumChannels is the number of telemetry domains feeding fusion.
	NumChannels = 4
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelPower:
		return "power"
	case ChannelClock:
		return "clock"
	case ChannelThermal:
		return "thermal"
	case ChannelExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Severity is the per-channel 2-bit confidence level.
type Severity uint8

const (
	SevNone Severity = iota
	SevLow
	SevMedium
	SevHigh
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SevNone:
		return "none"
	case SevLow:
		return "low"
	case SevMedium:
		return "medium"
	case SevHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Flags is the set of anomaly flags a monitor can raise. All channels
// share one flag space so the fusion engine and classifier can treat the
// union uniformly.
type Flags uint32

const (
	// Power channel.
	FlagVoltageAnomaly Flags = 1 << iota
	FlagCurrentAnomaly
	FlagPowerGlitch

	// Clock channel.
	FlagClockGlitch
	FlagFreqDrift

	// Thermal channel.
	FlagTempHigh
	FlagTempLow
	FlagTempRate
	FlagTempSpike
	FlagTempSustained

	// Execution channel.
	FlagIPCDeviation
	FlagPCJump
	FlagPrivEscalation
	FlagMemOOB
	FlagNMIFlood
	FlagExcessFlush
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Any reports whether any bit in mask is set.
func (f Flags) Any(mask Flags) bool {
	return f&mask != 0
}

// Verdict is one monitor's committed output for a tick.
type Verdict struct {
	Channel  Channel
	Ready    bool
	Flags    Flags
	Severity Severity

	// Primary stream snapshot: the raw sample, the live baseline, and
	// the unsigned delta between them. For the power monitor the
	// primary stream is the voltage rail; for the execution monitor it
	// is the per-window retired-instruction count.
	Sample   uint32
	Baseline uint32
	Delta    uint32
}
