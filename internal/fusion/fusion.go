// Package fusion combines the per-channel verdicts into a single fused
// anomaly assessment.
//
// Fusion is deliberately simple: a saturating sum of the four channel
// severities, a multi-domain flag when two or more channels report
// simultaneously, and a windowed correlated-attack detector. Correlation
// is evaluated over fixed, non-overlapping windows: if enough ticks inside
// a window were multi-domain, the correlated flag is raised for the whole
// following window, so correlation detection always trails the window
// boundary by one tick.
package fusion

import "hwsentinel/internal/monitor"

// ScoreMax is the saturation bound of the combined score (4-bit).
const ScoreMax = 15

// Config parameterizes the fusion engine.
type Config struct {
	// Threshold is the combined-score bound for high fused severity;
	// half of it bounds medium.
	Threshold uint8

	// WindowTicks is the correlation window length; MinMultiHits is the
	// number of multi-domain ticks inside one window that constitutes a
	// correlated attack.
	WindowTicks  uint32
	MinMultiHits uint32
}

// DefaultConfig returns the factory fusion parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:    6,
		WindowTicks:  32,
		MinMultiHits: 3,
	}
}

// Input is the set of channel verdicts fused on one tick.
type Input struct {
	Verdicts [monitor.NumChannels]monitor.Verdict
}

// Output is the fused state committed for one tick.
type Output struct {
	// Score is the saturating sum of the channel severities.
	Score uint8

	// Severity is the combined 2-bit severity.
	Severity monitor.Severity

	// MultiDomain is set when at least two channels report non-zero
	// severity simultaneously.
	MultiDomain bool

	// Correlated reports a correlated attack detected in the previous
	// window; it holds for the current window.
	Correlated bool

	// Ready is the AND of all channel ready flags.
	Ready bool
}

// Engine is the cross-domain fusion engine.
type Engine struct {
	cfg Config

	winTick    uint32
	multiHits  uint32
	correlated bool
}

// NewEngine returns a reset fusion engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Reset returns the engine to its power-on state.
func (e *Engine) Reset() {
	e.winTick = 0
	e.multiHits = 0
	e.correlated = false
}

// Tick fuses one tick of channel verdicts.
func (e *Engine) Tick(in Input) Output {
	var out Output
	out.Ready = true

	sum := 0
	active := 0
	for _, v := range in.Verdicts {
		out.Ready = out.Ready && v.Ready
		sum += int(v.Severity)
		if v.Severity != monitor.SevNone {
			active++
		}
	}
	if sum > ScoreMax {
		sum = ScoreMax
	}
	out.Score = uint8(sum)
	out.MultiDomain = active >= 2

	switch {
	case out.Score >= e.cfg.Threshold:
		out.Severity = monitor.SevHigh
	case out.Score >= e.cfg.Threshold/2:
		out.Severity = monitor.SevMedium
	case out.Score > 0:
		out.Severity = monitor.SevLow
	}

	if out.MultiDomain {
		e.multiHits++
	}
	e.winTick++
	if e.winTick >= e.cfg.WindowTicks {
		e.correlated = e.multiHits >= e.cfg.MinMultiHits
		e.winTick = 0
		e.multiHits = 0
	}
	out.Correlated = e.correlated

	return out
}
