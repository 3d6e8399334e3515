// Package baseline implements the adaptive baseline shared by every
// telemetry channel.
//
// The baseline is an exponentially weighted moving average kept in pure
// integer arithmetic: an oversized accumulator holds baseline << shift, and
// each valid sample updates it as
//
//	acc' = acc - (acc >> shift) + sample
//
// which is an EWMA with smoothing factor 2^-shift. The extracted baseline
// is acc >> shift. A channel is not trusted until it has absorbed a fixed
// number of valid samples; before that the baseline is still converging
// from zero and anomaly decisions made against it would be noise.
package baseline

// Config parameterizes one baseline instance.
type Config struct {
	// Shift is the adaptation factor: the EWMA smoothing factor is
	// 2^-Shift. Larger values adapt more slowly.
	Shift uint

	// WarmupTicks is the number of valid samples required before the
	// baseline is considered trustworthy.
	WarmupTicks uint32
}

// Baseline tracks the adaptive baseline for a single sample stream.
type Baseline struct {
	cfg  Config
	acc  uint64
	seen uint32
}

// New returns a baseline in its reset state.
func New(cfg Config) *Baseline {
	return &Baseline{cfg: cfg}
}

// Reset returns the baseline to its power-on state: zero accumulator,
// warm-up restarted.
func (b *Baseline) Reset() {
	b.acc = 0
	b.seen = 0
}

// Observe folds one valid sample into the accumulator and advances the
// warm-up counter.
func (b *Baseline) Observe(sample uint32) {
	b.acc = b.acc - (b.acc >> b.cfg.Shift) + uint64(sample)
	b.bump()
}

// Freeze advances the warm-up counter without updating the accumulator.
// The thermal channel uses this when the sample-to-sample rate of change
// is too high to trust: folding the sample in would let an attacker drag
// the baseline toward an attack value with a fast ramp.
func (b *Baseline) Freeze() {
	b.bump()
}

func (b *Baseline) bump() {
	if b.seen < b.cfg.WarmupTicks {
		b.seen++
	}
}

// Value returns the current extracted baseline.
func (b *Baseline) Value() uint32 {
	return uint32(b.acc >> b.cfg.Shift)
}

// Delta returns |sample - baseline| as an unsigned magnitude. It never
// wraps regardless of which side of the baseline the sample falls on.
func (b *Baseline) Delta(sample uint32) uint32 {
	return AbsDiff(sample, b.Value())
}

// Ready reports whether warm-up has completed.
func (b *Baseline) Ready() bool {
	return b.seen >= b.cfg.WarmupTicks
}

// Seen returns the number of warm-up samples absorbed so far, saturating
// at the warm-up threshold.
func (b *Baseline) Seen() uint32 {
	return b.seen
}

// AbsDiff returns |a - b| without wrapping.
func AbsDiff(a, b uint32) uint32 {
	if a >= b {
		return a - b
	}
	return b - a
}
