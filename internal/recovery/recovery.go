// Package recovery implements the staged restoration sequence that undoes
// isolation after a lockdown.
//
// The sequence is linear and deliberately slow: IDLE → INIT → INTEG_CHECK
// → CLK_RAMP (1/8, 1/4, 1/2, full) → BUS_RESTORE → DMA_RESTORE →
// MOD_RESTORE → VALIDATE → DONE. Every non-instant stage holds for a fixed
// number of ticks, modeling staged re-energization rather than an
// instantaneous restore. Any failure (a failed or timed-out integrity
// check, a module that never acknowledges, a threat picture that is not
// actually clear, an unstable system) routes to FAILED, which retries
// the whole sequence from INIT up to a fixed bound. Exhausting the
// bound lands in PERM_LOCK, which is terminal: no input, including a
// later passing integrity check, leaves it.
package recovery

// State is the recovery sequence position.
type State uint8

const (
	StateIdle State = iota
	StateInit
	StateIntegCheck
	StateClkRamp
	StateBusRestore
	StateDMARestore
	StateModRestore
	StateValidate
	StateDone
	StateFailed
	StatePermLock
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInit:
		return "init"
	case StateIntegCheck:
		return "integ_check"
	case StateClkRamp:
		return "clk_ramp"
	case StateBusRestore:
		return "bus_restore"
	case StateDMARestore:
		return "dma_restore"
	case StateModRestore:
		return "mod_restore"
	case StateValidate:
		return "validate"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StatePermLock:
		return "perm_lock"
	default:
		return "unknown"
	}
}

// rampDividers are the clock-ramp sub-steps, coarsest first.
var rampDividers = [4]uint8{8, 4, 2, 1}

// Config parameterizes the recovery engine.
type Config struct {
	// StepHoldTicks is the dwell of each non-instant stage (INIT, each
	// clock-ramp sub-step, BUS_RESTORE, DMA_RESTORE).
	StepHoldTicks uint32

	// IntegTimeoutTicks bounds the wait for the external integrity
	// checker; MODULE and VALIDATE waits share the same bound.
	IntegTimeoutTicks uint32

	// ValidateTicks is how long the threat-clear and system-stable
	// signals must hold in VALIDATE.
	ValidateTicks uint32

	// MaxRetries bounds FAILED→INIT loops before PERM_LOCK.
	MaxRetries uint32

	// Modules is the bitmask of modules requiring restore acknowledge.
	Modules uint16
}

// DefaultConfig returns the factory recovery parameters.
func DefaultConfig() Config {
	return Config{
		StepHoldTicks:     16,
		IntegTimeoutTicks: 1024,
		ValidateTicks:     32,
		MaxRetries:        3,
		Modules:           0x00FF,
	}
}

// Input is the recovery engine's per-tick signal bundle.
type Input struct {
	// Start arms the sequence; honored only in IDLE.
	Start bool

	// External integrity-check handshake.
	IntegrityDone bool
	IntegrityPass bool

	// Per-module restore acknowledgements, cleared bit-by-bit from the
	// pending mask.
	RestoreAck uint16

	// ThreatClear is the classifier reporting no active threat;
	// SysStable is the external sequencer reporting a stable system.
	ThreatClear bool
	SysStable   bool
}

// Output is the engine's committed output for one tick.
type Output struct {
	State State

	// Ready is true in IDLE and in FAILED with retries remaining; false
	// during every active step and permanently false in PERM_LOCK.
	Ready bool

	// Done pulses in DONE; Failed pulses in FAILED.
	Done   bool
	Failed bool

	// PermanentLockdown is asserted in PERM_LOCK and never deasserts.
	PermanentLockdown bool

	// Strobes for the external restore sequencer.
	IntegrityCheckReq bool
	ClockRestore      bool
	ClockDiv          uint8
	BusRestore        bool
	DMARestore        bool
	ModulePending     uint16
	DebugRestore      bool
	PUFRestore        bool

	Retries uint32
}

// Engine is the recovery state machine.
type Engine struct {
	cfg Config

	st       State
	stepTick uint32
	rampStep int
	waitTick uint32
	pending  uint16
	retries  uint32
}

// New returns a reset engine.
func New(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.Reset()
	return e
}

// Reset returns the engine to its power-on state. PERM_LOCK does not
// survive reset: a hard reset is exactly the one sanctioned way out.
func (e *Engine) Reset() {
	e.st = StateIdle
	e.stepTick = 0
	e.rampStep = 0
	e.waitTick = 0
	e.pending = 0
	e.retries = 0
}

// Tick advances the engine one tick.
func (e *Engine) Tick(in Input) Output {
	switch e.st {
	case StateIdle:
		if in.Start {
			e.retries = 0
			e.enter(StateInit)
		}

	case StateInit:
		if e.hold() {
			e.enter(StateIntegCheck)
		}

	case StateIntegCheck:
		e.waitTick++
		switch {
		case in.IntegrityDone && in.IntegrityPass:
			e.rampStep = 0
			e.enter(StateClkRamp)
		case in.IntegrityDone && !in.IntegrityPass,
			e.waitTick >= e.cfg.IntegTimeoutTicks:
			e.enter(StateFailed)
		}

	case StateClkRamp:
		if e.hold() {
			e.stepTick = 0
			e.rampStep++
			if e.rampStep >= len(rampDividers) {
				e.enter(StateBusRestore)
			}
		}

	case StateBusRestore:
		if e.hold() {
			e.enter(StateDMARestore)
		}

	case StateDMARestore:
		if e.hold() {
			e.pending = e.cfg.Modules
			e.enter(StateModRestore)
		}

	case StateModRestore:
		e.pending &^= in.RestoreAck
		e.waitTick++
		switch {
		case e.pending == 0:
			e.enter(StateValidate)
		case e.waitTick >= e.cfg.IntegTimeoutTicks:
			e.enter(StateFailed)
		}

	case StateValidate:
		switch {
		case !in.ThreatClear, !in.SysStable:
			e.enter(StateFailed)
		default:
			e.waitTick++
			if e.waitTick >= e.cfg.ValidateTicks {
				e.enter(StateDone)
			}
		}

	case StateDone:
		e.enter(StateIdle)

	case StateFailed:
		if e.retries >= e.cfg.MaxRetries {
			e.enter(StatePermLock)
		} else {
			e.enter(StateInit)
		}

	case StatePermLock:
		// Terminal. Nothing leaves.
	}

	return e.output()
}

// enter transitions to a state, resetting per-state counters. Entering
// FAILED consumes a retry.
func (e *Engine) enter(s State) {
	e.st = s
	e.stepTick = 0
	e.waitTick = 0
	if s == StateFailed {
		e.retries++
	}
}

// hold dwells in the current stage for the configured step hold.
func (e *Engine) hold() bool {
	e.stepTick++
	return e.stepTick >= e.cfg.StepHoldTicks
}

// output builds the complete output record for the committed state.
func (e *Engine) output() Output {
	out := Output{State: e.st, Retries: e.retries}

	switch e.st {
	case StateIdle:
		out.Ready = true
	case StateIntegCheck:
		out.IntegrityCheckReq = true
	case StateClkRamp:
		out.ClockRestore = true
		out.ClockDiv = rampDividers[e.rampStep]
	case StateBusRestore:
		out.BusRestore = true
	case StateDMARestore:
		out.DMARestore = true
	case StateModRestore:
		out.ModulePending = e.pending
	case StateDone:
		out.Done = true
		out.DebugRestore = true
		out.PUFRestore = true
	case StateFailed:
		out.Failed = true
		out.Ready = e.retries < e.cfg.MaxRetries
	case StatePermLock:
		out.PermanentLockdown = true
	}
	return out
}
