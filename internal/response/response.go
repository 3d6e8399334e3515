// Package response maps the classified threat level onto the graded
// ladder of protective actions.
//
// The ladder is strictly monotonic: IDLE→LOG→ALERT→THROTTLE→ISOLATE→
// LOCKDOWN, each rung additively including every action below it. Two
// transitions bypass the ladder: a CRITICAL threat and watchdog expiry
// both jump straight to LOCKDOWN from anywhere. De-escalation from any
// rung below LOCKDOWN passes through HOLD, which keeps the escalated
// rung's actions in force for a bounded window before releasing to IDLE.
// LOCKDOWN is exited only through the recovery handshake: once the
// forensic trail is captured and the recovery engine reports ready, the
// controller moves to RECOVER and waits for recovery completion.
//
// The per-tick output is a complete action record; no action carries over
// implicitly from the previous tick.
package response

import "hwsentinel/internal/classifier"

// Level is the response ladder position.
type Level uint8

const (
	LevelIdle Level = iota
	LevelLog
	LevelAlert
	LevelThrottle
	LevelIsolate
	LevelLockdown
	LevelRecover
	LevelHold
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelIdle:
		return "idle"
	case LevelLog:
		return "log"
	case LevelAlert:
		return "alert"
	case LevelThrottle:
		return "throttle"
	case LevelIsolate:
		return "isolate"
	case LevelLockdown:
		return "lockdown"
	case LevelRecover:
		return "recover"
	case LevelHold:
		return "hold"
	default:
		return "unknown"
	}
}

// AllModules is the isolation mask covering every protected module.
const AllModules uint16 = 0xFFFF

// Config parameterizes the response controller.
type Config struct {
	// HoldTicks is the de-escalation hold window.
	HoldTicks uint32

	// WatchdogTimeout forces LOCKDOWN when the controller sits non-idle
	// this many ticks without a new confirmed threat event.
	WatchdogTimeout uint32

	// IsolateMask is the module subset isolated at the ISOLATE rung.
	IsolateMask uint16

	// ThrottleDiv is the clock divider applied at THROTTLE and above;
	// ClockAttackDiv is the more aggressive divider used when the
	// classified attack targets the clock.
	ThrottleDiv    uint8
	ClockAttackDiv uint8
}

// DefaultConfig returns the factory response parameters.
func DefaultConfig() Config {
	return Config{
		HoldTicks:       128,
		WatchdogTimeout: 4096,
		IsolateMask:     0x00FF,
		ThrottleDiv:     4,
		ClockAttackDiv:  8,
	}
}

// Input is what the controller observes each tick.
type Input struct {
	Threat classifier.Output

	// Fused context used for the HIGH-threat isolation decision.
	MultiDomain bool
	Correlated  bool

	// Manual override: when enabled, OverrideLevel replaces the
	// classifier's level in the active-threat mux.
	OverrideEnable bool
	OverrideLevel  classifier.Level

	// Handshake inputs closing the loop.
	ForensicCaptured  bool
	RecoveryReady     bool
	RecoveryDone      bool
	PermanentLockdown bool
}

// Actions is the complete protective action vector for one tick.
type Actions struct {
	LogEnable bool

	AlertIRQ  bool
	AlertGPIO bool

	ClockThrottle bool
	ThrottleDiv   uint8
	DMAHalt       bool

	BusIsolate   bool
	DebugDisable bool
	IsolateMask  uint16

	Lockdown bool
	Zeroize  bool
	PUFLock  bool

	// WatchdogKick is deasserted in LOCKDOWN so a wedged controller is
	// hard-reset externally.
	WatchdogKick bool

	// CaptureTrigger requests a forensic capture; RecoveryStart arms the
	// recovery engine.
	CaptureTrigger bool
	RecoveryStart  bool
}

// Output is the controller's committed state for one tick.
type Output struct {
	Level    Level
	Previous Level
	Actions  Actions

	// WatchdogFired reports the tick the watchdog forced LOCKDOWN.
	WatchdogFired bool
}

// Controller is the response state machine.
type Controller struct {
	cfg Config

	level    Level
	held     Level // rung whose actions persist through HOLD
	holdTick uint32
	watchdog uint32
	prev     Level
}

// New returns a reset controller.
func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	c.Reset()
	return c
}

// Reset returns the controller to its power-on state.
func (c *Controller) Reset() {
	c.level = LevelIdle
	c.held = LevelIdle
	c.holdTick = 0
	c.watchdog = 0
	c.prev = LevelIdle
}

// Tick advances the controller one tick.
func (c *Controller) Tick(in Input) Output {
	threat := in.Threat.Level
	if in.OverrideEnable {
		threat = in.OverrideLevel
	}
	target := c.target(threat, in)

	// Watchdog: counts whenever the controller is engaged and the threat
	// picture is not moving. A silent stuck pipeline must not leave the
	// system half-protected forever.
	fired := false
	if c.level == LevelIdle || in.Threat.Upgraded {
		c.watchdog = 0
	} else if c.level != LevelLockdown && c.level != LevelRecover {
		c.watchdog++
		if c.watchdog >= c.cfg.WatchdogTimeout {
			fired = true
		}
	}

	// CRITICAL (or a fired watchdog) jumps straight to LOCKDOWN from any
	// rung, bypassing the ladder. An already-locked controller instead
	// runs the handshake in step, and RECOVER is not cancellable by
	// threat level: the recovery engine runs to completion or failure.
	if fired || (threat == classifier.LevelCritical &&
		c.level != LevelLockdown && c.level != LevelRecover) {
		c.level = LevelLockdown
	} else {
		c.step(target, in)
	}

	out := Output{
		Level:         c.level,
		Previous:      c.prev,
		WatchdogFired: fired,
	}
	out.Actions = c.actions(in, out)
	c.prev = c.level
	return out
}

// step applies the ordinary ladder transitions.
func (c *Controller) step(target Level, in Input) {
	switch c.level {
	case LevelIdle:
		if target > LevelIdle {
			c.level = target
		}
	case LevelHold:
		if target > LevelIdle {
			c.level = target
		} else {
			c.holdTick++
			if c.holdTick >= c.cfg.HoldTicks {
				c.level = LevelIdle
			}
		}
	case LevelLockdown:
		if in.ForensicCaptured && in.RecoveryReady {
			c.level = LevelRecover
		}
	case LevelRecover:
		switch {
		case in.PermanentLockdown:
			c.level = LevelLockdown
		case in.RecoveryDone:
			c.level = LevelIdle
		}
	default: // LOG..ISOLATE
		switch {
		case target > c.level:
			c.level = target
		case target < c.level:
			c.held = c.level
			c.holdTick = 0
			c.level = LevelHold
		}
	}
}

// target maps the active threat level to its ladder rung. HIGH escalates
// past THROTTLE to ISOLATE when the fused picture shows the attack
// spanning domains.
func (c *Controller) target(threat classifier.Level, in Input) Level {
	switch threat {
	case classifier.LevelLow:
		return LevelLog
	case classifier.LevelMedium:
		return LevelAlert
	case classifier.LevelHigh:
		if in.MultiDomain || in.Correlated {
			return LevelIsolate
		}
		return LevelThrottle
	case classifier.LevelCritical:
		return LevelLockdown
	default:
		return LevelIdle
	}
}

// actions builds the complete action vector for the committed level.
func (c *Controller) actions(in Input, out Output) Actions {
	var a Actions
	a.WatchdogKick = true

	// The rung whose additive actions apply: HOLD keeps the escalated
	// rung's protections in force while waiting out the window.
	rung := c.level
	if c.level == LevelHold {
		rung = c.held
	}
	if c.level == LevelRecover {
		rung = LevelLog
	}

	if rung >= LevelLog {
		a.LogEnable = true
	}
	if rung >= LevelAlert {
		a.AlertIRQ = true
		a.AlertGPIO = true
	}
	if rung >= LevelThrottle {
		a.ClockThrottle = true
		a.ThrottleDiv = c.cfg.ThrottleDiv
		if in.Threat.Attack == classifier.AttackClock {
			a.ThrottleDiv = c.cfg.ClockAttackDiv
		}
		a.DMAHalt = true
	}
	if rung >= LevelIsolate {
		a.BusIsolate = true
		a.DebugDisable = true
		a.IsolateMask = c.cfg.IsolateMask
	}
	if rung == LevelLockdown {
		a.IsolateMask = AllModules
		a.Lockdown = true
		a.PUFLock = true
		a.WatchdogKick = false
		if in.Threat.Attack == classifier.AttackFaultInjection ||
			in.Threat.Attack == classifier.AttackCombined {
			a.Zeroize = true
		}
	}

	// Forensic capture on every escalation out of IDLE. HOLD sits above
	// the ladder in the enum, so the held rung stands in for it here: a
	// jump to a higher grade during the hold window is still an
	// escalation and gets its own snapshot.
	prevRung := c.prev
	if c.prev == LevelHold {
		prevRung = c.held
	}
	if c.level > prevRung && c.level <= LevelLockdown {
		a.CaptureTrigger = true
	}
	// Arm the recovery engine on the tick LOCKDOWN hands over.
	if c.level == LevelRecover && c.prev == LevelLockdown {
		a.RecoveryStart = true
	}
	return a
}
