// Package classifier turns per-channel anomaly flags and the fused
// assessment into a discrete threat level and an attack-type
// classification.
//
// The level machine escalates directly: each tick the weighted score is
// compared against the four ascending level thresholds and the state moves
// to the matching level immediately, so a single bad tick can jump from
// IDLE straight to CRITICAL. De-escalation is damped: a state whose score
// no longer qualifies drops into an internal HYSTERESIS state that keeps
// presenting the previous level for a bounded window before clearing to
// IDLE. Two rules are deliberately asymmetric: a confirmed privilege
// anomaly forces CRITICAL only from IDLE, and nothing forces level
// changes from other states.
package classifier

import (
	"hwsentinel/internal/fusion"
	"hwsentinel/internal/monitor"
)

// Level is the discrete threat level.
type Level uint8

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name back to its Level. The second return is
// false for names String never produces.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return LevelNone, true
	case "low":
		return LevelLow, true
	case "medium":
		return LevelMedium, true
	case "high":
		return LevelHigh, true
	case "critical":
		return LevelCritical, true
	default:
		return LevelNone, false
	}
}

// AttackType is the coarse classification of the attack in progress.
type AttackType uint8

const (
	AttackNone AttackType = iota
	AttackSideChannel
	AttackThermal
	AttackClock
	AttackPowerGlitch
	AttackFaultInjection
	AttackCombined
)

// String returns the attack type name.
func (a AttackType) String() string {
	switch a {
	case AttackNone:
		return "none"
	case AttackSideChannel:
		return "side_channel"
	case AttackThermal:
		return "thermal"
	case AttackClock:
		return "clock_attack"
	case AttackPowerGlitch:
		return "power_glitch"
	case AttackFaultInjection:
		return "fault_injection"
	case AttackCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// Categories marks which individual domains are anomalous when the attack
// type is COMBINED.
type Categories uint8

const (
	CatPower Categories = 1 << iota
	CatClock
	CatThermal
	CatExecution
)

// Weights is the per-flag contribution table for the weighted score.
type Weights struct {
	PrivEscalation uint32
	Correlated     uint32
	PowerGlitch    uint32
	ClockGlitch    uint32
	PCJump         uint32
	MemOOB         uint32
	NMIFlood       uint32
	MultiDomain    uint32
	Voltage        uint32
	Current        uint32
	TempHigh       uint32
	TempLow        uint32
	TempSpike      uint32
	TempSustained  uint32
	FreqDrift      uint32
	IPCDeviation   uint32
	ExcessFlush    uint32
	TempRate       uint32
}

// DefaultWeights returns the factory weight table.
func DefaultWeights() Weights {
	return Weights{
		PrivEscalation: 40,
		Correlated:     35,
		PowerGlitch:    30,
		ClockGlitch:    25,
		PCJump:         20,
		MemOOB:         20,
		NMIFlood:       15,
		MultiDomain:    15,
		Voltage:        10,
		Current:        10,
		TempHigh:       10,
		TempLow:        10,
		TempSpike:      10,
		TempSustained:  10,
		FreqDrift:      8,
		IPCDeviation:   8,
		ExcessFlush:    5,
		TempRate:       5,
	}
}

// Config parameterizes the classifier.
type Config struct {
	Weights Weights

	// Ascending level thresholds for the weighted score.
	LowThreshold      uint32
	MediumThreshold   uint32
	HighThreshold     uint32
	CriticalThreshold uint32

	// HysteresisTicks is how long a de-escalating state holds its
	// previous level before clearing to IDLE.
	HysteresisTicks uint32
}

// DefaultConfig returns the factory classifier parameters.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		LowThreshold:      20,
		MediumThreshold:   60,
		HighThreshold:     120,
		CriticalThreshold: 200,
		HysteresisTicks:   64,
	}
}

// Input is what the classifier observes each tick: the union of all
// channel anomaly flags plus the fused assessment.
type Input struct {
	Flags monitor.Flags
	Fused fusion.Output
}

// Output is the classifier's committed state for one tick.
type Output struct {
	// Level is the exposed threat level. During hysteresis it holds the
	// previous escalated level.
	Level    Level
	Previous Level

	Score      uint32
	Attack     AttackType
	Categories Categories

	// Valid is true whenever the machine is neither idle nor in
	// hysteresis. Upgraded compares this tick's exposed level against
	// the previous tick's. Cleared fires exactly on the tick the
	// machine returns to idle from a non-idle state.
	Valid    bool
	Upgraded bool
	Cleared  bool
}

type state uint8

const (
	stIdle state = iota
	stLow
	stMedium
	stHigh
	stCritical
	stHysteresis
)

// Classifier is the threat-classification state machine.
type Classifier struct {
	cfg Config

	st        state
	held      Level // level presented while in hysteresis
	hystTicks uint32
	prevLevel Level
	prevIdle  bool
}

// New returns a reset classifier.
func New(cfg Config) *Classifier {
	c := &Classifier{cfg: cfg}
	c.Reset()
	return c
}

// Reset returns the classifier to its power-on state.
func (c *Classifier) Reset() {
	c.st = stIdle
	c.held = LevelNone
	c.hystTicks = 0
	c.prevLevel = LevelNone
	c.prevIdle = true
}

// Tick advances the machine one tick and returns the complete output.
func (c *Classifier) Tick(in Input) Output {
	score := c.score(in)
	target := c.target(score)

	switch c.st {
	case stIdle:
		// The privilege-forced escalation applies only here.
		if in.Flags.Has(monitor.FlagPrivEscalation) {
			c.st = stCritical
		} else if target > LevelNone {
			c.st = levelState(target)
		}
	case stHysteresis:
		if target > LevelNone {
			c.st = levelState(target)
		} else {
			c.hystTicks++
			if c.hystTicks >= c.cfg.HysteresisTicks {
				c.st = stIdle
			}
		}
	default:
		cur := stateLevel(c.st)
		if target >= cur {
			c.st = levelState(target)
		} else {
			c.held = cur
			c.hystTicks = 0
			c.st = stHysteresis
		}
	}

	out := Output{
		Previous: c.prevLevel,
		Score:    score,
	}
	switch c.st {
	case stIdle:
		out.Level = LevelNone
	case stHysteresis:
		out.Level = c.held
	default:
		out.Level = stateLevel(c.st)
		out.Valid = true
	}
	out.Upgraded = out.Level > c.prevLevel
	out.Cleared = c.st == stIdle && !c.prevIdle
	out.Attack, out.Categories = classifyAttack(in)

	c.prevLevel = out.Level
	c.prevIdle = c.st == stIdle
	return out
}

// score adds the fixed per-flag weights to the fused score.
func (c *Classifier) score(in Input) uint32 {
	w := &c.cfg.Weights
	s := uint32(in.Fused.Score)

	add := func(flag monitor.Flags, weight uint32) {
		if in.Flags.Has(flag) {
			s += weight
		}
	}
	add(monitor.FlagPrivEscalation, w.PrivEscalation)
	add(monitor.FlagPowerGlitch, w.PowerGlitch)
	add(monitor.FlagClockGlitch, w.ClockGlitch)
	add(monitor.FlagPCJump, w.PCJump)
	add(monitor.FlagMemOOB, w.MemOOB)
	add(monitor.FlagNMIFlood, w.NMIFlood)
	add(monitor.FlagVoltageAnomaly, w.Voltage)
	add(monitor.FlagCurrentAnomaly, w.Current)
	add(monitor.FlagTempHigh, w.TempHigh)
	add(monitor.FlagTempLow, w.TempLow)
	add(monitor.FlagTempSpike, w.TempSpike)
	add(monitor.FlagTempSustained, w.TempSustained)
	add(monitor.FlagFreqDrift, w.FreqDrift)
	add(monitor.FlagIPCDeviation, w.IPCDeviation)
	add(monitor.FlagExcessFlush, w.ExcessFlush)
	add(monitor.FlagTempRate, w.TempRate)
	if in.Fused.Correlated {
		s += w.Correlated
	}
	if in.Fused.MultiDomain {
		s += w.MultiDomain
	}
	return s
}

// target maps a weighted score to the highest qualifying level.
func (c *Classifier) target(score uint32) Level {
	switch {
	case score >= c.cfg.CriticalThreshold:
		return LevelCritical
	case score >= c.cfg.HighThreshold:
		return LevelHigh
	case score >= c.cfg.MediumThreshold:
		return LevelMedium
	case score >= c.cfg.LowThreshold:
		return LevelLow
	default:
		return LevelNone
	}
}

const (
	powerFlags = monitor.FlagVoltageAnomaly | monitor.FlagCurrentAnomaly | monitor.FlagPowerGlitch
	clockFlags = monitor.FlagClockGlitch | monitor.FlagFreqDrift
	thermFlags = monitor.FlagTempHigh | monitor.FlagTempLow | monitor.FlagTempRate |
		monitor.FlagTempSpike | monitor.FlagTempSustained
	execFlags = monitor.FlagIPCDeviation | monitor.FlagPCJump | monitor.FlagPrivEscalation |
		monitor.FlagMemOOB | monitor.FlagNMIFlood | monitor.FlagExcessFlush
)

// classifyAttack is the strictly ordered attack-type decision tree,
// evaluated every tick independently of the level machine.
func classifyAttack(in Input) (AttackType, Categories) {
	f := in.Flags

	if in.Fused.Correlated || in.Fused.MultiDomain {
		var cats Categories
		if f.Any(powerFlags) {
			cats |= CatPower
		}
		if f.Any(clockFlags) {
			cats |= CatClock
		}
		if f.Any(thermFlags) {
			cats |= CatThermal
		}
		if f.Any(execFlags) {
			cats |= CatExecution
		}
		return AttackCombined, cats
	}
	switch {
	case f.Any(monitor.FlagPrivEscalation | monitor.FlagPCJump):
		return AttackFaultInjection, 0
	case f.Has(monitor.FlagPowerGlitch),
		f.Has(monitor.FlagVoltageAnomaly | monitor.FlagCurrentAnomaly):
		return AttackPowerGlitch, 0
	case f.Any(clockFlags):
		return AttackClock, 0
	case f.Any(thermFlags):
		return AttackThermal, 0
	case f.Has(monitor.FlagIPCDeviation):
		return AttackSideChannel, 0
	default:
		return AttackNone, 0
	}
}

func levelState(l Level) state {
	return state(l) // LevelLow..LevelCritical map to stLow..stCritical
}

func stateLevel(s state) Level {
	return Level(s)
}
