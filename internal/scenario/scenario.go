// Package scenario plays YAML-defined telemetry traces into the
// pipeline. A trace is a list of phases; each phase holds its stimulus
// for a number of ticks, with unset fields inheriting the trace
// defaults. Traces drive bench replays and the end-to-end tests.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hwsentinel/internal/classifier"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
)

var (
	ErrNoPhases    = errors.New("trace has no phases")
	ErrZeroTicks   = errors.New("phase must run for at least one tick")
	ErrBadOverride = errors.New("unknown override level")
)

// Stimulus is one phase's telemetry. Nil fields fall back to the trace
// defaults, and anything still unset falls back to quiet-bench values.
type Stimulus struct {
	Voltage    *uint32 `yaml:"voltage"`
	Current    *uint32 `yaml:"current"`
	PowerValid *bool   `yaml:"power_valid"`

	Temp         *uint32 `yaml:"temp"`
	ThermalValid *bool   `yaml:"thermal_valid"`

	// ClockHalfPeriod is the tick count per clock half-period; the
	// player derives the clock level square wave from it.
	ClockHalfPeriod *uint64 `yaml:"clock_half_period"`

	PC        *uint32 `yaml:"pc"`
	PCStep    *uint32 `yaml:"pc_step"`
	Retired   *bool   `yaml:"retired"`
	Flush     *bool   `yaml:"flush"`
	Exception *bool   `yaml:"exception"`
	NMI       *bool   `yaml:"nmi"`
	PrivLevel *uint8  `yaml:"priv_level"`

	IntegrityDone *bool   `yaml:"integrity_done"`
	IntegrityPass *bool   `yaml:"integrity_pass"`
	RestoreAck    *uint16 `yaml:"restore_ack"`
	SysStable     *bool   `yaml:"sys_stable"`

	// Override pins the response controller to a threat level by name
	// ("none" through "critical"); empty means no manual override.
	Override *string `yaml:"override"`
}

// Phase holds one stimulus for a fixed number of ticks.
type Phase struct {
	Name     string `yaml:"name"`
	Ticks    uint64 `yaml:"ticks"`
	Stimulus `yaml:",inline"`
}

// Trace is a named stimulus sequence.
type Trace struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Defaults    Stimulus `yaml:"defaults"`
	Phases      []Phase  `yaml:"phases"`
}

// TotalTicks returns the trace length.
func (t *Trace) TotalTicks() uint64 {
	var n uint64
	for _, p := range t.Phases {
		n += p.Ticks
	}
	return n
}

// Parse decodes and validates a YAML trace.
func Parse(data []byte) (*Trace, error) {
	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	if len(t.Phases) == 0 {
		return nil, ErrNoPhases
	}
	for i, p := range t.Phases {
		if p.Ticks == 0 {
			return nil, fmt.Errorf("phase %d (%s): %w", i, p.Name, ErrZeroTicks)
		}
		if p.Override != nil && *p.Override != "" {
			if _, ok := classifier.ParseLevel(*p.Override); !ok {
				return nil, fmt.Errorf("phase %d (%s): %w %q", i, p.Name, ErrBadOverride, *p.Override)
			}
		}
	}
	if t.Defaults.Override != nil && *t.Defaults.Override != "" {
		if _, ok := classifier.ParseLevel(*t.Defaults.Override); !ok {
			return nil, fmt.Errorf("defaults: %w %q", ErrBadOverride, *t.Defaults.Override)
		}
	}
	return &t, nil
}

// Load reads and parses a trace file.
func Load(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Player expands a trace into per-tick pipeline inputs.
type Player struct {
	trace *Trace

	phase     int
	phaseTick uint64
	tick      uint64

	pc        uint32
	pcPhase   int // phase whose PC jump was applied
	pcApplied bool
}

// NewPlayer starts a player at the first phase.
func NewPlayer(t *Trace) *Player {
	return &Player{trace: t, pcPhase: -1}
}

// Done reports whether the trace is exhausted.
func (p *Player) Done() bool {
	return p.phase >= len(p.trace.Phases)
}

// Phase returns the name of the current phase, or "" when done.
func (p *Player) Phase() string {
	if p.Done() {
		return ""
	}
	return p.trace.Phases[p.phase].Name
}

// Next produces the inputs for the next tick. The second return is
// false once the trace is exhausted.
func (p *Player) Next() (pipeline.Inputs, bool) {
	if p.Done() {
		return pipeline.Inputs{}, false
	}

	ph := &p.trace.Phases[p.phase]
	s := p.resolve(&ph.Stimulus)

	// A phase that names a PC jumps there on its first tick; the
	// counter then free-runs by the step.
	if ph.PC != nil && p.pcPhase != p.phase {
		p.pc = *ph.PC
		p.pcPhase = p.phase
	} else if !p.pcApplied {
		p.pc = s.pc
	}
	p.pcApplied = true

	halfPeriod := s.clockHalfPeriod
	in := pipeline.Inputs{
		Power: monitor.PowerSample{
			Voltage: s.voltage,
			Current: s.current,
			Valid:   s.powerValid,
		},
		Thermal: monitor.ThermalSample{
			Temp:  s.temp,
			Valid: s.thermalValid,
		},
		ClockLevel: (p.tick/halfPeriod)%2 == 1,
		Proc: monitor.ProcObs{
			PC:        p.pc,
			Retired:   s.retired,
			Flush:     s.flush,
			Exception: s.exception,
			NMI:       s.nmi,
			PrivLevel: s.privLevel,
		},
		IntegrityDone: s.integrityDone,
		IntegrityPass: s.integrityPass,
		RestoreAck:    s.restoreAck,
		SysStable:     s.sysStable,
	}
	if s.override != "" {
		lvl, ok := classifier.ParseLevel(s.override)
		if ok {
			in.OverrideEnable = true
			in.OverrideLevel = lvl
		}
	}

	if s.retired {
		p.pc += s.pcStep
	}

	p.tick++
	p.phaseTick++
	if p.phaseTick >= ph.Ticks {
		p.phase++
		p.phaseTick = 0
	}

	return in, true
}

// resolved is a stimulus with every field settled to a concrete value.
type resolved struct {
	voltage, current uint32
	powerValid       bool
	temp             uint32
	thermalValid     bool
	clockHalfPeriod  uint64
	pc, pcStep       uint32
	retired          bool
	flush            bool
	exception        bool
	nmi              bool
	privLevel        uint8
	integrityDone    bool
	integrityPass    bool
	restoreAck       uint16
	sysStable        bool
	override         string
}

// Quiet-bench fallbacks for fields neither the phase nor the defaults
// set: nominal rails, nominal die temperature, a free-running PC.
func (p *Player) resolve(phase *Stimulus) resolved {
	d := &p.trace.Defaults
	return resolved{
		voltage:         pickU32(phase.Voltage, d.Voltage, 3300),
		current:         pickU32(phase.Current, d.Current, 450),
		powerValid:      pickBool(phase.PowerValid, d.PowerValid, true),
		temp:            pickU32(phase.Temp, d.Temp, 1000),
		thermalValid:    pickBool(phase.ThermalValid, d.ThermalValid, true),
		clockHalfPeriod: pickU64(phase.ClockHalfPeriod, d.ClockHalfPeriod, 2),
		pc:              pickU32(phase.PC, d.PC, 0x4000),
		pcStep:          pickU32(phase.PCStep, d.PCStep, 4),
		retired:         pickBool(phase.Retired, d.Retired, true),
		flush:           pickBool(phase.Flush, d.Flush, false),
		exception:       pickBool(phase.Exception, d.Exception, false),
		nmi:             pickBool(phase.NMI, d.NMI, false),
		privLevel:       pickU8(phase.PrivLevel, d.PrivLevel, 1),
		integrityDone:   pickBool(phase.IntegrityDone, d.IntegrityDone, false),
		integrityPass:   pickBool(phase.IntegrityPass, d.IntegrityPass, false),
		restoreAck:      pickU16(phase.RestoreAck, d.RestoreAck, 0),
		sysStable:       pickBool(phase.SysStable, d.SysStable, false),
		override:        pickString(phase.Override, d.Override, ""),
	}
}

func pickString(phase, def *string, fallback string) string {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickU32(phase, def *uint32, fallback uint32) uint32 {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickU64(phase, def *uint64, fallback uint64) uint64 {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickU16(phase, def *uint16, fallback uint16) uint16 {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickU8(phase, def *uint8, fallback uint8) uint8 {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}

func pickBool(phase, def *bool, fallback bool) bool {
	if phase != nil {
		return *phase
	}
	if def != nil {
		return *def
	}
	return fallback
}
