package daemon

import (
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
)

// Source feeds the pipeline one tick of telemetry at a time. The second
// return is false when the source is exhausted; scenario players end,
// hardware taps do not.
type Source interface {
	Next() (pipeline.Inputs, bool)
}

// QuietSource produces nominal bench telemetry forever: steady rails,
// steady die temperature, a clean clock and a free-running program
// counter. It stands in when no hardware tap or trace is attached.
type QuietSource struct {
	tick uint64
	pc   uint32
}

// NewQuietSource returns a quiet source starting at the reset vector.
func NewQuietSource() *QuietSource {
	return &QuietSource{pc: 0x4000}
}

// Next produces the next quiet tick.
func (s *QuietSource) Next() (pipeline.Inputs, bool) {
	in := pipeline.Inputs{
		Power:      monitor.PowerSample{Voltage: 3300, Current: 450, Valid: true},
		Thermal:    monitor.ThermalSample{Temp: 1000, Valid: true},
		ClockLevel: (s.tick/2)%2 == 1,
		Proc: monitor.ProcObs{
			PC:        s.pc,
			Retired:   true,
			PrivLevel: 1,
		},
	}
	s.pc += 4
	s.tick++
	return in, true
}

// FuncSource adapts a function to the Source interface.
type FuncSource func() (pipeline.Inputs, bool)

// Next invokes the wrapped function.
func (f FuncSource) Next() (pipeline.Inputs, bool) { return f() }
