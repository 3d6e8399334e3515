package monitor

import "hwsentinel/internal/baseline"

// ExecutionConfig parameterizes the execution monitor.
type ExecutionConfig struct {
	Shift         uint
	WarmupWindows uint32

	// IPCWindowTicks is the measurement window for retired-instruction
	// throughput; IPCThreshold bounds the per-window delta from the
	// throughput baseline.
	IPCWindowTicks uint32
	IPCThreshold   uint32

	// PCJumpThreshold is the maximum plausible distance from the last
	// retired PC. BoundsCheck additionally confines the PC to
	// [CodeLow, CodeHigh].
	PCJumpThreshold uint32
	BoundsCheck     bool
	CodeLow         uint32
	CodeHigh        uint32

	// PrivConfirmTicks is the confirmation window for privilege
	// escalation: the privilege level must increase without a concurrent
	// exception for this many consecutive ticks.
	PrivConfirmTicks uint32

	// CountWindowTicks is the reset period for the windowed event
	// counters below.
	CountWindowTicks uint32
	MemLow           uint32
	MemHigh          uint32
	MemOOBThreshold  uint32
	NMIThreshold     uint32
	FlushThreshold   uint32
}

// DefaultExecutionConfig returns the factory thresholds.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Shift:            4,
		WarmupWindows:    16,
		IPCWindowTicks:   64,
		IPCThreshold:     12,
		PCJumpThreshold:  0x0001_0000,
		BoundsCheck:      true,
		CodeLow:          0x0000_1000,
		CodeHigh:         0x000F_FFFF,
		PrivConfirmTicks: 4,
		CountWindowTicks: 256,
		MemLow:           0x2000_0000,
		MemHigh:          0x2FFF_FFFF,
		MemOOBThreshold:  4,
		NMIThreshold:     8,
		FlushThreshold:   32,
	}
}

// ProcObs is one tick of the processor observation bus.
type ProcObs struct {
	PC        uint32
	Retired   bool
	Flush     bool
	Exception bool
	NMI       bool
	PrivLevel uint8
	MemAddr   uint32
	MemValid  bool
	MemWrite  bool
}

// ExecSnapshot is the execution-context snapshot recorded into forensic
// slots.
type ExecSnapshot struct {
	PC        uint32
	PrivLevel uint8
	LastBadPC uint32
}

// ExecutionMonitor watches program-counter, privilege and throughput
// behavior. Throughput (retired instructions per window) runs through the
// shared adaptive baseline; the remaining rules are direct comparisons
// with windowed confirmation counters.
type ExecutionMonitor struct {
	cfg ExecutionConfig

	ipcBase   *baseline.Baseline
	winTick   uint32
	retired   uint32
	ipcSample uint32
	ipcDelta  uint32
	ipcFlag   bool

	prevPC    uint32
	havePC    bool
	lastBadPC uint32

	prevPriv uint8
	privRun  uint32

	ctrTick    uint32
	oobCount   uint32
	nmiCount   uint32
	flushCount uint32

	snap ExecSnapshot
	out  Verdict
}

// NewExecutionMonitor returns a reset execution monitor.
func NewExecutionMonitor(cfg ExecutionConfig) *ExecutionMonitor {
	m := &ExecutionMonitor{cfg: cfg}
	m.Reset()
	return m
}

// Reset returns the monitor to its power-on state.
func (m *ExecutionMonitor) Reset() {
	m.ipcBase = baseline.New(baseline.Config{Shift: m.cfg.Shift, WarmupTicks: m.cfg.WarmupWindows})
	m.winTick = 0
	m.retired = 0
	m.ipcSample = 0
	m.ipcDelta = 0
	m.ipcFlag = false
	m.prevPC = 0
	m.havePC = false
	m.lastBadPC = 0
	m.prevPriv = 0
	m.privRun = 0
	m.ctrTick = 0
	m.oobCount = 0
	m.nmiCount = 0
	m.flushCount = 0
	m.snap = ExecSnapshot{}
	m.out = Verdict{Channel: ChannelExecution}
}

// Tick consumes one tick of processor observations.
func (m *ExecutionMonitor) Tick(o ProcObs) Verdict {
	ready := m.ipcBase.Ready()

	// Throughput window.
	if o.Retired {
		m.retired++
	}
	m.winTick++
	if m.winTick >= m.cfg.IPCWindowTicks {
		m.ipcSample = m.retired
		m.ipcBase.Observe(m.ipcSample)
		m.ipcDelta = m.ipcBase.Delta(m.ipcSample)
		// The flag holds for the whole following window; throughput has
		// no finer granularity than its measurement window.
		m.ipcFlag = m.ipcBase.Ready() && m.ipcDelta > m.cfg.IPCThreshold
		m.winTick = 0
		m.retired = 0
	}

	// PC plausibility, recomputed every tick against the last retired PC.
	pcJump := false
	if ready && m.havePC {
		if baseline.AbsDiff(o.PC, m.prevPC) > m.cfg.PCJumpThreshold {
			pcJump = true
		}
		if m.cfg.BoundsCheck && (o.PC < m.cfg.CodeLow || o.PC > m.cfg.CodeHigh) {
			pcJump = true
		}
		if pcJump {
			m.lastBadPC = o.PC
		}
	}
	if o.Retired {
		m.prevPC = o.PC
		m.havePC = true
	}

	// Privilege escalation confirmation. The counter advances only on a
	// sanctioned-exception-free increase and collapses on the first tick
	// privilege stops climbing: the rule sets slowly and clears fast.
	if o.PrivLevel > m.prevPriv && !o.Exception {
		m.privRun++
	} else {
		m.privRun = 0
	}
	m.prevPriv = o.PrivLevel
	privFlag := m.privRun >= m.cfg.PrivConfirmTicks

	// Windowed event counters.
	if o.MemValid && (o.MemAddr < m.cfg.MemLow || o.MemAddr > m.cfg.MemHigh) {
		m.oobCount++
	}
	if o.NMI {
		m.nmiCount++
	}
	if o.Flush {
		m.flushCount++
	}
	oobFlag := m.oobCount >= m.cfg.MemOOBThreshold
	nmiFlag := m.nmiCount >= m.cfg.NMIThreshold
	flushFlag := m.flushCount >= m.cfg.FlushThreshold

	m.ctrTick++
	if m.ctrTick >= m.cfg.CountWindowTicks {
		m.ctrTick = 0
		m.oobCount = 0
		m.nmiCount = 0
		m.flushCount = 0
	}

	m.snap = ExecSnapshot{PC: o.PC, PrivLevel: o.PrivLevel, LastBadPC: m.lastBadPC}

	out := Verdict{
		Channel:  ChannelExecution,
		Ready:    ready,
		Sample:   m.ipcSample,
		Baseline: m.ipcBase.Value(),
		Delta:    m.ipcDelta,
	}
	if ready {
		if m.ipcFlag {
			out.Flags |= FlagIPCDeviation
		}
		if pcJump {
			out.Flags |= FlagPCJump
		}
		if privFlag {
			out.Flags |= FlagPrivEscalation
		}
		if oobFlag {
			out.Flags |= FlagMemOOB
		}
		if nmiFlag {
			out.Flags |= FlagNMIFlood
		}
		if flushFlag {
			out.Flags |= FlagExcessFlush
		}
		out.Severity = executionSeverity(out.Flags)
	}

	m.out = out
	return out
}

// Snapshot returns the execution context recorded on the most recent tick.
func (m *ExecutionMonitor) Snapshot() ExecSnapshot {
	return m.snap
}

// executionSeverity: confirmed privilege escalation, or an NMI flood
// coinciding with any other execution anomaly, is high; control-flow
// violations (PC jump, out-of-bounds memory) are medium; throughput or
// flush anomalies alone are low.
func executionSeverity(f Flags) Severity {
	other := f.Any(FlagIPCDeviation | FlagPCJump | FlagMemOOB | FlagExcessFlush)
	switch {
	case f.Has(FlagPrivEscalation), f.Has(FlagNMIFlood) && other:
		return SevHigh
	case f.Any(FlagPCJump | FlagMemOOB):
		return SevMedium
	case f.Any(FlagIPCDeviation | FlagExcessFlush):
		return SevLow
	default:
		return SevNone
	}
}
