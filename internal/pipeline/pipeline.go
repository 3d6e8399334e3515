// Package pipeline wires the channel monitors, fusion engine, threat
// classifier, response controller, forensic log and recovery engine into
// one synchronous machine. Every stage consumes the registered output of
// its upstream stage from the previous tick, so a raw anomaly reaches the
// response controller in a fixed number of ticks regardless of load.
package pipeline

import (
	"hwsentinel/internal/classifier"
	"hwsentinel/internal/forensic"
	"hwsentinel/internal/fusion"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/recovery"
	"hwsentinel/internal/response"
)

// Config aggregates the per-stage configurations.
type Config struct {
	Power      monitor.PowerConfig
	Clock      monitor.ClockConfig
	Thermal    monitor.ThermalConfig
	Execution  monitor.ExecutionConfig
	Fusion     fusion.Config
	Classifier classifier.Config
	Response   response.Config
	Forensic   forensic.Config
	Recovery   recovery.Config
}

// DefaultConfig returns the factory parameters for every stage.
func DefaultConfig() Config {
	return Config{
		Power:      monitor.DefaultPowerConfig(),
		Clock:      monitor.DefaultClockConfig(),
		Thermal:    monitor.DefaultThermalConfig(),
		Execution:  monitor.DefaultExecutionConfig(),
		Fusion:     fusion.DefaultConfig(),
		Classifier: classifier.DefaultConfig(),
		Response:   response.DefaultConfig(),
		Forensic:   forensic.DefaultConfig(),
		Recovery:   recovery.DefaultConfig(),
	}
}

// Inputs is everything the outside world feeds the machine on one tick.
type Inputs struct {
	// Raw telemetry.
	Power      monitor.PowerSample
	Thermal    monitor.ThermalSample
	ClockLevel bool
	RefPulse   bool
	Proc       monitor.ProcObs

	// Manual response override.
	OverrideEnable bool
	OverrideLevel  classifier.Level

	// External recovery sequencer handshake.
	IntegrityDone bool
	IntegrityPass bool
	RestoreAck    uint16
	SysStable     bool

	// Forensic read-side handshake.
	ReadReq  bool
	ReadSlot int
	Ack      bool
	AckSlot  int
}

// Outputs is the machine's combinational view after one tick: what each
// stage computed this tick, before registration.
type Outputs struct {
	Verdicts [monitor.NumChannels]monitor.Verdict
	Fused    fusion.Output
	Threat   classifier.Output
	Response response.Output
	Forensic forensic.Output
	Recovery recovery.Output

	// Tick is the zero-based index of the tick just processed.
	Tick uint64
}

// Pipeline is the top-level synchronous machine.
type Pipeline struct {
	cfg Config

	power *monitor.PowerMonitor
	clock *monitor.ClockMonitor
	therm *monitor.ThermalMonitor
	exec  *monitor.ExecutionMonitor

	fusion *fusion.Engine
	class  *classifier.Classifier
	resp   *response.Controller
	log    *forensic.Log
	recov  *recovery.Engine

	// Stage registers: the previous tick's committed outputs.
	regVerdicts [monitor.NumChannels]monitor.Verdict
	regExec     monitor.ExecSnapshot
	regFused    fusion.Output
	regThreat   classifier.Output
	regResponse response.Output
	regForensic forensic.Output
	regRecovery recovery.Output

	// captured latches the forensic CaptureDone pulse into the level
	// signal the LOCKDOWN exit gate needs; it clears once the response
	// controller hands off to recovery.
	captured bool

	tick uint64
}

// New builds a pipeline with all stages reset.
func New(cfg Config) (*Pipeline, error) {
	log, err := forensic.New(cfg.Forensic)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:    cfg,
		power:  monitor.NewPowerMonitor(cfg.Power),
		clock:  monitor.NewClockMonitor(cfg.Clock),
		therm:  monitor.NewThermalMonitor(cfg.Thermal),
		exec:   monitor.NewExecutionMonitor(cfg.Execution),
		fusion: fusion.NewEngine(cfg.Fusion),
		class:  classifier.New(cfg.Classifier),
		resp:   response.New(cfg.Response),
		log:    log,
		recov:  recovery.New(cfg.Recovery),
	}, nil
}

// Reset returns every stage and every stage register to power-on state.
func (p *Pipeline) Reset() {
	p.power.Reset()
	p.clock.Reset()
	p.therm.Reset()
	p.exec.Reset()
	p.fusion.Reset()
	p.class.Reset()
	p.resp.Reset()
	p.log.Reset()
	p.recov.Reset()

	p.regVerdicts = [monitor.NumChannels]monitor.Verdict{}
	p.regExec = monitor.ExecSnapshot{}
	p.regFused = fusion.Output{}
	p.regThreat = classifier.Output{}
	p.regResponse = response.Output{}
	p.regForensic = forensic.Output{}
	p.regRecovery = recovery.Output{}
	p.captured = false
	p.tick = 0
}

// Tick advances the whole machine one tick. Every stage sees its
// upstream's previous-tick output; the returned Outputs are this tick's
// freshly computed values.
func (p *Pipeline) Tick(in Inputs) Outputs {
	var out Outputs
	out.Tick = p.tick

	// Monitors sample raw telemetry directly.
	out.Verdicts[monitor.ChannelPower] = p.power.Tick(in.Power)
	out.Verdicts[monitor.ChannelClock] = p.clock.Tick(in.ClockLevel, in.RefPulse)
	out.Verdicts[monitor.ChannelThermal] = p.therm.Tick(in.Thermal)
	out.Verdicts[monitor.ChannelExecution] = p.exec.Tick(in.Proc)

	// Fusion and classification run on last tick's verdicts.
	out.Fused = p.fusion.Tick(fusion.Input{Verdicts: p.regVerdicts})

	var flags monitor.Flags
	for _, v := range p.regVerdicts {
		flags |= v.Flags
	}
	out.Threat = p.class.Tick(classifier.Input{
		Flags: flags,
		Fused: p.regFused,
	})

	if p.regForensic.CaptureDone {
		p.captured = true
	}

	out.Response = p.resp.Tick(response.Input{
		Threat:            p.regThreat,
		MultiDomain:       p.regFused.MultiDomain,
		Correlated:        p.regFused.Correlated,
		OverrideEnable:    in.OverrideEnable,
		OverrideLevel:     in.OverrideLevel,
		ForensicCaptured:  p.captured,
		RecoveryReady:     p.regRecovery.Ready,
		RecoveryDone:      p.regRecovery.Done,
		PermanentLockdown: p.regRecovery.PermanentLockdown,
	})

	out.Forensic = p.log.Tick(forensic.Input{
		Trigger:     p.regResponse.Actions.CaptureTrigger,
		ThreatValid: p.regThreat.Valid,
		Snapshot:    p.snapshot(),
		ReadReq:     in.ReadReq,
		ReadSlot:    in.ReadSlot,
		Ack:         in.Ack,
		AckSlot:     in.AckSlot,
	})

	out.Recovery = p.recov.Tick(recovery.Input{
		Start:         p.regResponse.Actions.RecoveryStart,
		IntegrityDone: in.IntegrityDone,
		IntegrityPass: in.IntegrityPass,
		RestoreAck:    in.RestoreAck,
		ThreatClear:   !p.regThreat.Valid,
		SysStable:     in.SysStable,
	})

	// Hand-off consumed: the capture latch re-arms for the next incident.
	if out.Response.Actions.RecoveryStart {
		p.captured = false
	}

	// Commit this tick's outputs into the stage registers.
	p.regVerdicts = out.Verdicts
	p.regExec = p.exec.Snapshot()
	p.regFused = out.Fused
	p.regThreat = out.Threat
	p.regResponse = out.Response
	p.regForensic = out.Forensic
	p.regRecovery = out.Recovery
	p.tick++

	return out
}

// snapshot assembles the forensic capture payload from the registered
// state, so a capture records the tick that tripped the trigger rather
// than whatever arrived afterwards.
func (p *Pipeline) snapshot() forensic.Snapshot {
	var s forensic.Snapshot
	s.Timestamp = p.tick
	s.ThreatLevel = p.regThreat.Level
	s.Attack = p.regThreat.Attack
	s.Score = p.regThreat.Score
	s.Response = p.regResponse.Level
	for i, v := range p.regVerdicts {
		s.Channels[i] = forensic.ChannelSnap{
			Raw:      v.Sample,
			Baseline: v.Baseline,
			Delta:    v.Delta,
		}
	}
	s.PC = p.regExec.PC
	s.PrivLevel = p.regExec.PrivLevel
	s.LastBadPC = p.regExec.LastBadPC
	return s
}

// Log exposes the forensic log for out-of-band draining and metrics.
func (p *Pipeline) Log() *forensic.Log { return p.log }

// Ticks reports how many ticks the pipeline has processed.
func (p *Pipeline) Ticks() uint64 { return p.tick }
