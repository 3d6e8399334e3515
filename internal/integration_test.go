// Package internal provides integration tests for the hwsentinel
// detection core.
//
// These tests verify the complete evidence path:
// 1. Run telemetry through the staged pipeline
// 2. Capture incident snapshots into the sealed forensic log
// 3. Verify the HMAC seal chain record by record
// 4. Drain the log into an archive and rebuild the report
package internal

import (
	"bytes"
	"math"
	"testing"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/monitor"
	"hwsentinel/internal/pipeline"
)

func evidenceConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Power.Shift = 4
	cfg.Power.WarmupTicks = 64
	cfg.Power.SustainTicks = 4
	cfg.Clock.Shift = 2
	cfg.Clock.WarmupEdges = 8
	cfg.Thermal.Shift = 2
	cfg.Thermal.WarmupTicks = 16
	cfg.Execution.Shift = 2
	cfg.Execution.WarmupWindows = 4
	cfg.Execution.IPCWindowTicks = 8
	cfg.Execution.CountWindowTicks = 64
	cfg.Fusion.WindowTicks = 8
	cfg.Fusion.MinMultiHits = 2
	cfg.Classifier.LowThreshold = 20
	cfg.Classifier.MediumThreshold = 40
	cfg.Classifier.HighThreshold = 60
	cfg.Classifier.CriticalThreshold = 90
	cfg.Classifier.HysteresisTicks = 8
	cfg.Response.HoldTicks = 8
	cfg.Forensic.Seed = []byte("hwsentinel evidence test seed 01")
	cfg.Recovery.StepHoldTicks = 2
	cfg.Recovery.IntegTimeoutTicks = 256
	cfg.Recovery.ValidateTicks = 2
	cfg.Recovery.Modules = 0x0003
	return cfg
}

func calmInput(tick uint64, pc uint32) pipeline.Inputs {
	return pipeline.Inputs{
		Power:      monitor.PowerSample{Voltage: 3300, Current: 450, Valid: true},
		Thermal:    monitor.ThermalSample{Temp: 1000, Valid: true},
		ClockLevel: (tick/4)%2 == 1,
		Proc:       monitor.ProcObs{PC: pc, Retired: true},
	}
}

// TestEvidencePathEndToEnd runs an attack through the pipeline, then
// walks the captured records and proves each link of the seal chain
// before and after archival.
func TestEvidencePathEndToEnd(t *testing.T) {
	p, err := pipeline.New(evidenceConfig())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	// Step 1: warm the baselines on clean telemetry.
	var pc uint32 = 0x4000
	for tick := uint64(0); tick < 160; tick++ {
		p.Tick(calmInput(tick, pc))
		pc += 4
	}

	// Step 2: sustained glitch with a control-flow excursion.
	captures := 0
	for tick := uint64(160); tick < 200; tick++ {
		in := calmInput(tick, pc)
		if tick < 180 {
			in.Power.Voltage = 3800
			in.Power.Current = 1200
			in.Proc.PC = 0x0050_0000
		}
		out := p.Tick(in)
		if out.Forensic.CaptureDone {
			captures++
		}
		pc += 4
	}
	if captures == 0 {
		t.Fatal("attack produced no forensic captures")
	}

	// Step 3: every occupied slot must verify against the seal chain.
	log := p.Log()
	if log.Occupied() == 0 {
		t.Fatal("forensic log is empty after captures")
	}
	var prev []byte
	for i := 0; i < log.Slots(); i++ {
		rec, ok := log.Read(i)
		if !ok {
			continue
		}
		if !log.VerifyRecord(rec) {
			t.Fatalf("slot %d failed seal verification", i)
		}
		if prev != nil && !bytes.Equal(prev, rec.PrevSeal[:]) {
			t.Fatalf("slot %d breaks the seal chain", i)
		}
		prev = append(prev[:0], rec.Seal[:]...)
	}

	// Step 4: drain to the archive and rebuild the report.
	dst := archive.NewMemory()
	n, err := archive.Drain(log, dst)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if n == 0 {
		t.Fatal("drain archived nothing")
	}
	if log.Occupied() != 0 {
		t.Fatalf("drain left %d slots locked", log.Occupied())
	}

	report, err := archive.BuildReport(dst, 0, math.MaxUint64)
	if err != nil {
		t.Fatalf("report build failed: %v", err)
	}
	if report.Summary.Total != n {
		t.Fatalf("report summarizes %d incidents, drained %d", report.Summary.Total, n)
	}
	for i := 1; i < len(report.Incidents); i++ {
		if !bytes.Equal(report.Incidents[i-1].Seal, report.Incidents[i].PrevSeal) {
			t.Fatalf("archived incident %d breaks the seal chain", i)
		}
	}
}

// TestTamperedRecordFailsVerification flips one byte of a captured
// snapshot and checks the seal no longer verifies, and that the drain
// leaves the tampered slot locked as evidence.
func TestTamperedRecordFailsVerification(t *testing.T) {
	p, err := pipeline.New(evidenceConfig())
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	var pc uint32 = 0x4000
	for tick := uint64(0); tick < 160; tick++ {
		p.Tick(calmInput(tick, pc))
		pc += 4
	}
	for tick := uint64(160); tick < 200; tick++ {
		in := calmInput(tick, pc)
		if tick < 180 {
			in.Power.Voltage = 3800
			in.Proc.PC = 0x0050_0000
		}
		p.Tick(in)
		pc += 4
	}

	log := p.Log()
	rec, ok := log.Read(0)
	if !ok {
		t.Fatal("no record in slot 0")
	}
	if !log.VerifyRecord(rec) {
		t.Fatal("pristine record should verify")
	}

	rec.Snapshot.Score ^= 1
	if log.VerifyRecord(rec) {
		t.Fatal("tampered record should not verify")
	}
}
