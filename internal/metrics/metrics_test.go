package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestRegistryFullName(t *testing.T) {
	r := NewRegistry("hwsentinel", "forensic")
	c := r.RegisterCounter("captures_total", "help", nil)
	if c.Name() != "hwsentinel_forensic_captures_total" {
		t.Errorf("unexpected full name: %s", c.Name())
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry("hwsentinel", "")
	a := r.RegisterCounter("ticks_total", "help", nil)
	b := r.RegisterCounter("ticks_total", "other help", nil)
	if a != b {
		t.Error("re-registering the same counter returned a new instance")
	}
	a.Add(3)
	if b.Value() != 3 {
		t.Errorf("expected shared value 3, got %d", b.Value())
	}
}

func TestCounterSetMirrorsExternalCount(t *testing.T) {
	c := NewCounter("drops", "help", nil)
	c.Set(7)
	if c.Value() != 7 {
		t.Errorf("expected 7, got %d", c.Value())
	}
	c.Set(7) // unchanged upstream count
	if c.Value() != 7 {
		t.Errorf("expected 7 after re-mirror, got %d", c.Value())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("threat_level", "help", nil)
	g.Set(4)
	g.Dec()
	g.Add(2)
	if g.Value() != 5 {
		t.Errorf("expected 5, got %d", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("threat_score", "help", nil, ScoreBuckets)
	for _, v := range []float64{15, 45, 95, 250, 999} {
		h.Observe(v)
	}
	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}
	want := 15.0 + 45 + 95 + 250 + 999
	if h.Sum() != want {
		t.Errorf("expected sum %f, got %f", want, h.Sum())
	}
	if h.Mean() != want/5 {
		t.Errorf("expected mean %f, got %f", want/5, h.Mean())
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("hwsentinel", "")
	r.RegisterCounter("lockdowns_total", "Total lockdown entries", nil).Add(2)
	r.RegisterGauge("response_level", "Current response level", nil).Set(5)
	r.RegisterHistogram("tick_duration_seconds", "Tick duration", nil, DefaultBuckets).Observe(0.003)

	var buf bytes.Buffer
	if err := r.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"# TYPE hwsentinel_lockdowns_total counter",
		"hwsentinel_lockdowns_total 2",
		"# TYPE hwsentinel_response_level gauge",
		"hwsentinel_response_level 5",
		"# TYPE hwsentinel_tick_duration_seconds histogram",
		`hwsentinel_tick_duration_seconds_bucket{le="+Inf"} 1`,
		"hwsentinel_tick_duration_seconds_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLabelsString(t *testing.T) {
	l := Labels{"channel": "power", "severity": "high"}
	if got := l.String(); got != `{channel="power",severity="high"}` {
		t.Errorf("unexpected labels string: %s", got)
	}
	if got := Labels(nil).String(); got != "" {
		t.Errorf("expected empty string for nil labels, got %s", got)
	}
}

func TestSentinelMetricsSnapshot(t *testing.T) {
	r := NewRegistry("hwsentinel", "")
	m := NewSentinelMetrics(r)

	m.RecordEscalation(4, 215)
	m.RecordLockdown()
	m.RecordCapture()
	m.SetCaptureDrops(1)
	m.RecordRecovery(2)
	m.RecordArchived(3)

	snap := m.Snapshot()
	if snap["threat_escalations_total"] != uint64(1) {
		t.Errorf("escalations: %v", snap["threat_escalations_total"])
	}
	if snap["threat_level"] != int64(4) {
		t.Errorf("threat level: %v", snap["threat_level"])
	}
	if snap["forensic_capture_drops_total"] != uint64(1) {
		t.Errorf("capture drops: %v", snap["forensic_capture_drops_total"])
	}
	if snap["recoveries_total"] != uint64(1) {
		t.Errorf("recoveries: %v", snap["recoveries_total"])
	}
	if snap["incidents_archived_total"] != uint64(3) {
		t.Errorf("archived: %v", snap["incidents_archived_total"])
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry("hwsentinel", "")
	c := r.RegisterCounter("ticks_total", "help", nil)
	g := r.RegisterGauge("fused_score", "help", nil)
	h := r.RegisterHistogram("threat_score", "help", nil, ScoreBuckets)

	c.Add(10)
	g.Set(9)
	h.Observe(42)
	r.Reset()

	if c.Value() != 0 || g.Value() != 0 || h.Count() != 0 {
		t.Error("metrics survived reset")
	}
}
