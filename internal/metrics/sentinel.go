// Package metrics provides Prometheus-compatible metrics for hwsentinel.
package metrics

import (
	"time"
)

// SentinelMetrics holds all hwsentinel-specific metrics.
type SentinelMetrics struct {
	registry *Registry

	// Counters
	TicksTotal           *Counter
	EscalationsTotal     *Counter
	CapturesTotal        *Counter
	CaptureDropsTotal    *Counter
	LockdownsTotal       *Counter
	WatchdogFiresTotal   *Counter
	RecoveriesTotal      *Counter
	RecoveryRetriesTotal *Counter
	ArchivedTotal        *Counter
	ErrorsTotal          *Counter

	// Gauges
	ThreatLevel       *Gauge
	ResponseLevel     *Gauge
	RecoveryState     *Gauge
	FusedScore        *Gauge
	ForensicOccupied  *Gauge
	PermanentLockdown *Gauge
	UptimeSeconds     *Gauge

	// Histograms
	TickDuration         *Histogram
	ThreatScore          *Histogram
	ArchiveQueryDuration *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewSentinelMetrics creates and registers all hwsentinel metrics.
func NewSentinelMetrics(registry *Registry) *SentinelMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &SentinelMetrics{
		registry: registry,

		// Counters
		TicksTotal: registry.RegisterCounter(
			"ticks_total",
			"Total number of pipeline ticks processed",
			nil,
		),
		EscalationsTotal: registry.RegisterCounter(
			"threat_escalations_total",
			"Total number of threat level escalations",
			nil,
		),
		CapturesTotal: registry.RegisterCounter(
			"forensic_captures_total",
			"Total number of forensic captures committed",
			nil,
		),
		CaptureDropsTotal: registry.RegisterCounter(
			"forensic_capture_drops_total",
			"Total number of forensic writes dropped on locked slots",
			nil,
		),
		LockdownsTotal: registry.RegisterCounter(
			"lockdowns_total",
			"Total number of lockdown entries",
			nil,
		),
		WatchdogFiresTotal: registry.RegisterCounter(
			"watchdog_fires_total",
			"Total number of response watchdog expirations",
			nil,
		),
		RecoveriesTotal: registry.RegisterCounter(
			"recoveries_total",
			"Total number of completed recovery sequences",
			nil,
		),
		RecoveryRetriesTotal: registry.RegisterCounter(
			"recovery_retries_total",
			"Total number of recovery retry attempts",
			nil,
		),
		ArchivedTotal: registry.RegisterCounter(
			"incidents_archived_total",
			"Total number of forensic records drained to the archive",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		// Gauges
		ThreatLevel: registry.RegisterGauge(
			"threat_level",
			"Current threat level (0=none..4=critical)",
			nil,
		),
		ResponseLevel: registry.RegisterGauge(
			"response_level",
			"Current response level (0=idle..7=hold)",
			nil,
		),
		RecoveryState: registry.RegisterGauge(
			"recovery_state",
			"Current recovery engine state",
			nil,
		),
		FusedScore: registry.RegisterGauge(
			"fused_score",
			"Current fused cross-channel severity score",
			nil,
		),
		ForensicOccupied: registry.RegisterGauge(
			"forensic_slots_occupied",
			"Number of locked forensic slots awaiting drain",
			nil,
		),
		PermanentLockdown: registry.RegisterGauge(
			"permanent_lockdown",
			"1 when the recovery engine is terminally locked",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		// Histograms
		TickDuration: registry.RegisterHistogram(
			"tick_duration_seconds",
			"Wall-clock duration of one pipeline tick",
			nil,
			DefaultBuckets,
		),
		ThreatScore: registry.RegisterHistogram(
			"threat_score",
			"Weighted threat score at classification time",
			nil,
			ScoreBuckets,
		),
		ArchiveQueryDuration: registry.RegisterHistogram(
			"archive_query_duration_seconds",
			"Duration of incident archive queries in seconds",
			nil,
			DurationBuckets,
		),
	}

	return m
}

// Registry returns the registry the metric set is registered in.
func (m *SentinelMetrics) Registry() *Registry {
	return m.registry
}

// RecordTick records one processed pipeline tick.
func (m *SentinelMetrics) RecordTick(d time.Duration) {
	m.TicksTotal.Inc()
	m.TickDuration.ObserveDuration(d)
}

// StartTickTimer returns a timer for one pipeline tick.
func (m *SentinelMetrics) StartTickTimer() *HistogramTimer {
	return m.TickDuration.Timer()
}

// RecordEscalation records a threat level escalation and its score.
func (m *SentinelMetrics) RecordEscalation(level int64, score uint32) {
	m.EscalationsTotal.Inc()
	m.ThreatLevel.Set(level)
	m.ThreatScore.Observe(float64(score))
}

// RecordCapture records a committed forensic capture.
func (m *SentinelMetrics) RecordCapture() {
	m.CapturesTotal.Inc()
}

// SetCaptureDrops mirrors the forensic log's dropped-write count. Dropped
// writes are invisible everywhere else; this counter is the only place
// they surface.
func (m *SentinelMetrics) SetCaptureDrops(n uint64) {
	m.CaptureDropsTotal.Set(n)
}

// RecordLockdown records a lockdown entry.
func (m *SentinelMetrics) RecordLockdown() {
	m.LockdownsTotal.Inc()
}

// RecordWatchdogFire records a response watchdog expiration.
func (m *SentinelMetrics) RecordWatchdogFire() {
	m.WatchdogFiresTotal.Inc()
}

// RecordRecovery records a completed recovery sequence.
func (m *SentinelMetrics) RecordRecovery(retries uint32) {
	m.RecoveriesTotal.Inc()
	m.RecoveryRetriesTotal.Add(uint64(retries))
}

// RecordArchived records forensic records drained to the archive.
func (m *SentinelMetrics) RecordArchived(n int) {
	if n > 0 {
		m.ArchivedTotal.Add(uint64(n))
	}
}

// StartArchiveQueryTimer returns a timer for archive queries.
func (m *SentinelMetrics) StartArchiveQueryTimer() *HistogramTimer {
	return m.ArchiveQueryDuration.Timer()
}

// RecordError records an error.
func (m *SentinelMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// UpdateUptime updates the uptime metric.
func (m *SentinelMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *SentinelMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"ticks_total":                  m.TicksTotal.Value(),
		"threat_escalations_total":     m.EscalationsTotal.Value(),
		"forensic_captures_total":      m.CapturesTotal.Value(),
		"forensic_capture_drops_total": m.CaptureDropsTotal.Value(),
		"lockdowns_total":              m.LockdownsTotal.Value(),
		"watchdog_fires_total":         m.WatchdogFiresTotal.Value(),
		"recoveries_total":             m.RecoveriesTotal.Value(),
		"incidents_archived_total":     m.ArchivedTotal.Value(),
		"errors_total":                 m.ErrorsTotal.Value(),
		"threat_level":                 m.ThreatLevel.Value(),
		"response_level":               m.ResponseLevel.Value(),
		"recovery_state":               m.RecoveryState.Value(),
		"forensic_slots_occupied":      m.ForensicOccupied.Value(),
		"permanent_lockdown":           m.PermanentLockdown.Value(),
		"uptime_seconds":               m.UptimeSeconds.Value(),
		"tick_avg_seconds":             m.TickDuration.Mean(),
	}
}

// Global hwsentinel metrics instance.
var defaultSentinelMetrics *SentinelMetrics

// GetMetrics returns the global hwsentinel metrics instance.
func GetMetrics() *SentinelMetrics {
	if defaultSentinelMetrics == nil {
		defaultSentinelMetrics = NewSentinelMetrics(Default())
	}
	return defaultSentinelMetrics
}

// InitMetrics initializes the global hwsentinel metrics with a custom registry.
func InitMetrics(registry *Registry) *SentinelMetrics {
	defaultSentinelMetrics = NewSentinelMetrics(registry)
	return defaultSentinelMetrics
}
