// Package daemon runs the detection pipeline as a long-lived service:
// it drives the tick loop from a telemetry source, drains sealed
// captures into the incident archive, publishes metrics and health
// probes over HTTP, and applies configuration reloads at tick
// boundaries.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/classifier"
	"hwsentinel/internal/config"
	"hwsentinel/internal/health"
	"hwsentinel/internal/logging"
	"hwsentinel/internal/metrics"
	"hwsentinel/internal/pipeline"
	"hwsentinel/internal/response"
)

// ErrPermanentLockdown is returned by Run when the recovery engine
// latches PERM_LOCK; the tick loop keeps the latch visible but no
// further recovery is possible without an operator reset.
var ErrPermanentLockdown = errors.New("permanent lockdown latched")

// Options assembles a daemon. Zero-value fields get working defaults:
// a quiet telemetry source, an archive built from the configuration,
// the process-wide metrics set and logger.
type Options struct {
	Config  *config.Config
	Loader  *config.Loader
	Source  Source
	Archive archive.Archiver
	Metrics *metrics.SentinelMetrics
	Logger  *logging.Logger

	// DisableSequencer turns off the built-in restore sequencer that
	// answers the recovery engine's handshake strobes in software.
	// Deployments with a real external sequencer feed the handshake
	// through the Source instead.
	DisableSequencer bool
}

// Daemon owns the tick loop and its supporting services.
type Daemon struct {
	cfg    *config.Config
	loader *config.Loader
	source Source
	arch   archive.Archiver
	met    *metrics.SentinelMetrics
	log    *logging.Logger

	checker *health.Checker

	mu   sync.Mutex
	pipe *pipeline.Pipeline
	last pipeline.Outputs

	emulateSequencer bool
	pending          atomic.Pointer[config.Config]

	drainEvery uint64
	ownArchive bool
}

// New builds a daemon from the given options.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	pcfg := cfg.Pipeline()
	if cfg.Forensic.SeedPath != "" {
		seed, err := os.ReadFile(cfg.Forensic.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("read seal seed: %w", err)
		}
		pcfg.Forensic.Seed = seed
	}

	pipe, err := pipeline.New(pcfg)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	d := &Daemon{
		cfg:              cfg,
		loader:           opts.Loader,
		source:           opts.Source,
		arch:             opts.Archive,
		met:              opts.Metrics,
		log:              opts.Logger,
		checker:          health.NewChecker(),
		pipe:             pipe,
		emulateSequencer: !opts.DisableSequencer,
		drainEvery:       uint64(cfg.Daemon.DrainIntervalTicks),
	}

	if d.source == nil {
		d.source = NewQuietSource()
	}
	if d.met == nil {
		d.met = metrics.GetMetrics()
	}
	if d.log == nil {
		d.log = logging.Default()
	}
	d.log = d.log.WithComponent("daemon")

	if d.arch == nil {
		d.arch, err = openArchive(cfg)
		if err != nil {
			return nil, err
		}
		d.ownArchive = true
	}

	if d.drainEvery == 0 {
		d.drainEvery = 256
	}

	d.registerChecks()

	if d.loader != nil {
		d.loader.OnChange(func(next *config.Config) {
			d.pending.Store(next)
		})
	}

	return d, nil
}

func openArchive(cfg *config.Config) (archive.Archiver, error) {
	switch cfg.Archive.Type {
	case "memory":
		return archive.NewMemory(), nil
	default:
		store, err := archive.Open(cfg.Archive.Path, cfg.Archive.BusyTimeoutMs)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		return store, nil
	}
}

func (d *Daemon) registerChecks() {
	d.checker.RegisterFunc("pipeline", true, health.PipelineCheck(d.Ticks))
	d.checker.RegisterFunc("archive", true, health.ArchiveCheck(d.arch.Count))
	d.checker.RegisterFunc("forensic", false, health.ForensicCheck(
		func() int { d.mu.Lock(); defer d.mu.Unlock(); return d.pipe.Log().Occupied() },
		func() int { d.mu.Lock(); defer d.mu.Unlock(); return d.pipe.Log().Slots() },
		func() uint64 { d.mu.Lock(); defer d.mu.Unlock(); return d.pipe.Log().Dropped() },
	))
	d.checker.RegisterFunc("lockdown", false, health.LockdownCheck(func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.last.Recovery.PermanentLockdown
	}))
}

// Checker exposes the health checker for probe wiring.
func (d *Daemon) Checker() *health.Checker { return d.checker }

// Archive exposes the incident archive, mainly for report tooling.
func (d *Daemon) Archive() archive.Archiver { return d.arch }

// Ticks returns the number of ticks processed so far.
func (d *Daemon) Ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pipe.Ticks()
}

// Last returns the most recent tick's outputs.
func (d *Daemon) Last() pipeline.Outputs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Step processes exactly one tick: pull telemetry, answer the recovery
// handshake if the software sequencer is on, run the pipeline and
// record the observables. The second return is false once the source
// is exhausted.
func (d *Daemon) Step() (pipeline.Outputs, bool) {
	in, ok := d.source.Next()
	if !ok {
		return pipeline.Outputs{}, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.emulateSequencer {
		d.answerSequencer(&in)
	}

	start := time.Now()
	out := d.pipe.Tick(in)
	d.met.RecordTick(time.Since(start))

	d.observe(out)
	d.last = out

	if d.drainEvery > 0 && d.pipe.Ticks()%d.drainEvery == 0 {
		d.drainLocked()
	}

	return out, true
}

// answerSequencer plays the external restore sequencer in software.
// The integrity result is withheld while the classifier still reports
// an active threat; reporting it early would push the engine into
// VALIDATE against a live threat and burn retries. Module restores
// acknowledge the whole pending mask, and system stability follows the
// threat picture.
func (d *Daemon) answerSequencer(in *pipeline.Inputs) {
	rec := d.last.Recovery
	if rec.IntegrityCheckReq && d.last.Threat.Level == classifier.LevelNone {
		in.IntegrityDone = true
		in.IntegrityPass = true
	}
	if rec.ModulePending != 0 {
		in.RestoreAck |= rec.ModulePending
	}
	if d.last.Threat.Level == classifier.LevelNone {
		in.SysStable = true
	}
}

// observe publishes one tick's outputs to the metrics set. Caller holds
// the mutex.
func (d *Daemon) observe(out pipeline.Outputs) {
	m := d.met

	m.ThreatLevel.Set(int64(out.Threat.Level))
	m.ResponseLevel.Set(int64(out.Response.Level))
	m.RecoveryState.Set(int64(out.Recovery.State))
	m.FusedScore.Set(int64(out.Fused.Score))
	m.ForensicOccupied.Set(int64(d.pipe.Log().Occupied()))

	if out.Threat.Upgraded {
		m.RecordEscalation(int64(out.Threat.Level), out.Threat.Score)
		d.log.Warn("threat escalated",
			"level", out.Threat.Level.String(),
			"attack", out.Threat.Attack.String(),
			"score", out.Threat.Score,
			"tick", out.Tick)
	}
	if out.Threat.Cleared {
		d.log.Info("threat cleared", "tick", out.Tick)
	}

	if out.Response.Level == response.LevelLockdown && out.Response.Previous != response.LevelLockdown {
		m.RecordLockdown()
		d.log.Error("lockdown engaged", "tick", out.Tick)
	}
	if out.Response.WatchdogFired {
		m.RecordWatchdogFire()
		d.log.Error("response watchdog fired", "tick", out.Tick)
	}

	if out.Forensic.CaptureDone {
		m.RecordCapture()
	}
	m.SetCaptureDrops(d.pipe.Log().Dropped())

	if out.Recovery.Done {
		m.RecordRecovery(out.Recovery.Retries)
		d.log.Info("recovery complete", "retries", out.Recovery.Retries, "tick", out.Tick)
	}
	if out.Recovery.PermanentLockdown {
		m.PermanentLockdown.Set(1)
	}
}

// Drain moves sealed captures into the archive.
func (d *Daemon) Drain() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drain()
}

func (d *Daemon) drain() (int, error) {
	n, err := archive.Drain(d.pipe.Log(), d.arch)
	if n > 0 {
		d.met.RecordArchived(n)
		d.log.Info("captures archived", "count", n)
	}
	if err != nil {
		d.met.RecordError()
		d.log.Error("archive drain", "error", err)
	}
	return n, err
}

// drainLocked is drain for the tick path; failures are already in the
// metrics and logs.
func (d *Daemon) drainLocked() {
	_, _ = d.drain()
}

// Run drives the tick loop until the context is cancelled, the source
// is exhausted, or the permanent-lockdown latch sets. The loop paces
// itself with the configured tick interval; a zero interval runs
// flat out.
func (d *Daemon) Run(ctx context.Context) error {
	interval := time.Duration(d.cfg.Daemon.TickIntervalUs) * time.Microsecond

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	d.checker.SetReady(true)
	defer d.checker.SetReady(false)

	d.log.Info("tick loop starting",
		"interval_us", d.cfg.Daemon.TickIntervalUs,
		"drain_interval_ticks", d.drainEvery)

	for {
		if next := d.pending.Swap(nil); next != nil {
			d.applyReload(next)
		}

		out, ok := d.Step()
		if !ok {
			d.log.Info("telemetry source exhausted", "ticks", d.Ticks())
			d.Drain()
			return nil
		}

		if out.Recovery.PermanentLockdown {
			d.Drain()
			return ErrPermanentLockdown
		}

		d.met.UpdateUptime()

		if ticker != nil {
			select {
			case <-ctx.Done():
				d.Drain()
				return ctx.Err()
			case <-ticker.C:
			}
		} else {
			select {
			case <-ctx.Done():
				d.Drain()
				return ctx.Err()
			default:
			}
		}
	}
}

// applyReload folds a validated configuration into the running daemon.
// Only operational knobs apply live; detection thresholds parameterize
// stage state and take effect on the next restart.
func (d *Daemon) applyReload(next *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg.Daemon = next.Daemon
	d.cfg.Logging = next.Logging
	d.drainEvery = uint64(next.Daemon.DrainIntervalTicks)
	if d.drainEvery == 0 {
		d.drainEvery = 256
	}

	d.log.Info("configuration reloaded",
		"drain_interval_ticks", d.drainEvery,
		"note", "detection thresholds apply on restart")
}

// Handler returns the daemon's HTTP surface: metrics, the JSON metrics
// snapshot, and the health probes.
func (d *Daemon) Handler() http.Handler {
	reg := d.met.Registry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.HTTPHandler())
	mux.HandleFunc("/metrics.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		reg.WriteJSON(w)
	})
	mux.Handle("/healthz", d.checker.HealthHandler())
	mux.Handle("/readyz", d.checker.ReadinessHandler())
	mux.Handle("/livez", d.checker.LivenessHandler())
	return mux
}

// Serve runs the HTTP surface on the configured listen address until
// the context is cancelled. A blank address disables it.
func (d *Daemon) Serve(ctx context.Context) error {
	addr := d.cfg.Daemon.MetricsListen
	if addr == "" {
		return nil
	}

	srv := &http.Server{Addr: addr, Handler: d.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	d.log.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close releases resources the daemon owns.
func (d *Daemon) Close() error {
	if d.ownArchive {
		return d.arch.Close()
	}
	return nil
}
