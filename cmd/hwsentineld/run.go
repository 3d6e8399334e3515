package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hwsentinel/internal/config"
	"hwsentinel/internal/daemon"
	"hwsentinel/internal/logging"
)

var (
	runDir      string
	runScenario string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the detection daemon",
	Long: `Run the detection pipeline as a daemon: tick loop, incident
archive, metrics and health endpoints, and configuration hot-reload.

Without a telemetry trace the daemon runs against the quiet bench
source; attach a trace with --scenario to drive recorded stimulus.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runDir, "run-dir", defaultRunDir(), "Directory for PID and state files")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Telemetry trace to play instead of the quiet bench")
	rootCmd.AddCommand(runCmd)
}

func defaultRunDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/hwsentinel"
	}
	return "/tmp/hwsentinel"
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "hwsentinel.toml"
}

func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logging.LevelDebug
	}

	format := logging.FormatText
	if cfg.Logging.Format == "json" {
		format = logging.FormatJSON
	}

	logger, err := logging.New(&logging.Config{
		Level:    level,
		Format:   format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.FilePath,
	})
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, created, err := config.LoadOrCreate(configPath())
	if err != nil {
		return err
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	if created {
		logger.Info("wrote default configuration", "path", configPath())
	}

	mgr := daemon.NewManager(runDir)
	if mgr.IsRunning() {
		pid, _ := mgr.ReadPID()
		return fmt.Errorf("daemon already running with PID %d", pid)
	}
	if err := mgr.WritePID(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer mgr.Cleanup()

	if err := mgr.WriteState(&daemon.State{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Version:   version,
	}); err != nil {
		logger.Warn("write state file", "error", err)
	}

	loader := config.NewLoader(configPath())
	if _, err := loader.Load(); err != nil {
		return err
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("config watch unavailable", "error", err)
	}
	defer loader.Close()

	var source daemon.Source
	if runScenario != "" {
		player, err := loadScenario(runScenario)
		if err != nil {
			return err
		}
		source = player
	}

	d, err := daemon.New(daemon.Options{
		Config: cfg,
		Loader: loader,
		Source: source,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	go func() {
		if err := d.Serve(ctx); err != nil {
			logger.Error("http surface", "error", err)
		}
	}()

	logger.Info("hwsentineld starting", "version", version, "config", configPath())

	err = d.Run(ctx)
	switch {
	case err == nil || err == context.Canceled:
		logger.Info("hwsentineld stopped", "ticks", d.Ticks())
		return nil
	default:
		return err
	}
}
