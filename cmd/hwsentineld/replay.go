package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/config"
	"hwsentinel/internal/daemon"
	"hwsentinel/internal/scenario"
)

var replayReport string

var replayCmd = &cobra.Command{
	Use:   "replay <trace.yaml>",
	Short: "Replay a telemetry trace through the pipeline",
	Long: `Replay a recorded telemetry trace flat out, without tick
pacing, and print what the pipeline made of it. Captures land in an
in-memory archive; --report exports them as an incident report.

Examples:
  hwsentineld replay traces/power-glitch.yaml
  hwsentineld replay traces/power-glitch.yaml --report incidents.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayReport, "report", "", "Write an incident report JSON to this path")
	rootCmd.AddCommand(replayCmd)
}

func loadScenario(path string) (daemon.Source, error) {
	trace, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	return scenario.NewPlayer(trace), nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	trace, err := scenario.Load(args[0])
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if cfgFile != "" {
		loaded, err := config.NewLoader(cfgFile).Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Daemon.TickIntervalUs = 0
	cfg.Archive.Type = "memory"

	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	mem := archive.NewMemory()
	d, err := daemon.New(daemon.Options{
		Config:  cfg,
		Source:  scenario.NewPlayer(trace),
		Archive: mem,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Run(cmd.Context()); err != nil {
		return err
	}

	incidents, err := mem.Count()
	if err != nil {
		return err
	}

	last := d.Last()
	fmt.Printf("trace:      %s (%d ticks)\n", trace.Name, d.Ticks())
	fmt.Printf("threat:     %s\n", last.Threat.Level)
	fmt.Printf("response:   %s\n", last.Response.Level)
	fmt.Printf("recovery:   %s\n", last.Recovery.State)
	fmt.Printf("incidents:  %d\n", incidents)

	if replayReport != "" {
		report, err := archive.BuildReport(mem, 0, d.Ticks())
		if err != nil {
			return err
		}
		f, err := os.Create(replayReport)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		if err := archive.WriteReport(f, report); err != nil {
			return err
		}
		fmt.Printf("report:     %s\n", replayReport)
	}

	return nil
}
