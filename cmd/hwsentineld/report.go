package main

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"hwsentinel/internal/archive"
	"hwsentinel/internal/config"
)

var (
	reportOut  string
	reportFrom uint64
	reportTo   uint64
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export an incident report from the archive",
	Long: `Assemble the archived incidents into a JSON incident report.

Examples:
  hwsentineld report
  hwsentineld report --from 1000 --to 2000 -o incidents.json`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Output path (default: stdout)")
	reportCmd.Flags().Uint64Var(&reportFrom, "from", 0, "First tick to include")
	reportCmd.Flags().Uint64Var(&reportTo, "to", math.MaxUint64, "Last tick to include")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(configPath()).Load()
	if err != nil {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
	}

	if cfg.Archive.Type == "memory" {
		return fmt.Errorf("archive type %q holds no durable incidents", cfg.Archive.Type)
	}

	store, err := archive.Open(cfg.Archive.Path, cfg.Archive.BusyTimeoutMs)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := archive.BuildReport(store, reportFrom, reportTo)
	if err != nil {
		return err
	}

	out := os.Stdout
	if reportOut != "" {
		f, err := os.Create(reportOut)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := archive.WriteReport(out, report); err != nil {
		return err
	}
	if reportOut != "" {
		fmt.Printf("wrote %d incidents to %s\n", report.Summary.Total, reportOut)
	}
	return nil
}
