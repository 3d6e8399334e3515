package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "hwsentineld",
	Short: "Hardware threat detection and response daemon",
	Long: `hwsentineld runs the hardware threat detection pipeline: four
adaptive channel monitors feeding a fusion engine, threat classifier,
graduated response controller, sealed forensic capture log and a
retry-bounded recovery engine, all advanced by a fixed tick.

Core Commands:
  run       Run the detection daemon
  replay    Replay a telemetry trace through the pipeline
  report    Export an incident report from the archive
  validate  Validate a configuration file
  status    Show daemon status
  stop      Stop a running daemon
  version   Show version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./hwsentinel.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

func main() {
	Execute()
}
