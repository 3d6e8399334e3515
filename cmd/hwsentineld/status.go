package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"hwsentinel/internal/daemon"
)

var statusRunDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := daemon.NewManager(statusRunDir).Status()
		if !status.Running {
			fmt.Println("hwsentineld: not running")
			return nil
		}

		fmt.Printf("hwsentineld: running (PID %d)\n", status.PID)
		if status.Version != "" {
			fmt.Printf("version:     %s\n", status.Version)
		}
		if !status.StartedAt.IsZero() {
			fmt.Printf("started:     %s\n", status.StartedAt.Format(time.RFC3339))
			fmt.Printf("uptime:      %s\n", status.Uptime.Round(time.Second))
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := daemon.NewManager(statusRunDir)
		if !mgr.IsRunning() {
			fmt.Println("hwsentineld: not running")
			return nil
		}

		if err := mgr.SignalStop(); err != nil {
			return err
		}
		if err := mgr.WaitForStop(10 * time.Second); err != nil {
			return err
		}
		fmt.Println("hwsentineld: stopped")
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunDir, "run-dir", defaultRunDir(), "Directory for PID and state files")
	stopCmd.Flags().StringVar(&statusRunDir, "run-dir", defaultRunDir(), "Directory for PID and state files")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}
