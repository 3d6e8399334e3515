package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hwsentinel/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := config.NewLoader(path).Load()
		if err != nil {
			return err
		}

		fmt.Printf("%s: valid (version %d, archive %s)\n", path, cfg.Version, cfg.Archive.Type)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
