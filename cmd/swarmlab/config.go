package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/swarmlab/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		defaults := config.Defaults()
		diff := config.Diff(&defaults, cfg)
		changed := diff.NonReloadable
		if diff.CheckpointChanged {
			changed = append(changed, "checkpoint")
		}
		if diff.LogLevelChanged {
			changed = append(changed, "log")
		}
		if len(changed) > 0 {
			fmt.Fprintf(os.Stderr, "# differs from defaults: %v\n", changed)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
