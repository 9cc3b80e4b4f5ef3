package main

import (
	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/engine"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate GRAPH",
	Short: "Check a deployment without running it",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := offlineConfig()
		plan, err := loadPlan(cmd, args[0], engine.NewRegistry(nil, cfg), cfg)
		if err != nil {
			return err
		}
		cmd.Printf("Deployment is valid: %d nodes, %d tasks\n", len(plan.Nodes()), plan.Arena.Len())
		return nil
	},
}

func init() {
	flags.Input(validateCmd.Flags())
}
