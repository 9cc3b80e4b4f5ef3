package main

import (
	"fmt"

	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/cli/log"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/deployment"
	"github.com/gammadia/fleet/engine"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// loadPlan reads the graph given on the command line with its companion documents and
// validates it against the task kinds of the registry.
func loadPlan(cmd *cobra.Command, graphFile string, registry *engine.Registry, cfg config.Config) (*deployment.Plan, error) {
	input, err := deployment.Read(
		graphFile,
		viper.GetString(flags.Directory),
		viper.GetString(flags.Metadata),
		deployment.ReadOptions{Params: lo.Must(cmd.Flags().GetStringToString(flags.Param))},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment: %w", err)
	}

	plan, err := deployment.Build(input, registry, cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("Deployment plan built", "nodes", len(plan.Nodes()), "tasks", plan.Arena.Len())
	return plan, nil
}

// offlineConfig is the configuration of commands that never reach the nodes.
func offlineConfig() config.Config {
	cfg := config.Default()
	cfg.Logger = log.Base
	return cfg
}
