package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/cli/log"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var fleetCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Fleet deploys task graphs across a fleet of nodes.",

	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags.Bind(cmd.Flags())
		return log.Init()
	},
}

func init() {
	flags.Global(fleetCmd.PersistentFlags())

	fleetCmd.AddCommand(runCmd)
	fleetCmd.AddCommand(validateCmd)
	fleetCmd.AddCommand(dotCmd)
	fleetCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fleetCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.HiRedString("Error: %s", err))
		os.Exit(1)
	}
}
