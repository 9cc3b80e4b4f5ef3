package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dotCmd = &cobra.Command{
	Use:   "dot GRAPH",
	Short: "Render a deployment as a graphviz document",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg := offlineConfig()
		plan, err := loadPlan(cmd, args[0], engine.NewRegistry(nil, cfg), cfg)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output := viper.GetString(flags.Output); output != "" {
			file, createErr := os.Create(output)
			if createErr != nil {
				return fmt.Errorf("failed to create output file: %w", createErr)
			}
			defer func() {
				if closeErr := file.Close(); err == nil {
					err = closeErr
				}
			}()
			w = file
		}

		name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		return plan.Arena.WriteDOT(w, name)
	},
}

func init() {
	flags.Input(dotCmd.Flags())
	flags.Dot(dotCmd.Flags())
}
