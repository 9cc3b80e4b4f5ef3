package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gammadia/fleet/cli/flags"
	"github.com/gammadia/fleet/cli/log"
	"github.com/gammadia/fleet/cli/ui"
	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/deployment"
	"github.com/gammadia/fleet/engine"
	"github.com/gammadia/fleet/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run GRAPH",
	Short: "Deploy a task graph on its nodes",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := flags.Config()
		cfg.Logger = log.Base
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		conn, err := connect(lo.Must(cmd.Flags().GetStringToString(flags.NodeAddress)))
		if err != nil {
			return err
		}
		defer conn.Close()

		client := rpc.NewClient(conn.transport, cfg)
		plan, err := loadPlan(cmd, args[0], engine.NewRegistry(client, cfg), cfg)
		if err != nil {
			return err
		}

		events := make(chan cluster.Event, 1024)
		options := []deployment.Option{
			deployment.WithReporter(conn.reporters),
			deployment.WithEvents(events),
		}
		if stopFile := viper.GetString(flags.StopFile); stopFile != "" {
			options = append(options, deployment.WithStopCondition(fileExists(stopFile)))
		}
		if listen := viper.GetString(flags.MetricsListen); listen != "" {
			registry := prometheus.NewRegistry()
			options = append(options, deployment.WithMetrics(registry))
			shutdown := serveMetrics(listen, registry)
			defer shutdown()
		}

		d := deployment.New(plan, client, cfg, options...)
		log.Info("Deployment created", "deployment", d.ID, "graph", args[0])

		spinner := ui.NewSpinner(fmt.Sprintf("Deploying %s", d.ID))
		done := make(chan struct{})
		go func() {
			defer close(done)
			follow(events, spinner, plan.Arena.Len())
		}()

		result, err := d.Run(cmd.Context())
		<-done

		switch {
		case err != nil:
			spinner.Fail(fmt.Sprintf("Deployment %s aborted", d.ID))
		case result.Success:
			spinner.Success(fmt.Sprintf("Deployment %s successful", d.ID))
		case result.Status == cluster.StatusStopped:
			spinner.Warn(fmt.Sprintf("Deployment %s stopped", d.ID))
		default:
			spinner.Fail(fmt.Sprintf("Deployment %s failed", d.ID))
		}
		if nodes := d.Nodes(); len(nodes) > 0 {
			cmd.Println(ui.Summary(nodes, viper.GetBool(flags.Verbose)))
		}

		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("deployment %s %s", d.ID, result.Status)
		}
		return nil
	},
}

func init() {
	flags.Input(runCmd.Flags())
	flags.Run(runCmd.Flags())
}

// follow keeps the spinner message in line with the cluster events until the run is over.
func follow(events <-chan cluster.Event, spinner *ui.Spinner, total int) {
	finished := 0
	running := []string{}
	for event := range events {
		switch event := event.(type) {
		case cluster.EventTaskRunning:
			running = append(running, event.Task+"/"+event.Node)
		case cluster.EventTaskFinished:
			finished++
			running = lo.Without(running, event.Task+"/"+event.Node)
		case cluster.EventNodeStatusUpdated:
			if event.Status == cluster.NodeStatusOffline {
				log.Warn("Node is offline", "node", event.Node)
			}
		default:
			continue
		}
		spinner.UpdateMessage(ui.Progress(finished, total, running))
	}
}

// fileExists is a stop condition: the deployment stops gracefully once path exists.
func fileExists(path string) func() bool {
	return func() bool {
		_, err := os.Stat(path)
		return err == nil
	}
}

func serveMetrics(listen string, registry *prometheus.Registry) func() {
	server := &http.Server{
		Addr:              listen,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Serving metrics", "listen", listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
