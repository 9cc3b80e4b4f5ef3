// Package deployment turns input documents into a plan and drives it to a single final
// report.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/engine"
	"github.com/gammadia/fleet/graph"
	"github.com/gammadia/fleet/namegen"
	"github.com/gammadia/fleet/reporter"
	"github.com/gammadia/fleet/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

var ErrCriticalNodeOffline = errors.New("critical node is offline")

type Option func(*Deployment)

func WithReporter(r reporter.Reporter) Option {
	return func(d *Deployment) { d.sink = r }
}

func WithStopCondition(condition func() bool) Option {
	return func(d *Deployment) { d.options = append(d.options, cluster.WithStopCondition(condition)) }
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Deployment) { d.options = append(d.options, cluster.WithMetrics(reg)) }
}

// WithEvents receives every cluster event of the run. The channel is closed when Run returns.
func WithEvents(events chan<- cluster.Event) Option {
	return func(d *Deployment) { d.events = events }
}

type Deployment struct {
	ID namegen.ID

	plan     *Plan
	client   *rpc.Client
	registry *engine.Registry
	config   config.Config
	log      *slog.Logger
	sink     reporter.Reporter
	reporter reporter.Reporter
	options  []cluster.Option
	events   chan<- cluster.Event
	cluster  *cluster.Cluster
}

func New(plan *Plan, client *rpc.Client, cfg config.Config, options ...Option) *Deployment {
	id := namegen.New()
	cfg.Logger = cfg.Logger.With("deployment", id)
	if plan.NodeConcurrency > 0 {
		cfg.NodeConcurrency = plan.NodeConcurrency
	}

	d := &Deployment{
		ID:       id,
		plan:     plan,
		client:   client,
		registry: engine.NewRegistry(client, cfg),
		config:   cfg,
		log:      cfg.Logger.With("component", "deployment"),
		sink:     reporter.Log{Logger: cfg.Logger},
	}
	for _, option := range options {
		option(d)
	}
	d.reporter = reporter.NewProxy(hide{next: d.sink, node: plan.VirtualNode}, cfg.Logger)
	return d
}

// Run deploys the plan. Whatever happens, it ends with exactly one terminal report. The
// returned error is set for aborted runs only: offline or failed critical nodes, interrupted
// runs and structural graph errors.
func (d *Deployment) Run(ctx context.Context) (*cluster.Result, error) {
	d.log.Info("Starting deployment", "nodes", len(d.plan.Nodes()), "tasks", d.plan.Arena.Len())

	c := cluster.New(d.plan.Arena, d.registry, d.config, append(d.plan.Options(), append(d.options, cluster.WithReporter(d.reporter))...)...)
	d.cluster = c
	if d.events != nil {
		stop := d.forward(c)
		defer stop()
	}

	offline, err := d.offline(ctx)
	if err != nil {
		d.finish(ctx, nil, err)
		return nil, err
	}
	if len(offline) > 0 {
		c.SetOffline(offline...)
		d.reportOffline(ctx, offline)

		if critical := lo.Intersect(d.plan.CriticalNodes, offline); len(critical) > 0 {
			err := fmt.Errorf("%w: %s", ErrCriticalNodeOffline, strings.Join(critical, ", "))
			d.finish(ctx, nil, err)
			return nil, err
		}
	}

	result, err := c.Run(ctx)
	d.finish(ctx, result, err)
	return result, err
}

// Nodes returns the deployment targets of a started deployment, without the virtual sync node.
func (d *Deployment) Nodes() []*cluster.Node {
	if d.cluster == nil {
		return nil
	}
	return lo.Filter(d.cluster.Nodes(), func(node *cluster.Node, _ int) bool { return node.ID != d.plan.VirtualNode })
}

// forward copies cluster events to the events option until the returned function is called.
func (d *Deployment) forward(c *cluster.Cluster) func() {
	events, unsubscribe := c.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(d.events)
		for event := range events {
			d.events <- event
		}
	}()
	return func() {
		unsubscribe()
		<-done
	}
}

// offline probes every node through the discovery agent and returns the silent ones.
func (d *Deployment) offline(ctx context.Context) ([]string, error) {
	nodes := d.plan.Nodes()
	if len(nodes) == 0 {
		return nil, nil
	}
	reachable, err := d.client.Reachable(ctx, engine.AgentDiscover, nodes)
	if err != nil {
		return nil, fmt.Errorf("discover nodes: %w", err)
	}
	offline := lo.Without(nodes, reachable...)
	if len(offline) > 0 {
		d.log.Warn("Nodes are offline", "nodes", offline)
	}
	return offline, nil
}

func (d *Deployment) reportOffline(ctx context.Context, offline []string) {
	msg := reporter.Message{}
	for _, node := range offline {
		msg.Nodes = append(msg.Nodes, reporter.NodeReport{
			UID:       node,
			Status:    reporter.NodeStatusError,
			Progress:  100,
			ErrorType: "provision",
			ErrorMsg:  "Node is not answering discovery",
		})
	}
	d.report(ctx, msg)
}

// finish sends the terminal report: the overall status and one entry per failed node.
func (d *Deployment) finish(ctx context.Context, result *cluster.Result, runErr error) {
	msg := reporter.Message{Status: reporter.NodeStatusReady, Progress: 100}

	if result != nil {
		for _, node := range result.FailedNodes {
			if node.ID == d.plan.VirtualNode {
				continue
			}
			msg.Nodes = append(msg.Nodes, failedNodeReport(node))
		}
		if !result.Success {
			msg.Status = reporter.NodeStatusError
			msg.Error = fmt.Sprintf("Deployment %s %s", d.ID, result.Status)
		}
		if result.Status == cluster.StatusStopped && runErr == nil {
			msg.Status = reporter.NodeStatusStopped
		}
	}
	if runErr != nil {
		msg.Status = reporter.NodeStatusError
		msg.Error = runErr.Error()
	}

	d.log.Info("Deployment finished", "status", msg.Status, "error", msg.Error)
	d.report(ctx, msg)
}

func failedNodeReport(node *cluster.Node) reporter.NodeReport {
	report := reporter.NodeReport{
		UID:       node.ID,
		Status:    reporter.NodeStatusError,
		Progress:  100,
		ErrorType: lo.Ternary(node.Status() == cluster.NodeStatusOffline, "provision", "deploy"),
	}
	if tasks := node.Graph().FailedTasks(); len(tasks) > 0 {
		failing, _ := lo.Find(tasks, func(task *graph.Task) bool { return task.Status() == graph.StatusFailed })
		if failing == nil {
			failing = tasks[0]
		}
		report.TaskName = failing.Name
		report.TaskStatus = string(failing.Status())
		report.ErrorMsg = fmt.Sprintf("Task %s %s", failing.Name, failing.Status())
	}
	return report
}

// report never uses the run context: the final report must go out even after cancellation.
func (d *Deployment) report(ctx context.Context, msg reporter.Message) {
	if err := d.reporter.Report(context.WithoutCancel(ctx), msg); err != nil {
		d.log.Warn("Could not send report", "error", err)
	}
}

// hide drops the reports of one node.
type hide struct {
	next reporter.Reporter
	node string
}

func (h hide) Report(ctx context.Context, msg reporter.Message) error {
	msg.Nodes = lo.Filter(msg.Nodes, func(report reporter.NodeReport, _ int) bool { return report.UID != h.node })
	if msg.Empty() {
		return nil
	}
	return h.next.Report(ctx, msg)
}
