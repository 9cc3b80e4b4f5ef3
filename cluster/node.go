package cluster

import (
	"log/slog"

	"github.com/gammadia/fleet/cluster/internal"
	"github.com/gammadia/fleet/engine"
	"github.com/gammadia/fleet/graph"
	"github.com/gammadia/fleet/reporter"
)

type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "online"
	NodeStatusBusy    NodeStatus = "busy"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// Node is one deployment target. It holds at most one running task at a time.
type Node struct {
	ID       string
	Critical bool

	graph   *graph.Graph
	status  NodeStatus
	task    *graph.Task
	job     *engine.Job
	stopped bool
	log     *slog.Logger
}

func newNode(g *graph.Graph, log *slog.Logger) *Node {
	return &Node{
		ID:     g.Node(),
		graph:  g,
		status: NodeStatusOnline,
		log:    log.With("node", g.Node()),
	}
}

func (n *Node) Status() NodeStatus  { return n.status }
func (n *Node) Graph() *graph.Graph { return n.graph }

// Task is the task currently running on the node, nil when idle.
func (n *Node) Task() *graph.Task { return n.task }

func (n *Node) Busy() bool { return n.status == NodeStatusBusy }

func (n *Node) Idle() bool { return n.status == NodeStatusOnline }

// Failed reports whether the node itself failed: it went offline or one of its tasks failed.
// Tasks that only inherited a failure do not count.
func (n *Node) Failed() bool {
	return n.status == NodeStatusOffline || n.graph.HasFailed()
}

func (n *Node) Finished() bool {
	return !n.Busy() && n.graph.Finished()
}

// skipPending marks every task that has not started as skipped.
func (n *Node) skipPending() int {
	skipped := 0
	for _, task := range n.graph.Tasks() {
		if task.Status() == graph.StatusPending {
			if err := task.SetStatus(graph.StatusSkipped); err == nil {
				skipped++
			}
		}
	}
	return skipped
}

// markOffline is used before the run for nodes that did not answer the reachability probe.
func (n *Node) markOffline() {
	n.status = NodeStatusOffline
	n.skipPending()
}

func (n *Node) start(task *graph.Task, job *engine.Job) {
	n.task = task
	n.job = job
	n.status = NodeStatusBusy
}

// finish records the outcome of the running task and frees the node.
func (n *Node) finish(status engine.Status) graph.Status {
	task := n.task
	final := graph.StatusSuccessful
	if status != engine.StatusSuccessful {
		final = graph.StatusFailed
		if !failOnError(task) {
			n.log.Warn("Task failed but does not fail the node", "task", task.Name)
			final = graph.StatusSkipped
		}
	}
	if err := task.SetStatus(final); err != nil {
		n.log.Error("Could not record task status", "task", task.Name, "error", err)
	}

	n.task, n.job = nil, nil
	n.status = NodeStatusOnline
	return final
}

// abandon cancels the running task and marks it skipped. It returns that task.
func (n *Node) abandon() *graph.Task {
	task := n.task
	if n.job != nil {
		n.job.Cancel()
	}
	if err := task.SetStatus(graph.StatusSkipped); err != nil {
		n.log.Error("Could not record task status", "task", task.Name, "error", err)
	}

	n.task, n.job = nil, nil
	n.status = NodeStatusOnline
	n.stopped = true
	return task
}

// settle gives a finished node its final status.
func (n *Node) settle() {
	if n.status != NodeStatusOnline || !n.graph.Finished() {
		return
	}
	switch {
	case n.graph.HasFailed() || n.graph.Counts().DepFailed > 0:
		n.status = NodeStatusFailed
	case n.stopped:
		n.status = NodeStatusSkipped
	}
}

func failOnError(task *graph.Task) bool {
	if value, ok := task.Data["fail_on_error"].(bool); ok {
		return value
	}
	return true
}

func (n *Node) reportStatus() reporter.NodeStatus {
	switch {
	case !n.graph.Finished() || n.Busy():
		return reporter.NodeStatusDeploying
	case n.status == NodeStatusOffline || n.graph.HasFailed() || n.graph.Counts().DepFailed > 0:
		return reporter.NodeStatusError
	case n.stopped:
		return reporter.NodeStatusStopped
	default:
		return reporter.NodeStatusReady
	}
}

// report describes the node, and the given task when set. custom is the engine summary
// of that task, if any.
func (n *Node) report(task *graph.Task, custom map[string]any) reporter.NodeReport {
	counts := n.graph.Counts()
	report := reporter.NodeReport{
		UID:      n.ID,
		Status:   n.reportStatus(),
		Progress: internal.Progress(counts.Finished(), counts.Total),
	}
	if task != nil {
		report.TaskName = task.Name
		report.TaskStatus = string(task.Status())
		report.Custom = custom
	}
	if report.Status == reporter.NodeStatusError {
		report.ErrorType = "deploy"
		if n.status == NodeStatusOffline {
			report.ErrorType = "provision"
		}
	}
	return report
}
