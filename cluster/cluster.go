// Package cluster runs a deployment: a single loop dispatches ready tasks to idle nodes,
// polls the busy ones and applies concurrency, fault tolerance and critical node policies.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gammadia/fleet/cluster/internal"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/engine"
	"github.com/gammadia/fleet/graph"
	"github.com/gammadia/fleet/reporter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

var (
	ErrCriticalNodeFailed = errors.New("critical node failed")
	ErrStopped            = errors.New("deployment stopped")
)

// CriticalNodeError aborts a run. It lists the failed critical nodes and their failing tasks.
type CriticalNodeError struct {
	Nodes []string
	Tasks []*graph.Task
}

func (e *CriticalNodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCriticalNodeFailed, e.Nodes)
}

func (e *CriticalNodeError) Unwrap() error { return ErrCriticalNodeFailed }

const (
	StatusSuccessful = "successful"
	StatusFailed     = "failed"
	StatusStopped    = "stopped"
)

// Engines builds the job running a task. *engine.Registry implements it.
type Engines interface {
	New(task *graph.Task) (*engine.Job, error)
}

// FaultToleranceGroup fails once more than Tolerance percent of its nodes failed.
type FaultToleranceGroup struct {
	Name      string
	NodeIDs   []string
	Tolerance int
}

type Result struct {
	Success     bool
	Status      string
	FailedNodes []*Node
	FailedTasks []*graph.Task
}

type Option func(*Cluster)

func WithCriticalNodes(ids ...string) Option {
	return func(c *Cluster) {
		for _, id := range ids {
			c.critical[id] = true
		}
	}
}

func WithFaultToleranceGroups(groups ...FaultToleranceGroup) Option {
	return func(c *Cluster) { c.groups = append(c.groups, groups...) }
}

// WithTaskConcurrency caps how many tasks sharing a name run at once.
func WithTaskConcurrency(maximums map[string]int) Option {
	return func(c *Cluster) { c.taskMaximums = maximums }
}

func WithSubgraphs(subgraphs ...Subgraph) Option {
	return func(c *Cluster) { c.subgraphs = append(c.subgraphs, subgraphs...) }
}

// WithStopCondition is polled every tick. Once it returns true, tasks that did not start are
// skipped while running ones finish.
func WithStopCondition(condition func() bool) Option {
	return func(c *Cluster) { c.stopCondition = condition }
}

func WithReporter(r reporter.Reporter) Option {
	return func(c *Cluster) { c.reporter = r }
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Cluster) { c.registerer = reg }
}

type Cluster struct {
	arena   *graph.Arena
	engines Engines
	config  config.Config
	log     *slog.Logger

	nodes     []*Node
	nodesByID map[string]*Node

	critical      map[string]bool
	groups        []FaultToleranceGroup
	taskMaximums  map[string]int
	subgraphs     []Subgraph
	stopCondition func() bool
	reporter      reporter.Reporter
	registerer    prometheus.Registerer

	concurrency *concurrency
	windows     *windows
	metrics     *metrics
	stopping    bool

	// Nodes to report at the end of the current tick.
	changed map[*Node]change

	listeners      []chan Event
	listenersMutex sync.Mutex
}

func New(arena *graph.Arena, engines Engines, cfg config.Config, options ...Option) *Cluster {
	c := &Cluster{
		arena:     arena,
		engines:   engines,
		config:    cfg,
		log:       cfg.Logger.With("component", "cluster"),
		nodesByID: map[string]*Node{},
		critical:  map[string]bool{},
	}
	for _, option := range options {
		option(c)
	}

	for _, g := range arena.Graphs() {
		node := newNode(g, c.log)
		node.Critical = c.critical[node.ID]
		c.nodes = append(c.nodes, node)
		c.nodesByID[node.ID] = node
	}
	c.concurrency = newConcurrency(cfg.NodeConcurrency, c.taskMaximums)
	c.metrics = newMetrics(c.registerer)
	return c
}

// Nodes returns the nodes in arena order.
func (c *Cluster) Nodes() []*Node {
	return append([]*Node(nil), c.nodes...)
}

func (c *Cluster) Node(id string) (*Node, bool) {
	node, ok := c.nodesByID[id]
	return node, ok
}

// SetOffline marks nodes that cannot be reached. Their tasks are skipped and they count as
// failed. It must be called before Run.
func (c *Cluster) SetOffline(ids ...string) {
	for _, id := range ids {
		node, ok := c.nodesByID[id]
		if !ok {
			continue
		}
		c.log.Warn("Node is offline", "node", id)
		node.markOffline()
		c.broadcast(EventNodeStatusUpdated{Node: node.ID, Status: node.status})
	}
}

// Run drives the deployment until every node is finished, a critical node fails or ctx is
// canceled. Per task failures are part of the Result, not of the returned error.
func (c *Cluster) Run(ctx context.Context) (*Result, error) {
	if err := c.arena.CheckLoops(); err != nil {
		return nil, err
	}
	list, err := resolveSubgraphs(c.arena, c.subgraphs)
	if err != nil {
		return nil, err
	}
	c.windows = &windows{list: list}

	c.log.Info("Deployment is running", "nodes", len(c.nodes), "tasks", c.arena.Len())

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		result, err := c.tick(ctx)
		if result != nil || err != nil {
			if result != nil {
				c.broadcast(EventClusterFinished{Success: result.Success, Status: result.Status})
			}
			return result, err
		}

		select {
		case <-ctx.Done():
			c.log.Warn("Deployment interrupted", "error", ctx.Err())
			c.changed = map[*Node]change{}
			c.interrupt(ctx, false)
			c.flush(context.WithoutCancel(ctx))
			result := c.result()
			result.Success, result.Status = false, StatusStopped
			c.broadcast(EventClusterFinished{Success: false, Status: result.Status})
			return result, fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
		case <-ticker.C:
		}
	}
}

// tick performs one pass of the loop. It returns a result once the run is over.
func (c *Cluster) tick(ctx context.Context) (*Result, error) {
	c.changed = map[*Node]change{}
	defer c.flush(ctx)

	c.arena.PollDependencies()

	if failed := c.failedCriticalNodes(); len(failed) > 0 {
		c.log.Error("Critical node failed, aborting deployment", "nodes", lo.Map(failed, func(node *Node, _ int) string { return node.ID }))
		c.interrupt(ctx, true)
		result := c.result()
		result.Success, result.Status = false, StatusFailed
		abort := &CriticalNodeError{}
		for _, node := range failed {
			abort.Nodes = append(abort.Nodes, node.ID)
			abort.Tasks = append(abort.Tasks, node.graph.FailedTasks()...)
		}
		return result, abort
	}

	if c.finished() {
		result := c.result()
		c.log.Info("Deployment finished", "status", result.Status, "failedNodes", len(result.FailedNodes))
		return result, nil
	}

	if !c.stopping {
		if reason := c.stopReason(); reason != "" {
			c.log.Warn("Stopping deployment gracefully", "reason", reason)
			c.stopping = true
		}
	}

	dispatched := map[*Node]bool{}
	for _, node := range c.nodes {
		if !node.Idle() {
			continue
		}
		if c.stopping {
			if node.skipPending() > 0 {
				node.stopped = true
				c.touch(node, nil, nil)
			}
			continue
		}
		if task := c.nextTask(node); task != nil {
			c.dispatch(ctx, node, task)
			dispatched[node] = true
			if node.Critical && node.Failed() {
				break
			}
		}
	}

	for _, node := range c.nodes {
		if node.Busy() && !dispatched[node] {
			c.poll(ctx, node)
		}
	}

	c.arena.PollDependencies()
	for _, node := range c.nodes {
		before := node.status
		node.settle()
		if node.status != before {
			c.broadcast(EventNodeStatusUpdated{Node: node.ID, Status: node.status})
			c.touch(node, nil, nil)
		}
	}

	c.metrics.update(c)
	return nil, nil
}

// nextTask returns the first ready task of the node when it may start now.
func (c *Cluster) nextTask(node *Node) *graph.Task {
	for _, task := range node.graph.Tasks() {
		if !task.Ready() || !c.windows.admits(task) {
			continue
		}
		if !c.concurrency.admits(task.Name) {
			return nil
		}
		return task
	}
	return nil
}

func (c *Cluster) dispatch(ctx context.Context, node *Node, task *graph.Task) {
	log := node.log.With("task", task.Name)

	if err := task.SetStatus(graph.StatusRunning); err != nil {
		log.Error("Could not start task", "error", err)
		return
	}
	c.concurrency.acquire(task.Name)

	job, err := c.engines.New(task)
	node.start(task, job)
	c.broadcast(EventTaskRunning{Node: node.ID, Task: task.Name})
	c.broadcast(EventNodeStatusUpdated{Node: node.ID, Status: node.status})

	if err != nil {
		log.Error("Could not create task engine", "error", err)
		c.finish(node, engine.StatusFailed, nil)
		return
	}

	log.Info("Running task", "type", task.Type())
	if status := job.Run(ctx); status.Terminal() {
		c.finish(node, status, job.Summary(ctx))
		return
	}
	c.touch(node, task, nil)
}

func (c *Cluster) poll(ctx context.Context, node *Node) {
	job := node.job
	status := job.Status(ctx)
	summary := job.Summary(ctx)
	if !status.Terminal() {
		c.touch(node, node.task, summary)
		return
	}
	c.finish(node, status, summary)
}

func (c *Cluster) finish(node *Node, status engine.Status, summary map[string]any) {
	task := node.task
	if node.job != nil && node.job.Failure() != "" {
		summary = lo.Assign(summary, map[string]any{"error": node.job.Failure()})
	}
	final := node.finish(status)
	c.concurrency.release(task.Name)
	c.metrics.taskFinished(final)

	node.log.Info("Task finished", "task", task.Name, "status", final)
	c.broadcast(EventTaskFinished{Node: node.ID, Task: task.Name, Status: final})
	c.broadcast(EventNodeStatusUpdated{Node: node.ID, Status: node.status})
	c.touch(node, task, summary)
}

type change struct {
	task    *graph.Task
	summary map[string]any
}

// touch queues a report for the node. A report naming a task takes precedence over a plain
// node status change within the same tick.
func (c *Cluster) touch(node *Node, task *graph.Task, summary map[string]any) {
	if task == nil {
		if _, ok := c.changed[node]; ok {
			return
		}
		task = lastTask(node)
	}
	c.changed[node] = change{task: task, summary: summary}
}

// lastTask is the most advanced task of the node, used for reports not tied to a dispatch.
func lastTask(node *Node) *graph.Task {
	var last *graph.Task
	for _, task := range node.graph.Tasks() {
		if task.Status() != graph.StatusPending {
			last = task
		}
	}
	return last
}

// flush sends the reports collected during the tick in node order.
func (c *Cluster) flush(ctx context.Context) {
	if c.reporter == nil || len(c.changed) == 0 {
		return
	}
	msg := reporter.Message{}
	for _, node := range c.nodes {
		if ch, ok := c.changed[node]; ok {
			msg.Nodes = append(msg.Nodes, node.report(ch.task, ch.summary))
		}
	}
	if err := c.reporter.Report(ctx, msg); err != nil {
		c.log.Warn("Could not send report", "error", err)
	}
}

// interrupt ends the work of every busy node. With poll, each running task gets one last
// poll first. Tasks still running afterwards are canceled and marked skipped.
func (c *Cluster) interrupt(ctx context.Context, poll bool) {
	for _, node := range c.nodes {
		if !node.Busy() {
			continue
		}
		if poll {
			c.poll(ctx, node)
			if !node.Busy() {
				continue
			}
		}

		task := node.abandon()
		c.concurrency.release(task.Name)
		c.metrics.taskFinished(task.Status())

		node.log.Warn("Task interrupted", "task", task.Name)
		c.broadcast(EventTaskFinished{Node: node.ID, Task: task.Name, Status: task.Status()})
		c.broadcast(EventNodeStatusUpdated{Node: node.ID, Status: node.status})
		c.touch(node, task, nil)
	}
}

func (c *Cluster) finished() bool {
	return lo.EveryBy(c.nodes, func(node *Node) bool { return node.Finished() })
}

func (c *Cluster) failedCriticalNodes() []*Node {
	return lo.Filter(c.nodes, func(node *Node, _ int) bool { return node.Critical && node.Failed() })
}

func (c *Cluster) stopReason() string {
	if c.stopCondition != nil && c.stopCondition() {
		return "stop requested"
	}
	if group, exceeded := c.exceededGroup(); exceeded {
		tolerated := internal.ToleratedFailures(len(group.NodeIDs), group.Tolerance)
		return fmt.Sprintf("group '%s' tolerates %d failed nodes out of %d", group.Name, tolerated, len(group.NodeIDs))
	}
	return ""
}

func (c *Cluster) exceededGroup() (FaultToleranceGroup, bool) {
	for _, group := range c.groups {
		failed := lo.CountBy(group.NodeIDs, func(id string) bool {
			node, ok := c.nodesByID[id]
			return ok && node.Failed()
		})
		if internal.GroupFailed(failed, len(group.NodeIDs), group.Tolerance) {
			return group, true
		}
	}
	return FaultToleranceGroup{}, false
}

// grouped reports whether the node belongs to a fault tolerance group.
func (c *Cluster) grouped(id string) bool {
	return lo.SomeBy(c.groups, func(group FaultToleranceGroup) bool { return lo.Contains(group.NodeIDs, id) })
}

func (c *Cluster) result() *Result {
	result := &Result{
		FailedNodes: lo.Filter(c.nodes, func(node *Node, _ int) bool { return node.Failed() }),
	}
	for _, node := range c.nodes {
		result.FailedTasks = append(result.FailedTasks, node.graph.FailedTasks()...)
	}
	sort.SliceStable(result.FailedTasks, func(i, j int) bool { return result.FailedTasks[i].ID() < result.FailedTasks[j].ID() })

	_, exceeded := c.exceededGroup()
	ungroupedFailure := lo.SomeBy(result.FailedNodes, func(node *Node) bool { return node.Critical || !c.grouped(node.ID) })

	switch {
	case exceeded || ungroupedFailure:
		result.Status = StatusFailed
	case c.stopping:
		result.Status = StatusStopped
	default:
		result.Status = StatusSuccessful
		result.Success = true
	}
	return result
}
