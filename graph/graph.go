package graph

import (
	"fmt"

	"github.com/samber/lo"
)

// Graph is the view of a single node's tasks inside an Arena.
type Graph struct {
	node   string
	arena  *Arena
	order  []ID
	byName map[string]ID
}

type Counts struct {
	Total      int
	Pending    int
	Running    int
	Successful int
	Failed     int
	Skipped    int
	DepFailed  int
}

func (c Counts) Finished() int {
	return c.Successful + c.Failed + c.Skipped + c.DepFailed
}

func (g *Graph) Node() string   { return g.node }
func (g *Graph) Arena() *Arena  { return g.arena }
func (g *Graph) Len() int       { return len(g.order) }
func (g *Graph) String() string { return fmt.Sprintf("Graph[%s]", g.node) }

// CreateTask returns the task with the given name, creating it if needed. When the task
// already exists its data is replaced.
func (g *Graph) CreateTask(name string, data map[string]any) *Task {
	if task, ok := g.Task(name); ok {
		if data != nil {
			task.Data = data
		}
		return task
	}
	task := NewTask(g.node, name, data)
	lo.Must0(g.AddTask(task))
	return task
}

func (g *Graph) AddTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidArgument)
	}
	if task.Node != g.node {
		return fmt.Errorf("%w: %s does not belong to node '%s'", ErrInvalidArgument, task, g.node)
	}
	if id, ok := g.byName[task.Name]; ok {
		if g.arena.Task(id) == task {
			return nil
		}
		return fmt.Errorf("%w: %s already exists", ErrInvalidArgument, task)
	}
	if err := g.arena.register(task); err != nil {
		return err
	}
	g.byName[task.Name] = task.id
	g.order = append(g.order, task.id)
	return nil
}

func (g *Graph) Task(name string) (*Task, bool) {
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.arena.Task(id), true
}

// Tasks returns the node's tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.arena.Task(id))
	}
	return out
}

func (g *Graph) AddDependency(from, to *Task) error {
	return g.arena.AddDependency(from, to)
}

// AddDependencyByName wires two tasks of this graph by name.
func (g *Graph) AddDependencyByName(from, to string) error {
	fromTask, ok := g.Task(from)
	if !ok {
		return fmt.Errorf("%w: '%s' on node '%s'", ErrNoSuchTask, from, g.node)
	}
	toTask, ok := g.Task(to)
	if !ok {
		return fmt.Errorf("%w: '%s' on node '%s'", ErrNoSuchTask, to, g.node)
	}
	return g.arena.AddDependency(fromTask, toTask)
}

// ReadyTask returns the first ready task in insertion order, or nil.
func (g *Graph) ReadyTask() *Task {
	for _, task := range g.Tasks() {
		if task.Ready() {
			return task
		}
	}
	return nil
}

func (g *Graph) PollDependencies() {
	for _, task := range g.Tasks() {
		task.PollDependencies()
	}
}

func (g *Graph) Counts() Counts {
	var counts Counts
	for _, task := range g.Tasks() {
		counts.Total++
		switch task.status {
		case StatusPending:
			counts.Pending++
		case StatusRunning:
			counts.Running++
		case StatusSuccessful:
			counts.Successful++
		case StatusFailed:
			counts.Failed++
		case StatusSkipped:
			counts.Skipped++
		case StatusDepFailed:
			counts.DepFailed++
		}
	}
	return counts
}

// Finished reports whether no task of the graph can be dispatched anymore.
func (g *Graph) Finished() bool {
	for _, task := range g.Tasks() {
		if !task.status.Finished() {
			return false
		}
	}
	return true
}

// Successful reports whether every task ended successful or skipped.
func (g *Graph) Successful() bool {
	for _, task := range g.Tasks() {
		if task.status != StatusSuccessful && task.status != StatusSkipped {
			return false
		}
	}
	return true
}

// HasFailed reports whether at least one task ended failed. Skipped and dep_failed tasks
// do not count.
func (g *Graph) HasFailed() bool {
	for _, task := range g.Tasks() {
		if task.status == StatusFailed {
			return true
		}
	}
	return false
}

// FailedTasks returns the tasks that ended failed or dep_failed.
func (g *Graph) FailedTasks() []*Task {
	var out []*Task
	for _, task := range g.Tasks() {
		if task.status == StatusFailed || task.status == StatusDepFailed {
			out = append(out, task)
		}
	}
	return out
}
