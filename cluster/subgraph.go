package cluster

import (
	"fmt"

	"github.com/gammadia/fleet/graph"
	"github.com/samber/lo"
)

// Subgraph restricts a run to the tasks between Start and End. An empty Start means every
// root task, an empty End every leaf task.
type Subgraph struct {
	Start []*graph.Task
	End   []*graph.Task
}

// resolveSubgraphs computes the task set of every window. Tasks outside all windows are
// skipped and their edges into windows removed, so excluded work does not fail the slice
// being deployed.
func resolveSubgraphs(arena *graph.Arena, subgraphs []Subgraph) ([]*windowState, error) {
	if len(subgraphs) == 0 {
		return nil, nil
	}

	tasks := arena.Tasks()
	roots := lo.Filter(tasks, func(task *graph.Task, _ int) bool { return len(task.Requires()) == 0 })
	leaves := lo.Filter(tasks, func(task *graph.Task, _ int) bool { return len(task.RequiredFor()) == 0 })

	windows := make([]*windowState, 0, len(subgraphs))
	included := map[graph.ID]bool{}
	for i, subgraph := range subgraphs {
		start := lo.Ternary(len(subgraph.Start) > 0, subgraph.Start, roots)
		end := lo.Ternary(len(subgraph.End) > 0, subgraph.End, leaves)

		forward, err := reach(start, arena.DFSForward)
		if err != nil {
			return nil, fmt.Errorf("subgraph %d: %w", i, err)
		}
		backward, err := reach(end, arena.DFSBackward)
		if err != nil {
			return nil, fmt.Errorf("subgraph %d: %w", i, err)
		}

		w := &windowState{tasks: map[graph.ID]*graph.Task{}, start: map[graph.ID]bool{}}
		for id, task := range forward {
			if _, ok := backward[id]; ok {
				w.tasks[id] = task
				included[id] = true
			}
		}
		for _, task := range start {
			if _, ok := w.tasks[task.ID()]; ok {
				w.start[task.ID()] = true
			}
		}
		windows = append(windows, w)
	}

	for _, task := range tasks {
		if included[task.ID()] {
			continue
		}
		for _, dependent := range task.RequiredFor() {
			if included[dependent.ID()] {
				arena.RemoveDependency(task, dependent)
			}
		}
		if task.Status() == graph.StatusPending {
			if err := task.SetStatus(graph.StatusSkipped); err != nil {
				return nil, err
			}
		}
	}
	return windows, nil
}

func reach(from []*graph.Task, walk func(*graph.Task, func(*graph.Task) bool) error) (map[graph.ID]*graph.Task, error) {
	seen := map[graph.ID]*graph.Task{}
	for _, task := range from {
		if err := walk(task, func(t *graph.Task) bool {
			seen[t.ID()] = t
			return true
		}); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

type windowState struct {
	tasks map[graph.ID]*graph.Task
	start map[graph.ID]bool
}

// finished reports whether nothing in the window can run anymore: no task is running or
// ready, so the remaining ones are finished or wait on work outside the window.
func (w *windowState) finished() bool {
	for _, task := range w.tasks {
		if task.Status() == graph.StatusRunning || task.Ready() {
			return false
		}
	}
	return true
}

// startReached reports whether no start task is still waiting to run while able to.
func (w *windowState) startReached() bool {
	for id := range w.start {
		if w.tasks[id].Ready() {
			return false
		}
	}
	return true
}

// windows activates subgraphs one after the other.
type windows struct {
	list   []*windowState
	active int
}

func (w *windows) advance() {
	for w.active < len(w.list) && w.list[w.active].finished() {
		w.active++
	}
}

func (w *windows) admits(task *graph.Task) bool {
	if w == nil || len(w.list) == 0 {
		return true
	}
	w.advance()
	if w.active >= len(w.list) {
		return true
	}
	current := w.list[w.active]
	if _, ok := current.tasks[task.ID()]; !ok {
		return false
	}
	return current.start[task.ID()] || current.startReached()
}
