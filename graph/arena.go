package graph

import (
	"fmt"
)

// Arena owns every task of a deployment. Graphs, nodes and the cluster only refer to tasks
// through their ID.
type Arena struct {
	tasks  []*Task
	index  map[Key]ID
	graphs map[string]*Graph
	nodes  []string
}

func NewArena() *Arena {
	return &Arena{
		index:  map[Key]ID{},
		graphs: map[string]*Graph{},
	}
}

// Graph returns the graph of the given node, creating it on first use.
func (a *Arena) Graph(node string) *Graph {
	if graph, ok := a.graphs[node]; ok {
		return graph
	}
	graph := &Graph{
		node:   node,
		arena:  a,
		byName: map[string]ID{},
	}
	a.graphs[node] = graph
	a.nodes = append(a.nodes, node)
	return graph
}

// Graphs returns the node graphs in creation order.
func (a *Arena) Graphs() []*Graph {
	out := make([]*Graph, 0, len(a.nodes))
	for _, node := range a.nodes {
		out = append(out, a.graphs[node])
	}
	return out
}

func (a *Arena) Task(id ID) *Task {
	if id < 0 || int(id) >= len(a.tasks) {
		return nil
	}
	return a.tasks[id]
}

func (a *Arena) Lookup(node, name string) (*Task, bool) {
	id, ok := a.index[Key{Node: node, Name: name}]
	if !ok {
		return nil, false
	}
	return a.tasks[id], true
}

// Tasks returns every task in insertion order.
func (a *Arena) Tasks() []*Task {
	out := make([]*Task, len(a.tasks))
	copy(out, a.tasks)
	return out
}

func (a *Arena) Len() int { return len(a.tasks) }

func (a *Arena) register(task *Task) error {
	if task.arena != nil {
		if task.arena == a {
			return nil
		}
		return fmt.Errorf("%w: %s belongs to another arena", ErrInvalidArgument, task)
	}
	if _, exists := a.index[task.Key()]; exists {
		return fmt.Errorf("%w: %s already exists", ErrInvalidArgument, task)
	}
	task.id = ID(len(a.tasks))
	task.arena = a
	a.tasks = append(a.tasks, task)
	a.index[task.Key()] = task.id
	return nil
}

// AddDependency makes to require from. Both tasks may live on different nodes.
// Adding an existing edge is a no-op.
func (a *Arena) AddDependency(from, to *Task) error {
	if from == nil || to == nil {
		return fmt.Errorf("%w: dependency on a nil task", ErrInvalidArgument)
	}
	if from.arena != a || to.arena != a {
		return fmt.Errorf("%w: %s -> %s: tasks are not part of this deployment", ErrInvalidArgument, from, to)
	}
	if from.id == to.id {
		return fmt.Errorf("%w: %s cannot depend on itself", ErrInvalidArgument, from)
	}
	to.requires.add(from.id)
	from.requiredFor.add(to.id)
	return nil
}

// RemoveDependency detaches an edge. It reports whether the edge existed.
func (a *Arena) RemoveDependency(from, to *Task) bool {
	if from == nil || to == nil || from.arena != a || to.arena != a {
		return false
	}
	removed := to.requires.remove(from.id)
	from.requiredFor.remove(to.id)
	return removed
}

// PollDependencies propagates dep_failed through the whole deployment until it settles.
func (a *Arena) PollDependencies() {
	for changed := true; changed; {
		changed = false
		for _, task := range a.tasks {
			if task.PollDependencies() {
				changed = true
			}
		}
	}
}
