package graph

type direction int

const (
	forward direction = iota
	backward
)

const (
	white = iota
	gray
	black
)

type walker struct {
	arena     *Arena
	direction direction
	color     []int
	stack     []ID
}

func (a *Arena) newWalker(d direction) *walker {
	return &walker{
		arena:     a,
		direction: d,
		color:     make([]int, len(a.tasks)),
	}
}

func (w *walker) next(id ID) []ID {
	task := w.arena.tasks[id]
	if w.direction == forward {
		return task.requiredFor.ids()
	}
	return task.requires.ids()
}

// walk visits id and everything reachable from it. pre is called before descending and may
// return false to prune; post is called once all successors are done. A back edge aborts the
// walk with a LoopError.
func (w *walker) walk(id ID, pre func(*Task) bool, post func(*Task)) error {
	switch w.color[id] {
	case black:
		return nil
	case gray:
		return w.loop(id)
	}

	w.color[id] = gray
	w.stack = append(w.stack, id)

	task := w.arena.tasks[id]
	if pre == nil || pre(task) {
		for _, successor := range w.next(id) {
			if err := w.walk(successor, pre, post); err != nil {
				return err
			}
		}
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.color[id] = black
	if post != nil {
		post(task)
	}
	return nil
}

func (w *walker) loop(id ID) error {
	start := 0
	for i, member := range w.stack {
		if member == id {
			start = i
			break
		}
	}
	path := make([]*Task, 0, len(w.stack)-start+1)
	for _, member := range w.stack[start:] {
		path = append(path, w.arena.tasks[member])
	}
	path = append(path, w.arena.tasks[id])
	return &LoopError{Path: path}
}

// DFSForward visits start and every task that transitively requires it. visit may return
// false to stop descending below a task.
func (a *Arena) DFSForward(start *Task, visit func(*Task) bool) error {
	return a.dfs(forward, start, visit)
}

// DFSBackward visits start and every task it transitively requires.
func (a *Arena) DFSBackward(start *Task, visit func(*Task) bool) error {
	return a.dfs(backward, start, visit)
}

func (a *Arena) dfs(d direction, start *Task, visit func(*Task) bool) error {
	if start == nil || start.arena != a {
		return ErrNoSuchTask
	}
	return a.newWalker(d).walk(start.id, visit, nil)
}

// CheckLoops returns a LoopError describing the first dependency cycle found, walking tasks
// in insertion order along required_for edges.
func (a *Arena) CheckLoops() error {
	w := a.newWalker(forward)
	for id := range a.tasks {
		if err := w.walk(ID(id), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Arena) HasLoop() bool {
	return a.CheckLoops() != nil
}

// TopologySort orders all tasks so that every task comes after the tasks it requires. Ties
// follow insertion order.
func (a *Arena) TopologySort() ([]*Task, error) {
	if err := a.CheckLoops(); err != nil {
		return nil, err
	}

	out := make([]*Task, 0, len(a.tasks))
	w := a.newWalker(backward)
	for id := range a.tasks {
		if err := w.walk(ID(id), nil, func(task *Task) { out = append(out, task) }); err != nil {
			return nil, err
		}
	}
	return out, nil
}
