package graph

import (
	"fmt"
)

// ID indexes a task in its Arena.
type ID int

const NoID ID = -1

// Key identifies a task across the whole deployment.
type Key struct {
	Node string
	Name string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Name, k.Node)
}

type Task struct {
	id    ID
	arena *Arena

	Name string
	Node string
	Data map[string]any

	status Status

	requires    idSet
	requiredFor idSet
}

// NewTask creates a task that is not yet attached to any graph.
func NewTask(node, name string, data map[string]any) *Task {
	if data == nil {
		data = map[string]any{}
	}
	return &Task{
		id:     NoID,
		Name:   name,
		Node:   node,
		Data:   data,
		status: StatusPending,
	}
}

func (t *Task) ID() ID   { return t.id }
func (t *Task) Key() Key { return Key{Node: t.Node, Name: t.Name} }

func (t *Task) String() string {
	return fmt.Sprintf("Task[%s]", t.Key())
}

func (t *Task) Status() Status { return t.status }

// SetStatus is the only way to change a task's status. Setting the current status again
// is a no-op; backward or otherwise disallowed transitions are rejected.
func (t *Task) SetStatus(to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %s: unknown status '%s'", ErrInvalidTransition, t, to)
	}
	if to == t.status {
		return nil
	}
	if to.rank() < t.status.rank() || !allowedTransition(t.status, to) {
		return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, t, t.status, to)
	}
	t.status = to
	return nil
}

func (t *Task) Requires() []*Task    { return t.resolve(t.requires) }
func (t *Task) RequiredFor() []*Task { return t.resolve(t.requiredFor) }

func (t *Task) resolve(set idSet) []*Task {
	out := make([]*Task, 0, set.len())
	if t.arena == nil {
		return out
	}
	for _, id := range set.ids() {
		out = append(out, t.arena.Task(id))
	}
	return out
}

// Ready reports whether the task is pending and every task it requires is successful.
func (t *Task) Ready() bool {
	if t.status != StatusPending {
		return false
	}
	for _, dependency := range t.Requires() {
		if dependency.status != StatusSuccessful {
			return false
		}
	}
	return true
}

// PollDependencies marks a pending task as dep_failed when one of its dependencies can no
// longer succeed. It reports whether the status changed.
func (t *Task) PollDependencies() bool {
	if t.status != StatusPending {
		return false
	}
	for _, dependency := range t.Requires() {
		if dependency.status.Unsuccessful() {
			t.status = StatusDepFailed
			return true
		}
	}
	return false
}

// Type returns the declared task kind, or an empty string.
func (t *Task) Type() string {
	kind, _ := t.Data["type"].(string)
	return kind
}

type idSet struct {
	order   []ID
	members map[ID]struct{}
}

func (s *idSet) add(id ID) bool {
	if s.members == nil {
		s.members = map[ID]struct{}{}
	}
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *idSet) remove(id ID) bool {
	if _, ok := s.members[id]; !ok {
		return false
	}
	delete(s.members, id)
	for i, member := range s.order {
		if member == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *idSet) contains(id ID) bool {
	_, ok := s.members[id]
	return ok
}

func (s *idSet) len() int { return len(s.order) }

func (s *idSet) ids() []ID { return s.order }
