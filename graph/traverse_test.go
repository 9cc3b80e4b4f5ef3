package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopDetection(t *testing.T) {
	graph := newTestGraph("task1", "task2", "task3", "task4")
	require.NoError(t, graph.AddDependencyByName("task1", "task2"))
	require.NoError(t, graph.AddDependencyByName("task2", "task3"))
	require.NoError(t, graph.AddDependencyByName("task3", "task4"))
	require.NoError(t, graph.AddDependencyByName("task4", "task1"))

	assert.True(t, graph.Arena().HasLoop())

	_, err := graph.Arena().TopologySort()
	require.ErrorIs(t, err, ErrLoopDetected)

	var loop *LoopError
	require.ErrorAs(t, err, &loop)
	assert.Equal(t, []string{"task1", "task2", "task3", "task4", "task1"}, taskNames(loop.Path))
	assert.Equal(t, "loop detected: Task[task1/1] -> Task[task2/1] -> Task[task3/1] -> Task[task4/1] -> Task[task1/1]", err.Error())
}

func TestLoopAcrossNodes(t *testing.T) {
	arena := NewArena()
	a := arena.Graph("1").CreateTask("a", nil)
	b := arena.Graph("2").CreateTask("b", nil)
	require.NoError(t, arena.AddDependency(a, b))
	require.NoError(t, arena.AddDependency(b, a))

	var loop *LoopError
	require.ErrorAs(t, arena.CheckLoops(), &loop)
	assert.Equal(t, []*Task{a, b, a}, loop.Path)
}

func TestTopologySort(t *testing.T) {
	arena := NewArena()
	g1 := arena.Graph("1")
	g2 := arena.Graph("2")
	d := g1.CreateTask("d", nil)
	c := g2.CreateTask("c", nil)
	b := g1.CreateTask("b", nil)
	a := g2.CreateTask("a", nil)
	require.NoError(t, arena.AddDependency(a, b))
	require.NoError(t, arena.AddDependency(b, c))
	require.NoError(t, arena.AddDependency(b, d))

	sorted, err := arena.TopologySort()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d", "c"}, taskNames(sorted))
	assert.False(t, arena.HasLoop())
}

func TestDFSForwardAndBackward(t *testing.T) {
	graph := newTestGraph("a", "b", "c", "d")
	require.NoError(t, graph.AddDependencyByName("a", "b"))
	require.NoError(t, graph.AddDependencyByName("b", "c"))
	require.NoError(t, graph.AddDependencyByName("d", "c"))
	a, _ := graph.Task("a")
	c, _ := graph.Task("c")

	var forward []*Task
	require.NoError(t, graph.Arena().DFSForward(a, func(task *Task) bool {
		forward = append(forward, task)
		return true
	}))
	assert.Equal(t, []string{"a", "b", "c"}, taskNames(forward))

	var backward []*Task
	require.NoError(t, graph.Arena().DFSBackward(c, func(task *Task) bool {
		backward = append(backward, task)
		return task.Name != "b"
	}))
	assert.Equal(t, []string{"c", "b", "d"}, taskNames(backward))
}

func TestDFSRejectsForeignTask(t *testing.T) {
	assert.ErrorIs(t, NewArena().DFSForward(NewTask("1", "a", nil), nil), ErrNoSuchTask)
}

func TestRemoveDependency(t *testing.T) {
	graph := newTestGraph("a", "b")
	a, _ := graph.Task("a")
	b, _ := graph.Task("b")
	require.NoError(t, graph.AddDependency(a, b))

	assert.True(t, graph.Arena().RemoveDependency(a, b))
	assert.False(t, graph.Arena().RemoveDependency(a, b))
	assert.Empty(t, b.Requires())
	assert.Empty(t, a.RequiredFor())
}

func TestWriteDOT(t *testing.T) {
	arena := NewArena()
	a := arena.Graph("1").CreateTask("a", nil)
	b := arena.Graph("2").CreateTask("b", nil)
	require.NoError(t, arena.AddDependency(a, b))

	var buf bytes.Buffer
	require.NoError(t, arena.WriteDOT(&buf, "deployment"))

	dot := buf.String()
	assert.Contains(t, dot, `digraph "deployment" {`)
	assert.Contains(t, dot, `subgraph "cluster_1" {`)
	assert.Contains(t, dot, `"a/1" [label="a", fillcolor=yellow];`)
	assert.Contains(t, dot, `"b/2" [label="b", fillcolor=white];`)
	assert.Contains(t, dot, `"a/1" -> "b/2";`)
}
