package graph

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(names ...string) *Graph {
	graph := NewArena().Graph("1")
	for _, name := range names {
		graph.CreateTask(name, nil)
	}
	return graph
}

func taskNames(tasks []*Task) []string {
	return lo.Map(tasks, func(task *Task, _ int) string { return task.Name })
}

func TestCreateTaskIsIdempotent(t *testing.T) {
	graph := newTestGraph()

	first := graph.CreateTask("x", map[string]any{"v": 1})
	second := graph.CreateTask("x", map[string]any{"v": 2})

	assert.Same(t, first, second)
	assert.Equal(t, 1, graph.Len())
	assert.Equal(t, map[string]any{"v": 2}, first.Data)
	assert.Equal(t, "1", first.Node)
}

func TestAddTaskRejectsForeignNode(t *testing.T) {
	graph := newTestGraph()

	err := graph.AddTask(NewTask("2", "x", nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, graph.Len())
}

func TestAddTaskRejectsDuplicateName(t *testing.T) {
	graph := newTestGraph("x")

	assert.ErrorIs(t, graph.AddTask(NewTask("1", "x", nil)), ErrInvalidArgument)

	existing, _ := graph.Task("x")
	assert.NoError(t, graph.AddTask(existing))
}

func TestAddDependencyByName(t *testing.T) {
	graph := newTestGraph("a", "b")

	require.NoError(t, graph.AddDependencyByName("a", "b"))
	a, _ := graph.Task("a")
	b, _ := graph.Task("b")
	assert.Equal(t, []*Task{a}, b.Requires())
	assert.Equal(t, []*Task{b}, a.RequiredFor())

	assert.ErrorIs(t, graph.AddDependencyByName("a", "missing"), ErrNoSuchTask)
	assert.ErrorIs(t, graph.AddDependencyByName("missing", "a"), ErrNoSuchTask)
}

func TestAddDependencyRejectsSelfAndIgnoresDuplicates(t *testing.T) {
	graph := newTestGraph("a", "b")
	a, _ := graph.Task("a")
	b, _ := graph.Task("b")

	assert.ErrorIs(t, graph.AddDependency(a, a), ErrInvalidArgument)

	require.NoError(t, graph.AddDependency(a, b))
	require.NoError(t, graph.AddDependency(a, b))
	assert.Len(t, b.Requires(), 1)
	assert.Len(t, a.RequiredFor(), 1)
}

func TestCrossNodeDependency(t *testing.T) {
	arena := NewArena()
	a := arena.Graph("1").CreateTask("a", nil)
	b := arena.Graph("2").CreateTask("b", nil)

	require.NoError(t, arena.AddDependency(a, b))
	assert.False(t, b.Ready())

	require.NoError(t, a.SetStatus(StatusRunning))
	require.NoError(t, a.SetStatus(StatusSuccessful))
	assert.True(t, b.Ready())
	assert.Same(t, b, arena.Graph("2").ReadyTask())
}

func TestReadyTaskFollowsInsertionOrder(t *testing.T) {
	graph := newTestGraph("c", "a", "b")

	ready := graph.ReadyTask()
	require.NotNil(t, ready)
	assert.Equal(t, "c", ready.Name)

	require.NoError(t, graph.AddDependencyByName("a", "c"))
	assert.Equal(t, "a", graph.ReadyTask().Name)
}

func TestReadyTaskNilWhenNothingRunnable(t *testing.T) {
	graph := newTestGraph("a")
	a, _ := graph.Task("a")
	require.NoError(t, a.SetStatus(StatusRunning))

	assert.Nil(t, graph.ReadyTask())
}

func TestPollDependenciesPropagatesFailure(t *testing.T) {
	for _, upstream := range []Status{StatusFailed, StatusSkipped} {
		t.Run(string(upstream), func(t *testing.T) {
			graph := newTestGraph("a", "b", "c")
			require.NoError(t, graph.AddDependencyByName("a", "b"))
			require.NoError(t, graph.AddDependencyByName("b", "c"))
			a, _ := graph.Task("a")
			b, _ := graph.Task("b")
			c, _ := graph.Task("c")

			require.NoError(t, a.SetStatus(StatusRunning))
			require.NoError(t, a.SetStatus(upstream))
			graph.Arena().PollDependencies()

			assert.Equal(t, StatusDepFailed, b.Status())
			assert.Equal(t, StatusDepFailed, c.Status())
			assert.True(t, graph.Finished())
			assert.Nil(t, graph.ReadyTask())
			assert.Equal(t, upstream == StatusFailed, graph.HasFailed())
		})
	}
}

func TestCounts(t *testing.T) {
	graph := newTestGraph("a", "b", "c", "d")
	a, _ := graph.Task("a")
	b, _ := graph.Task("b")
	c, _ := graph.Task("c")
	require.NoError(t, a.SetStatus(StatusRunning))
	require.NoError(t, a.SetStatus(StatusSuccessful))
	require.NoError(t, b.SetStatus(StatusRunning))
	require.NoError(t, b.SetStatus(StatusFailed))
	require.NoError(t, c.SetStatus(StatusRunning))

	counts := graph.Counts()
	assert.Equal(t, Counts{Total: 4, Pending: 1, Running: 1, Successful: 1, Failed: 1}, counts)
	assert.Equal(t, 2, counts.Finished())
	assert.False(t, graph.Finished())
	assert.False(t, graph.Successful())
	assert.True(t, graph.HasFailed())
	assert.Equal(t, []string{"b"}, taskNames(graph.FailedTasks()))
}

func TestSuccessfulAllowsSkipped(t *testing.T) {
	graph := newTestGraph("a", "b")
	a, _ := graph.Task("a")
	b, _ := graph.Task("b")
	require.NoError(t, a.SetStatus(StatusRunning))
	require.NoError(t, a.SetStatus(StatusSuccessful))
	require.NoError(t, b.SetStatus(StatusSkipped))

	assert.True(t, graph.Finished())
	assert.True(t, graph.Successful())
	assert.False(t, graph.HasFailed())
}

// The ready set of a random DAG must match the readiness predicate exactly.
func TestReadinessMatchesPredicate(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1024))
	nodes := []string{"1", "2", "3"}
	statuses := []Status{StatusPending, StatusPending, StatusRunning, StatusSuccessful, StatusSuccessful, StatusFailed, StatusSkipped}

	for round := 0; round < 200; round++ {
		arena := NewArena()
		count := 2 + rng.IntN(20)
		tasks := make([]*Task, 0, count)
		for i := 0; i < count; i++ {
			node := nodes[rng.IntN(len(nodes))]
			tasks = append(tasks, arena.Graph(node).CreateTask(fmt.Sprintf("task%d", i), nil))
		}
		for i := 0; i < count; i++ {
			for j := i + 1; j < count; j++ {
				if rng.IntN(4) == 0 {
					require.NoError(t, arena.AddDependency(tasks[i], tasks[j]))
				}
			}
		}
		for _, task := range tasks {
			task.status = statuses[rng.IntN(len(statuses))]
		}

		require.False(t, arena.HasLoop())
		for _, task := range tasks {
			expected := task.Status() == StatusPending && lo.EveryBy(task.Requires(), func(d *Task) bool {
				return d.Status() == StatusSuccessful
			})
			assert.Equal(t, expected, task.Ready(), "round %d, %s", round, task)
		}
		for _, graph := range arena.Graphs() {
			ready := graph.ReadyTask()
			first, found := lo.Find(graph.Tasks(), func(task *Task) bool { return task.Ready() })
			if found {
				assert.Same(t, first, ready)
			} else {
				assert.Nil(t, ready)
			}
		}
	}
}
