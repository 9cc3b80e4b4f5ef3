package cluster

import (
	"github.com/gammadia/fleet/graph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

type metrics struct {
	runningTasks prometheus.Gauge
	busyNodes    prometheus.Gauge
	taskResults  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		runningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Subsystem: "cluster",
			Name:      "running_tasks",
			Help:      "Number of tasks currently running on nodes.",
		}),
		busyNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Subsystem: "cluster",
			Name:      "busy_nodes",
			Help:      "Number of nodes currently running a task.",
		}),
		taskResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet",
			Subsystem: "cluster",
			Name:      "task_results_total",
			Help:      "Number of finished tasks by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.runningTasks, m.busyNodes, m.taskResults)
	return m
}

func (m *metrics) update(c *Cluster) {
	busy := 0
	for _, node := range c.nodes {
		if node.Busy() {
			busy++
		}
	}
	running := lo.CountBy(c.arena.Tasks(), func(task *graph.Task) bool { return task.Status() == graph.StatusRunning })
	m.busyNodes.Set(float64(busy))
	m.runningTasks.Set(float64(running))
}

func (m *metrics) taskFinished(status graph.Status) {
	m.taskResults.WithLabelValues(string(status)).Inc()
}
