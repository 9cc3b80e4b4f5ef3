package graph

import (
	"bufio"
	"fmt"
	"io"
)

// Color returns the fill color used for a task in DOT exports.
func (t *Task) Color() string {
	switch t.status {
	case StatusPending:
		if t.Ready() {
			return "yellow"
		}
		return "white"
	case StatusRunning:
		return "blue"
	case StatusSuccessful:
		return "green"
	case StatusFailed:
		return "red"
	case StatusDepFailed:
		return "magenta"
	case StatusSkipped:
		return "purple"
	default:
		return "white"
	}
}

// WriteDOT renders every task and dependency as a directed graph, one cluster per node.
func (a *Arena) WriteDOT(w io.Writer, name string) error {
	buf := bufio.NewWriter(w)

	fmt.Fprintf(buf, "digraph %q {\n", name)
	fmt.Fprintln(buf, "  node [style=filled, fillcolor=white, shape=box];")

	for _, graph := range a.Graphs() {
		fmt.Fprintf(buf, "  subgraph %q {\n", "cluster_"+graph.Node())
		fmt.Fprintf(buf, "    label = %q;\n", graph.Node())
		for _, task := range graph.Tasks() {
			fmt.Fprintf(buf, "    %q [label=%q, fillcolor=%s];\n", task.Key().String(), task.Name, task.Color())
		}
		fmt.Fprintln(buf, "  }")
	}

	for _, task := range a.tasks {
		for _, dependent := range task.RequiredFor() {
			fmt.Fprintf(buf, "  %q -> %q;\n", task.Key().String(), dependent.Key().String())
		}
	}

	fmt.Fprintln(buf, "}")
	return buf.Flush()
}
