package ui

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/graph"
	"github.com/rivo/uniseg"
	"github.com/samber/lo"
)

// emojiLabel returns the emoji followed by spacing equal to its rune count,
// ensuring consistent alignment regardless of emoji rendering width.
func emojiLabel(emoji string) string {
	return emoji + strings.Repeat(" ", utf8.RuneCountInString(emoji))
}

// FormatItems formats a list of names for display, truncating if needed.
// When last is true, the last items are shown (with "… " prefix); otherwise the first ones.
// When verbose is true, all items are shown without truncation.
func FormatItems(items []string, last bool, verbose bool) string {
	nbItems := len(items)
	if nbItems < 1 {
		return ""
	}

	displayItems := 20
	lineLength := 180
	if verbose {
		displayItems = math.MaxInt32
		lineLength = math.MaxInt32
	}
	partial := nbItems > displayItems
	var nItems []string
	for displayItems > 0 {
		if last {
			nItems = items[max(0, nbItems-displayItems):]
		} else {
			nItems = items[:min(nbItems, displayItems)]
		}
		if uniseg.GraphemeClusterCount(strings.Join(nItems, " ")) <= lineLength {
			break
		}
		displayItems -= 1
		partial = true
	}

	if last {
		return fmt.Sprintf("%s%s (%d)", lo.Ternary(partial, "… ", ""), strings.Join(nItems, " "), nbItems)
	}
	return fmt.Sprintf("%s%s (%d)", strings.Join(nItems, " "), lo.Ternary(partial, " …", ""), nbItems)
}

// Progress is the one line status shown while a deployment runs.
func Progress(finished, total int, running []string) string {
	line := fmt.Sprintf("Deploying, %d/%d tasks finished", finished, total)
	if len(running) > 0 {
		line += ", " + emojiLabel("⚙️") + FormatItems(running, false, false)
	}
	return line
}

// Summary lists the nodes of a finished deployment grouped by outcome.
func Summary(nodes []*cluster.Node, verbose bool) string {
	groups := lo.GroupBy(nodes, func(node *cluster.Node) string { return outcome(node) })

	lines := []string{}
	for _, section := range []struct {
		outcome string
		emoji   string
	}{
		{"ready", "✅"},
		{"stopped", "🛑"},
		{"failed", "💥"},
		{"offline", "🔌"},
	} {
		if group := groups[section.outcome]; len(group) > 0 {
			ids := lo.Map(group, func(node *cluster.Node, _ int) string { return describe(node, section.outcome) })
			lines = append(lines, emojiLabel(section.emoji)+FormatItems(ids, section.outcome != "ready", verbose))
		}
	}
	return strings.Join(lines, "\n")
}

func outcome(node *cluster.Node) string {
	switch node.Status() {
	case cluster.NodeStatusOffline:
		return "offline"
	case cluster.NodeStatusFailed:
		return "failed"
	case cluster.NodeStatusSkipped:
		return "stopped"
	}
	return "ready"
}

// describe names the node, with its first failing task when it failed.
func describe(node *cluster.Node, outcome string) string {
	if outcome != "failed" {
		return node.ID
	}
	tasks := node.Graph().FailedTasks()
	if len(tasks) == 0 {
		return node.ID
	}
	failing, found := lo.Find(tasks, func(task *graph.Task) bool { return task.Status() == graph.StatusFailed })
	return fmt.Sprintf("%s[%s]", node.ID, lo.Ternary(found, failing, tasks[0]).Name)
}
