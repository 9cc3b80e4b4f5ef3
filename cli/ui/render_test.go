package ui

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/graph"
	"github.com/stretchr/testify/assert"
)

func TestFormatItems(t *testing.T) {
	many := make([]string, 25)
	for i := range many {
		many[i] = "n"
	}

	tests := map[int]struct {
		items    []string
		last     bool
		verbose  bool
		expected string
	}{
		0: {nil, false, false, ""},
		1: {[]string{"a", "b"}, false, false, "a b (2)"},
		2: {[]string{"a", "b"}, true, false, "a b (2)"},
		3: {many, false, false, strings.Repeat("n ", 19) + "n … (25)"},
		4: {many, true, false, "… " + strings.Repeat("n ", 19) + "n (25)"},
		5: {many, false, true, strings.Repeat("n ", 24) + "n (25)"},
	}

	for i, test := range tests {
		assert.Equal(t, test.expected, FormatItems(test.items, test.last, test.verbose), "case %d", i)
	}
}

func TestFormatItemsTruncatesLongLines(t *testing.T) {
	long := []string{strings.Repeat("x", 100), strings.Repeat("y", 100)}
	assert.Equal(t, strings.Repeat("x", 100)+" … (2)", FormatItems(long, false, false))
}

func TestProgress(t *testing.T) {
	assert.Equal(t, "Deploying, 3/10 tasks finished", Progress(3, 10, nil))
	assert.Equal(t, "Deploying, 3/10 tasks finished, ⚙️  upgrade/1 upgrade/2 (2)", Progress(3, 10, []string{"upgrade/1", "upgrade/2"}))
}

func TestSummary(t *testing.T) {
	arena := graph.NewArena()
	for _, node := range []string{"1", "2", "3"} {
		arena.Graph(node).CreateTask("noop", map[string]any{"id": "noop", "type": "noop"})
	}
	cfg := config.Default()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cluster.New(arena, nil, cfg)
	c.SetOffline("2")

	assert.Equal(t, "✅ 1 3 (2)\n🔌 2 (1)", Summary(c.Nodes(), false))
}
