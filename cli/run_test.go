package main

import (
	"os"
	"path"
	"testing"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	file := path.Join(t.TempDir(), "stop")
	stop := fileExists(file)

	assert.False(t, stop())
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.True(t, stop())
}

func TestFollowDrainsEvents(t *testing.T) {
	events := make(chan cluster.Event, 8)
	events <- cluster.EventTaskRunning{Node: "1", Task: "upgrade"}
	events <- cluster.EventNodeStatusUpdated{Node: "2", Status: cluster.NodeStatusOffline}
	events <- cluster.EventTaskFinished{Node: "1", Task: "upgrade", Status: graph.StatusSuccessful}
	events <- cluster.EventClusterFinished{Success: true, Status: cluster.StatusSuccessful}
	close(events)

	// A nil spinner is what non interactive runs get.
	follow(events, nil, 1)
}
