package deployment

import (
	"context"
	"testing"
	"time"

	"github.com/gammadia/fleet/cluster"
	"github.com/gammadia/fleet/reporter"
	"github.com/gammadia/fleet/rpc"
	"github.com/gammadia/fleet/rpc/rpctest"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeployment(t *testing.T, graphDoc, metadata string, options ...Option) (*Deployment, *rpctest.Transport, *reporter.Memory) {
	t.Helper()
	transport := rpctest.New()
	cfg := testConfig()
	client := rpc.NewClient(transport, cfg)

	plan, err := Build(parseInput(t, graphDoc, "", metadata), testRegistry(), cfg)
	require.NoError(t, err)

	memory := &reporter.Memory{}
	return New(plan, client, cfg, append([]Option{WithReporter(memory)}, options...)...), transport, memory
}

func runDeployment(t *testing.T, d *Deployment) (*cluster.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.Run(ctx)
}

// terminal returns the messages carrying a deployment status.
func terminal(memory *reporter.Memory) []reporter.Message {
	return lo.Filter(memory.Messages(), func(msg reporter.Message, _ int) bool { return msg.Status != "" })
}

const chainGraph = `
"1":
  - {id: task1, type: noop}
  - {id: task2, type: noop, requires: [task1]}
  - {id: task3, type: noop, requires: [task2]}
`

func TestDeploymentSucceeds(t *testing.T) {
	d, _, memory := newTestDeployment(t, chainGraph, "")

	result, err := runDeployment(t, d)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, d.ID)

	messages := terminal(memory)
	require.Len(t, messages, 1)
	assert.Equal(t, reporter.NodeStatusReady, messages[0].Status)
	assert.Equal(t, 100, messages[0].Progress)

	reports := memory.NodeReports("1")
	last := reports[len(reports)-1]
	assert.Equal(t, reporter.NodeStatusReady, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "task3", last.TaskName)
}

func TestDeploymentHidesVirtualSyncNode(t *testing.T) {
	d, _, memory := newTestDeployment(t, crossNodeGraph, "")

	result, err := runDeployment(t, d)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, memory.NodeReports(testConfig().VirtualSyncNodeID))
	assert.NotEmpty(t, memory.NodeReports("2"))
}

func TestDeploymentReportsFailedNodes(t *testing.T) {
	graphDoc := `
"1":
  - {id: sync, type: cobbler_sync}
  - {id: after, type: noop, requires: [sync]}
"2":
  - {id: other, type: noop}
`
	d, transport, memory := newTestDeployment(t, graphDoc, "")
	transport.Handle("execute_shell_command", "execute", rpctest.Reply(map[string]any{"exit_code": 1, "stderr": "boom"}))

	result, err := runDeployment(t, d)
	require.NoError(t, err)
	assert.False(t, result.Success)

	messages := terminal(memory)
	require.Len(t, messages, 1)
	final := messages[0]
	assert.Equal(t, reporter.NodeStatusError, final.Status)
	assert.Equal(t, 100, final.Progress)
	assert.NotEmpty(t, final.Error)

	require.Len(t, final.Nodes, 1)
	assert.Equal(t, "1", final.Nodes[0].UID)
	assert.Equal(t, "sync", final.Nodes[0].TaskName)
	assert.Equal(t, "failed", final.Nodes[0].TaskStatus)
	assert.Equal(t, "deploy", final.Nodes[0].ErrorType)
}

func TestDeploymentMarksOfflineNodes(t *testing.T) {
	graphDoc := `
"1":
  - {id: task1, type: noop}
"2":
  - {id: task1, type: noop}
`
	d, transport, memory := newTestDeployment(t, graphDoc, "")
	transport.SetOffline("2")

	result, err := runDeployment(t, d)
	require.NoError(t, err)
	assert.False(t, result.Success)

	reports := memory.NodeReports("2")
	require.NotEmpty(t, reports)
	assert.Equal(t, reporter.NodeStatusError, reports[0].Status)
	assert.Equal(t, "provision", reports[0].ErrorType)

	messages := terminal(memory)
	require.Len(t, messages, 1)
	assert.Equal(t, reporter.NodeStatusError, messages[0].Status)
}

func TestDeploymentAbortsOnCriticalOfflineNode(t *testing.T) {
	graphDoc := `
"1":
  - {id: sync, type: cobbler_sync}
"2":
  - {id: task1, type: noop}
`
	d, transport, memory := newTestDeployment(t, graphDoc, `{critical_nodes: ["2"]}`)
	transport.SetOffline("2")

	_, err := runDeployment(t, d)
	require.ErrorIs(t, err, ErrCriticalNodeOffline)
	assert.Empty(t, transport.Calls("execute_shell_command.execute"))

	messages := terminal(memory)
	require.Len(t, messages, 1)
	assert.Equal(t, reporter.NodeStatusError, messages[0].Status)
	assert.Contains(t, messages[0].Error, "critical node is offline")
}

func TestDeploymentAbortsOnCriticalFailure(t *testing.T) {
	graphDoc := `
"1":
  - {id: sync, type: cobbler_sync}
"2":
  - {id: task1, type: noop}
`
	d, transport, memory := newTestDeployment(t, graphDoc, `{critical_nodes: ["1"]}`)
	transport.Handle("execute_shell_command", "execute", rpctest.Reply(map[string]any{"exit_code": 2}))

	result, err := runDeployment(t, d)
	require.ErrorIs(t, err, cluster.ErrCriticalNodeFailed)
	assert.False(t, result.Success)

	messages := terminal(memory)
	require.Len(t, messages, 1)
	assert.Equal(t, reporter.NodeStatusError, messages[0].Status)
}

func TestDeploymentStopCondition(t *testing.T) {
	d, _, memory := newTestDeployment(t, chainGraph, "", WithStopCondition(func() bool { return true }))

	result, err := runDeployment(t, d)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusStopped, result.Status)

	messages := terminal(memory)
	require.Len(t, messages, 1)
	assert.Equal(t, reporter.NodeStatusStopped, messages[0].Status)
}

func TestDeploymentForwardsEvents(t *testing.T) {
	events := make(chan cluster.Event, 1024)
	d, _, _ := newTestDeployment(t, chainGraph, "", WithEvents(events))

	_, err := runDeployment(t, d)
	require.NoError(t, err)

	var finished []cluster.EventTaskFinished
	for event := range events {
		if event, ok := event.(cluster.EventTaskFinished); ok {
			finished = append(finished, event)
		}
	}
	assert.Equal(t, []string{"task1", "task2", "task3"}, lo.Map(finished, func(event cluster.EventTaskFinished, _ int) string { return event.Task }))
}
