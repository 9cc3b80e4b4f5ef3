package reporter

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxy() (*Proxy, *Memory) {
	memory := &Memory{}
	return NewProxy(memory, slog.New(slog.NewTextHandler(io.Discard, nil))), memory
}

func TestProxyClampsProgress(t *testing.T) {
	proxy, memory := newTestProxy()
	ctx := context.Background()

	require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{{UID: "1", Status: NodeStatusDeploying, Progress: -5}}}))
	require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{{UID: "2", Status: NodeStatusDeploying, Progress: 150}}}))
	require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{{UID: "3", Status: NodeStatusReady, Progress: 40}}}))
	require.NoError(t, proxy.Report(ctx, Message{Status: NodeStatusError, Progress: 12}))

	messages := memory.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, 0, messages[0].Nodes[0].Progress)
	assert.Equal(t, 100, messages[1].Nodes[0].Progress)
	assert.Equal(t, 100, messages[2].Nodes[0].Progress)
	assert.Equal(t, 100, messages[3].Progress)
}

func TestProxyDropsRegressions(t *testing.T) {
	proxy, memory := newTestProxy()
	ctx := context.Background()

	for _, node := range []NodeReport{
		{UID: "1", Status: NodeStatusDeploying, Progress: 50},
		{UID: "1", Status: NodeStatusDeploying, Progress: 30},
		{UID: "1", Status: NodeStatusError},
		{UID: "1", Status: NodeStatusReady},
		{UID: "1", Status: NodeStatusDeploying, Progress: 100},
	} {
		require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{node}}))
	}

	reports := memory.NodeReports("1")
	require.Len(t, reports, 2)
	assert.Equal(t, NodeStatusDeploying, reports[0].Status)
	assert.Equal(t, 50, reports[0].Progress)
	assert.Equal(t, NodeStatusError, reports[1].Status)
}

func TestProxyAllowsErrorAfterReady(t *testing.T) {
	proxy, memory := newTestProxy()
	ctx := context.Background()

	require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{{UID: "1", Status: NodeStatusReady}}}))
	require.NoError(t, proxy.Report(ctx, Message{Nodes: []NodeReport{{UID: "1", Status: NodeStatusError, ErrorType: "deploy"}}}))

	reports := memory.NodeReports("1")
	require.Len(t, reports, 2)
	assert.Equal(t, "deploy", reports[1].ErrorType)
}

func TestProxyDeduplicates(t *testing.T) {
	proxy, memory := newTestProxy()
	ctx := context.Background()

	msg := Message{Nodes: []NodeReport{{UID: "1", Status: NodeStatusDeploying, Progress: 10, TaskName: "task1"}}}
	require.NoError(t, proxy.Report(ctx, msg))
	require.NoError(t, proxy.Report(ctx, msg))
	require.NoError(t, proxy.Report(ctx, Message{}))

	assert.Len(t, memory.Messages(), 1)
}

func TestMulti(t *testing.T) {
	a, b := &Memory{}, &Memory{}
	require.NoError(t, Multi{a, b}.Report(context.Background(), Message{Status: NodeStatusReady}))
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, b.Messages(), 1)
}
