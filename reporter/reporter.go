// Package reporter carries deployment status reports to the outside world.
package reporter

import (
	"context"
	"sync"
)

type NodeStatus string

const (
	NodeStatusDeploying NodeStatus = "deploying"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusError     NodeStatus = "error"
	NodeStatusStopped   NodeStatus = "stopped"
)

func (s NodeStatus) Terminal() bool {
	return s == NodeStatusReady || s == NodeStatusError || s == NodeStatusStopped
}

type NodeReport struct {
	UID        string         `json:"uid"`
	Status     NodeStatus     `json:"status,omitempty"`
	Progress   int            `json:"progress"`
	TaskName   string         `json:"deployment_graph_task_name,omitempty"`
	TaskStatus string         `json:"task_status,omitempty"`
	Custom     map[string]any `json:"custom,omitempty"`
	ErrorType  string         `json:"error_type,omitempty"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
}

type Message struct {
	Nodes    []NodeReport `json:"nodes,omitempty"`
	Status   NodeStatus   `json:"status,omitempty"`
	Error    string       `json:"error,omitempty"`
	Progress int          `json:"progress,omitempty"`
}

func (m Message) Empty() bool {
	return len(m.Nodes) == 0 && m.Status == "" && m.Error == ""
}

type Reporter interface {
	Report(ctx context.Context, msg Message) error
}

// Memory keeps every report it receives.
type Memory struct {
	mutex    sync.Mutex
	messages []Message
}

func (m *Memory) Report(_ context.Context, msg Message) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *Memory) Messages() []Message {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Message(nil), m.messages...)
}

// NodeReports flattens the node entries of every message, in order.
func (m *Memory) NodeReports(uid string) []NodeReport {
	var reports []NodeReport
	for _, msg := range m.Messages() {
		for _, node := range msg.Nodes {
			if node.UID == uid {
				reports = append(reports, node)
			}
		}
	}
	return reports
}

// Multi fans reports out to several reporters, returning the first error.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, msg Message) error {
	var first error
	for _, r := range m {
		if err := r.Report(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
