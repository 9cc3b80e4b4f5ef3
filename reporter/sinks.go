package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Log writes reports to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Report(ctx context.Context, msg Message) error {
	for _, node := range msg.Nodes {
		l.Logger.InfoContext(ctx, "Node status",
			"node", node.UID,
			"status", node.Status,
			"progress", node.Progress,
			"task", node.TaskName,
			"task_status", node.TaskStatus,
		)
	}
	if msg.Status != "" {
		l.Logger.InfoContext(ctx, "Deployment status", "status", msg.Status, "progress", msg.Progress, "error", msg.Error)
	}
	return nil
}

// NATS publishes reports as JSON on a subject.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(conn *nats.Conn, subject string) *NATS {
	return &NATS{conn: conn, subject: subject}
}

func (n *NATS) Report(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("publish report on '%s': %w", n.subject, err)
	}
	return nil
}
