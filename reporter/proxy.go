package reporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Proxy normalizes reports before handing them to the sink: progress is clamped to [0,100]
// and forced to 100 for terminal statuses, regressions are dropped and messages identical to
// the previous one are not sent again.
type Proxy struct {
	sink Reporter
	log  *slog.Logger

	mutex    sync.Mutex
	nodes    map[string]NodeReport
	lastHash uint64
	sent     bool
}

func NewProxy(sink Reporter, log *slog.Logger) *Proxy {
	return &Proxy{
		sink:  sink,
		log:   log.With("component", "reporter"),
		nodes: map[string]NodeReport{},
	}
}

func clamp(progress int, status NodeStatus) int {
	if status.Terminal() {
		return 100
	}
	return min(max(progress, 0), 100)
}

func (p *Proxy) Report(ctx context.Context, msg Message) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	out := Message{
		Status: msg.Status,
		Error:  msg.Error,
	}
	if msg.Status != "" || msg.Progress != 0 {
		out.Progress = clamp(msg.Progress, msg.Status)
	}

	for _, node := range msg.Nodes {
		node.Progress = clamp(node.Progress, node.Status)
		if reason := p.regression(node); reason != "" {
			p.log.Warn("Dropping node report", "node", node.UID, "status", node.Status, "progress", node.Progress, "reason", reason)
			continue
		}
		p.remember(node)
		out.Nodes = append(out.Nodes, node)
	}

	if out.Empty() {
		return nil
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	hash := xxhash.Sum64(payload)
	if p.sent && hash == p.lastHash {
		return nil
	}
	p.sent, p.lastHash = true, hash

	return p.sink.Report(ctx, out)
}

func (p *Proxy) regression(node NodeReport) string {
	previous, ok := p.nodes[node.UID]
	if !ok || node.Status == "" {
		return ""
	}

	switch {
	case previous.Status == NodeStatusError && node.Status != NodeStatusError:
		return "node already failed"
	case previous.Status.Terminal() && !node.Status.Terminal():
		return "node already finished"
	case node.Progress < previous.Progress:
		return "progress went backwards"
	}
	return ""
}

func (p *Proxy) remember(node NodeReport) {
	previous := p.nodes[node.UID]
	if node.Status == "" {
		node.Status = previous.Status
	}
	p.nodes[node.UID] = node
}
