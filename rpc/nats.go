package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSubjectPrefix = "fleet.agent"
	defaultFanOut        = 50
)

// NATSTransport performs agent calls as NATS request/reply exchanges, one subject per node.
type NATSTransport struct {
	conn   *nats.Conn
	prefix string
	fanOut int
	log    *slog.Logger
}

type NATSOption func(*NATSTransport)

func WithSubjectPrefix(prefix string) NATSOption {
	return func(t *NATSTransport) { t.prefix = prefix }
}

func WithFanOut(limit int) NATSOption {
	return func(t *NATSTransport) { t.fanOut = limit }
}

func NewNATSTransport(conn *nats.Conn, logger *slog.Logger, options ...NATSOption) *NATSTransport {
	transport := &NATSTransport{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		fanOut: defaultFanOut,
		log:    logger.With("component", "nats-transport"),
	}
	for _, option := range options {
		option(transport)
	}
	return transport
}

func (t *NATSTransport) subject(agent, node string) string {
	return fmt.Sprintf("%s.%s.%s", t.prefix, agent, node)
}

func (t *NATSTransport) Discover(ctx context.Context, agent string, nodes []string) ([]string, error) {
	ping, err := json.Marshal(Request{Agent: agent, Method: "ping"})
	if err != nil {
		return nil, err
	}

	replies, err := t.request(ctx, nodes, func(node string) string { return t.subject("discovery", node) }, ping)
	found := make([]string, 0, len(replies))
	for _, node := range nodes {
		if _, ok := replies[node]; ok {
			found = append(found, node)
		}
	}
	return found, err
}

func (t *NATSTransport) Call(ctx context.Context, request Request) ([]Response, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	replies, err := t.request(ctx, request.Nodes, func(node string) string { return t.subject(request.Agent, node) }, payload)
	responses := make([]Response, 0, len(replies))
	for _, node := range request.Nodes {
		msg, ok := replies[node]
		if !ok {
			continue
		}
		var response Response
		if err := json.Unmarshal(msg.Data, &response); err != nil {
			t.log.Warn("Dropping malformed agent reply", "node", node, "error", err)
			continue
		}
		if response.Node == "" {
			response.Node = node
		}
		responses = append(responses, response)
	}
	return responses, err
}

// request sends payload to every node with bounded parallelism and collects the replies by
// node. Nodes that time out or have no responder are left out.
func (t *NATSTransport) request(ctx context.Context, nodes []string, subject func(string) string, payload []byte) (map[string]*nats.Msg, error) {
	var mu sync.Mutex
	replies := make(map[string]*nats.Msg, len(nodes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.fanOut)
	for _, node := range nodes {
		g.Go(func() error {
			msg, err := t.conn.RequestWithContext(ctx, subject(node), payload)
			if err != nil {
				if isNoResponse(err) {
					return nil
				}
				return fmt.Errorf("node %s: %w", node, err)
			}

			mu.Lock()
			defer mu.Unlock()
			replies[node] = msg
			return nil
		})
	}
	err := g.Wait()
	return replies, err
}

func isNoResponse(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
