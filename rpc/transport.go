package rpc

import (
	"context"
)

type Request struct {
	Agent  string         `json:"agent"`
	Method string         `json:"method"`
	Nodes  []string       `json:"-"`
	Args   map[string]any `json:"args,omitempty"`
}

// Response is the reply of one node's agent. A zero StatusCode means success.
type Response struct {
	Node       string         `json:"sender"`
	StatusCode int            `json:"statuscode"`
	StatusMsg  string         `json:"statusmsg,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (r Response) OK() bool { return r.StatusCode == 0 }

// Transport carries agent calls to remote nodes. Implementations must return once ctx is
// done, reporting only the nodes that answered in time.
type Transport interface {
	// Discover returns the nodes whose agent is currently reachable.
	Discover(ctx context.Context, agent string, nodes []string) ([]string, error)
	// Call invokes the method on every node of the request.
	Call(ctx context.Context, request Request) ([]Response, error)
}
