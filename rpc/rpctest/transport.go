// Package rpctest provides an in-memory rpc.Transport whose agents are scripted by tests.
package rpctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammadia/fleet/rpc"
	"github.com/samber/lo"
)

type Handler func(node string, args map[string]any) rpc.Response

type Call struct {
	Agent  string
	Method string
	Node   string
	Args   map[string]any
}

type Transport struct {
	mutex    sync.Mutex
	handlers map[string]Handler
	offline  map[string]bool
	drops    map[string]int
	calls    []Call
}

var _ rpc.Transport = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		handlers: map[string]Handler{},
		offline:  map[string]bool{},
		drops:    map[string]int{},
	}
}

func key(agent, method string) string {
	return agent + "." + method
}

// Handle scripts the reply of agent.method. Calls without a handler get an agent error.
func (t *Transport) Handle(agent, method string, handler Handler) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handlers[key(agent, method)] = handler
}

// Reply is a Handler answering every node with the same successful data.
func Reply(data map[string]any) Handler {
	return func(node string, _ map[string]any) rpc.Response {
		return rpc.Response{Node: node, Data: data}
	}
}

// Fail is a Handler answering every node with the given agent error.
func Fail(code int, msg string) Handler {
	return func(node string, _ map[string]any) rpc.Response {
		return rpc.Response{Node: node, StatusCode: code, StatusMsg: msg}
	}
}

// SetOffline makes nodes invisible to discovery and calls.
func (t *Transport) SetOffline(nodes ...string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, node := range nodes {
		t.offline[node] = true
	}
}

func (t *Transport) SetOnline(nodes ...string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, node := range nodes {
		delete(t.offline, node)
	}
}

// DropResponses makes the next n calls to node go unanswered.
func (t *Transport) DropResponses(node string, n int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.drops[node] += n
}

func (t *Transport) Discover(ctx context.Context, agent string, nodes []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	return lo.Filter(nodes, func(node string, _ int) bool { return !t.offline[node] }), nil
}

func (t *Transport) Call(ctx context.Context, request rpc.Request) ([]rpc.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var responses []rpc.Response
	for _, node := range request.Nodes {
		handler, ok := t.accept(request, node)
		if !ok {
			continue
		}
		if handler == nil {
			responses = append(responses, rpc.Response{
				Node:       node,
				StatusCode: 2,
				StatusMsg:  fmt.Sprintf("unknown action %s", key(request.Agent, request.Method)),
			})
			continue
		}
		response := handler(node, request.Args)
		response.Node = node
		responses = append(responses, response)
	}
	return responses, nil
}

// accept records the call and returns its handler; ok is false when the node does not answer.
func (t *Transport) accept(request rpc.Request, node string) (handler Handler, ok bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.calls = append(t.calls, Call{Agent: request.Agent, Method: request.Method, Node: node, Args: request.Args})
	if t.offline[node] {
		return nil, false
	}
	if t.drops[node] > 0 {
		t.drops[node]--
		return nil, false
	}
	return t.handlers[key(request.Agent, request.Method)], true
}

// Calls returns the recorded calls, optionally restricted to one agent.method.
func (t *Transport) Calls(agentMethod ...string) []Call {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if len(agentMethod) == 0 {
		return append([]Call(nil), t.calls...)
	}
	return lo.Filter(t.calls, func(call Call, _ int) bool {
		return lo.Contains(agentMethod, key(call.Agent, call.Method))
	})
}
