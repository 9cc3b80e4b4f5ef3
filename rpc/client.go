package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"
)

type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeError      Outcome = "error"
	OutcomeNoResponse Outcome = "no-response"
)

// Result classifies every targeted node after the last attempt.
type Result struct {
	Agent     string
	Method    string
	Succeeded map[string]Response
	Failed    map[string]Response
	Missing   []string
}

func (r *Result) Outcome(node string) Outcome {
	if _, ok := r.Succeeded[node]; ok {
		return OutcomeSuccess
	}
	if _, ok := r.Failed[node]; ok {
		return OutcomeError
	}
	return OutcomeNoResponse
}

// Response returns the reply of a node, whatever its status code.
func (r *Result) Response(node string) (Response, bool) {
	if response, ok := r.Succeeded[node]; ok {
		return response, true
	}
	response, ok := r.Failed[node]
	return response, ok
}

func (r *Result) record(response Response) {
	if response.OK() {
		r.Succeeded[response.Node] = response
	} else {
		r.Failed[response.Node] = response
	}
}

type callOptions struct {
	timeout     time.Duration
	retries     int
	checkResult bool
	onTimeout   func(*Result)
}

type CallOption func(*callOptions)

func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = timeout }
}

func WithRetries(retries int) CallOption {
	return func(o *callOptions) { o.retries = retries }
}

// WithoutResultCheck leaves agent errors to the caller instead of returning an AgentError.
func WithoutResultCheck() CallOption {
	return func(o *callOptions) { o.checkResult = false }
}

// OnTimeout replaces the TimeoutError with a callback invoked with the partial result.
func OnTimeout(fn func(*Result)) CallOption {
	return func(o *callOptions) { o.onTimeout = fn }
}

// Client calls remote agents, retrying discovery and invocation for the nodes that did not
// answer.
type Client struct {
	transport Transport
	config    config.Config
	log       *slog.Logger
}

func NewClient(transport Transport, config config.Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		transport: transport,
		config:    config,
		log:       logger.With("component", "rpc"),
	}
}

func (c *Client) Call(ctx context.Context, agent, method string, nodes []string, args map[string]any, options ...CallOption) (*Result, error) {
	opts := callOptions{
		timeout:     c.config.RPCTimeout,
		retries:     c.config.RPCRetries,
		checkResult: true,
	}
	for _, option := range options {
		option(&opts)
	}

	result := &Result{
		Agent:     agent,
		Method:    method,
		Succeeded: map[string]Response{},
		Failed:    map[string]Response{},
	}
	pending := lo.Uniq(nodes)
	sort.Strings(pending)

	log := c.log.With("agent", agent, "method", method)
	attempt := 0
	errMissing := errors.New("missing responses")

	err := retry.Do(ctx, newBackoff(opts.retries, c.config.RPCRetryDelay, c.config.RPCJitter), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			log.Debug("Retrying agent call", "attempt", attempt, "nodes", pending)
		}

		reachable, err := c.discover(ctx, agent, pending)
		if err != nil {
			log.Warn("Discovery failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}

		if len(reachable) > 0 {
			callCtx, cancel := contextWithTimeout(ctx, opts.timeout)
			responses, err := c.transport.Call(callCtx, Request{Agent: agent, Method: method, Nodes: reachable, Args: args})
			cancel()
			if err != nil {
				log.Warn("Agent call failed", "attempt", attempt, "error", err)
			}
			for _, response := range responses {
				if lo.Contains(pending, response.Node) {
					result.record(response)
				}
			}
		}

		pending = lo.Filter(pending, func(node string, _ int) bool {
			_, answered := result.Response(node)
			return !answered
		})
		if len(pending) > 0 {
			return retry.RetryableError(errMissing)
		}
		return nil
	})
	result.Missing = pending

	if err != nil && !errors.Is(err, errMissing) {
		return result, fmt.Errorf("call %s.%s: %w", agent, method, err)
	}

	if len(result.Missing) > 0 {
		log.Warn("Agents did not respond", "nodes", result.Missing, "attempts", attempt)
		if opts.onTimeout == nil {
			return result, &TimeoutError{Agent: agent, Method: method, Nodes: result.Missing}
		}
		opts.onTimeout(result)
	}

	if opts.checkResult && len(result.Failed) > 0 {
		return result, &AgentError{Agent: agent, Method: method, Failures: result.Failed}
	}
	return result, nil
}

func (c *Client) discover(ctx context.Context, agent string, nodes []string) ([]string, error) {
	ctx, cancel := contextWithTimeout(ctx, c.config.DiscoveryTimeout)
	defer cancel()

	found, err := c.transport.Discover(ctx, agent, nodes)
	if err != nil {
		return nil, err
	}
	return keepOrder(nodes, found), nil
}

// Reachable returns the subset of nodes answering discovery, retrying the missing ones.
func (c *Client) Reachable(ctx context.Context, agent string, nodes []string) ([]string, error) {
	pending := lo.Uniq(nodes)
	var found []string

	err := retry.Do(ctx, newBackoff(c.config.RPCRetries, c.config.RPCRetryDelay, c.config.RPCJitter), func(ctx context.Context) error {
		reachable, err := c.discover(ctx, agent, pending)
		if err != nil {
			return retry.RetryableError(err)
		}
		found = append(found, reachable...)
		pending = lo.Without(pending, reachable...)
		if len(pending) > 0 {
			return retry.RetryableError(ErrTimeout)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrTimeout) {
		return found, err
	}
	return keepOrder(lo.Uniq(nodes), found), nil
}

// keepOrder returns the nodes present in subset, in the order of nodes.
func keepOrder(nodes, subset []string) []string {
	return lo.Filter(nodes, func(node string, _ int) bool { return lo.Contains(subset, node) })
}

func contextWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
