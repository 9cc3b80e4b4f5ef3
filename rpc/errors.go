package rpc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrTimeout = errors.New("agents did not respond in time")
	ErrAgent   = errors.New("agents responded with an error")
)

type TimeoutError struct {
	Agent  string
	Method string
	Nodes  []string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s.%s on nodes %s", ErrTimeout, e.Agent, e.Method, strings.Join(e.Nodes, ", "))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

type AgentError struct {
	Agent    string
	Method   string
	Failures map[string]Response
}

func (e *AgentError) Error() string {
	nodes := lo.Keys(e.Failures)
	sort.Strings(nodes)
	details := lo.Map(nodes, func(node string, _ int) string {
		response := e.Failures[node]
		return fmt.Sprintf("%s (%d: %s)", node, response.StatusCode, response.StatusMsg)
	})
	return fmt.Sprintf("%s: %s.%s on nodes %s", ErrAgent, e.Agent, e.Method, strings.Join(details, ", "))
}

func (e *AgentError) Unwrap() error { return ErrAgent }
