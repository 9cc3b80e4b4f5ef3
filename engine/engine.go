// Package engine implements the executors behind a task's declared type.
//
// An engine is created for a single dispatch of a task. Run starts the remote work and
// returns quickly; Status is polled by the cluster at every tick until it reports a terminal
// value. Engines are always driven through a Job, which enforces the hard timeout and the
// monotonic status contract.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/rpc"
)

var (
	ErrUnknownType       = errors.New("unknown task type")
	ErrInvalidParameters = errors.New("invalid task parameters")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusRunning:
		return 1
	case StatusSuccessful, StatusFailed:
		return 2
	default:
		return 0
	}
}

type Engine interface {
	// Run dispatches the remote operation. An error marks the task failed.
	Run(ctx context.Context) error
	// Status polls the operation without blocking longer than one bounded agent call.
	Status(ctx context.Context) Status
	// Summary returns diagnostic data attached to status reports.
	Summary(ctx context.Context) (map[string]any, error)
}

// Canceler is implemented by engines owning background work that must stop on timeout.
type Canceler interface {
	Cancel()
}

// Env is what an engine knows about the task it executes.
type Env struct {
	Node   string
	Task   string
	Client *rpc.Client
	Config config.Config
	Log    *slog.Logger
}
