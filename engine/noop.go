package engine

import (
	"context"
	"time"

	"github.com/gammadia/fleet/config"
)

type noopParams struct{}

// noop, stage and skipped tasks only exist to order the graph.
func noopKind() kind {
	return define(noopParams{}, func(cfg config.Config) time.Duration { return cfg.TaskTimeout }, func(Env, noopParams) Engine {
		return noop{}
	})
}

type noop struct{}

func (noop) Run(context.Context) error                       { return nil }
func (noop) Status(context.Context) Status                   { return StatusSuccessful }
func (noop) Summary(context.Context) (map[string]any, error) { return nil, nil }
