package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/mitchellh/mapstructure"
)

type puppetParams struct {
	Manifest string `mapstructure:"puppet_manifest" validate:"required"`
	Modules  string `mapstructure:"puppet_modules"`
	Cwd      string `mapstructure:"cwd"`
	Debug    bool   `mapstructure:"puppet_debug"`
	Retries  *int   `mapstructure:"retries" validate:"omitempty,gte=0"`
	Timeout  int    `mapstructure:"timeout" validate:"gte=0"`
}

func puppetKind() kind {
	return define(puppetParams{Cwd: "/"}, func(cfg config.Config) time.Duration { return cfg.PuppetTimeout }, func(env Env, params puppetParams) Engine {
		return newPuppet(env, params)
	})
}

type lastRunSummary struct {
	Status string `mapstructure:"status"`
	Time   struct {
		LastRun int64 `mapstructure:"last_run"`
	} `mapstructure:"time"`
	Resources struct {
		Failed  int `mapstructure:"failed"`
		Changed int `mapstructure:"changed"`
		Total   int `mapstructure:"total"`
	} `mapstructure:"resources"`
}

// puppet runs a manifest once through the puppet agent and watches the last run summary
// until a run newer than the one recorded at dispatch has finished. Failed runs are retried.
type puppet struct {
	env         Env
	params      puppetParams
	retriesLeft int
	startedAt   time.Time
	sawRunning  bool
	previousRun int64
	summary     map[string]any
	now         func() time.Time
}

func newPuppet(env Env, params puppetParams) *puppet {
	if params.Modules == "" {
		params.Modules = env.Config.PuppetModules
	}
	retries := env.Config.PuppetRetries
	if params.Retries != nil {
		retries = *params.Retries
	}
	return &puppet{
		env:         env,
		params:      params,
		retriesLeft: retries,
		now:         time.Now,
	}
}

func (p *puppet) Run(ctx context.Context) error {
	previous, err := p.lastRun(ctx)
	if err != nil {
		return fmt.Errorf("read last puppet run: %w", err)
	}
	p.previousRun = previous.Time.LastRun
	p.summary = nil

	p.startedAt = p.now()
	p.sawRunning = false
	p.env.Log.Debug("Starting puppet run", "manifest", p.params.Manifest)

	_, err = p.env.Client.Call(ctx, agentPuppet, "runonce", []string{p.env.Node}, map[string]any{
		"manifest":     p.params.Manifest,
		"modules":      p.params.Modules,
		"cwd":          p.params.Cwd,
		"puppet_debug": p.params.Debug,
	})
	return err
}

func (p *puppet) lastRun(ctx context.Context) (lastRunSummary, error) {
	var summary lastRunSummary

	result, err := p.env.Client.Call(ctx, agentPuppet, "last_run_summary", []string{p.env.Node}, nil)
	if err != nil {
		return summary, err
	}
	reply, _ := result.Response(p.env.Node)
	p.summary = reply.Data
	err = mapstructure.WeakDecode(reply.Data, &summary)
	return summary, err
}

func (p *puppet) Status(ctx context.Context) Status {
	summary, err := p.lastRun(ctx)
	if err != nil {
		p.env.Log.Warn("Could not read puppet status", "error", err)
		return StatusFailed
	}

	switch {
	case summary.Status == "running":
		p.sawRunning = true
		return StatusRunning

	case summary.Time.LastRun > p.previousRun:
		if summary.Resources.Failed == 0 {
			return StatusSuccessful
		}
		if p.retriesLeft > 0 {
			p.retriesLeft--
			p.env.Log.Warn("Puppet run failed, retrying", "failed_resources", summary.Resources.Failed, "retries_left", p.retriesLeft)
			if err := p.Run(ctx); err != nil {
				p.env.Log.Error("Could not restart puppet", "error", err)
				return StatusFailed
			}
			return StatusRunning
		}
		return StatusFailed

	case summary.Status == "disabled":
		p.env.Log.Error("Puppet is disabled on the node")
		return StatusFailed

	case !p.sawRunning && p.now().Sub(p.startedAt) > p.env.Config.PuppetStartTimeout:
		p.env.Log.Error("Puppet did not start", "timeout", p.env.Config.PuppetStartTimeout)
		return StatusFailed
	}
	return StatusRunning
}

func (p *puppet) Summary(ctx context.Context) (map[string]any, error) {
	if p.summary != nil {
		return p.summary, nil
	}
	_, err := p.lastRun(ctx)
	return p.summary, err
}

var _ Engine = (*puppet)(nil)
