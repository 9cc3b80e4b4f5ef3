package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/gammadia/fleet/rpc"
)

const (
	bootTimeCommand = "stat --printf='%Y' /proc/1"
	rebootCommand   = `flock -w 0 -o /var/lock/reboot.lock -c "sleep 5 && reboot --force"`
)

type rebootParams struct {
	Timeout int `mapstructure:"timeout" validate:"gte=0"`
}

func rebootKind() kind {
	return define(rebootParams{}, func(cfg config.Config) time.Duration { return cfg.RebootTimeout }, func(env Env, params rebootParams) Engine {
		timeout := env.Config.RebootTimeout
		if params.Timeout > 0 {
			timeout = time.Duration(params.Timeout) * time.Second
		}
		return &reboot{env: env, timeout: timeout, now: time.Now}
	})
}

// reboot restarts the node and waits until the boot time of PID 1 changes.
type reboot struct {
	env      Env
	timeout  time.Duration
	now      func() time.Time
	bootTime string
	started  time.Time
	newBoot  string
}

func (r *reboot) readBootTime(ctx context.Context, options ...rpc.CallOption) (string, error) {
	result, err := execute(ctx, r.env.Client, r.env.Node, bootTimeCommand, "/", 0, options...)
	if err != nil {
		return "", err
	}
	bootTime := strings.TrimSpace(result.Stdout)
	if bootTime == "" {
		return "", errors.New("empty boot time")
	}
	return bootTime, nil
}

func (r *reboot) Run(ctx context.Context) error {
	bootTime, err := r.readBootTime(ctx)
	if err != nil {
		return fmt.Errorf("failed to read boot time: %w", err)
	}
	r.bootTime = bootTime
	r.started = r.now()
	r.env.Log.Info("Rebooting node", "boot_time", bootTime)

	// The node may go away before answering.
	_, err = r.env.Client.Call(ctx, agentShell, "execute", []string{r.env.Node},
		map[string]any{"cmd": rebootCommand, "cwd": "/"},
		rpc.WithRetries(0),
		rpc.WithoutResultCheck(),
		rpc.OnTimeout(func(*rpc.Result) {}),
	)
	return err
}

func (r *reboot) Status(ctx context.Context) Status {
	bootTime, err := r.readBootTime(ctx, rpc.WithRetries(0))
	if err == nil && bootTime != r.bootTime {
		r.newBoot = bootTime
		r.env.Log.Info("Node rebooted", "boot_time", bootTime)
		return StatusSuccessful
	}
	if r.now().Sub(r.started) > r.timeout {
		r.env.Log.Error("Node did not reboot in time", "timeout", r.timeout)
		return StatusFailed
	}
	return StatusRunning
}

func (r *reboot) Summary(context.Context) (map[string]any, error) {
	return map[string]any{
		"previous_boot_time": r.bootTime,
		"boot_time":          r.newBoot,
	}, nil
}
