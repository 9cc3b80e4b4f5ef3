package engine

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/samber/lo"
)

type shellParams struct {
	Cmd      string `mapstructure:"cmd" validate:"required"`
	Cwd      string `mapstructure:"cwd"`
	Retries  int    `mapstructure:"retries" validate:"gte=0"`
	Interval int    `mapstructure:"interval" validate:"gte=0"`
	Timeout  int    `mapstructure:"timeout" validate:"gte=0"`
}

func shellKind() kind {
	return define(shellParams{Cwd: "/", Interval: 1}, func(cfg config.Config) time.Duration { return cfg.ShellTimeout }, func(env Env, params shellParams) Engine {
		return newShell(env, params)
	})
}

type syncParams struct {
	Src     string   `mapstructure:"src" validate:"required"`
	Dst     string   `mapstructure:"dst" validate:"required"`
	Options []string `mapstructure:"options"`
	Timeout int      `mapstructure:"timeout" validate:"gte=0"`
}

// sync is rsync wrapped into a shell task.
func syncKind() kind {
	return define(syncParams{}, func(cfg config.Config) time.Duration { return cfg.ShellTimeout }, func(env Env, params syncParams) Engine {
		cmd := lo.Must(render("rsync", rsyncCommand{Src: params.Src, Dst: params.Dst, Options: params.Options}))
		return newShell(env, shellParams{Cmd: cmd, Cwd: "/", Interval: 1, Timeout: params.Timeout})
	})
}

// shell uploads the command as a script with a one-shot manifest executing it, then applies
// the manifest with the puppet engine.
type shell struct {
	env    Env
	params shellParams
	puppet *puppet
}

func newShell(env Env, params shellParams) *shell {
	if params.Timeout == 0 {
		params.Timeout = int(env.Config.ShellTimeout.Seconds())
	}
	noRetry := 0
	return &shell{
		env:    env,
		params: params,
		puppet: newPuppet(env, puppetParams{
			Manifest: path.Join(env.Config.ShellManifestDir, env.Task+"_manifest.pp"),
			Modules:  env.Config.PuppetModules,
			Cwd:      env.Config.ShellManifestDir,
			Retries:  &noRetry,
		}),
	}
}

func (s *shell) files() ([]File, error) {
	script := path.Join(s.env.Config.ShellManifestDir, s.env.Task+"_command.sh")

	scriptContent, err := render("shell_script", s.params)
	if err != nil {
		return nil, err
	}
	manifestContent, err := render("shell_manifest", shellManifest{
		Task:     s.env.Task,
		Cmd:      s.params.Cmd,
		Script:   script,
		Cwd:      s.params.Cwd,
		Tries:    s.params.Retries + 1,
		Interval: s.params.Interval,
		Timeout:  s.params.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return []File{
		{Path: script, Data: scriptContent, Permissions: "0755", Overwrite: true},
		{Path: s.puppet.params.Manifest, Data: manifestContent, Overwrite: true},
	}, nil
}

func (s *shell) Run(ctx context.Context) error {
	files, err := s.files()
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := upload(ctx, s.env.Client, s.env.Node, file, false, s.env.Config.UploadTimeout); err != nil {
			return fmt.Errorf("failed to prepare shell manifest: %w", err)
		}
	}
	return s.puppet.Run(ctx)
}

func (s *shell) Status(ctx context.Context) Status {
	return s.puppet.Status(ctx)
}

func (s *shell) Summary(ctx context.Context) (map[string]any, error) {
	return s.puppet.Summary(ctx)
}

type commandParams struct {
	Cmd     string `mapstructure:"cmd"`
	Cwd     string `mapstructure:"cwd"`
	Timeout int    `mapstructure:"timeout" validate:"gte=0"`
}

// cobbler_sync refreshes the provisioning server configuration on the node hosting it.
func cobblerSyncKind() kind {
	return define(commandParams{Cmd: "cobbler sync", Cwd: "/"}, nil, func(env Env, params commandParams) Engine {
		return &command{env: env, params: params}
	})
}

// command runs a single command through the shell agent in the background.
type command struct {
	env    Env
	params commandParams
	background
}

func (c *command) Run(ctx context.Context) error {
	timeout := time.Duration(c.params.Timeout) * time.Second
	c.start(ctx, func(ctx context.Context) (map[string]any, error) {
		result, err := execute(ctx, c.env.Client, c.env.Node, c.params.Cmd, c.params.Cwd, timeout)
		return result.summary(), err
	})
	return nil
}

func (c *command) Status(context.Context) Status {
	status := c.status()
	if status == StatusFailed {
		c.env.Log.Error("Command failed", "cmd", c.params.Cmd, "error", c.err())
	}
	return status
}

func (c *command) Summary(context.Context) (map[string]any, error) {
	return c.summary(), nil
}
