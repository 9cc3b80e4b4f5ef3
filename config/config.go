package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config holds the tunables shared by the cluster, the task engines and the remote call layer.
// It is built once at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Logger *slog.Logger `json:"-"`

	TickInterval    time.Duration `json:"tick-interval"`
	NodeConcurrency int           `json:"node-concurrency"`

	RPCTimeout       time.Duration `json:"rpc-timeout"`
	RPCRetries       int           `json:"rpc-retries"`
	RPCRetryDelay    time.Duration `json:"rpc-retry-delay"`
	RPCJitter        time.Duration `json:"rpc-jitter"`
	DiscoveryTimeout time.Duration `json:"discovery-timeout"`

	TaskTimeout        time.Duration `json:"task-timeout"`
	PuppetTimeout      time.Duration `json:"puppet-timeout"`
	PuppetStartTimeout time.Duration `json:"puppet-start-timeout"`
	PuppetRetries      int           `json:"puppet-retries"`
	ShellTimeout       time.Duration `json:"shell-timeout"`
	UploadTimeout      time.Duration `json:"upload-timeout"`
	RebootTimeout      time.Duration `json:"reboot-timeout"`

	ShellManifestDir string `json:"shell-manifest-dir"`
	PuppetModules    string `json:"puppet-modules"`

	MasterNodeID      string `json:"master-node-id"`
	VirtualSyncNodeID string `json:"virtual-sync-node-id"`
}

func Default() Config {
	return Config{
		Logger: slog.Default(),

		TickInterval:    200 * time.Millisecond,
		NodeConcurrency: 0,

		RPCTimeout:       60 * time.Second,
		RPCRetries:       3,
		RPCRetryDelay:    1 * time.Second,
		RPCJitter:        250 * time.Millisecond,
		DiscoveryTimeout: 10 * time.Second,

		TaskTimeout:        1 * time.Hour,
		PuppetTimeout:      2 * time.Hour,
		PuppetStartTimeout: 10 * time.Minute,
		PuppetRetries:      2,
		ShellTimeout:       5 * time.Minute,
		UploadTimeout:      5 * time.Minute,
		RebootTimeout:      10 * time.Minute,

		ShellManifestDir: "/etc/puppet/shell_manifests",
		PuppetModules:    "/etc/puppet/modules",

		MasterNodeID:      "master",
		VirtualSyncNodeID: "virtual_sync_node",
	}
}

func Validate(config Config) error {
	var errs []error

	if config.Logger == nil {
		errs = append(errs, errors.New("logger is required"))
	}
	if config.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick-interval must be positive, got %s", config.TickInterval))
	}
	if config.NodeConcurrency < 0 {
		errs = append(errs, fmt.Errorf("node-concurrency must not be negative, got %d", config.NodeConcurrency))
	}
	if config.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc-timeout must be positive, got %s", config.RPCTimeout))
	}
	if config.RPCRetries < 0 {
		errs = append(errs, fmt.Errorf("rpc-retries must not be negative, got %d", config.RPCRetries))
	}
	if config.PuppetRetries < 0 {
		errs = append(errs, fmt.Errorf("puppet-retries must not be negative, got %d", config.PuppetRetries))
	}
	for name, timeout := range map[string]time.Duration{
		"task-timeout":   config.TaskTimeout,
		"puppet-timeout": config.PuppetTimeout,
		"shell-timeout":  config.ShellTimeout,
		"upload-timeout": config.UploadTimeout,
		"reboot-timeout": config.RebootTimeout,
	} {
		if timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, timeout))
		}
	}
	if config.VirtualSyncNodeID == "" {
		errs = append(errs, errors.New("virtual-sync-node-id is required"))
	}

	return errors.Join(errs...)
}
