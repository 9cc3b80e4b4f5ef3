package flags

import (
	"strings"
	"time"

	"github.com/gammadia/fleet/config"
	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	LogFormat = "log-format"
	LogLevel  = "log-level"
	LogSource = "log-source"
	Verbose   = "verbose"

	Directory = "directory"
	Metadata  = "metadata"
	Param     = "param"

	TickInterval    = "tick-interval"
	NodeConcurrency = "node-concurrency"
	RPCTimeout      = "rpc-timeout"
	RPCRetries      = "rpc-retries"
	TaskTimeout     = "task-timeout"
	PuppetTimeout   = "puppet-timeout"
	PuppetRetries   = "puppet-retries"
	RebootTimeout   = "reboot-timeout"

	Transport     = "transport"
	NATSURL       = "nats-url"
	SubjectPrefix = "subject-prefix"
	SSHUser       = "ssh-user"
	SSHKey        = "ssh-key"
	NodeAddress   = "node-address"

	StopFile      = "stop-file"
	MetricsListen = "metrics-listen"
	ReportSubject = "report-subject"
	Output        = "output"
)

// Global registers the flags shared by every command.
func Global(flags *flag.FlagSet) {
	flags.String(LogFormat, "text", "log format (json, text)")
	flags.String(LogLevel, "INFO", "minimum log level")
	flags.Bool(LogSource, false, "add source code location to logs")
	flags.BoolP(Verbose, "v", false, "do not truncate node lists")
}

// Input registers the flags locating the deployment documents.
func Input(flags *flag.FlagSet) {
	flags.String(Directory, "", "tasks directory document, merged into the graph tasks by id")
	flags.String(Metadata, "", "tasks metadata document (fault tolerance groups, subgraphs, critical nodes)")
	flags.StringToString(Param, nil, "template parameter, as name=value")
}

// Run registers the flags of the run command.
func Run(flags *flag.FlagSet) {
	defaults := config.Default()

	flags.Duration(TickInterval, defaults.TickInterval, "delay between two scheduling passes")
	flags.Int(NodeConcurrency, defaults.NodeConcurrency, "maximum number of busy nodes, 0 for unlimited")
	flags.Duration(RPCTimeout, defaults.RPCTimeout, "timeout of one remote call")
	flags.Int(RPCRetries, defaults.RPCRetries, "retries for nodes missing from a remote call")
	flags.Duration(TaskTimeout, defaults.TaskTimeout, "default task timeout")
	flags.Duration(PuppetTimeout, defaults.PuppetTimeout, "puppet task timeout")
	flags.Int(PuppetRetries, defaults.PuppetRetries, "puppet run retries")
	flags.Duration(RebootTimeout, defaults.RebootTimeout, "time allowed for a node to reboot")

	flags.String(Transport, "nats", "agent transport (nats, ssh)")
	flags.String(NATSURL, "nats://127.0.0.1:4222", "NATS server url")
	flags.String(SubjectPrefix, "fleet.agent", "NATS subject prefix of the agents")
	flags.String(SSHUser, "root", "ssh user")
	flags.String(SSHKey, "", "ssh private key file")
	flags.StringToString(NodeAddress, nil, "ssh address of a node, as id=host[:port]")

	flags.String(StopFile, "", "stop gracefully once this file exists")
	flags.String(MetricsListen, "", "address serving prometheus metrics, disabled when empty")
	flags.String(ReportSubject, "", "NATS subject receiving status reports, disabled when empty")
}

// Dot registers the flags of the dot command.
func Dot(flags *flag.FlagSet) {
	flags.StringP(Output, "o", "", "output file, stdout when empty")
}

// Bind makes flags readable through viper, overridable by FLEET_* environment variables.
func Bind(flags *flag.FlagSet) {
	viper.SetEnvPrefix("fleet")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(viper.BindPFlags(flags))
}

// Config builds the engine configuration from the bound flags.
func Config() config.Config {
	cfg := config.Default()
	cfg.TickInterval = durationOr(TickInterval, cfg.TickInterval)
	cfg.NodeConcurrency = viper.GetInt(NodeConcurrency)
	cfg.RPCTimeout = durationOr(RPCTimeout, cfg.RPCTimeout)
	cfg.RPCRetries = viper.GetInt(RPCRetries)
	cfg.TaskTimeout = durationOr(TaskTimeout, cfg.TaskTimeout)
	cfg.PuppetTimeout = durationOr(PuppetTimeout, cfg.PuppetTimeout)
	cfg.PuppetRetries = viper.GetInt(PuppetRetries)
	cfg.RebootTimeout = durationOr(RebootTimeout, cfg.RebootTimeout)
	return cfg
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return fallback
	}
	return viper.GetDuration(key)
}
