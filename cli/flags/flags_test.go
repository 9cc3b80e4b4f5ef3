package flags

import (
	"testing"
	"time"

	"github.com/gammadia/fleet/config"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromFlagsAndEnvironment(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("FLEET_RPC_RETRIES", "7")

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	Global(flags)
	Run(flags)
	require.NoError(t, flags.Parse([]string{"--tick-interval=50ms", "--node-concurrency=4"}))
	Bind(flags)

	cfg := Config()
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 4, cfg.NodeConcurrency)
	assert.Equal(t, 7, cfg.RPCRetries)
	assert.Equal(t, config.Default().PuppetTimeout, cfg.PuppetTimeout)
	assert.Equal(t, "nats", viper.GetString(Transport))
}
