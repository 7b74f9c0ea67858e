package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batchgate/batchgate/proxy"
)

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := resolveConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, proxy.DefaultConfig().Listen, cfg.Listen)
	assert.Equal(t, proxy.PolicyShortestFirst, cfg.Batch.Policy)
}

func TestResolveConfig_FlagOverrides(t *testing.T) {
	flags := serveCmd.Flags()
	require.NoError(t, flags.Set("policy", "fifo"))
	require.NoError(t, flags.Set("backoff", "50ms"))
	require.NoError(t, flags.Set("max-batch", "3"))
	defer func() {
		flags.Set("policy", "shortest-first")
		flags.Set("backoff", "10ms")
		flags.Set("max-batch", "5")
	}()

	cfg, err := resolveConfig(serveCmd)
	require.NoError(t, err)
	assert.Equal(t, proxy.PolicyFIFO, cfg.Batch.Policy)
	assert.Equal(t, 50*time.Millisecond, cfg.Dispatch.ThrottleBackoff)
	assert.Equal(t, 3, cfg.Batch.MaxSize)
}

func TestParseDurationFlag_Invalid(t *testing.T) {
	_, err := parseDurationFlag("soon")
	assert.Error(t, err)
}
