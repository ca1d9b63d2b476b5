package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"PORT", "MAX_RUN_WALL_CLOCK_MS", "MAX_STREAM_IDLE_MS", "MAX_RUN_TOTAL_TOKENS",
		"MAX_TOOL_USES_PER_RUN", "MAX_TOOL_USES_PER_TOOL", "MAX_PERSISTED_STREAM_EVENTS_PER_NODE",
		"AWS_REGION", "SESSION_DIR",
	}
	for _, v := range vars {
		require.NoError(t, os.Unsetenv(v))
	}
}

func TestLoadEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.LoadEnv()
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadEnvOverridesFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("MAX_RUN_TOTAL_TOKENS", "250000")

	cfg, err := config.LoadEnv()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "eu-central-1", cfg.AWSRegion)
	require.Equal(t, 250000, cfg.MaxRunTotalTokens)
}

func TestLoadEnvClampsBelowMinimum(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAX_RUN_WALL_CLOCK_MS", "1")
	t.Setenv("MAX_STREAM_IDLE_MS", "1")
	t.Setenv("MAX_RUN_TOTAL_TOKENS", "1")
	t.Setenv("MAX_TOOL_USES_PER_RUN", "0")
	t.Setenv("MAX_TOOL_USES_PER_TOOL", "0")
	t.Setenv("MAX_PERSISTED_STREAM_EVENTS_PER_NODE", "0")

	cfg, err := config.LoadEnv()
	require.NoError(t, err)
	require.Equal(t, 10_000*time.Millisecond, cfg.MaxRunWallClock)
	require.Equal(t, 5_000*time.Millisecond, cfg.MaxStreamIdle)
	require.Equal(t, 1_000, cfg.MaxRunTotalTokens)
	require.Equal(t, 1, cfg.MaxToolUsesPerRun)
	require.Equal(t, 1, cfg.MaxToolUsesPerTool)
	require.Equal(t, 1, cfg.MaxPersistedStreamEventsPerNode)
}

func TestLoadEnvIgnoresUnrecognizedVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOME_UNRELATED_VAR", "whatever")

	cfg, err := config.LoadEnv()
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestToYAMLIncludesPort(t *testing.T) {
	cfg := config.Default()
	out, err := config.ToYAML(cfg)
	require.NoError(t, err)
	require.Contains(t, string(out), "port: 3000")
}
