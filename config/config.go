// Package config loads the runtime's process configuration from environment
// variables (§6), applying documented defaults and minimums.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Config holds every environment-tunable knob the supervisor and HTTP
// server read at startup. All fields are optional with the stated minimum
// and default; LoadEnv clamps violations up to the minimum rather than
// failing, matching the teacher's config layer's "defaults < file < env"
// precedence model (here: defaults < env, since this runtime has no config
// file surface).
type Config struct {
	Port                          int           `koanf:"port"`
	MaxRunWallClock               time.Duration `koanf:"max-run-wall-clock"`
	MaxStreamIdle                 time.Duration `koanf:"max-stream-idle"`
	MaxRunTotalTokens             int           `koanf:"max-run-total-tokens"`
	MaxToolUsesPerRun             int           `koanf:"max-tool-uses-per-run"`
	MaxToolUsesPerTool            int           `koanf:"max-tool-uses-per-tool"`
	MaxPersistedStreamEventsPerNode int         `koanf:"max-persisted-stream-events-per-node"`
	AWSRegion                     string        `koanf:"aws-region"`
	SessionDir                    string        `koanf:"session-dir"`
}

// Default returns the configuration the runtime boots with when no
// environment variables are set.
func Default() Config {
	return Config{
		Port:                            3000,
		MaxRunWallClock:                 300_000 * time.Millisecond,
		MaxStreamIdle:                   60_000 * time.Millisecond,
		MaxRunTotalTokens:               100_000,
		MaxToolUsesPerRun:               24,
		MaxToolUsesPerTool:              8,
		MaxPersistedStreamEventsPerNode: 120,
		AWSRegion:                       "us-west-2",
		SessionDir:                      ".agentrun/sessions",
	}
}

// EnvPrefix is the prefix every recognized environment variable carries.
// Variables are matched verbatim (no prefix stripped) per the names listed
// in §6: PORT, MAX_RUN_WALL_CLOCK_MS, and so on.
const EnvPrefix = ""

// LoadEnv loads configuration from the process environment, starting from
// Default and overlaying any recognized variable, then clamps every field
// to its documented minimum.
func LoadEnv() (Config, error) {
	k := koanf.New(".")

	def := Default()
	defaults := map[string]any{
		"port":                                  def.Port,
		"max-run-wall-clock-ms":                 int(def.MaxRunWallClock / time.Millisecond),
		"max-stream-idle-ms":                    int(def.MaxStreamIdle / time.Millisecond),
		"max-run-total-tokens":                  def.MaxRunTotalTokens,
		"max-tool-uses-per-run":                 def.MaxToolUsesPerRun,
		"max-tool-uses-per-tool":                def.MaxToolUsesPerTool,
		"max-persisted-stream-events-per-node":  def.MaxPersistedStreamEventsPerNode,
		"aws-region":                            def.AWSRegion,
		"session-dir":                           def.SessionDir,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKeyToField), nil); err != nil {
		return Config{}, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := Config{
		Port:                            k.Int("port"),
		MaxRunWallClock:                 time.Duration(k.Int("max-run-wall-clock-ms")) * time.Millisecond,
		MaxStreamIdle:                   time.Duration(k.Int("max-stream-idle-ms")) * time.Millisecond,
		MaxRunTotalTokens:               k.Int("max-run-total-tokens"),
		MaxToolUsesPerRun:               k.Int("max-tool-uses-per-run"),
		MaxToolUsesPerTool:              k.Int("max-tool-uses-per-tool"),
		MaxPersistedStreamEventsPerNode: k.Int("max-persisted-stream-events-per-node"),
		AWSRegion:                       k.String("aws-region"),
		SessionDir:                      k.String("session-dir"),
	}
	clamp(&cfg)
	return cfg, nil
}

// envKeyToField maps the fixed-name environment variables from §6 onto the
// dotted koanf keys used above. Unrecognized variables are ignored rather
// than erroring, since the process environment routinely carries unrelated
// variables (PATH, HOME, provider API keys consumed elsewhere).
func envKeyToField(raw string) string {
	switch raw {
	case "PORT":
		return "port"
	case "MAX_RUN_WALL_CLOCK_MS":
		return "max-run-wall-clock-ms"
	case "MAX_STREAM_IDLE_MS":
		return "max-stream-idle-ms"
	case "MAX_RUN_TOTAL_TOKENS":
		return "max-run-total-tokens"
	case "MAX_TOOL_USES_PER_RUN":
		return "max-tool-uses-per-run"
	case "MAX_TOOL_USES_PER_TOOL":
		return "max-tool-uses-per-tool"
	case "MAX_PERSISTED_STREAM_EVENTS_PER_NODE":
		return "max-persisted-stream-events-per-node"
	case "AWS_REGION":
		return "aws-region"
	case "SESSION_DIR":
		return "session-dir"
	default:
		return ""
	}
}

// clamp enforces the stated minimums, raising any value below them rather
// than rejecting the configuration outright.
func clamp(cfg *Config) {
	if cfg.Port <= 0 {
		cfg.Port = Default().Port
	}
	if cfg.MaxRunWallClock < 10_000*time.Millisecond {
		cfg.MaxRunWallClock = 10_000 * time.Millisecond
	}
	if cfg.MaxStreamIdle < 5_000*time.Millisecond {
		cfg.MaxStreamIdle = 5_000 * time.Millisecond
	}
	if cfg.MaxRunTotalTokens < 1_000 {
		cfg.MaxRunTotalTokens = 1_000
	}
	if cfg.MaxToolUsesPerRun < 1 {
		cfg.MaxToolUsesPerRun = 1
	}
	if cfg.MaxToolUsesPerTool < 1 {
		cfg.MaxToolUsesPerTool = 1
	}
	if cfg.MaxPersistedStreamEventsPerNode < 1 {
		cfg.MaxPersistedStreamEventsPerNode = 1
	}
	if strings.TrimSpace(cfg.AWSRegion) == "" {
		cfg.AWSRegion = Default().AWSRegion
	}
	if strings.TrimSpace(cfg.SessionDir) == "" {
		cfg.SessionDir = Default().SessionDir
	}
}

// ToYAML renders the configuration as YAML, for operators inspecting the
// effective configuration.
func ToYAML(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
