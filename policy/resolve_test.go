package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/policy"
)

func TestResolveCombinesDefaultsModeAndOverride(t *testing.T) {
	defaults := policy.Defaults{MaxTotalToolUses: 24, DefaultPerToolLimit: 8}
	modeBlocks := policy.ModeBlocks{"single": {"handoff_to_agent"}}
	preset := &policy.Preset{BlockedTools: []string{"delete_file"}, PerToolLimits: map[string]int{"search": 3}}
	override := &policy.Override{MaxTotalUses: 10, BlockedTools: []string{"shell"}}

	r := policy.Resolve(defaults, "single", modeBlocks, preset, override)

	require.Equal(t, 10, r.MaxTotalToolUses)
	require.True(t, r.Blocked("handoff_to_agent"))
	require.True(t, r.Blocked("delete_file"))
	require.True(t, r.Blocked("shell"))
	require.False(t, r.Blocked("search"))
	require.Equal(t, 3, r.LimitFor("search"))
	require.Equal(t, 8, r.LimitFor("other_tool"))
}

func TestStripBlockedPreservesOrder(t *testing.T) {
	r := policy.Resolve(policy.Defaults{}, "swarm", nil, nil, nil)
	r.BlockedTools["b"] = struct{}{}
	out := policy.StripBlocked([]string{"a", "b", "c"}, r)
	require.Equal(t, []string{"a", "c"}, out)
}

func TestCeilingIntersectsWithPreset(t *testing.T) {
	r := policy.Resolve(policy.Defaults{}, "single", nil, &policy.Preset{WallClockCeil: 30 * time.Second}, nil)
	require.Equal(t, 30*time.Second, r.Ceiling(300*time.Second))
	require.Equal(t, 10*time.Second, r.Ceiling(10*time.Second))
}

func TestCounterDeduplicatesByToolUseID(t *testing.T) {
	r := policy.Resolve(policy.Defaults{MaxTotalToolUses: 5, DefaultPerToolLimit: 2}, "single", nil, nil, nil)
	c := policy.NewCounter(r)

	require.NoError(t, c.Observe("id-1", "search"))
	require.NoError(t, c.Observe("id-1", "search")) // repeat id, ignored
	require.Equal(t, 1, c.ToolCount("search"))

	require.NoError(t, c.Observe("id-2", "search"))
	err := c.Observe("id-3", "search")
	require.Error(t, err)
	var exceeded *policy.ExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, "search", exceeded.Tool)
	require.Equal(t, 3, exceeded.Count)
	require.Equal(t, 2, exceeded.Limit)
}

func TestCounterEnforcesTotalLimit(t *testing.T) {
	r := policy.Resolve(policy.Defaults{MaxTotalToolUses: 2, DefaultPerToolLimit: 10}, "single", nil, nil, nil)
	c := policy.NewCounter(r)
	require.NoError(t, c.Observe("id-1", "a"))
	require.NoError(t, c.Observe("id-2", "b"))
	require.Error(t, c.Observe("id-3", "c"))
}
