package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/policy"
)

func TestCanonicalizeStripsRegionPrefix(t *testing.T) {
	require.Equal(t, "claude-sonnet-4-20250514", policy.Canonicalize("us.claude-sonnet-4-20250514"))
	require.Equal(t, "claude-sonnet-4-20250514", policy.Canonicalize("claude-sonnet-4-20250514"))
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	id := "eu.claude-opus-4-20250514"
	once := policy.Canonicalize(id)
	twice := policy.Canonicalize(once)
	require.Equal(t, once, twice)
}

func TestResolveModelByProfile(t *testing.T) {
	info, err := policy.ResolveModel("", "fast", "")
	require.NoError(t, err)
	require.Equal(t, "claude-3-5-haiku-20241022", info.ID)
	require.Greater(t, info.InputUSDPerMTok, 0.0)
}

func TestResolveModelByExplicitID(t *testing.T) {
	info, err := policy.ResolveModel("apac.claude-sonnet-4-20250514", "", "")
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-20250514", info.ID)
}

func TestResolveModelUnknownProfileErrors(t *testing.T) {
	_, err := policy.ResolveModel("", "nonexistent", "")
	require.ErrorIs(t, err, policy.ErrUnknownModel)
}

func TestEstimateCostUSD(t *testing.T) {
	usage := map[string]struct{ InputTokens, OutputTokens int }{
		"claude-3-5-haiku-20241022": {InputTokens: 1_000_000, OutputTokens: 1_000_000},
	}
	cost := policy.EstimateCostUSD(usage)
	require.InDelta(t, 4.80, cost, 0.001)
}
