package basic_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/policy"
	"github.com/agentrun/runtime/policy/basic"
)

func tools() []policy.ToolMetadata {
	return []policy.ToolMetadata{
		{Name: "search", Tags: []string{"read"}},
		{Name: "delete_file", Tags: []string{"write", "privileged"}},
	}
}

func TestBasicEngineAllowsEverythingByDefault(t *testing.T) {
	e := basic.New(basic.Options{})
	d, err := e.Decide(context.Background(), policy.Input{Tools: tools()})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"search", "delete_file"}, d.AllowedTools)
}

func TestBasicEngineBlockTags(t *testing.T) {
	e := basic.New(basic.Options{BlockTags: []string{"privileged"}})
	d, err := e.Decide(context.Background(), policy.Input{Tools: tools()})
	require.NoError(t, err)
	require.Equal(t, []string{"search"}, d.AllowedTools)
}

func TestBasicEngineAllowToolsTakesPrecedence(t *testing.T) {
	e := basic.New(basic.Options{AllowTools: []string{"search"}})
	d, err := e.Decide(context.Background(), policy.Input{Tools: tools()})
	require.NoError(t, err)
	require.Equal(t, []string{"search"}, d.AllowedTools)
}

func TestBasicEngineRetryHintRestrictsToTool(t *testing.T) {
	e := basic.New(basic.Options{})
	d, err := e.Decide(context.Background(), policy.Input{
		Tools:     tools(),
		RetryHint: &policy.RetryHint{Reason: policy.RetryReasonInvalidArguments, Tool: "search", RestrictToTool: true},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"search"}, d.AllowedTools)
	require.Equal(t, "invalid_arguments", d.Labels["policy_hint"])
}

func TestBasicEngineRetryHintDropsUnavailableTool(t *testing.T) {
	e := basic.New(basic.Options{})
	d, err := e.Decide(context.Background(), policy.Input{
		Tools:     tools(),
		RetryHint: &policy.RetryHint{Reason: policy.RetryReasonToolUnavailable, Tool: "search"},
	})
	require.NoError(t, err)
	require.NotContains(t, d.AllowedTools, "search")
	require.Contains(t, d.AllowedTools, "delete_file")
}
