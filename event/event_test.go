package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/event"
)

func TestNodeStartEventType(t *testing.T) {
	e := event.NewNodeStartEvent("run-1", "alpha", event.NodeTypeAgent)
	require.Equal(t, event.TypeNodeStart, e.Type())
	require.Equal(t, "run-1", e.RunID())
	require.Positive(t, e.Timestamp())
}

func TestNodeStreamEventInnerEvent(t *testing.T) {
	inner := event.NewNodeStopEvent("run-1", "nested", event.NodeResult{Status: event.NodeStatusCompleted})
	e := event.NewNodeStreamEvent("run-1", "parent", inner)

	got, ok := e.InnerEvent()
	require.True(t, ok)
	require.Equal(t, event.TypeNodeStop, got.Type())

	raw := event.NewNodeStreamEvent("run-1", "parent", map[string]any{"text": "hi"})
	_, ok = raw.InnerEvent()
	require.False(t, ok)
}

func TestExtractToolUseStart(t *testing.T) {
	delta := map[string]any{
		"toolUse": map[string]any{"toolUseId": "tu-1", "toolName": "search"},
	}
	got, ok := event.ExtractToolUseStart(delta)
	require.True(t, ok)
	require.Equal(t, event.ToolUseStart{ToolUseID: "tu-1", ToolName: "search"}, got)

	_, ok = event.ExtractToolUseStart(map[string]any{"text": "no tool here"})
	require.False(t, ok)
}

func TestExtractTokenUsageSnapshot(t *testing.T) {
	delta := map[string]any{"usage": map[string]any{"inputTokens": 10, "outputTokens": float64(5)}}
	got, ok := event.ExtractTokenUsageSnapshot(delta)
	require.True(t, ok)
	require.Equal(t, event.TokenUsageSnapshot{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, got)
}
