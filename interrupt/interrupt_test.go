package interrupt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/interrupt"
)

func TestActivateAndDeactivate(t *testing.T) {
	s := interrupt.NewState()
	require.False(t, s.Activated())

	s.Activate("alpha", interrupt.NodeContext{
		Source:     interrupt.SourceExecutor,
		Interrupts: []string{"ask-1"},
		Messages:   []any{"hello"},
	})
	require.True(t, s.Activated())
	require.True(t, s.IsOpen("ask-1"))
	require.ElementsMatch(t, []string{"alpha"}, s.InterruptedNodes())

	s.Deactivate()
	require.False(t, s.Activated())
	require.False(t, s.IsOpen("ask-1"))
	require.Empty(t, s.InterruptedNodes())
}

func TestResumeResponsesRoutedByNode(t *testing.T) {
	s := interrupt.NewState()
	s.Activate("alpha", interrupt.NodeContext{Source: interrupt.SourceHook, Interrupts: []string{"ask-1"}})
	s.SetResume(interrupt.Request{Responses: map[string][]any{"alpha": {"yes"}}})

	got, ok := s.ResponsesFor("alpha")
	require.True(t, ok)
	require.Equal(t, []any{"yes"}, got)

	_, ok = s.ResponsesFor("beta")
	require.False(t, ok)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := interrupt.NewState()
	s.Activate("alpha", interrupt.NodeContext{
		Source:      interrupt.SourceExecutor,
		Interrupts:  []string{"ask-1"},
		Messages:    []any{"hi"},
		Scratch:     map[string]any{"k": "v"},
		CompletedAt: []string{"gamma"},
	})

	snap := s.Serialize()
	restored := interrupt.Deserialize(snap)

	require.True(t, restored.Activated())
	require.True(t, restored.IsOpen("ask-1"))
	ctx, ok := restored.NodeContextFor("alpha")
	require.True(t, ok)
	require.Equal(t, interrupt.SourceExecutor, ctx.Source)
	require.Equal(t, []any{"hi"}, ctx.Messages)
	require.Equal(t, []string{"gamma"}, ctx.CompletedAt)
}

func TestDeserializeZeroSnapshotIsPending(t *testing.T) {
	restored := interrupt.Deserialize(interrupt.InternalStateSnapshot{})
	require.False(t, restored.Activated())
	require.Empty(t, restored.InterruptedNodes())
}
