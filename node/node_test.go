package node_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/agent/scripted"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/node"
)

func TestNodeRunAgentCompleted(t *testing.T) {
	a := scripted.New("alpha", scripted.Step{
		Deltas: []agent.Delta{map[string]any{"text": "hi"}},
		Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "done"},
	})
	n := node.New("alpha", a, agent.State{})

	out, await := n.Run(context.Background(), "run-1", "task")
	var count int
	for range out {
		count++
	}
	res := await()

	require.Equal(t, 1, count)
	require.Equal(t, event.NodeStatusCompleted, res.Status)
	require.Equal(t, "done", res.Content)
	require.Equal(t, node.StatusCompleted, n.Status)
}

func TestNodeRunAgentFailed(t *testing.T) {
	a := scripted.New("alpha", scripted.Step{
		Result: agent.Result{Err: errors.New("boom")},
	})
	n := node.New("alpha", a, agent.State{})

	out, await := n.Run(context.Background(), "run-1", "task")
	for range out {
	}
	res := await()

	require.Equal(t, event.NodeStatusFailed, res.Status)
	require.Error(t, res.Err)
	require.Equal(t, node.StatusFailed, n.Status)
}

func TestNodeReset(t *testing.T) {
	a := scripted.New("alpha", scripted.Step{Result: agent.Result{Content: "x"}})
	n := node.New("alpha", a, agent.State{})
	out, await := n.Run(context.Background(), "run-1", "task")
	for range out {
	}
	await()
	require.Equal(t, node.StatusCompleted, n.Status)

	n.Reset()
	require.Equal(t, node.StatusPending, n.Status)
	require.Nil(t, n.Result)
}
