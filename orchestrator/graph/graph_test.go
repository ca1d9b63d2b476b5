package graph_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/agent/scripted"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/node"
	"github.com/agentrun/runtime/orchestrator/graph"
)

func scriptedNode(name string) *node.Node {
	a := scripted.New(name, scripted.Step{
		Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: name + "-done"},
	})
	return node.New(name, a, agent.State{})
}

func TestGraphConditionalEdgeBatchTrigger(t *testing.T) {
	a, b, c, d := scriptedNode("A"), scriptedNode("B"), scriptedNode("C"), scriptedNode("D")
	edges := []graph.Edge{
		{From: "A", To: "C", When: func(graph.State) bool { return true }},
		{From: "B", To: "C", When: func(graph.State) bool { return true }},
		{From: "C", To: "D"},
	}
	g, err := graph.New([]*node.Node{a, b, c, d}, edges, graph.Options{})
	require.NoError(t, err)

	out, await := g.Stream(context.Background(), "do the thing")

	var starts []string
	for ev := range out {
		if s, ok := ev.(event.NodeStartEvent); ok {
			starts = append(starts, s.NodeID)
		}
	}
	res := await()

	require.Len(t, starts, 4)
	require.Equal(t, event.NodeStatusCompleted, res.Status)
	require.ElementsMatch(t, []string{"A", "B", "C", "D"}, res.NodeIDs)

	// C must start only after both A and B have, and D only after C.
	posA, posB, posC, posD := indexOf(starts, "A"), indexOf(starts, "B"), indexOf(starts, "C"), indexOf(starts, "D")
	require.Less(t, posA, posC)
	require.Less(t, posB, posC)
	require.Less(t, posC, posD)
}

func TestGraphNoEntryPointsFails(t *testing.T) {
	a, b := scriptedNode("A"), scriptedNode("B")
	edges := []graph.Edge{{From: "A", To: "B"}, {From: "B", To: "A"}}
	_, err := graph.New([]*node.Node{a, b}, edges, graph.Options{})
	require.Error(t, err)
}

func TestGraphMaxNodeExecutionsExceeded(t *testing.T) {
	a, b := scriptedNode("A"), scriptedNode("B")
	edges := []graph.Edge{{From: "A", To: "B"}}
	g, err := graph.New([]*node.Node{a, b}, edges, graph.Options{MaxNodeExecutions: 1})
	require.NoError(t, err)

	_, await := g.Stream(context.Background(), "go")
	res := await()
	require.Equal(t, event.NodeStatusFailed, res.Status)
	require.Equal(t, "MAX_NODE_EXECUTIONS_EXCEEDED", res.Metadata["code"])
}

func TestGraphInterruptReplaysSameBatch(t *testing.T) {
	aAgent := scripted.New("A",
		scripted.Step{Result: agent.Result{Interrupts: []string{"ask-1"}}},
		scripted.Step{Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "A-done"}},
	)
	bAgent := scripted.New("B", scripted.Step{Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "B-done"}})
	a := node.New("A", aAgent, agent.State{})
	b := node.New("B", bAgent, agent.State{})

	g, err := graph.New([]*node.Node{a, b}, nil, graph.Options{})
	require.NoError(t, err)

	_, await := g.Stream(context.Background(), "go")
	res := await()
	require.Equal(t, event.NodeStatusInterrupted, res.Status)
	require.True(t, g.Interrupts().Activated())

	nodeCtx, ok := g.Interrupts().NodeContextFor("A")
	require.True(t, ok)
	require.Equal(t, interrupt.SourceExecutor, nodeCtx.Source)
	require.Equal(t, []string{"B"}, nodeCtx.CompletedAt)

	_, await2 := g.Resume(context.Background(), interrupt.Request{Responses: map[string][]any{"A": {"yes"}}})
	res2 := await2()
	require.Equal(t, event.NodeStatusCompleted, res2.Status)
	require.False(t, g.Interrupts().Activated())
	require.Equal(t, 2, aAgent.Calls())
	require.Equal(t, 2, bAgent.Calls())
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
