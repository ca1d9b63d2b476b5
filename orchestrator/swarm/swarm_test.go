package swarm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/agent"
	"github.com/agentrun/runtime/agent/scripted"
	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/orchestrator/swarm"
)

func TestSwarmHandoff(t *testing.T) {
	alpha := scripted.New("alpha", scripted.Step{
		Result:     agent.Result{StopReason: agent.StopReasonToolUse, Content: "handing off"},
		InvokeTool: swarm.CoordinationToolName,
		ToolInput:  map[string]any{"agent_name": "beta", "message": "over to you"},
	})
	beta := scripted.New("beta", scripted.Step{
		Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "all done"},
	})

	s, err := swarm.New([]agent.Agent{alpha, beta}, swarm.Options{})
	require.NoError(t, err)

	ctx := swarm.WithRunID(context.Background(), "run-1")
	out, await := s.Stream(ctx, "do the thing")

	var handoffs []event.HandoffEvent
	var starts []string
	for ev := range out {
		switch e := ev.(type) {
		case event.HandoffEvent:
			handoffs = append(handoffs, e)
		case event.NodeStartEvent:
			starts = append(starts, e.NodeID)
		}
	}
	res := await()

	require.Equal(t, []string{"alpha", "beta"}, starts)
	require.Len(t, handoffs, 1)
	require.Equal(t, []string{"alpha"}, handoffs[0].FromNodeIDs)
	require.Equal(t, []string{"beta"}, handoffs[0].ToNodeIDs)
	require.Equal(t, "over to you", handoffs[0].Message)
	require.Equal(t, event.NodeStatusCompleted, res.Status)
	require.Equal(t, []string{"alpha", "beta"}, res.NodeIDs)
}

func TestSwarmDuplicateCoordinationToolRejected(t *testing.T) {
	alpha := scripted.New("alpha", scripted.Step{Result: agent.Result{Content: "x"}})
	require.NoError(t, alpha.AddTool(agent.ToolSpec{Name: swarm.CoordinationToolName}, nil))

	_, err := swarm.New([]agent.Agent{alpha}, swarm.Options{})
	require.Error(t, err)
}

func TestSwarmMaxIterationsExceeded(t *testing.T) {
	loop := scripted.New("loop", scripted.Step{
		Result:     agent.Result{Content: "loop"},
		InvokeTool: swarm.CoordinationToolName,
		ToolInput:  map[string]any{"agent_name": "loop", "message": "again"},
	})
	s, err := swarm.New([]agent.Agent{loop}, swarm.Options{MaxIterations: 3})
	require.NoError(t, err)

	_, await := s.Stream(context.Background(), "go")
	res := await()
	require.Equal(t, event.NodeStatusFailed, res.Status)
	require.Equal(t, "MAX_ITERATIONS_EXCEEDED", res.Metadata["code"])
}

func TestSwarmExecutorInterruptAndResume(t *testing.T) {
	alpha := scripted.New("alpha",
		scripted.Step{Result: agent.Result{Interrupts: []string{"ask-1"}}},
		scripted.Step{Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "resumed"}},
	)
	s, err := swarm.New([]agent.Agent{alpha}, swarm.Options{})
	require.NoError(t, err)

	_, await := s.Stream(context.Background(), "do the thing")
	res := await()
	require.Equal(t, event.NodeStatusInterrupted, res.Status)
	require.True(t, s.Interrupts().Activated())
	require.ElementsMatch(t, []string{"alpha"}, s.Interrupts().InterruptedNodes())

	ctx, ok := s.Interrupts().NodeContextFor("alpha")
	require.True(t, ok)
	require.Equal(t, interrupt.SourceExecutor, ctx.Source)

	_, await2 := s.Resume(context.Background(), interrupt.Request{Responses: map[string][]any{"alpha": {"yes"}}})
	res2 := await2()
	require.Equal(t, event.NodeStatusCompleted, res2.Status)
	require.False(t, s.Interrupts().Activated())
}

func TestSwarmBeforeNodeCallHookInterrupt(t *testing.T) {
	alpha := scripted.New("alpha", scripted.Step{Result: agent.Result{StopReason: agent.StopReasonEndTurn, Content: "done"}})
	hooked := false
	s, err := swarm.New([]agent.Agent{alpha}, swarm.Options{
		BeforeNodeCall: func(_ context.Context, _ string, _ any) []string {
			if hooked {
				return nil
			}
			hooked = true
			return []string{"confirm"}
		},
	})
	require.NoError(t, err)

	_, await := s.Stream(context.Background(), "go")
	res := await()
	require.Equal(t, event.NodeStatusInterrupted, res.Status)
	require.Equal(t, 0, alpha.Calls())

	ctx, ok := s.Interrupts().NodeContextFor("alpha")
	require.True(t, ok)
	require.Equal(t, interrupt.SourceHook, ctx.Source)

	_, await2 := s.Resume(context.Background(), interrupt.Request{})
	res2 := await2()
	require.Equal(t, event.NodeStatusCompleted, res2.Status)
	require.Equal(t, 1, alpha.Calls())
}
