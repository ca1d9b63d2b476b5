package swarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
)

// FailureCode identifies why a swarm run terminated with status failed.
type FailureCode string

const (
	FailureMaxHandoffs   FailureCode = "MAX_HANDOFFS_EXCEEDED"
	FailureMaxIterations FailureCode = "MAX_ITERATIONS_EXCEEDED"
	FailureTimeout       FailureCode = "EXECUTION_TIMEOUT_EXCEEDED"
	FailureRepetitive    FailureCode = "REPETITIVE_HANDOFF_DETECTED"
	FailureNodeError     FailureCode = "NODE_EXECUTION_FAILED"
)

func (s *Swarm) run(ctx context.Context, firstInput any, startNode string, resuming bool) (<-chan event.Event, func() event.Result) {
	out := make(chan event.Event, 16)
	started := time.Now()

	result := make(chan event.Result, 1)
	go func() {
		defer close(out)
		res := s.loop(ctx, out, firstInput, startNode, started, resuming)
		result <- res
	}()

	return out, func() event.Result { return <-result }
}

func (s *Swarm) loop(ctx context.Context, out chan<- event.Event, firstInput any, startNode string, started time.Time, resuming bool) event.Result {
	current := startNode
	task := firstInput
	handoffMessage := ""
	usage := event.Usage{}
	runID := "run" // replaced by caller-supplied run id via context when available

	if v := ctx.Value(runIDKey{}); v != nil {
		if id, ok := v.(string); ok && id != "" {
			runID = id
		}
	}

	for {
		if time.Since(started) > s.opts.ExecutionTimeout {
			return s.fail(runID, usage, FailureTimeout, "execution timeout exceeded")
		}
		if len(s.history) >= s.opts.MaxIterations {
			return s.fail(runID, usage, FailureMaxIterations, "max iterations exceeded")
		}
		if s.handoffCount() >= s.opts.MaxHandoffs {
			return s.fail(runID, usage, FailureMaxHandoffs, "max handoffs exceeded")
		}
		if s.repetitive() {
			return s.fail(runID, usage, FailureRepetitive, "repetitive handoff detected")
		}

		n, ok := s.nodes[current]
		if !ok {
			return s.fail(runID, usage, FailureNodeError, fmt.Sprintf("unknown node %q", current))
		}

		var input any
		if resuming {
			input = task
			resuming = false
		} else {
			input = s.buildInput(current, task, handoffMessage)
		}

		if s.opts.BeforeNodeCall != nil {
			if ids := s.opts.BeforeNodeCall(ctx, current, input); len(ids) > 0 {
				s.interrupts.Activate(current, interrupt.NodeContext{Source: interrupt.SourceHook, Interrupts: ids})
				out <- event.NewNodeInterruptEvent(runID, current, ids)
				return event.Result{Status: event.NodeStatusInterrupted, Usage: usage, NodeIDs: append([]string{}, s.history...)}
			}
		}

		out <- event.NewNodeStartEvent(runID, current, event.NodeTypeAgent)
		out <- event.NewNodeInputEvent(runID, current, input)

		coord := s.coordinators[current]
		coord.pending = nil

		deltas, await := n.Run(ctx, runID, input)
		for ev := range deltas {
			out <- ev
		}
		res := await()
		out <- event.NewNodeStopEvent(runID, current, res)

		usage.InputTokens += res.AccumulatedUsage.InputTokens
		usage.OutputTokens += res.AccumulatedUsage.OutputTokens
		usage.TotalTokens += res.AccumulatedUsage.TotalTokens

		if res.Status == event.NodeStatusInterrupted {
			s.interrupts.Activate(current, interrupt.NodeContext{Source: interrupt.SourceExecutor, Interrupts: res.Interrupts})
			out <- event.NewNodeInterruptEvent(runID, current, res.Interrupts)
			return event.Result{Status: event.NodeStatusInterrupted, Usage: usage, NodeIDs: append([]string{}, s.history...)}
		}
		if res.Status == event.NodeStatusFailed {
			return s.fail(runID, usage, FailureNodeError, "node execution failed")
		}

		s.history = append(s.history, current)

		if coord.pending == nil {
			result := event.Result{
				Status:  event.NodeStatusCompleted,
				Text:    fmt.Sprint(res.Content),
				Usage:   usage,
				NodeIDs: append([]string{}, s.history...),
			}
			out <- event.NewResultEvent(runID, result)
			return result
		}

		from := current
		current = coord.pending.ToAgent
		handoffMessage = coord.pending.Message
		task = nil
		out <- event.NewHandoffEvent(runID, []string{from}, []string{current}, coord.pending.Message)
	}
}

type runIDKey struct{}

// WithRunID attaches a run id to the context passed to Stream/ResumeFrom, so
// emitted events carry the supervisor's run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func (s *Swarm) fail(runID string, usage event.Usage, code FailureCode, message string) event.Result {
	return event.Result{
		Status:  event.NodeStatusFailed,
		Text:    message,
		Usage:   usage,
		NodeIDs: append([]string{}, s.history...),
		Metadata: map[string]any{
			"code": string(code),
		},
	}
}

func (s *Swarm) handoffCount() int {
	if len(s.history) == 0 {
		return 0
	}
	return len(s.history) - 1
}

func (s *Swarm) repetitive() bool {
	w := s.opts.RepetitiveWindow
	minUnique := s.opts.MinUniqueAgents
	if w <= 0 || minUnique <= 0 || len(s.history) < w {
		return false
	}
	window := s.history[len(s.history)-w:]
	seen := map[string]bool{}
	for _, id := range window {
		seen[id] = true
	}
	return len(seen) < minUnique
}

// buildInput renders the node input for a non-resume turn (§4.2): a prefix
// of handoff message, original task, prior node order, shared-context dump,
// other available agents, and a static silence directive, followed by any
// non-string task blocks appended verbatim. Resume turns bypass this
// entirely — see ResumeFrom.
func (s *Swarm) buildInput(nodeID string, task any, handoffMessage string) any {
	var b strings.Builder
	if handoffMessage != "" {
		fmt.Fprintf(&b, "Handoff message: %s\n\n", handoffMessage)
	}
	if text, ok := task.(string); ok {
		fmt.Fprintf(&b, "Task: %s\n\n", text)
	}
	if len(s.history) > 0 {
		fmt.Fprintf(&b, "Previous nodes (in order): %s\n\n", strings.Join(s.history, " -> "))
	}
	fmt.Fprintf(&b, "Shared context: %s\n\n", s.ctx.dump())
	fmt.Fprintf(&b, "Other available agents: %s\n\n", strings.Join(s.otherAgents(nodeID), ", "))
	b.WriteString("If you produce no further output and do not hand off, the swarm ends.")

	if _, isText := task.(string); !isText && task != nil {
		return []any{b.String(), task}
	}
	return b.String()
}

func (s *Swarm) otherAgents(nodeID string) []string {
	out := make([]string, 0, len(s.order)-1)
	for _, id := range s.order {
		if id != nodeID {
			out = append(out, id)
		}
	}
	return out
}
