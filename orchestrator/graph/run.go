package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
)

// FailureCode identifies why a graph run terminated with status failed.
type FailureCode string

const (
	FailureMaxNodeExecutions FailureCode = "MAX_NODE_EXECUTIONS_EXCEEDED"
	FailureTimeout           FailureCode = "EXECUTION_TIMEOUT_EXCEEDED"
	FailureNodeError         FailureCode = "NODE_EXECUTION_FAILED"
	FailureNodeTimeout       FailureCode = "NODE_TIMEOUT_EXCEEDED"
)

type runIDKey struct{}

// WithRunID attaches a run id to the context passed to Stream, so emitted
// events carry the supervisor's run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	if v := ctx.Value(runIDKey{}); v != nil {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return "run"
}

// Stream drives the batch-execution loop starting from the entry point set.
func (g *Graph) Stream(ctx context.Context, task any) (<-chan event.Event, func() event.Result) {
	g.task = task
	out := make(chan event.Event, 32)
	resultCh := make(chan event.Result, 1)
	started := time.Now()

	go func() {
		defer close(out)
		resultCh <- g.loop(ctx, out, task, append([]string{}, g.entry...), nil, started)
	}()
	return out, func() event.Result { return <-resultCh }
}

// Interrupts exposes the graph's interrupt checkpoint, for serialization and
// inspection by the run supervisor (§4.4, §4.8).
func (g *Graph) Interrupts() *interrupt.State { return g.interrupts }

// Resume re-enters the graph after an interrupt (§4.3, §4.4). Per the
// batch-triggered readiness rule, the whole interrupted batch is replayed
// together: every node with an open interrupt, plus any node that completed
// in that same batch, is reset and re-executed as a new batch.
func (g *Graph) Resume(ctx context.Context, req interrupt.Request) (<-chan event.Event, func() event.Result) {
	g.interrupts.SetResume(req)
	interrupted := g.interrupts.InterruptedNodes()
	if len(interrupted) == 0 {
		out := make(chan event.Event)
		close(out)
		return out, func() event.Result {
			return event.Result{Status: event.NodeStatusFailed, Text: "graph: no interrupt to resume"}
		}
	}

	resumeBatch := append([]string{}, interrupted...)
	sameBatch := map[string]bool{}
	for _, id := range interrupted {
		nodeCtx, _ := g.interrupts.NodeContextFor(id)
		for _, completedID := range nodeCtx.CompletedAt {
			if !sameBatch[completedID] {
				sameBatch[completedID] = true
				resumeBatch = append(resumeBatch, completedID)
			}
		}
	}
	for _, id := range resumeBatch {
		g.nodes[id].Reset()
		delete(g.completed, id)
		delete(g.results, id)
	}

	g.interrupts.Deactivate()

	out := make(chan event.Event, 32)
	resultCh := make(chan event.Result, 1)
	started := time.Now()
	go func() {
		defer close(out)
		resultCh <- g.loop(ctx, out, g.task, resumeBatch, req.Responses, started)
	}()
	return out, func() event.Result { return <-resultCh }
}

func (g *Graph) loop(ctx context.Context, out chan<- event.Event, task any, startBatch []string, resumeResponses map[string][]any, started time.Time) event.Result {
	runID := runIDFrom(ctx)
	usage := event.Usage{}
	var order []string

	batch := startBatch

	for len(batch) > 0 {
		if g.opts.ExecutionTimeout > 0 && time.Since(started) > g.opts.ExecutionTimeout {
			return g.fail(usage, order, FailureTimeout, "execution timeout exceeded")
		}

		for _, id := range batch {
			if g.completed[id] && g.opts.ResetOnRevisit {
				g.nodes[id].Reset()
				delete(g.completed, id)
				delete(g.results, id)
			}
		}

		if g.opts.MaxNodeExecutions > 0 && g.execCount+len(batch) > g.opts.MaxNodeExecutions {
			return g.fail(usage, order, FailureMaxNodeExecutions, "max node executions exceeded")
		}

		inputs := make(map[string]any, len(batch))
		for _, id := range batch {
			if responses, ok := resumeResponses[id]; ok {
				inputs[id] = responses
			} else {
				inputs[id] = g.buildInput(id, task)
			}
			out <- event.NewNodeStartEvent(runID, id, g.nodes[id].Kind())
			out <- event.NewNodeInputEvent(runID, id, inputs[id])
		}
		resumeResponses = nil

		msgs := g.launchBatch(ctx, runID, batch, inputs)

		interruptedNodes := map[string]event.NodeResult{}
		var completedInBatch []string
		var failMsg string
		var failCode FailureCode
		failed := false

		for m := range msgs {
			if m.ev != nil {
				out <- m.ev
			}
			if !m.done {
				continue
			}
			g.execCount++
			res := m.result
			usage.InputTokens += res.AccumulatedUsage.InputTokens
			usage.OutputTokens += res.AccumulatedUsage.OutputTokens
			usage.TotalTokens += res.AccumulatedUsage.TotalTokens
			order = append(order, m.nodeID)

			switch res.Status {
			case event.NodeStatusInterrupted:
				interruptedNodes[m.nodeID] = res
			case event.NodeStatusFailed:
				if !failed {
					failed = true
					failMsg = "node execution failed"
					failCode = FailureNodeError
				}
			default:
				g.completed[m.nodeID] = true
				g.results[m.nodeID] = res
				completedInBatch = append(completedInBatch, m.nodeID)
			}
		}

		if failed {
			return g.fail(usage, order, failCode, failMsg)
		}
		if len(interruptedNodes) > 0 {
			for nodeID, res := range interruptedNodes {
				g.interrupts.Activate(nodeID, interrupt.NodeContext{
					Source:      interrupt.SourceExecutor,
					Interrupts:  res.Interrupts,
					CompletedAt: append([]string{}, completedInBatch...),
				})
				out <- event.NewNodeInterruptEvent(runID, nodeID, res.Interrupts)
			}
			return event.Result{Status: event.NodeStatusInterrupted, Usage: usage, NodeIDs: append([]string{}, order...)}
		}

		next := g.readyNodes(batch)
		if len(next) > 0 {
			out <- event.NewHandoffEvent(runID, append([]string{}, batch...), append([]string{}, next...), "")
		}
		batch = next
	}

	result := event.Result{
		Status:  event.NodeStatusCompleted,
		Text:    g.summarize(order),
		Usage:   usage,
		NodeIDs: append([]string{}, order...),
	}
	out <- event.NewResultEvent(runID, result)
	return result
}

// batchMsg is an item in the bounded fan-in queue merging concurrent nodes'
// event streams (§4.3): a forwarded event, or (when done is set) the
// sentinel carrying that node's terminal result.
type batchMsg struct {
	nodeID string
	ev     event.Event
	done   bool
	result event.NodeResult
}

func (g *Graph) launchBatch(ctx context.Context, runID string, batch []string, inputs map[string]any) <-chan batchMsg {
	queue := make(chan batchMsg, 64)
	remaining := len(batch)
	done := make(chan struct{}, len(batch))

	for _, id := range batch {
		go func(id string) {
			g.runOne(ctx, runID, id, inputs[id], queue)
			done <- struct{}{}
		}(id)
	}

	go func() {
		for i := 0; i < remaining; i++ {
			<-done
		}
		close(queue)
	}()

	return queue
}

// runOne drains one node's event stream into the shared queue and, on
// completion or per-node timeout expiry, emits the stop event and the
// terminal sentinel. On timeout, events the node produces afterward are no
// longer read from its channel and are effectively discarded (§4.3).
func (g *Graph) runOne(ctx context.Context, runID, id string, input any, queue chan<- batchMsg) {
	n := g.nodes[id]
	nodeCtx := ctx
	if g.opts.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, g.opts.NodeTimeout)
		defer cancel()
	}

	deltas, await := n.Run(nodeCtx, runID, input)

	for {
		select {
		case ev, ok := <-deltas:
			if !ok {
				res := await()
				queue <- batchMsg{nodeID: id, ev: event.NewNodeStopEvent(runID, id, res), done: true, result: res}
				return
			}
			queue <- batchMsg{nodeID: id, ev: ev}
		case <-nodeCtx.Done():
			if nodeCtx.Err() == context.DeadlineExceeded {
				res := event.NodeResult{Status: event.NodeStatusFailed, Duration: g.opts.NodeTimeout, Err: fmt.Errorf("node %q timed out after %s", id, g.opts.NodeTimeout)}
				queue <- batchMsg{nodeID: id, ev: event.NewNodeStopEvent(runID, id, res), done: true, result: res}
				return
			}
			res := await()
			queue <- batchMsg{nodeID: id, ev: event.NewNodeStopEvent(runID, id, res), done: true, result: res}
			return
		}
	}
}

func (g *Graph) fail(usage event.Usage, order []string, code FailureCode, message string) event.Result {
	return event.Result{
		Status:  event.NodeStatusFailed,
		Text:    message,
		Usage:   usage,
		NodeIDs: append([]string{}, order...),
		Metadata: map[string]any{
			"code": string(code),
		},
	}
}

func (g *Graph) summarize(order []string) string {
	parts := make([]string, 0, len(order))
	for _, id := range order {
		parts = append(parts, fmt.Sprintf("%s: %v", id, g.results[id].Content))
	}
	return strings.Join(parts, "\n")
}

// buildInput renders a node's input per §4.3: the original task verbatim if
// none of its dependencies have completed results, otherwise a text block
// listing the original task followed by each completed dependency's result.
func (g *Graph) buildInput(nodeID string, task any) any {
	incoming := g.incoming[nodeID]
	var deps []string
	for _, e := range incoming {
		if res, ok := g.results[e.From]; ok {
			deps = append(deps, fmt.Sprintf("%s: %v", e.From, res.Content))
		}
	}
	if len(deps) == 0 {
		return task
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Original Task: %v\n\n", task)
	b.WriteString("Prior node results:\n")
	for _, d := range deps {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	return b.String()
}
