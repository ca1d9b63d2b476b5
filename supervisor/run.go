package supervisor

import (
	"context"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/stream"
)

// runAccumulator gathers everything the terminal done record and history
// finalization need, built up incrementally as the driver observes events.
type runAccumulator struct {
	nodeHistory    []string
	executionOrder []string
	nodeOpen       map[string]bool
	perNode        map[string]*nodeMetric
	modelBinding   map[string]string // nodeID -> last-seen model id
}

type nodeMetric struct {
	status     string
	durationMs int64
	toolUses   int
}

func newRunAccumulator() *runAccumulator {
	return &runAccumulator{
		nodeOpen:     map[string]bool{},
		perNode:      map[string]*nodeMetric{},
		modelBinding: map[string]string{},
	}
}

func (a *runAccumulator) node(id string) *nodeMetric {
	m, ok := a.perNode[id]
	if !ok {
		m = &nodeMetric{}
		a.perNode[id] = m
	}
	return m
}

// drive runs the §4.5 loop: wall-clock guard, idle guard, write-to-consumer,
// budget accounting, event capture, and nested event flattening. It returns
// once the upstream event channel closes (success path, handled by the
// caller via await()) or a guard/policy violation forces early termination.
func (d *Driver) drive(ctx context.Context, cancel context.CancelFunc, events <-chan event.Event, sw *stream.Writer, startedAt time.Time) (*runAccumulator, *RunError) {
	acc := newRunAccumulator()
	d.eventLog = newEventLog(d.opts.Limits.MaxPersistedStreamEventsPerNode)

	for {
		if time.Since(startedAt) > d.opts.Limits.MaxRunWallClock {
			cancel()
			drainUntilClosed(events)
			return nil, failf(CodeRunTimeoutExceeded, "run exceeded wall-clock limit of %s", d.opts.Limits.MaxRunWallClock)
		}

		select {
		case <-ctx.Done():
			cancel()
			return nil, failf(CodeClientDisconnected, "consumer context cancelled")

		case <-time.After(d.opts.Limits.MaxStreamIdle):
			cancel()
			drainUntilClosed(events)
			return nil, failf(CodeRunIdleTimeoutExceeded, "no event received within idle timeout of %s", d.opts.Limits.MaxStreamIdle)

		case ev, ok := <-events:
			if !ok {
				return acc, nil
			}

			if sw != nil {
				if err := sw.Record(string(ev.Type()), ev); err != nil {
					cancel()
					drainUntilClosed(events)
					return nil, failf(CodeClientDisconnected, "write to consumer failed: %v", err)
				}
			}
			if d.opts.Bus != nil {
				if err := d.opts.Bus.Publish(ctx, ev); err != nil {
					d.log(ctx, "supervisor: subscriber failed to handle event", "runId", d.opts.RunID, "err", err)
				}
			}

			if rerr := d.account(d.opts.RunID, ev, acc, true); rerr != nil {
				cancel()
				drainUntilClosed(events)
				return nil, rerr
			}
		}
	}
}

// drainUntilClosed drains events in the background so the cancelled
// orchestrator's goroutines never block on a full channel while tearing
// down; the driver has already returned its verdict to the caller.
func drainUntilClosed(events <-chan event.Event) {
	go func() {
		for range events {
		}
	}()
}

// account applies budget accounting, tool-use policy, contract tracking, and
// event capture for ev, recursing into a nested orchestrator's inner event
// when present (§4.5 point 6: "the inner event is also captured and
// budget-accounted as if it had been top-level... not re-sent to the
// consumer").
func (d *Driver) account(runID string, ev event.Event, acc *runAccumulator, persist bool) *RunError {
	if persist {
		d.eventLog.append(runID, ev)
	}

	switch e := ev.(type) {
	case event.NodeStartEvent:
		acc.nodeHistory = append(acc.nodeHistory, e.NodeID)
		acc.executionOrder = append(acc.executionOrder, e.NodeID)
		acc.nodeOpen[e.NodeID] = true
		acc.node(e.NodeID).status = "executing"
		d.contract.observeNodeStart()

	case event.NodeStreamEvent:
		if tu, ok := event.ExtractToolUseStart(e.Inner); ok {
			if err := d.tools.Observe(tu.ToolUseID, tu.ToolName); err != nil {
				return failf(CodeToolPolicyExceeded, "%v", err)
			}
			d.contract.observeToolUse(tu.ToolName)
			acc.node(e.NodeID).toolUses++
		}
		if snap, ok := event.ExtractTokenUsageSnapshot(e.Inner); ok {
			d.budget.observeNode(e.NodeID, tokenSnapshot{
				InputTokens: snap.InputTokens, OutputTokens: snap.OutputTokens, TotalTokens: snap.TotalTokens,
			})
			if total, exceeded := d.budget.exceeded(); exceeded {
				return failf(CodeTokenBudgetExceeded, "observed total tokens %d exceeds limit %d", total, d.opts.Limits.MaxRunTotalTokens)
			}
		}
		if modelID, ok := event.ExtractModelID(e.Inner); ok {
			acc.modelBinding[e.NodeID] = modelID
			if snap, ok := event.ExtractTokenUsageSnapshot(e.Inner); ok {
				d.budget.observeModel(modelID, snap.InputTokens, snap.OutputTokens)
			}
		}
		if inner, ok := e.InnerEvent(); ok {
			return d.account(runID, inner, acc, true)
		}

	case event.NodeStopEvent:
		acc.nodeOpen[e.NodeID] = false
		m := acc.node(e.NodeID)
		m.status = string(e.NodeResult.Status)
		m.durationMs = e.NodeResult.Duration.Milliseconds()

	case event.ResultEvent:
		d.budget.observeRunScoped(e.Result.Usage.TotalTokens)
		if total, exceeded := d.budget.exceeded(); exceeded {
			return failf(CodeTokenBudgetExceeded, "observed total tokens %d exceeds limit %d", total, d.opts.Limits.MaxRunTotalTokens)
		}
	}

	return nil
}
