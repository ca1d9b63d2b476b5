package supervisor

import (
	"context"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/history"
	"github.com/agentrun/runtime/policy"
)

// startHistory writes the initial running record, best-effort: a failure
// here is logged but never blocks the run, since recovery at the next
// process start reconciles any run stuck without a terminal write (§4.8).
func (d *Driver) startHistory(ctx context.Context, task any) error {
	if d.opts.History == nil {
		return nil
	}
	return d.opts.History.StartRun(ctx, history.Record{
		RunID:     d.opts.RunID,
		Mode:      d.opts.Mode,
		Status:    history.StatusRunning,
		StartedAt: time.Now(),
	})
}

// finalizeSuccess performs the exactly-once terminal write for a successful
// run (§4.8), falling back to the minimal variant if the full write fails.
func (d *Driver) finalizeSuccess(ctx context.Context, done *DoneRecord, startedAt time.Time) {
	if d.persistenceFinalized || d.opts.History == nil {
		return
	}
	rec := history.Record{
		RunID:            d.opts.RunID,
		Mode:             d.opts.Mode,
		Status:           history.StatusCompleted,
		StartedAt:        startedAt,
		UpdatedAt:        time.Now(),
		FinishedAt:       time.Now(),
		Text:             done.Text,
		StructuredOutput: done.StructuredOutput,
		ExecutionTime:    done.ExecutionTime,
		NodeHistory:      done.NodeHistory,
		ExecutionOrder:   done.ExecutionOrder,
		PerNode:          done.PerNode,
		PerModelUsage:    done.PerModelUsage,
		ModelID:          done.ModelID,
		EstimatedCostUSD: done.EstimatedCostUSD,
		Metadata:         d.eventLogMetadata(),
	}
	if err := d.opts.History.CompleteRun(ctx, rec); err != nil {
		d.log(ctx, "supervisor: completeRun failed, falling back to minimal", "runId", d.opts.RunID, "err", err)
		if err := d.opts.History.MarkRunCompletedMinimal(ctx, d.opts.RunID); err != nil {
			d.log(ctx, "supervisor: markRunCompletedMinimal also failed, run left running", "runId", d.opts.RunID, "err", err)
			return
		}
	}
	d.persistenceFinalized = true
}

// finalizeFailure performs the exactly-once terminal write for a failed run.
func (d *Driver) finalizeFailure(ctx context.Context, runErr *RunError, startedAt time.Time) {
	if d.persistenceFinalized || d.opts.History == nil {
		return
	}
	rec := history.Record{
		RunID:        d.opts.RunID,
		Mode:         d.opts.Mode,
		Status:       history.StatusFailed,
		StartedAt:    startedAt,
		UpdatedAt:    time.Now(),
		FinishedAt:   time.Now(),
		ErrorMessage: runErr.Message,
		ErrorCode:    string(runErr.Code),
		Metadata:     d.eventLogMetadata(),
	}
	if err := d.opts.History.FailRun(ctx, rec); err != nil {
		d.log(ctx, "supervisor: failRun failed, falling back to minimal", "runId", d.opts.RunID, "err", err)
		if err := d.opts.History.MarkRunFailedMinimal(ctx, d.opts.RunID, runErr.Message); err != nil {
			d.log(ctx, "supervisor: markRunFailedMinimal also failed, run left running", "runId", d.opts.RunID, "err", err)
			return
		}
	}
	d.persistenceFinalized = true
}

// finalizeInterrupted records a consumer-disconnect finalization: no error
// event is sent to the (gone) consumer, and the run is persisted interrupted
// with the fixed disconnect message (§4.5, §7 kind 5).
func (d *Driver) finalizeInterrupted(ctx context.Context) {
	if d.persistenceFinalized || d.opts.History == nil {
		return
	}
	if err := d.opts.History.MarkRunFailedMinimal(ctx, d.opts.RunID, history.DisconnectMessage); err != nil {
		d.log(ctx, "supervisor: interrupted finalization failed, run left running", "runId", d.opts.RunID, "err", err)
		return
	}
	d.persistenceFinalized = true
}

// eventLogMetadata carries the persisted, cap-enforced event sequence
// (§4.7) into the history record's free-form Metadata field, since the
// abstract `run_event` append log (§6) has no dedicated column in this
// Store's narrower Go contract.
func (d *Driver) eventLogMetadata() map[string]any {
	if d.eventLog == nil || len(d.eventLog.events) == 0 {
		return nil
	}
	return map[string]any{"events": d.eventLog.events}
}

// buildDone assembles the terminal done record from the accumulated node
// bookkeeping, the orchestrator's own terminal Result, and the budget
// accountant's per-model usage (§4.6, §6).
func (d *Driver) buildDone(acc *runAccumulator, final event.Result, startedAt time.Time) *DoneRecord {
	usage := final.Usage
	if d.budget.observedTotalTokens > usage.TotalTokens {
		usage.TotalTokens = d.budget.observedTotalTokens
	}

	perNode := make(map[string]history.NodeMetric, len(acc.perNode))
	for id, m := range acc.perNode {
		tok := d.budget.perNodeUsage[id]
		perNode[id] = history.NodeMetric{
			Status:       m.status,
			DurationMs:   m.durationMs,
			InputTokens:  tok.InputTokens,
			OutputTokens: tok.OutputTokens,
			ToolUses:     m.toolUses,
		}
	}

	perModel := make(map[string]history.ModelUsage, len(d.budget.perModel))
	costInput := make(map[string]struct{ InputTokens, OutputTokens int }, len(d.budget.perModel))
	for canonical, modelAcc := range d.budget.perModel {
		perModel[modelAcc.displayID] = history.ModelUsage{InputTokens: modelAcc.input, OutputTokens: modelAcc.output}
		costInput[canonical] = struct{ InputTokens, OutputTokens int }{modelAcc.input, modelAcc.output}
	}

	var structuredOutput any
	if final.Metadata != nil {
		structuredOutput = final.Metadata["content"]
	}

	return &DoneRecord{
		RunID:            d.opts.RunID,
		Status:           string(final.Status),
		Text:             final.Text,
		StructuredOutput: structuredOutput,
		Usage:            usage,
		ExecutionTime:    time.Since(startedAt),
		NodeHistory:      acc.nodeHistory,
		ExecutionOrder:   acc.executionOrder,
		PerNode:          perNode,
		PerModelUsage:    perModel,
		ModelID:          d.opts.ModelID,
		EstimatedCostUSD: policy.EstimateCostUSD(costInput),
	}
}
