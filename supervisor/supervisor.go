// Package supervisor implements the run driver loop (§4.5-§4.8): the
// component that wraps whichever orchestrator a request selected (single,
// swarm, or graph) and enforces everything the orchestrator core itself
// knows nothing about — wall-clock and idle timeouts, token-budget
// accounting, tool-use policy, per-node persistence caps, SSE delivery, and
// history finalization.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/history"
	"github.com/agentrun/runtime/hooks"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/policy"
	"github.com/agentrun/runtime/stream"
	"github.com/agentrun/runtime/telemetry"
)

// FailureCode enumerates the terminal error codes a run can surface (§6).
type FailureCode string

const (
	CodeTokenBudgetExceeded       FailureCode = "TOKEN_BUDGET_EXCEEDED"
	CodeRunTimeoutExceeded        FailureCode = "RUN_TIMEOUT_EXCEEDED"
	CodeRunIdleTimeoutExceeded    FailureCode = "RUN_IDLE_TIMEOUT_EXCEEDED"
	CodeToolPolicyExceeded        FailureCode = "TOOL_POLICY_EXCEEDED"
	CodeAgentReviewContract       FailureCode = "AGENT_REVIEW_CONTRACT_VIOLATION"
	CodeAgentReviewNodeBudget     FailureCode = "AGENT_REVIEW_NODE_BUDGET_EXCEEDED"
	CodeClientDisconnected        FailureCode = "CLIENT_DISCONNECTED"
	CodeModelStreamIncomplete     FailureCode = "MODEL_STREAM_INCOMPLETE"
)

// RunError pairs a FailureCode with a human-readable message, and is the
// only error type the driver loop produces.
type RunError struct {
	Code    FailureCode
	Message string
}

func (e *RunError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func failf(code FailureCode, format string, args ...any) *RunError {
	return &RunError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Orchestrator is the contract every topology (single, swarm, graph)
// satisfies, letting the driver stay topology-agnostic.
type Orchestrator interface {
	Stream(ctx context.Context, task any) (<-chan event.Event, func() event.Result)
	Interrupts() *interrupt.State
	Resume(ctx context.Context, req interrupt.Request) (<-chan event.Event, func() event.Result)
}

// DoneRecord is the `event: done` terminal payload (§6).
type DoneRecord struct {
	RunID            string                    `json:"runId"`
	Status           string                    `json:"status"`
	Text             string                    `json:"text"`
	StructuredOutput any                       `json:"structuredOutput,omitempty"`
	Usage            event.Usage               `json:"usage"`
	ExecutionTime    time.Duration             `json:"executionTime"`
	NodeHistory      []string                  `json:"nodeHistory"`
	ExecutionOrder   []string                  `json:"executionOrder"`
	PerNode          map[string]history.NodeMetric `json:"perNode"`
	PerModelUsage    map[string]history.ModelUsage `json:"perModelUsage"`
	ModelID          string                    `json:"modelId,omitempty"`
	EstimatedCostUSD float64                   `json:"estimatedCostUsd"`
}

// ErrorRecord is the `event: error` terminal payload (§6).
type ErrorRecord struct {
	RunID   string      `json:"runId"`
	Message string      `json:"message"`
	Code    FailureCode `json:"code,omitempty"`
}

// Limits groups every resource ceiling the driver enforces, normally sourced
// from config.Config plus a resolved policy.Preset (§4.5-§4.7).
type Limits struct {
	MaxRunWallClock                 time.Duration
	MaxStreamIdle                   time.Duration
	MaxRunTotalTokens               int
	MaxPersistedStreamEventsPerNode int
}

// Options configures one Driver invocation.
type Options struct {
	RunID   string
	Mode    string
	Limits  Limits
	Policy  policy.Resolved
	History history.Store
	Bus     hooks.Bus
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
	// ModelID is the model the run's curated-resolution step chose,
	// reported on the terminal done record and used for cost estimation.
	ModelID string
}

// Driver runs one orchestrator invocation to completion, applying every
// guard in §4.5-§4.8. One Driver serves exactly one run.
type Driver struct {
	opts     Options
	budget   *budgetAccountant
	tools    *policy.Counter
	contract *contractTracker
	eventLog *eventLog

	// persistenceFinalized implements §4.8's exactly-once-terminal
	// invariant: once a terminal history write succeeds, no further
	// finalization call does anything.
	persistenceFinalized bool
}

// NewDriver builds a Driver for one run.
func NewDriver(opts Options) *Driver {
	if opts.Limits.MaxStreamIdle <= 0 {
		opts.Limits.MaxStreamIdle = 60 * time.Second
	}
	if opts.Limits.MaxRunWallClock <= 0 {
		opts.Limits.MaxRunWallClock = 300 * time.Second
	}
	if opts.Limits.MaxPersistedStreamEventsPerNode <= 0 {
		opts.Limits.MaxPersistedStreamEventsPerNode = 120
	}
	return &Driver{
		opts:     opts,
		budget:   newBudgetAccountant(opts.Limits.MaxRunTotalTokens),
		tools:    policy.NewCounter(opts.Policy),
		contract: newContractTracker(),
	}
}

// Run drives orch to completion, writing every event to sw (if non-nil) and
// finalizing the run's history record. It returns the terminal DoneRecord on
// success, or a *RunError (wrapping a FailureCode) on failure. A consumer
// disconnect returns (nil, nil): the caller sent no terminal event.
func (d *Driver) Run(ctx context.Context, orch Orchestrator, task any, sw *stream.Writer) (*DoneRecord, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startedAt := time.Now()
	if err := d.startHistory(ctx, task); err != nil {
		d.log(ctx, "supervisor: start run history write failed", "runId", d.opts.RunID, "err", err)
	}

	events, await := orch.Stream(runCtx, task)

	result, runErr := d.drive(runCtx, cancel, events, sw, startedAt)
	if runErr != nil {
		if runErr.Code == CodeClientDisconnected {
			d.finalizeInterrupted(ctx)
			return nil, nil
		}
		d.finalizeFailure(ctx, runErr, startedAt)
		if sw != nil {
			_ = sw.Record("error", ErrorRecord{RunID: d.opts.RunID, Message: runErr.Error(), Code: runErr.Code})
		}
		return nil, runErr
	}

	final := await()
	if final.Status == event.NodeStatusFailed {
		rerr := failf(CodeModelStreamIncomplete, "run ended without a terminal result")
		d.finalizeFailure(ctx, rerr, startedAt)
		if sw != nil {
			_ = sw.Record("error", ErrorRecord{RunID: d.opts.RunID, Message: rerr.Error(), Code: rerr.Code})
		}
		return nil, rerr
	}

	if violation := d.checkContract(); violation != nil {
		d.finalizeFailure(ctx, violation, startedAt)
		if sw != nil {
			_ = sw.Record("error", ErrorRecord{RunID: d.opts.RunID, Message: violation.Error(), Code: violation.Code})
		}
		return nil, violation
	}

	done := d.buildDone(result, final, startedAt)
	d.finalizeSuccess(ctx, done, startedAt)
	if sw != nil {
		_ = sw.Record("done", done)
	}
	return done, nil
}

func (d *Driver) log(ctx context.Context, msg string, kv ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Warn(ctx, msg, kv...)
	}
}
