// Package history defines the HistoryStore capability: durable tracking of
// run lifecycle transitions, used for crash recovery and the /api/history
// surface (§4.8).
package history

import (
	"context"
	"errors"
	"time"
)

type (
	// Status is the coarse-grained lifecycle state of a run.
	Status string

	// Record captures persistent metadata for a single run execution. Each
	// record is keyed by RunID and is upserted at every lifecycle
	// transition; terminal transitions (complete/fail) are idempotent.
	Record struct {
		RunID          string
		Mode           string
		Status         Status
		StartedAt      time.Time
		UpdatedAt      time.Time
		FinishedAt     time.Time
		Text           string
		StructuredOutput any
		ExecutionTime  time.Duration
		NodeHistory    []string
		ExecutionOrder []string
		PerNode        map[string]NodeMetric
		PerModelUsage  map[string]ModelUsage
		ModelID        string
		EstimatedCostUSD float64
		ErrorMessage   string
		ErrorCode      string
		Labels         map[string]string
		Metadata       map[string]any
	}

	// NodeMetric summarizes a single node's contribution to a run, used to
	// populate the `perNode` field of the terminal done record and the
	// run_node_metric table.
	NodeMetric struct {
		Status       string
		DurationMs   int64
		InputTokens  int
		OutputTokens int
		ToolUses     int
	}

	// ModelUsage accumulates token counts attributed to one model id, used
	// for estimatedCostUsd and the `perModelUsage` field.
	ModelUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// Store persists run metadata across the full lifecycle: creation,
	// successful/failed completion, reduced-schema fallback finalization,
	// and crash recovery at process start.
	Store interface {
		// StartRun records a run entering the running state. Called once
		// per run, before the orchestrator begins streaming.
		StartRun(ctx context.Context, record Record) error

		// CompleteRun records a full terminal success, including the
		// aggregated usage/cost/node-history fields. Idempotent on RunID.
		CompleteRun(ctx context.Context, record Record) error

		// FailRun records a full terminal failure, including the error
		// message/code. Idempotent on RunID.
		FailRun(ctx context.Context, record Record) error

		// MarkRunCompletedMinimal performs a reduced-schema success write,
		// used when CompleteRun's full write failed partway through.
		MarkRunCompletedMinimal(ctx context.Context, runID string) error

		// MarkRunFailedMinimal performs a reduced-schema failure write,
		// used when FailRun's full write failed partway through.
		MarkRunFailedMinimal(ctx context.Context, runID string, message string) error

		// RecoverRunningRuns transitions every run still in StatusRunning
		// to StatusInterrupted with a fixed recovery message. Called once
		// at process startup, before any new run is accepted.
		RecoverRunningRuns(ctx context.Context) (int, error)

		// Load retrieves a single run's record by id.
		Load(ctx context.Context, runID string) (Record, error)

		// List returns runs for the /api/history listing endpoint. The
		// in-memory store orders them by opts.Sort; the Mongo store always
		// orders them most-recent-first.
		List(ctx context.Context, opts ListOptions) ([]Record, error)
	}

	// ListOptions constrains an /api/history listing query.
	ListOptions struct {
		Limit         int
		Offset        int
		AnomaliesOnly bool
		Sort          string // "recent" or "risk"
	}
)

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// ErrNotFound indicates no record exists for the requested run id.
var ErrNotFound = errors.New("history: run not found")

// RecoveryMessage is the fixed reason attached to runs recovered at
// startup (§4.8 "Startup recovery").
const RecoveryMessage = "Process restarted before run finalized."

// DisconnectMessage is the fixed reason attached to runs finalized as
// interrupted because the SSE consumer disconnected mid-stream.
const DisconnectMessage = "Client disconnected before run finalized."
