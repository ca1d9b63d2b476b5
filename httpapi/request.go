// Package httpapi implements the HTTP/SSE transport shell (§6): the
// POST /api/run streaming endpoint plus the /api/history and /api/telemetry
// read surface. It is a thin layer over supervisor.Driver — every resource
// guard lives in the core; this package's job is request validation,
// response shaping, and wiring an incoming request to a concrete
// orchestrator.
package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentrun/runtime/policy"
	"github.com/agentrun/runtime/schema"
)

// AgentRequest describes one agent slot in a run request.
type AgentRequest struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"systemPrompt"`
	Tools        []string `json:"tools"`
}

// EdgeRequest describes one graph edge in a run request.
type EdgeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RunRequest is the POST /api/run request body (§6).
type RunRequest struct {
	Mode                   string         `json:"mode"`
	Prompt                 string         `json:"prompt"`
	Agents                 []AgentRequest `json:"agents"`
	Edges                  []EdgeRequest  `json:"edges,omitempty"`
	MaxHandoffs            int            `json:"maxHandoffs,omitempty"`
	SessionID              string         `json:"sessionId,omitempty"`
	ModelID                string         `json:"modelId,omitempty"`
	ModelProfile           string         `json:"modelProfile,omitempty"`
	StructuredOutputSchema string         `json:"structuredOutputSchema,omitempty"`
	PresetKey              string         `json:"presetKey,omitempty"`
	SingleAgent            string         `json:"singleAgent,omitempty"`
	EntryPoint             string         `json:"entryPoint,omitempty"`
	EntryPoints            []string       `json:"entryPoints,omitempty"`
}

const (
	ModeSingle = "single"
	ModeSwarm  = "swarm"
	ModeGraph  = "graph"
)

// ValidationError is returned by Validate for a request that must be
// rejected before any work begins (§7 kind 1): HTTP 400, never reaching the
// driver.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks req against §6's request contract, clamping nothing
// itself — clamping of listing values happens in ParseListQuery and
// ParseStatsQuery, matching
// §7's rule that validation failures never reach the driver while harmless
// out-of-range values (limits, offsets) are adjusted rather than rejected.
func (req RunRequest) Validate() error {
	switch req.Mode {
	case ModeSingle, ModeSwarm, ModeGraph:
	default:
		return invalid("mode", "must be one of single, swarm, graph, got %q", req.Mode)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return invalid("prompt", "must not be empty")
	}
	if n := len(req.Agents); n < 1 || n > 5 {
		return invalid("agents", "must contain 1 to 5 entries, got %d", n)
	}
	for i, a := range req.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return invalid(fmt.Sprintf("agents[%d].name", i), "must not be empty")
		}
		if len(a.SystemPrompt) > 500 {
			return invalid(fmt.Sprintf("agents[%d].systemPrompt", i), "must be at most 500 characters, got %d", len(a.SystemPrompt))
		}
	}
	if req.Mode == ModeGraph && len(req.Edges) > 10 {
		return invalid("edges", "must contain at most 10 entries, got %d", len(req.Edges))
	}
	if req.Mode != ModeGraph && len(req.Edges) > 0 {
		return invalid("edges", "only valid when mode is graph")
	}
	if req.MaxHandoffs > 5 {
		return invalid("maxHandoffs", "must be at most 5, got %d", req.MaxHandoffs)
	}
	if len(req.SessionID) > 128 {
		return invalid("sessionId", "must be at most 128 characters, got %d", len(req.SessionID))
	}
	if req.StructuredOutputSchema != "" {
		if req.Mode != ModeSingle {
			return invalid("structuredOutputSchema", "only valid when mode is single")
		}
		if !schema.Valid(req.StructuredOutputSchema) {
			return invalid("structuredOutputSchema", "unrecognized contract %q (must be one of %v)", req.StructuredOutputSchema, schema.Names())
		}
	}
	if req.ModelID != "" && req.ModelProfile != "" {
		return invalid("modelId", "must not be set together with modelProfile")
	}
	return nil
}

// ListQuery is the validated/clamped parameter set for GET /api/history.
type ListQuery struct {
	Limit         int
	Offset        int
	AnomaliesOnly bool
	Sort          string
}

// ParseListQuery clamps limit to [1,200] (default 50), offset to >= 0, and
// sort to {recent, risk} (default recent) — never rejecting out-of-range
// values (§6).
func ParseListQuery(limit, offset int, anomaliesOnly bool, sort string) ListQuery {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	if sort != "risk" {
		sort = "recent"
	}
	return ListQuery{Limit: limit, Offset: offset, AnomaliesOnly: anomaliesOnly, Sort: sort}
}

// StatsQuery is the validated/clamped parameter for GET /api/history/stats.
type StatsQuery struct {
	Days int
}

// ParseStatsQuery clamps days to [1,365] (default 30).
func ParseStatsQuery(days int) StatsQuery {
	if days <= 0 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	return StatsQuery{Days: days}
}

// presetCeilings are the fixed wall-clock ceilings §6 assigns to specific
// preset keys or structured-output schemas, intersected with the global
// ceiling by policy.Resolved.Ceiling.
var presetCeilings = map[string]time.Duration{
	"orchestrator_factory":  120_000 * time.Millisecond,
	"orchestrator_contract": 180_000 * time.Millisecond,
	"agent_review_judge":    180_000 * time.Millisecond,
}

// agentReviewContract is the fixed post-run shape check the agent_review
// preset (or the agent_review_verdict_v1 schema) imposes (§6, §9 open
// question: keyed on the literal tool name "swarm", not assumed injected).
var agentReviewContract = &policy.Contract{
	RequiredToolCalls: map[string]int{"swarm": 2},
	MaxNodeStarts:      20,
}

// ResolvePreset builds the policy.Preset for a request's presetKey and
// structuredOutputSchema, per §6's preset-specific ceiling table.
func ResolvePreset(presetKey, structuredOutputSchema string) *policy.Preset {
	var ceiling time.Duration
	var contract *policy.Contract

	if c, ok := presetCeilings[presetKey]; ok {
		ceiling = c
	}
	if presetKey == "agent_review_judge" || structuredOutputSchema == string(schema.AgentReviewVerdictV1) {
		if c := presetCeilings["agent_review_judge"]; ceiling == 0 || c < ceiling {
			ceiling = c
		}
		contract = agentReviewContract
	}
	if ceiling == 0 && contract == nil {
		return nil
	}
	return &policy.Preset{WallClockCeil: ceiling, Contract: contract}
}
