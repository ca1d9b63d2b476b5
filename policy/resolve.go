package policy

import (
	"fmt"
	"time"
)

// Defaults mirrors the configuration surface of §6: the global tool-use caps
// the supervisor falls back to absent any preset or per-run override.
type Defaults struct {
	MaxTotalToolUses    int
	DefaultPerToolLimit int
}

// ModeBlocks names tools forbidden outright in a given orchestration mode
// (e.g. the swarm's coordination tool has no meaning in single-agent mode).
type ModeBlocks map[string][]string

// Preset names a per-run policy overlay: additional blocked tools, tighter
// per-tool limits, and an optional wall-clock ceiling intersected with the
// global one (§4.7 "Preset and schema-specific ceilings").
type Preset struct {
	BlockedTools  []string
	PerToolLimits map[string]int
	WallClockCeil time.Duration
	Contract      *Contract
}

// Contract is a preset's post-run shape check (§4.7): e.g. a judge workflow
// requiring exactly N calls to a named tool and at most M node starts.
type Contract struct {
	RequiredToolCalls map[string]int
	MaxNodeStarts     int
}

// Override is the caller-supplied, per-run policy adjustment from the HTTP
// request body.
type Override struct {
	BlockedTools  []string
	PerToolLimits map[string]int
	MaxTotalUses  int
}

// Resolved is the §4.7 policy-resolution product:
// {maxTotalToolUses, defaultPerToolLimit, perToolLimits, blockedTools}.
type Resolved struct {
	MaxTotalToolUses    int
	DefaultPerToolLimit int
	PerToolLimits       map[string]int
	BlockedTools        map[string]struct{}
	WallClockCeiling    time.Duration
	Contract            *Contract
}

// Resolve combines defaults, per-mode blocks, an optional preset, and an
// optional per-run override into a single Resolved policy, per §4.7's
// resolution order: defaults, then mode blocks, then preset, then override.
func Resolve(defaults Defaults, mode string, modeBlocks ModeBlocks, preset *Preset, override *Override) Resolved {
	r := Resolved{
		MaxTotalToolUses:    defaults.MaxTotalToolUses,
		DefaultPerToolLimit: defaults.DefaultPerToolLimit,
		PerToolLimits:       map[string]int{},
		BlockedTools:        map[string]struct{}{},
	}

	for _, name := range modeBlocks[mode] {
		r.BlockedTools[name] = struct{}{}
	}

	if preset != nil {
		for _, name := range preset.BlockedTools {
			r.BlockedTools[name] = struct{}{}
		}
		for name, limit := range preset.PerToolLimits {
			r.PerToolLimits[name] = limit
		}
		r.WallClockCeiling = preset.WallClockCeil
		r.Contract = preset.Contract
	}

	if override != nil {
		for _, name := range override.BlockedTools {
			r.BlockedTools[name] = struct{}{}
		}
		for name, limit := range override.PerToolLimits {
			r.PerToolLimits[name] = limit
		}
		if override.MaxTotalUses > 0 {
			r.MaxTotalToolUses = override.MaxTotalUses
		}
	}

	return r
}

// LimitFor returns the per-tool use limit for name: the resolved per-tool
// override if one exists, otherwise the resolved default.
func (r Resolved) LimitFor(name string) int {
	if limit, ok := r.PerToolLimits[name]; ok {
		return limit
	}
	return r.DefaultPerToolLimit
}

// Blocked reports whether name is stripped from every agent's tool list.
func (r Resolved) Blocked(name string) bool {
	_, ok := r.BlockedTools[name]
	return ok
}

// StripBlocked returns tools with every blocked entry removed, preserving
// order. Called once per agent before the run begins (§4.7).
func StripBlocked(tools []string, r Resolved) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		if !r.Blocked(t) {
			out = append(out, t)
		}
	}
	return out
}

// Ceiling intersects the global wall-clock ceiling with the resolved
// preset's, if any (§5 "Deadline arithmetic": min(globalCeiling,
// presetCeiling, schemaCeiling)).
func (r Resolved) Ceiling(global time.Duration) time.Duration {
	if r.WallClockCeiling <= 0 || r.WallClockCeiling >= global {
		return global
	}
	return r.WallClockCeiling
}

// ExceededError is returned when a tool-use event pushes a counter past its
// limit (§4.7 TOOL_POLICY_EXCEEDED).
type ExceededError struct {
	Tool  string
	Count int
	Limit int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("TOOL_POLICY_EXCEEDED(%s: %d/%d)", e.Tool, e.Count, e.Limit)
}

// Counter tracks per-run and per-tool tool-use counts against a Resolved
// policy, deduplicating by tool-use id (§4.7 "Per-event check").
type Counter struct {
	resolved Resolved
	seen     map[string]struct{}
	total    int
	perTool  map[string]int
}

// NewCounter builds a Counter enforcing the given resolved policy.
func NewCounter(resolved Resolved) *Counter {
	return &Counter{resolved: resolved, seen: map[string]struct{}{}, perTool: map[string]int{}}
}

// Observe registers one tool-use-start occurrence. Returns an *ExceededError
// if either the total or the per-tool limit is now exceeded; repeat
// observations of the same toolUseID are ignored entirely.
func (c *Counter) Observe(toolUseID, toolName string) error {
	if toolUseID != "" {
		if _, ok := c.seen[toolUseID]; ok {
			return nil
		}
		c.seen[toolUseID] = struct{}{}
	}
	c.total++
	c.perTool[toolName]++

	if c.resolved.MaxTotalToolUses > 0 && c.total > c.resolved.MaxTotalToolUses {
		return &ExceededError{Tool: toolName, Count: c.total, Limit: c.resolved.MaxTotalToolUses}
	}
	if limit := c.resolved.LimitFor(toolName); limit > 0 && c.perTool[toolName] > limit {
		return &ExceededError{Tool: toolName, Count: c.perTool[toolName], Limit: limit}
	}
	return nil
}

// ToolCount returns how many times name has been observed so far.
func (c *Counter) ToolCount(name string) int { return c.perTool[name] }

// Total returns the run-wide tool-use count observed so far.
func (c *Counter) Total() int { return c.total }
