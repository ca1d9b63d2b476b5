// Package basic provides a policy.Engine that applies optional allow/block
// tag and tool-name filters and reacts to retry hints, adapted from the
// teacher's features/policy/basic engine to this module's plain string tool
// identifiers (agents here have no fully qualified tool ids).
package basic

import (
	"context"
	"strings"

	"github.com/agentrun/runtime/policy"
)

// Options configures the basic policy engine.
type Options struct {
	AllowTags         []string
	BlockTags         []string
	AllowTools        []string
	BlockTools        []string
	DisableRetryHints bool
	Label             string
}

// Engine implements policy.Engine with allow/block filtering and
// retry-hint-aware tool restriction.
type Engine struct {
	allowTags  map[string]struct{}
	blockTags  map[string]struct{}
	allowTools map[string]struct{}
	blockTools map[string]struct{}
	honorHints bool
	label      string
}

// New builds an Engine from the supplied options.
func New(opts Options) *Engine {
	label := strings.TrimSpace(opts.Label)
	if label == "" {
		label = "basic"
	}
	return &Engine{
		allowTags:  toSet(opts.AllowTags),
		blockTags:  toSet(opts.BlockTags),
		allowTools: toSet(opts.AllowTools),
		blockTools: toSet(opts.BlockTools),
		honorHints: !opts.DisableRetryHints,
		label:      label,
	}
}

// Decide evaluates the tool allowlist and caps for the run.
func (e *Engine) Decide(_ context.Context, input policy.Input) (policy.Decision, error) {
	meta := indexMetadata(input.Tools)
	candidates := candidateNames(input, meta)
	allowed := e.filterAllowed(candidates, meta)
	caps := input.RemainingCaps

	labels := map[string]string{"policy_engine": e.label}
	if e.honorHints && input.RetryHint != nil {
		allowed = e.applyRetryHint(allowed, meta, input.RetryHint)
		labels["policy_hint"] = string(input.RetryHint.Reason)
	}

	return policy.Decision{
		AllowedTools: allowed,
		Caps:         caps,
		Labels:       labels,
		Metadata:     map[string]any{"engine": e.label},
	}, nil
}

func (e *Engine) filterAllowed(names []string, meta map[string]policy.ToolMetadata) []string {
	filtered := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		md, ok := meta[name]
		if !ok {
			continue
		}
		if !e.isAllowed(md) {
			continue
		}
		filtered = append(filtered, name)
		seen[name] = struct{}{}
	}
	return filtered
}

func (e *Engine) isAllowed(md policy.ToolMetadata) bool {
	if len(e.blockTools) > 0 {
		if _, blocked := e.blockTools[md.Name]; blocked {
			return false
		}
	}
	if len(e.blockTags) > 0 {
		for _, tag := range md.Tags {
			if _, blocked := e.blockTags[tag]; blocked {
				return false
			}
		}
	}
	if len(e.allowTools) > 0 {
		_, ok := e.allowTools[md.Name]
		return ok
	}
	if len(e.allowTags) > 0 {
		for _, tag := range md.Tags {
			if _, ok := e.allowTags[tag]; ok {
				return true
			}
		}
		return false
	}
	return true
}

func (e *Engine) applyRetryHint(allowed []string, meta map[string]policy.ToolMetadata, hint *policy.RetryHint) []string {
	if hint == nil || hint.Tool == "" {
		return allowed
	}
	switch {
	case hint.RestrictToTool:
		if _, ok := meta[hint.Tool]; ok {
			return []string{hint.Tool}
		}
		return nil
	case hint.Reason == policy.RetryReasonToolUnavailable:
		return removeName(allowed, hint.Tool)
	default:
		return allowed
	}
}

func candidateNames(input policy.Input, meta map[string]policy.ToolMetadata) []string {
	if len(input.Requested) > 0 {
		out := make([]string, len(input.Requested))
		copy(out, input.Requested)
		return out
	}
	out := make([]string, 0, len(meta))
	for name := range meta {
		out = append(out, name)
	}
	return out
}

func removeName(names []string, target string) []string {
	filtered := names[:0]
	for _, name := range names {
		if name == target {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered
}

func indexMetadata(list []policy.ToolMetadata) map[string]policy.ToolMetadata {
	index := make(map[string]policy.ToolMetadata, len(list))
	for _, md := range list {
		index[md.Name] = md
	}
	return index
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
