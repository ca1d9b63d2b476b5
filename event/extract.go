package event

// The underlying agent stream carries provider-shaped deltas with no shared
// schema. Rather than modeling every provider's event shape, the core probes
// for the handful of facts it needs via small, single-purpose extractors.
// Each returns ok=false when the probed value isn't present.

// ToolUseStart is the fact the tool-use guard needs out of a stream delta.
type ToolUseStart struct {
	ToolUseID string
	ToolName  string
}

// TokenUsageSnapshot is the fact the budget accountant needs out of a stream
// delta or terminal aggregated result.
type TokenUsageSnapshot struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ExtractEventNodeID probes an arbitrary inner payload for a node id field.
func ExtractEventNodeID(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["nodeId"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ExtractToolUseStart probes an arbitrary inner payload for a tool-use-start
// marker, however deeply it is nested under a stream delta.
func ExtractToolUseStart(v any) (ToolUseStart, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return ToolUseStart{}, false
	}
	if tu, ok := m["toolUse"].(map[string]any); ok {
		return toolUseFrom(tu)
	}
	return toolUseFrom(m)
}

func toolUseFrom(m map[string]any) (ToolUseStart, bool) {
	id, idOK := m["toolUseId"].(string)
	name, nameOK := m["toolName"].(string)
	if !idOK || !nameOK || id == "" || name == "" {
		return ToolUseStart{}, false
	}
	return ToolUseStart{ToolUseID: id, ToolName: name}, true
}

// ExtractModelID probes an arbitrary inner payload for the model id that
// produced it, used to maintain the per-node-id -> model-id binding.
func ExtractModelID(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["modelId"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ExtractTokenUsageSnapshot probes an arbitrary inner payload for a usage
// record shaped like {inputTokens, outputTokens, totalTokens}.
func ExtractTokenUsageSnapshot(v any) (TokenUsageSnapshot, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return TokenUsageSnapshot{}, false
	}
	usage, ok := m["usage"].(map[string]any)
	if !ok {
		usage = m
	}
	in, inOK := numField(usage, "inputTokens")
	out, outOK := numField(usage, "outputTokens")
	if !inOK && !outOK {
		return TokenUsageSnapshot{}, false
	}
	total, totalOK := numField(usage, "totalTokens")
	if !totalOK {
		total = in + out
	}
	return TokenUsageSnapshot{InputTokens: in, OutputTokens: out, TotalTokens: total}, true
}

func numField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
