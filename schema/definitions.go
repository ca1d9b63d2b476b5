package schema

// definitions holds the JSON Schema source for each of the three
// structured-output contracts a single-agent run may request (§6). The
// shapes are deliberately small and close to what a summarization,
// routing-decision, or review-judging agent would naturally emit.
var definitions = map[Name]string{
	ArticleSummaryV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["title", "summary", "keyPoints"],
		"additionalProperties": false,
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"summary": {"type": "string", "minLength": 1, "maxLength": 2000},
			"keyPoints": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"minItems": 1,
				"maxItems": 10
			},
			"sentiment": {"type": "string", "enum": ["positive", "neutral", "negative"]}
		}
	}`,
	OrchestrationDecisionV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["decision", "reasoning"],
		"additionalProperties": false,
		"properties": {
			"decision": {"type": "string", "enum": ["handoff", "complete", "escalate"]},
			"targetAgent": {"type": "string"},
			"reasoning": {"type": "string", "minLength": 1, "maxLength": 2000},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"if": {"properties": {"decision": {"const": "handoff"}}},
		"then": {"required": ["decision", "reasoning", "targetAgent"]}
	}`,
	AgentReviewVerdictV1: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["verdict", "score", "comments"],
		"additionalProperties": false,
		"properties": {
			"verdict": {"type": "string", "enum": ["approve", "revise", "reject"]},
			"score": {"type": "number", "minimum": 0, "maximum": 10},
			"comments": {"type": "string", "minLength": 1, "maxLength": 2000}
		}
	}`,
}
