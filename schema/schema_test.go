package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentrun/runtime/schema"
)

func TestValidArticleSummary(t *testing.T) {
	out := map[string]any{
		"title":     "Go 1.25 released",
		"summary":   "The Go team shipped another release with minor runtime tweaks.",
		"keyPoints": []any{"faster GC", "smaller binaries"},
		"sentiment": "positive",
	}
	require.NoError(t, schema.Validate(schema.ArticleSummaryV1, out))
}

func TestArticleSummaryMissingRequiredField(t *testing.T) {
	out := map[string]any{
		"title": "Go 1.25 released",
	}
	err := schema.Validate(schema.ArticleSummaryV1, out)
	require.Error(t, err)
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, schema.ArticleSummaryV1, verr.Schema)
}

func TestArticleSummaryRejectsAdditionalProperties(t *testing.T) {
	out := map[string]any{
		"title":     "t",
		"summary":   "s",
		"keyPoints": []any{"a"},
		"extra":     "not allowed",
	}
	require.Error(t, schema.Validate(schema.ArticleSummaryV1, out))
}

func TestOrchestrationDecisionHandoffRequiresTarget(t *testing.T) {
	bad := map[string]any{
		"decision":  "handoff",
		"reasoning": "needs the billing specialist",
	}
	require.Error(t, schema.Validate(schema.OrchestrationDecisionV1, bad))

	good := map[string]any{
		"decision":    "handoff",
		"reasoning":   "needs the billing specialist",
		"targetAgent": "billing",
		"confidence":  0.9,
	}
	require.NoError(t, schema.Validate(schema.OrchestrationDecisionV1, good))
}

func TestOrchestrationDecisionCompleteDoesNotRequireTarget(t *testing.T) {
	out := map[string]any{
		"decision":  "complete",
		"reasoning": "task is done",
	}
	require.NoError(t, schema.Validate(schema.OrchestrationDecisionV1, out))
}

func TestAgentReviewVerdictScoreOutOfRange(t *testing.T) {
	out := map[string]any{
		"verdict":  "approve",
		"score":    11,
		"comments": "looks fine",
	}
	require.Error(t, schema.Validate(schema.AgentReviewVerdictV1, out))
}

func TestAgentReviewVerdictValid(t *testing.T) {
	out := map[string]any{
		"verdict":  "revise",
		"score":    6.5,
		"comments": "needs tests",
	}
	require.NoError(t, schema.Validate(schema.AgentReviewVerdictV1, out))
}

func TestValidateJSON(t *testing.T) {
	raw := []byte(`{"verdict":"reject","score":1,"comments":"no"}`)
	require.NoError(t, schema.ValidateJSON(schema.AgentReviewVerdictV1, raw))
}

func TestValidateJSONMalformed(t *testing.T) {
	require.Error(t, schema.ValidateJSON(schema.AgentReviewVerdictV1, []byte(`not json`)))
}

func TestParseName(t *testing.T) {
	name, err := schema.ParseName("article_summary_v1")
	require.NoError(t, err)
	require.Equal(t, schema.ArticleSummaryV1, name)

	_, err = schema.ParseName("unknown_v1")
	require.Error(t, err)
}

func TestNamesReturnsAllThree(t *testing.T) {
	require.ElementsMatch(t, []string{
		"article_summary_v1", "orchestration_decision_v1", "agent_review_verdict_v1",
	}, schema.Names())
}

func TestValidHelper(t *testing.T) {
	require.True(t, schema.Valid("article_summary_v1"))
	require.False(t, schema.Valid("bogus"))
}
