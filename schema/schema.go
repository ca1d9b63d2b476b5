// Package schema validates a single-agent run's structured output against
// one of the three named JSON Schema contracts a caller may request (§6):
// article_summary_v1, orchestration_decision_v1, agent_review_verdict_v1.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Name identifies one of the three structured-output contracts a run
// request may name. Structured output is only valid when mode == single.
type Name string

const (
	ArticleSummaryV1        Name = "article_summary_v1"
	OrchestrationDecisionV1 Name = "orchestration_decision_v1"
	AgentReviewVerdictV1    Name = "agent_review_verdict_v1"
)

// Valid reports whether name is one of the three recognized contracts.
func Valid(name string) bool {
	switch Name(name) {
	case ArticleSummaryV1, OrchestrationDecisionV1, AgentReviewVerdictV1:
		return true
	default:
		return false
	}
}

// registry lazily compiles and caches each named schema the first time it is
// validated against; compilation is deterministic and safe to share across
// runs, so one process-wide registry suffices.
type registry struct {
	mu      sync.Mutex
	schemas map[Name]*jsonschema.Schema
}

var global = &registry{schemas: map[Name]*jsonschema.Schema{}}

func (r *registry) compiled(name Name) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sch, ok := r.schemas[name]; ok {
		return sch, nil
	}
	source, ok := definitions[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown contract %q", name)
	}
	c := jsonschema.NewCompiler()
	url := string(name) + ".json"
	var doc any
	if err := json.Unmarshal([]byte(source), &doc); err != nil {
		return nil, fmt.Errorf("schema: decode %s definition: %w", name, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema: register %s: %w", name, err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	r.schemas[name] = sch
	return sch, nil
}

// ValidationError wraps the underlying jsonschema validation failure with
// the contract name it was checked against.
type ValidationError struct {
	Schema Name
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("structured output does not conform to %s: %s", e.Schema, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validate checks that output conforms to the named contract. output is an
// already-decoded JSON value (map[string]any, []any, or a scalar), matching
// how an agent's structured-output tool call arrives off the model adapter.
func Validate(name Name, output any) error {
	sch, err := global.compiled(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(output); err != nil {
		return &ValidationError{Schema: name, Err: err}
	}
	return nil
}

// ValidateJSON decodes raw and validates it against the named contract.
func ValidateJSON(name Name, raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("schema: decode output: %w", err)
	}
	return Validate(name, v)
}

// Names returns the recognized contract names, for request validation
// error messages.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, string(name))
	}
	return out
}

// ParseName converts a caller-supplied schema string into a Name, rejecting
// anything outside the fixed set.
func ParseName(raw string) (Name, error) {
	trimmed := strings.TrimSpace(raw)
	if !Valid(trimmed) {
		return "", fmt.Errorf("schema: unrecognized structuredOutputSchema %q (must be one of %v)", raw, Names())
	}
	return Name(trimmed), nil
}
