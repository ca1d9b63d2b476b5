package supervisor

import "github.com/agentrun/runtime/policy"

// contractTracker counts the facts a preset's Contract checks at the end of
// a run (§4.7 "Preset and schema-specific ceilings"): named coordination-tool
// invocations and node-start events. The open question of §9 is resolved
// here by keying strictly on the tool name the contract names — "swarm" for
// the agent_review preset — rather than assuming it is auto-injected.
type contractTracker struct {
	toolCalls  map[string]int
	nodeStarts int
}

func newContractTracker() *contractTracker {
	return &contractTracker{toolCalls: map[string]int{}}
}

func (t *contractTracker) observeToolUse(name string) { t.toolCalls[name]++ }

func (t *contractTracker) observeNodeStart() { t.nodeStarts++ }

// check evaluates c (nil means no contract bound to this run) against the
// tracked facts, returning a *RunError on violation.
func (t *contractTracker) check(c *policy.Contract) *RunError {
	if c == nil {
		return nil
	}
	for tool, want := range c.RequiredToolCalls {
		if got := t.toolCalls[tool]; got != want {
			return failf(CodeAgentReviewContract, "expected %d calls to %q, observed %d", want, tool, got)
		}
	}
	if c.MaxNodeStarts > 0 && t.nodeStarts > c.MaxNodeStarts {
		return failf(CodeAgentReviewNodeBudget, "node starts %d exceed contract limit %d", t.nodeStarts, c.MaxNodeStarts)
	}
	return nil
}

func (d *Driver) checkContract() *RunError {
	return d.contract.check(d.opts.Policy.Contract)
}
