package supervisor

import "github.com/agentrun/runtime/policy"

// perModelAccumulator tracks token usage for one canonical model id, keeping
// the first-seen display form for reporting (§4.6 "the first-seen display
// form is retained").
type perModelAccumulator struct {
	displayID string
	input     int
	output    int
}

// budgetAccountant implements the counter-delta and run-scoped-max rules of
// §4.6: an observedTotalTokens counter, a per-node accumulator, a per-model
// accumulator, and the previous-counter state the delta rule needs.
type budgetAccountant struct {
	limit int

	observedTotalTokens int

	perNodePrevious map[string]int
	perNodeUsage    map[string]nodeTokenUsage

	perModel map[string]*perModelAccumulator
}

// nodeTokenUsage mirrors history.NodeMetric's token fields; kept as its
// own type since the accountant has no business knowing about duration or
// tool-use counts. Folded into a history.NodeMetric when the done record is
// built.
type nodeTokenUsage struct {
	InputTokens  int
	OutputTokens int
}

func newBudgetAccountant(limit int) *budgetAccountant {
	return &budgetAccountant{
		limit:           limit,
		perNodePrevious: map[string]int{},
		perNodeUsage:    map[string]nodeTokenUsage{},
		perModel:        map[string]*perModelAccumulator{},
	}
}

// observeNode applies the counter-delta rule (§4.6) for a per-node stream
// event's reported usage, keyed by the cumulative per-request total the
// provider reports for that node so far.
func (b *budgetAccountant) observeNode(nodeID string, snapshot tokenSnapshot) {
	previous := b.perNodePrevious[nodeID]
	current := snapshot.TotalTokens

	var delta int
	if current >= previous {
		delta = current - previous
		b.perNodePrevious[nodeID] = current
	} else {
		delta = current
		b.perNodePrevious[nodeID] = previous + current
	}

	usage := b.perNodeUsage[nodeID]
	// Attribute the delta proportionally between input/output using this
	// snapshot's own split, since only the combined counter is tracked for
	// reset detection.
	if snapshot.TotalTokens > 0 {
		usage.InputTokens += int(float64(delta) * float64(snapshot.InputTokens) / float64(snapshot.TotalTokens))
		usage.OutputTokens += delta - int(float64(delta)*float64(snapshot.InputTokens)/float64(snapshot.TotalTokens))
	} else {
		usage.InputTokens += snapshot.InputTokens
		usage.OutputTokens += snapshot.OutputTokens
	}
	b.perNodeUsage[nodeID] = usage

	b.observedTotalTokens += delta
}

// observeModel attributes usage to a canonical model id, per §4.6's
// model-id normalization.
func (b *budgetAccountant) observeModel(modelID string, input, output int) {
	canonical := policy.Canonicalize(modelID)
	acc, ok := b.perModel[canonical]
	if !ok {
		acc = &perModelAccumulator{displayID: modelID}
		b.perModel[canonical] = acc
	}
	acc.input += input
	acc.output += output
}

// observeRunScoped applies the max-semantics rule for a run-scoped terminal
// total (§4.6 "Scope distinction").
func (b *budgetAccountant) observeRunScoped(total int) {
	if total > b.observedTotalTokens {
		b.observedTotalTokens = total
	}
}

// exceeded reports whether the current observed total breaches the budget,
// along with the breaching total for the error message.
func (b *budgetAccountant) exceeded() (int, bool) {
	if b.limit <= 0 {
		return b.observedTotalTokens, false
	}
	return b.observedTotalTokens, b.observedTotalTokens > b.limit
}

// tokenSnapshot is the supervisor's internal alias for the values the event
// package's extractor surfaces, kept local so budget.go has no event import
// beyond what observeNode's caller already resolved.
type tokenSnapshot struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}
