package supervisor

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCounterDeltaMonotonicityProperty verifies the §4.6 counter-delta rule:
// for any reported counter sequence, observedTotalTokens equals the sum of
// deltas where a non-dropping counter adds current-previous (previous
// becomes current) and a drop adds current (previous grows by current).
// For a non-decreasing sequence c1..cn that sum is cn.
func TestCounterDeltaMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("observedTotalTokens matches the counter-delta law for any reported sequence", prop.ForAll(
		func(counters []int) bool {
			b := newBudgetAccountant(0)

			previous := 0
			expected := 0
			for _, c := range counters {
				if c >= previous {
					expected += c - previous
					previous = c
				} else {
					expected += c
					previous += c
				}
				b.observeNode("node-a", tokenSnapshot{TotalTokens: c})
			}

			return b.observedTotalTokens == expected
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// TestRunScopedMaxSemanticsProperty verifies the §4.6 "Scope distinction"
// rule: a run-scoped total only ever raises observedTotalTokens, never
// lowers it, regardless of the order totals arrive in.
func TestRunScopedMaxSemanticsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("observeRunScoped is monotonically non-decreasing", prop.ForAll(
		func(totals []int) bool {
			b := newBudgetAccountant(0)
			previous := 0
			for _, total := range totals {
				b.observeRunScoped(total)
				if b.observedTotalTokens < previous {
					return false
				}
				previous = b.observedTotalTokens
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1_000_000)),
	))

	properties.TestingRun(t)
}
