package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCanonicalizeIdempotenceProperty verifies the §8 "Region-prefix
// idempotence" law: Canonicalize(Canonicalize(id)) == Canonicalize(id) for
// any id, and two ids differing only in a recognized region prefix
// canonicalize to the same value.
func TestCanonicalizeIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("Canonicalize is idempotent", prop.ForAll(
		func(id string) bool {
			once := Canonicalize(id)
			twice := Canonicalize(once)
			return once == twice
		},
		gen.AnyString(),
	))

	properties.Property("region-prefixed ids share a canonical bucket with the bare id", prop.ForAll(
		func(region string, suffix string) bool {
			bare := Canonicalize(suffix)
			prefixed := Canonicalize(region + "." + suffix)
			return prefixed == bare
		},
		gen.OneConstOf("us", "eu", "apac", "global"),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
