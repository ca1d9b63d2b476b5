// Package graph implements the dependency-driven, parallel fan-out
// orchestrator (§4.3): nodes become ready in batches once their incoming
// edges' sources complete, and each batch executes concurrently with events
// merged into a single output stream.
package graph

import (
	"fmt"
	"time"

	"github.com/agentrun/runtime/event"
	"github.com/agentrun/runtime/interrupt"
	"github.com/agentrun/runtime/node"
)

// State is the view conditional edges evaluate against: the results of
// every node that has completed so far, keyed by node id.
type State map[string]event.NodeResult

// Predicate is a pure function over graph state deciding whether an edge is
// traversable. A nil Predicate is treated as always-true (unconditional).
type Predicate func(state State) bool

// Edge connects two nodes, optionally gated by a condition (§3).
type Edge struct {
	From string
	To   string
	When Predicate
}

func (e Edge) holds(state State) bool {
	return e.When == nil || e.When(state)
}

// Options configures a Graph's continuation limits and execution behavior.
// Zero values take the documented defaults.
type Options struct {
	// EntryPoints overrides the computed entry set. If empty, all nodes with
	// zero incoming edges are used.
	EntryPoints []string
	// ResetOnRevisit allows the scheduler to re-select a completed node for
	// re-execution, restoring it to its initial snapshot first.
	ResetOnRevisit bool
	// NodeTimeout bounds each individual node's execution, if positive.
	NodeTimeout time.Duration
	// MaxNodeExecutions bounds the total count of node executions across the
	// run, if positive.
	MaxNodeExecutions int
	// ExecutionTimeout bounds the run's wall-clock time, if positive.
	ExecutionTimeout time.Duration
}

// Graph is the dependency-driven parallel fan-out orchestrator.
type Graph struct {
	opts Options

	order    []string // declaration order, used to make readiness scans deterministic
	nodes    map[string]*node.Node
	incoming map[string][]Edge
	entry    []string

	completed map[string]bool
	results   State
	execCount int

	interrupts *interrupt.State
	task       any
}

// New builds a Graph over the given nodes and edges. Construction fails if
// the computed (or configured) entry point set is empty, or if an edge
// references an unknown node id.
func New(nodes []*node.Node, edges []Edge, opts Options) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("graph requires at least one node")
	}
	g := &Graph{
		opts:       opts,
		nodes:      make(map[string]*node.Node, len(nodes)),
		incoming:   make(map[string][]Edge),
		completed:  make(map[string]bool),
		results:    make(State),
		interrupts: interrupt.NewState(),
	}
	for _, n := range nodes {
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	hasIncoming := make(map[string]bool, len(edges))
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.To)
		}
		g.incoming[e.To] = append(g.incoming[e.To], e)
		hasIncoming[e.To] = true
	}

	if len(opts.EntryPoints) > 0 {
		for _, id := range opts.EntryPoints {
			if _, ok := g.nodes[id]; !ok {
				return nil, fmt.Errorf("entry point references unknown node %q", id)
			}
		}
		g.entry = append([]string{}, opts.EntryPoints...)
	} else {
		for _, id := range g.order {
			if !hasIncoming[id] {
				g.entry = append(g.entry, id)
			}
		}
	}
	if len(g.entry) == 0 {
		return nil, fmt.Errorf("graph has no entry points: every node has an incoming edge")
	}
	return g, nil
}

// readyNodes applies §4.3's readiness rule: a node in g.order is newly ready
// after batch B completes iff it has an incoming edge, is either uncompleted
// or resettable, every edge whose condition currently holds has a completed
// source, and at least one such edge's source was in B.
func (g *Graph) readyNodes(batch []string) []string {
	inBatch := make(map[string]bool, len(batch))
	for _, id := range batch {
		inBatch[id] = true
	}

	var ready []string
	for _, id := range g.order {
		incoming := g.incoming[id]
		if len(incoming) == 0 {
			continue
		}
		if g.completed[id] && !g.opts.ResetOnRevisit {
			continue
		}
		var anyHolds, anyInBatch bool
		allSourcesDone := true
		for _, e := range incoming {
			if !e.holds(g.results) {
				continue
			}
			anyHolds = true
			if !g.completed[e.From] {
				allSourcesDone = false
			}
			if inBatch[e.From] {
				anyInBatch = true
			}
		}
		if anyHolds && allSourcesDone && anyInBatch {
			ready = append(ready, id)
		}
	}
	return ready
}
