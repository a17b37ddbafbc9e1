package flowgraph

import (
	"maps"
	"slices"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent use. Turns on different threads run
// in parallel; turns on the same thread are serialized.
type CompiledGraph[S any] struct {
	nodes            map[string]NodeFunc[S]
	order            []string
	edges            map[string]string
	conditionalEdges map[string]*conditionalEdge[S]
	interrupts       map[string]bool
	entryPoint       string
	reducer          Reducer[S]
	finalizer        Finalizer[S]

	cfg   compileConfig
	locks *threadLocks
}

// Name returns the graph name used in traces.
func (cg *CompiledGraph[S]) Name() string {
	return cg.cfg.name
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the graph, sorted.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Sorted(maps.Keys(cg.nodes))
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns every node (or END) reachable in one step from id,
// sorted and de-duplicated. Returns nil for END or unknown nodes.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if to, ok := cg.edges[id]; ok {
		return []string{to}
	}
	ce, ok := cg.conditionalEdges[id]
	if !ok {
		return nil
	}
	out := []string{ce.fallback}
	for _, to := range ce.routes {
		out = append(out, to)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.conditionalEdges[id]
	return ok
}

// Routes returns a copy of a conditional edge's label table and its fallback.
// ok is false if id has no conditional edge.
func (cg *CompiledGraph[S]) Routes(id string) (routes map[string]string, fallback string, ok bool) {
	ce, exists := cg.conditionalEdges[id]
	if !exists {
		return nil, "", false
	}
	return maps.Clone(ce.routes), ce.fallback, true
}

// InterruptNodes returns the nodes a turn suspends before, sorted.
func (cg *CompiledGraph[S]) InterruptNodes() []string {
	return slices.Sorted(maps.Keys(cg.interrupts))
}

// IsInterrupt reports whether a turn suspends before entering id.
func (cg *CompiledGraph[S]) IsInterrupt(id string) bool {
	return cg.interrupts[id]
}
