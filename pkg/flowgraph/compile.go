package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks:
//  1. Entry point must be set and reference an existing node
//  2. All edge sources and targets must reference existing nodes (or END)
//  3. A node has exactly one outgoing edge: one simple edge or one conditional edge
//  4. Conditional edges need a fallback; route targets must exist
//  5. Interrupt nodes must exist
//  6. Every node must have a path to END
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail. Cycles are allowed; the recursion
// limit bounds them at run time.
func (g *Graph[S]) Compile(opts ...CompileOption) (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cfg := defaultCompileConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		targets := g.edges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if len(targets) > 1 {
			errs = append(errs, fmt.Errorf("%w: node '%s' has %d simple edges", ErrMultipleEdges, from, len(targets)))
		}
		if _, conditional := g.conditionalEdges[from]; conditional {
			errs = append(errs, fmt.Errorf("%w: node '%s'", ErrConflictingEdges, from))
		}
		for _, to := range targets {
			if !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		ce := g.conditionalEdges[from]
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if ce.fallback == "" {
			errs = append(errs, fmt.Errorf("%w: conditional edge from '%s' has no fallback", ErrInvalidRoute, from))
		} else if !g.isTarget(ce.fallback) {
			errs = append(errs, fmt.Errorf("%w: fallback '%s' from '%s' does not exist", ErrNodeNotFound, ce.fallback, from))
		}
		for _, label := range slices.Sorted(maps.Keys(ce.routes)) {
			if to := ce.routes[label]; !g.isTarget(to) {
				errs = append(errs, fmt.Errorf("%w: route %q from '%s' targets '%s'", ErrNodeNotFound, label, from, to))
			}
		}
	}

	for _, id := range g.order {
		_, simple := g.edges[id]
		_, conditional := g.conditionalEdges[id]
		if !simple && !conditional {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
		}
	}

	for _, id := range g.interrupts {
		if _, exists := g.nodes[id]; !exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInterruptNodeNotFound, id))
		}
	}

	if len(errs) == 0 {
		canReachEnd := g.nodesReachingEnd()
		for _, id := range g.order {
			if !canReachEnd[id] {
				errs = append(errs, fmt.Errorf("%w: node '%s'", ErrNoPathToEnd, id))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes(cfg.logger)

	return g.buildCompiledGraph(cfg), nil
}

func (g *Graph[S]) isTarget(id string) bool {
	if id == END {
		return true
	}
	_, exists := g.nodes[id]
	return exists
}

// targets returns every node a node may transition to, END included.
func (g *Graph[S]) targets(id string) []string {
	if ce, ok := g.conditionalEdges[id]; ok {
		out := []string{ce.fallback}
		for _, to := range ce.routes {
			out = append(out, to)
		}
		return out
	}
	return g.edges[id]
}

// nodesReachingEnd propagates backwards from END until no changes.
func (g *Graph[S]) nodesReachingEnd() map[string]bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for id := range g.nodes {
			if canReachEnd[id] {
				continue
			}
			for _, to := range g.targets(id) {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}
	return canReachEnd
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	reachable := g.findReachableNodes()
	for _, id := range g.order {
		if !reachable[id] {
			logger.Warn("node is unreachable from entry", slog.String("node_id", id))
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.targets(current) {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph(cfg compileConfig) *CompiledGraph[S] {
	nodes := maps.Clone(g.nodes)

	edges := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = targets[0]
	}

	conditional := make(map[string]*conditionalEdge[S], len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		conditional[from] = &conditionalEdge[S]{
			router:   ce.router,
			routes:   maps.Clone(ce.routes),
			fallback: ce.fallback,
		}
	}

	interrupts := make(map[string]bool, len(g.interrupts))
	for _, id := range g.interrupts {
		interrupts[id] = true
	}

	reducer := g.reducer
	if reducer == nil {
		reducer = replaceReducer[S]
	}

	return &CompiledGraph[S]{
		nodes:            nodes,
		order:            slices.Clone(g.order),
		edges:            edges,
		conditionalEdges: conditional,
		interrupts:       interrupts,
		entryPoint:       g.entryPoint,
		reducer:          reducer,
		finalizer:        g.finalizer,
		cfg:              cfg,
		locks:            newThreadLocks(),
	}
}
