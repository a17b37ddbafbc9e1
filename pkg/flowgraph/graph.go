package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flowgraph.NewGraph[State]().
//	    AddNode("router", classify).
//	    AddNode("help", help).
//	    AddNode("no_context", noContext).
//	    AddConditionalEdge("router", byType, map[string]string{"Help": "help"}, "no_context").
//	    AddEdge("help", flowgraph.END).
//	    AddEdge("no_context", flowgraph.END).
//	    SetEntry("router")
//
//	compiled, err := graph.Compile(flowgraph.WithCheckpointer(store))
type Graph[S any] struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc[S]
	order            []string
	edges            map[string][]string
	conditionalEdges map[string]*conditionalEdge[S]
	interrupts       []string
	entryPoint       string
	reducer          Reducer[S]
	finalizer        Finalizer[S]
}

type conditionalEdge[S any] struct {
	router   RouterFunc[S]
	routes   map[string]string
	fallback string
}

// NewGraph creates a new graph builder for state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:            make(map[string]NodeFunc[S]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]*conditionalEdge[S]),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is a reserved word ("END", "__end__", "__start__", "__finalize__")
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if id == "" {
		panic("flowgraph: node ID cannot be empty")
	}

	switch strings.ToLower(id) {
	case "end", END, startNode, FinalizeNode:
		panic(fmt.Sprintf("flowgraph: node ID cannot be reserved word %q", id))
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("flowgraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}

	g.nodes[id] = fn
	g.order = append(g.order, id)
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or flowgraph.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge routes from a node by label. After from executes,
// router classifies the merged state; the label is looked up in routes, and
// any label not present (including "") goes to fallback.
// Route targets and fallback may be node IDs or flowgraph.END.
//
// A node can have either a simple edge or a conditional edge, not both.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S], routes map[string]string, fallback string) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	copied := make(map[string]string, len(routes))
	for label, to := range routes {
		copied[label] = to
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = &conditionalEdge[S]{
		router:   router,
		routes:   copied,
		fallback: fallback,
	}
	return g
}

// InterruptBefore suspends a turn whenever execution is about to enter one
// of nodes from another node. The engine checkpoints the merged state with
// the node as a pending marker and ends the turn; Resume then starts the
// next turn directly at the pending node.
func (g *Graph[S]) InterruptBefore(nodes ...string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.interrupts = append(g.interrupts, nodes...)
	return g
}

// SetReducer sets how node updates are merged into the state.
// Without a reducer each update replaces the state.
func (g *Graph[S]) SetReducer(r Reducer[S]) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reducer = r
	return g
}

// SetFinalizer sets the hook run when a turn reaches END.
func (g *Graph[S]) SetFinalizer(f Finalizer[S]) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.finalizer = f
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
