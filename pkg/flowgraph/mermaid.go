package flowgraph

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

const startNode = "__start__"

// Mermaid renders the graph as a Mermaid flowchart.
// Output is deterministic: nodes appear in insertion order and conditional
// routes in label order. Conditional edges are dotted and labelled; the
// fallback edge is labelled "fallback". Interrupt nodes get the "interrupt" class.
//
// Example output:
//
//	graph TD
//	    __start__([start]) --> router
//	    router -.->|Help| help
//	    router -.->|fallback| no_context
//	    help --> __end__([end])
//	    no_context --> __end__([end])
func (cg *CompiledGraph[S]) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	fmt.Fprintf(&b, "    %s([start]) --> %s\n", startNode, cg.entryPoint)

	for _, id := range cg.order {
		if to, ok := cg.edges[id]; ok {
			fmt.Fprintf(&b, "    %s --> %s\n", id, mermaidTarget(to))
			continue
		}
		ce, ok := cg.conditionalEdges[id]
		if !ok {
			continue
		}
		for _, label := range slices.Sorted(maps.Keys(ce.routes)) {
			fmt.Fprintf(&b, "    %s -.->|%s| %s\n", id, label, mermaidTarget(ce.routes[label]))
		}
		fmt.Fprintf(&b, "    %s -.->|fallback| %s\n", id, mermaidTarget(ce.fallback))
	}

	if len(cg.interrupts) > 0 {
		b.WriteString("    classDef interrupt stroke-dasharray: 5 5\n")
		for _, id := range cg.InterruptNodes() {
			fmt.Fprintf(&b, "    class %s interrupt\n", id)
		}
	}
	return b.String()
}

func mermaidTarget(id string) string {
	if id == END {
		return END + "([end])"
	}
	return id
}
