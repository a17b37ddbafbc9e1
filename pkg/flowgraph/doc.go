/*
Package flowgraph runs conversational workflows as resumable graphs.

A graph is a set of named nodes joined by edges. Each turn of a conversation
thread walks the graph from a start node to END; every node receives an
immutable snapshot of the state and returns a partial update, which the
graph's Reducer merges into the state. After every node the merged state is
checkpointed, so a thread can pick up where it left off on the next request.

# Building

	graph := flowgraph.NewGraph[State]().
	    AddNode("router", classify).
	    AddNode("help", help).
	    AddNode("no_context", noContext).
	    AddConditionalEdge("router", byType,
	        map[string]string{"Help": "help"}, "no_context").
	    AddEdge("help", flowgraph.END).
	    AddEdge("no_context", flowgraph.END).
	    SetReducer(merge).
	    SetEntry("router")

	compiled, err := graph.Compile(flowgraph.WithCheckpointer(store))

Compile checks the structure: every edge target exists, every node has
exactly one outgoing edge, conditional edges have a fallback, and every node
can reach END. A conditional edge sends any label missing from its route
table to the fallback, so a free-text classifier can never derail a turn.

# Turns

Run and Resume return an iter.Seq2 of Delta values, one per node:

	for delta, err := range compiled.Resume(ctx, threadID, State{Question: q}) {
	    if err != nil {
	        return err
	    }
	    log.Println(delta.NodeID)
	}

Resume merges the input into the thread's stored state. Invoke drains
Resume and returns the final state.

Turns on the same thread are serialized; turns on different threads run
in parallel. WithRecursionLimit bounds node executions per turn; exceeding
it fails the turn with a RecursionLimitError.

# Interrupts

InterruptBefore marks nodes that need input from the next turn. When a
turn routes to such a node, the engine checkpoints the state with the node
as a pending marker and ends the turn. The next Resume starts directly at
the pending node, bypassing the entry point.

# Failures

A node error aborts the turn as a NodeError; a panic becomes a PanicError.
The failed node's update is never persisted, so the last checkpoint stays
intact. Recover continues a turn that stopped between nodes.
*/
package flowgraph
