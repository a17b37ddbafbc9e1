// Package server exposes the assistant over HTTP.
//
// Routes:
//
//	POST   /query                  one turn, {answer, chart}
//	GET    /query/stream           websocket, one turn per message, a delta per node
//	GET    /threads/{id}           thread snapshot
//	GET    /threads/{id}/{query}   status, pending_task, current_node, messages, state
//	POST   /threads/{id}/recover   continue a turn that stopped between nodes
//	DELETE /threads/{id}           purge the thread
//	GET    /graph                  workflow as Mermaid
//	GET    /healthz, /readyz
package server
