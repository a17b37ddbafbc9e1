// Package tools is the capability table the query handler chooses from.
//
// Tool names form a closed set (Names). A Registry maps each name to its
// argument schema and an eino InvokableTool; Dispatch validates the model's
// arguments against the schema before the handler runs and rejects any
// name outside the set with ErrUnknownTool.
//
// Agent drives the selection: the model picks a tool as JSON, the result is
// fed back, and after at most DefaultMaxSteps calls a second completion
// formats the results as markdown. Questions no tool fits are answered with
// NoContextAnswer without further model calls.
package tools
