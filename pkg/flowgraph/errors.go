package flowgraph

import (
	"errors"
	"fmt"
)

// Sentinel errors for graph building and compilation.
var (
	// ErrNoEntryPoint indicates SetEntry() was not called before Compile().
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point references a non-existent node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoPathToEnd indicates a node cannot reach END.
	ErrNoPathToEnd = errors.New("no path to END")

	// ErrConflictingEdges indicates a node has both a simple and a conditional edge.
	ErrConflictingEdges = errors.New("node has both simple and conditional edges")

	// ErrMultipleEdges indicates a node has more than one simple edge.
	ErrMultipleEdges = errors.New("node has multiple simple edges")

	// ErrNoOutgoingEdge indicates a node has no outgoing edge.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrInvalidRoute indicates a conditional edge is misconfigured.
	ErrInvalidRoute = errors.New("invalid conditional route")

	// ErrInterruptNodeNotFound indicates InterruptBefore names a non-existent node.
	ErrInterruptNodeNotFound = errors.New("interrupt node not found")
)

// Sentinel errors for execution.
var (
	// ErrRecursionLimit indicates a turn exceeded its node execution budget.
	ErrRecursionLimit = errors.New("recursion limit exceeded")

	// ErrNilContext indicates a turn was started with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrEmptyThreadID indicates a turn was started without a thread ID.
	ErrEmptyThreadID = errors.New("thread ID cannot be empty")
)

// Sentinel errors for checkpointing and resume.
var (
	// ErrNoCheckpointer indicates an operation needs a checkpoint store
	// but the graph was compiled without one.
	ErrNoCheckpointer = errors.New("graph compiled without checkpointer")

	// ErrNoCheckpoint indicates the thread has no checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found for thread")

	// ErrSerializeState indicates state serialization failed.
	ErrSerializeState = errors.New("failed to serialize state")

	// ErrDeserializeState indicates state deserialization failed.
	ErrDeserializeState = errors.New("failed to deserialize state")

	// ErrCheckpointVersionMismatch indicates the checkpoint version is incompatible.
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrInvalidResumeNode indicates a checkpoint names a node the graph does not have.
	ErrInvalidResumeNode = errors.New("invalid resume node")

	// ErrNothingToRecover indicates the thread's last turn finished or is
	// waiting for input, so there is no interrupted work to continue.
	ErrNothingToRecover = errors.New("nothing to recover")
)

// CheckpointError wraps errors from checkpoint operations.
type CheckpointError struct {
	// NodeID is the node where checkpointing failed.
	NodeID string
	// Op is the operation that failed ("save", "load", "serialize", "deserialize").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NodeError wraps an error with node context.
type NodeError struct {
	// NodeID is the identifier of the node that failed.
	NodeID string
	// Op is the operation that failed (e.g., "execute").
	Op string
	// Err is the underlying error from the node.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from node or router execution.
// It includes the stack trace for debugging.
type PanicError struct {
	// NodeID is the identifier of the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError captures the state when a turn was cancelled.
// The in-flight node's update is discarded; the last checkpoint stays intact.
type CancellationError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// State is the merged state before NodeID (can type-assert to the actual type).
	State any
	// Cause is the underlying cancellation cause (context.Canceled or context.DeadlineExceeded).
	Cause error
	// WasExecuting is true if cancellation occurred during node execution.
	WasExecuting bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if e.WasExecuting {
		return fmt.Sprintf("cancelled during node %s: %v", e.NodeID, e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps a failure inside a conditional edge's router.
// Unknown labels are not errors; they take the edge's fallback.
type RouterError struct {
	// FromNode is the node with the conditional edge.
	FromNode string
	// Err is the underlying error, a *PanicError when the router panicked.
	Err error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s: %v", e.FromNode, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// RecursionLimitError reports a turn that hit its node execution budget.
// Exactly Limit nodes executed before the turn failed.
type RecursionLimitError struct {
	// Limit is the configured recursion limit.
	Limit int
	// NodeID is the node that would have executed next.
	NodeID string
}

// Error implements the error interface.
func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("recursion limit of %d reached without hitting END (next node %s)", e.Limit, e.NodeID)
}

// Unwrap returns ErrRecursionLimit for errors.Is support.
func (e *RecursionLimitError) Unwrap() error {
	return ErrRecursionLimit
}
