// Package checkpoint provides persistent per-thread conversation checkpoints.
//
// Every node execution appends one Record to its thread's history. The most
// recent record is the thread's current state and is what the engine resumes
// from on the next turn.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoint records keyed by thread.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put appends rec to its thread's history and makes it the latest record.
	Put(ctx context.Context, rec *Record) error

	// Latest returns the most recent record for a thread.
	// Returns ErrNotFound if the thread has no records.
	Latest(ctx context.Context, threadID string) (*Record, error)

	// History returns metadata for all records of a thread, ordered by sequence.
	// Returns an empty slice (not error) if the thread has no records.
	History(ctx context.Context, threadID string) ([]Info, error)

	// Purge removes every record of a thread.
	// Returns nil if the thread has no records.
	Purge(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Pending   []string  `json:"pending,omitempty"`
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a thread has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidRecord indicates a record is missing its thread or node.
	ErrInvalidRecord = errors.New("invalid checkpoint record")
)

func validate(rec *Record) error {
	if rec == nil || rec.ThreadID == "" || rec.NodeID == "" {
		return ErrInvalidRecord
	}
	return nil
}
