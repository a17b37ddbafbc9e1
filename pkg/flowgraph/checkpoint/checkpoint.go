package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version is the current record format version.
// Increment when making breaking changes to the record structure.
const Version = 1

// Record is the persisted snapshot of a conversation thread after a node ran.
// The latest record of a thread is what a follow-up turn resumes from.
type Record struct {
	Version   int       `json:"version"`
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// State is the merged conversation state, already JSON-serialized.
	State json.RawMessage `json:"state"`

	// Next is the node the graph routed to after NodeID. Empty when the turn ended.
	Next string `json:"next,omitempty"`

	// Pending lists nodes that are waiting for the next turn's input.
	Pending []string `json:"pending,omitempty"`

	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// Marshal serializes a record to JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserializes a record from JSON.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// New creates a record for threadID written after nodeID executed.
// State must already be JSON-serialized.
func New(threadID, nodeID string, sequence int, state []byte, next string) *Record {
	return &Record{
		Version:   Version,
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		Next:      next,
	}
}

// WithPending marks nodes as awaiting the next turn.
func (r *Record) WithPending(nodes ...string) *Record {
	r.Pending = append([]string(nil), nodes...)
	return r
}

// WithPrevNode sets the previous node ID for debugging.
func (r *Record) WithPrevNode(prevNodeID string) *Record {
	r.PrevNodeID = prevNodeID
	return r
}

// WithTimestamp overrides the creation time. Used with injected clocks.
func (r *Record) WithTimestamp(ts time.Time) *Record {
	r.Timestamp = ts.UTC()
	return r
}

// Interrupted reports whether the thread is paused waiting for input.
func (r *Record) Interrupted() bool {
	return len(r.Pending) > 0
}

// Info returns the record's metadata.
func (r *Record) Info() Info {
	return Info{
		ThreadID:  r.ThreadID,
		NodeID:    r.NodeID,
		Sequence:  r.Sequence,
		Timestamp: r.Timestamp,
		Size:      int64(len(r.State)),
		Pending:   append([]string(nil), r.Pending...),
	}
}

func (r *Record) clone() *Record {
	c := *r
	c.State = append(json.RawMessage(nil), r.State...)
	c.Pending = append([]string(nil), r.Pending...)
	if len(c.Pending) == 0 {
		c.Pending = nil
	}
	return &c
}
