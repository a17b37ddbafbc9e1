package query

import (
	"context"
	"fmt"
)

// Built-in query names.
const (
	QueryStatus      = "status"
	QueryPendingTask = "pending_task"
	QueryCurrentNode = "current_node"
	QueryMessages    = "messages"
	QueryState       = "state"
)

// RegisterBuiltins registers the standard thread queries backed by load.
//
// The messages query accepts an int argument limiting the result to the
// most recent messages.
func RegisterBuiltins(reg *Registry, load Loader) error {
	project := func(fn func(*Snapshot, any) (any, error)) Handler {
		return func(ctx context.Context, threadID string, args any) (any, error) {
			snap, err := mustLoad(ctx, load, threadID)
			if err != nil {
				return nil, err
			}
			return fn(snap, args)
		}
	}

	builtins := []struct {
		name    string
		handler Handler
	}{
		{QueryStatus, project(func(s *Snapshot, _ any) (any, error) { return s.Status, nil })},
		{QueryPendingTask, project(func(s *Snapshot, _ any) (any, error) { return s.PendingTask, nil })},
		{QueryCurrentNode, project(func(s *Snapshot, _ any) (any, error) { return s.CurrentNode, nil })},
		{QueryMessages, project(lastMessages)},
		{QueryState, project(func(s *Snapshot, _ any) (any, error) { return s.State, nil })},
	}

	for _, b := range builtins {
		if err := reg.Register(b.name, b.handler); err != nil {
			return fmt.Errorf("register builtin query %q: %w", b.name, err)
		}
	}
	return nil
}

func lastMessages(s *Snapshot, args any) (any, error) {
	msgs := s.Messages
	if msgs == nil {
		msgs = []Message{}
	}
	switch n := args.(type) {
	case nil:
		return msgs, nil
	case int:
		if n < 0 {
			return nil, fmt.Errorf("messages: negative limit %d", n)
		}
		if n < len(msgs) {
			return msgs[len(msgs)-n:], nil
		}
		return msgs, nil
	default:
		return nil, fmt.Errorf("messages: unsupported argument %T", args)
	}
}
