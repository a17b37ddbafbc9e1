// Package registry provides a generic, thread-safe, insertion-ordered
// registry of values indexed by key.
//
// The assistant keeps its tool table and collection catalog in registries:
// insertion order makes the tool list and schema text embedded in prompts
// stable from run to run.
//
//	tools := registry.New[string, Tool]()
//	if err := tools.Add("LastMission", lastMission); err != nil {
//	    return err // ErrDuplicate
//	}
//
//	tool, err := tools.Lookup(name) // wraps ErrNotFound for unknown names
//
// GetOrCreate gives atomic lazy initialization; the factory runs at most
// once per key.
package registry
