package sandbox

import (
	"sort"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/playground/internal/shared/id"
)

// EvaluationContext is the state owned by exactly one run: the file
// snapshot used for resolution, the entry filename and the require cache.
type EvaluationContext struct {
	ID           id.RunID
	Entry        string
	Files        map[string]string
	RequireCache map[string]goja.Value
	State        RunState

	// modules currently being evaluated, keyed like RequireCache
	loading map[string]*goja.Object
}

// NewEvaluationContext creates a context over a copy of files
func NewEvaluationContext(entry string, files map[string]string) *EvaluationContext {
	snapshot := make(map[string]string, len(files))
	for name, code := range files {
		snapshot[name] = code
	}

	return &EvaluationContext{
		ID:           id.NewRunID(),
		Entry:        entry,
		Files:        snapshot,
		RequireCache: make(map[string]goja.Value),
		State:        StateIdle,
		loading:      make(map[string]*goja.Object),
	}
}

// Evaluated returns the names present in the require cache, sorted
func (c *EvaluationContext) Evaluated() []string {
	names := make([]string, 0, len(c.RequireCache))
	for name := range c.RequireCache {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exports returns the exported Go value of a cached module
func (c *EvaluationContext) Exports(name string) (interface{}, bool) {
	value, ok := c.RequireCache[name]
	if !ok {
		return nil, false
	}
	return exportValue(value), true
}
