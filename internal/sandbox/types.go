package sandbox

import (
	"time"
)

// PrefixLineCount is the number of wrapper lines placed before module code.
// Reported line numbers are shifted back by this amount.
const PrefixLineCount = 1

const (
	modulePrefix  = "(function (exports, require, module, console) {\n"
	moduleSuffix  = "\n})"
	preludePrefix = "(function (__VendorComponents) {\n"
)

// Config defines sandbox configuration
type Config struct {
	AssetRoot        string        // Prefix for asset descriptors of unmatched relative requires
	Prelude          string        // Script run before the entry module, may be empty
	Timeout          time.Duration // Execution timeout, zero disables
	MaxCallStackSize int           // goja call stack limit, zero keeps the engine default
	EnableConsole    bool          // Forward console calls
	EnableDOM        bool          // Expose the render target as `document`
}

// DefaultConfig returns the configuration used by playground sessions
func DefaultConfig() Config {
	return Config{
		AssetRoot:        "",
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		EnableDOM:        true,
	}
}

// RunState tracks the progress of a single run
type RunState int

const (
	StateIdle RunState = iota
	StatePreludeRunning
	StateEvaluating
	StatePreludeFailed
	StateRunFailed
	StateRunSucceeded
)

// String returns the string representation of the state
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreludeRunning:
		return "prelude-running"
	case StateEvaluating:
		return "evaluating"
	case StatePreludeFailed:
		return "prelude-failed"
	case StateRunFailed:
		return "run-failed"
	case StateRunSucceeded:
		return "run-succeeded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen
func (s RunState) Terminal() bool {
	return s == StatePreludeFailed || s == StateRunFailed || s == StateRunSucceeded
}

// ConsoleCommand is a console event produced by sandboxed code
type ConsoleCommand struct {
	Command string        `json:"command"` // log, clear
	Level   string        `json:"level,omitempty"`
	Args    []interface{} `json:"args,omitempty"`
	Message string        `json:"message,omitempty"`
	File    string        `json:"file,omitempty"`
	Time    time.Time     `json:"time"`
}

// ConsoleHandler receives console events as they happen
type ConsoleHandler func(ConsoleCommand)

// Result holds execution result
type Result struct {
	Exports    interface{}      // Entry module exports
	Console    []ConsoleCommand // Console output
	DOMChanges []DOMChange      // Render target modifications
	Duration   time.Duration    // Execution time
	State      RunState         // Final state
}

// DOMChange represents a render target modification
type DOMChange struct {
	Type     string      `json:"type"` // set_attribute, set_text, append_child
	Selector string      `json:"selector"`
	Property string      `json:"property,omitempty"`
	Value    interface{} `json:"value,omitempty"`
}

// Environment exposes host capabilities that take priority over every
// other resolution step.
type Environment interface {
	HasModule(name string) bool
	RequireModule(name string) (interface{}, error)
}

// BeforeEvaluator is implemented by environments that prepare the render
// target before the entry module runs.
type BeforeEvaluator interface {
	BeforeEvaluate(host *DOM)
}

// AfterEvaluator is implemented by environments that consume the completed
// evaluation, e.g. to mount a tree exported by the entry module.
type AfterEvaluator interface {
	AfterEvaluate(ctx *EvaluationContext, host *DOM) error
}

// HostEnvironment is a map-backed Environment with optional hooks
type HostEnvironment struct {
	Modules map[string]interface{}
	Before  func(host *DOM)
	After   func(ctx *EvaluationContext, host *DOM) error
}

// HasModule reports whether name is a host capability
func (h *HostEnvironment) HasModule(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h.Modules[name]
	return ok
}

// RequireModule returns the capability registered under name
func (h *HostEnvironment) RequireModule(name string) (interface{}, error) {
	if h == nil {
		return nil, &ModuleNotFoundError{Specifier: name}
	}
	value, ok := h.Modules[name]
	if !ok {
		return nil, &ModuleNotFoundError{Specifier: name}
	}
	return value, nil
}

// BeforeEvaluate runs the Before hook when set
func (h *HostEnvironment) BeforeEvaluate(host *DOM) {
	if h != nil && h.Before != nil {
		h.Before(host)
	}
}

// AfterEvaluate runs the After hook when set
func (h *HostEnvironment) AfterEvaluate(ctx *EvaluationContext, host *DOM) error {
	if h != nil && h.After != nil {
		return h.After(ctx, host)
	}
	return nil
}
