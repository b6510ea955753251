package pipeline

import (
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/shared/diagnostics"
)

// EventType names a notification sent to the host
type EventType string

const (
	EventRun           EventType = "run"
	EventError         EventType = "error"
	EventCompilerError EventType = "compilerError"
	EventConsole       EventType = "console"
	EventDisplay       EventType = "display"
	EventComplete      EventType = "complete"
	EventChange        EventType = "change"
	EventWarning       EventType = "warning"
)

// Event is one host notification. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType                `json:"type"`
	RunID    string                   `json:"runId,omitempty"`
	Filename string                   `json:"filename,omitempty"`
	Code     string                   `json:"code,omitempty"`
	Error    *diagnostics.PublicError `json:"error,omitempty"`
	Console  *sandbox.ConsoleCommand  `json:"console,omitempty"`
	Files    map[string]string        `json:"files,omitempty"`
	Exports  interface{}              `json:"exports,omitempty"`
	Duration float64                  `json:"durationMs,omitempty"`
	Message  string                   `json:"message,omitempty"`
}

// Handler receives events. It is called with the orchestrator locked and
// must not call back into it.
type Handler func(Event)

// State is a snapshot of what the host displays
type State struct {
	Entry         string                   `json:"entry"`
	Files         map[string]string        `json:"files"`
	Compiled      []string                 `json:"compiled"`
	Display       map[string]string        `json:"display,omitempty"`
	CompilerError *diagnostics.PublicError `json:"compilerError,omitempty"`
	RuntimeError  *diagnostics.PublicError `json:"runtimeError,omitempty"`
	ShowDetails   bool                     `json:"showDetails"`
	Logs          []sandbox.ConsoleCommand `json:"logs"`
	Runs          int                      `json:"runs"`
}

// Error returns the error the host should show, compiler errors first
func (s State) Error() *diagnostics.PublicError {
	if s.CompilerError != nil {
		return s.CompilerError
	}
	return s.RuntimeError
}
