package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/shared/diagnostics"
)

// printer writes pipeline events for a terminal or as JSON lines
type printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
}

func newPrinter(out, errOut io.Writer, format string) *printer {
	return &printer{out: out, errOut: errOut, json: format == "json"}
}

func (p *printer) event(event pipeline.Event) {
	if p.json {
		data, err := sonic.MarshalString(event)
		if err != nil {
			fmt.Fprintf(p.errOut, "failed to encode event: %v\n", err)
			return
		}
		fmt.Fprintln(p.out, data)
		return
	}

	switch event.Type {
	case pipeline.EventConsole:
		cmd := event.Console
		if cmd.Command == "clear" {
			fmt.Fprintln(p.out, "--- console cleared ---")
			return
		}
		line := formatArgs(cmd.Args)
		if cmd.File != "" {
			line = fmt.Sprintf("[%s] %s", cmd.File, line)
		}
		if cmd.Level != "" && cmd.Level != "log" {
			line = cmd.Level + ": " + line
		}
		fmt.Fprintln(p.out, line)
	case pipeline.EventError:
		p.error("Runtime error", event.Error)
	case pipeline.EventCompilerError:
		if event.Error != nil {
			p.error("Compiler error in "+event.Filename, event.Error)
		}
	case pipeline.EventWarning:
		fmt.Fprintf(p.errOut, "warning: %s\n", event.Message)
	case pipeline.EventComplete:
		fmt.Fprintf(p.errOut, "✓ ran in %.1fms\n", event.Duration)
	case pipeline.EventChange:
		fmt.Fprintf(p.errOut, "↻ %s changed\n", event.Filename)
	}
}

func (p *printer) error(title string, err *diagnostics.PublicError) {
	if err == nil {
		return
	}
	fmt.Fprintf(p.errOut, "%s: %s\n", title, err.Summary)
	fmt.Fprintln(p.errOut, err.ErrorMessage)
}

func formatArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			parts[i] = s
			continue
		}
		data, err := sonic.MarshalString(arg)
		if err != nil {
			parts[i] = fmt.Sprint(arg)
			continue
		}
		parts[i] = data
	}
	return strings.Join(parts, " ")
}
