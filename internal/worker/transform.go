package worker

import (
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Transformer turns one source file into CommonJS code
type Transformer interface {
	Transform(filename, code string, opts Options) (string, error)
}

// CompileError is a transform failure, formatted one diagnostic per line
// as file:line:column: text.
type CompileError struct {
	Filename string
	Message  string
}

func (e *CompileError) Error() string {
	return e.Message
}

// EsbuildTransformer compiles JSX and TypeScript with esbuild
type EsbuildTransformer struct {
	defaults Options
}

// NewEsbuildTransformer creates a transformer applying defaults to every
// request that leaves an option unset
func NewEsbuildTransformer(defaults Options) *EsbuildTransformer {
	return &EsbuildTransformer{defaults: defaults}
}

// Transform compiles code. esbuild reprints its output, so RetainLines keeps
// whitespace unminified and drops legal comment hoisting but cannot pin
// every statement to its source line.
func (t *EsbuildTransformer) Transform(filename, code string, opts Options) (string, error) {
	opts = opts.withDefaults(t.defaults)

	transformOpts := api.TransformOptions{
		Loader:      LoaderFor(filename),
		Format:      api.FormatCommonJS,
		Target:      targetFor(opts.Target),
		JSX:         api.JSXTransform,
		JSXFactory:  opts.JSXFactory,
		JSXFragment: opts.JSXFragment,
		Sourcefile:  filename,
	}
	if opts.RetainLines {
		transformOpts.LegalComments = api.LegalCommentsInline
	}

	result := api.Transform(code, transformOpts)
	if len(result.Errors) > 0 {
		return "", &CompileError{Filename: filename, Message: formatMessages(filename, result.Errors)}
	}

	return string(result.Code), nil
}

// LoaderFor picks the esbuild loader for a filename's extension
func LoaderFor(filename string) api.Loader {
	switch strings.ToLower(path.Ext(filename)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".json":
		return api.LoaderJSON
	default:
		return api.LoaderJSX
	}
}

// LoaderName is the metrics label of a filename's loader
func LoaderName(filename string) string {
	switch LoaderFor(filename) {
	case api.LoaderTS:
		return "ts"
	case api.LoaderTSX:
		return "tsx"
	case api.LoaderJSON:
		return "json"
	default:
		return "jsx"
	}
}

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

func targetFor(name string) api.Target {
	if target, ok := targets[strings.ToLower(name)]; ok {
		return target
	}
	return api.ES2017
}

func formatMessages(filename string, messages []api.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Location == nil {
			lines = append(lines, fmt.Sprintf("%s: %s", filename, msg.Text))
			continue
		}
		file := msg.Location.File
		if file == "" {
			file = filename
		}
		lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", file, msg.Location.Line, msg.Location.Column+1, msg.Text))
	}
	return strings.Join(lines, "\n")
}
