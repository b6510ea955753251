package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(opts ...Option) *Runtime {
	config := DefaultConfig()
	config.AssetRoot = "/assets/"
	config.Timeout = time.Second
	return New(config, opts...)
}

func run(t *testing.T, rt *Runtime, entry string, files map[string]string) (*EvaluationContext, *Result, error) {
	t.Helper()
	ec := NewEvaluationContext(entry, files)
	result, err := rt.Run(context.Background(), ec)
	return ec, result, err
}

func TestRunEntryWithRelativeRequire(t *testing.T) {
	rt := newTestRuntime()

	ec, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = require('./a');",
		"a.js":     "module.exports = 1;",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 1, result.Exports)
	assert.Equal(t, StateRunSucceeded, result.State)
	assert.Equal(t, []string{"a.js", "index.js"}, ec.Evaluated())
}

func TestRunEvaluatesModuleOnce(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": `
			require('./counter');
			require('./counter.js');
			module.exports = require('./counter').count;
		`,
		"counter.js": `
			globalThis.evaluations = (globalThis.evaluations || 0) + 1;
			exports.count = globalThis.evaluations;
		`,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Exports)
}

func TestRunModuleBindings(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": `module.exports = [typeof exports, typeof require, typeof module, typeof console].join(",");`,
	})
	require.NoError(t, err)
	assert.Equal(t, "object,function,object,object", result.Exports)
}

func TestRunExportsAssignment(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "exports.answer = 42;",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"answer": int64(42)}, result.Exports)
}

func TestRunCyclicEntry(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		requester string
	}{
		{
			name: "direct",
			files: map[string]string{
				"index.js": "require('./index');",
			},
			requester: "index.js",
		},
		{
			name: "transitive",
			files: map[string]string{
				"index.js": "require('./a');",
				"a.js":     "require('./b');",
				"b.js":     "require('./index.js');",
			},
			requester: "b.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime()

			_, result, err := run(t, rt, "index.js", tt.files)
			require.Error(t, err)

			var cyclic *CyclicEntryError
			require.True(t, errors.As(err, &cyclic))
			assert.Equal(t, "index.js", cyclic.Entry)
			assert.Equal(t, tt.requester, cyclic.Requester)
			assert.Equal(t, StateRunFailed, result.State)
		})
	}
}

func TestRunNonEntryCycleSeesPartialExports(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = require('./a');",
		"a.js": `
			exports.early = 'a';
			var b = require('./b');
			exports.seen = b.seen;
		`,
		"b.js": "exports.seen = require('./a').early;",
	})
	require.NoError(t, err)

	exports, ok := result.Exports.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a", exports["seen"])
}

func TestRunAssetDescriptor(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = require('./logo.png').uri;",
	})
	require.NoError(t, err)
	assert.Equal(t, "/assets/./logo.png", result.Exports)
}

func TestRunModuleNotFound(t *testing.T) {
	rt := newTestRuntime()

	_, _, err := run(t, rt, "index.js", map[string]string{
		"index.js": "\nrequire('left-pad');",
	})
	require.Error(t, err)

	var notFound *ModuleNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "left-pad", notFound.Specifier)
	assert.Equal(t, "index.js", notFound.Requester)
	assert.Contains(t, err.Error(), "Failed to resolve module left-pad")
}

func TestRunMissingEntry(t *testing.T) {
	rt := newTestRuntime()

	_, _, err := run(t, rt, "index.js", map[string]string{"a.js": ""})

	var notFound *ModuleNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "index.js", notFound.Specifier)
}

func TestRunVendorModules(t *testing.T) {
	vendor := NewVendorRegistry()
	require.NoError(t, vendor.Register("react", map[string]interface{}{"version": "18"}))
	require.NoError(t, vendor.RegisterSource("lodash", `
		globalThis.lodashLoads = (globalThis.lodashLoads || 0) + 1;
		exports.loads = globalThis.lodashLoads;
	`))
	rt := newTestRuntime(WithVendorRegistry(vendor))

	ec, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": `
			var a = require('lodash');
			var b = require('./other');
			module.exports = [require('react').version, a.loads, b];
		`,
		"other.js": "module.exports = require('lodash').loads;",
	})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"18", int64(1), int64(1)}, result.Exports)
	assert.Contains(t, ec.Evaluated(), "lodash")
	assert.NotContains(t, ec.Evaluated(), "react")
}

func TestRunCapabilityTakesPriority(t *testing.T) {
	vendor := NewVendorRegistry()
	require.NoError(t, vendor.Register("react", "vendor"))

	env := &HostEnvironment{Modules: map[string]interface{}{
		"react": "host",
		"./a":   "host-relative",
	}}
	rt := newTestRuntime(WithVendorRegistry(vendor), WithEnvironment(env))

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = [require('react'), require('./a')];",
		"a.js":     "module.exports = 'file';",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"host", "host-relative"}, result.Exports)
}

func TestRunErrorLineIsCorrected(t *testing.T) {
	rt := newTestRuntime()

	_, _, err := run(t, rt, "index.js", map[string]string{
		"index.js": "var x = 1;\nthrow new Error('boom');",
	})
	require.Error(t, err)

	var rtErr *RuntimeError
	require.True(t, errors.As(err, &rtErr))
	assert.Contains(t, rtErr.Message, "boom")
	assert.Contains(t, rtErr.Message, "index.js:2:")
}

func TestRunStackOverflowIsNamed(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "function f() { return f(); }\nf();",
	})
	require.Error(t, err)
	assert.Equal(t, StateRunFailed, result.State)

	var overflow *goja.StackOverflowError
	assert.ErrorAs(t, err, &overflow)

	var rtErr *RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.True(t, strings.HasPrefix(rtErr.Message, "RangeError: Maximum call stack size exceeded at f"), rtErr.Message)
	assert.Contains(t, rtErr.Message, "index.js:")

	details := rtErr.Details()
	assert.True(t, strings.HasPrefix(details.Description, "RangeError: Maximum call stack size exceeded"))
	require.NotNil(t, details.LineNumber)
}

func TestRunPreludeFailure(t *testing.T) {
	config := DefaultConfig()
	config.Prelude = "throw new Error('prelude broke');"
	rt := New(config)

	ec, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = 1;",
	})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrPrelude))
	assert.Empty(t, ec.RequireCache)
	assert.Equal(t, StatePreludeFailed, result.State)
	assert.True(t, strings.HasPrefix(err.Error(), "prelude error: "))
}

func TestRunPreludeSeesVendorAccessor(t *testing.T) {
	vendor := NewVendorRegistry()
	require.NoError(t, vendor.Register("theme", "dark"))

	config := DefaultConfig()
	config.Prelude = "globalThis.theme = __VendorComponents.get('theme'); globalThis.hasMissing = __VendorComponents.has('missing');"
	rt := New(config, WithVendorRegistry(vendor))

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "module.exports = [theme, hasMissing];",
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"dark", false}, result.Exports)
}

func TestRunTimeout(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 100 * time.Millisecond
	rt := New(config)

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "while (true) {}",
	})
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, StateRunFailed, result.State)
}

func TestRunContextCancel(t *testing.T) {
	config := DefaultConfig()
	config.Timeout = 0
	rt := New(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ec := NewEvaluationContext("index.js", map[string]string{"index.js": "for (;;) {}"})
	_, err := rt.Run(ctx, ec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunConsoleTaggedWithFile(t *testing.T) {
	var streamed []ConsoleCommand
	rt := newTestRuntime(WithConsoleHandler(func(cmd ConsoleCommand) {
		streamed = append(streamed, cmd)
	}))

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "console.log('from', 'index'); require('./a');",
		"a.js":     "console.warn('from a'); console.clear();",
	})
	require.NoError(t, err)

	require.Len(t, result.Console, 3)
	assert.Equal(t, result.Console, streamed)

	assert.Equal(t, "log", result.Console[0].Command)
	assert.Equal(t, "from index", result.Console[0].Message)
	assert.Equal(t, "index.js", result.Console[0].File)

	assert.Equal(t, "warn", result.Console[1].Level)
	assert.Equal(t, "a.js", result.Console[1].File)

	assert.Equal(t, "clear", result.Console[2].Command)
}

func TestRunHooksAndRenderTarget(t *testing.T) {
	var before, after bool
	env := &HostEnvironment{
		Before: func(host *DOM) {
			before = host != nil && host.App() != nil
		},
		After: func(ctx *EvaluationContext, host *DOM) error {
			after = true
			exports, ok := ctx.Exports(ctx.Entry)
			if !ok {
				return errors.New("entry not cached")
			}
			host.App().SetText(exports.(string))
			return nil
		},
	}
	rt := newTestRuntime(WithEnvironment(env))

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": `
			var p = document.createElement('p');
			p.textContent = 'hi';
			document.getElementById('app').appendChild(p);
			module.exports = 'mounted';
		`,
	})
	require.NoError(t, err)

	assert.True(t, before)
	assert.True(t, after)
	require.NotEmpty(t, result.DOMChanges)
	assert.Equal(t, "append_child", result.DOMChanges[1].Type)
	assert.Equal(t, "#app", result.DOMChanges[1].Selector)
	assert.Equal(t, "set_text", result.DOMChanges[len(result.DOMChanges)-1].Type)
}

func TestRunAfterHookFailure(t *testing.T) {
	env := &HostEnvironment{
		After: func(*EvaluationContext, *DOM) error { return errors.New("mount failed") },
	}
	rt := newTestRuntime(WithEnvironment(env))

	_, result, err := run(t, rt, "index.js", map[string]string{"index.js": ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mount failed")
	assert.Equal(t, StateRunFailed, result.State)
}

func TestRunsAreIsolated(t *testing.T) {
	rt := newTestRuntime()
	files := map[string]string{
		"index.js": "globalThis.n = (globalThis.n || 0) + 1; module.exports = globalThis.n;",
	}

	for i := 0; i < 2; i++ {
		_, result, err := run(t, rt, "index.js", files)
		require.NoError(t, err)
		assert.EqualValues(t, 1, result.Exports)
	}
}

func TestTimersNeverFire(t *testing.T) {
	rt := newTestRuntime()

	_, result, err := run(t, rt, "index.js", map[string]string{
		"index.js": "var fired = false; setTimeout(function () { fired = true; }, 0); module.exports = fired;",
	})
	require.NoError(t, err)
	assert.Equal(t, false, result.Exports)
}
