package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/shared/diagnostics"
)

// Runtime evaluates an entry module and its transitive requires. Every run
// gets a fresh goja VM, so nothing leaks between runs except what the host
// registered up front.
type Runtime struct {
	config  Config
	vendor  *VendorRegistry
	env     Environment
	console ConsoleHandler
	logger  *zap.Logger
	mu      sync.Mutex
}

// Option configures a Runtime
type Option func(*Runtime)

// WithEnvironment sets the host capabilities and hooks
func WithEnvironment(env Environment) Option {
	return func(r *Runtime) { r.env = env }
}

// WithVendorRegistry sets the vendor module registry
func WithVendorRegistry(vendor *VendorRegistry) Option {
	return func(r *Runtime) { r.vendor = vendor }
}

// WithConsoleHandler forwards console events as they are produced
func WithConsoleHandler(handler ConsoleHandler) Option {
	return func(r *Runtime) { r.console = handler }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		r.logger = logging.OrNop(logger)
	}
}

// New creates a runtime
func New(config Config, opts ...Option) *Runtime {
	r := &Runtime{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.vendor == nil {
		r.vendor = NewVendorRegistry()
	}
	return r
}

// Vendor returns the vendor registry used for bare specifiers
func (r *Runtime) Vendor() *VendorRegistry {
	return r.vendor
}

// execution is the VM state of one run
type execution struct {
	vm      *goja.Runtime
	ctx     *EvaluationContext
	host    *DOM
	console []ConsoleCommand
}

// Run evaluates ctx.Entry. Any failure aborts the whole run and is returned
// as a single *RuntimeError; the partially filled context should then be
// dropped by the caller.
func (r *Runtime) Run(ctx context.Context, ec *EvaluationContext) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	run := &execution{vm: r.newVM(), ctx: ec}
	result := &Result{}

	defer func() {
		result.Duration = time.Since(start)
		result.Console = run.console
		result.State = ec.State
		if run.host != nil {
			result.DOMChanges = run.host.GetChanges()
		}
	}()

	stop := r.watch(ctx, run.vm)
	defer stop()

	run.vm.Set("console", r.consoleProxy(run, ""))

	if r.config.EnableDOM {
		run.host = NewDOM()
		r.injectDOM(run)
	}

	if before, ok := r.env.(BeforeEvaluator); ok {
		before.BeforeEvaluate(run.host)
	}

	if r.config.Prelude != "" {
		ec.State = StatePreludeRunning
		if err := r.runPrelude(run); err != nil {
			ec.State = StatePreludeFailed
			return result, r.fail(ec, err, true)
		}
	}

	ec.State = StateEvaluating

	code, ok := ec.Files[ec.Entry]
	if !ok {
		ec.State = StateRunFailed
		return result, r.fail(ec, &ModuleNotFoundError{Specifier: ec.Entry}, false)
	}

	exports, err := r.evaluate(run, ec.Entry, code)
	if err != nil {
		ec.State = StateRunFailed
		return result, r.fail(ec, err, false)
	}

	if after, ok := r.env.(AfterEvaluator); ok {
		if err := after.AfterEvaluate(ec, run.host); err != nil {
			ec.State = StateRunFailed
			return result, r.fail(ec, err, false)
		}
	}

	ec.State = StateRunSucceeded
	result.Exports = exportValue(exports)

	r.logger.Debug("Run completed",
		zap.String("run", ec.ID.String()),
		zap.String("entry", ec.Entry),
		zap.Int("modules", len(ec.RequireCache)),
		zap.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// evaluate compiles code into a function receiving exactly exports,
// require, module and console, calls it, and caches module.exports.
func (r *Runtime) evaluate(run *execution, name, code string) (goja.Value, error) {
	vm := run.vm

	fnValue, err := vm.RunScript(name, modulePrefix+code+moduleSuffix)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("module %s did not compile to a function", name)
	}

	exports := vm.NewObject()
	module := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}

	run.ctx.loading[name] = module
	defer delete(run.ctx.loading, name)

	require := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		value, err := r.require(run, call.Argument(0).String(), name)
		if err != nil {
			throw(vm, err)
		}
		return value
	})

	if _, err := fn(goja.Undefined(), exports, require, module, r.consoleProxy(run, name)); err != nil {
		return nil, err
	}

	value := module.Get("exports")
	run.ctx.RequireCache[name] = value
	return value, nil
}

// require resolves specifier and produces its value, evaluating files and
// vendor sources at most once per context.
func (r *Runtime) require(run *execution, specifier, requester string) (goja.Value, error) {
	res, err := r.Resolve(run.ctx, specifier, requester)
	if err != nil {
		return nil, err
	}

	vm := run.vm
	switch res.Kind {
	case ResolvedCapability:
		value, err := r.env.RequireModule(res.Name)
		if err != nil {
			return nil, fmt.Errorf("host module %s: %w", res.Name, err)
		}
		return vm.ToValue(value), nil
	case ResolvedAsset:
		return vm.ToValue(AssetDescriptor{URI: res.URI}), nil
	case ResolvedVendorValue:
		value, _ := r.vendor.Value(res.Name)
		return vm.ToValue(value), nil
	case ResolvedVendorSource:
		code, _ := r.vendor.Source(res.Name)
		return r.load(run, res.Name, code)
	default:
		return r.load(run, res.Name, run.ctx.Files[res.Name])
	}
}

// load returns cached exports, the partial exports of a module that is
// still running (a require cycle), or evaluates the module.
func (r *Runtime) load(run *execution, name, code string) (goja.Value, error) {
	if value, ok := run.ctx.RequireCache[name]; ok {
		return value, nil
	}
	if module, ok := run.ctx.loading[name]; ok {
		return module.Get("exports"), nil
	}
	return r.evaluate(run, name, code)
}

func (r *Runtime) runPrelude(run *execution) error {
	fnValue, err := run.vm.RunScript("prelude.js", preludePrefix+r.config.Prelude+moduleSuffix)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return errors.New("prelude did not compile to a function")
	}

	_, err = fn(goja.Undefined(), r.vendorAccessor(run.vm))
	return err
}

// vendorAccessor exposes the registry read-only to the prelude
func (r *Runtime) vendorAccessor(vm *goja.Runtime) *goja.Object {
	accessor := vm.NewObject()
	accessor.Set("get", func(call goja.FunctionCall) goja.Value {
		if value, ok := r.vendor.Value(call.Argument(0).String()); ok {
			return vm.ToValue(value)
		}
		return goja.Undefined()
	})
	accessor.Set("require", func(call goja.FunctionCall) goja.Value {
		if code, ok := r.vendor.Source(call.Argument(0).String()); ok {
			return vm.ToValue(code)
		}
		return goja.Undefined()
	})
	accessor.Set("has", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(r.vendor.Has(call.Argument(0).String()))
	})
	return accessor
}

func (r *Runtime) fail(ec *EvaluationContext, err error, prelude bool) *RuntimeError {
	rtErr := &RuntimeError{
		Err:     cause(err),
		Message: diagnostics.FormatError(named(err), PrefixLineCount),
		Prelude: prelude,
	}

	r.logger.Debug("Run failed",
		zap.String("run", ec.ID.String()),
		zap.String("entry", ec.Entry),
		zap.Bool("prelude", prelude),
		zap.Error(rtErr),
	)
	return rtErr
}

// newVM creates the VM for one run
func (r *Runtime) newVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	// Hide CommonJS names outside module scope
	vm.Set("require", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())
	vm.Set("process", goja.Undefined())

	// Timers are accepted but never fire
	noop := func(call goja.FunctionCall) goja.Value { return vm.ToValue(0) }
	vm.Set("setTimeout", noop)
	vm.Set("setInterval", noop)
	vm.Set("clearTimeout", noop)
	vm.Set("clearInterval", noop)

	return vm
}

// watch interrupts the VM on timeout or cancellation until stop is called.
// The interrupt is repeated so a module that swallows it cannot keep running.
func (r *Runtime) watch(ctx context.Context, vm *goja.Runtime) (stop func()) {
	done := make(chan struct{})

	go func() {
		var timeout <-chan time.Time
		if r.config.Timeout > 0 {
			timer := time.NewTimer(r.config.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}

		var reason error
		select {
		case <-done:
			return
		case <-timeout:
			reason = ErrTimeout
		case <-ctx.Done():
			reason = ctx.Err()
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			vm.Interrupt(reason)
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	return func() { close(done) }
}

// consoleProxy creates the console bound to one module
func (r *Runtime) consoleProxy(run *execution, file string) *goja.Object {
	console := run.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, r.makeConsoleFunc(run, file, level))
	}
	console.Set("clear", func(call goja.FunctionCall) goja.Value {
		r.emit(run, ConsoleCommand{Command: "clear", File: file, Time: time.Now()})
		return goja.Undefined()
	})
	return console
}

func (r *Runtime) makeConsoleFunc(run *execution, file, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		args := make([]interface{}, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
			args = append(args, exportArg(arg))
		}

		r.emit(run, ConsoleCommand{
			Command: "log",
			Level:   level,
			Args:    args,
			Message: strings.Join(parts, " "),
			File:    file,
			Time:    time.Now(),
		})
		return goja.Undefined()
	}
}

func (r *Runtime) emit(run *execution, cmd ConsoleCommand) {
	if !r.config.EnableConsole {
		return
	}
	run.console = append(run.console, cmd)
	if r.console != nil {
		r.console(cmd)
	}
}

// throw raises err inside the VM. JavaScript exceptions are rethrown as-is
// so their original position survives; Go errors become GoError objects.
func throw(vm *goja.Runtime, err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(vm.NewGoError(err))
}

// named gives goja failures that carry only a stack trace the message a
// browser would show
func named(err error) error {
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return errors.New(diagnostics.Label(err.Error(), stackOverflowMessage))
	}
	return err
}

// cause digs the Go error out of a JavaScript exception or interrupt
func cause(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if inner := obj.Get("value"); inner != nil {
				if goErr, ok := inner.Export().(error); ok {
					return cause(goErr)
				}
			}
		}
		return err
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if reason, ok := interrupted.Value().(error); ok {
			return reason
		}
	}
	return err
}

func exportArg(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	if _, ok := goja.AssertFunction(val); ok {
		return "[Function]"
	}
	return val.Export()
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
