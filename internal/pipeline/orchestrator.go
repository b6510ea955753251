package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/shared/diagnostics"
	"github.com/GriffinCanCode/playground/internal/worker"
)

var ErrNoEntry = errors.New("entry file is not part of the file map")

// Submitter posts transform requests without waiting for the reply
type Submitter interface {
	Post(req worker.Request) error
}

// InfoSource is the best-effort type information channel
type InfoSource interface {
	SetLibs(ctx context.Context, libs, types []string) bool
	UpdateFile(ctx context.Context, filename, code string) bool
	QuickInfo(ctx context.Context, filename string, position int) (*worker.QuickInfo, bool)
}

// Runner evaluates an entry inside the sandbox
type Runner interface {
	Run(ctx context.Context, ec *sandbox.EvaluationContext) (*sandbox.Result, error)
}

// TypeInfoOptions configures the information channel
type TypeInfoOptions struct {
	Enabled bool
	Libs    []string
	Types   []string
}

// Options configures an Orchestrator
type Options struct {
	Entry string
	Files map[string]string

	PlayerEnabled  bool
	DisplayEnabled bool
	ConsoleEnabled bool
	TypeInfo       TypeInfoOptions

	// Drop replies older than the latest submission for their filename
	// instead of applying them in arrival order.
	StrictGenerations bool

	// Transform options for the player channel
	Transform worker.Options
}

// DefaultOptions returns options with the player and console enabled
func DefaultOptions(entry string, files map[string]string) Options {
	return Options{
		Entry:          entry,
		Files:          files,
		PlayerEnabled:  true,
		ConsoleEnabled: true,
		Transform:      worker.Options{RetainLines: true},
	}
}

// Orchestrator owns the compiled code caches of one playground, decides
// when the sandbox may run and keeps the latest compiler and runtime error.
// All methods are serialized by one mutex, the sandbox runs under it.
type Orchestrator struct {
	mu sync.Mutex

	opts      Options
	files     map[string]string
	submitter Submitter
	runner    Runner
	info      InfoSource
	handler   Handler
	logger    *zap.Logger
	metrics   *monitoring.Metrics

	playerCache  map[string]string
	displayCache map[string]string

	generation  uint64
	generations map[string]uint64

	compilerError *diagnostics.PublicError
	runtimeError  *diagnostics.PublicError
	showDetails   bool
	logs          []sandbox.ConsoleCommand
	runs          int

	infoTasks chan func(ctx context.Context)
	infoDone  chan struct{}
	closeOnce sync.Once
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithInfoSource enables type information queries
func WithInfoSource(info InfoSource) Option {
	return func(o *Orchestrator) { o.info = info }
}

// WithHandler sets the event handler
func WithHandler(handler Handler) Option {
	return func(o *Orchestrator) { o.handler = handler }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// New creates an orchestrator over a copy of opts.Files
func New(opts Options, submitter Submitter, runner Runner, options ...Option) (*Orchestrator, error) {
	if _, ok := opts.Files[opts.Entry]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, opts.Entry)
	}

	o := &Orchestrator{
		opts:         opts,
		files:        copyFiles(opts.Files),
		submitter:    submitter,
		runner:       runner,
		logger:       zap.NewNop(),
		playerCache:  make(map[string]string),
		displayCache: make(map[string]string),
		generations:  make(map[string]uint64),
		infoTasks:    make(chan func(ctx context.Context), 64),
		infoDone:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(o)
	}

	go o.runInfoTasks()
	return o, nil
}

// Load submits every file. Submissions to the player, display and
// information channels are independent of each other.
func (o *Orchestrator) Load() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.typeInfoEnabled() {
		libs, types := o.opts.TypeInfo.Libs, o.opts.TypeInfo.Types
		o.queueInfo(func(ctx context.Context) { o.info.SetLibs(ctx, libs, types) })

		if !hasTypeScript(o.files) {
			msg := "type information is enabled but no .ts or .tsx file is present"
			o.logger.Warn("Type information has nothing to analyze", zap.String("entry", o.opts.Entry))
			o.emit(Event{Type: EventWarning, Message: msg})
		}
	}

	for _, name := range sortedNames(o.files) {
		o.submit(name, o.files[name])
	}
}

// Edit replaces one file and submits it
func (o *Orchestrator) Edit(filename, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.files[filename] = code
	o.submit(filename, code)
	o.emit(Event{Type: EventChange, Filename: filename, Files: copyFiles(o.files)})
}

// HandleMessage applies one encoded worker reply
func (o *Orchestrator) HandleMessage(ctx context.Context, payload string) error {
	msg, err := worker.DecodeMessage(payload)
	if err != nil {
		o.logger.Warn("Ignoring worker message", zap.Error(err))
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.metrics.RecordCompileResponse(worker.ChannelOf(msg.Filename), string(msg.Type))

	if o.stale(msg) {
		o.logger.Debug("Dropping stale worker reply",
			zap.String("filename", msg.Filename),
			zap.Uint64("generation", msg.Generation),
			zap.Uint64("latest", o.generations[msg.Filename]),
		)
		return nil
	}

	o.updateStatus(msg)

	if msg.Type != worker.TypeCode {
		return nil
	}

	if worker.IsDisplayID(msg.Filename) {
		o.displayCache[msg.Filename] = msg.Code
		o.emit(Event{Type: EventDisplay, Filename: worker.StripDisplayID(msg.Filename), Code: msg.Code})
		return nil
	}

	o.playerCache[msg.Filename] = msg.Code
	o.runApplication(ctx)
	return nil
}

// Serve applies worker replies until messages is closed or ctx is done
func (o *Orchestrator) Serve(ctx context.Context, messages <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			_ = o.HandleMessage(ctx, payload)
		}
	}
}

// Run re-runs the sandbox if every file has compiled at least once
func (o *Orchestrator) Run(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runApplication(ctx)
}

// QuickInfo asks the information channel about position in filename
func (o *Orchestrator) QuickInfo(ctx context.Context, filename string, position int) (*worker.QuickInfo, bool) {
	if !o.typeInfoEnabled() {
		return nil, false
	}
	return o.info.QuickInfo(ctx, filename, position)
}

// ToggleDetails shows or hides error details
func (o *Orchestrator) ToggleDetails(show bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.showDetails = show
}

// State returns a snapshot of the host-visible state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	display := make(map[string]string, len(o.displayCache))
	for name, code := range o.displayCache {
		display[worker.StripDisplayID(name)] = code
	}

	return State{
		Entry:         o.opts.Entry,
		Files:         copyFiles(o.files),
		Compiled:      sortedNames(o.playerCache),
		Display:       display,
		CompilerError: o.compilerError,
		RuntimeError:  o.runtimeError,
		ShowDetails:   o.showDetails,
		Logs:          append([]sandbox.ConsoleCommand{}, o.logs...),
		Runs:          o.runs,
	}
}

// Compiled returns the cached player code for filename
func (o *Orchestrator) Compiled(filename string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.playerCache[filename]
	return code, ok
}

// Display returns the cached display code for filename
func (o *Orchestrator) Display(filename string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, ok := o.displayCache[worker.DisplayID(filename)]
	return code, ok
}

// Close stops the information task loop
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.infoDone) })
}

// submit posts one file to every enabled channel
func (o *Orchestrator) submit(filename, code string) {
	if o.opts.PlayerEnabled {
		o.post(worker.Request{Filename: filename, Code: code, Options: o.opts.Transform})
	}
	if o.opts.DisplayEnabled {
		o.post(worker.Request{Filename: worker.DisplayID(filename), Code: code})
	}
	if o.typeInfoEnabled() {
		o.queueInfo(func(ctx context.Context) { o.info.UpdateFile(ctx, filename, code) })
	}
}

func (o *Orchestrator) post(req worker.Request) {
	o.generation++
	o.generations[req.Filename] = o.generation
	if o.opts.StrictGenerations {
		req.Generation = o.generation
	}

	if err := o.submitter.Post(req); err != nil {
		o.logger.Error("Failed to submit file", zap.String("filename", req.Filename), zap.Error(err))
	}
}

// stale reports a reply superseded by a later submission. Only checked in
// strict mode; otherwise the last reply to arrive wins.
func (o *Orchestrator) stale(msg worker.Message) bool {
	if !o.opts.StrictGenerations || msg.Generation == 0 {
		return false
	}
	return msg.Generation < o.generations[msg.Filename]
}

// updateStatus tracks the compiler error of the latest reply
func (o *Orchestrator) updateStatus(msg worker.Message) {
	switch msg.Type {
	case worker.TypeCode:
		hadError := o.compilerError != nil
		o.compilerError = nil
		o.showDetails = false
		if hadError {
			o.emit(Event{Type: EventCompilerError, Filename: msg.Filename})
		}
	case worker.TypeError:
		details := diagnostics.Details(msg.Error.Message)
		o.compilerError = &details
		o.emit(Event{Type: EventCompilerError, Filename: msg.Filename, Error: &details})
	}
}

// runApplication runs the entry once every file of the file map has a
// compiled version. Presence counts, so empty output passes the gate.
func (o *Orchestrator) runApplication(ctx context.Context) bool {
	for name := range o.files {
		if _, ok := o.playerCache[name]; !ok {
			return false
		}
	}

	o.logs = nil
	o.runtimeError = nil
	o.runs++

	ec := sandbox.NewEvaluationContext(o.opts.Entry, o.playerCache)
	o.emit(Event{Type: EventRun, RunID: ec.ID.String()})

	timer := monitoring.NewTimer(o.metrics)
	result, err := o.runner.Run(ctx, ec)

	if result != nil {
		for _, cmd := range result.Console {
			o.handleConsole(cmd)
		}
	}

	if err != nil {
		duration := timer.Stop(outcome(err))
		details := publicError(err)
		o.runtimeError = &details
		o.logger.Debug("Run failed", zap.String("run", ec.ID.String()), zap.Duration("duration", duration), zap.Error(err))
		o.emit(Event{Type: EventError, RunID: ec.ID.String(), Error: &details})
		return true
	}

	duration := timer.Stop("success")
	event := Event{Type: EventComplete, RunID: ec.ID.String(), Duration: float64(duration.Microseconds()) / 1000}
	if result != nil {
		event.Exports = result.Exports
	}
	o.emit(event)
	return true
}

// handleConsole applies one console command. Caller holds the lock.
func (o *Orchestrator) handleConsole(cmd sandbox.ConsoleCommand) {
	if !o.opts.ConsoleEnabled {
		return
	}

	switch cmd.Command {
	case "log":
		o.logs = append(o.logs, cmd)
	case "clear":
		o.logs = nil
	default:
		return
	}

	c := cmd
	o.emit(Event{Type: EventConsole, Filename: cmd.File, Console: &c})
}

func (o *Orchestrator) emit(event Event) {
	if o.handler != nil {
		o.handler(event)
	}
}

func (o *Orchestrator) typeInfoEnabled() bool {
	return o.opts.TypeInfo.Enabled && o.info != nil
}

// queueInfo hands a query to the serial info loop, dropping it when the
// loop is saturated
func (o *Orchestrator) queueInfo(task func(ctx context.Context)) {
	select {
	case o.infoTasks <- task:
	default:
		o.logger.Debug("Dropping type information update, queue full")
	}
}

func (o *Orchestrator) runInfoTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-o.infoDone:
			return
		case task := <-o.infoTasks:
			task(ctx)
		}
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, sandbox.ErrPrelude):
		return "prelude_error"
	case errors.Is(err, sandbox.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "runtime_error"
	}
}

func publicError(err error) diagnostics.PublicError {
	var rtErr *sandbox.RuntimeError
	if errors.As(err, &rtErr) {
		return rtErr.Details()
	}
	return diagnostics.Details(err.Error())
}

func hasTypeScript(files map[string]string) bool {
	for name := range files {
		switch strings.ToLower(path.Ext(name)) {
		case ".ts", ".tsx":
			return true
		}
	}
	return false
}

func copyFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for name, code := range files {
		out[name] = code
	}
	return out
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
