package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/worker"
)

var (
	ErrTooManySessions = errors.New("session limit reached")
	ErrNotFound        = errors.New("session not found")
)

// Stats summarizes the manager
type Stats struct {
	Active  int `json:"active"`
	Created int `json:"created"`
	Max     int `json:"max"`
}

// Manager creates and tracks live playgrounds
type Manager struct {
	sessions sync.Map
	count    int
	created  int
	mu       sync.Mutex

	cfg     *config.Config
	vendor  *sandbox.VendorRegistry
	env     sandbox.Environment
	fetcher *fetch.Client
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithVendor sets the registry every session starts from
func WithVendor(vendor *sandbox.VendorRegistry) Option {
	return func(m *Manager) { m.vendor = vendor }
}

// WithEnvironment sets the host capabilities shared by every session
func WithEnvironment(env sandbox.Environment) Option {
	return func(m *Manager) { m.env = env }
}

// WithFetcher sets the client that downloads vendor sources named by URL
func WithFetcher(fetcher *fetch.Client) Option {
	return func(m *Manager) { m.fetcher = fetcher }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a session manager
func NewManager(cfg *config.Config, opts ...Option) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Manager{
		cfg:    cfg,
		vendor: sandbox.NewVendorRegistry(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fetcher == nil {
		m.fetcher = fetch.NewClient(fetch.Config{
			Timeout: cfg.Vendor.FetchTimeout,
			Retries: cfg.Vendor.FetchRetries,
		}, m.logger)
	}
	return m
}

// Create starts a playground and submits its files
func (m *Manager) Create(spec Spec) (*Session, error) {
	s, _, _, err := m.start(spec, 0)
	return s, err
}

// Start is Create with a subscription opened before any file is submitted,
// so the caller observes every event of the first run
func (m *Manager) Start(spec Spec, buffer int) (*Session, <-chan pipeline.Event, func(), error) {
	if buffer <= 0 {
		buffer = 256
	}
	return m.start(spec, buffer)
}

func (m *Manager) start(spec Spec, buffer int) (*Session, <-chan pipeline.Event, func(), error) {
	if err := m.reserve(); err != nil {
		return nil, nil, nil, err
	}

	s, err := m.build(spec)
	if err != nil {
		m.release()
		return nil, nil, nil, err
	}

	m.sessions.Store(s.ID, s)
	m.metrics.IncSessionsTotal()
	m.logger.Info("Session created",
		zap.String("id", s.ID),
		zap.String("entry", spec.Entry),
		zap.Int("files", len(spec.Files)))

	var (
		events <-chan pipeline.Event
		cancel func()
	)
	if buffer > 0 {
		events, cancel = s.Subscribe(buffer)
	}

	s.orchestrator.Load()
	return s, events, cancel, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(id string) (*Session, bool) {
	val, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// List returns every session, oldest first
func (m *Manager) List() []Info {
	var infos []Info
	m.sessions.Range(func(_, value interface{}) bool {
		infos = append(infos, value.(*Session).Info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Close stops and removes a session
func (m *Manager) Close(id string) bool {
	val, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return false
	}

	val.(*Session).close()
	m.release()
	m.logger.Info("Session closed", zap.String("id", id))
	return true
}

// CloseAll stops every session
func (m *Manager) CloseAll() {
	m.sessions.Range(func(key, _ interface{}) bool {
		m.Close(key.(string))
		return true
	})
}

// Stats returns manager statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Active: m.count, Created: m.created, Max: m.cfg.Sessions.Max}
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit := m.cfg.Sessions.Max; limit > 0 && m.count >= limit {
		return fmt.Errorf("%w: %d", ErrTooManySessions, limit)
	}
	m.count++
	m.created++
	m.metrics.SetSessionsActive(m.count)
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count--
	m.metrics.SetSessionsActive(m.count)
}

// build wires the workers, runtime and orchestrator of one playground
func (m *Manager) build(spec Spec) (*Session, error) {
	sources, err := m.fetcher.Resolve(context.Background(), spec.Vendor)
	if err != nil {
		return nil, err
	}
	vendor := m.vendor.Clone()
	for _, name := range sortedKeys(sources) {
		if err := vendor.RegisterSource(name, sources[name]); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.New().String()
	logger := logging.ForSession(m.logger, sessionID)

	title := spec.Title
	if title == "" {
		title = spec.Entry
	}

	transformer := worker.NewEsbuildTransformer(worker.Options{
		JSXFactory:  m.cfg.Compiler.JSXFactory,
		JSXFragment: m.cfg.Compiler.JSXFragment,
		Target:      m.cfg.Compiler.Target,
	})
	pool := worker.NewPool(transformer, worker.PoolConfig{
		Workers:   m.cfg.Compiler.Workers,
		QueueSize: m.cfg.Compiler.QueueSize,
	}, logger, m.metrics)

	runtime := sandbox.New(sandbox.Config{
		AssetRoot:        m.cfg.Sandbox.AssetRoot,
		Prelude:          spec.Prelude,
		Timeout:          m.cfg.Sandbox.Timeout,
		MaxCallStackSize: m.cfg.Sandbox.MaxCallStackSize,
		EnableConsole:    true,
		EnableDOM:        true,
	},
		sandbox.WithEnvironment(m.env),
		sandbox.WithVendorRegistry(vendor),
		sandbox.WithLogger(logger),
	)

	opts := pipeline.DefaultOptions(spec.Entry, spec.Files)
	opts.DisplayEnabled = spec.Display
	opts.StrictGenerations = m.cfg.Pipeline.StrictGenerations
	if spec.StrictGenerations != nil {
		opts.StrictGenerations = *spec.StrictGenerations
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          sessionID,
		Title:       title,
		CreatedAt:   time.Now(),
		pool:        pool,
		logger:      logger,
		cancel:      cancel,
		done:        make(chan struct{}),
		updatedAt:   time.Now(),
		subscribers: make(map[int]chan pipeline.Event),
	}

	options := []pipeline.Option{
		pipeline.WithHandler(s.broadcast),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(m.metrics),
	}

	typeInfo := m.cfg.TypeInfo.Enabled
	if spec.TypeInfo != nil {
		typeInfo = spec.TypeInfo.Enabled
		opts.TypeInfo.Libs = spec.TypeInfo.Libs
		opts.TypeInfo.Types = spec.TypeInfo.Types
	}
	if typeInfo {
		opts.TypeInfo.Enabled = true
		s.info = worker.NewAnalyzerInfoClient(transformer, m.cfg.TypeInfo.Timeout, logger, m.metrics)
		options = append(options, pipeline.WithInfoSource(s.info))
	}

	orchestrator, err := pipeline.New(opts, pool, runtime, options...)
	if err != nil {
		cancel()
		_ = pool.Close()
		if s.info != nil {
			_ = s.info.Close()
		}
		return nil, err
	}
	s.orchestrator = orchestrator

	go func() {
		defer close(s.done)
		if err := orchestrator.Serve(ctx, pool.Messages()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Session stopped serving", zap.Error(err))
		}
	}()

	return s, nil
}

func sortedKeys(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
