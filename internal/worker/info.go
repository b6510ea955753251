package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/playground/internal/shared/id"
)

var ErrInfoUnavailable = errors.New("type information unavailable")

// InfoKind discriminates information requests
type InfoKind string

const (
	InfoLibs      InfoKind = "libs"
	InfoFile      InfoKind = "file"
	InfoQuickInfo InfoKind = "quickInfo"
)

// InfoRequest is a correlated query to the information worker
type InfoRequest struct {
	ID       string   `json:"id"`
	Type     InfoKind `json:"type"`
	Libs     []string `json:"libs,omitempty"`
	Types    []string `json:"types,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Code     string   `json:"code,omitempty"`
	Position int      `json:"position,omitempty"`
}

// InfoReply answers the request with the same ID
type InfoReply struct {
	ID        string     `json:"id"`
	Type      InfoKind   `json:"type"`
	Error     string     `json:"error,omitempty"`
	QuickInfo *QuickInfo `json:"quickInfo,omitempty"`
}

// InfoTransport is the message port of an information worker
type InfoTransport interface {
	Send(payload string) error
	Replies() <-chan string
	Close() error
}

// InfoWorker serves information requests from an Analyzer on its own
// goroutine, exchanging encoded strings like the transform pool.
type InfoWorker struct {
	analyzer *Analyzer
	logger   *zap.Logger

	requests chan string
	replies  chan string
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewInfoWorker starts a worker over analyzer
func NewInfoWorker(analyzer *Analyzer, logger *zap.Logger) *InfoWorker {
	logger = logging.OrNop(logger)

	w := &InfoWorker{
		analyzer: analyzer,
		logger:   logger,
		requests: make(chan string, 16),
		replies:  make(chan string, 16),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()
	return w
}

// Send queues a request payload
func (w *InfoWorker) Send(payload string) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	select {
	case w.requests <- payload:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Replies returns the reply stream. It is closed after Close.
func (w *InfoWorker) Replies() <-chan string {
	return w.replies
}

// Close stops the worker
func (w *InfoWorker) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		close(w.replies)
	})
	return nil
}

func (w *InfoWorker) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case payload := <-w.requests:
			reply := w.handle(payload)

			encoded, err := sonic.MarshalString(reply)
			if err != nil {
				w.logger.Error("Failed to encode info reply", zap.String("id", reply.ID), zap.Error(err))
				continue
			}

			select {
			case w.replies <- encoded:
			case <-w.done:
				return
			}
		}
	}
}

func (w *InfoWorker) handle(payload string) InfoReply {
	var req InfoRequest
	if err := sonic.UnmarshalString(payload, &req); err != nil {
		return InfoReply{Error: fmt.Sprintf("malformed request: %v", err)}
	}

	reply := InfoReply{ID: req.ID, Type: req.Type}

	switch req.Type {
	case InfoLibs:
		w.analyzer.SetLibs(req.Libs, req.Types)
	case InfoFile:
		w.analyzer.UpdateFile(req.Filename, req.Code)
	case InfoQuickInfo:
		info, err := w.analyzer.QuickInfo(req.Filename, req.Position)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.QuickInfo = info
		}
	default:
		reply.Error = fmt.Sprintf("unknown request type %q", req.Type)
	}

	return reply
}

// InfoClient is the best-effort side channel to the information worker.
// The worker is created on first use and at most once. Every failure
// resolves to "no information"; nothing here can fail a compile or a run.
type InfoClient struct {
	factory func() (InfoTransport, error)
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics

	once      sync.Once
	transport InfoTransport
	initErr   error

	mu      sync.Mutex
	pending map[string]chan InfoReply
}

// NewInfoClient creates a client. factory is called lazily, once.
func NewInfoClient(factory func() (InfoTransport, error), timeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *InfoClient {
	logger = logging.OrNop(logger)
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &InfoClient{
		factory: factory,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		pending: make(map[string]chan InfoReply),
		breaker: resilience.New("typeinfo", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Info("Info worker breaker changed state",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// NewAnalyzerInfoClient creates a client whose worker wraps a new Analyzer
func NewAnalyzerInfoClient(transformer Transformer, timeout time.Duration, logger *zap.Logger, metrics *monitoring.Metrics) *InfoClient {
	return NewInfoClient(func() (InfoTransport, error) {
		return NewInfoWorker(NewAnalyzer(transformer), logger), nil
	}, timeout, logger, metrics)
}

// SetLibs tells the worker which libraries and type packages are in use
func (c *InfoClient) SetLibs(ctx context.Context, libs, types []string) bool {
	_, ok := c.ask(ctx, InfoRequest{Type: InfoLibs, Libs: libs, Types: types})
	return ok
}

// UpdateFile sends the current source of filename
func (c *InfoClient) UpdateFile(ctx context.Context, filename, code string) bool {
	_, ok := c.ask(ctx, InfoRequest{Type: InfoFile, Filename: filename, Code: code})
	return ok
}

// QuickInfo returns information about the symbol at position. Info with no
// display parts counts as none.
func (c *InfoClient) QuickInfo(ctx context.Context, filename string, position int) (*QuickInfo, bool) {
	reply, ok := c.ask(ctx, InfoRequest{Type: InfoQuickInfo, Filename: filename, Position: position})
	if !ok || reply.QuickInfo == nil || len(reply.QuickInfo.DisplayParts) == 0 {
		return nil, false
	}
	return reply.QuickInfo, true
}

// Close shuts the worker down if it was ever started
func (c *InfoClient) Close() error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	if transport == nil {
		return nil
	}
	return transport.Close()
}

// ask runs one query and swallows its failure
func (c *InfoClient) ask(ctx context.Context, req InfoRequest) (InfoReply, bool) {
	reply, err := c.Query(ctx, req)
	if err != nil {
		result := "error"
		if resilience.IsRejected(err) {
			result = "rejected"
		}
		c.metrics.RecordInfoQuery(string(req.Type), result)
		c.logger.Debug("Info query returned no information",
			zap.String("type", string(req.Type)),
			zap.String("filename", req.Filename),
			zap.Error(err),
		)
		return InfoReply{}, false
	}

	c.metrics.RecordInfoQuery(string(req.Type), "ok")
	return reply, true
}

// Query sends req with a fresh id and waits for the matching reply. A reply
// carrying an error is the target lacking data, not the worker failing, so
// it does not count against the breaker.
func (c *InfoClient) Query(ctx context.Context, req InfoRequest) (InfoReply, error) {
	reply, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (InfoReply, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		return InfoReply{}, fmt.Errorf("%w: %w", ErrInfoUnavailable, err)
	}
	if reply.Error != "" {
		return InfoReply{}, fmt.Errorf("%w: %s", ErrInfoUnavailable, reply.Error)
	}
	return reply, nil
}

func (c *InfoClient) roundTrip(ctx context.Context, req InfoRequest) (InfoReply, error) {
	transport, err := c.worker()
	if err != nil {
		return InfoReply{}, err
	}

	req.ID = id.NewRequestID().String()
	ch := make(chan InfoReply, 1)

	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	payload, err := sonic.MarshalString(req)
	if err != nil {
		return InfoReply{}, fmt.Errorf("encode info request: %w", err)
	}
	if err := transport.Send(payload); err != nil {
		return InfoReply{}, fmt.Errorf("send info request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return InfoReply{}, ctx.Err()
	}
}

// worker returns the lazily created transport
func (c *InfoClient) worker() (InfoTransport, error) {
	c.once.Do(func() {
		transport, err := c.factory()
		if err != nil {
			c.initErr = fmt.Errorf("start info worker: %w", err)
			return
		}

		c.mu.Lock()
		c.transport = transport
		c.mu.Unlock()

		go c.dispatch(transport)
	})

	if c.initErr != nil {
		return nil, c.initErr
	}
	return c.transport, nil
}

// dispatch routes replies to their pending request. Replies nobody waits
// for any more are dropped.
func (c *InfoClient) dispatch(transport InfoTransport) {
	for payload := range transport.Replies() {
		var reply InfoReply
		if err := sonic.UnmarshalString(payload, &reply); err != nil {
			c.logger.Debug("Discarding malformed info reply", zap.Error(err))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		if ok {
			delete(c.pending, reply.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("Discarding unmatched info reply", zap.String("id", reply.ID))
			continue
		}
		ch <- reply
	}
}
