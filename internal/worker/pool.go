package worker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
)

var ErrClosed = errors.New("worker pool is closed")

// PoolConfig configures a transform pool
type PoolConfig struct {
	Workers   int // Concurrent transforms; more than one allows out-of-order replies
	QueueSize int // Buffered requests before Post hands off to a goroutine
}

// DefaultPoolConfig returns the pool configuration used by sessions
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, QueueSize: 64}
}

// Pool is the persistent code-transform worker. Requests are posted without
// waiting; every reply arrives on Messages as one encoded string.
type Pool struct {
	transformer Transformer
	logger      *zap.Logger
	metrics     *monitoring.Metrics

	queue    chan Request
	messages chan string
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts config.Workers goroutines running transformer
func NewPool(transformer Transformer, config PoolConfig, logger *zap.Logger, metrics *monitoring.Metrics) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	logger = logging.OrNop(logger)

	p := &Pool{
		transformer: transformer,
		logger:      logger,
		metrics:     metrics,
		queue:       make(chan Request, config.QueueSize),
		messages:    make(chan string, config.QueueSize),
		done:        make(chan struct{}),
	}

	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.work()
	}

	return p
}

// Post submits req. It never blocks: when the queue is full the request is
// handed to a goroutine that waits for room.
func (p *Pool) Post(req Request) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	p.metrics.RecordCompileRequest(ChannelOf(req.Filename))
	p.metrics.AddCompileQueued(1)

	select {
	case p.queue <- req:
	default:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			select {
			case p.queue <- req:
			case <-p.done:
			}
		}()
	}
	return nil
}

// Messages returns the reply stream. It is closed after Close.
func (p *Pool) Messages() <-chan string {
	return p.messages
}

// Close stops the workers and drops requests still queued
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.messages)
	return nil
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case req := <-p.queue:
			p.metrics.AddCompileQueued(-1)

			payload, err := EncodeMessage(p.process(req))
			if err != nil {
				p.logger.Error("Failed to encode worker reply", zap.String("filename", req.Filename), zap.Error(err))
				continue
			}

			select {
			case p.messages <- payload:
			case <-p.done:
				return
			}
		}
	}
}

// process runs one transform. Display names are stripped before reaching
// the transformer and restored on the reply.
func (p *Pool) process(req Request) Message {
	filename := StripDisplayID(req.Filename)
	start := time.Now()

	code, err := p.transformer.Transform(filename, req.Code, req.Options)
	p.metrics.ObserveCompile(LoaderName(filename), time.Since(start))

	var msg Message
	if err != nil {
		p.logger.Debug("Transform failed", zap.String("filename", req.Filename), zap.Error(err))
		msg = ErrorMessage(req.Filename, err.Error())
	} else {
		msg = CodeMessage(req.Filename, code)
	}
	msg.Generation = req.Generation
	return msg
}
