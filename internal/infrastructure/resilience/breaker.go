package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the position of a breaker in its closed/open/half-open cycle
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero values get defaults in New.
type Settings struct {
	MaxRequests   uint32        // trial requests admitted while half-open
	Interval      time.Duration // closed-state window after which counts reset
	Timeout       time.Duration // time spent open before trial requests
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from State, to State)
}

// Counts are the outcomes seen in the current window
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) record(success bool) {
	if success {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker stops calling a dependency that keeps failing. Every state
// change starts a new window; outcomes reported for an older window are
// ignored.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	window   uint64
	deadline time.Time // end of the closed window or of the open period
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool { return counts.ConsecutiveFailures > 5 }
	}

	return &Breaker{
		name:     name,
		settings: settings,
		deadline: time.Now().Add(settings.Interval),
	}
}

func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(time.Now())
	return b.state
}

// Counts returns the counts of the current window
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs req if the breaker admits it. A request that fails because
// ctx was cancelled is not counted.
func (b *Breaker) Execute(ctx context.Context, req func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	window, err := b.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			b.settle(window, false)
		}
	}()

	err = req(ctx)
	settled = true
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.abandon(window)
		return err
	}
	b.settle(window, err == nil)
	return err
}

// Call runs fn through b and returns its result
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// IsRejected reports whether err came from the breaker refusing a request
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(time.Now())
	switch {
	case b.state == StateOpen:
		return b.window, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests:
		return b.window, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.window, nil
}

func (b *Breaker) settle(window uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.advance(now)
	if window != b.window {
		return
	}

	b.counts.record(success)
	switch {
	case b.state == StateClosed && !success && b.settings.ReadyToTrip(b.counts):
		b.enter(StateOpen, now)
	case b.state == StateHalfOpen && !success:
		b.enter(StateOpen, now)
	case b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests:
		b.enter(StateClosed, now)
	}
}

// abandon returns the slot of a request that never produced an outcome
func (b *Breaker) abandon(window uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(time.Now())
	if window == b.window && b.counts.Requests > 0 {
		b.counts.Requests--
	}
}

// advance applies the time based transitions that are due at now
func (b *Breaker) advance(now time.Time) {
	if b.state == StateHalfOpen || now.Before(b.deadline) {
		return
	}
	if b.state == StateOpen {
		b.enter(StateHalfOpen, now)
		return
	}
	b.counts = Counts{}
	b.window++
	b.deadline = now.Add(b.settings.Interval)
}

func (b *Breaker) enter(state State, now time.Time) {
	if b.state == state {
		return
	}

	from := b.state
	b.state = state
	b.counts = Counts{}
	b.window++

	switch state {
	case StateClosed:
		b.deadline = now.Add(b.settings.Interval)
	case StateOpen:
		b.deadline = now.Add(b.settings.Timeout)
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, state)
	}
}
