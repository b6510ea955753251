package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/worker"
)

// Spec describes a playground to create
type Spec struct {
	Title             string            `json:"title,omitempty"`
	Entry             string            `json:"entry" binding:"required"`
	Files             map[string]string `json:"files" binding:"required"`
	Prelude           string            `json:"prelude,omitempty"`
	Vendor            map[string]string `json:"vendor,omitempty"` // name -> CommonJS source
	Display           bool              `json:"display,omitempty"`
	TypeInfo          *TypeInfoSpec     `json:"typeInfo,omitempty"`
	StrictGenerations *bool             `json:"strictGenerations,omitempty"`
}

// TypeInfoSpec enables the information channel for one playground
type TypeInfoSpec struct {
	Enabled bool     `json:"enabled"`
	Libs    []string `json:"libs,omitempty"`
	Types   []string `json:"types,omitempty"`
}

// Info summarizes a session for listings
type Info struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Entry     string    `json:"entry"`
	Files     int       `json:"files"`
	Runs      int       `json:"runs"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is one live playground: its workers, runtime, orchestrator and
// the subscribers streaming its events.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time

	orchestrator *pipeline.Orchestrator
	pool         *worker.Pool
	info         *worker.InfoClient
	logger       *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.RWMutex
	updatedAt   time.Time
	subscribers map[int]chan pipeline.Event
	nextSub     int
	closed      bool
}

// Edit replaces a file and submits it for compilation
func (s *Session) Edit(filename, code string) {
	s.touch()
	s.orchestrator.Edit(filename, code)
}

// EditAll applies several edits in filename order
func (s *Session) EditAll(files map[string]string) {
	s.touch()
	for _, name := range sortedKeys(files) {
		s.orchestrator.Edit(name, files[name])
	}
}

// QuickInfo asks the information channel about a position
func (s *Session) QuickInfo(ctx context.Context, filename string, position int) (*worker.QuickInfo, bool) {
	return s.orchestrator.QuickInfo(ctx, filename, position)
}

// ToggleDetails shows or hides error details
func (s *Session) ToggleDetails(show bool) {
	s.orchestrator.ToggleDetails(show)
}

// Run re-runs the entry if every file has compiled
func (s *Session) Run(ctx context.Context) bool {
	return s.orchestrator.Run(ctx)
}

// State returns the orchestrator snapshot
func (s *Session) State() pipeline.State {
	return s.orchestrator.State()
}

// Display returns display channel code for filename
func (s *Session) Display(filename string) (string, bool) {
	return s.orchestrator.Display(filename)
}

// Info summarizes the session
func (s *Session) Info() Info {
	state := s.orchestrator.State()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Info{
		ID:        s.ID,
		Title:     s.Title,
		Entry:     state.Entry,
		Files:     len(state.Files),
		Runs:      state.Runs,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}

// Subscribe streams events until the returned cancel func is called or the
// session closes. A subscriber that cannot keep up misses events.
func (s *Session) Subscribe(buffer int) (<-chan pipeline.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan pipeline.Event, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// Done is closed once the session has shut down
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) broadcast(event pipeline.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Debug("Dropping event for slow subscriber", zap.Int("subscriber", id), zap.String("event", string(event.Type)))
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// close stops the workers and ends every subscription
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.pool.Close()
	<-s.done

	s.orchestrator.Close()
	if s.info != nil {
		_ = s.info.Close()
	}

	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
}
