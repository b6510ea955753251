package session

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/fetch"
	"github.com/GriffinCanCode/playground/internal/pipeline"
	"github.com/GriffinCanCode/playground/internal/sandbox"
)

func newTestManager(t *testing.T, limit int) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Sessions.Max = limit
	m := NewManager(cfg)
	t.Cleanup(m.CloseAll)
	return m
}

func waitForRun(t *testing.T, s *Session, runs int) pipeline.State {
	t.Helper()
	var state pipeline.State
	require.Eventually(t, func() bool {
		state = s.State()
		return state.Runs >= runs
	}, 5*time.Second, 10*time.Millisecond)
	return state
}

func TestCreateRunsEntry(t *testing.T) {
	m := newTestManager(t, 4)

	s, err := m.Create(Spec{
		Entry: "index.tsx",
		Files: map[string]string{
			"index.tsx": "import { value } from './value';\nexport default value * 2;",
			"value.ts":  "export const value: number = 21;",
		},
	})
	require.NoError(t, err)

	state := waitForRun(t, s, 1)
	assert.Nil(t, state.Error())
	assert.ElementsMatch(t, []string{"index.tsx", "value.ts"}, state.Compiled)
	assert.Equal(t, "index.tsx", s.Title)
}

func TestCreateRejectsMissingEntry(t *testing.T) {
	m := newTestManager(t, 4)

	_, err := m.Create(Spec{Entry: "main.js", Files: map[string]string{"other.js": ""}})
	require.ErrorIs(t, err, pipeline.ErrNoEntry)
	assert.Equal(t, 0, m.Stats().Active)
}

func TestCreateEnforcesLimit(t *testing.T) {
	m := newTestManager(t, 1)
	spec := Spec{Entry: "index.js", Files: map[string]string{"index.js": ""}}

	first, err := m.Create(spec)
	require.NoError(t, err)

	_, err = m.Create(spec)
	require.ErrorIs(t, err, ErrTooManySessions)

	require.True(t, m.Close(first.ID))
	_, err = m.Create(spec)
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1, Created: 2, Max: 1}, m.Stats())
}

func TestVendorSourcesStayPerSession(t *testing.T) {
	base := sandbox.NewVendorRegistry()
	require.NoError(t, base.Register("shared", "value"))

	m := NewManager(config.Default(), WithVendor(base))
	t.Cleanup(m.CloseAll)

	s, err := m.Create(Spec{
		Entry:  "index.js",
		Files:  map[string]string{"index.js": "module.exports = require('greeting') + require('shared');"},
		Vendor: map[string]string{"greeting": "module.exports = 'hello ';"},
	})
	require.NoError(t, err)

	state := waitForRun(t, s, 1)
	assert.Nil(t, state.Error())
	assert.False(t, base.Has("greeting"))
}

func TestVendorURLsAreFetched(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/greeting.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("module.exports = 'fetched';"))
	}))
	defer srv.Close()

	m := newTestManager(t, 4)
	spec := Spec{
		Entry:  "index.js",
		Files:  map[string]string{"index.js": "module.exports = require('greeting');"},
		Vendor: map[string]string{"greeting": srv.URL + "/greeting.js"},
	}

	for i := 0; i < 2; i++ {
		_, events, cancel, err := m.Start(spec, 0)
		require.NoError(t, err)

		var complete pipeline.Event
		timeout := time.After(5 * time.Second)
		for complete.Type != pipeline.EventComplete {
			select {
			case complete = <-events:
			case <-timeout:
				t.Fatal("no complete event")
			}
		}
		cancel()
		assert.Equal(t, "fetched", complete.Exports)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	spec.Vendor = map[string]string{"gone": srv.URL + "/gone.js"}
	_, err := m.Create(spec)
	require.ErrorIs(t, err, fetch.ErrFetchFailed)
	assert.Equal(t, 2, m.Stats().Active)
}

func TestGetListClose(t *testing.T) {
	m := newTestManager(t, 4)

	a, err := m.Create(Spec{Title: "first", Entry: "a.js", Files: map[string]string{"a.js": ""}})
	require.NoError(t, err)
	b, err := m.Create(Spec{Title: "second", Entry: "b.js", Files: map[string]string{"b.js": ""}})
	require.NoError(t, err)

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{infos[0].ID, infos[1].ID})

	assert.True(t, m.Close(a.ID))
	assert.False(t, m.Close(a.ID))
	_, ok = m.Get(a.ID)
	assert.False(t, ok)

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSubscribeReceivesEdits(t *testing.T) {
	m := newTestManager(t, 4)

	s, err := m.Create(Spec{Entry: "index.js", Files: map[string]string{"index.js": "module.exports = 1;"}})
	require.NoError(t, err)
	waitForRun(t, s, 1)

	events, cancel := s.Subscribe(16)
	defer cancel()

	s.Edit("index.js", "console.log('edited'); module.exports = 2;")

	seen := map[pipeline.EventType]bool{}
	timeout := time.After(5 * time.Second)
	for !seen[pipeline.EventComplete] {
		select {
		case event := <-events:
			seen[event.Type] = true
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}

	assert.True(t, seen[pipeline.EventChange])
	assert.True(t, seen[pipeline.EventRun])
	assert.True(t, seen[pipeline.EventConsole])
}

func TestSubscriptionEndsOnClose(t *testing.T) {
	m := newTestManager(t, 4)

	s, err := m.Create(Spec{Entry: "index.js", Files: map[string]string{"index.js": ""}})
	require.NoError(t, err)

	events, cancel := s.Subscribe(1)
	require.True(t, m.Close(s.ID))
	cancel()

	for range events {
	}

	closed, _ := s.Subscribe(1)
	_, open := <-closed
	assert.False(t, open)
}

func TestDisplayChannel(t *testing.T) {
	m := newTestManager(t, 4)

	s, err := m.Create(Spec{
		Entry:   "index.jsx",
		Files:   map[string]string{"index.jsx": "module.exports = <div />;"},
		Display: true,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		code, ok := s.Display("index.jsx")
		return ok && code != ""
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartObservesFirstRun(t *testing.T) {
	m := newTestManager(t, 4)

	s, events, cancel, err := m.Start(Spec{
		Entry: "index.js",
		Files: map[string]string{"index.js": "console.log('first'); module.exports = 1;"},
	}, 0)
	require.NoError(t, err)
	defer cancel()

	var types []pipeline.EventType
	timeout := time.After(5 * time.Second)
	for len(types) == 0 || types[len(types)-1] != pipeline.EventComplete {
		select {
		case event := <-events:
			types = append(types, event.Type)
		case <-timeout:
			t.Fatalf("no complete event, saw %v", types)
		}
	}

	assert.Equal(t, []pipeline.EventType{pipeline.EventRun, pipeline.EventConsole, pipeline.EventComplete}, types)
	assert.Equal(t, 1, s.State().Runs)
}
