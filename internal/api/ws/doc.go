// Package ws streams playground events over WebSocket connections.
//
// A connection is bound to one session (GET /sessions/:id/stream). The
// server first sends a "connected" message with the session info and state,
// then every pipeline event as it happens: run, console, error,
// compilerError, display, complete, change and warning.
//
// Message Types (Client → Server):
//   - edit: replace one file ({filename, code}), rate limited per connection
//   - quickInfo: hover information ({requestId, filename, position})
//   - toggleDetails: show or hide error details ({show})
//   - ping: keep-alive, answered with pong
//
// The connection is closed with a normal closure when the session closes.
package ws
