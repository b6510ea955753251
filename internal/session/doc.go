// Package session manages live playgrounds.
//
// A Session bundles the transform worker pool, the optional information
// channel, the sandbox runtime and the orchestrator of one playground, and
// fans its events out to subscribers such as WebSocket connections.
package session
