// Package main is the entry point for the playground API server.
//
// The server hosts live playground sessions: clients create a session
// from a set of source files, push edits over REST or WebSocket, and
// receive compiled output, console commands and runtime errors as they
// happen.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -assets ./public
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
