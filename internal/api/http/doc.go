// Package http exposes playground sessions over a JSON API.
//
// Routes:
//
//	POST   /sessions                          create a playground
//	GET    /sessions                          list playgrounds
//	GET    /sessions/:id                      session info and state
//	PUT    /sessions/:id/files                edit files
//	POST   /sessions/:id/run                  re-run the entry
//	POST   /sessions/:id/quick-info           hover information
//	GET    /sessions/:id/display/*filename    display channel code
//	DELETE /sessions/:id                      close a playground
//	GET    /assets/*path                      files behind asset URIs
//
// The event stream of a session is served by package ws.
package http
