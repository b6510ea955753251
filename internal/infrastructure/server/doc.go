// Package server assembles the playground HTTP server: the session manager,
// the JSON API, the event stream, Prometheus metrics and the middleware
// stack in front of them.
//
//	srv, err := server.NewServer(config.LoadOrDefault())
//	go srv.Run()
//	defer srv.Close(ctx)
package server
