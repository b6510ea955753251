/*
Package monitoring provides Prometheus metrics for the playground service.

# Overview

Metrics cover the HTTP API, the compile channels, sandbox runs, type
information queries, sessions and WebSocket streams. Collectors are
registered on the registerer passed to NewMetrics, never on the global
default registry.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	defer metrics.Close()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics)
	// ... run the sandbox ...
	timer.Stop("success")

A nil *Metrics is valid and records nothing.
*/
package monitoring
