// Package middleware provides the gin middleware in front of the
// playground API.
//
//   - CORS: editors on other origins may create sessions and open streams
//   - RateLimit: per-IP token buckets with idle client eviction
//   - GlobalRateLimit: one bucket shared by every client
//
// Limiters is also used directly by the WebSocket handler to throttle
// edits per connection.
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
