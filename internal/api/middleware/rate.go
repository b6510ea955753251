package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	IdleTTL           time.Duration // Forget clients idle for this long, zero keeps them
}

// DefaultRateLimitConfig returns the limits used by the server
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             200,
		IdleTTL:           10 * time.Minute,
	}
}

// NewLimiter creates a token bucket for cfg
func (cfg RateLimitConfig) NewLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

// Limiters keeps one token bucket per key
type Limiters struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients map[string]*client
	sweep   time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiters creates an empty keyed limiter set
func NewLimiters(cfg RateLimitConfig) *Limiters {
	return &Limiters{cfg: cfg, clients: make(map[string]*client), sweep: time.Now()}
}

// Allow reports whether key may make a request now
func (l *Limiters) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: l.cfg.NewLimiter()}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.evict(now)
	limiter := c.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked keys
func (l *Limiters) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// evict drops idle clients at most once per IdleTTL. Caller holds mu.
func (l *Limiters) evict(now time.Time) {
	ttl := l.cfg.IdleTTL
	if ttl <= 0 || now.Sub(l.sweep) < ttl {
		return
	}
	l.sweep = now
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) >= ttl {
			delete(l.clients, key)
		}
	}
}

// RateLimit creates a per-IP rate limiting middleware
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiters := NewLimiters(cfg)

	return func(c *gin.Context) {
		if !limiters.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a rate limiting middleware shared by all clients
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := cfg.NewLimiter()

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
