package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/wuyi-market/internal/metrics"
	"github.com/ksred/wuyi-market/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and route
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time

	// Configure limits per endpoint type
	writeLimit rate.Limit // reservations, trades, listing edits
	readLimit  rate.Limit
	burst      int
}

// NewRateLimiter allows requestsPerMinute writes and ten times as many reads
// per client and route.
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	return &RateLimiter{
		visitors:   make(map[string]*visitor),
		lastSweep:  time.Now(),
		writeLimit: rate.Limit(requestsPerMinute / 60.0),
		readLimit:  rate.Limit(requestsPerMinute * 10 / 60.0),
		burst:      5,
	}
}

func (rl *RateLimiter) getLimiter(method, path, clientIP string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > time.Minute {
		rl.cleanupVisitors(now)
	}

	key := clientIP + ":" + method + ":" + path
	v, exists := rl.visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case path == "/metrics", path == "/healthz":
			limit = rate.Inf
		case method == http.MethodGet:
			limit = rl.readLimit
		case strings.HasPrefix(path, "/api/v1/"):
			limit = rl.writeLimit
		default:
			limit = rate.Inf
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, rl.burst),
			lastSeen: now,
		}
		rl.visitors[key] = v
	}

	v.lastSeen = now
	return v.limiter
}

// cleanupVisitors drops buckets idle for three minutes. Caller holds mu.
func (rl *RateLimiter) cleanupVisitors(now time.Time) {
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*time.Minute {
			delete(rl.visitors, key)
		}
	}
	rl.lastSweep = now
}

// Handler rejects requests over the limit with 429
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.getLimiter(c.Request.Method, c.FullPath(), c.ClientIP())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestID tags the request with the caller's X-Request-ID or a new uuid
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Observe logs every request and feeds the HTTP collectors
func Observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, status, elapsed)

		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", c.GetString("requestID")).
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request handled")
	}
}
