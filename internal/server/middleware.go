package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"auction-tracker/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":    c.Request.Method,
		"path":      c.FullPath(),
		"status":    c.Writer.Status(),
		"latency":   time.Since(start).String(),
		"client_ip": c.ClientIP(),
	}
	if id := c.Param("auction_id"); id != "" {
		fields["auction_id"] = id
	}
	utils.Info("HTTP Request", fields)
}

var errRateLimited = errors.New("rate limit exceeded")

// RateLimiter hands each client IP its own token bucket
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRateLimiter allows rps requests per second per client with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Middleware rejects requests over the client's budget with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			utils.Warn("RateLimiter: request rejected", map[string]any{
				"client_ip": c.ClientIP(),
				"path":      c.FullPath(),
			})
			utils.JSONError(c, http.StatusTooManyRequests, errRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}
