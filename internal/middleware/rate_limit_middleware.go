// internal/middleware/rate_limit_middleware.go
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"scope-service/internal/config"
	"scope-service/internal/utils"
)

// idleLimiterTTL is how long an unused client limiter is kept
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	window   time.Duration
	clients  map[string]*clientLimiter
	pruned   time.Time
	mutex    sync.Mutex
	security *utils.SecurityLogger
	now      func() time.Time
}

// NewRateLimiter allows cfg.RateLimitRequests per cfg.RateLimitWindow and
// client, bursting up to the full allowance
func NewRateLimiter(cfg *config.SecurityConfig, logger *zap.Logger) *RateLimiter {
	requests := max(cfg.RateLimitRequests, 1)
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return &RateLimiter{
		limit:    rate.Limit(float64(requests) / window.Seconds()),
		burst:    requests,
		window:   window,
		clients:  make(map[string]*clientLimiter),
		security: utils.NewSecurityLogger(logger),
		now:      time.Now,
	}
}

// Allow reports whether the client may make a request now
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	if now.Sub(rl.pruned) > idleLimiterTTL {
		rl.prune(now)
	}

	cl, ok := rl.clients[clientIP]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.clients)
}

// prune forgets clients idle for longer than idleLimiterTTL
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-idleLimiterTTL)
	for ip, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
	rl.pruned = now
}

// Middleware rejects requests over the limit with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			rl.security.LogRateLimitViolation(ip, c.Request.URL.Path, rl.burst, rl.window.String())
			c.Header("Retry-After", "1")
			utils.ErrorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware creates rate limiting middleware
func RateLimitMiddleware(cfg *config.SecurityConfig, logger *zap.Logger) gin.HandlerFunc {
	if !cfg.RateLimitEnabled {
		return func(c *gin.Context) { c.Next() }
	}
	return NewRateLimiter(cfg, logger).Middleware()
}
