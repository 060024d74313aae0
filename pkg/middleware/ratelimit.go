package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/kettle/internal/lifecycle"
	"github.com/sirosfoundation/kettle/pkg/config"
)

const rateLimitMessage = "Too many requests. Please try again later."

// RateLimiter limits requests per client. A client exceeding its budget is
// locked out for the configured period.
type RateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

// clientLimiter tracks rate limiting state for a single client
type clientLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockoutEnd time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	cfg.SetDefaults()
	return &RateLimiter{
		config:          cfg,
		logger:          logger.Named("ratelimit"),
		limiters:        make(map[string]*clientLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
		now:             time.Now,
	}
}

// getLimiter returns the limiter for a client, creating it if needed. r.mu must be held.
func (r *RateLimiter) getLimiter(client string, now time.Time) *clientLimiter {
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	l, exists := r.limiters[client]
	if exists {
		l.lastSeen = now
		return l
	}

	// MaxRequests per WindowSeconds, bursting up to half the budget
	limit := rate.Limit(float64(r.config.MaxRequests) / float64(r.config.WindowSeconds))
	burst := int(math.Ceil(float64(r.config.MaxRequests) / 2.0))
	if burst < 1 {
		burst = 1
	}

	l = &clientLimiter{
		limiter:  rate.NewLimiter(limit, burst),
		lastSeen: now,
	}
	r.limiters[client] = l
	return l
}

// cleanup removes limiters that haven't been used for a while
func (r *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-30 * time.Minute)
	for key, l := range r.limiters {
		if l.lastSeen.Before(cutoff) && now.After(l.lockoutEnd) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = now
}

// Allow reports whether a request from client may proceed
func (r *RateLimiter) Allow(client string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	l := r.getLimiter(client, now)
	if now.Before(l.lockoutEnd) {
		return false
	}

	if !l.limiter.AllowN(now, 1) {
		lockout := time.Duration(r.config.LockoutSeconds) * time.Second
		l.lockoutEnd = now.Add(lockout)
		r.logger.Warn("Rate limit exceeded, applying lockout",
			zap.String("client", client),
			zap.Duration("lockout_duration", lockout),
		)
		return false
	}

	return true
}

// Gin returns a gin middleware that rate limits by client IP
func (r *RateLimiter) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, lifecycle.ErrorFrame{IsError: true, Message: rateLimitMessage})
			return
		}
		c.Next()
	}
}

// Handshake returns a handshake middleware that rate limits socket upgrades by client IP
func (r *RateLimiter) Handshake() lifecycle.Middleware {
	return lifecycle.MiddlewareFunc(func(_ context.Context, req *lifecycle.Request) error {
		client := "_anonymous"
		if req.HTTP != nil {
			client = clientIP(req.HTTP)
		}
		if !r.Allow(client) {
			return lifecycle.Fail(http.StatusTooManyRequests, rateLimitMessage)
		}
		return nil
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
