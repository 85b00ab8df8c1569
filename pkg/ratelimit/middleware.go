package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"conduit/pkg/metrics"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type Config struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// Middleware limits admin API requests per client IP. Idle client limiters
// are dropped every CleanupInterval until ctx is done.
func Middleware(ctx context.Context, config Config) gin.HandlerFunc {
	metrics.RegisterAdminMetrics()

	limiters := make(map[string]*clientLimiter)
	var mu sync.RWMutex

	if config.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(config.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					mu.Lock()
					for ip, l := range limiters {
						l.mu.Lock()
						lastSeen := l.lastSeen
						l.mu.Unlock()
						if now.Sub(lastSeen) > config.MaxAge {
							delete(limiters, ip)
						}
					}
					mu.Unlock()
				}
			}
		}()
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		mu.RLock()
		l, exists := limiters[clientIP]
		mu.RUnlock()

		if !exists {
			mu.Lock()
			l, exists = limiters[clientIP]
			if !exists {
				l = &clientLimiter{
					limiter:  rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
					lastSeen: time.Now(),
				}
				limiters[clientIP] = l
			}
			mu.Unlock()
		}

		l.mu.Lock()
		l.lastSeen = time.Now()
		l.mu.Unlock()

		c.Header("X-RateLimit-Limit", formatRate(config.RPS))

		if !l.limiter.Allow() {
			metrics.IncRateLimitRequest("http", "limited")
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.IncRateLimitRequest("http", "allowed")

		remaining := int(l.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
