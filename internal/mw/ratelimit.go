package mw

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyedRateLimiter stores a token bucket per client key.
type KeyedRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	r        rate.Limit
	b        int
}

// NewKeyedRateLimiter creates a limiter allowing r events per second with burst b per key.
func NewKeyedRateLimiter(r rate.Limit, b int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        r,
		b:        b,
	}
}

// Get returns the limiter of key, creating it on first use.
func (l *KeyedRateLimiter) Get(key string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[key]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, exists = l.limiters[key]; !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// RateLimiter limits requests per user once Identity has run, and per
// client IP otherwise.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedRateLimiter(r, b)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if u := CurrentUser(c); u != nil {
			key = "user:" + strconv.FormatInt(u.ID, 10)
		}
		if !limiter.Get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{
				"type": "RATE_LIMITED", "message": "Too many requests, slow down",
			}})
			return
		}
		c.Next()
	}
}
