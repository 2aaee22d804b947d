package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// KeyedLimiter hands out one token bucket per key. Buckets idle for longer
// than the expiry are forgotten.
type KeyedLimiter struct {
	limiters *cache.Cache
	r        rate.Limit
	b        int
	expiry   time.Duration
}

// NewKeyedLimiter creates a KeyedLimiter.
func NewKeyedLimiter(r rate.Limit, b int, expiry time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: cache.New(expiry, 2*expiry),
		r:        r,
		b:        b,
		expiry:   expiry,
	}
}

// Limiter returns the bucket for key, creating it on first use.
func (k *KeyedLimiter) Limiter(key string) *rate.Limiter {
	if l, found := k.limiters.Get(key); found {
		// Touch so active keys do not expire.
		k.limiters.Set(key, l, k.expiry)
		return l.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(k.r, k.b)
	if err := k.limiters.Add(key, limiter, k.expiry); err != nil {
		// Lost the race; use the winner's bucket.
		if l, found := k.limiters.Get(key); found {
			return l.(*rate.Limiter)
		}
	}
	return limiter
}

// Allow consumes one token for key.
func (k *KeyedLimiter) Allow(key string) bool {
	return k.Limiter(key).Allow()
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewKeyedLimiter(r, b, 10*time.Minute)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": false, "message": "too many requests"})
			return
		}
		c.Next()
	}
}
