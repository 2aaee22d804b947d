package mw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CooldownMessage is returned while an endpoint is cooling down.
const CooldownMessage = "⏳ انتظر قليلاً قبل محاولة أخرى"

// Cooldown allows one request per period for each endpoint name, shared by
// all clients. Rejected requests get a 200 with ok=false so the control panel
// shows the message.
type Cooldown struct {
	limiter *KeyedLimiter
}

// NewCooldown creates a Cooldown with the given period.
func NewCooldown(period time.Duration) *Cooldown {
	if period <= 0 {
		period = 5 * time.Second
	}
	return &Cooldown{limiter: NewKeyedLimiter(rate.Every(period), 1, period+time.Minute)}
}

// Allow reports whether endpoint may run now and, if so, starts its cooldown.
func (cd *Cooldown) Allow(endpoint string) bool {
	return cd.limiter.Allow(endpoint)
}

// Handler guards a route under the given endpoint name.
func (cd *Cooldown) Handler(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cd.Allow(endpoint) {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"ok": false, "message": CooldownMessage})
			return
		}
		c.Next()
	}
}
