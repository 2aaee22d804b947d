package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"mawared-attendance-backend/internal/metrics"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.CORS(h.cfg.Server.AllowedOrigins))

	server := h.cfg.Server
	if server.RateLimitPerSec <= 0 || server.RateLimitBurst <= 0 {
		server.RateLimitPerSec, server.RateLimitBurst = 10, 5
	}
	rateLimiter := mw.RateLimiter(rate.Limit(server.RateLimitPerSec), server.RateLimitBurst)
	cooldown := mw.NewCooldown(server.ManualCooldown)

	cacheTTL := server.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)
	purge := mw.Purge(cacheStore)

	r.GET("/metrics", gin.WrapH(metrics.Handler(h.gatherer)))
	r.GET("/health", h.GetHealth)

	api := r.Group("/")
	api.Use(rateLimiter)
	{
		api.GET("/status", h.GetStatus)
		api.GET("/schedule", h.GetSchedule)
		api.GET("/config", caching, h.GetConfig)
		api.GET("/employee-info", h.GetEmployeeInfo)

		api.POST("/updateToken", purge, h.UpdateToken)
		api.POST("/check", cooldown.Handler("check"), purge, h.manual(model.ActionCheckin))
		api.POST("/checkout", cooldown.Handler("checkout"), purge, h.manual(model.ActionCheckout))
		api.GET("/history", caching, h.History)
		api.POST("/history", h.History)

		api.POST("/autoon", h.switchAuto(true))
		api.POST("/autooff", h.switchAuto(false))
		api.Match([]string{http.MethodGet, http.MethodPost}, "/force-auto-check", purge, h.ForceAutoCheck)
		api.Match([]string{http.MethodGet, http.MethodPost}, "/generate-daily-times", h.GenerateDailyTimes)
		api.POST("/reset-auto-state", purge, h.ResetAutoState)
		api.Match([]string{http.MethodGet, http.MethodPost}, "/force-init", h.ForceInit)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
