package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mawared-attendance-backend/internal/gate"
)

// GetHealth reports liveness plus whether a credential is available. The
// credential itself is never returned.
func (h *Handler) GetHealth(c *gin.Context) {
	snap, err := h.auto.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "health", err)
		return
	}

	tokenStatus, tokenLength := "missing", 0
	if cred, err := h.creds.Resolve(); err == nil {
		tokenStatus, tokenLength = "exists", len(cred.Value)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                "healthy",
		"timestamp":             time.Now().Format(time.RFC3339),
		"auto_enabled":          snap.Enabled,
		"show_token_management": h.cfg.Server.ShowTokenManagement,
		"token_status":          tokenStatus,
		"token_length":          tokenLength,
		"app_version":           h.cfg.API.AppVersion,
		"platform":              h.cfg.API.Platform,
		"time_protection": gin.H{
			"enabled":         true,
			"checkin_window":  snap.CheckinBounds,
			"checkout_window": snap.CheckoutBounds,
			"current_time":    snap.Time,
			"in_allowed_time": snap.Status == gate.StatusInCheckinWindow || snap.Status == gate.StatusInCheckoutWindow,
			"is_weekend":      !snap.WorkingDay,
			"day_name":        snap.Weekday,
		},
	})
}

// GetStatus returns the auto switch and today's state.
func (h *Handler) GetStatus(c *gin.Context) {
	snap, err := h.auto.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auto_mode":  snap.Enabled,
		"timestamp":  time.Now().Format(time.RFC3339),
		"auto_state": snap,
	})
}

// GetSchedule returns today's windows, progress and automation status.
func (h *Handler) GetSchedule(c *gin.Context) {
	snap, err := h.auto.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "schedule", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetConfig returns the public client settings.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"show_token_management": h.cfg.Server.ShowTokenManagement,
		"telegram_configured":   h.cfg.Telegram.Configured(),
		"push_configured":       h.cfg.Push.Configured(),
		"app_version":           h.cfg.API.AppVersion,
		"platform":              h.cfg.API.Platform,
	})
}

// GetEmployeeInfo returns the stored employee identity.
func (h *Handler) GetEmployeeInfo(c *gin.Context) {
	info, err := h.employees.FetchEmployeeInfo(c.Request.Context())
	if err != nil {
		h.fail(c, "employee-info", err)
		return
	}
	if info == nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "has_data": false, "message": "لا توجد بيانات للموظف"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"has_data":       true,
		"employeeID":     info.EmployeeID,
		"employeeNumber": info.EmployeeNumber,
		"locationId":     info.LocationID,
		"last_updated":   info.UpdatedAt,
	})
}
