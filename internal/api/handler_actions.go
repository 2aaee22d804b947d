package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
)

type updateTokenRequest struct {
	Token string `json:"token"`
}

// UpdateToken stores a new credential and bootstraps the employee with it.
func (h *Handler) UpdateToken(c *gin.Context) {
	var req updateTokenRequest
	_ = c.ShouldBindJSON(&req)
	token := strings.TrimSpace(req.Token)
	if token == "" {
		respond(c, false, "التوكن مفقود")
		return
	}

	cred, err := h.creds.Update(token)
	if errs.Is(err, errs.ErrCredentialNotPersisted) {
		h.logger.Error("Credential update was not saved", zap.Error(err))
		respond(c, false, "تعذر حفظ التوكن، سيُفقد عند إعادة التشغيل")
		return
	}
	if err != nil {
		h.logger.Warn("Rejected credential update", zap.Error(err))
		respond(c, false, "التوكن غير صالح")
		return
	}
	h.logger.Info("Credential updated", zap.String("credential", cred.Masked()))

	if _, err := h.employees.InitEmployee(c.Request.Context(), cred.Value); err != nil {
		h.logger.Warn("Employee bootstrap after credential update failed", zap.Error(err))
		h.notify("⚠️ تم تحديث التوكن لكن فشلت تهيئة بيانات الموظف")
		respond(c, false, "تم تحديث التوكن لكن فشلت تهيئة بيانات الموظف")
		return
	}
	h.notify("✅ تم تحديث التوكن وتهيئة بيانات الموظف بنجاح")
	respond(c, true, "تم تحديث التوكن وتهيئة بيانات الموظف بنجاح")
}

func (h *Handler) manual(kind model.ActionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.auto.RunManual(c.Request.Context(), kind)
		if err != nil {
			h.fail(c, string(kind), err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// History lists today's transactions from Mawared.
func (h *Handler) History(c *gin.Context) {
	cred, err := h.creds.Resolve()
	if err != nil {
		respond(c, false, "التوكن مفقود")
		return
	}
	records, err := h.employees.History(c.Request.Context(), cred.Value)
	if err != nil {
		h.logger.Warn("History request failed", zap.String("outcome", errs.Outcome(err)), zap.Error(err))
		respond(c, false, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "records": records})
}

func (h *Handler) switchAuto(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.auto.SetEnabled(c.Request.Context(), enabled); err != nil {
			h.fail(c, "auto switch", err)
			return
		}
		if enabled {
			respond(c, true, "تم تشغيل الحضور الآلي. تأكد من استدعاء /force-auto-check بشكل دوري.")
			return
		}
		respond(c, true, "تم إيقاف الحضور الآلي.")
	}
}

// ForceAutoCheck runs one gate cycle. It is the endpoint an external
// scheduler calls every few minutes.
func (h *Handler) ForceAutoCheck(c *gin.Context) {
	summary, err := h.auto.RunCycle(c.Request.Context())
	if err != nil {
		h.fail(c, "force-auto-check", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": "تم تنفيذ الحضور الآلي (إن وجد شيء للتنفيذ).",
		"summary": summary,
	})
}

// GenerateDailyTimes ensures today's windows exist.
func (h *Handler) GenerateDailyTimes(c *gin.Context) {
	sched, err := h.auto.EnsureWindowsForToday(c.Request.Context())
	if errs.Is(err, errs.ErrNonWorkingDay) {
		respond(c, true, "اليوم عطلة - لا يتم توليد أوقات")
		return
	}
	if err != nil {
		h.fail(c, "generate-daily-times", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "تم توليد الأوقات اليومية", "schedule": scheduleView(sched)})
}

// ResetAutoState discards today's state and draws new windows.
func (h *Handler) ResetAutoState(c *gin.Context) {
	sched, err := h.auto.Reset(c.Request.Context())
	if errs.Is(err, errs.ErrNonWorkingDay) {
		respond(c, true, "تم إعادة تعيين حالة النظام الآلي (اليوم عطلة)")
		return
	}
	if err != nil {
		h.logger.Error("Reset failed", zap.Error(err))
		respond(c, false, "خطأ في إعادة التعيين: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"message":  "تم إعادة تعيين حالة النظام الآلي وتوليد أوقات جديدة",
		"schedule": scheduleView(sched),
	})
}

// ForceInit bootstraps the employee identity with the current credential.
func (h *Handler) ForceInit(c *gin.Context) {
	cred, err := h.creds.Resolve()
	if err != nil {
		respond(c, false, "التوكن مفقود")
		return
	}
	if _, err := h.employees.InitEmployee(c.Request.Context(), cred.Value); err != nil {
		h.logger.Warn("Forced employee bootstrap failed", zap.Error(err))
		h.notify("⚠️ فشل إعادة تهيئة بيانات الموظف")
		respond(c, false, "تعذر تنفيذ عملية إعادة التهيئة")
		return
	}
	h.notify("✅ تمت إعادة تهيئة بيانات الموظف بنجاح")
	respond(c, true, "تمت إعادة التهيئة بنجاح")
}

func scheduleView(s *model.DailySchedule) gin.H {
	return gin.H{
		"date":     s.Date,
		"checkin":  schedule.FormatClock(s.CheckinStart) + " - " + schedule.FormatClock(s.CheckinEnd),
		"checkout": schedule.FormatClock(s.CheckoutStart) + " - " + schedule.FormatClock(s.CheckoutEnd),
	}
}
