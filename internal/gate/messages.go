package gate

import (
	"fmt"

	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
)

func icon(kind model.ActionKind) string {
	if kind == model.ActionCheckout {
		return "🔴"
	}
	return "🟢"
}

func windowsAnnouncedText(s *model.DailySchedule) string {
	return fmt.Sprintf("📅 تم توليد أوقات اليوم (%s):\n🟢 دخول بين %s - %s\n🔴 خروج بين %s - %s",
		s.Date,
		schedule.FormatClock(s.CheckinStart), schedule.FormatClock(s.CheckinEnd),
		schedule.FormatClock(s.CheckoutStart), schedule.FormatClock(s.CheckoutEnd))
}

func windowsResetText(s *model.DailySchedule) string {
	return fmt.Sprintf("🔄 تم إعادة تعيين وتوليد أوقات جديدة (%s):\n🟢 دخول بين %s - %s\n🔴 خروج بين %s - %s",
		s.Date,
		schedule.FormatClock(s.CheckinStart), schedule.FormatClock(s.CheckinEnd),
		schedule.FormatClock(s.CheckoutStart), schedule.FormatClock(s.CheckoutEnd))
}

func holidayText(date string) string {
	return fmt.Sprintf("⛔ تم منع الحضور الآلي اليوم (%s) لأنه يوم عطلة", date)
}

func missedText(kind model.ActionKind, minute, start, end int) string {
	return fmt.Sprintf("⛔ تم حجب تنفيذ عملية %s الآلي لأن الوقت الحالي %s خارج الوقت المسموح (%s - %s)",
		kind.Label(), schedule.FormatClock(minute), schedule.FormatClock(start), schedule.FormatClock(end))
}

func credentialMissingText(kind model.ActionKind) string {
	return fmt.Sprintf("⚠️ لا يوجد توكن صالح، تعذر تنفيذ %s الآلي. حدّث التوكن من لوحة التحكم", kind.Label())
}

func autoSuccessText(kind model.ActionKind, message string) string {
	return fmt.Sprintf("%s %s الآلي - %s", icon(kind), kind.Label(), message)
}

func autoFailureText(kind model.ActionKind, reason string) string {
	return fmt.Sprintf("❌ فشل %s الآلي: %s", kind.Label(), reason)
}

func manualText(kind model.ActionKind, message string) string {
	return fmt.Sprintf("%s %s اليدوي - %s", icon(kind), kind.Label(), message)
}

func enabledText(enabled bool) string {
	if enabled {
		return "🚀 تم تشغيل الحضور الآلي"
	}
	return "⏸️ تم إيقاف الحضور الآلي"
}
