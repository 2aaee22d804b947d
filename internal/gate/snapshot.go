package gate

import (
	"context"
	"time"

	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
)

// Auto status values reported by Snapshot.
const (
	StatusStopped          = "stopped"
	StatusHolidayStopped   = "holiday_stopped"
	StatusInCheckinWindow  = "in_checkin_window"
	StatusInCheckoutWindow = "in_checkout_window"
	StatusOutsideWindows   = "outside_work_hours"
)

// ScheduleView is a DailySchedule with rendered clock times.
type ScheduleView struct {
	Date        string    `json:"date"`
	Checkin     string    `json:"checkin"`
	Checkout    string    `json:"checkout"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Snapshot is a read-only view of today's automation state.
type Snapshot struct {
	Date       string                 `json:"date"`
	Time       string                 `json:"time"`
	Weekday    string                 `json:"weekday"`
	WorkingDay bool                   `json:"workingDay"`
	Enabled    bool                   `json:"enabled"`
	Status     string                 `json:"autoStatus"`
	Schedule   *ScheduleView          `json:"schedule"`
	Progress   []model.ActionProgress `json:"progress"`
	// Configured bounds the random windows are drawn from.
	CheckinBounds  string `json:"checkinBounds"`
	CheckoutBounds string `json:"checkoutBounds"`
}

// Snapshot reads today's schedule and progress without changing anything.
func (g *Gate) Snapshot(ctx context.Context) (*Snapshot, error) {
	now := g.now()
	date := schedule.DateOf(now, g.loc)
	minute := schedule.MinuteOfDay(now, g.loc)

	enabled, err := g.store.AutoEnabled(ctx, g.autoDefault)
	if err != nil {
		return nil, err
	}
	sched, err := g.store.GetSchedule(ctx, date)
	if err != nil {
		return nil, err
	}
	progress, err := g.store.GetProgress(ctx, date)
	if err != nil {
		return nil, err
	}

	in, out := g.gen.Bound(model.ActionCheckin), g.gen.Bound(model.ActionCheckout)
	snap := &Snapshot{
		Date:           date,
		Time:           schedule.FormatClock(minute),
		Weekday:        now.In(g.loc).Weekday().String(),
		WorkingDay:     g.gen.IsWorkingDay(now),
		Enabled:        enabled,
		CheckinBounds:  schedule.FormatClock(in.Start) + " - " + schedule.FormatClock(in.End),
		CheckoutBounds: schedule.FormatClock(out.Start) + " - " + schedule.FormatClock(out.End),
	}
	for _, kind := range model.ActionKinds {
		snap.Progress = append(snap.Progress, progress[kind])
	}

	inStart, inEnd := in.Start, in.End
	outStart, outEnd := out.Start, out.End
	if sched != nil {
		snap.Schedule = &ScheduleView{
			Date:        sched.Date,
			Checkin:     schedule.FormatClock(sched.CheckinStart) + " - " + schedule.FormatClock(sched.CheckinEnd),
			Checkout:    schedule.FormatClock(sched.CheckoutStart) + " - " + schedule.FormatClock(sched.CheckoutEnd),
			GeneratedAt: sched.GeneratedAt,
		}
		inStart, inEnd = sched.Window(model.ActionCheckin)
		outStart, outEnd = sched.Window(model.ActionCheckout)
	}

	switch {
	case !enabled:
		snap.Status = StatusStopped
	case !snap.WorkingDay:
		snap.Status = StatusHolidayStopped
	case minute >= inStart && minute < inEnd:
		snap.Status = StatusInCheckinWindow
	case minute >= outStart && minute < outEnd:
		snap.Status = StatusInCheckoutWindow
	default:
		snap.Status = StatusOutsideWindows
	}
	return snap, nil
}
