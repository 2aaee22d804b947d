package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
)

// RunManual submits kind immediately, ignoring the windows. A success closes
// the day's automatic action for kind so it is not repeated.
func (g *Gate) RunManual(ctx context.Context, kind model.ActionKind) (*ManualResult, error) {
	if !kind.Valid() {
		return nil, errs.Newf("unknown action kind %q", kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	date := schedule.DateOf(now, g.loc)
	g.metrics.RecordCycle(TriggerManual)

	progress, err := g.store.GetProgress(ctx, date)
	if err != nil {
		return nil, err
	}
	if progress[kind].Status == model.StatusDone {
		g.logger.Info("Manual action requested although already done today", zap.String("kind", string(kind)))
	}

	cred, err := g.creds.Resolve()
	if err != nil {
		g.audit(ctx, date, kind, TriggerManual, errs.Outcome(err), err.Error())
		return &ManualResult{OK: false, Message: "التوكن مفقود - حدّث التوكن أولاً", Outcome: errs.Outcome(err)}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	started := time.Now()
	result, err := g.submitter.Submit(callCtx, cred.Value, kind)
	cancel()
	g.metrics.RecordSubmitLatency(time.Since(started))
	persistCtx := context.WithoutCancel(ctx)

	if err != nil {
		outcome := errs.Outcome(err)
		if errs.Is(err, errs.ErrAuthenticationRejected) {
			g.creds.Invalidate()
			g.metrics.RecordCredentialInvalidation()
		}
		g.logger.Warn("Manual action failed", zap.String("kind", string(kind)), zap.String("outcome", outcome), zap.Error(err))
		g.audit(persistCtx, date, kind, TriggerManual, outcome, err.Error())
		message := kind.Label() + " فشل: " + err.Error()
		g.notifier.Notify(manualText(kind, message))
		g.metrics.RecordAction(string(kind), outcome)
		return &ManualResult{OK: false, Message: message, Outcome: outcome}, nil
	}

	if err := g.store.MarkDone(persistCtx, date, kind, g.now()); err != nil {
		g.logger.Error("Failed to record manual action", zap.String("kind", string(kind)), zap.Error(err))
	}
	g.logger.Info("Manual action submitted", zap.String("kind", string(kind)), zap.String("message", result.Message))
	g.audit(persistCtx, date, kind, TriggerManual, string(OutcomeSubmitted), result.Message)
	g.notifier.Notify(manualText(kind, result.Message))
	g.metrics.RecordAction(string(kind), string(OutcomeSubmitted))
	return &ManualResult{OK: true, Message: kind.Label() + ": " + result.Message, Outcome: string(OutcomeSubmitted)}, nil
}

// Reset discards today's schedule, progress and notices and draws new
// windows. On a non-working day nothing is regenerated.
func (g *Gate) Reset(ctx context.Context) (*model.DailySchedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	date := schedule.DateOf(now, g.loc)
	if err := g.store.DeleteDay(ctx, date); err != nil {
		return nil, err
	}
	g.logger.Info("Auto state reset", zap.String("date", date))
	g.audit(ctx, date, "", TriggerManual, "reset", "auto state reset")

	if !g.gen.IsWorkingDay(now) {
		return nil, errs.Wrapf(errs.ErrNonWorkingDay, "%s", date)
	}
	fresh, err := g.gen.Generate(now)
	if err != nil {
		return nil, err
	}
	sched, _, err := g.store.CreateSchedule(ctx, fresh)
	if err != nil {
		return nil, err
	}
	// The reset message doubles as today's announcement.
	if first, err := g.store.TryMarkSent(ctx, date, model.NoticeWindowsAnnounced, now); err == nil && first {
		g.notifier.Notify(windowsResetText(sched))
	}
	return sched, nil
}

// SetEnabled stores the auto switch.
func (g *Gate) SetEnabled(ctx context.Context, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.SetAutoEnabled(ctx, enabled); err != nil {
		return err
	}
	now := g.now()
	g.logger.Info("Auto mode switched", zap.Bool("enabled", enabled))
	g.audit(ctx, schedule.DateOf(now, g.loc), "", TriggerManual, "auto_switch", enabledText(enabled))
	if g.gen.IsWorkingDay(now) {
		g.notifier.Notify(enabledText(enabled))
	}
	return nil
}

// Enabled reports the stored auto switch.
func (g *Gate) Enabled(ctx context.Context) (bool, error) {
	return g.store.AutoEnabled(ctx, g.autoDefault)
}
