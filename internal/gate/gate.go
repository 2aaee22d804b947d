// Package gate decides, once per trigger, whether each daily attendance
// action should run now and guarantees at most one successful submission per
// action kind per day.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mawared-attendance-backend/internal/credential"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/mawared"
	"mawared-attendance-backend/internal/metrics"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
	"mawared-attendance-backend/internal/store"
)

// CredentialProvider is the credential surface the gate needs.
type CredentialProvider interface {
	Resolve() (credential.Credential, error)
	Invalidate()
}

// Submitter performs the external attendance call.
type Submitter interface {
	Submit(ctx context.Context, token string, kind model.ActionKind) (*mawared.ActionResult, error)
}

// Notifier delivers best-effort text notices.
type Notifier interface {
	Notify(text string)
}

// Outcome is the per-kind result of a cycle.
type Outcome string

const (
	OutcomeDisabled   Outcome = "disabled"
	OutcomeHoliday    Outcome = "holiday"
	OutcomePending    Outcome = "pending"
	OutcomeDone       Outcome = "done"
	OutcomeMissed     Outcome = "window_missed"
	OutcomeSubmitted  Outcome = "submitted"
	OutcomeInProgress Outcome = "in_progress"
	OutcomeLeaseLost  Outcome = "lease_lost"
)

// leaseMargin is how much longer than the submit timeout a lease lasts, so
// that an in-flight call cannot be claimed again by another instance.
const leaseMargin = 10 * time.Second

// Triggers recorded in the audit log and metrics.
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

// KindResult is what happened to one action kind.
type KindResult struct {
	Kind        model.ActionKind `json:"kind"`
	Outcome     Outcome          `json:"outcome"`
	Message     string           `json:"message,omitempty"`
	WindowStart string           `json:"windowStart,omitempty"`
	WindowEnd   string           `json:"windowEnd,omitempty"`
}

// CycleSummary is returned by RunCycle.
type CycleSummary struct {
	Date    string       `json:"date"`
	Time    string       `json:"time"`
	Enabled bool         `json:"enabled"`
	Results []KindResult `json:"results"`
}

// Result returns the entry for kind.
func (s *CycleSummary) Result(kind model.ActionKind) KindResult {
	for _, r := range s.Results {
		if r.Kind == kind {
			return r
		}
	}
	return KindResult{Kind: kind}
}

// ManualResult is returned by RunManual.
type ManualResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Outcome string `json:"outcome"`
}

// Deps are the collaborators of a Gate.
type Deps struct {
	Store       store.Store
	Generator   *schedule.Generator
	Credentials CredentialProvider
	Submitter   Submitter
	Notifier    Notifier
	Metrics     metrics.Recorder
	Logger      *zap.Logger
}

// Options tune a Gate. Zero values select defaults.
type Options struct {
	// AutoDefault applies until the switch is stored for the first time.
	AutoDefault   bool
	Lease         time.Duration
	SubmitTimeout time.Duration
	Now           func() time.Time
	Owner         string
}

// Gate owns the per-day automation state. All mutation of schedules,
// progress and notices goes through it.
type Gate struct {
	mu sync.Mutex

	store     store.Store
	gen       *schedule.Generator
	creds     CredentialProvider
	submitter Submitter
	notifier  Notifier
	metrics   metrics.Recorder
	logger    *zap.Logger

	loc         *time.Location
	now         func() time.Time
	owner       string
	lease       time.Duration
	timeout     time.Duration
	autoDefault bool
}

// New creates a Gate.
func New(d Deps, o Options) *Gate {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.SubmitTimeout <= 0 || o.SubmitTimeout > 20*time.Second {
		o.SubmitTimeout = 20 * time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if floor := o.SubmitTimeout + leaseMargin; o.Lease < floor {
		d.Logger.Warn("Lease shorter than submit timeout, raising it",
			zap.Duration("configured", o.Lease), zap.Duration("lease", floor))
		o.Lease = floor
	}
	if o.Owner == "" {
		o.Owner = uuid.NewString()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	return &Gate{
		store:       d.Store,
		gen:         d.Generator,
		creds:       d.Credentials,
		submitter:   d.Submitter,
		notifier:    d.Notifier,
		metrics:     d.Metrics,
		logger:      d.Logger,
		loc:         d.Generator.Location(),
		now:         o.Now,
		owner:       o.Owner,
		lease:       o.Lease,
		timeout:     o.SubmitTimeout,
		autoDefault: o.AutoDefault,
	}
}

// RunCycle evaluates both action kinds for the current instant.
func (g *Gate) RunCycle(ctx context.Context) (*CycleSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	date := schedule.DateOf(now, g.loc)
	minute := schedule.MinuteOfDay(now, g.loc)
	g.metrics.RecordCycle(TriggerAuto)

	summary := &CycleSummary{Date: date, Time: schedule.FormatClock(minute)}

	enabled, err := g.store.AutoEnabled(ctx, g.autoDefault)
	if err != nil {
		return nil, err
	}
	summary.Enabled = enabled
	if !enabled {
		g.logger.Debug("Auto mode disabled, skipping cycle")
		for _, kind := range model.ActionKinds {
			summary.Results = append(summary.Results, KindResult{Kind: kind, Outcome: OutcomeDisabled})
		}
		return summary, nil
	}

	if !g.gen.IsWorkingDay(now) {
		if err := g.markHoliday(ctx, date, now); err != nil {
			return nil, err
		}
		for _, kind := range model.ActionKinds {
			g.metrics.RecordAction(string(kind), string(OutcomeHoliday))
			summary.Results = append(summary.Results, KindResult{Kind: kind, Outcome: OutcomeHoliday})
		}
		return summary, nil
	}

	sched, err := g.ensureToday(ctx, now)
	if err != nil {
		return nil, err
	}
	progress, err := g.store.GetProgress(ctx, date)
	if err != nil {
		return nil, err
	}

	// Kinds are independent; overlapping windows may fire both in one cycle.
	for _, kind := range model.ActionKinds {
		res := g.evaluate(ctx, sched, progress[kind], kind, now, minute)
		g.metrics.RecordAction(string(kind), string(res.Outcome))
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}

func (g *Gate) evaluate(ctx context.Context, sched *model.DailySchedule, p model.ActionProgress, kind model.ActionKind, now time.Time, minute int) KindResult {
	start, end := sched.Window(kind)
	res := KindResult{
		Kind:        kind,
		WindowStart: schedule.FormatClock(start),
		WindowEnd:   schedule.FormatClock(end),
	}

	if p.Done {
		res.Outcome = OutcomeDone
		res.Message = string(p.Status)
		return res
	}
	if minute < start {
		res.Outcome = OutcomePending
		return res
	}
	if minute >= end {
		return g.closeMissed(ctx, sched.Date, kind, now, minute, start, end, res)
	}
	return g.attempt(ctx, sched.Date, kind, now, res)
}

func (g *Gate) closeMissed(ctx context.Context, date string, kind model.ActionKind, now time.Time, minute, start, end int, res KindResult) KindResult {
	text := missedText(kind, minute, start, end)
	missedErr := errs.Mark(errs.New(text), errs.ErrWindowMissed)
	missed, err := g.store.MarkMissed(ctx, date, kind, now, text)
	if err != nil {
		g.logger.Error("Failed to mark action missed", zap.String("kind", string(kind)), zap.Error(err))
		res.Outcome = Outcome(errs.Outcome(err))
		res.Message = err.Error()
		return res
	}
	if !missed {
		// Another instance holds the lease or already finished the row.
		res.Outcome = OutcomeInProgress
		return res
	}

	outcome := errs.Outcome(missedErr)
	g.logger.Info("Action window closed without success",
		zap.String("date", date), zap.String("kind", string(kind)), zap.Int("minute", minute), zap.Error(missedErr))
	g.audit(ctx, date, kind, TriggerAuto, outcome, text)
	g.notifyOnce(ctx, date, model.MissedNotice(kind), text)
	res.Outcome = Outcome(outcome)
	res.Message = text
	return res
}

func (g *Gate) attempt(ctx context.Context, date string, kind model.ActionKind, now time.Time, res KindResult) KindResult {
	cred, err := g.creds.Resolve()
	if err != nil {
		outcome := errs.Outcome(err)
		g.logger.Warn("No credential for automatic action", zap.String("kind", string(kind)), zap.Error(err))
		g.audit(ctx, date, kind, TriggerAuto, outcome, err.Error())
		if errs.Is(err, errs.ErrCredentialNotFound) {
			g.notifyOnce(ctx, date, model.NoticeCredentialMissing, credentialMissingText(kind))
		}
		res.Outcome = Outcome(outcome)
		res.Message = err.Error()
		return res
	}

	claimed, err := g.store.ClaimAction(ctx, date, kind, g.owner, now, g.lease)
	if err != nil {
		g.logger.Error("Failed to claim action", zap.String("kind", string(kind)), zap.Error(err))
		res.Outcome = Outcome(errs.Outcome(err))
		res.Message = err.Error()
		return res
	}
	if !claimed {
		res.Outcome = OutcomeInProgress
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	started := time.Now()
	result, err := g.submitter.Submit(callCtx, cred.Value, kind)
	cancel()
	g.metrics.RecordSubmitLatency(time.Since(started))

	// The external call already happened; persist its outcome even if the
	// trigger request has gone away.
	persistCtx := context.WithoutCancel(ctx)

	if err == nil {
		g.complete(persistCtx, date, kind)
		g.logger.Info("Automatic action submitted",
			zap.String("date", date), zap.String("kind", string(kind)), zap.String("message", result.Message))
		g.audit(persistCtx, date, kind, TriggerAuto, string(OutcomeSubmitted), result.Message)
		g.notifier.Notify(autoSuccessText(kind, result.Message))
		res.Outcome = OutcomeSubmitted
		res.Message = result.Message
		return res
	}

	outcome := errs.Outcome(err)
	if errs.Is(err, errs.ErrAuthenticationRejected) {
		g.creds.Invalidate()
		g.metrics.RecordCredentialInvalidation()
	}
	if rerr := g.store.ReleaseAction(persistCtx, date, kind, g.owner, err.Error()); rerr != nil {
		g.logger.Error("Failed to release action lease", zap.String("kind", string(kind)), zap.Error(rerr))
	}
	g.logger.Warn("Automatic action failed",
		zap.String("date", date), zap.String("kind", string(kind)),
		zap.String("outcome", outcome), zap.String("credential", cred.Masked()), zap.Error(err))
	g.audit(persistCtx, date, kind, TriggerAuto, outcome, err.Error())
	g.notifier.Notify(autoFailureText(kind, err.Error()))
	res.Outcome = Outcome(outcome)
	res.Message = err.Error()
	return res
}

// complete records a successful submission. A lease that expired and was
// taken over while the call was in flight is audited, and the row is still
// closed so no further attempt is made today.
func (g *Gate) complete(ctx context.Context, date string, kind model.ActionKind) {
	owned, err := g.store.CompleteAction(ctx, date, kind, g.owner, g.now())
	if err != nil {
		g.logger.Error("Failed to record completed action", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	if owned {
		return
	}
	g.logger.Error("Lease lost while submitting",
		zap.String("date", date), zap.String("kind", string(kind)), zap.String("owner", g.owner))
	g.audit(ctx, date, kind, TriggerAuto, string(OutcomeLeaseLost), "lease expired before the submission was recorded")
	if err := g.store.MarkDone(ctx, date, kind, g.now()); err != nil {
		g.logger.Error("Failed to record completed action", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// EnsureWindowsForToday returns today's schedule, generating it on first use.
func (g *Gate) EnsureWindowsForToday(ctx context.Context) (*model.DailySchedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureToday(ctx, g.now())
}

// ensureToday loads or creates the schedule for now's date and announces it
// once. Concurrent creators across processes converge on the first insert.
func (g *Gate) ensureToday(ctx context.Context, now time.Time) (*model.DailySchedule, error) {
	date := schedule.DateOf(now, g.loc)
	sched, err := g.store.GetSchedule(ctx, date)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		fresh, err := g.gen.Generate(now)
		if err != nil {
			return nil, err
		}
		stored, created, err := g.store.CreateSchedule(ctx, fresh)
		if err != nil {
			return nil, err
		}
		sched = stored
		if created {
			g.logger.Info("Daily windows generated",
				zap.String("date", date),
				zap.String("checkin", schedule.FormatClock(sched.CheckinStart)+"-"+schedule.FormatClock(sched.CheckinEnd)),
				zap.String("checkout", schedule.FormatClock(sched.CheckoutStart)+"-"+schedule.FormatClock(sched.CheckoutEnd)))
		}
	}
	g.notifyOnce(ctx, date, model.NoticeWindowsAnnounced, windowsAnnouncedText(sched))
	return sched, nil
}

func (g *Gate) markHoliday(ctx context.Context, date string, now time.Time) error {
	changed, err := g.store.MarkHoliday(ctx, date)
	if err != nil {
		return err
	}
	if changed {
		g.logger.Info("Non-working day, automatic actions blocked", zap.String("date", date), zap.String("weekday", now.In(g.loc).Weekday().String()))
		g.audit(ctx, date, "", TriggerAuto, string(OutcomeHoliday), holidayText(date))
	}
	g.notifyOnce(ctx, date, model.NoticeHolidayBlocked, holidayText(date))
	return nil
}

// notifyOnce emits text only for the first caller per (date, kind).
func (g *Gate) notifyOnce(ctx context.Context, date string, kind model.NoticeKind, text string) {
	first, err := g.store.TryMarkSent(ctx, date, kind, g.now())
	if err != nil {
		g.logger.Error("Failed to record notice", zap.String("notice", string(kind)), zap.Error(err))
		return
	}
	if !first {
		return
	}
	g.metrics.RecordNotice(string(kind))
	g.notifier.Notify(text)
}

func (g *Gate) audit(ctx context.Context, date string, kind model.ActionKind, trigger, outcome, message string) {
	entry := model.AuditEntry{
		ID:        uuid.NewString(),
		Date:      date,
		Kind:      kind,
		Trigger:   trigger,
		Outcome:   outcome,
		Message:   message,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.AppendAudit(ctx, entry); err != nil {
		g.logger.Error("Failed to append audit entry", zap.Error(err))
	}
}
