package gate

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/credential"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/mawared"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/schedule"
	"mawared-attendance-backend/internal/store"
	"mawared-attendance-backend/internal/testfixtures"
)

// --- fakes ---

type staticCreds struct {
	mu            sync.Mutex
	value         string
	err           error
	invalidations int
}

func (c *staticCreds) Resolve() (credential.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return credential.Credential{}, c.err
	}
	return credential.Credential{Value: c.value, Source: credential.SourceEnvironment}, nil
}

func (c *staticCreds) Invalidate() {
	c.mu.Lock()
	c.invalidations++
	c.mu.Unlock()
}

type submitCall struct {
	Token    string
	Kind     model.ActionKind
	Deadline time.Duration
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []submitCall
	result func(token string, kind model.ActionKind) (*mawared.ActionResult, error)
	delay  time.Duration
	// release, when set, holds every call until it is closed.
	release chan struct{}
}

func (s *fakeSubmitter) Submit(ctx context.Context, token string, kind model.ActionKind) (*mawared.ActionResult, error) {
	var remaining time.Duration
	if dl, ok := ctx.Deadline(); ok {
		remaining = time.Until(dl)
	}
	s.mu.Lock()
	s.calls = append(s.calls, submitCall{Token: token, Kind: kind, Deadline: remaining})
	result := s.result
	release := s.release
	s.mu.Unlock()

	if release != nil {
		<-release
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if result != nil {
		return result(token, kind)
	}
	return &mawared.ActionResult{StatusCode: 200, Message: "تم"}, nil
}

func (s *fakeSubmitter) count(kind model.ActionKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
}

func (n *fakeNotifier) countContaining(sub string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, t := range n.texts {
		if strings.Contains(t, sub) {
			c++
		}
	}
	return c
}

// --- harness ---

type harness struct {
	gate      *Gate
	store     store.Store
	clock     *testfixtures.Clock
	submitter *fakeSubmitter
	notifier  *fakeNotifier
	creds     *staticCreds
}

func fixedWindows() config.AutoConfig {
	return config.AutoConfig{
		Location: testfixtures.Riyadh,
		Weekend:  []string{"friday", "saturday"},
		Checkin:  config.WindowConfig{Start: "08:30", End: "09:00"},
		Checkout: config.WindowConfig{Start: "16:00", End: "16:30"},
	}
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	return newHarnessWith(t, start, fixedWindows(), testfixtures.NewStore(t))
}

func newHarnessWith(t *testing.T, start time.Time, auto config.AutoConfig, st store.Store) *harness {
	t.Helper()
	return newHarnessOpts(t, start, auto, st, Options{
		AutoDefault:   true,
		Lease:         time.Minute,
		SubmitTimeout: 20 * time.Second,
	})
}

func newHarnessOpts(t *testing.T, start time.Time, auto config.AutoConfig, st store.Store, opts Options) *harness {
	t.Helper()
	gen, err := schedule.NewGenerator(auto, rand.New(rand.NewSource(time.Now().UnixNano())))
	require.NoError(t, err)

	clock := testfixtures.NewClock(start)
	opts.Now = clock.Now
	h := &harness{
		store:     st,
		clock:     clock,
		submitter: &fakeSubmitter{},
		notifier:  &fakeNotifier{},
		creds:     &staticCreds{value: "TOKEN-VALUE-0001"},
	}
	h.gate = New(Deps{
		Store:       st,
		Generator:   gen,
		Credentials: h.creds,
		Submitter:   h.submitter,
		Notifier:    h.notifier,
		Logger:      zap.NewNop(),
	}, opts)
	return h
}

func (h *harness) progress(t *testing.T, date string) map[model.ActionKind]model.ActionProgress {
	t.Helper()
	p, err := h.store.GetProgress(context.Background(), date)
	require.NoError(t, err)
	return p
}

// --- properties ---

func TestEnsureWindowsForToday_Idempotent(t *testing.T) {
	auto := fixedWindows()
	auto.Checkin.JitterMinutes = 20
	auto.Checkin.SpanMinutes = 10
	auto.Checkout.JitterMinutes = 20
	auto.Checkout.SpanMinutes = 10
	h := newHarnessWith(t, testfixtures.At(2026, 10, 18, 7, 0), auto, testfixtures.NewStore(t))
	ctx := context.Background()

	first, err := h.gate.EnsureWindowsForToday(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Minute)
		again, err := h.gate.EnsureWindowsForToday(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("schedule changed on call %d (-first +again):\n%s", i+2, diff)
		}
	}

	assert.Equal(t, 1, h.notifier.countContaining("📅"), "windows are announced exactly once")
}

func TestEnsureWindowsForToday_TwoInstancesConverge(t *testing.T) {
	auto := fixedWindows()
	auto.Checkin.JitterMinutes = 20
	st := testfixtures.NewStore(t)
	a := newHarnessWith(t, testfixtures.At(2026, 10, 18, 7, 0), auto, st)
	b := newHarnessWith(t, testfixtures.At(2026, 10, 18, 7, 0), auto, st)

	fromA, err := a.gate.EnsureWindowsForToday(context.Background())
	require.NoError(t, err)
	fromB, err := b.gate.EnsureWindowsForToday(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fromA.CheckinStart, fromB.CheckinStart)
	assert.Equal(t, 1, a.notifier.countContaining("📅")+b.notifier.countContaining("📅"))
}

func TestRunCycle_AtMostOnceWithinWindow(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 35))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		h.clock.Advance(30 * time.Second)
	}

	assert.Equal(t, 1, h.submitter.count(model.ActionCheckin))
	assert.Equal(t, 0, h.submitter.count(model.ActionCheckout))
	assert.Equal(t, 1, h.notifier.countContaining("الآلي - "), "one success notice")

	p := h.progress(t, "2026-10-18")[model.ActionCheckin]
	assert.True(t, p.Done)
	assert.Equal(t, model.StatusDone, p.Status)
}

func TestRunCycle_AtMostOnceUnderConcurrentTriggers(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 40))
	h.submitter.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.gate.RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.submitter.count(model.ActionCheckin))
}

func TestRunCycle_AtMostOnceAcrossInstances(t *testing.T) {
	st := testfixtures.NewStore(t)
	start := testfixtures.At(2026, 10, 18, 8, 40)
	a := newHarnessWith(t, start, fixedWindows(), st)
	b := newHarnessWith(t, start, fixedWindows(), st)
	a.submitter.delay = 20 * time.Millisecond
	b.submitter.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for _, h := range []*harness{a, b, a, b} {
		wg.Add(1)
		go func(h *harness) {
			defer wg.Done()
			_, err := h.gate.RunCycle(context.Background())
			assert.NoError(t, err)
		}(h)
	}
	wg.Wait()

	total := a.submitter.count(model.ActionCheckin) + b.submitter.count(model.ActionCheckin)
	assert.Equal(t, 1, total)
}

func TestRunCycle_WindowBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("minute 509 performs no call", func(t *testing.T) {
		h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 29))
		summary, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomePending, summary.Result(model.ActionCheckin).Outcome)
		assert.Equal(t, 0, h.submitter.count(model.ActionCheckin))
	})

	t.Run("minute 510 performs a call", func(t *testing.T) {
		h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 30))
		summary, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)
		assert.Equal(t, 1, h.submitter.count(model.ActionCheckin))
	})

	t.Run("minute 541 goes straight to missed", func(t *testing.T) {
		h := newHarness(t, testfixtures.At(2026, 10, 18, 9, 1))
		for i := 0; i < 3; i++ {
			summary, err := h.gate.RunCycle(ctx)
			require.NoError(t, err)
			if i == 0 {
				assert.Equal(t, OutcomeMissed, summary.Result(model.ActionCheckin).Outcome)
			} else {
				assert.Equal(t, OutcomeDone, summary.Result(model.ActionCheckin).Outcome)
			}
			h.clock.Advance(time.Minute)
		}

		assert.Equal(t, 0, h.submitter.count(model.ActionCheckin))
		assert.Equal(t, 1, h.notifier.countContaining("⛔ تم حجب"), "exactly one blocked notice")
		assert.Equal(t, 0, h.notifier.countContaining("الآلي - "), "never a success notice")

		p := h.progress(t, "2026-10-18")[model.ActionCheckin]
		assert.True(t, p.Done)
		assert.Equal(t, model.StatusMissed, p.Status)
	})

	t.Run("window end is exclusive", func(t *testing.T) {
		h := newHarness(t, testfixtures.At(2026, 10, 18, 9, 0))
		summary, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeMissed, summary.Result(model.ActionCheckin).Outcome)
		assert.Equal(t, errs.Outcome(errs.ErrWindowMissed), string(OutcomeMissed))

		entries, err := h.store.ListAudit(ctx, "2026-10-18", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "window_missed", entries[0].Outcome)
	})
}

func TestRunCycle_AuthFailureRecovery(t *testing.T) {
	envKey := "MAWARED_TOKEN_GATE_TEST"
	t.Setenv(envKey, "STALE-TOKEN-0001")
	dir := t.TempDir()
	resolver := credential.NewResolver(config.CredentialConfig{
		EnvKey:      envKey,
		EnvFile:     dir + "/.env",
		PrimaryFile: dir + "/token.txt",
		BackupFile:  dir + "/token_backup.txt",
		CacheTTL:    time.Hour,
		MinLength:   10,
	}, zap.NewNop())

	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 32))
	h.gate.creds = resolver
	h.submitter.result = func(token string, kind model.ActionKind) (*mawared.ActionResult, error) {
		if token == "STALE-TOKEN-0001" {
			return nil, errs.Mark(&mawared.StatusError{StatusCode: 401}, errs.ErrAuthenticationRejected)
		}
		return &mawared.ActionResult{StatusCode: 200, Message: "تم"}, nil
	}
	ctx := context.Background()

	// Prime the cache with the stale value, then rotate the source.
	cached, err := resolver.Resolve()
	require.NoError(t, err)
	require.Equal(t, "STALE-TOKEN-0001", cached.Value)
	t.Setenv(envKey, "FRESH-TOKEN-0002")

	summary, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, Outcome("authentication_rejected"), summary.Result(model.ActionCheckin).Outcome)
	assert.False(t, h.progress(t, "2026-10-18")[model.ActionCheckin].Done, "auth failure does not close the action")

	h.clock.Advance(time.Minute)
	summary, err = h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)

	require.Len(t, h.submitter.calls, 2)
	assert.Equal(t, "STALE-TOKEN-0001", h.submitter.calls[0].Token)
	assert.Equal(t, "FRESH-TOKEN-0002", h.submitter.calls[1].Token, "the second cycle re-reads the source")
	assert.Equal(t, 1, h.notifier.countContaining("❌ فشل"))
}

func TestRunCycle_TransientFailureRetriesAndNotifiesEachTime(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	failures := 2
	h.submitter.result = func(token string, kind model.ActionKind) (*mawared.ActionResult, error) {
		if failures > 0 {
			failures--
			return nil, errs.Mark(&mawared.StatusError{StatusCode: 503}, errs.ErrTransientRequest)
		}
		return &mawared.ActionResult{StatusCode: 200, Message: "تم"}, nil
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		h.clock.Advance(time.Minute)
	}

	assert.Equal(t, 3, h.submitter.count(model.ActionCheckin))
	assert.Equal(t, 2, h.notifier.countContaining("❌ فشل"), "failure notices are not deduplicated")
	assert.Equal(t, 0, h.creds.invalidations)

	p := h.progress(t, "2026-10-18")[model.ActionCheckin]
	assert.True(t, p.Done)
	assert.Equal(t, 3, p.Attempts)
}

func TestRunCycle_SubmitIsBoundedByTimeout(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))

	_, err := h.gate.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.submitter.calls, 1)
	assert.Greater(t, h.submitter.calls[0].Deadline, time.Duration(0))
	assert.LessOrEqual(t, h.submitter.calls[0].Deadline, 20*time.Second)
}

func TestRunCycle_NonWorkingDaySuppression(t *testing.T) {
	// 2026-10-16 is a Friday.
	h := newHarness(t, testfixtures.At(2026, 10, 16, 8, 35))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		summary, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeHoliday, summary.Result(model.ActionCheckin).Outcome)
		assert.Equal(t, OutcomeHoliday, summary.Result(model.ActionCheckout).Outcome)
		h.clock.Advance(2 * time.Hour)
	}

	assert.Empty(t, h.submitter.calls)
	assert.Equal(t, 1, h.notifier.countContaining("يوم عطلة"), "holiday notice exactly once")
	for _, kind := range model.ActionKinds {
		p := h.progress(t, "2026-10-16")[kind]
		assert.True(t, p.Done)
		assert.Equal(t, model.StatusHoliday, p.Status)
	}

	sched, err := h.store.GetSchedule(ctx, "2026-10-16")
	require.NoError(t, err)
	assert.Nil(t, sched, "no windows are generated on a non-working day")
}

func TestRunCycle_CredentialMissing(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	h.creds.err = errs.Wrap(errs.ErrCredentialNotFound, "nothing configured")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		summary, err := h.gate.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, Outcome("credential_not_found"), summary.Result(model.ActionCheckin).Outcome)
		h.clock.Advance(time.Minute)
	}

	assert.Empty(t, h.submitter.calls)
	assert.Equal(t, 1, h.notifier.countContaining("لا يوجد توكن"))
	assert.False(t, h.progress(t, "2026-10-18")[model.ActionCheckin].Done)

	// The token arrives while the window is still open.
	h.creds.mu.Lock()
	h.creds.err = nil
	h.creds.mu.Unlock()
	summary, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)
}

func TestRunCycle_Disabled(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	ctx := context.Background()
	require.NoError(t, h.gate.SetEnabled(ctx, false))

	summary, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.False(t, summary.Enabled)
	assert.Equal(t, OutcomeDisabled, summary.Result(model.ActionCheckin).Outcome)
	assert.Empty(t, h.submitter.calls)
	assert.Equal(t, 1, h.notifier.countContaining("⏸️"))

	enabled, err := h.gate.Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestRunCycle_LeaseHeldByAnotherInstance(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	ctx := context.Background()

	_, err := h.gate.EnsureWindowsForToday(ctx)
	require.NoError(t, err)
	claimed, err := h.store.ClaimAction(ctx, "2026-10-18", model.ActionCheckin, "other-host", h.clock.Now(), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	summary, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, summary.Result(model.ActionCheckin).Outcome)
	assert.Empty(t, h.submitter.calls)

	// The other instance crashed; once its lease expires this one takes over.
	h.clock.Advance(2 * time.Minute)
	summary, err = h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)
}

func TestRunCycle_LeaseOutlastsSlowSubmit(t *testing.T) {
	st := testfixtures.NewStore(t)
	start := testfixtures.At(2026, 10, 18, 8, 40)
	short := Options{AutoDefault: true, Lease: 10 * time.Second, SubmitTimeout: 20 * time.Second}
	a := newHarnessOpts(t, start, fixedWindows(), st, short)
	// b's clock runs ahead of a's by more than the configured lease.
	b := newHarnessOpts(t, start.Add(15*time.Second), fixedWindows(), st, short)
	assert.Equal(t, 30*time.Second, a.gate.lease)

	release := make(chan struct{})
	a.submitter.release = release
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, err := a.gate.RunCycle(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)
	}()
	require.Eventually(t, func() bool { return a.submitter.count(model.ActionCheckin) == 1 }, time.Second, 5*time.Millisecond)

	summary, err := b.gate.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, summary.Result(model.ActionCheckin).Outcome)

	close(release)
	<-done
	assert.Equal(t, 0, b.submitter.count(model.ActionCheckin))
	assert.True(t, a.progress(t, "2026-10-18")[model.ActionCheckin].Done)
}

func TestRunCycle_LeaseLostDuringSubmit(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 40))
	ctx := context.Background()
	release := make(chan struct{})
	h.submitter.release = release

	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, err := h.gate.RunCycle(ctx)
		assert.NoError(t, err)
		assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckin).Outcome)
	}()
	require.Eventually(t, func() bool { return h.submitter.count(model.ActionCheckin) == 1 }, time.Second, 5*time.Millisecond)

	// Another instance sees the lease as expired and takes the row.
	claimed, err := h.store.ClaimAction(ctx, "2026-10-18", model.ActionCheckin, "other-host", h.clock.Now().Add(time.Hour), time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	close(release)
	<-done

	entries, err := h.store.ListAudit(ctx, "2026-10-18", 10)
	require.NoError(t, err)
	outcomes := make([]string, 0, len(entries))
	for _, e := range entries {
		outcomes = append(outcomes, e.Outcome)
	}
	assert.Contains(t, outcomes, string(OutcomeLeaseLost))
	assert.Contains(t, outcomes, string(OutcomeSubmitted))

	p := h.progress(t, "2026-10-18")[model.ActionCheckin]
	assert.True(t, p.Done, "the successful call still closes the row")
	assert.Equal(t, model.StatusDone, p.Status)
}

func TestRunCycle_BothKindsIndependent(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	ctx := context.Background()

	_, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)

	h.clock.Set(testfixtures.At(2026, 10, 18, 16, 10))
	summary, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, summary.Result(model.ActionCheckin).Outcome)
	assert.Equal(t, OutcomeSubmitted, summary.Result(model.ActionCheckout).Outcome)
	assert.Equal(t, 1, h.submitter.count(model.ActionCheckout))
}

func TestRunCycle_WritesAuditLog(t *testing.T) {
	h := newHarness(t, testfixtures.At(2026, 10, 18, 8, 31))
	ctx := context.Background()

	_, err := h.gate.RunCycle(ctx)
	require.NoError(t, err)

	entries, err := h.store.ListAudit(ctx, "2026-10-18", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionCheckin, entries[0].Kind)
	assert.Equal(t, TriggerAuto, entries[0].Trigger)
	assert.Equal(t, string(OutcomeSubmitted), entries[0].Outcome)
	assert.NotEmpty(t, entries[0].ID)
}
