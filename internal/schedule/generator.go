// Package schedule produces the randomized daily windows for the automatic
// check-in and check-out actions.
package schedule

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/model"
)

// MinSpanMinutes replaces an inverted or empty configured window.
const MinSpanMinutes = 30

// MinutesPerDay bounds every minute-of-day value.
const MinutesPerDay = 24 * 60

// Bound is a parsed window configuration.
type Bound struct {
	Start  int
	End    int
	Jitter int
	Span   int
}

// Generator draws one schedule per working day.
type Generator struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	loc     *time.Location
	weekend map[time.Weekday]bool
	bounds  map[model.ActionKind]Bound
}

// NewGenerator validates the window configuration. rnd may be nil.
func NewGenerator(cfg config.AutoConfig, rnd *rand.Rand) (*Generator, error) {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	weekend, err := ParseWeekend(cfg.Weekend)
	if err != nil {
		return nil, err
	}

	checkin, err := ParseBound(cfg.Checkin)
	if err != nil {
		return nil, errs.Wrap(err, "checkin window")
	}
	checkout, err := ParseBound(cfg.Checkout)
	if err != nil {
		return nil, errs.Wrap(err, "checkout window")
	}

	return &Generator{
		rnd:     rnd,
		loc:     loc,
		weekend: weekend,
		bounds: map[model.ActionKind]Bound{
			model.ActionCheckin:  checkin,
			model.ActionCheckout: checkout,
		},
	}, nil
}

// Location is the zone that defines calendar dates and minutes-of-day.
func (g *Generator) Location() *time.Location {
	return g.loc
}

// Bound returns the configured bound for kind.
func (g *Generator) Bound(kind model.ActionKind) Bound {
	return g.bounds[kind]
}

// IsWorkingDay reports whether t falls outside the configured weekend.
func (g *Generator) IsWorkingDay(t time.Time) bool {
	return !g.weekend[t.In(g.loc).Weekday()]
}

// Generate draws the windows for the local calendar day of now.
func (g *Generator) Generate(now time.Time) (model.DailySchedule, error) {
	local := now.In(g.loc)
	date := DateOf(local, g.loc)
	if !g.IsWorkingDay(local) {
		return model.DailySchedule{}, errs.Wrapf(errs.ErrNonWorkingDay, "%s is a %s", date, local.Weekday())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	inStart, inEnd := g.draw(g.bounds[model.ActionCheckin])
	outStart, outEnd := g.draw(g.bounds[model.ActionCheckout])
	return model.DailySchedule{
		Date:          date,
		CheckinStart:  inStart,
		CheckinEnd:    inEnd,
		CheckoutStart: outStart,
		CheckoutEnd:   outEnd,
		GeneratedAt:   now.UTC(),
	}, nil
}

func (g *Generator) draw(b Bound) (start, end int) {
	start = b.Start
	if b.Jitter > 0 {
		start += g.rnd.Intn(b.Jitter + 1)
	}
	end = start + b.Span
	if end > MinutesPerDay {
		end = MinutesPerDay
	}
	if start >= MinutesPerDay {
		start = MinutesPerDay - 1
	}
	return start, end
}

// ParseBound converts a configured window. An end at or before the start is
// replaced by start+MinSpanMinutes; a non-positive span covers the whole
// configured window.
func ParseBound(w config.WindowConfig) (Bound, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return Bound{}, err
	}
	end := start + MinSpanMinutes
	if w.End != "" {
		end, err = ParseClock(w.End)
		if err != nil {
			return Bound{}, err
		}
	}
	if end <= start {
		end = start + MinSpanMinutes
	}
	if w.JitterMinutes < 0 {
		return Bound{}, errs.Wrapf(errs.ErrConfigurationInvalid, "negative jitter %d", w.JitterMinutes)
	}
	span := w.SpanMinutes
	if span <= 0 {
		span = end - start
	}
	return Bound{Start: start, End: end, Jitter: w.JitterMinutes, Span: span}, nil
}

// ParseClock parses "HH:MM" into a minute-of-day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, errs.Wrapf(errs.ErrConfigurationInvalid, "invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errs.Wrapf(errs.ErrConfigurationInvalid, "invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errs.Wrapf(errs.ErrConfigurationInvalid, "invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders a minute-of-day as "HH:MM".
func FormatClock(minute int) string {
	if minute >= MinutesPerDay {
		minute = MinutesPerDay - 1
	}
	if minute < 0 {
		minute = 0
	}
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// MinuteOfDay returns the minute-of-day of t in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// DateOf returns the calendar date key of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// ParseWeekend maps weekday names to a set. Names are case-insensitive and
// accept the three-letter form.
func ParseWeekend(days []string) (map[time.Weekday]bool, error) {
	set := make(map[time.Weekday]bool, len(days))
	for _, name := range days {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errs.Wrapf(errs.ErrConfigurationInvalid, "unknown weekday %q", name)
		}
		set[day] = true
	}
	return set, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}
