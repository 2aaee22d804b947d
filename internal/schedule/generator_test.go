package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/model"
)

var riyadh = time.FixedZone("AST", 3*60*60)

func autoConfig() config.AutoConfig {
	return config.AutoConfig{
		Location: riyadh,
		Weekend:  []string{"friday", "saturday"},
		Checkin:  config.WindowConfig{Start: "08:30", End: "09:00", JitterMinutes: 20, SpanMinutes: 10},
		Checkout: config.WindowConfig{Start: "16:00", End: "16:30", JitterMinutes: 20, SpanMinutes: 10},
	}
}

func TestParseClock(t *testing.T) {
	testCases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "08:30", want: 510},
		{in: "00:00", want: 0},
		{in: "23:59", want: 1439},
		{in: " 9:05 ", want: 545},
		{in: "24:00", wantErr: true},
		{in: "08:60", wantErr: true},
		{in: "0830", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.ErrConfigurationInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "08:30", FormatClock(510))
	assert.Equal(t, "00:00", FormatClock(-5))
	assert.Equal(t, "23:59", FormatClock(2000))
}

func TestParseBound_CorrectsInvertedWindow(t *testing.T) {
	b, err := ParseBound(config.WindowConfig{Start: "09:00", End: "08:00"})
	require.NoError(t, err)
	assert.Equal(t, 540, b.Start)
	assert.Equal(t, 540+MinSpanMinutes, b.End)
	assert.Equal(t, MinSpanMinutes, b.Span, "span defaults to the corrected window")
}

func TestParseBound_RejectsNegativeJitter(t *testing.T) {
	_, err := ParseBound(config.WindowConfig{Start: "08:00", End: "09:00", JitterMinutes: -1})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConfigurationInvalid))
}

func TestGenerate_WindowsStayWithinJitter(t *testing.T) {
	g, err := NewGenerator(autoConfig(), rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	now := time.Date(2026, 10, 18, 7, 0, 0, 0, riyadh)
	for i := 0; i < 200; i++ {
		s, err := g.Generate(now)
		require.NoError(t, err)
		assert.Equal(t, "2026-10-18", s.Date)
		assert.GreaterOrEqual(t, s.CheckinStart, 510)
		assert.LessOrEqual(t, s.CheckinStart, 530)
		assert.Equal(t, s.CheckinStart+10, s.CheckinEnd)
		assert.GreaterOrEqual(t, s.CheckoutStart, 960)
		assert.LessOrEqual(t, s.CheckoutStart, 980)
		assert.Equal(t, s.CheckoutStart+10, s.CheckoutEnd)
	}
}

func TestGenerate_ZeroJitterIsDeterministic(t *testing.T) {
	cfg := autoConfig()
	cfg.Checkin = config.WindowConfig{Start: "08:30", End: "09:00"}
	g, err := NewGenerator(cfg, nil)
	require.NoError(t, err)

	s, err := g.Generate(time.Date(2026, 10, 18, 7, 0, 0, 0, riyadh))
	require.NoError(t, err)
	start, end := s.Window(model.ActionCheckin)
	assert.Equal(t, 510, start)
	assert.Equal(t, 540, end)
}

func TestGenerate_NonWorkingDay(t *testing.T) {
	g, err := NewGenerator(autoConfig(), nil)
	require.NoError(t, err)

	friday := time.Date(2026, 10, 16, 9, 0, 0, 0, riyadh)
	assert.False(t, g.IsWorkingDay(friday))

	_, err = g.Generate(friday)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrNonWorkingDay))
}

func TestGenerate_UsesLocalCalendarDate(t *testing.T) {
	g, err := NewGenerator(autoConfig(), nil)
	require.NoError(t, err)

	// 22:30 UTC on the 17th is 01:30 on Sunday the 18th in Riyadh.
	s, err := g.Generate(time.Date(2026, 10, 17, 22, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", s.Date)
}

func TestParseWeekend(t *testing.T) {
	set, err := ParseWeekend([]string{"Fri", "SATURDAY"})
	require.NoError(t, err)
	assert.True(t, set[time.Friday])
	assert.True(t, set[time.Saturday])
	assert.False(t, set[time.Sunday])

	_, err = ParseWeekend([]string{"someday"})
	assert.Error(t, err)
}

func TestMinuteOfDay(t *testing.T) {
	assert.Equal(t, 510, MinuteOfDay(time.Date(2026, 10, 18, 5, 30, 59, 0, time.UTC), riyadh))
	assert.Equal(t, "2026-10-18", DateOf(time.Date(2026, 10, 18, 5, 30, 0, 0, time.UTC), riyadh))
}
