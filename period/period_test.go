package period_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/types"
)

var start = time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		want period.Spec
	}{
		{"", period.Perpetual},
		{"perpetual", period.Perpetual},
		{"p", period.Perpetual},
		{"2 weeks", period.Spec{Unit: period.UnitWeek, Count: 2}},
		{"1 week", period.Spec{Unit: period.UnitWeek, Count: 1}},
		{"monthly", period.Spec{Unit: period.UnitMonth, Count: 1}},
		{"yearly", period.Spec{Unit: period.UnitYear, Count: 1}},
		{"weekly", period.Spec{Unit: period.UnitWeek, Count: 1}},
		{"daily", period.Spec{Unit: period.UnitDay, Count: 1}},
		{"hourly", period.Spec{Unit: period.UnitHour, Count: 1}},
		{"30 min", period.Spec{Unit: period.UnitMinute, Count: 30}},
		{"90", period.Spec{Unit: period.UnitMinute, Count: 90}},
		{"3 Months", period.Spec{Unit: period.UnitMonth, Count: 3}},
		{`"6 hours"`, period.Spec{Unit: period.UnitHour, Count: 6}},
		{"  2   years ", period.Spec{Unit: period.UnitYear, Count: 2}},
		{"0 days", period.Perpetual},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := period.Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want.IsPerpetual(), got.IsPerpetual())
			if !tt.want.IsPerpetual() {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseUnparseable(t *testing.T) {
	for _, text := range []string{"forever and ever", "two weeks", "3 fortnights", "m", "whenever", "hello", "dozen", "3 yaks", "1 perpetually"} {
		t.Run(text, func(t *testing.T) {
			got, err := period.Parse(text)
			assert.True(t, got.IsPerpetual())

			var cfgErr *types.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "period", cfgErr.Field)
		})
	}
}

func TestParseOrPerpetualLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got := period.ParseOrPerpetual(logger, "sometime soon")
	assert.True(t, got.IsPerpetual())
	assert.Contains(t, buf.String(), "access period not understood")
}

func TestStringRoundTrip(t *testing.T) {
	for _, text := range []string{"2 weeks", "monthly", "perpetual", "1 minute", "45 minutes", "yearly", "3 days"} {
		spec := period.MustParse(text)
		assert.Equal(t, text, spec.String())
		back := period.MustParse(spec.String())
		assert.Equal(t, spec, back)
	}
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "every 2 weeks", period.MustParse("2 weeks").Describe())
	assert.Equal(t, "monthly", period.MustParse("monthly").Describe())
	assert.Equal(t, "every minute", period.MustParse("1 min").Describe())
	assert.Equal(t, "perpetual", period.Perpetual.Describe())
}

func TestComputeEnd(t *testing.T) {
	w := period.Compute(start, period.MustParse("2 weeks"), nil)
	require.NotNil(t, w.End)
	assert.Equal(t, start.Add(14*24*time.Hour), *w.End)

	w = period.Compute(start, period.MustParse("perpetual"), nil)
	assert.Nil(t, w.End)

	w = period.Compute(start, period.MustParse(""), nil)
	assert.Nil(t, w.End)
}

func TestComputeMonthClamps(t *testing.T) {
	w := period.Compute(start, period.MustParse("monthly"), nil)
	require.NotNil(t, w.End)
	assert.Equal(t, time.Date(2024, 2, 29, 10, 0, 0, 0, time.UTC), *w.End)

	w = period.Compute(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), period.MustParse("yearly"), nil)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), *w.End)
}

func TestComputeFixedEndCeiling(t *testing.T) {
	fixed := start.AddDate(0, 0, 3)

	w := period.Compute(start, period.MustParse("2 weeks"), &fixed)
	assert.Equal(t, fixed, *w.End)

	later := start.AddDate(1, 0, 0)
	w = period.Compute(start, period.MustParse("2 weeks"), &later)
	assert.Equal(t, start.AddDate(0, 0, 14), *w.End)

	w = period.Compute(start, period.Perpetual, &fixed)
	require.NotNil(t, w.End)
	assert.Equal(t, fixed, *w.End)
}

func TestRenew(t *testing.T) {
	weekly := period.MustParse("weekly")
	current := period.Compute(start, weekly, nil)

	t.Run("starts at previous end", func(t *testing.T) {
		next, outcome := period.Renew(current, weekly, nil, 0, 0)
		assert.Equal(t, period.Renewed, outcome)
		assert.Equal(t, *current.End, next.Start)
		assert.Equal(t, current.End.AddDate(0, 0, 7), *next.End)
	})

	t.Run("uses the spec passed in", func(t *testing.T) {
		next, outcome := period.Renew(current, period.MustParse("2 days"), nil, 0, 0)
		assert.Equal(t, period.Renewed, outcome)
		assert.Equal(t, current.End.AddDate(0, 0, 2), *next.End)
	})

	t.Run("max renewals", func(t *testing.T) {
		_, outcome := period.Renew(current, weekly, nil, 1, 2)
		assert.Equal(t, period.Renewed, outcome)
		_, outcome = period.Renew(current, weekly, nil, 2, 2)
		assert.Equal(t, period.Exhausted, outcome)
	})

	t.Run("fixed end reached", func(t *testing.T) {
		fixed := *current.End
		_, outcome := period.Renew(current, weekly, &fixed, 0, 0)
		assert.Equal(t, period.PastFixedEnd, outcome)
	})

	t.Run("fixed end caps next", func(t *testing.T) {
		fixed := current.End.AddDate(0, 0, 2)
		next, outcome := period.Renew(current, weekly, &fixed, 0, 0)
		assert.Equal(t, period.Renewed, outcome)
		assert.Equal(t, fixed, *next.End)
	})

	t.Run("perpetual spec", func(t *testing.T) {
		next, outcome := period.Renew(current, period.Perpetual, nil, 0, 0)
		assert.Equal(t, period.Unbounded, outcome)
		assert.Nil(t, next.End)
	})

	t.Run("open current window", func(t *testing.T) {
		open := period.Compute(start, period.Perpetual, nil)
		next, outcome := period.Renew(open, weekly, nil, 0, 0)
		assert.Equal(t, period.NoRenewal, outcome)
		assert.Equal(t, "no_renewal", outcome.String())
		assert.Equal(t, open, next)
	})
}

func TestWindowContains(t *testing.T) {
	w := period.Compute(start, period.MustParse("1 day"), nil)
	end := *w.End

	assert.False(t, w.Contains(start.Add(-time.Second), nil))
	assert.True(t, w.Contains(start, nil))
	assert.False(t, w.Contains(end, nil))
	assert.True(t, w.Elapsed(end))
	assert.True(t, w.Contains(end.Add(time.Hour), period.FixedGrace(2*time.Hour)))
	assert.False(t, w.Contains(end.Add(3*time.Hour), period.FixedGrace(2*time.Hour)))
	assert.False(t, w.Contains(end, period.NoGrace))

	open := period.Compute(start, period.Perpetual, nil)
	assert.True(t, open.Contains(start.AddDate(50, 0, 0), nil))
	assert.False(t, open.Elapsed(start.AddDate(50, 0, 0)))
}
