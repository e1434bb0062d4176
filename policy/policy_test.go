package policy_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

func templateTerms() *policy.Terms {
	return &policy.Terms{
		Price:      override.Of(types.USD(5000)),
		Period:     override.Of("monthly"),
		TagPattern: override.Of("math*"),
		AutoRenew:  override.Of(true),
		Points: policy.QuotaTerms{
			Limit:     override.Of[int64](10),
			Increment: override.Of[int64](5),
			Price:     override.Of(types.USD(200)),
		},
	}
}

func TestResolveCascade(t *testing.T) {
	instance := &policy.Terms{AutoRenew: override.Of(false)}
	coupon := &policy.Terms{Price: override.Of(types.USD(0))}
	defaults := &policy.Terms{MaxRenewals: override.Of(12)}

	eff := policy.Resolve(instance, coupon, templateTerms(), defaults, 1)

	assert.True(t, eff.Price.IsZero())
	assert.Equal(t, override.SourceCoupon, eff.SourceOf(policy.FieldPrice))

	assert.False(t, eff.AutoRenew)
	assert.Equal(t, override.SourceInstance, eff.SourceOf(policy.FieldAutoRenew))

	assert.Equal(t, period.Spec{Unit: period.UnitMonth, Count: 1}, eff.Period)
	assert.Equal(t, override.SourceTemplate, eff.SourceOf(policy.FieldPeriod))

	assert.Equal(t, 12, eff.MaxRenewals)
	assert.Equal(t, override.SourceDefault, eff.SourceOf(policy.FieldMaxRenewals))

	assert.Nil(t, eff.AccessEnd)
	assert.Equal(t, override.SourceNone, eff.SourceOf(policy.FieldAccessEnd))
	assert.Empty(t, eff.Warnings)
}

func TestEveryFieldIsTraced(t *testing.T) {
	eff := policy.Resolve(nil, nil, templateTerms(), nil, 1)
	for _, f := range policy.Fields() {
		_, ok := eff.Trace[f]
		assert.True(t, ok, "field %s has no trace entry", f)
	}
}

func TestTagPatternReplacesNeverMerges(t *testing.T) {
	instance := &policy.Terms{TagPattern: override.Of("physics")}
	eff := policy.Resolve(instance, nil, templateTerms(), nil, 1)

	assert.True(t, eff.Tags.Match("physics"))
	assert.False(t, eff.Tags.Match("math101"))
}

func TestUnitsMultiplyPriceAndFiniteQuotas(t *testing.T) {
	tpl := templateTerms()
	tpl.Users.Limit = override.Of(meter.Unlimited)

	eff := policy.Resolve(nil, nil, tpl, nil, 3)

	assert.Equal(t, types.USD(15000), eff.Price)
	assert.Equal(t, int64(30), eff.Quotas.Get(meter.KindPoints).Limit)
	assert.Equal(t, types.USD(200), eff.Quotas.Get(meter.KindPoints).PayGo.Price)
	assert.True(t, eff.Quotas.Get(meter.KindUsers).IsUnlimited())
	assert.True(t, eff.Quotas.Get(meter.KindMinutes).IsUnlimited())
}

func TestQuotaWithoutPayGoPrice(t *testing.T) {
	tpl := &policy.Terms{Minutes: policy.QuotaTerms{Limit: override.Of[int64](60)}}
	eff := policy.Resolve(nil, nil, tpl, nil, 1)

	q := eff.Quotas.Get(meter.KindMinutes)
	assert.Equal(t, int64(60), q.Limit)
	assert.Nil(t, q.PayGo)
}

func TestResolveWarnings(t *testing.T) {
	instance := &policy.Terms{
		Period:     override.Of("whenever"),
		TagPattern: override.Of("a*b"),
	}
	eff := policy.Resolve(instance, nil, nil, nil, 1)

	assert.True(t, eff.Period.IsPerpetual())
	require.Len(t, eff.Warnings, 2)
	for _, w := range eff.Warnings {
		assert.ErrorIs(t, w, types.ErrConfiguration)
	}
}

func TestSet(t *testing.T) {
	var terms policy.Terms
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, terms.Set(policy.FieldPrice, "49.99"))
	require.NoError(t, terms.Set(policy.FieldPeriod, period.MustParse("2 weeks")))
	require.NoError(t, terms.Set(policy.FieldTags, "intro*"))
	require.NoError(t, terms.Set(policy.FieldAccessEnd, end))
	require.NoError(t, terms.Set(policy.FieldAutoRenew, false))
	require.NoError(t, terms.Set(policy.FieldMaxRenewals, 3))
	require.NoError(t, terms.Set(policy.QuotaField(meter.KindPoints), int64(0)))
	require.NoError(t, terms.Set(policy.PayGoIncrementField(meter.KindPoints), float64(5)))
	require.NoError(t, terms.Set(policy.PayGoPriceField(meter.KindPoints), types.USD(150)))

	assert.Equal(t, types.USD(4999), terms.Price.Or(types.Money{}))
	assert.Equal(t, "2 weeks", terms.Period.Or(""))
	assert.Equal(t, end, terms.AccessEnd.Or(time.Time{}))
	assert.False(t, terms.AutoRenew.Or(true))
	assert.Equal(t, 3, terms.MaxRenewals.Or(0))
	assert.True(t, terms.Points.Limit.IsSet())
	assert.Equal(t, int64(5), terms.Points.Increment.Or(0))

	v, ok := terms.Get(policy.QuotaField(meter.KindPoints))
	assert.True(t, ok)
	assert.Equal(t, int64(0), v)

	require.NoError(t, terms.Set(policy.FieldPrice, nil))
	assert.True(t, terms.Price.IsBlank())

	var nilTime *time.Time
	require.NoError(t, terms.Set(policy.FieldAccessEnd, nilTime))
	assert.True(t, terms.AccessEnd.IsBlank())
}

func TestSetRejects(t *testing.T) {
	tests := []struct {
		field policy.Field
		value any
	}{
		{"nonsense", 1},
		{"quota.bananas", 1},
		{policy.FieldPrice, 12},
		{policy.FieldPrice, types.USD(-1)},
		{policy.FieldAutoRenew, "yes"},
		{policy.FieldMaxRenewals, -1},
		{policy.FieldMaxRenewals, 1.5},
		{policy.QuotaField(meter.KindUsers), int64(-2)},
		{policy.PayGoIncrementField(meter.KindUsers), -5},
		{policy.FieldAccessEnd, "tomorrow"},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			terms := templateTerms()
			before := *terms
			err := terms.Set(tt.field, tt.value)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrValidation))
			assert.Equal(t, before, *terms)
		})
	}
}

func TestTermsJSON(t *testing.T) {
	terms := templateTerms()
	data, err := json.Marshal(terms)
	require.NoError(t, err)

	var back policy.Terms
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "monthly", back.Period.Or(""))
	assert.Equal(t, int64(10), back.Points.Limit.Or(0))
	assert.True(t, back.Users.Limit.IsBlank())
	assert.True(t, back.AccessEnd.IsBlank())
	assert.True(t, (&policy.Terms{}).IsEmpty())
	assert.False(t, back.IsEmpty())
}
