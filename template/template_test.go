package template_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

func newTemplate() *template.Template {
	return &template.Template{
		ID:      id.NewTemplateID(),
		AppID:   "app_1",
		SKU:     "MATH-MONTHLY",
		Name:    "Math monthly",
		Enabled: true,
		Terms: policy.Terms{
			Price:     override.Of(types.USD(5000)),
			Period:    override.Of("monthly"),
			AutoRenew: override.Of(true),
		},
	}
}

func TestIsAvailable(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	before, after := now.Add(-time.Hour), now.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(*template.Template)
		want   bool
	}{
		{"enabled no window", func(*template.Template) {}, true},
		{"disabled", func(tp *template.Template) { tp.Enabled = false }, false},
		{"not started", func(tp *template.Template) { tp.Starts = &after }, false},
		{"started", func(tp *template.Template) { tp.Starts = &before }, true},
		{"expired", func(tp *template.Template) { tp.Expires = &before }, false},
		{"expires exactly now", func(tp *template.Template) { tp.Expires = &now }, false},
		{"inside window", func(tp *template.Template) { tp.Starts, tp.Expires = &before, &after }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := newTemplate()
			tt.mutate(tp)
			assert.Equal(t, tt.want, tp.IsAvailable(now))
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, newTemplate().Validate())

	tp := newTemplate()
	tp.SKU = ""
	err := tp.Validate()
	require.Error(t, err)
	var verr types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "sku", verr.Field)

	tp = newTemplate()
	tp.Rules.InitialPrice = types.USD(-1)
	assert.True(t, errors.Is(tp.Validate(), types.ErrValidation))

	tp = newTemplate()
	start := time.Now()
	tp.Starts, tp.Expires = &start, &start
	assert.True(t, errors.Is(tp.Validate(), types.ErrValidation))
}

func TestRulesPinTerms(t *testing.T) {
	tp := newTemplate()
	tp.Rules = template.Rules{AccessFree: true, Trial: true}

	eff := tp.Effective(nil)
	assert.True(t, eff.IsFree())
	assert.False(t, eff.AutoRenew)
	assert.Equal(t, "usd", eff.Price.Currency)

	tp.Rules = template.Rules{}
	eff = tp.Effective(nil)
	assert.Equal(t, types.USD(5000), eff.Price)
	assert.True(t, eff.AutoRenew)
}
