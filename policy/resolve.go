package policy

import (
	"time"

	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/tags"
	"github.com/xraph/entitle/types"
)

// Effective is the fully resolved set of terms of a license.
type Effective struct {
	Price       types.Money
	Period      period.Spec
	PeriodText  string
	Tags        tags.Pattern
	AccessEnd   *time.Time
	AutoRenew   bool
	MaxRenewals int
	Quotas      meter.Quotas
	Units       int

	// Trace records which tier each field came from.
	Trace map[Field]override.Source

	// Warnings collects configuration errors met while resolving. They
	// never fail resolution; callers log them.
	Warnings []error
}

// SourceOf returns the tier field was resolved from.
func (e Effective) SourceOf(field Field) override.Source {
	return e.Trace[field]
}

// IsFree reports whether the effective price is zero.
func (e Effective) IsFree() bool {
	return e.Price.IsZero()
}

type tier struct {
	source override.Source
	terms  *Terms
}

type resolver struct {
	tiers []tier
	trace map[Field]override.Source
}

func pick[T any](r *resolver, field Field, get func(*Terms) override.Value[T]) override.Resolution[T] {
	chain := make([]override.Tier[T], 0, len(r.tiers))
	for _, t := range r.tiers {
		if t.terms == nil {
			continue
		}
		chain = append(chain, override.At(t.source, get(t.terms)))
	}
	res := override.Resolve(chain...)
	r.trace[field] = res.Source
	return res
}

// Resolve computes the effective terms. Each field is resolved on its own
// through instance, coupon, template and defaults, in that order; any
// tier may be nil. units multiplies the price and every finite base
// quota and is treated as 1 when less than 1.
func Resolve(instance, coupon, template, defaults *Terms, units int) Effective {
	if units < 1 {
		units = 1
	}
	r := &resolver{
		tiers: []tier{
			{override.SourceInstance, instance},
			{override.SourceCoupon, coupon},
			{override.SourceTemplate, template},
			{override.SourceDefault, defaults},
		},
		trace: make(map[Field]override.Source, len(Fields())),
	}

	eff := Effective{
		Units:  units,
		Quotas: meter.Quotas{},
	}

	if price := pick(r, FieldPrice, func(t *Terms) override.Value[types.Money] { return t.Price }); price.Found() {
		eff.Price = price.Value.Multiply(int64(units))
	}

	eff.PeriodText = pick(r, FieldPeriod, func(t *Terms) override.Value[string] { return t.Period }).Value
	spec, err := period.Parse(eff.PeriodText)
	if err != nil {
		eff.Warnings = append(eff.Warnings, err)
	}
	eff.Period = spec

	eff.Tags = tags.Parse(pick(r, FieldTags, func(t *Terms) override.Value[string] { return t.TagPattern }).Value)
	eff.Warnings = append(eff.Warnings, eff.Tags.Warnings...)

	if end := pick(r, FieldAccessEnd, func(t *Terms) override.Value[time.Time] { return t.AccessEnd }); end.Found() {
		v := end.Value
		eff.AccessEnd = &v
	}

	eff.AutoRenew = pick(r, FieldAutoRenew, func(t *Terms) override.Value[bool] { return t.AutoRenew }).Value
	eff.MaxRenewals = pick(r, FieldMaxRenewals, func(t *Terms) override.Value[int] { return t.MaxRenewals }).Value

	for _, kind := range meter.Kinds {
		limit := pick(r, QuotaField(kind), func(t *Terms) override.Value[int64] { return t.Quota(kind).Limit })
		inc := pick(r, PayGoIncrementField(kind), func(t *Terms) override.Value[int64] { return t.Quota(kind).Increment })
		price := pick(r, PayGoPriceField(kind), func(t *Terms) override.Value[types.Money] { return t.Quota(kind).Price })

		if !limit.Found() {
			continue
		}
		q := meter.Quota{Limit: limit.Value}
		if !q.IsUnlimited() {
			q.Limit *= int64(units)
		}
		if price.Found() {
			q.PayGo = &meter.PayGo{Increment: inc.Value, Price: price.Value}
		}
		eff.Quotas[kind] = q
	}

	eff.Trace = r.trace
	return eff
}
