package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

// Coupon is an alternate, usage-limited entry point to a template. Its
// terms are frozen onto the license it creates.
//
// PriceAdjust and PayGoPriceAdjust are read as: 0 is free, below 1 is a
// multiplier on the template price, 1 or more is an absolute price. Blank,
// exactly 1 or negative leaves the price alone.
type Coupon struct {
	types.Entity
	ID               id.CouponID                     `json:"id"`
	AppID            string                          `json:"app_id" validate:"required"`
	Code             string                          `json:"code" validate:"required,max=64"`
	TemplateID       id.TemplateID                   `json:"template_id"`
	Description      string                          `json:"description,omitempty"`
	Enabled          bool                            `json:"enabled"`
	PriceAdjust      override.Value[decimal.Decimal] `json:"price_adjust"`
	PayGoPriceAdjust override.Value[decimal.Decimal] `json:"paygo_price_adjust"`
	Terms            policy.Terms                    `json:"terms"`
	UsesMax          int                             `json:"uses_max" validate:"gte=0"`
	UsesCurrent      int                             `json:"uses_current" validate:"gte=0"`
	AccountCodes     []string                        `json:"account_codes,omitempty"`
	Expires          *time.Time                      `json:"expires,omitempty"`
	Metadata         map[string]string               `json:"metadata,omitempty"`
}

// HasTemplate reports whether the coupon is tied to one template.
func (c *Coupon) HasTemplate() bool {
	return !c.TemplateID.IsNil()
}

// UsesOK reports whether the usage cap still has room. A zero cap means
// no cap.
func (c *Coupon) UsesOK() bool {
	return c.UsesMax == 0 || c.UsesCurrent < c.UsesMax
}

// DatesOK reports whether neither the coupon nor its access end has
// passed.
func (c *Coupon) DatesOK(now time.Time) bool {
	if c.Expires != nil && !c.Expires.After(now) {
		return false
	}
	if end, ok := c.Terms.AccessEnd.Get(); ok && !end.After(now) {
		return false
	}
	return true
}

// Available reports whether the coupon can be redeemed at now.
func (c *Coupon) Available(now time.Time) bool {
	return c.Enabled && c.UsesOK() && c.DatesOK(now)
}

// AccountOK reports whether acct may use the coupon. Coupons without
// account codes are open to everyone.
func (c *Coupon) AccountOK(acct *account.Account) bool {
	if acct == nil || len(c.AccountCodes) == 0 {
		return true
	}
	return acct.HasAnyCode(c.AccountCodes...)
}

// Validate checks struct tags and the usage cap.
func (c *Coupon) Validate() error {
	if err := types.Validate(c); err != nil {
		return err
	}
	if c.UsesMax > 0 && c.UsesCurrent > c.UsesMax {
		return types.ValidationError{Field: "uses_current", Message: "must not exceed uses_max"}
	}
	return nil
}

// Freeze returns the coupon tier of a license redeemed against a template
// with the given terms. Price adjustments are applied to the template
// prices once, here, so later template edits do not move them.
func (c *Coupon) Freeze(base *policy.Terms) policy.Terms {
	frozen := c.Terms
	if base == nil {
		base = &policy.Terms{}
	}

	if adjust, ok := c.PriceAdjust.Get(); ok && applies(adjust) {
		price := c.Terms.Price.Or(base.Price.Or(types.Zero("")))
		frozen.Price = override.Of(Adjust(price, adjust))
	}

	if adjust, ok := c.PayGoPriceAdjust.Get(); ok && applies(adjust) {
		for _, kind := range meter.Kinds {
			src := c.Terms.Quota(kind).Price
			if src.IsBlank() {
				src = base.Quota(kind).Price
			}
			if price, ok := src.Get(); ok {
				frozen.Quota(kind).Price = override.Of(Adjust(price, adjust))
			}
		}
	}

	return frozen
}

// Adjust applies a coupon price adjustment to price.
func Adjust(price types.Money, adjust decimal.Decimal) types.Money {
	switch {
	case !applies(adjust):
		return price
	case adjust.LessThan(decimal.NewFromInt(1)):
		return price.Scale(adjust)
	default:
		return types.FromDecimal(adjust, price.Currency)
	}
}

func applies(adjust decimal.Decimal) bool {
	return !adjust.IsNegative() && !adjust.Equal(decimal.NewFromInt(1))
}
