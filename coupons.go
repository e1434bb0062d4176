package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

// RedeemRequest redeems a coupon code for an account. TemplateID is only
// read when the coupon is not tied to a template.
type RedeemRequest struct {
	Code       string
	AppID      string
	AccountID  id.AccountID
	TemplateID id.TemplateID
	Units      int
}

// ──────────────────────────────────────────────────
// Coupon Management
// ──────────────────────────────────────────────────

// CreateCoupon validates and stores a coupon. Codes are unique per app.
func (e *Engine) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	if c.ID.IsNil() {
		c.ID = id.NewCouponID()
	}
	c.Entity = types.NewEntity()

	if err := c.Validate(); err != nil {
		return err
	}
	if c.HasTemplate() {
		t, err := e.store.GetTemplate(ctx, c.TemplateID)
		if err != nil {
			return err
		}
		if t.AppID != c.AppID {
			return ValidationError{Field: "template_id", Message: "template belongs to another app"}
		}
	}

	if _, err := e.store.GetCoupon(ctx, c.Code, c.AppID); err == nil {
		return fmt.Errorf("%w: coupon code %q", ErrAlreadyExists, c.Code)
	} else if !errors.Is(err, ErrCouponNotFound) {
		return err
	}

	return e.store.CreateCoupon(ctx, c)
}

// GetCoupon retrieves a coupon by code.
func (e *Engine) GetCoupon(ctx context.Context, code, appID string) (*coupon.Coupon, error) {
	return e.store.GetCoupon(ctx, code, appID)
}

// GetCouponByID retrieves a coupon by ID.
func (e *Engine) GetCouponByID(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	return e.store.GetCouponByID(ctx, couponID)
}

// ListCoupons lists the coupons of an app.
func (e *Engine) ListCoupons(ctx context.Context, appID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	return e.store.ListCoupons(ctx, appID, opts)
}

// UpdateCoupon saves a coupon. Licenses already redeemed keep the terms
// frozen at redemption.
func (e *Engine) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.Touch()
	return e.store.UpdateCoupon(ctx, c)
}

// DeleteCoupon removes a coupon.
func (e *Engine) DeleteCoupon(ctx context.Context, couponID id.CouponID) error {
	return e.store.DeleteCoupon(ctx, couponID)
}

func (e *Engine) setCouponOverride(ctx context.Context, couponID id.CouponID, field policy.Field, value any) error {
	c, err := e.store.GetCouponByID(ctx, couponID)
	if err != nil {
		return err
	}
	if err := c.Terms.Set(field, value); err != nil {
		return err
	}
	c.Touch()
	return e.store.UpdateCoupon(ctx, c)
}

// RedeemCoupon creates a license from a coupon. The coupon's terms and
// price adjustments are frozen onto the license, and one use is taken from
// the coupon's cap. Licenses that owe nothing after the adjustment are
// activated at once; the others wait for Confirm.
func (e *Engine) RedeemCoupon(ctx context.Context, req RedeemRequest) (*license.License, error) {
	now := e.now()

	c, err := e.store.GetCoupon(ctx, req.Code, req.AppID)
	if err != nil {
		return nil, err
	}
	if !c.UsesOK() {
		return nil, ErrCouponExhausted
	}
	if !c.Available(now) {
		return nil, ErrCouponUnavailable
	}

	templateID := req.TemplateID
	if c.HasTemplate() {
		templateID = c.TemplateID
	}
	if templateID.IsNil() {
		return nil, ValidationError{Field: "template_id", Message: "coupon is not tied to a template; one is required"}
	}

	acct, t, err := e.loadPair(ctx, req.AccountID, templateID)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, ErrTemplateUnavailable
	}
	if !c.AccountOK(acct) {
		return nil, ErrCouponNotForAccount
	}
	if err := e.plugins.ValidateCoupon(ctx, c, acct); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCouponUnavailable, err)
	}

	if err := e.store.IncrementCouponUses(ctx, c.ID); err != nil {
		return nil, err
	}
	c.UsesCurrent++

	l := e.newLicense(t, acct, license.PurchaseCoupon, req.Units)
	l.CouponID = c.ID
	l.CouponTerms = c.Freeze(&t.Terms)
	l.AddHistory(now, "coupon", c.Code)

	if err := e.createLicense(ctx, l, false); err != nil {
		e.logger.Error("coupon use taken but license not created",
			"coupon_id", c.ID.String(),
			"account_id", acct.ID.String(),
			"error", err,
		)
		return nil, err
	}

	e.plugins.EmitCouponRedeemed(ctx, c, l)
	return l, nil
}
