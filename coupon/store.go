package coupon

import (
	"context"

	"github.com/xraph/entitle/id"
)

type Store interface {
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, code string, appID string) (*Coupon, error)
	GetCouponByID(ctx context.Context, couponID id.CouponID) (*Coupon, error)
	ListCoupons(ctx context.Context, appID string, opts ListOpts) ([]*Coupon, error)
	UpdateCoupon(ctx context.Context, c *Coupon) error
	DeleteCoupon(ctx context.Context, couponID id.CouponID) error

	// IncrementCouponUses adds one use if the cap allows it. It returns
	// ErrCouponExhausted from the root package when the cap is reached.
	IncrementCouponUses(ctx context.Context, couponID id.CouponID) error
}

type ListOpts struct {
	EnabledOnly bool
	Limit       int
	Offset      int
}
