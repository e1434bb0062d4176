// Package plugin provides an extensible plugin system for Entitle.
// Plugins can hook into lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Template and coupon hooks
// ──────────────────────────────────────────────────

// OnTemplateCreated is called when a new template is created.
type OnTemplateCreated interface {
	Plugin
	OnTemplateCreated(ctx context.Context, t *template.Template) error
}

// OnTemplateUpdated is called after a template edit, with the number of
// controlled licenses the edit was pushed to.
type OnTemplateUpdated interface {
	Plugin
	OnTemplateUpdated(ctx context.Context, t *template.Template, pushed int) error
}

// OnCouponRedeemed is called when a coupon produces a license.
type OnCouponRedeemed interface {
	Plugin
	OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, l *license.License) error
}

// ──────────────────────────────────────────────────
// License lifecycle hooks
// ──────────────────────────────────────────────────

// OnLicenseCreated is called when a license is created.
type OnLicenseCreated interface {
	Plugin
	OnLicenseCreated(ctx context.Context, l *license.License) error
}

// OnLicenseActivated is called when a pending license becomes active.
type OnLicenseActivated interface {
	Plugin
	OnLicenseActivated(ctx context.Context, l *license.License) error
}

// OnLicenseRenewed is called when a license rolls into a new period.
type OnLicenseRenewed interface {
	Plugin
	OnLicenseRenewed(ctx context.Context, l *license.License) error
}

// OnLicenseSuspended is called when a license is suspended.
type OnLicenseSuspended interface {
	Plugin
	OnLicenseSuspended(ctx context.Context, l *license.License) error
}

// OnLicenseResumed is called when a suspended license is resumed.
type OnLicenseResumed interface {
	Plugin
	OnLicenseResumed(ctx context.Context, l *license.License) error
}

// OnLicenseExpired is called when a license expires.
type OnLicenseExpired interface {
	Plugin
	OnLicenseExpired(ctx context.Context, l *license.License) error
}

// OnLicenseCancelled is called when a license is cancelled.
type OnLicenseCancelled interface {
	Plugin
	OnLicenseCancelled(ctx context.Context, l *license.License) error
}

// OnPaymentMismatch is called when a confirmation carries the wrong amount.
type OnPaymentMismatch interface {
	Plugin
	OnPaymentMismatch(ctx context.Context, mismatch *types.PaymentMismatchError) error
}

// OnOverrideSet is called after an override edit.
type OnOverrideSet interface {
	Plugin
	OnOverrideSet(ctx context.Context, change OverrideSet) error
}

// OnAccountDeleted is called after an account and its licenses are removed
// from service.
type OnAccountDeleted interface {
	Plugin
	OnAccountDeleted(ctx context.Context, a *account.Account, cancelled int) error
}

// ──────────────────────────────────────────────────
// Usage/Metering hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded is called after a usage record is applied to a ledger.
type OnUsageRecorded interface {
	Plugin
	OnUsageRecorded(ctx context.Context, usage UsageRecorded) error
}

// OnUsageFlushed is called when usage events are flushed to the store.
type OnUsageFlushed interface {
	Plugin
	OnUsageFlushed(ctx context.Context, count int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Billing events
// ──────────────────────────────────────────────────

// OnOverageDue is called when usage beyond the base quota becomes
// chargeable.
type OnOverageDue interface {
	Plugin
	OnOverageDue(ctx context.Context, evt OverageDue) error
}

// OnRenewalDue is called when an auto-renewing license needs a charge.
type OnRenewalDue interface {
	Plugin
	OnRenewalDue(ctx context.Context, evt RenewalDue) error
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessChecked is called after every access decision.
type OnAccessChecked interface {
	Plugin
	OnAccessChecked(ctx context.Context, check AccessChecked) error
}

// ──────────────────────────────────────────────────
// Coupon validators
// ──────────────────────────────────────────────────

// CouponValidator provides custom coupon validation logic, run after the
// built-in availability checks.
type CouponValidator interface {
	Plugin
	ValidateCoupon(ctx context.Context, c *coupon.Coupon, a *account.Account) error
}
