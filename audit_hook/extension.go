// Package audithook bridges Entitle lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// an audit backend directly. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnTemplateCreated  = (*Extension)(nil)
	_ plugin.OnTemplateUpdated  = (*Extension)(nil)
	_ plugin.OnCouponRedeemed   = (*Extension)(nil)
	_ plugin.OnLicenseCreated   = (*Extension)(nil)
	_ plugin.OnLicenseActivated = (*Extension)(nil)
	_ plugin.OnLicenseRenewed   = (*Extension)(nil)
	_ plugin.OnLicenseSuspended = (*Extension)(nil)
	_ plugin.OnLicenseResumed   = (*Extension)(nil)
	_ plugin.OnLicenseExpired   = (*Extension)(nil)
	_ plugin.OnLicenseCancelled = (*Extension)(nil)
	_ plugin.OnOverrideSet      = (*Extension)(nil)
	_ plugin.OnAccountDeleted   = (*Extension)(nil)
	_ plugin.OnPaymentMismatch  = (*Extension)(nil)
	_ plugin.OnOverageDue       = (*Extension)(nil)
	_ plugin.OnRenewalDue       = (*Extension)(nil)
	_ plugin.OnAccessChecked    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Entitle lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnTemplateCreated implements plugin.OnTemplateCreated.
func (e *Extension) OnTemplateCreated(ctx context.Context, t *template.Template) error {
	return e.record(ctx, ActionTemplateCreated, SeverityInfo, OutcomeSuccess,
		ResourceTemplate, t.ID.String(), CategoryCatalog, nil,
		"app_id", t.AppID,
		"sku", t.SKU,
	)
}

// OnTemplateUpdated implements plugin.OnTemplateUpdated.
func (e *Extension) OnTemplateUpdated(ctx context.Context, t *template.Template, pushed int) error {
	return e.record(ctx, ActionTemplateUpdated, SeverityInfo, OutcomeSuccess,
		ResourceTemplate, t.ID.String(), CategoryCatalog, nil,
		"app_id", t.AppID,
		"sku", t.SKU,
		"pushed_licenses", pushed,
	)
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (e *Extension) OnCouponRedeemed(ctx context.Context, c *coupon.Coupon, l *license.License) error {
	return e.record(ctx, ActionCouponRedeemed, SeverityInfo, OutcomeSuccess,
		ResourceCoupon, c.ID.String(), CategoryLicensing, nil,
		"code", c.Code,
		"license_id", l.ID.String(),
		"account_id", l.AccountID.String(),
		"uses", c.UsesCurrent,
	)
}

// ──────────────────────────────────────────────────
// License lifecycle hooks
// ──────────────────────────────────────────────────

// OnLicenseCreated implements plugin.OnLicenseCreated.
func (e *Extension) OnLicenseCreated(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseCreated, SeverityInfo, l, "purchase_type", string(l.PurchaseType))
}

// OnLicenseActivated implements plugin.OnLicenseActivated.
func (e *Extension) OnLicenseActivated(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseActivated, SeverityInfo, l)
}

// OnLicenseRenewed implements plugin.OnLicenseRenewed.
func (e *Extension) OnLicenseRenewed(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseRenewed, SeverityInfo, l, "renewal_count", l.RenewalCount)
}

// OnLicenseSuspended implements plugin.OnLicenseSuspended.
func (e *Extension) OnLicenseSuspended(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseSuspended, SeverityWarning, l, "reason", string(l.SuspendReason))
}

// OnLicenseResumed implements plugin.OnLicenseResumed.
func (e *Extension) OnLicenseResumed(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseResumed, SeverityInfo, l)
}

// OnLicenseExpired implements plugin.OnLicenseExpired.
func (e *Extension) OnLicenseExpired(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseExpired, SeverityInfo, l)
}

// OnLicenseCancelled implements plugin.OnLicenseCancelled.
func (e *Extension) OnLicenseCancelled(ctx context.Context, l *license.License) error {
	return e.license(ctx, ActionLicenseCancelled, SeverityInfo, l)
}

// OnOverrideSet implements plugin.OnOverrideSet.
func (e *Extension) OnOverrideSet(ctx context.Context, change plugin.OverrideSet) error {
	return e.record(ctx, ActionOverrideSet, SeverityInfo, OutcomeSuccess,
		resourceOf(change.TargetID), change.TargetID.String(), CategoryLicensing, nil,
		"field", string(change.Field),
		"value", fmt.Sprintf("%v", change.Value),
	)
}

// OnAccountDeleted implements plugin.OnAccountDeleted.
func (e *Extension) OnAccountDeleted(ctx context.Context, a *account.Account, cancelled int) error {
	return e.record(ctx, ActionAccountDeleted, SeverityWarning, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryLicensing, nil,
		"app_id", a.AppID,
		"cancelled_licenses", cancelled,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentMismatch implements plugin.OnPaymentMismatch.
func (e *Extension) OnPaymentMismatch(ctx context.Context, m *types.PaymentMismatchError) error {
	return e.record(ctx, ActionPaymentMismatch, SeverityCritical, OutcomeFailure,
		ResourceLicense, m.LicenseID, CategoryPayment, m,
		"expected", m.Expected.String(),
		"got", m.Got.String(),
	)
}

// OnOverageDue implements plugin.OnOverageDue.
func (e *Extension) OnOverageDue(ctx context.Context, evt plugin.OverageDue) error {
	return e.record(ctx, ActionOverageDue, SeverityInfo, OutcomeSuccess,
		ResourceLicense, evt.LicenseID.String(), CategoryUsage, nil,
		"kind", string(evt.Kind),
		"units", evt.Units,
		"amount", evt.Amount.String(),
	)
}

// OnRenewalDue implements plugin.OnRenewalDue.
func (e *Extension) OnRenewalDue(ctx context.Context, evt plugin.RenewalDue) error {
	return e.record(ctx, ActionRenewalDue, SeverityInfo, OutcomeSuccess,
		ResourceLicense, evt.LicenseID.String(), CategoryPayment, nil,
		"amount", evt.Amount.String(),
		"deadline", evt.Deadline,
	)
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessChecked implements plugin.OnAccessChecked. Only denied checks
// are audited.
func (e *Extension) OnAccessChecked(ctx context.Context, check plugin.AccessChecked) error {
	if check.Decision.Allowed {
		return nil
	}
	return e.record(ctx, ActionAccessDenied, SeverityInfo, OutcomeFailure,
		ResourceContent, check.ItemID, CategoryAccess, nil,
		"account_id", check.AccountID.String(),
		"user_id", check.UserID,
		"reason", string(check.Decision.Reason),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func (e *Extension) license(ctx context.Context, action, severity string, l *license.License, kvPairs ...any) error {
	kv := append([]any{
		"account_id", l.AccountID.String(),
		"template_id", l.TemplateID.String(),
		"state", string(l.State),
	}, kvPairs...)
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceLicense, l.ID.String(), CategoryLicensing, nil, kv...)
}

func resourceOf(target id.ID) string {
	switch target.Prefix() {
	case id.PrefixTemplate:
		return ResourceTemplate
	case id.PrefixCoupon:
		return ResourceCoupon
	default:
		return ResourceLicense
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
