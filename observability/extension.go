// Package observability provides a metrics extension for Entitle that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnTemplateCreated  = (*MetricsExtension)(nil)
	_ plugin.OnTemplateUpdated  = (*MetricsExtension)(nil)
	_ plugin.OnCouponRedeemed   = (*MetricsExtension)(nil)
	_ plugin.OnLicenseCreated   = (*MetricsExtension)(nil)
	_ plugin.OnLicenseActivated = (*MetricsExtension)(nil)
	_ plugin.OnLicenseRenewed   = (*MetricsExtension)(nil)
	_ plugin.OnLicenseSuspended = (*MetricsExtension)(nil)
	_ plugin.OnLicenseResumed   = (*MetricsExtension)(nil)
	_ plugin.OnLicenseExpired   = (*MetricsExtension)(nil)
	_ plugin.OnLicenseCancelled = (*MetricsExtension)(nil)
	_ plugin.OnOverrideSet      = (*MetricsExtension)(nil)
	_ plugin.OnAccountDeleted   = (*MetricsExtension)(nil)
	_ plugin.OnPaymentMismatch  = (*MetricsExtension)(nil)
	_ plugin.OnUsageRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnUsageFlushed     = (*MetricsExtension)(nil)
	_ plugin.OnOverageDue       = (*MetricsExtension)(nil)
	_ plugin.OnRenewalDue       = (*MetricsExtension)(nil)
	_ plugin.OnAccessChecked    = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an Entitle plugin to track licensing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	TemplateCreated Counter
	TemplateUpdated Counter
	LicensesPushed  Counter
	CouponRedeemed  Counter
	OverridesSet    Counter

	// License metrics
	LicenseCreated   Counter
	LicenseActivated Counter
	LicenseRenewed   Counter
	LicenseSuspended Counter
	LicenseResumed   Counter
	LicenseExpired   Counter
	LicenseCancelled Counter
	AccountsDeleted  Counter

	// Usage metrics
	UsageRecorded     Counter
	UsageFlushed      Counter
	UsageFlushLatency Histogram

	// Billing metrics
	PaymentMismatch Counter
	OverageDue      Counter
	OverageAmount   Histogram
	RenewalDue      Counter

	// Access metrics
	AccessChecks  Counter
	AccessDenied  Counter
	AccessLatency Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions or NewPrometheusFactory elsewhere.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		TemplateCreated: factory.Counter("entitle.template.created"),
		TemplateUpdated: factory.Counter("entitle.template.updated"),
		LicensesPushed:  factory.Counter("entitle.template.pushed_licenses"),
		CouponRedeemed:  factory.Counter("entitle.coupon.redeemed"),
		OverridesSet:    factory.Counter("entitle.override.set"),

		LicenseCreated:   factory.Counter("entitle.license.created"),
		LicenseActivated: factory.Counter("entitle.license.activated"),
		LicenseRenewed:   factory.Counter("entitle.license.renewed"),
		LicenseSuspended: factory.Counter("entitle.license.suspended"),
		LicenseResumed:   factory.Counter("entitle.license.resumed"),
		LicenseExpired:   factory.Counter("entitle.license.expired"),
		LicenseCancelled: factory.Counter("entitle.license.cancelled"),
		AccountsDeleted:  factory.Counter("entitle.account.deleted"),

		UsageRecorded:     factory.Counter("entitle.usage.recorded"),
		UsageFlushed:      factory.Counter("entitle.usage.flushed"),
		UsageFlushLatency: factory.Histogram("entitle.usage.flush.latency_ms"),

		PaymentMismatch: factory.Counter("entitle.payment.mismatch"),
		OverageDue:      factory.Counter("entitle.overage.due"),
		OverageAmount:   factory.Histogram("entitle.overage.amount_minor"),
		RenewalDue:      factory.Counter("entitle.renewal.due"),

		AccessChecks:  factory.Counter("entitle.access.checks"),
		AccessDenied:  factory.Counter("entitle.access.denied"),
		AccessLatency: factory.Histogram("entitle.access.latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Catalog hooks
// ──────────────────────────────────────────────────

// OnTemplateCreated implements plugin.OnTemplateCreated.
func (m *MetricsExtension) OnTemplateCreated(_ context.Context, _ *template.Template) error {
	m.TemplateCreated.Inc()
	return nil
}

// OnTemplateUpdated implements plugin.OnTemplateUpdated.
func (m *MetricsExtension) OnTemplateUpdated(_ context.Context, _ *template.Template, pushed int) error {
	m.TemplateUpdated.Inc()
	m.LicensesPushed.Add(float64(pushed))
	return nil
}

// OnCouponRedeemed implements plugin.OnCouponRedeemed.
func (m *MetricsExtension) OnCouponRedeemed(_ context.Context, _ *coupon.Coupon, _ *license.License) error {
	m.CouponRedeemed.Inc()
	return nil
}

// OnOverrideSet implements plugin.OnOverrideSet.
func (m *MetricsExtension) OnOverrideSet(_ context.Context, _ plugin.OverrideSet) error {
	m.OverridesSet.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// License lifecycle hooks
// ──────────────────────────────────────────────────

// OnLicenseCreated implements plugin.OnLicenseCreated.
func (m *MetricsExtension) OnLicenseCreated(_ context.Context, _ *license.License) error {
	m.LicenseCreated.Inc()
	return nil
}

// OnLicenseActivated implements plugin.OnLicenseActivated.
func (m *MetricsExtension) OnLicenseActivated(_ context.Context, _ *license.License) error {
	m.LicenseActivated.Inc()
	return nil
}

// OnLicenseRenewed implements plugin.OnLicenseRenewed.
func (m *MetricsExtension) OnLicenseRenewed(_ context.Context, _ *license.License) error {
	m.LicenseRenewed.Inc()
	return nil
}

// OnLicenseSuspended implements plugin.OnLicenseSuspended.
func (m *MetricsExtension) OnLicenseSuspended(_ context.Context, _ *license.License) error {
	m.LicenseSuspended.Inc()
	return nil
}

// OnLicenseResumed implements plugin.OnLicenseResumed.
func (m *MetricsExtension) OnLicenseResumed(_ context.Context, _ *license.License) error {
	m.LicenseResumed.Inc()
	return nil
}

// OnLicenseExpired implements plugin.OnLicenseExpired.
func (m *MetricsExtension) OnLicenseExpired(_ context.Context, _ *license.License) error {
	m.LicenseExpired.Inc()
	return nil
}

// OnLicenseCancelled implements plugin.OnLicenseCancelled.
func (m *MetricsExtension) OnLicenseCancelled(_ context.Context, _ *license.License) error {
	m.LicenseCancelled.Inc()
	return nil
}

// OnAccountDeleted implements plugin.OnAccountDeleted.
func (m *MetricsExtension) OnAccountDeleted(_ context.Context, _ *account.Account, _ int) error {
	m.AccountsDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageRecorded implements plugin.OnUsageRecorded.
func (m *MetricsExtension) OnUsageRecorded(_ context.Context, _ plugin.UsageRecorded) error {
	m.UsageRecorded.Inc()
	return nil
}

// OnUsageFlushed implements plugin.OnUsageFlushed.
func (m *MetricsExtension) OnUsageFlushed(_ context.Context, count int, elapsed time.Duration) error {
	m.UsageFlushed.Add(float64(count))
	m.UsageFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnPaymentMismatch implements plugin.OnPaymentMismatch.
func (m *MetricsExtension) OnPaymentMismatch(_ context.Context, _ *types.PaymentMismatchError) error {
	m.PaymentMismatch.Inc()
	return nil
}

// OnOverageDue implements plugin.OnOverageDue.
func (m *MetricsExtension) OnOverageDue(_ context.Context, evt plugin.OverageDue) error {
	m.OverageDue.Inc()
	m.OverageAmount.Observe(float64(evt.Amount.Amount))
	return nil
}

// OnRenewalDue implements plugin.OnRenewalDue.
func (m *MetricsExtension) OnRenewalDue(_ context.Context, _ plugin.RenewalDue) error {
	m.RenewalDue.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Access hooks
// ──────────────────────────────────────────────────

// OnAccessChecked implements plugin.OnAccessChecked.
func (m *MetricsExtension) OnAccessChecked(_ context.Context, check plugin.AccessChecked) error {
	m.AccessChecks.Inc()
	if !check.Decision.Allowed {
		m.AccessDenied.Inc()
	}
	m.AccessLatency.Observe(float64(check.Elapsed.Microseconds()) / 1000)
	return nil
}
