package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit             []OnInit
	onShutdown         []OnShutdown
	onTemplateCreated  []OnTemplateCreated
	onTemplateUpdated  []OnTemplateUpdated
	onCouponRedeemed   []OnCouponRedeemed
	onLicenseCreated   []OnLicenseCreated
	onLicenseActivated []OnLicenseActivated
	onLicenseRenewed   []OnLicenseRenewed
	onLicenseSuspended []OnLicenseSuspended
	onLicenseResumed   []OnLicenseResumed
	onLicenseExpired   []OnLicenseExpired
	onLicenseCancelled []OnLicenseCancelled
	onPaymentMismatch  []OnPaymentMismatch
	onOverrideSet      []OnOverrideSet
	onAccountDeleted   []OnAccountDeleted
	onUsageRecorded    []OnUsageRecorded
	onUsageFlushed     []OnUsageFlushed
	onOverageDue       []OnOverageDue
	onRenewalDue       []OnRenewalDue
	onAccessChecked    []OnAccessChecked
	couponValidators   []CouponValidator
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	cache(p, &r.onInit)
	cache(p, &r.onShutdown)
	cache(p, &r.onTemplateCreated)
	cache(p, &r.onTemplateUpdated)
	cache(p, &r.onCouponRedeemed)
	cache(p, &r.onLicenseCreated)
	cache(p, &r.onLicenseActivated)
	cache(p, &r.onLicenseRenewed)
	cache(p, &r.onLicenseSuspended)
	cache(p, &r.onLicenseResumed)
	cache(p, &r.onLicenseExpired)
	cache(p, &r.onLicenseCancelled)
	cache(p, &r.onPaymentMismatch)
	cache(p, &r.onOverrideSet)
	cache(p, &r.onAccountDeleted)
	cache(p, &r.onUsageRecorded)
	cache(p, &r.onUsageFlushed)
	cache(p, &r.onOverageDue)
	cache(p, &r.onRenewalDue)
	cache(p, &r.onAccessChecked)
	cache(p, &r.couponValidators)

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implemented(p),
	)

	return nil
}

func cache[T Plugin](p Plugin, list *[]T) {
	if v, ok := p.(T); ok {
		*list = append(*list, v)
	}
}

var hookTypes = []reflect.Type{
	reflect.TypeFor[OnInit](),
	reflect.TypeFor[OnShutdown](),
	reflect.TypeFor[OnTemplateCreated](),
	reflect.TypeFor[OnTemplateUpdated](),
	reflect.TypeFor[OnCouponRedeemed](),
	reflect.TypeFor[OnLicenseCreated](),
	reflect.TypeFor[OnLicenseActivated](),
	reflect.TypeFor[OnLicenseRenewed](),
	reflect.TypeFor[OnLicenseSuspended](),
	reflect.TypeFor[OnLicenseResumed](),
	reflect.TypeFor[OnLicenseExpired](),
	reflect.TypeFor[OnLicenseCancelled](),
	reflect.TypeFor[OnPaymentMismatch](),
	reflect.TypeFor[OnOverrideSet](),
	reflect.TypeFor[OnAccountDeleted](),
	reflect.TypeFor[OnUsageRecorded](),
	reflect.TypeFor[OnUsageFlushed](),
	reflect.TypeFor[OnOverageDue](),
	reflect.TypeFor[OnRenewalDue](),
	reflect.TypeFor[OnAccessChecked](),
	reflect.TypeFor[CouponValidator](),
}

// implemented returns the names of the hook interfaces p implements.
func implemented(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, iface := range hookTypes {
		if v.Implements(iface) {
			names = append(names, iface.Name())
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every hook in list. Failures are logged and never
// propagate to the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitTemplateCreated emits a template created event.
func (r *Registry) EmitTemplateCreated(ctx context.Context, t *template.Template) {
	emit(ctx, r, "OnTemplateCreated", &r.onTemplateCreated, func(p OnTemplateCreated) error {
		return p.OnTemplateCreated(ctx, t)
	})
}

// EmitTemplateUpdated emits a template updated event.
func (r *Registry) EmitTemplateUpdated(ctx context.Context, t *template.Template, pushed int) {
	emit(ctx, r, "OnTemplateUpdated", &r.onTemplateUpdated, func(p OnTemplateUpdated) error {
		return p.OnTemplateUpdated(ctx, t, pushed)
	})
}

// EmitCouponRedeemed emits a coupon redeemed event.
func (r *Registry) EmitCouponRedeemed(ctx context.Context, c *coupon.Coupon, l *license.License) {
	emit(ctx, r, "OnCouponRedeemed", &r.onCouponRedeemed, func(p OnCouponRedeemed) error {
		return p.OnCouponRedeemed(ctx, c, l)
	})
}

// EmitLicenseCreated emits a license created event.
func (r *Registry) EmitLicenseCreated(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseCreated", &r.onLicenseCreated, func(p OnLicenseCreated) error {
		return p.OnLicenseCreated(ctx, l)
	})
}

// EmitLicenseActivated emits a license activated event.
func (r *Registry) EmitLicenseActivated(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseActivated", &r.onLicenseActivated, func(p OnLicenseActivated) error {
		return p.OnLicenseActivated(ctx, l)
	})
}

// EmitLicenseRenewed emits a license renewed event.
func (r *Registry) EmitLicenseRenewed(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseRenewed", &r.onLicenseRenewed, func(p OnLicenseRenewed) error {
		return p.OnLicenseRenewed(ctx, l)
	})
}

// EmitLicenseSuspended emits a license suspended event.
func (r *Registry) EmitLicenseSuspended(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseSuspended", &r.onLicenseSuspended, func(p OnLicenseSuspended) error {
		return p.OnLicenseSuspended(ctx, l)
	})
}

// EmitLicenseResumed emits a license resumed event.
func (r *Registry) EmitLicenseResumed(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseResumed", &r.onLicenseResumed, func(p OnLicenseResumed) error {
		return p.OnLicenseResumed(ctx, l)
	})
}

// EmitLicenseExpired emits a license expired event.
func (r *Registry) EmitLicenseExpired(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseExpired", &r.onLicenseExpired, func(p OnLicenseExpired) error {
		return p.OnLicenseExpired(ctx, l)
	})
}

// EmitLicenseCancelled emits a license cancelled event.
func (r *Registry) EmitLicenseCancelled(ctx context.Context, l *license.License) {
	emit(ctx, r, "OnLicenseCancelled", &r.onLicenseCancelled, func(p OnLicenseCancelled) error {
		return p.OnLicenseCancelled(ctx, l)
	})
}

// EmitPaymentMismatch emits a payment mismatch event.
func (r *Registry) EmitPaymentMismatch(ctx context.Context, mismatch *types.PaymentMismatchError) {
	emit(ctx, r, "OnPaymentMismatch", &r.onPaymentMismatch, func(p OnPaymentMismatch) error {
		return p.OnPaymentMismatch(ctx, mismatch)
	})
}

// EmitOverrideSet emits an override edit event.
func (r *Registry) EmitOverrideSet(ctx context.Context, change OverrideSet) {
	emit(ctx, r, "OnOverrideSet", &r.onOverrideSet, func(p OnOverrideSet) error {
		return p.OnOverrideSet(ctx, change)
	})
}

// EmitAccountDeleted emits an account deleted event.
func (r *Registry) EmitAccountDeleted(ctx context.Context, a *account.Account, cancelled int) {
	emit(ctx, r, "OnAccountDeleted", &r.onAccountDeleted, func(p OnAccountDeleted) error {
		return p.OnAccountDeleted(ctx, a, cancelled)
	})
}

// EmitUsageRecorded emits a usage recorded event.
func (r *Registry) EmitUsageRecorded(ctx context.Context, usage UsageRecorded) {
	emit(ctx, r, "OnUsageRecorded", &r.onUsageRecorded, func(p OnUsageRecorded) error {
		return p.OnUsageRecorded(ctx, usage)
	})
}

// EmitUsageFlushed emits a usage flushed event.
func (r *Registry) EmitUsageFlushed(ctx context.Context, count int, elapsed time.Duration) {
	emit(ctx, r, "OnUsageFlushed", &r.onUsageFlushed, func(p OnUsageFlushed) error {
		return p.OnUsageFlushed(ctx, count, elapsed)
	})
}

// EmitOverageDue emits an overage due event.
func (r *Registry) EmitOverageDue(ctx context.Context, evt OverageDue) {
	emit(ctx, r, "OnOverageDue", &r.onOverageDue, func(p OnOverageDue) error {
		return p.OnOverageDue(ctx, evt)
	})
}

// EmitRenewalDue emits a renewal due event.
func (r *Registry) EmitRenewalDue(ctx context.Context, evt RenewalDue) {
	emit(ctx, r, "OnRenewalDue", &r.onRenewalDue, func(p OnRenewalDue) error {
		return p.OnRenewalDue(ctx, evt)
	})
}

// EmitAccessChecked emits an access checked event.
func (r *Registry) EmitAccessChecked(ctx context.Context, check AccessChecked) {
	emit(ctx, r, "OnAccessChecked", &r.onAccessChecked, func(p OnAccessChecked) error {
		return p.OnAccessChecked(ctx, check)
	})
}

// ValidateCoupon runs every CouponValidator and joins their errors.
func (r *Registry) ValidateCoupon(ctx context.Context, c *coupon.Coupon, a *account.Account) error {
	r.mu.RLock()
	validators := r.couponValidators
	r.mu.RUnlock()

	var errs []error
	for _, v := range validators {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.ValidateCoupon(ctx, c, a)
		}); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the licensing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
