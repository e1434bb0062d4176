package entitle

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

// CheckoutRequest asks for a license of a template, to be paid through
// Confirm.
type CheckoutRequest struct {
	AccountID  id.AccountID
	TemplateID id.TemplateID
	// Units multiplies the price and finite quotas. Zero means one.
	Units int
	// GALicense covers every member of a group account.
	GALicense  bool
	GAUsersMax int
	Metadata   map[string]string
}

// GrantRequest asks for a license granted from the back office. Granted
// licenses are active at once and renew without a charge.
type GrantRequest struct {
	AccountID  id.AccountID
	TemplateID id.TemplateID
	Units      int
	Overrides  policy.Terms
	GALicense  bool
	GAUsersMax int
	Metadata   map[string]string
}

// ──────────────────────────────────────────────────
// License creation
// ──────────────────────────────────────────────────

// Checkout creates a pending license for an available template. Licenses
// that owe nothing are activated immediately; the others wait for
// Confirm with the amount returned by AmountDue.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (*license.License, error) {
	acct, t, err := e.loadPair(ctx, req.AccountID, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !t.IsAvailable(e.now()) {
		return nil, ErrTemplateUnavailable
	}

	l := e.newLicense(t, acct, license.PurchaseCheckout, req.Units)
	l.GALicense = req.GALicense
	l.GAUsersMax = req.GAUsersMax
	l.Metadata = req.Metadata

	if err := e.createLicense(ctx, l, false); err != nil {
		return nil, err
	}
	return l, nil
}

// Grant creates an active back-office license. The template does not
// need to be on offer.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (*license.License, error) {
	acct, t, err := e.loadPair(ctx, req.AccountID, req.TemplateID)
	if err != nil {
		return nil, err
	}

	l := e.newLicense(t, acct, license.PurchaseBackoffice, req.Units)
	l.Overrides = req.Overrides
	l.Rules.BackofficePayment = true
	l.GALicense = req.GALicense
	l.GAUsersMax = req.GAUsersMax
	l.Metadata = req.Metadata

	if err := e.createLicense(ctx, l, true); err != nil {
		return nil, err
	}
	return l, nil
}

// EnsureFreeAccess grants the account a license of every available free
// template it does not already hold a live license of. It returns the
// licenses it created.
func (e *Engine) EnsureFreeAccess(ctx context.Context, accountID id.AccountID) ([]*license.License, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	templates, err := e.store.ListTemplates(ctx, acct.AppID, template.ListOpts{EnabledOnly: true})
	if err != nil {
		return nil, err
	}
	held, err := e.store.ListLicensesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(held))
	for _, l := range held {
		if !l.State.IsTerminal() {
			live[l.TemplateID.String()] = true
		}
	}

	now := e.now()
	var created []*license.License
	for _, t := range templates {
		if live[t.ID.String()] || !t.IsAvailable(now) || !t.Effective(e.defaults).IsFree() {
			continue
		}
		l := e.newLicense(t, acct, license.PurchaseFree, 1)
		l.GALicense = true
		if err := e.createLicense(ctx, l, true); err != nil {
			return created, err
		}
		created = append(created, l)
	}

	if len(created) > 0 {
		e.logger.Info("granted free access",
			"account_id", accountID.String(),
			"licenses", len(created),
		)
	}
	return created, nil
}

func (e *Engine) loadPair(ctx context.Context, accountID id.AccountID, templateID id.TemplateID) (*account.Account, *template.Template, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	t, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, nil, err
	}
	if acct.AppID != t.AppID {
		return nil, nil, ValidationError{Field: "template_id", Message: "template belongs to another app"}
	}
	return acct, t, nil
}

func (e *Engine) newLicense(t *template.Template, acct *account.Account, purchase license.PurchaseType, units int) *license.License {
	if units < 1 {
		units = 1
	}
	return &license.License{
		Entity:       types.NewEntity(),
		ID:           id.NewLicenseID(),
		AppID:        t.AppID,
		AccountID:    acct.ID,
		TemplateID:   t.ID,
		Inherited:    t.Terms,
		Rules:        t.Rules,
		State:        license.StatePending,
		Units:        units,
		Ledger:       meter.NewLedger(time.Time{}),
		PurchaseType: purchase,
	}
}

// createLicense stores a new license, activating it first when force is
// set or nothing is owed.
func (e *Engine) createLicense(ctx context.Context, l *license.License, force bool) error {
	now := e.now()
	eff := e.effective(l)
	l.AddHistory(now, "created", string(l.PurchaseType))

	activated := false
	if due := l.AmountDue(eff); force || due.IsZero() || l.Rules.BackofficePayment {
		changed, err := l.Activate("", due, due, eff, now)
		if err != nil {
			return err
		}
		activated = changed && l.State == license.StateActive
	}
	l.ComputeNextCheck(eff)

	if err := e.store.CreateLicense(ctx, l); err != nil {
		return err
	}
	e.bump(ctx, l)

	e.plugins.EmitLicenseCreated(ctx, l)
	if activated {
		e.plugins.EmitLicenseActivated(ctx, l)
	}
	return nil
}

// ──────────────────────────────────────────────────
// License queries
// ──────────────────────────────────────────────────

// GetLicense retrieves a license by ID.
func (e *Engine) GetLicense(ctx context.Context, licenseID id.LicenseID) (*license.License, error) {
	return e.store.GetLicense(ctx, licenseID)
}

// ListLicenses lists the licenses of an app.
func (e *Engine) ListLicenses(ctx context.Context, appID string, opts license.ListOpts) ([]*license.License, error) {
	return e.store.ListLicenses(ctx, appID, opts)
}

// AccountLicenses lists every license of an account.
func (e *Engine) AccountLicenses(ctx context.Context, accountID id.AccountID) ([]*license.License, error) {
	return e.store.ListLicensesByAccount(ctx, accountID)
}

// Effective returns the resolved terms of a license, with the tier every
// field came from.
func (e *Engine) Effective(ctx context.Context, licenseID id.LicenseID) (policy.Effective, error) {
	l, err := e.store.GetLicense(ctx, licenseID)
	if err != nil {
		return policy.Effective{}, err
	}
	return e.effective(l), nil
}

// AmountDue returns what Confirm expects for the license's next payment:
// the pending renewal charge when one is waiting, otherwise the activation
// price.
func (e *Engine) AmountDue(ctx context.Context, licenseID id.LicenseID) (types.Money, error) {
	l, err := e.store.GetLicense(ctx, licenseID)
	if err != nil {
		return types.Money{}, err
	}
	if l.PendingCharge != nil {
		return l.PendingCharge.Amount, nil
	}
	return l.AmountDue(e.effective(l)), nil
}

// ──────────────────────────────────────────────────
// Payments and lifecycle
// ──────────────────────────────────────────────────

// Confirm applies a payment to a license: it activates a pending license
// or renews one waiting for its renewal charge. Re-sending a token that
// was already applied changes nothing. A wrong amount returns
// *PaymentMismatchError and leaves the license untouched.
func (e *Engine) Confirm(ctx context.Context, licenseID id.LicenseID, token string, amount types.Money) (l *license.License, err error) {
	ctx, span := e.startSpan(ctx, "Confirm")
	span.SetAttributes(attribute.String("license_id", licenseID.String()))
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, ValidationError{Field: "token", Message: "payment token is required"}
	}

	var (
		activated bool
		action    license.Action
	)
	l, _, err = e.mutateLicense(ctx, licenseID, func(l *license.License, eff policy.Effective) (bool, error) {
		activated, action = false, license.ActionNone
		if l.HasToken(token) {
			return false, nil
		}
		if l.State == license.StatePending {
			changed, err := l.Activate(token, amount, l.AmountDue(eff), eff, e.now())
			activated = changed && l.State == license.StateActive
			return changed, err
		}
		a, err := l.ConfirmRenewal(token, amount, eff, e.now())
		if err != nil {
			return false, err
		}
		action = a
		return true, nil
	})

	var mismatch *PaymentMismatchError
	if errors.As(err, &mismatch) {
		e.logger.Warn("payment amount mismatch",
			"license_id", licenseID.String(),
			"expected", mismatch.Expected.String(),
			"got", mismatch.Got.String(),
		)
		e.plugins.EmitPaymentMismatch(ctx, mismatch)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	switch {
	case activated:
		e.plugins.EmitLicenseActivated(ctx, l)
	case action == license.ActionRenewed:
		e.plugins.EmitLicenseRenewed(ctx, l)
	case action == license.ActionExpired:
		e.plugins.EmitLicenseExpired(ctx, l)
	}
	return l, nil
}

// Tick advances one license to the current time.
func (e *Engine) Tick(ctx context.Context, licenseID id.LicenseID) (license.Action, error) {
	return e.tick(ctx, licenseID, e.now())
}

// TickDue ticks every live license whose next check is at or before now,
// up to the scan batch size. It returns how many licenses changed.
func (e *Engine) TickDue(ctx context.Context, now time.Time) (n int, err error) {
	ctx, span := e.startSpan(ctx, "TickDue")
	defer func() {
		span.SetAttributes(attribute.Int("ticked", n))
		endSpan(span, err)
	}()

	due, err := e.store.ListDueLicenses(ctx, now, e.dueBatchSize)
	if err != nil {
		return 0, err
	}

	var errs MultiError
	for _, l := range due {
		action, err := e.tick(ctx, l.ID, now)
		if err != nil {
			errs.Add(err)
			continue
		}
		if action != license.ActionNone {
			n++
		}
	}
	return n, errs.Err()
}

func (e *Engine) tick(ctx context.Context, licenseID id.LicenseID, now time.Time) (license.Action, error) {
	var action license.Action
	l, _, err := e.mutateLicense(ctx, licenseID, func(l *license.License, eff policy.Effective) (bool, error) {
		action = l.Tick(now, eff, e.grace, l.RenewalChargeRequired(eff))
		return action != license.ActionNone, nil
	})
	if err != nil {
		return license.ActionNone, err
	}

	switch action {
	case license.ActionRenewed:
		e.plugins.EmitLicenseRenewed(ctx, l)
	case license.ActionRenewalDue:
		e.publish(ctx, plugin.RenewalDue{
			ID:        id.NewEventID(),
			LicenseID: l.ID,
			AccountID: l.AccountID,
			AppID:     l.AppID,
			Amount:    l.PendingCharge.Amount,
			Deadline:  l.PendingCharge.Deadline,
			At:        now,
		})
	case license.ActionSuspended:
		e.plugins.EmitLicenseSuspended(ctx, l)
	case license.ActionExpired:
		e.plugins.EmitLicenseExpired(ctx, l)
	}
	return action, nil
}

// Cancel ends a license for good.
func (e *Engine) Cancel(ctx context.Context, licenseID id.LicenseID, reason string) (*license.License, error) {
	l, changed, err := e.mutateLicense(ctx, licenseID, func(l *license.License, _ policy.Effective) (bool, error) {
		return l.Cancel(reason, e.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.plugins.EmitLicenseCancelled(ctx, l)
	}
	return l, nil
}

// Suspend disables an active license until Resume.
func (e *Engine) Suspend(ctx context.Context, licenseID id.LicenseID, reason string) (*license.License, error) {
	l, changed, err := e.mutateLicense(ctx, licenseID, func(l *license.License, _ policy.Effective) (bool, error) {
		return l.Suspend(reason, e.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.plugins.EmitLicenseSuspended(ctx, l)
	}
	return l, nil
}

// Resume re-enables a license suspended with Suspend.
func (e *Engine) Resume(ctx context.Context, licenseID id.LicenseID) (*license.License, error) {
	l, changed, err := e.mutateLicense(ctx, licenseID, func(l *license.License, _ policy.Effective) (bool, error) {
		return l.Resume(e.now())
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.plugins.EmitLicenseResumed(ctx, l)
	}
	return l, nil
}

// InviteMember gives userID the use of a group license. The user is added
// to the account's members when missing.
func (e *Engine) InviteMember(ctx context.Context, licenseID id.LicenseID, userID string) (*license.License, error) {
	l, changed, err := e.mutateLicense(ctx, licenseID, func(l *license.License, _ policy.Effective) (bool, error) {
		return l.Invite(userID, e.now())
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return l, nil
	}

	acct, err := e.store.GetAccount(ctx, l.AccountID)
	if err != nil {
		return l, err
	}
	if acct.IsGroup() && acct.AddMember(userID) {
		acct.Touch()
		if err := e.store.UpdateAccount(ctx, acct); err != nil {
			return l, err
		}
	}
	return l, nil
}

// ──────────────────────────────────────────────────
// Usage metering
// ──────────────────────────────────────────────────

// UsageRequest records usage against a license. For the users kind,
// UserID is counted once per period and Amount is ignored. Minutes are
// given in seconds.
type UsageRequest struct {
	LicenseID id.LicenseID
	Kind      meter.Kind
	Amount    int64
	EventID   string
	UserID    string
	Metadata  map[string]string
}

// UsageResult reports the ledger after a usage record.
type UsageResult struct {
	Applied      bool
	Used         int64
	Remaining    int64
	OverageUnits int64
	Overage      types.Money
	Exhausted    bool
}

// RecordUsage applies a usage record, deduplicated by EventID. When the
// record leaves chargeable overage an overage-due event is published
// without waiting for plugins. The event charges only the increments this
// record crossed into.
func (e *Engine) RecordUsage(ctx context.Context, req UsageRequest) (res UsageResult, err error) {
	ctx, span := e.startSpan(ctx, "RecordUsage")
	span.SetAttributes(
		attribute.String("license_id", req.LicenseID.String()),
		attribute.String("kind", string(req.Kind)),
		attribute.Int64("amount", req.Amount),
	)
	defer func() { endSpan(span, err) }()

	var (
		applied   bool
		unitsPrev int64
	)
	l, _, err := e.mutateLicense(ctx, req.LicenseID, func(l *license.License, eff policy.Effective) (bool, error) {
		applied = false
		unitsPrev = l.Ledger.OverageUnits(req.Kind, eff.Quotas.Get(req.Kind))
		if l.State != license.StateActive && l.State != license.StateRenewing {
			return false, ValidationError{Field: "license_id", Message: "license is " + string(l.State)}
		}
		var err error
		if req.Kind == meter.KindUsers {
			applied, err = l.Ledger.RecordUser(req.UserID, req.EventID)
		} else {
			applied, err = l.Ledger.Record(req.Kind, req.Amount, req.EventID)
		}
		return applied, err
	})
	if err != nil {
		return UsageResult{}, err
	}

	eff := l.Effective(e.defaults)
	q := eff.Quotas.Get(req.Kind)
	res = UsageResult{
		Applied:      applied,
		Used:         l.Ledger.UsedOf(req.Kind),
		Remaining:    l.Ledger.RemainingBase(req.Kind, q),
		OverageUnits: l.Ledger.OverageUnits(req.Kind, q),
		Overage:      l.Ledger.ChargeableOverage(req.Kind, q),
		Exhausted:    l.Ledger.IsExhausted(req.Kind, q),
	}
	span.SetAttributes(attribute.Bool("applied", applied))
	if !applied {
		return res, nil
	}

	now := e.now()
	amount := req.Amount
	if req.Kind == meter.KindUsers {
		amount = 1
	}
	e.plugins.EmitUsageRecorded(ctx, plugin.UsageRecorded{
		LicenseID: l.ID,
		AccountID: l.AccountID,
		Kind:      req.Kind,
		Amount:    amount,
		Used:      res.Used,
		EventID:   req.EventID,
	})
	e.bufferUsage(&meter.UsageEvent{
		ID:        id.NewUsageEventID(),
		LicenseID: l.ID,
		AccountID: l.AccountID,
		AppID:     l.AppID,
		Kind:      req.Kind,
		Amount:    amount,
		EventID:   req.EventID,
		UserID:    req.UserID,
		Timestamp: now,
		Metadata:  req.Metadata,
	})

	if res.Overage.IsPositive() && q.PayGo != nil {
		crossed := max(0, res.OverageUnits-unitsPrev)
		e.publish(ctx, plugin.OverageDue{
			ID:          id.NewEventID(),
			LicenseID:   l.ID,
			AccountID:   l.AccountID,
			AppID:       l.AppID,
			Kind:        req.Kind,
			Units:       crossed,
			Amount:      q.PayGo.Price.Multiply(crossed),
			TotalUnits:  res.OverageUnits,
			TotalAmount: res.Overage,
			PeriodStart: l.Ledger.PeriodStart,
			At:          now,
		})
	}
	return res, nil
}

// bufferUsage queues a usage event for the history flush. The ledger on
// the license is authoritative, so a full buffer only loses history.
func (e *Engine) bufferUsage(evt *meter.UsageEvent) {
	select {
	case e.meterBuffer <- evt:
	default:
		e.logger.Warn("usage history dropped",
			"error", ErrMeterBufferFull,
			"license_id", evt.LicenseID.String(),
		)
	}
}

// UsageSummary returns the usage of every kind in the license's current
// period.
func (e *Engine) UsageSummary(ctx context.Context, licenseID id.LicenseID) ([]meter.Status, error) {
	l, err := e.store.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, err
	}
	return l.Ledger.Summary(e.effective(l).Quotas), nil
}

// QueryUsage returns flushed usage history of a license.
func (e *Engine) QueryUsage(ctx context.Context, licenseID id.LicenseID, opts meter.QueryOpts) ([]*meter.UsageEvent, error) {
	return e.store.QueryUsage(ctx, licenseID, opts)
}

// PurgeUsage deletes usage history older than before.
func (e *Engine) PurgeUsage(ctx context.Context, before time.Time) (int64, error) {
	n, err := e.store.PurgeUsage(ctx, before)
	if err != nil {
		return 0, err
	}
	e.logger.Info("purged usage history", "before", before, "deleted", n)
	return n, nil
}

// ──────────────────────────────────────────────────
// Overrides
// ──────────────────────────────────────────────────

// SetOverride sets one overridable field on a template, coupon or
// license; a nil value clears it. License overrides never reset usage
// counters. Template overrides reach existing licenses only when the
// template controls its instances. Coupon overrides apply to future
// redemptions.
func (e *Engine) SetOverride(ctx context.Context, targetID id.ID, field policy.Field, value any) error {
	var err error
	switch targetID.Prefix() {
	case id.PrefixTemplate:
		err = e.setTemplateOverride(ctx, targetID, field, value)
	case id.PrefixCoupon:
		err = e.setCouponOverride(ctx, targetID, field, value)
	case id.PrefixLicense:
		_, _, err = e.mutateLicense(ctx, targetID, func(l *license.License, _ policy.Effective) (bool, error) {
			if err := l.SetOverride(field, value, e.now()); err != nil {
				return false, err
			}
			return true, nil
		})
	default:
		return ValidationError{Field: "target_id", Message: "overrides apply to templates, coupons and licenses"}
	}
	if err != nil {
		return err
	}

	e.logger.Info("override set",
		"target_id", targetID.String(),
		"field", string(field),
	)
	e.plugins.EmitOverrideSet(ctx, plugin.OverrideSet{TargetID: targetID, Field: field, Value: value})
	return nil
}
