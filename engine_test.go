package entitle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

const app = "academy"

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// capture records the events the engine emits.
type capture struct {
	mu         sync.Mutex
	overages   []plugin.OverageDue
	renewals   []plugin.RenewalDue
	activated  []id.LicenseID
	mismatches []*types.PaymentMismatchError
	deleted    []int
	pushed     []int
	validate   func(ctx context.Context) error
}

func (c *capture) Name() string { return "capture" }

func (c *capture) OnOverageDue(_ context.Context, evt plugin.OverageDue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overages = append(c.overages, evt)
	return nil
}

func (c *capture) OnRenewalDue(_ context.Context, evt plugin.RenewalDue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewals = append(c.renewals, evt)
	return nil
}

func (c *capture) OnLicenseActivated(_ context.Context, l *license.License) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activated = append(c.activated, l.ID)
	return nil
}

func (c *capture) OnPaymentMismatch(_ context.Context, m *types.PaymentMismatchError) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mismatches = append(c.mismatches, m)
	return nil
}

func (c *capture) OnAccountDeleted(_ context.Context, _ *account.Account, cancelled int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, cancelled)
	return nil
}

func (c *capture) OnTemplateUpdated(_ context.Context, _ *template.Template, pushed int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, pushed)
	return nil
}

func (c *capture) ValidateCoupon(ctx context.Context, _ *coupon.Coupon, _ *account.Account) error {
	if c.validate != nil {
		return c.validate(ctx)
	}
	return nil
}

func (c *capture) overageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.overages)
}

func (c *capture) renewalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.renewals)
}

type fixture struct {
	eng     *entitle.Engine
	store   store.Store
	clock   *clock
	events  *capture
	catalog *content.StaticCatalog
}

func newFixture(t *testing.T, opts ...entitle.Option) *fixture {
	t.Helper()

	f := &fixture{
		store:  memory.New(),
		clock:  &clock{now: t0},
		events: &capture{},
		catalog: content.NewStaticCatalog(
			content.Item{ID: "intro", AppID: app, Tag: "course-intro", WorkflowState: "published"},
			content.Item{ID: "advanced", AppID: app, Tag: "course-advanced", WorkflowState: "published"},
			content.Item{ID: "draft", AppID: app, Tag: "course-draft", WorkflowState: "draft"},
			content.Item{ID: "news", AppID: app, Tag: "blog", WorkflowState: "published"},
		),
	}

	base := []entitle.Option{
		entitle.WithCatalog(f.catalog),
		entitle.WithClock(f.clock.Now),
		entitle.WithPlugin(f.events),
		entitle.WithSchedulerInterval(0),
		entitle.WithRetry(5, time.Millisecond),
	}
	f.eng = entitle.New(f.store, append(base, opts...)...)

	ctx := context.Background()
	require.NoError(t, f.eng.Start(ctx))
	t.Cleanup(func() { _ = f.eng.Stop() })
	return f
}

func (f *fixture) template(t *testing.T, sku string, terms policy.Terms, mutate ...func(*template.Template)) *template.Template {
	t.Helper()
	tpl := &template.Template{AppID: app, SKU: sku, Name: sku, Terms: terms, Enabled: true, Visible: true}
	for _, m := range mutate {
		m(tpl)
	}
	require.NoError(t, f.eng.CreateTemplate(context.Background(), tpl))
	return tpl
}

func (f *fixture) account(t *testing.T, kind account.Kind, codes ...string) *account.Account {
	t.Helper()
	a := &account.Account{AppID: app, Name: "acme", Kind: kind, Codes: codes}
	require.NoError(t, f.eng.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) activeLicense(t *testing.T, tpl *template.Template, acct *account.Account) *license.License {
	t.Helper()
	ctx := context.Background()
	l, err := f.eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)
	if l.State == license.StatePending {
		due, err := f.eng.AmountDue(ctx, l.ID)
		require.NoError(t, err)
		l, err = f.eng.Confirm(ctx, l.ID, "tok-"+l.ID.String(), due)
		require.NoError(t, err)
	}
	require.Equal(t, license.StateActive, l.State)
	return l
}

func monthly(price int64, pattern string) policy.Terms {
	return policy.Terms{
		Price:      override.Of(types.USD(price)),
		Period:     override.Of("monthly"),
		TagPattern: override.Of(pattern),
		AutoRenew:  override.Of(true),
	}
}

// ──────────────────────────────────────────────────
// Checkout and payment
// ──────────────────────────────────────────────────

func TestCheckoutAndConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "all-access", monthly(5000, "course*"), func(tpl *template.Template) {
		tpl.Rules.InitialPrice = types.USD(1000)
	})
	acct := f.account(t, account.KindIndividual)

	l, err := f.eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Equal(t, license.StatePending, l.State)
	assert.Equal(t, int64(1), l.Version)

	due, err := f.eng.AmountDue(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(6000), due, "first payment carries the initial price")

	t.Run("wrong amount is rejected", func(t *testing.T) {
		_, err := f.eng.Confirm(ctx, l.ID, "pay_1", types.USD(5000))
		var mismatch *entitle.PaymentMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, types.USD(6000), mismatch.Expected)
		assert.True(t, errors.Is(err, entitle.ErrPaymentMismatch))

		got, err := f.eng.GetLicense(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, license.StatePending, got.State)
		f.events.mu.Lock()
		assert.Len(t, f.events.mismatches, 1)
		f.events.mu.Unlock()
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		_, err := f.eng.Confirm(ctx, l.ID, "", due)
		assert.True(t, entitle.IsValidation(err))
	})

	t.Run("confirm activates", func(t *testing.T) {
		got, err := f.eng.Confirm(ctx, l.ID, "pay_1", due)
		require.NoError(t, err)
		assert.Equal(t, license.StateActive, got.State)
		assert.True(t, got.Activated)
		assert.Equal(t, t0, got.PeriodStart)
		require.NotNil(t, got.PeriodEnd)
		assert.Equal(t, time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC), *got.PeriodEnd)
		require.NotNil(t, got.NextCheck)
		assert.Equal(t, *got.PeriodEnd, *got.NextCheck)
	})

	t.Run("replayed token changes nothing", func(t *testing.T) {
		before, err := f.eng.GetLicense(ctx, l.ID)
		require.NoError(t, err)

		got, err := f.eng.Confirm(ctx, l.ID, "pay_1", due)
		require.NoError(t, err)
		assert.Equal(t, before.Version, got.Version)
		assert.Equal(t, license.StateActive, got.State)
	})
}

func TestCheckoutRejectsUnavailableTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	starts := t0.Add(24 * time.Hour)
	tpl := f.template(t, "later", monthly(100, "*"), func(tpl *template.Template) { tpl.Starts = &starts })
	acct := f.account(t, account.KindIndividual)

	_, err := f.eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	assert.ErrorIs(t, err, entitle.ErrTemplateUnavailable)

	// Back-office grants do not need the template on offer.
	l, err := f.eng.Grant(ctx, entitle.GrantRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Equal(t, license.StateActive, l.State)
	assert.True(t, l.Rules.BackofficePayment)
}

func TestCheckoutFreeTemplateActivatesImmediately(t *testing.T) {
	f := newFixture(t)
	tpl := f.template(t, "free", policy.Terms{TagPattern: override.Of("blog")})
	acct := f.account(t, account.KindIndividual)

	l, err := f.eng.Checkout(context.Background(), entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Equal(t, license.StateActive, l.State)
	assert.Nil(t, l.PeriodEnd, "no period means perpetual")

	f.events.mu.Lock()
	assert.Contains(t, f.events.activated, l.ID)
	f.events.mu.Unlock()
}

func TestDuplicateSKU(t *testing.T) {
	f := newFixture(t)
	f.template(t, "dup", monthly(100, "*"))

	err := f.eng.CreateTemplate(context.Background(), &template.Template{AppID: app, SKU: "dup", Name: "again"})
	assert.ErrorIs(t, err, entitle.ErrAlreadyExists)
}

// ──────────────────────────────────────────────────
// Renewal
// ──────────────────────────────────────────────────

func TestTickRenewal(t *testing.T) {
	f := newFixture(t, entitle.WithGrace(period.FixedGrace(72*time.Hour)))
	ctx := context.Background()
	tpl := f.template(t, "monthly", monthly(5000, "course*"))
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)
	end := *l.PeriodEnd

	t.Run("not due yet", func(t *testing.T) {
		action, err := f.eng.Tick(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, license.ActionNone, action)
	})

	f.clock.Set(end)

	t.Run("period end asks for a charge", func(t *testing.T) {
		action, err := f.eng.Tick(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, license.ActionRenewalDue, action)

		got, err := f.eng.GetLicense(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, license.StateRenewing, got.State)
		require.NotNil(t, got.PendingCharge)
		assert.Equal(t, types.USD(5000), got.PendingCharge.Amount)
		assert.Equal(t, end.Add(72*time.Hour), got.PendingCharge.Deadline)

		require.Eventually(t, func() bool { return f.events.renewalCount() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("renewing keeps access during grace", func(t *testing.T) {
		f.clock.Set(end.Add(time.Hour))
		d, err := f.eng.CanAccess(ctx, entitle.AccessRequest{AccountID: acct.ID, Item: content.Item{ID: "intro", AppID: app, Tag: "course-intro", WorkflowState: "published"}})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("ticking twice is a no-op", func(t *testing.T) {
		action, err := f.eng.Tick(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, license.ActionNone, action)
	})

	t.Run("renewal payment rolls the period", func(t *testing.T) {
		due, err := f.eng.AmountDue(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, types.USD(5000), due)

		got, err := f.eng.Confirm(ctx, l.ID, "renew_1", due)
		require.NoError(t, err)
		assert.Equal(t, license.StateActive, got.State)
		assert.Equal(t, 1, got.RenewalCount)
		assert.Equal(t, end, got.PeriodStart)
		assert.Nil(t, got.PendingCharge)
	})
}

func TestTickSuspendsUnpaidRenewal(t *testing.T) {
	f := newFixture(t, entitle.WithGrace(period.FixedGrace(24*time.Hour)))
	ctx := context.Background()
	tpl := f.template(t, "monthly", monthly(5000, "*"))
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)
	end := *l.PeriodEnd

	f.clock.Set(end)
	n, err := f.eng.TickDue(ctx, end)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deadline := end.Add(24 * time.Hour)
	f.clock.Set(deadline)
	n, err = f.eng.TickDue(ctx, deadline)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.eng.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StateSuspended, got.State)
	assert.Equal(t, license.SuspendUnpaid, got.SuspendReason)

	_, err = f.eng.Resume(ctx, l.ID)
	var te *entitle.TransitionError
	assert.ErrorAs(t, err, &te, "unpaid suspensions resume through payment")

	got, err = f.eng.Confirm(ctx, l.ID, "late", types.USD(5000))
	require.NoError(t, err)
	assert.Equal(t, license.StateActive, got.State)
}

func TestTickExpiresWithoutAutoRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := monthly(0, "*")
	terms.AutoRenew = override.Of(false)
	tpl := f.template(t, "once", terms)
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	f.clock.Set(*l.PeriodEnd)
	action, err := f.eng.Tick(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.ActionExpired, action)

	got, err := f.eng.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StateExpired, got.State)
	assert.Nil(t, got.NextCheck)
}

func TestBackofficeRenewsWithoutCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "team", monthly(9900, "*"))
	acct := f.account(t, account.KindIndividual)

	l, err := f.eng.Grant(ctx, entitle.GrantRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)

	f.clock.Set(*l.PeriodEnd)
	action, err := f.eng.Tick(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.ActionRenewed, action)
	assert.Zero(t, f.events.renewalCount())
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestSuspendResumeCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "std", monthly(100, "*"))
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	got, err := f.eng.Suspend(ctx, l.ID, "abuse")
	require.NoError(t, err)
	assert.Equal(t, license.StateSuspended, got.State)

	got, err = f.eng.Resume(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StateActive, got.State)

	got, err = f.eng.Cancel(ctx, l.ID, "requested")
	require.NoError(t, err)
	assert.Equal(t, license.StateCancelled, got.State)
	require.NotNil(t, got.CancelledAt)

	again, err := f.eng.Cancel(ctx, l.ID, "requested")
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)

	_, err = f.eng.Suspend(ctx, l.ID, "late")
	assert.True(t, entitle.IsValidation(err))
}

func TestInviteMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "seats", monthly(0, "*"))
	acct := f.account(t, account.KindGroup)

	l, err := f.eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID, GAUsersMax: 1})
	require.NoError(t, err)

	_, err = f.eng.InviteMember(ctx, l.ID, "alice")
	require.NoError(t, err)

	_, err = f.eng.InviteMember(ctx, l.ID, "bob")
	assert.True(t, entitle.IsValidation(err), "user cap reached")

	got, err := f.eng.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Members)
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

func TestRecordUsage(t *testing.T) {
	f := newFixture(t, entitle.WithMeterConfig(10, 10*time.Millisecond))
	ctx := context.Background()
	terms := monthly(0, "*")
	terms.Points = policy.QuotaTerms{
		Limit:     override.Of(int64(100)),
		Increment: override.Of(int64(10)),
		Price:     override.Of(types.USD(50)),
	}
	tpl := f.template(t, "metered", terms)
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 90, EventID: "e1"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(10), res.Remaining)
	assert.Zero(t, f.events.overageCount())

	t.Run("duplicate event is absorbed", func(t *testing.T) {
		res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 90, EventID: "e1"})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, int64(90), res.Used)
	})

	t.Run("overage is published", func(t *testing.T) {
		res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 25, EventID: "e2"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.OverageUnits)
		assert.Equal(t, types.USD(100), res.Overage)
		assert.False(t, res.Exhausted)

		require.Eventually(t, func() bool { return f.events.overageCount() == 1 }, time.Second, 5*time.Millisecond)
		f.events.mu.Lock()
		evt := f.events.overages[0]
		f.events.mu.Unlock()
		assert.Equal(t, l.ID, evt.LicenseID)
		assert.Equal(t, int64(2), evt.Units)
		assert.Equal(t, types.USD(100), evt.Amount)
	})

	t.Run("overage inside a paid increment is not charged again", func(t *testing.T) {
		res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 3, EventID: "e3"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.OverageUnits)

		require.Eventually(t, func() bool { return f.events.overageCount() == 2 }, time.Second, 5*time.Millisecond)
		f.events.mu.Lock()
		evt := f.events.overages[1]
		f.events.mu.Unlock()
		assert.Zero(t, evt.Units)
		assert.True(t, evt.Amount.IsZero())
		assert.Equal(t, int64(2), evt.TotalUnits)
		assert.Equal(t, types.USD(100), evt.TotalAmount)
	})

	t.Run("next increment carries only the new units", func(t *testing.T) {
		res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 5, EventID: "e4"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.OverageUnits)

		require.Eventually(t, func() bool { return f.events.overageCount() == 3 }, time.Second, 5*time.Millisecond)
		f.events.mu.Lock()
		evt := f.events.overages[2]
		f.events.mu.Unlock()
		assert.Equal(t, int64(1), evt.Units)
		assert.Equal(t, types.USD(50), evt.Amount)
		assert.Equal(t, int64(3), evt.TotalUnits)
		assert.Equal(t, types.USD(150), evt.TotalAmount)
	})

	t.Run("history is flushed", func(t *testing.T) {
		require.Eventually(t, func() bool {
			events, err := f.eng.QueryUsage(ctx, l.ID, meter.QueryOpts{})
			return err == nil && len(events) == 4
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("summary", func(t *testing.T) {
		summary, err := f.eng.UsageSummary(ctx, l.ID)
		require.NoError(t, err)
		require.Len(t, summary, len(meter.Kinds))
		assert.Equal(t, int64(123), summary[0].Used)
	})
}

func TestRecordUsageRejectsInactiveLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "paid", monthly(100, "*"))
	acct := f.account(t, account.KindIndividual)

	l, err := f.eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)

	_, err = f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 1})
	assert.True(t, entitle.IsValidation(err))
}

func TestUsersQuotaExhaustsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	terms := monthly(0, "course*")
	terms.Users = policy.QuotaTerms{Limit: override.Of(int64(1))}
	tpl := f.template(t, "solo", terms)
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	res, err := f.eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindUsers, UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Exhausted)

	intro := content.Item{ID: "intro", AppID: app, Tag: "course-intro", WorkflowState: "published"}
	d, err := f.eng.CanAccess(ctx, entitle.AccessRequest{AccountID: acct.ID, Item: intro})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Raising the quota restores access without touching the counters.
	require.NoError(t, f.eng.SetOverride(ctx, l.ID, policy.QuotaField(meter.KindUsers), int64(5)))
	d, err = f.eng.CanAccess(ctx, entitle.AccessRequest{AccountID: acct.ID, Item: intro})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	got, err := f.eng.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Ledger.UsedOf(meter.KindUsers))
}

// ──────────────────────────────────────────────────
// Overrides
// ──────────────────────────────────────────────────

func TestSetOverrideTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "std", monthly(5000, "course*"))
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	require.NoError(t, f.eng.SetOverride(ctx, l.ID, policy.FieldPrice, types.USD(4000)))
	eff, err := f.eng.Effective(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(4000), eff.Price)
	assert.Equal(t, override.SourceInstance, eff.SourceOf(policy.FieldPrice))

	require.NoError(t, f.eng.SetOverride(ctx, l.ID, policy.FieldPrice, nil))
	eff, err = f.eng.Effective(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(5000), eff.Price)
	assert.Equal(t, override.SourceTemplate, eff.SourceOf(policy.FieldPrice))

	err = f.eng.SetOverride(ctx, l.ID, policy.FieldAutoRenew, "yes")
	assert.True(t, entitle.IsValidation(err))

	err = f.eng.SetOverride(ctx, acct.ID, policy.FieldPrice, types.USD(1))
	assert.True(t, entitle.IsValidation(err), "accounts carry no terms")
}

func TestTemplatePushToControlledInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	controlled := f.template(t, "controlled", monthly(5000, "course-intro"), func(tpl *template.Template) {
		tpl.ControlInstances = true
	})
	loose := f.template(t, "loose", monthly(5000, "course-intro"))
	acct := f.account(t, account.KindIndividual)

	a := f.activeLicense(t, controlled, acct)
	b := f.activeLicense(t, controlled, acct)
	c := f.activeLicense(t, loose, acct)
	_, err := f.eng.Cancel(ctx, b.ID, "gone")
	require.NoError(t, err)

	require.NoError(t, f.eng.SetOverride(ctx, controlled.ID, policy.FieldTags, "course*"))
	require.NoError(t, f.eng.SetOverride(ctx, loose.ID, policy.FieldTags, "course*"))

	f.events.mu.Lock()
	assert.Equal(t, []int{1, 0}, f.events.pushed)
	f.events.mu.Unlock()

	effA, err := f.eng.Effective(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, effA.Tags.Match("course-advanced"))

	effC, err := f.eng.Effective(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, effC.Tags.Match("course-advanced"), "uncontrolled licenses keep their snapshot")
}

// ──────────────────────────────────────────────────
// Free access and accounts
// ──────────────────────────────────────────────────

func TestEnsureFreeAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	free := f.template(t, "free", policy.Terms{TagPattern: override.Of("blog")})
	f.template(t, "paid", monthly(100, "*"))
	f.template(t, "hidden-free", policy.Terms{}, func(tpl *template.Template) { tpl.Enabled = false })
	acct := f.account(t, account.KindGroup)

	created, err := f.eng.EnsureFreeAccess(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, free.ID, created[0].TemplateID)
	assert.Equal(t, license.PurchaseFree, created[0].PurchaseType)
	assert.True(t, created[0].GALicense)

	again, err := f.eng.EnsureFreeAccess(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDeleteAccountCancelsLicenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "std", monthly(0, "*"))
	acct := f.account(t, account.KindIndividual)
	a := f.activeLicense(t, tpl, acct)
	b := f.activeLicense(t, tpl, acct)
	_, err := f.eng.Cancel(ctx, b.ID, "early")
	require.NoError(t, err)

	n, err := f.eng.DeleteAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.eng.GetAccount(ctx, acct.ID)
	assert.True(t, entitle.IsNotFound(err))

	got, err := f.eng.GetLicense(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StateCancelled, got.State)

	f.events.mu.Lock()
	assert.Equal(t, []int{1}, f.events.deleted)
	f.events.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

// flakyStore fails the first conflicts license updates with a version
// conflict.
type flakyStore struct {
	store.Store
	conflicts atomic.Int32
	attempts  atomic.Int32
}

func (s *flakyStore) UpdateLicense(ctx context.Context, l *license.License, expected int64) error {
	s.attempts.Add(1)
	if s.conflicts.Add(-1) >= 0 {
		return types.ErrConcurrencyConflict
	}
	return s.Store.UpdateLicense(ctx, l, expected)
}

func TestMutationRetriesConflicts(t *testing.T) {
	s := &flakyStore{Store: memory.New()}
	eng := entitle.New(s, entitle.WithRetry(5, time.Millisecond), entitle.WithSchedulerInterval(0))
	ctx := context.Background()

	tpl := &template.Template{AppID: app, SKU: "std", Name: "std", Terms: monthly(0, "*"), Enabled: true}
	require.NoError(t, eng.CreateTemplate(ctx, tpl))
	acct := &account.Account{AppID: app, Kind: account.KindIndividual}
	require.NoError(t, eng.CreateAccount(ctx, acct))
	l, err := eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)

	s.conflicts.Store(2)
	got, err := eng.Suspend(ctx, l.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, license.StateSuspended, got.State)
	assert.Equal(t, int32(3), s.attempts.Load())

	s.conflicts.Store(10)
	_, err = eng.Resume(ctx, l.ID)
	assert.ErrorIs(t, err, entitle.ErrConcurrencyConflict)
	assert.True(t, entitle.IsRetryable(err))
}

func TestConcurrentUsageIsNotLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tpl := f.template(t, "std", monthly(0, "*"))
	acct := f.account(t, account.KindIndividual)
	l := f.activeLicense(t, tpl, acct)

	eng := entitle.New(f.store, entitle.WithRetry(50, time.Microsecond), entitle.WithSchedulerInterval(0))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.eng.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Ledger.UsedOf(meter.KindPoints))
}
