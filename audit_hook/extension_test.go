package audithook_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/entitle/audit_hook"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/types"
)

type recorded struct {
	events []*audithook.AuditEvent
	err    error
}

func (r *recorded) recorder() audithook.RecorderFunc {
	return func(_ context.Context, evt *audithook.AuditEvent) error {
		r.events = append(r.events, evt)
		return r.err
	}
}

func testLicense() *license.License {
	return &license.License{
		ID:         id.NewLicenseID(),
		AppID:      "academy",
		AccountID:  id.NewAccountID(),
		TemplateID: id.NewTemplateID(),
		State:      license.StateActive,
	}
}

func TestLicenseEvents(t *testing.T) {
	rec := &recorded{}
	ext := audithook.New(rec.recorder())
	ctx := context.Background()
	l := testLicense()

	require.NoError(t, ext.OnLicenseActivated(ctx, l))
	require.Len(t, rec.events, 1)

	evt := rec.events[0]
	assert.Equal(t, audithook.ActionLicenseActivated, evt.Action)
	assert.Equal(t, audithook.ResourceLicense, evt.Resource)
	assert.Equal(t, audithook.CategoryLicensing, evt.Category)
	assert.Equal(t, audithook.OutcomeSuccess, evt.Outcome)
	assert.Equal(t, l.ID.String(), evt.ResourceID)
	assert.Equal(t, l.AccountID.String(), evt.Metadata["account_id"])
	assert.Equal(t, "active", evt.Metadata["state"])
}

func TestPaymentMismatchCarriesReason(t *testing.T) {
	rec := &recorded{}
	ext := audithook.New(rec.recorder())

	m := &types.PaymentMismatchError{LicenseID: "lic_1", Expected: types.USD(500), Got: types.USD(400)}
	require.NoError(t, ext.OnPaymentMismatch(context.Background(), m))

	require.Len(t, rec.events, 1)
	evt := rec.events[0]
	assert.Equal(t, audithook.OutcomeFailure, evt.Outcome)
	assert.Equal(t, audithook.SeverityCritical, evt.Severity)
	assert.Equal(t, m.Error(), evt.Reason)
	assert.Equal(t, "$5.00", evt.Metadata["expected"])
}

func TestOverrideResource(t *testing.T) {
	rec := &recorded{}
	ext := audithook.New(rec.recorder())
	ctx := context.Background()

	require.NoError(t, ext.OnOverrideSet(ctx, plugin.OverrideSet{TargetID: id.NewTemplateID(), Field: policy.FieldPrice, Value: types.USD(100)}))
	require.NoError(t, ext.OnOverrideSet(ctx, plugin.OverrideSet{TargetID: id.NewCouponID(), Field: policy.FieldPrice, Value: types.USD(100)}))
	require.NoError(t, ext.OnOverrideSet(ctx, plugin.OverrideSet{TargetID: id.NewLicenseID(), Field: policy.FieldPrice, Value: types.USD(100)}))

	require.Len(t, rec.events, 3)
	assert.Equal(t, audithook.ResourceTemplate, rec.events[0].Resource)
	assert.Equal(t, audithook.ResourceCoupon, rec.events[1].Resource)
	assert.Equal(t, audithook.ResourceLicense, rec.events[2].Resource)
}

func TestAccessChecksOnlyRecordDenials(t *testing.T) {
	rec := &recorded{}
	ext := audithook.New(rec.recorder())
	ctx := context.Background()
	acct := id.NewAccountID()

	require.NoError(t, ext.OnAccessChecked(ctx, plugin.AccessChecked{
		AccountID: acct,
		ItemID:    "intro",
		Decision:  entitlement.Decision{Allowed: true, Reason: entitlement.ReasonLicense},
	}))
	assert.Empty(t, rec.events)

	require.NoError(t, ext.OnAccessChecked(ctx, plugin.AccessChecked{
		AccountID: acct,
		ItemID:    "intro",
		Decision:  entitlement.Decision{Reason: entitlement.ReasonNotCovered},
	}))
	require.Len(t, rec.events, 1)
	assert.Equal(t, audithook.ActionAccessDenied, rec.events[0].Action)
	assert.Equal(t, audithook.ResourceContent, rec.events[0].Resource)
	assert.Equal(t, "not_covered", rec.events[0].Metadata["reason"])
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	l := testLicense()

	t.Run("enabled", func(t *testing.T) {
		rec := &recorded{}
		ext := audithook.New(rec.recorder(), audithook.WithEnabledActions(audithook.ActionLicenseCancelled))

		require.NoError(t, ext.OnLicenseActivated(ctx, l))
		require.NoError(t, ext.OnLicenseCancelled(ctx, l))

		require.Len(t, rec.events, 1)
		assert.Equal(t, audithook.ActionLicenseCancelled, rec.events[0].Action)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := &recorded{}
		ext := audithook.New(rec.recorder(), audithook.WithDisabledActions(audithook.ActionLicenseCancelled))

		require.NoError(t, ext.OnLicenseActivated(ctx, l))
		require.NoError(t, ext.OnLicenseCancelled(ctx, l))

		require.Len(t, rec.events, 1)
		assert.Equal(t, audithook.ActionLicenseActivated, rec.events[0].Action)
	})
}

func TestRecorderErrorIsNotReturned(t *testing.T) {
	rec := &recorded{err: errors.New("backend down")}
	ext := audithook.New(rec.recorder())

	assert.NoError(t, ext.OnLicenseExpired(context.Background(), testLicense()))
	assert.Len(t, rec.events, 1)
}
