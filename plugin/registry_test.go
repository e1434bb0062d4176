package plugin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/coupon"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/types"
)

type recorder struct {
	name string

	mu       sync.Mutex
	overages []plugin.OverageDue
	renewals []plugin.RenewalDue
	created  []*license.License
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnOverageDue(_ context.Context, evt plugin.OverageDue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overages = append(r.overages, evt)
	return nil
}

func (r *recorder) OnRenewalDue(_ context.Context, evt plugin.RenewalDue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewals = append(r.renewals, evt)
	return nil
}

func (r *recorder) OnLicenseCreated(_ context.Context, l *license.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, l)
	return errors.New("hook failures are swallowed")
}

type rejecter struct{}

func (rejecter) Name() string { return "rejecter" }

func (rejecter) ValidateCoupon(_ context.Context, c *coupon.Coupon, _ *account.Account) error {
	if c.Code == "BAD" {
		return errors.New("blocked code")
	}
	return nil
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnRenewalDue(ctx context.Context, _ plugin.RenewalDue) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	ctx := context.Background()
	r := plugin.NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(rejecter{}))

	r.EmitOverageDue(ctx, plugin.OverageDue{LicenseID: id.NewLicenseID(), Kind: meter.KindPoints, Units: 2, Amount: types.USD(400)})
	r.EmitRenewalDue(ctx, plugin.RenewalDue{Amount: types.USD(1000)})
	r.EmitLicenseCreated(ctx, &license.License{})
	r.EmitLicenseExpired(ctx, &license.License{})

	require.Len(t, rec.overages, 1)
	assert.Equal(t, int64(2), rec.overages[0].Units)
	assert.Len(t, rec.renewals, 1)
	assert.Len(t, rec.created, 1)
}

func TestValidateCoupon(t *testing.T) {
	ctx := context.Background()
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(rejecter{}))

	assert.NoError(t, r.ValidateCoupon(ctx, &coupon.Coupon{Code: "OK"}, nil))
	err := r.ValidateCoupon(ctx, &coupon.Coupon{Code: "BAD"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejecter")
}

func TestHookTimeout(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(slow{}))

	done := make(chan struct{})
	go func() {
		r.EmitRenewalDue(context.Background(), plugin.RenewalDue{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow hook blocked emission")
	}
}
