package eventstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/eventstream"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

func newSink(t *testing.T, opts ...eventstream.Option) (*eventstream.Sink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return eventstream.New(client, opts...), mr
}

func TestAppendAndRead(t *testing.T) {
	ctx := context.Background()
	sink, mr := newSink(t, eventstream.WithStream("billing"))

	overage := plugin.OverageDue{
		ID:        id.NewEventID(),
		LicenseID: id.NewLicenseID(),
		Kind:      meter.KindPoints,
		Units:     2,
		Amount:    types.USD(100),
		At:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	renewal := plugin.RenewalDue{
		ID:        id.NewEventID(),
		LicenseID: overage.LicenseID,
		Amount:    types.USD(5000),
	}
	require.NoError(t, sink.OnOverageDue(ctx, overage))
	require.NoError(t, sink.OnRenewalDue(ctx, renewal))

	assert.True(t, mr.Exists("billing"))

	msgs, err := sink.Read(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, eventstream.TypeOverageDue, msgs[0].Type)
	assert.Equal(t, overage.ID.String(), msgs[0].EventID)
	var got plugin.OverageDue
	require.NoError(t, msgs[0].Decode(&got))
	assert.Equal(t, overage.LicenseID, got.LicenseID)
	assert.Equal(t, int64(2), got.Units)
	assert.Equal(t, int64(100), got.Amount.Amount)

	assert.Equal(t, eventstream.TypeRenewalDue, msgs[1].Type)

	rest, err := sink.Read(ctx, msgs[0].StreamID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, renewal.ID.String(), rest[0].EventID)
}

func TestAppendFailsWhenRedisIsDown(t *testing.T) {
	sink, mr := newSink(t)
	mr.Close()

	err := sink.OnRenewalDue(context.Background(), plugin.RenewalDue{ID: id.NewEventID()})
	assert.Error(t, err)
}

func TestEngineOverageReachesStream(t *testing.T) {
	ctx := context.Background()
	sink, _ := newSink(t)

	eng := entitle.New(memory.New(), entitle.WithPlugin(sink), entitle.WithSchedulerInterval(0))
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop() }()

	tpl := &template.Template{
		AppID:   "app",
		SKU:     "metered",
		Name:    "Metered",
		Enabled: true,
		Terms: policy.Terms{
			TagPattern: override.Of("*"),
			Points: policy.QuotaTerms{
				Limit:     override.Of(int64(10)),
				Increment: override.Of(int64(5)),
				Price:     override.Of(types.USD(20)),
			},
		},
	}
	require.NoError(t, eng.CreateTemplate(ctx, tpl))
	acct := &account.Account{AppID: "app", Kind: account.KindIndividual}
	require.NoError(t, eng.CreateAccount(ctx, acct))
	l, err := eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)

	res, err := eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 12, EventID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, types.USD(20), res.Overage)

	require.Eventually(t, func() bool {
		msgs, err := sink.Read(ctx, "", 10)
		return err == nil && len(msgs) == 1 && msgs[0].Type == eventstream.TypeOverageDue
	}, time.Second, 10*time.Millisecond)
}
