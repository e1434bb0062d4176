package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/account"
	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/override"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/template"
	"github.com/xraph/entitle/types"
)

func TestPrometheusFactory(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("entitle.license.created")
	c.Inc()
	c.Add(2)
	assert.Same(t, c, f.Counter("entitle.license.created"))

	h := f.Histogram("entitle.access.latency_ms")
	h.Observe(1.5)

	n, err := testutil.GatherAndCount(reg, "entitle_license_created", "entitle_access_latency_ms")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.(prometheus.Counter)))

	// A second factory on the same registry shares the collectors.
	other := observability.NewPrometheusFactory(reg)
	other.Counter("entitle.license.created").Inc()
	assert.Equal(t, float64(4), testutil.ToFloat64(c.(prometheus.Counter)))
}

func TestMetricsExtensionHooks(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	require.NoError(t, m.OnOverageDue(ctx, plugin.OverageDue{Amount: types.USD(250)}))
	require.NoError(t, m.OnUsageFlushed(ctx, 7, 3*time.Millisecond))
	require.NoError(t, m.OnAccessChecked(ctx, plugin.AccessChecked{Decision: entitlement.Decision{Allowed: false}}))
	require.NoError(t, m.OnAccessChecked(ctx, plugin.AccessChecked{Decision: entitlement.Decision{Allowed: true}}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OverageDue.(prometheus.Counter)))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.UsageFlushed.(prometheus.Counter)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AccessChecks.(prometheus.Counter)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AccessDenied.(prometheus.Counter)))
}

func TestMetricsExtensionWithEngine(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))

	eng := entitle.New(memory.New(),
		entitle.WithPlugin(m),
		entitle.WithCatalog(content.NewStaticCatalog()),
		entitle.WithSchedulerInterval(0),
	)
	require.NoError(t, eng.Start(ctx))
	defer func() { _ = eng.Stop() }()

	tpl := &template.Template{
		AppID:   "app",
		SKU:     "basic",
		Name:    "Basic",
		Enabled: true,
		Terms: policy.Terms{
			TagPattern: override.Of("*"),
			Points:     policy.QuotaTerms{Limit: override.Of(int64(10))},
		},
	}
	require.NoError(t, eng.CreateTemplate(ctx, tpl))
	acct := &account.Account{AppID: "app", Kind: account.KindIndividual}
	require.NoError(t, eng.CreateAccount(ctx, acct))

	l, err := eng.Checkout(ctx, entitle.CheckoutRequest{AccountID: acct.ID, TemplateID: tpl.ID})
	require.NoError(t, err)
	_, err = eng.RecordUsage(ctx, entitle.UsageRequest{LicenseID: l.ID, Kind: meter.KindPoints, Amount: 3, EventID: "e1"})
	require.NoError(t, err)
	_, err = eng.Cancel(ctx, l.ID, "done")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TemplateCreated.(prometheus.Counter)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LicenseCreated.(prometheus.Counter)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LicenseActivated.(prometheus.Counter)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UsageRecorded.(prometheus.Counter)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LicenseCancelled.(prometheus.Counter)))
}
