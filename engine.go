package entitle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/license"
	"github.com/xraph/entitle/meter"
	"github.com/xraph/entitle/period"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/policy"
	"github.com/xraph/entitle/revision"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/types"
)

const tracerName = "github.com/xraph/entitle"

// Engine is the licensing and entitlement engine. It owns persistence,
// compare-and-set retries, revision bumps, events and background workers;
// the decisions themselves are made by the pure license and entitlement
// packages.
type Engine struct {
	store     store.Store
	plugins   *plugin.Registry
	logger    *slog.Logger
	catalog   content.Catalog
	revisions revision.Counter
	cache     entitlement.Cache
	resolver  *entitlement.Resolver
	tracer    trace.Tracer
	clock     func() time.Time

	defaults      *policy.Terms
	grace         period.GraceFunc
	visibleStates []string
	freeAccess    entitlement.FreeAccessPolicy

	// Background workers
	meterBuffer chan *meter.UsageEvent
	events      chan any
	stopChan    chan struct{}
	stopOnce    sync.Once
	started     atomic.Bool
	wg          sync.WaitGroup

	// Configuration
	meterBatchSize     int
	meterFlushInterval time.Duration
	schedulerInterval  time.Duration
	dueBatchSize       int
	decisionCacheTTL   time.Duration
	retryAttempts      uint
	retryInitial       time.Duration
	skipMigrate        bool
}

// New creates a new Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:              s,
		plugins:            plugin.NewRegistry(),
		logger:             slog.Default(),
		catalog:            content.NewStaticCatalog(),
		revisions:          revision.NewMemory(),
		cache:              entitlement.NewMemoryCache(),
		tracer:             otel.Tracer(tracerName),
		clock:              func() time.Time { return time.Now().UTC() },
		grace:              period.NoGrace,
		visibleStates:      content.DefaultVisibleStates,
		meterBuffer:        make(chan *meter.UsageEvent, 10000),
		events:             make(chan any, 1000),
		stopChan:           make(chan struct{}),
		meterBatchSize:     100,
		meterFlushInterval: 5 * time.Second,
		schedulerInterval:  time.Minute,
		dueBatchSize:       500,
		decisionCacheTTL:   30 * time.Second,
		retryAttempts:      5,
		retryInitial:       10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(e)
	}

	ropts := []entitlement.Option{
		entitlement.WithDefaults(e.defaults),
		entitlement.WithGrace(e.grace),
		entitlement.WithVisibleStates(e.visibleStates...),
	}
	if e.freeAccess != nil {
		ropts = append(ropts, entitlement.WithFreeAccess(e.freeAccess))
	}
	e.resolver = entitlement.NewResolver(e.catalog, ropts...)

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog sets the content catalog.
func WithCatalog(c content.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithRevisions sets the revision counter store.
func WithRevisions(c revision.Counter) Option {
	return func(e *Engine) { e.revisions = c }
}

// WithDecisionCache sets the access decision cache.
func WithDecisionCache(c entitlement.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithGrace sets the grace hook applied after a period ends and before an
// unpaid renewal suspends.
func WithGrace(grace period.GraceFunc) Option {
	return func(e *Engine) {
		if grace != nil {
			e.grace = grace
		}
	}
}

// WithDefaults sets the system-default terms tier.
func WithDefaults(defaults *policy.Terms) Option {
	return func(e *Engine) { e.defaults = defaults }
}

// WithVisibleStates sets the workflow states license holders can see.
func WithVisibleStates(states ...string) Option {
	return func(e *Engine) { e.visibleStates = states }
}

// WithFreeAccess sets the unconditional free-access policy.
func WithFreeAccess(p entitlement.FreeAccessPolicy) Option {
	return func(e *Engine) { e.freeAccess = p }
}

// WithMeterConfig configures usage history batching.
func WithMeterConfig(batchSize int, flushInterval time.Duration) Option {
	return func(e *Engine) {
		e.meterBatchSize = batchSize
		e.meterFlushInterval = flushInterval
	}
}

// WithSchedulerInterval sets how often Start's scheduler calls TickDue.
// Zero disables the scheduler.
func WithSchedulerInterval(d time.Duration) Option {
	return func(e *Engine) { e.schedulerInterval = d }
}

// WithDecisionCacheTTL sets how long access decisions are cached. Zero
// disables caching.
func WithDecisionCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.decisionCacheTTL = ttl }
}

// WithRetry configures compare-and-set conflict retries.
func WithRetry(attempts uint, initial time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.retryAttempts = attempts
		}
		if initial > 0 {
			e.retryInitial = initial
		}
	}
}

// WithoutMigrate starts the engine against an already migrated store.
func WithoutMigrate() Option {
	return func(e *Engine) { e.skipMigrate = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Resolver returns the entitlement resolver.
func (e *Engine) Resolver() *entitlement.Resolver { return e.resolver }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(2)
	go e.meterFlushWorker(ctx)
	go e.eventWorker(ctx)

	if e.schedulerInterval > 0 {
		e.wg.Add(1)
		go e.schedulerWorker(ctx)
	}
	e.started.Store(true)

	e.logger.Info("entitle started",
		"batch_size", e.meterBatchSize,
		"flush_interval", e.meterFlushInterval,
		"scheduler_interval", e.schedulerInterval,
		"cache_ttl", e.decisionCacheTTL,
	)

	return nil
}

// Stop drains the workers, notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	e.started.Store(false)

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// ──────────────────────────────────────────────────
// Background workers
// ──────────────────────────────────────────────────

// meterFlushWorker flushes usage history to the store.
func (e *Engine) meterFlushWorker(ctx context.Context) {
	defer e.wg.Done()

	batch := make([]*meter.UsageEvent, 0, e.meterBatchSize)
	ticker := time.NewTicker(e.meterFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			// Final flush
			for len(e.meterBuffer) > 0 {
				batch = append(batch, <-e.meterBuffer)
			}
			if len(batch) > 0 {
				e.flushMeterBatch(ctx, batch)
			}
			return

		case event := <-e.meterBuffer:
			batch = append(batch, event)
			if len(batch) >= e.meterBatchSize {
				e.flushMeterBatch(ctx, batch)
				batch = make([]*meter.UsageEvent, 0, e.meterBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				e.flushMeterBatch(ctx, batch)
				batch = make([]*meter.UsageEvent, 0, e.meterBatchSize)
			}
		}
	}
}

func (e *Engine) flushMeterBatch(ctx context.Context, batch []*meter.UsageEvent) {
	start := time.Now()

	if err := e.store.IngestBatch(context.WithoutCancel(ctx), batch); err != nil {
		e.logger.Error("failed to flush usage batch",
			"error", err,
			"batch_size", len(batch),
		)
		return
	}

	elapsed := time.Since(start)
	e.plugins.EmitUsageFlushed(ctx, len(batch), elapsed)

	e.logger.Debug("flushed usage batch",
		"batch_size", len(batch),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// eventWorker delivers overage-due and renewal-due events to plugins off
// the caller's path.
func (e *Engine) eventWorker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopChan:
			for {
				select {
				case evt := <-e.events:
					e.dispatch(ctx, evt)
				default:
					return
				}
			}
		case evt := <-e.events:
			e.dispatch(ctx, evt)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, evt any) {
	ctx = context.WithoutCancel(ctx)
	switch evt := evt.(type) {
	case plugin.OverageDue:
		e.plugins.EmitOverageDue(ctx, evt)
	case plugin.RenewalDue:
		e.plugins.EmitRenewalDue(ctx, evt)
	}
}

// publish queues an event without blocking. Before Start, or when the
// queue is full, the event is delivered on its own goroutine.
func (e *Engine) publish(ctx context.Context, evt any) {
	if e.started.Load() {
		select {
		case e.events <- evt:
			return
		default:
			e.logger.Warn("event queue full, dispatching inline", "queue", cap(e.events))
		}
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatch(ctx, evt)
	}()
}

// schedulerWorker periodically ticks due licenses.
func (e *Engine) schedulerWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.schedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			n, err := e.TickDue(ctx, e.now())
			if err != nil {
				e.logger.Error("scheduled tick failed", "error", err, "ticked", n)
				continue
			}
			if n > 0 {
				e.logger.Debug("scheduled tick", "ticked", n)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// mutation applies a pure transition to a freshly loaded license. It
// reports whether the license changed and needs saving.
type mutation func(l *license.License, eff policy.Effective) (bool, error)

// mutateLicense loads the license, applies fn and saves it with a
// compare-and-set, retrying from a fresh load on conflicts.
func (e *Engine) mutateLicense(ctx context.Context, licenseID id.LicenseID, fn mutation) (*license.License, bool, error) {
	type result struct {
		lic     *license.License
		changed bool
	}

	op := func() (result, error) {
		l, err := e.store.GetLicense(ctx, licenseID)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		eff := e.effective(l)
		expected := l.Version

		changed, err := fn(l, eff)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		if !changed {
			return result{lic: l}, nil
		}

		l.ComputeNextCheck(l.Effective(e.defaults))
		if err := e.store.UpdateLicense(ctx, l, expected); err != nil {
			if errors.Is(err, types.ErrConcurrencyConflict) {
				e.logger.Debug("license update conflict, retrying", "license_id", licenseID.String(), "version", expected)
				return result{}, err
			}
			return result{}, backoff.Permanent(err)
		}
		return result{lic: l, changed: true}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.retryAttempts),
	)
	if err != nil {
		return nil, false, err
	}
	if res.changed {
		e.bump(ctx, res.lic)
	}
	return res.lic, res.changed, nil
}

// effective resolves the license's terms and logs configuration warnings.
func (e *Engine) effective(l *license.License) policy.Effective {
	eff := l.Effective(e.defaults)
	e.warnTerms("license", l.ID, eff)
	return eff
}

// bump advances the revision counters of a license and its account.
func (e *Engine) bump(ctx context.Context, l *license.License) {
	keys := []string{revision.LicenseKey(l.ID)}
	if !l.AccountID.IsNil() {
		keys = append(keys, revision.AccountKey(l.AccountID))
	}
	if err := e.revisions.Bump(ctx, keys...); err != nil {
		e.logger.Warn("failed to bump revisions", "license_id", l.ID.String(), "error", err)
	}
}

// startSpan opens a tracing span for an engine operation.
func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "entitle."+name)
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
