package extension

import (
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/grove"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/content"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
)

// Option configures the Entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. It takes precedence over
// WithGroveDB.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB builds the store over db with the named driver (postgres,
// sqlite or mongo).
func WithGroveDB(db *grove.DB, driver string) Option {
	return func(e *Extension) {
		e.groveDB = db
		e.config.StoreDriver = driver
	}
}

// WithRedis shares revision counters through Redis and appends billing
// events to a Redis stream.
func WithRedis(client goredis.UniversalClient) Option {
	return func(e *Extension) { e.redis = client }
}

// WithCatalog sets the content catalog access checks resolve against.
func WithCatalog(c content.Catalog) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithCatalog(c))
	}
}

// WithEngineOption passes an entitle.Option through to the underlying engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMeterBatchSize sets the number of usage events to buffer before flushing.
func WithMeterBatchSize(size int) Option {
	return func(e *Extension) { e.config.MeterBatchSize = size }
}

// WithMeterFlushInterval sets how frequently the meter buffer is flushed.
func WithMeterFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.MeterFlushInterval = d }
}

// WithDecisionCacheTTL sets the access decision cache duration.
func WithDecisionCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.DecisionCacheTTL = d }
}

// WithSchedulerInterval sets how often due licenses are ticked.
func WithSchedulerInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SchedulerInterval = d }
}

// WithGracePeriod sets a fixed grace after every period end.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Extension) { e.config.GracePeriod = d }
}
