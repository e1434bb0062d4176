// Package extension provides the Forge extension adapter for Entitle.
//
// It implements the forge.Extension interface to integrate Entitle
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.entitle" or "entitle" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/eventstream"
	"github.com/xraph/entitle/period"
	revredis "github.com/xraph/entitle/revision/redis"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/store/mongo"
	"github.com/xraph/entitle/store/postgres"
	"github.com/xraph/entitle/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "entitle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Licensing and entitlement policy engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Entitle as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *entitle.Engine
	store      store.Store
	groveDB    *grove.DB
	redis      goredis.UniversalClient
	engineOpts []entitle.Option
}

// New creates a new Entitle Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Entitle engine.
// This is nil until Register is called.
func (e *Extension) Engine() *entitle.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := buildStore(e.config.StoreDriver, e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = entitle.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*entitle.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("entitle: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("entitle: store not initialized")
	}
	if err := e.store.Ping(ctx); err != nil {
		return err
	}
	if e.redis != nil {
		return e.redis.Ping(ctx).Err()
	}
	return nil
}

// buildStore picks the store implementation for driver.
func buildStore(driver string, db *grove.DB) (store.Store, error) {
	if driver == "" || driver == DriverMemory {
		return memory.New(), nil
	}
	if db == nil {
		return nil, fmt.Errorf("entitle: store driver %q needs a grove database", driver)
	}
	switch driver {
	case DriverPostgres:
		return postgres.New(db), nil
	case DriverSQLite:
		return sqlite.New(db), nil
	case DriverMongo:
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("entitle: unknown store driver %q", driver)
	}
}

// buildEngineOpts constructs entitle.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []entitle.Option {
	opts := make([]entitle.Option, 0, len(e.engineOpts)+8)

	opts = append(opts,
		entitle.WithMeterConfig(e.config.MeterBatchSize, e.config.MeterFlushInterval),
		entitle.WithDecisionCacheTTL(e.config.DecisionCacheTTL),
		entitle.WithSchedulerInterval(e.config.SchedulerInterval),
	)
	if e.config.DisableMigrate {
		opts = append(opts, entitle.WithoutMigrate())
	}
	if e.config.GracePeriod > 0 {
		opts = append(opts, entitle.WithGrace(period.FixedGrace(e.config.GracePeriod)))
	}
	if len(e.config.VisibleStates) > 0 {
		opts = append(opts, entitle.WithVisibleStates(e.config.VisibleStates...))
	}

	if e.redis != nil {
		opts = append(opts,
			entitle.WithRevisions(revredis.New(e.redis)),
			entitle.WithPlugin(eventstream.New(e.redis, eventstream.WithStream(e.config.EventStream))),
		)
	}

	// Pass-through options are applied last so they win.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("entitle: configuration is required but not found in config files; " +
				"ensure 'extensions.entitle' or 'entitle' key exists in your config")
		}

		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("entitle: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("store_driver", e.config.StoreDriver),
		forge.F("meter_batch_size", e.config.MeterBatchSize),
		forge.F("meter_flush_interval", e.config.MeterFlushInterval),
		forge.F("decision_cache_ttl", e.config.DecisionCacheTTL),
		forge.F("scheduler_interval", e.config.SchedulerInterval),
		forge.F("redis", e.redis != nil),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.entitle", "entitle"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("entitle: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("entitle: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = defaults.StoreDriver
	}
	if cfg.MeterBatchSize == 0 {
		cfg.MeterBatchSize = defaults.MeterBatchSize
	}
	if cfg.MeterFlushInterval == 0 {
		cfg.MeterFlushInterval = defaults.MeterFlushInterval
	}
	if cfg.DecisionCacheTTL == 0 {
		cfg.DecisionCacheTTL = defaults.DecisionCacheTTL
	}
	if cfg.SchedulerInterval == 0 {
		cfg.SchedulerInterval = defaults.SchedulerInterval
	}
	if cfg.EventStream == "" {
		cfg.EventStream = defaults.EventStream
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	yamlConfig.StoreDriver = firstString(yamlConfig.StoreDriver, programmaticConfig.StoreDriver)
	yamlConfig.EventStream = firstString(yamlConfig.EventStream, programmaticConfig.EventStream)

	if yamlConfig.MeterBatchSize == 0 {
		yamlConfig.MeterBatchSize = programmaticConfig.MeterBatchSize
	}
	yamlConfig.MeterFlushInterval = firstDuration(yamlConfig.MeterFlushInterval, programmaticConfig.MeterFlushInterval)
	yamlConfig.DecisionCacheTTL = firstDuration(yamlConfig.DecisionCacheTTL, programmaticConfig.DecisionCacheTTL)
	yamlConfig.SchedulerInterval = firstDuration(yamlConfig.SchedulerInterval, programmaticConfig.SchedulerInterval)
	yamlConfig.GracePeriod = firstDuration(yamlConfig.GracePeriod, programmaticConfig.GracePeriod)

	if len(yamlConfig.VisibleStates) == 0 {
		yamlConfig.VisibleStates = programmaticConfig.VisibleStates
	}

	return mergeWithDefaults(yamlConfig)
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstDuration(a, b time.Duration) time.Duration {
	if a != 0 {
		return a
	}
	return b
}
