package extension

import "time"

// Store drivers understood by Config.StoreDriver.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

// Config holds the Entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// StoreDriver selects the store built over the grove database given
	// with WithGroveDB: postgres, sqlite or mongo. Empty or memory uses
	// the in-memory store.
	StoreDriver string `json:"store_driver" mapstructure:"store_driver" yaml:"store_driver"`

	// MeterBatchSize is the number of usage events to buffer before flushing
	// to the store (default: 100).
	MeterBatchSize int `json:"meter_batch_size" mapstructure:"meter_batch_size" yaml:"meter_batch_size"`

	// MeterFlushInterval is how frequently the meter buffer is flushed
	// even if the batch size has not been reached (default: 5s).
	MeterFlushInterval time.Duration `json:"meter_flush_interval" mapstructure:"meter_flush_interval" yaml:"meter_flush_interval"`

	// DecisionCacheTTL bounds how long an access decision is reused for an
	// unchanged account revision (default: 30s).
	DecisionCacheTTL time.Duration `json:"decision_cache_ttl" mapstructure:"decision_cache_ttl" yaml:"decision_cache_ttl"`

	// SchedulerInterval is how often due licenses are ticked (default: 1m).
	SchedulerInterval time.Duration `json:"scheduler_interval" mapstructure:"scheduler_interval" yaml:"scheduler_interval"`

	// GracePeriod extends access past a period end while a renewal charge
	// is pending (default: none).
	GracePeriod time.Duration `json:"grace_period" mapstructure:"grace_period" yaml:"grace_period"`

	// VisibleStates are the content workflow states access checks consider
	// (default: published, beta).
	VisibleStates []string `json:"visible_states" mapstructure:"visible_states" yaml:"visible_states"`

	// EventStream is the Redis stream billing events are appended to when
	// a Redis client is configured (default: "entitle:billing").
	EventStream string `json:"event_stream" mapstructure:"event_stream" yaml:"event_stream"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StoreDriver:        DriverMemory,
		MeterBatchSize:     100,
		MeterFlushInterval: 5 * time.Second,
		DecisionCacheTTL:   30 * time.Second,
		SchedulerInterval:  time.Minute,
		EventStream:        "entitle:billing",
	}
}
