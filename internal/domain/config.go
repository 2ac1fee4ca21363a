package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete caretrust service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which collaborators back the core
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Scoring points at the scoring configuration document.
	// An empty path selects the embedded default regime.
	Scoring ScoringConfig `json:"scoring" mapstructure:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// ScoringConfig selects the scoring regime and snapshot bounds.
type ScoringConfig struct {
	ConfigPath string `json:"configPath" mapstructure:"config_path"`

	// Snapshot bounds handed to the core on every computation.
	ActivityLookbackDays int `json:"activityLookbackDays" mapstructure:"activity_lookback_days"`
	MaxActivities        int `json:"maxActivities" mapstructure:"max_activities"`
	MaxTestimonies       int `json:"maxTestimonies" mapstructure:"max_testimonies"`

	// BatchConcurrency caps parallel subjects in batch scoring.
	BatchConcurrency int `json:"batchConcurrency" mapstructure:"batch_concurrency"`
}

// WorkerConfig holds async recompute worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Tenants whose evidence events the worker follows.
	Tenants []string `json:"tenants" mapstructure:"tenants"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
// Without an endpoint spans are printed to stdout.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"serviceName" mapstructure:"service_name"`
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"` // OTLP/HTTP host:port
	Insecure    bool    `json:"insecure" mapstructure:"insecure"`
	SampleRatio float64 `json:"sampleRatio" mapstructure:"sample_ratio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Scoring: ScoringConfig{
			ActivityLookbackDays: 365,
			MaxActivities:        500,
			MaxTestimonies:       200,
			BatchConcurrency:     8,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./caretrust.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
			Tenants: []string{"default"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "caretrust",
			SampleRatio: 0.1,
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "caretrust",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "caretrust-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate reports every setting that cannot be started with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Tier == TierCommunity || c.Tier == TierPro, "tier: unknown tier %q", c.Tier)
	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port: %d out of range", c.Server.Port)
	check(c.Repository.Driver == "sqlite" || c.Repository.Driver == "postgres", "repository.driver: unsupported %q", c.Repository.Driver)
	check(c.Cache.Type == "memory" || c.Cache.Type == "redis", "cache.type: unsupported %q", c.Cache.Type)
	check(c.EventBus.Type == "channel" || c.EventBus.Type == "nats", "eventbus.type: unsupported %q", c.EventBus.Type)
	check(c.Scoring.ActivityLookbackDays >= 0, "scoring.activity_lookback_days: must not be negative")
	check(c.Scoring.MaxActivities >= 0 && c.Scoring.MaxTestimonies >= 0, "scoring: snapshot limits must not be negative")
	check(!c.Worker.Enabled || len(c.Worker.Tenants) > 0, "worker.tenants: an enabled worker needs at least one tenant")
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing.sample_ratio: %v outside [0,1]", c.Tracing.SampleRatio)

	return errors.Join(errs...)
}
