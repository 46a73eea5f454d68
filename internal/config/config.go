// Package config loads the sync engine's configuration from file and
// environment variables via viper, mirroring the nested
// mapstructure-tagged struct convention used across this codebase.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the sync engine.
type Config struct {
	Arena   ArenaConfig   `mapstructure:"arena"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Push    PushConfig    `mapstructure:"push"`
	Export  ExportConfig  `mapstructure:"export"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Server  ServerConfig  `mapstructure:"server"`
	History HistoryConfig `mapstructure:"history"`
}

// ArenaConfig holds PLM connection parameters. Credentials themselves
// live behind a SecretStore (see internal/secretstore), not here.
type ArenaConfig struct {
	APIBase        string        `mapstructure:"api_base"`
	WorkspaceID    string        `mapstructure:"workspace_id"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// CacheConfig holds item-cache sizing and shard-store parameters.
// ShardSizeBytes, SafetyEnvelope and RefreshPageSize are validated and
// defaulted here but not passed to plm.ItemCache, which uses its own
// fixed shard size, safety envelope and refresh page size.
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	ShardSizeBytes  int           `mapstructure:"shard_size_bytes"`
	SafetyEnvelope  int           `mapstructure:"safety_envelope"`
	FrontCacheSize  int           `mapstructure:"front_cache_size"`
	RefreshPageSize int           `mapstructure:"refresh_page_size"`
	Backend         string        `mapstructure:"backend"` // "property" or "redis"
	RedisAddr       string        `mapstructure:"redis_addr"`
}

// PushConfig holds the structured-push-pipeline knobs that are otherwise
// user configuration (spec.md §6's position_attribute_config/bom_levels).
type PushConfig struct {
	PositionAttributeID string         `mapstructure:"position_attribute_id"`
	LevelMap            map[string]int `mapstructure:"level_map"`
	LeafLevel           int            `mapstructure:"leaf_level"`
}

// ExportConfig holds polling parameters for the bulk-export fast path.
// plm.NewLoader does not read them: it polls at a fixed 2s interval for
// at most 40 attempts.
type ExportConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// LogConfig mirrors pkg/logger.Config for viper decoding.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig controls the optional local status/progress HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HistoryConfig controls the optional durable Postgres-backed Change
// History Log that runs alongside the default sheet-backed one.
type HistoryConfig struct {
	PostgresEnabled bool   `mapstructure:"postgres_enabled"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`
}

// Load reads configuration from configPath (if non-empty) and environment
// variables, applying defaults first so a fresh checkout still runs.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ARENASYNC")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the invariants the engine depends on at startup.
func (c *Config) Validate() error {
	if c.Arena.APIBase == "" {
		return fmt.Errorf("arena.api_base is required")
	}
	if c.Arena.WorkspaceID == "" {
		return fmt.Errorf("arena.workspace_id is required")
	}
	if c.Cache.ShardSizeBytes <= 0 {
		return fmt.Errorf("cache.shard_size_bytes must be positive")
	}
	if c.Cache.ShardSizeBytes > maxShardSizeBytes {
		return fmt.Errorf("cache.shard_size_bytes %d exceeds host ceiling %d", c.Cache.ShardSizeBytes, maxShardSizeBytes)
	}
	if c.History.PostgresEnabled && c.History.PostgresDSN == "" {
		return fmt.Errorf("history.postgres_dsn is required when history.postgres_enabled is set")
	}
	return nil
}

// maxShardSizeBytes is the host property-store ceiling named in spec.md
// §4.4 (100KB per shard); the default shard budget stays safely under it.
const maxShardSizeBytes = 100 * 1024

func setDefaults(v *viper.Viper) {
	v.SetDefault("arena.session_ttl", 6*time.Hour)
	v.SetDefault("arena.request_timeout", 30*time.Second)
	v.SetDefault("arena.rate_limit_rps", 8.0)
	v.SetDefault("arena.rate_limit_burst", 16)

	v.SetDefault("cache.default_ttl", 6*time.Hour)
	v.SetDefault("cache.shard_size_bytes", 90*1024)
	v.SetDefault("cache.safety_envelope", 20*1024*1024)
	v.SetDefault("cache.front_cache_size", 512)
	v.SetDefault("cache.refresh_page_size", 400)
	v.SetDefault("cache.backend", "property")

	v.SetDefault("push.leaf_level", 2)

	v.SetDefault("export.poll_interval", 2*time.Second)
	v.SetDefault("export.max_attempts", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
}
