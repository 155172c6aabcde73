// Package config loads engine configuration from trellis.yml and
// TRELLIS_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full Trellis configuration.
type Config struct {
	// Backend selects where versioned state lives: "memory" or "redis".
	Backend    string           `mapstructure:"backend"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Lock       LockConfig       `mapstructure:"lock"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// RedisConfig locates the Redis instance backing snapshots, commits,
// branch heads, and lock leases.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig locates the database for the compaction audit archive.
// Empty URL means no archive.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// LockConfig tunes lease lifetimes and contention behavior.
type LockConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// CompactionConfig tunes the background compactor.
type CompactionConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MinChainLength int           `mapstructure:"min_chain_length"`
}

// CacheConfig sizes the read caches. CommitCacheBytes bounds the walker's
// commit cache; SchemaCacheEntries bounds the decoded-schema LRU.
type CacheConfig struct {
	CommitCacheBytes   int64 `mapstructure:"commit_cache_bytes"`
	SchemaCacheEntries int   `mapstructure:"schema_cache_entries"`
}

// Load reads trellis.yml (or trellis.yaml) from the working directory,
// applies TRELLIS_-prefixed environment overrides, and validates the
// result. A missing config file is fine; defaults cover everything.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("backend", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "trellis:")
	v.SetDefault("postgres.url", "")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.acquire_timeout", 5*time.Second)
	v.SetDefault("lock.monitor_interval", 30*time.Second)
	v.SetDefault("compaction.interval", 5*time.Minute)
	v.SetDefault("compaction.batch_size", 128)
	v.SetDefault("compaction.min_chain_length", 3)
	v.SetDefault("cache.commit_cache_bytes", int64(64<<20))
	v.SetDefault("cache.schema_cache_entries", 1024)

	v.SetConfigName("trellis")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRELLIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetPostgresURL returns the archive database URL from the environment or
// the config file. Empty means the archive is disabled.
func GetPostgresURL() string {
	if url := os.Getenv("TRELLIS_POSTGRES_URL"); url != "" {
		return url
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	cfg, err := Load()
	if err != nil {
		return ""
	}
	return cfg.Postgres.URL
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	switch cfg.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("backend must be 'memory' or 'redis', got: %s", cfg.Backend)
	}
	if cfg.Backend == "redis" && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when backend is 'redis'")
	}
	if cfg.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive, got: %s", cfg.Lock.TTL)
	}
	if cfg.Compaction.MinChainLength < 2 {
		return fmt.Errorf("compaction.min_chain_length must be at least 2, got: %d", cfg.Compaction.MinChainLength)
	}
	if cfg.Compaction.BatchSize < cfg.Compaction.MinChainLength {
		return fmt.Errorf("compaction.batch_size must be at least min_chain_length, got: %d", cfg.Compaction.BatchSize)
	}
	return nil
}
