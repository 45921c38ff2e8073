// Package config loads server configuration from environment variables
// and an optional YAML file via github.com/spf13/viper, grounded on
// marmos91-dittofs's config package: env-prefixed overrides layered on
// top of file-sourced values layered on top of defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of server configuration fields: spec.md §6's
// enumerated list plus the ambient additions SPEC_FULL.md §6.3 names.
type Config struct {
	ObjectStoreProvider   string `mapstructure:"object_store_provider"`
	ObjectStoreConnection string `mapstructure:"object_store_connection"`
	ObjectStoreContainer  string `mapstructure:"object_store_container"`

	CacheDir       string  `mapstructure:"cache_dir"`
	CacheMaxSizeGB float64 `mapstructure:"cache_max_size_gb"`

	MaxIndexedJobs    int     `mapstructure:"max_indexed_jobs"`
	MaxIndexMemoryMB  float64 `mapstructure:"max_index_memory_mb"`

	APIKey     string `mapstructure:"api_key"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	JWTIssuer  string `mapstructure:"jwt_issuer"`

	HTTPAddr       string   `mapstructure:"http_addr"`
	WorkerPoolSize int      `mapstructure:"worker_pool_size"`
	OpenPaths      []string `mapstructure:"open_paths"`
	LogLevel       string   `mapstructure:"log_level"`
}

// CacheMaxSizeBytes converts the configured disk bound to bytes.
func (c *Config) CacheMaxSizeBytes() int64 {
	return int64(c.CacheMaxSizeGB * 1024 * 1024 * 1024)
}

const envPrefix = "LABELCACHE"

// Load reads configuration from environment variables (LABELCACHE_*),
// an optional YAML file at configPath, and defaults, in that order of
// precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("object_store_provider", "s3")
	v.SetDefault("cache_dir", "/data/label-cache")
	v.SetDefault("cache_max_size_gb", 50.0)
	v.SetDefault("max_indexed_jobs", 50)
	v.SetDefault("max_index_memory_mb", 8192.0)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("worker_pool_size", 0)
	v.SetDefault("open_paths", []string{"/health", "/metrics"})
	v.SetDefault("log_level", "info")
}

func validate(cfg *Config) error {
	switch cfg.ObjectStoreProvider {
	case "s3", "fs":
	default:
		return fmt.Errorf("object_store_provider must be %q or %q, got %q", "s3", "fs", cfg.ObjectStoreProvider)
	}
	if cfg.CacheDir == "" {
		return fmt.Errorf("cache_dir is required")
	}
	if cfg.CacheMaxSizeGB <= 0 {
		return fmt.Errorf("cache_max_size_gb must be positive")
	}
	if cfg.MaxIndexedJobs <= 0 {
		return fmt.Errorf("max_indexed_jobs must be positive")
	}
	if cfg.MaxIndexMemoryMB <= 0 {
		return fmt.Errorf("max_index_memory_mb must be positive")
	}
	return nil
}
