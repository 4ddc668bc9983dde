package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Dealflow   DealflowConfig            `yaml:"dealflow" validate:"required"`
	Logging    LoggingConfig             `yaml:"logging"`
	Aggregator AggregatorConfig          `yaml:"aggregator"`
	Retry      RetryConfig               `yaml:"retry"`
	Cache      CacheConfig               `yaml:"cache"`
	Usage      UsageConfig               `yaml:"usage"`
	Refresh    RefreshConfig             `yaml:"refresh"`
	Providers  map[string]ProviderConfig `yaml:"providers" validate:"required,dive"`
}

type DealflowConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version" validate:"required"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type AggregatorConfig struct {
	MaxConcurrency  int           `yaml:"max_concurrency" validate:"min=1"`
	Timeout         time.Duration `yaml:"timeout"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	DefaultSort     string        `yaml:"default_sort" validate:"omitempty,oneof=discount price newest"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CacheConfig struct {
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
	Redis     RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	UseTLS   bool   `yaml:"use_tls"`
}

type UsageConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
	CloudWatch    bool          `yaml:"cloudwatch"`
	Namespace     string        `yaml:"namespace"`
}

type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
	Queries  []QuerySpec   `yaml:"queries"`
}

type QuerySpec struct {
	Keyword     string `yaml:"keyword"`
	Brand       string `yaml:"brand"`
	Category    string `yaml:"category"`
	MinDiscount int    `yaml:"min_discount"`
	Limit       int    `yaml:"limit"`
}

type ProviderConfig struct {
	Enabled           bool                 `yaml:"enabled"`
	Kind              string               `yaml:"kind" validate:"required,oneof=serplens dealcrest scraperhub"`
	BaseURL           string               `yaml:"url" validate:"required"`
	APIKey            string               `yaml:"api_key"`
	Timeout           time.Duration        `yaml:"timeout"`
	DailyQuota        int                  `yaml:"daily_quota" validate:"min=0"`
	RequestsPerSecond float64              `yaml:"requests_per_second"`
	Burst             int                  `yaml:"burst"`
	CostPerCall       float64              `yaml:"cost_per_call"`
	ConnectionPool    ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// Defaults applied before validation so a minimal config file stays usable.
const (
	defaultCacheTTL        = 6 * time.Hour
	defaultProviderTimeout = 15 * time.Second
	defaultTotalTimeout    = 45 * time.Second
)

// LoadConfig reads the YAML configuration, applies environment overrides for
// secrets and validates the result. A missing credential for an enabled
// provider is a startup failure, not something discovered mid-aggregation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Aggregator: AggregatorConfig{
			MaxConcurrency:  4,
			Timeout:         defaultTotalTimeout,
			ProviderTimeout: defaultProviderTimeout,
			DefaultSort:     "discount",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Cache: CacheConfig{
			TTL:       defaultCacheTTL,
			KeyPrefix: "dealflow",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides pulls secrets from the environment so credentials never
// have to live in the config file. Provider keys use
// DEALFLOW_<PROVIDER>_API_KEY.
func applyEnvOverrides(cfg *Config) {
	for name, pc := range cfg.Providers {
		envKey := "DEALFLOW_" + strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			pc.APIKey = strings.TrimSpace(v)
			cfg.Providers[name] = pc
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" && cfg.Usage.Region == "" {
		cfg.Usage.Region = strings.TrimSpace(v)
	}
}

var validate = validator.New()

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		// The scraper bridge authenticates at the subsystem boundary; the
		// paid search APIs require a key per call.
		if pc.Kind != "scraperhub" && pc.APIKey == "" {
			return fmt.Errorf("provider %s is enabled but has no api key (set DEALFLOW_%s_API_KEY)", name, strings.ToUpper(name))
		}
		if pc.DailyQuota <= 0 {
			return fmt.Errorf("provider %s: daily_quota must be greater than 0", name)
		}
	}

	if cfg.Cache.Redis.Enabled && cfg.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when redis is enabled")
	}

	if cfg.Usage.Enabled && cfg.Usage.Bucket == "" {
		return fmt.Errorf("usage.bucket is required when usage archiving is enabled")
	}

	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		cfg.Retry.MaxDelay = 10 * cfg.Retry.BaseDelay
	}

	return nil
}

// EnabledProviders returns the names of all enabled providers in no
// particular order.
func (c *Config) EnabledProviders() []string {
	names := make([]string, 0, len(c.Providers))
	for name, pc := range c.Providers {
		if pc.Enabled {
			names = append(names, name)
		}
	}
	return names
}
