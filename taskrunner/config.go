/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskrunner

import (
	"fmt"
	"time"

	"github.com/acronis/go-taskkit/config"
	"github.com/acronis/go-taskkit/log"
	"github.com/acronis/go-taskkit/retry"
	"github.com/acronis/go-taskkit/taskqueue"
)

const cfgDefaultKeyPrefix = "taskRunner"

const (
	cfgKeyQueueMaxConcurrency = "queue.maxConcurrency"
	cfgKeyQueueMaxLength      = "queue.maxLength"
	cfgKeyQueueRateLimit      = "queue.rateLimit"
	cfgKeyQueueRateLimitBurst = "queue.rateLimitBurst"

	cfgKeyCacheMaxEntries      = "cache.maxEntries"
	cfgKeyCacheDefaultTTL      = "cache.defaultTTL"
	cfgKeyCacheCleanupInterval = "cache.cleanupInterval"

	cfgKeyRetryMaxAttempts     = "retry.maxAttempts"
	cfgKeyRetryInitialInterval = "retry.initialInterval"
	cfgKeyRetryMaxInterval     = "retry.maxInterval"
)

// QueueConfig is a configuration for the task queue.
type QueueConfig struct {
	MaxConcurrency int     `mapstructure:"maxConcurrency" yaml:"maxConcurrency" json:"maxConcurrency"`
	MaxLength      int     `mapstructure:"maxLength" yaml:"maxLength" json:"maxLength"`
	RateLimit      float64 `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`
	RateLimitBurst int     `mapstructure:"rateLimitBurst" yaml:"rateLimitBurst" json:"rateLimitBurst"`
}

// CacheConfig is a configuration for the result cache.
type CacheConfig struct {
	MaxEntries      int           `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
	DefaultTTL      time.Duration `mapstructure:"defaultTTL" yaml:"defaultTTL" json:"defaultTTL"`
	CleanupInterval time.Duration `mapstructure:"cleanupInterval" yaml:"cleanupInterval" json:"cleanupInterval"`
}

// RetryConfig is a configuration for retrying task execution.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval" yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     time.Duration `mapstructure:"maxInterval" yaml:"maxInterval" json:"maxInterval"`
}

// Config represents a set of configuration parameters for the Runner.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	Queue QueueConfig `mapstructure:"queue" yaml:"queue" json:"queue"`
	Cache CacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`
	Retry RetryConfig `mapstructure:"retry" yaml:"retry" json:"retry"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Queue: QueueConfig{
			MaxConcurrency: taskqueue.DefaultMaxConcurrency,
			RateLimitBurst: 1,
		},
		Cache: CacheConfig{
			DefaultTTL: DefaultTTL,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: retry.DefaultExponentialBackoffInitialInterval,
			MaxInterval:     retry.DefaultExponentialBackoffMaxInterval,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the Runner in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyQueueMaxConcurrency, taskqueue.DefaultMaxConcurrency)
	dp.SetDefault(cfgKeyQueueRateLimitBurst, 1)
	dp.SetDefault(cfgKeyCacheDefaultTTL, DefaultTTL)
	dp.SetDefault(cfgKeyRetryMaxAttempts, DefaultMaxAttempts)
	dp.SetDefault(cfgKeyRetryInitialInterval, retry.DefaultExponentialBackoffInitialInterval)
	dp.SetDefault(cfgKeyRetryMaxInterval, retry.DefaultExponentialBackoffMaxInterval)
}

// Set sets the Runner configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.setQueueConfig(dp); err != nil {
		return err
	}
	if err := c.setCacheConfig(dp); err != nil {
		return err
	}
	return c.setRetryConfig(dp)
}

func (c *Config) setQueueConfig(dp config.DataProvider) error {
	var err error

	if c.Queue.MaxConcurrency, err = dp.GetInt(cfgKeyQueueMaxConcurrency); err != nil {
		return err
	}
	if c.Queue.MaxConcurrency <= 0 {
		return dp.WrapKeyErr(cfgKeyQueueMaxConcurrency, fmt.Errorf("should be positive"))
	}

	if c.Queue.MaxLength, err = dp.GetInt(cfgKeyQueueMaxLength); err != nil {
		return err
	}
	if c.Queue.MaxLength < 0 {
		return dp.WrapKeyErr(cfgKeyQueueMaxLength, fmt.Errorf("should be >= 0"))
	}

	if c.Queue.RateLimit, err = dp.GetFloat64(cfgKeyQueueRateLimit); err != nil {
		return err
	}
	if c.Queue.RateLimit < 0 {
		return dp.WrapKeyErr(cfgKeyQueueRateLimit, fmt.Errorf("should be >= 0"))
	}

	if c.Queue.RateLimitBurst, err = dp.GetInt(cfgKeyQueueRateLimitBurst); err != nil {
		return err
	}
	if c.Queue.RateLimitBurst <= 0 {
		return dp.WrapKeyErr(cfgKeyQueueRateLimitBurst, fmt.Errorf("should be positive"))
	}

	return nil
}

func (c *Config) setCacheConfig(dp config.DataProvider) error {
	var err error

	if c.Cache.MaxEntries, err = dp.GetInt(cfgKeyCacheMaxEntries); err != nil {
		return err
	}
	if c.Cache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyCacheMaxEntries, fmt.Errorf("should be >= 0"))
	}

	if c.Cache.DefaultTTL, err = dp.GetDuration(cfgKeyCacheDefaultTTL); err != nil {
		return err
	}
	if c.Cache.DefaultTTL < 0 {
		return dp.WrapKeyErr(cfgKeyCacheDefaultTTL, fmt.Errorf("should be >= 0"))
	}

	if c.Cache.CleanupInterval, err = dp.GetDuration(cfgKeyCacheCleanupInterval); err != nil {
		return err
	}
	if c.Cache.CleanupInterval < 0 {
		return dp.WrapKeyErr(cfgKeyCacheCleanupInterval, fmt.Errorf("should be >= 0"))
	}

	return nil
}

func (c *Config) setRetryConfig(dp config.DataProvider) error {
	var err error

	if c.Retry.MaxAttempts, err = dp.GetInt(cfgKeyRetryMaxAttempts); err != nil {
		return err
	}
	if c.Retry.MaxAttempts <= 0 {
		return dp.WrapKeyErr(cfgKeyRetryMaxAttempts, fmt.Errorf("should be positive"))
	}

	if c.Retry.InitialInterval, err = dp.GetDuration(cfgKeyRetryInitialInterval); err != nil {
		return err
	}
	if c.Retry.InitialInterval < 0 {
		return dp.WrapKeyErr(cfgKeyRetryInitialInterval, fmt.Errorf("should be >= 0"))
	}

	if c.Retry.MaxInterval, err = dp.GetDuration(cfgKeyRetryMaxInterval); err != nil {
		return err
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return dp.WrapKeyErr(cfgKeyRetryMaxInterval, fmt.Errorf("should be >= %s", cfgKeyRetryInitialInterval))
	}

	return nil
}

// NewFromConfig creates a new Runner from the loaded configuration.
func NewFromConfig[K comparable, V any](cfg *Config, logger log.FieldLogger) *Runner[K, V] {
	return New[K, V](cfg.Queue.MaxConcurrency, Opts{
		Policy:               retry.NewExponentialBackoffPolicy(cfg.Retry.InitialInterval, cfg.Retry.MaxInterval),
		DefaultMaxAttempts:   cfg.Retry.MaxAttempts,
		DefaultTTL:           cfg.Cache.DefaultTTL,
		CacheMaxEntries:      cfg.Cache.MaxEntries,
		CacheCleanupInterval: cfg.Cache.CleanupInterval,
		MaxQueueLength:       cfg.Queue.MaxLength,
		RateLimit:            cfg.Queue.RateLimit,
		RateLimitBurst:       cfg.Queue.RateLimitBurst,
		Logger:               logger,
	})
}
