// Package config provides configuration management for the harvester.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/harvester/pkg/logging"
	"github.com/Sternrassler/harvester/pkg/pagination"
	"github.com/Sternrassler/harvester/pkg/throttle"
	"github.com/Sternrassler/harvester/pkg/transport"
)

const redactedValue = "***REDACTED***"

// ThrottleConfig holds the leaky-bucket parameters.
type ThrottleConfig struct {
	MaxCostPoints     float64       `env:"HARVEST_MAX_COST_POINTS"     env-default:"1000" yaml:"maxCostPoints"`
	LeakRate          float64       `env:"HARVEST_LEAK_RATE"           env-default:"50"   yaml:"leakRate"`
	FallbackDelay     time.Duration `env:"HARVEST_FALLBACK_DELAY"      env-default:"1s"   yaml:"fallbackDelay"`
	RequestsPerSecond float64       `env:"HARVEST_REQUESTS_PER_SECOND" env-default:"0"    yaml:"requestsPerSecond"`
}

// ErrorLogConfig holds where application errors are persisted.
type ErrorLogConfig struct {
	Path      string `env:"HARVEST_ERROR_LOG"      env-default:"data/error.log"    yaml:"path"`
	RedisAddr string `env:"HARVEST_REDIS_ADDR"     env-default:""                  yaml:"redisAddr"`
	RedisKey  string `env:"HARVEST_REDIS_KEY"      env-default:"harvest:error_log" yaml:"redisKey"`
}

// Config holds the application configuration.
type Config struct {
	StoreName   string         `env:"SHOPIFY_STORENAME"          env-default:""        yaml:"storeName"`
	AccessToken string         `env:"SHOPIFY_STORE_API_PASSWORD" env-default:""        yaml:"accessToken"`
	APIVersion  string         `env:"SHOPIFY_API_VERSION"        env-default:"2024-01" yaml:"apiVersion"`
	BaseURL     string         `env:"HARVEST_BASE_URL"           env-default:""        yaml:"baseURL"`
	MaxRetries  int            `env:"HARVEST_MAX_RETRIES"        env-default:"5"       yaml:"maxRetries"`
	MaxPages    int            `env:"HARVEST_MAX_PAGES"          env-default:"10000"   yaml:"maxPages"`
	Concurrency int            `env:"HARVEST_CONCURRENCY"        env-default:"1"       yaml:"concurrency"`
	Throttle    ThrottleConfig `yaml:"throttle"`
	ErrorLog    ErrorLogConfig `yaml:"errorLog"`
	LogLevel    string         `env:"HARVEST_LOG_LEVEL"          env-default:"info"    yaml:"logLevel"`
	LogPretty   bool           `env:"HARVEST_LOG_PRETTY"         env-default:"false"   yaml:"logPretty"`
	MetricsAddr string         `env:"HARVEST_METRICS_ADDR"       env-default:""        yaml:"metricsAddr"`
}

// NewConfigFromFile returns a new Config struct from the given file.
// Environment variables override values from the file.
func NewConfigFromFile(filePath string) (*Config, error) {
	var cfg Config
	err := cleanenv.ReadConfig(filePath, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from file %s: %w", filePath, err)
	}
	return &cfg, nil
}

// NewConfigFromEnv returns a new Config struct from the environment variables.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	err := cleanenv.ReadEnv(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.StoreName == "" && c.BaseURL == "" {
		result = multierror.Append(result, errors.New("store name (SHOPIFY_STORENAME) or base url (HARVEST_BASE_URL) is required"))
	}
	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("base url %q is not an absolute url", c.BaseURL))
		}
	}
	if c.AccessToken == "" {
		result = multierror.Append(result, errors.New("access token (SHOPIFY_STORE_API_PASSWORD) is required"))
	}
	if c.APIVersion == "" {
		result = multierror.Append(result, errors.New("api version (SHOPIFY_API_VERSION) is required"))
	}
	if c.MaxRetries < 1 {
		result = multierror.Append(result, fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.MaxPages < 0 {
		result = multierror.Append(result, fmt.Errorf("max pages must not be negative, got %d", c.MaxPages))
	}
	if c.Concurrency < 1 {
		result = multierror.Append(result, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Throttle.MaxCostPoints <= 0 {
		result = multierror.Append(result, fmt.Errorf("max cost points must be positive, got %v", c.Throttle.MaxCostPoints))
	}
	if c.Throttle.LeakRate <= 0 {
		result = multierror.Append(result, fmt.Errorf("leak rate must be positive, got %v", c.Throttle.LeakRate))
	}
	if c.Throttle.RequestsPerSecond < 0 {
		result = multierror.Append(result, fmt.Errorf("requests per second must not be negative, got %v", c.Throttle.RequestsPerSecond))
	}

	return result.ErrorOrNil()
}

// RetryConfig returns the transport retry settings.
func (c *Config) RetryConfig() transport.RetryConfig {
	cfg := transport.DefaultRetryConfig()
	cfg.MaxRetries = c.MaxRetries
	return cfg
}

// ThrottleConfig returns the throttle controller settings.
func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		MaxCostPoints:     c.Throttle.MaxCostPoints,
		LeakRate:          c.Throttle.LeakRate,
		FallbackDelay:     c.Throttle.FallbackDelay,
		RequestsPerSecond: c.Throttle.RequestsPerSecond,
	}
}

// PaginationConfig returns the pagination engine settings.
func (c *Config) PaginationConfig() pagination.Config {
	return pagination.Config{MaxPages: c.MaxPages}
}

// LoggingConfig returns the logger settings writing to out.
func (c *Config) LoggingConfig(out io.Writer) logging.Config {
	return logging.Config{
		Level:  logging.LogLevel(c.LogLevel),
		Pretty: c.LogPretty,
		Output: out,
	}
}

// Redacted returns a YAML representation of the config with sensitive fields redacted.
func (c *Config) Redacted() string {
	redacted := *c
	if redacted.AccessToken != "" {
		redacted.AccessToken = redactedValue
	}
	cyaml, err := yaml.Marshal(redacted)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return string(cyaml)
}

// Usage prints the usage of the config.
func (c *Config) Usage() {
	f := cleanenv.Usage(c, nil)
	f()
}
