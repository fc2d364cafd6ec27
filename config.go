package docstore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Configuration defaults
const (
	DefaultURI                    = "mongodb://localhost:27017"
	DefaultDatabase               = "task_management"
	DefaultConnectTimeout         = 10 * time.Second
	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultMaxPoolSize            = 100

	// Retry configuration
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultJitter     = 0.1 // delays vary within [0.9, 1.1] of the nominal backoff
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Config holds the connection settings for a Manager.
type Config struct {
	URI                    string        `yaml:"uri" validate:"required,startswith=mongodb://|startswith=mongodb+srv://"`
	Database               string        `yaml:"database" validate:"required,excludesall=/. $"`
	AppName                string        `yaml:"app_name"`
	ConnectTimeout         time.Duration `yaml:"connect_timeout" validate:"gte=0"`
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout" validate:"gte=0"`
	MaxPoolSize            uint64        `yaml:"max_pool_size"`
	MinPoolSize            uint64        `yaml:"min_pool_size"`
	MaxRetries             int           `yaml:"max_retries" validate:"gte=0"`
	RetryBaseDelay         time.Duration `yaml:"retry_base_delay" validate:"gt=0"`
}

// DefaultConfig returns a configuration pointing at a local MongoDB.
func DefaultConfig() Config {
	return Config{
		URI:                    DefaultURI,
		Database:               DefaultDatabase,
		ConnectTimeout:         DefaultConnectTimeout,
		ServerSelectionTimeout: DefaultServerSelectionTimeout,
		MaxPoolSize:            DefaultMaxPoolSize,
		MaxRetries:             DefaultMaxRetries,
		RetryBaseDelay:         DefaultBaseDelay,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by environment variables.
//
// Environment variables read:
//   - MONGODB_URI
//   - MONGODB_DATABASE
//   - MONGODB_APP_NAME
//   - MONGODB_CONNECT_TIMEOUT (duration, e.g. "10s")
//   - MONGODB_SERVER_SELECTION_TIMEOUT (duration)
//   - MONGODB_MAX_POOL_SIZE
//   - MONGODB_MIN_POOL_SIZE
//   - MONGODB_MAX_RETRIES
//   - MONGODB_RETRY_BASE_DELAY (duration)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfig builds a configuration from defaults, then the YAML file at
// path (skipped when path is empty), then environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, WithContext(ErrInvalidConfig, map[string]interface{}{
				"path":   path,
				"reason": err.Error(),
			})
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.URI = getEnv("MONGODB_URI", c.URI)
	c.Database = getEnv("MONGODB_DATABASE", c.Database)
	c.AppName = getEnv("MONGODB_APP_NAME", c.AppName)
	c.ConnectTimeout = getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.ServerSelectionTimeout = getEnvAsDuration("MONGODB_SERVER_SELECTION_TIMEOUT", c.ServerSelectionTimeout)
	c.MaxPoolSize = getEnvAsUint64("MONGODB_MAX_POOL_SIZE", c.MaxPoolSize)
	c.MinPoolSize = getEnvAsUint64("MONGODB_MIN_POOL_SIZE", c.MinPoolSize)
	c.MaxRetries = getEnvAsInt("MONGODB_MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getEnvAsDuration("MONGODB_RETRY_BASE_DELAY", c.RetryBaseDelay)
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  fe.Field(),
				"value":  fe.Value(),
				"reason": fe.Tag(),
			})
		}
		return WithContext(ErrInvalidConfig, map[string]interface{}{"reason": err.Error()})
	}
	if c.MaxPoolSize > 0 && c.MinPoolSize > c.MaxPoolSize {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MinPoolSize",
			"value":  c.MinPoolSize,
			"reason": "must not exceed MaxPoolSize",
		})
	}
	return nil
}

// RetryPolicy returns the default retry policy adjusted to this configuration.
func (c Config) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = c.MaxRetries
	if c.RetryBaseDelay > 0 {
		policy.BaseDelay = c.RetryBaseDelay
	}
	return policy
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// getEnvAsUint64 reads a non-negative integer environment variable. Negative
// or malformed values keep the default.
func getEnvAsUint64(key string, defaultVal uint64) uint64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultVal
	}
	return value
}

// getEnvAsInt reads an integer environment variable with a default fallback.
func getEnvAsInt(key string, defaultVal int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultVal
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultVal
	}

	return value
}
