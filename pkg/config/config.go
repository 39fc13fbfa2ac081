// Package config loads service configuration from a JSON file with
// environment variable overrides for deployment secrets.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// ServerConfig contains the HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`
}

// Address returns the host:port bind address
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	// Type is the provider to use: memory or postgres
	Type storage.ProviderType `json:"type"`

	// Postgres settings, required when Type is postgres
	Postgres *storage.PostgresProviderConfig `json:"postgres,omitempty"`

	// Objects selects the uploaded-file object store
	Objects ObjectStoreConfig `json:"objects"`
}

// ObjectStoreConfig selects the object store backend
type ObjectStoreConfig struct {
	// Type is memory or s3
	Type string `json:"type"`

	// S3 settings, required when Type is s3
	S3 *storage.S3ObjectStoreConfig `json:"s3,omitempty"`
}

// SchedulerConfig contains step scheduler settings
type SchedulerConfig struct {
	// Workers is the number of queue consumers
	Workers int `json:"workers"`

	// QueueSize is the work queue capacity
	QueueSize int `json:"queue_size"`

	// StepTimeoutSeconds bounds one handler invocation
	StepTimeoutSeconds int `json:"step_timeout_seconds"`
}

// StepTimeout returns the step timeout as a duration
func (c SchedulerConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// AIConfig contains AI assistant settings
type AIConfig struct {
	// Endpoint is the base URL of the assistant service; empty disables
	// the ai.query node type
	Endpoint string `json:"endpoint"`

	// APIKey authenticates assistant requests
	APIKey string `json:"api_key,omitempty"`

	// QueryTimeoutSeconds bounds one assistant query
	QueryTimeoutSeconds int `json:"query_timeout_seconds"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	// Level is debug, info, warn, or error
	Level string `json:"level"`

	// Format is json or console
	Format string `json:"format"`
}

// RefreshConfig contains the background schema refresher settings
type RefreshConfig struct {
	// Enabled turns the polling refresher on
	Enabled bool `json:"enabled"`

	// Schedule is a cron expression for refresh runs
	Schedule string `json:"schedule"`
}

// Config is the top-level service configuration
type Config struct {
	Server    ServerConfig        `json:"server"`
	Storage   StorageConfig       `json:"storage"`
	Cache     cache.BackendConfig `json:"cache"`
	Scheduler SchedulerConfig     `json:"scheduler"`
	AI        AIConfig            `json:"ai"`
	Logging   LoggingConfig       `json:"logging"`
	Refresh   RefreshConfig       `json:"refresh"`
}

// DefaultConfig returns a configuration suitable for local development
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type:    storage.MemoryProviderType,
			Objects: ObjectStoreConfig{Type: "memory"},
		},
		Cache: cache.BackendConfig{
			Type: cache.MemoryBackendType,
		},
		Scheduler: SchedulerConfig{
			Workers:            4,
			QueueSize:          256,
			StepTimeoutSeconds: 60,
		},
		AI: AIConfig{
			QueryTimeoutSeconds: 45,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Refresh: RefreshConfig{
			Schedule: "@every 10m",
		},
	}
}

// LoadFromFile reads configuration from a JSON file over the defaults,
// then applies environment overrides
func LoadFromFile(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadFromEnv builds configuration from defaults plus environment
// overrides, for deployments without a config file
func LoadFromEnv() (Config, error) {
	config := DefaultConfig()
	config.applyEnvOverrides()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// applyEnvOverrides pulls deployment secrets from the environment so
// they never live in the config file
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("SHEETFLOW_POSTGRES_HOST"); host != "" {
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &storage.PostgresProviderConfig{}
		}
		c.Storage.Postgres.Host = host
		c.Storage.Type = storage.PostgresProviderType
	}
	if password := os.Getenv("SHEETFLOW_POSTGRES_PASSWORD"); password != "" {
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &storage.PostgresProviderConfig{}
		}
		c.Storage.Postgres.Password = password
	}
	if addr := os.Getenv("SHEETFLOW_REDIS_ADDR"); addr != "" {
		if c.Cache.Redis == nil {
			c.Cache.Redis = &cache.RedisConfig{}
		}
		c.Cache.Redis.Addr = addr
		c.Cache.Type = cache.RedisBackendType
	}
	if password := os.Getenv("SHEETFLOW_REDIS_PASSWORD"); password != "" {
		if c.Cache.Redis == nil {
			c.Cache.Redis = &cache.RedisConfig{}
		}
		c.Cache.Redis.Password = password
	}
	if key := os.Getenv("SHEETFLOW_AI_API_KEY"); key != "" {
		c.AI.APIKey = key
	}
	if endpoint := os.Getenv("SHEETFLOW_AI_ENDPOINT"); endpoint != "" {
		c.AI.Endpoint = endpoint
	}
}

// Validate checks for configuration combinations that cannot work
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Storage.Type == storage.PostgresProviderType && c.Storage.Postgres == nil {
		return fmt.Errorf("postgres storage requires a postgres configuration block")
	}
	if c.Cache.Type == cache.RedisBackendType && c.Cache.Redis == nil {
		return fmt.Errorf("redis cache requires a redis configuration block")
	}
	if c.Storage.Objects.Type == "s3" && c.Storage.Objects.S3 == nil {
		return fmt.Errorf("s3 object storage requires an s3 configuration block")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be positive")
	}
	return nil
}
