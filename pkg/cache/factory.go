package cache

import "fmt"

// BackendType represents the type of cache backend
type BackendType string

const (
	// MemoryBackendType is the default in-process cache backend
	MemoryBackendType BackendType = "memory"

	// RedisBackendType is a Redis-backed cache backend
	RedisBackendType BackendType = "redis"
)

// BackendConfig contains configuration for cache backends
type BackendConfig struct {
	// Type is the backend to create
	Type BackendType `json:"type"`

	// Redis contains configuration for the Redis backend
	Redis *RedisConfig `json:"redis,omitempty"`
}

// NewStore creates a schema cache store based on the configuration
func NewStore(config BackendConfig) (Store, error) {
	switch config.Type {
	case MemoryBackendType, "":
		return NewMemoryStore(), nil

	case RedisBackendType:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis configuration is required for redis backend")
		}
		return NewRedisStore(*config.Redis)

	default:
		return nil, fmt.Errorf("unknown cache backend type: %s", config.Type)
	}
}
