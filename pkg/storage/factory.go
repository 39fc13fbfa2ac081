package storage

import (
	"fmt"
)

// ProviderType represents the type of storage provider
type ProviderType string

const (
	// MemoryProviderType is an in-memory storage provider
	MemoryProviderType ProviderType = "memory"

	// PostgresProviderType is a PostgreSQL storage provider
	PostgresProviderType ProviderType = "postgres"
)

// ProviderConfig contains configuration for storage providers
type ProviderConfig struct {
	// Type is the type of storage provider to create
	Type ProviderType `json:"type"`

	// Postgres contains configuration for the PostgreSQL provider
	Postgres *PostgresProviderConfig `json:"postgres,omitempty"`
}

// NewProvider creates a new storage provider based on the configuration
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case MemoryProviderType, "":
		return NewMemoryProvider(), nil

	case PostgresProviderType:
		if config.Postgres == nil {
			return nil, fmt.Errorf("postgres configuration is required for postgres provider")
		}
		return NewPostgresProvider(*config.Postgres)

	default:
		return nil, fmt.Errorf("unknown provider type: %s", config.Type)
	}
}
