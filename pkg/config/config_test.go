package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "localhost:8080", config.Server.Address())
	assert.Equal(t, storage.MemoryProviderType, config.Storage.Type)
	assert.Equal(t, cache.MemoryBackendType, config.Cache.Type)
	assert.Equal(t, 4, config.Scheduler.Workers)
	assert.Equal(t, int64(60), int64(config.Scheduler.StepTimeout().Seconds()))
	require.NoError(t, config.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"host": "0.0.0.0", "port": 9090},
		"scheduler": {"workers": 8, "queue_size": 512, "step_timeout_seconds": 30},
		"logging": {"level": "debug", "format": "console"}
	}`), 0o644))

	config, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", config.Server.Address())
	assert.Equal(t, 8, config.Scheduler.Workers)
	assert.Equal(t, "debug", config.Logging.Level)

	// Unspecified sections keep their defaults
	assert.Equal(t, storage.MemoryProviderType, config.Storage.Type)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHEETFLOW_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("SHEETFLOW_AI_API_KEY", "secret")

	config, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, cache.RedisBackendType, config.Cache.Type)
	require.NotNil(t, config.Cache.Redis)
	assert.Equal(t, "redis.internal:6379", config.Cache.Redis.Addr)
	assert.Equal(t, "secret", config.AI.APIKey)
}

func TestValidateRejections(t *testing.T) {
	badPort := DefaultConfig()
	badPort.Server.Port = -1
	require.Error(t, badPort.Validate())

	pgWithoutBlock := DefaultConfig()
	pgWithoutBlock.Storage.Type = storage.PostgresProviderType
	require.Error(t, pgWithoutBlock.Validate())

	redisWithoutBlock := DefaultConfig()
	redisWithoutBlock.Cache.Type = cache.RedisBackendType
	require.Error(t, redisWithoutBlock.Validate())

	noWorkers := DefaultConfig()
	noWorkers.Scheduler.Workers = 0
	require.Error(t, noWorkers.Validate())
}
