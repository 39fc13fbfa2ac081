package propagation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

func TestRefresher_RepopulatesColdEntries(t *testing.T) {
	schemas := storage.NewMemorySchemaStore()
	cacheStore := cache.NewMemoryStore()

	require.NoError(t, schemas.UpsertNodeSchema(storage.NodeSchemaRecord{
		WorkflowID: "wf-1",
		NodeID:     "node-1",
		SheetName:  "Sheet1",
		Columns:    []string{"name", "age"},
		DataTypes:  map[string]string{"name": "string", "age": "number"},
		Version:    3,
	}))

	refresher := NewRefresher(schemas, cacheStore, logging.NewNopLogger())
	refresher.RefreshOnce()

	entry, found, err := cacheStore.Get(cache.NewKey("wf-1", "node-1", "Sheet1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cache.SourcePolling, entry.Source)
	assert.Equal(t, []string{"name", "age"}, entry.Schema.Names())
	assert.Equal(t, 3, entry.Version)
}

func TestRefresher_DoesNotOverwriteLiveEntries(t *testing.T) {
	schemas := storage.NewMemorySchemaStore()
	cacheStore := cache.NewMemoryStore()

	require.NoError(t, schemas.UpsertNodeSchema(storage.NodeSchemaRecord{
		WorkflowID: "wf-1",
		NodeID:     "node-1",
		Columns:    []string{"stale"},
	}))

	key := cache.NewKey("wf-1", "node-1", "")
	require.NoError(t, cacheStore.Set(key, cache.Entry{
		Schema: cols("fresh"),
		Source: cache.SourceManual,
	}))

	refresher := NewRefresher(schemas, cacheStore, logging.NewNopLogger())
	refresher.RefreshOnce()

	entry, found, err := cacheStore.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cache.SourceManual, entry.Source)
	assert.Equal(t, []string{"fresh"}, entry.Schema.Names())
}
