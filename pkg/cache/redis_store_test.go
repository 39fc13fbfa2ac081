package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestRedisStore_SetGet(t *testing.T) {
	store, _ := newRedisTestStore(t)
	key := NewKey("wf-1", "node-1", "Sheet1")

	err := store.Set(key, Entry{Schema: testSchema("name", "age"), Source: SourceManual})
	require.NoError(t, err)

	entry, found, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"name", "age"}, entry.Schema.Names())
	assert.Equal(t, "Sheet1", entry.SheetName)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr := newRedisTestStore(t)
	key := NewKey("wf-1", "node-1", "")

	require.NoError(t, store.Set(key, Entry{Schema: testSchema("a"), Source: SourcePropagation}))

	mr.FastForward(TTLPropagation + time.Second)

	_, found, err := store.Get(key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_TemporaryCap(t *testing.T) {
	store, mr := newRedisTestStore(t)
	key := NewKey("wf-1", "node-1", "")

	require.NoError(t, store.Set(key, Entry{
		Schema:      testSchema("a"),
		Source:      SourceSubscription,
		IsTemporary: true,
	}))

	mr.FastForward(TTLTemporary + time.Second)

	_, found, err := store.Get(key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStore_DefaultSheetShadow(t *testing.T) {
	store, _ := newRedisTestStore(t)

	require.NoError(t, store.Set(NewKey("wf-1", "node-1", "Sheet1"), Entry{
		Schema: testSchema("name"),
		Source: SourceManual,
	}))

	t.Run("shadow exists", func(t *testing.T) {
		entry, found, err := store.Get(NewKey("wf-1", "node-1", DefaultSheetName))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, DefaultSheetName, entry.SheetName)
	})

	t.Run("shadow is not replaced", func(t *testing.T) {
		require.NoError(t, store.Set(NewKey("wf-1", "node-1", "Sheet2"), Entry{
			Schema: testSchema("other"),
			Source: SourceManual,
		}))

		entry, found, err := store.Get(NewKey("wf-1", "node-1", DefaultSheetName))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []string{"name"}, entry.Schema.Names())
	})
}

func TestRedisStore_DeleteWorkflow(t *testing.T) {
	store, _ := newRedisTestStore(t)

	require.NoError(t, store.Set(NewKey("wf-1", "node-1", ""), Entry{Schema: testSchema("a"), Source: SourceManual}))
	require.NoError(t, store.Set(NewKey("wf-1", "node-2", ""), Entry{Schema: testSchema("b"), Source: SourceManual}))
	require.NoError(t, store.Set(NewKey("wf-2", "node-1", ""), Entry{Schema: testSchema("c"), Source: SourceManual}))

	removed, err := store.DeleteWorkflow("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, found, err := store.Get(NewKey("wf-2", "node-1", ""))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRedisStore_TemporaryWorkflowNormalization(t *testing.T) {
	store, _ := newRedisTestStore(t)

	require.NoError(t, store.Set(NewKey(TemporaryWorkflowPrefix+"wf-9", "node-1", ""), Entry{
		Schema: testSchema("name"),
		Source: SourceManual,
	}))

	_, found, err := store.Get(NewKey("wf-9", "node-1", ""))
	require.NoError(t, err)
	assert.True(t, found)
}
