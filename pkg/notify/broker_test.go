package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
)

func TestBrokerFanOut(t *testing.T) {
	broker := NewBroker(logging.NewNopLogger())
	defer broker.Close()

	first, cancelFirst := broker.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := broker.Subscribe(4)
	defer cancelSecond()

	broker.Publish(RowChangeEvent{WorkflowID: "wf1", NodeID: "n1", Columns: []string{"a"}})

	assert.Equal(t, "n1", (<-first).NodeID)
	assert.Equal(t, "n1", (<-second).NodeID)
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	broker := NewBroker(logging.NewNopLogger())
	defer broker.Close()

	events, cancel := broker.Subscribe(1)
	defer cancel()

	// Second publish overflows the buffer and must not block
	broker.Publish(RowChangeEvent{NodeID: "first"})
	broker.Publish(RowChangeEvent{NodeID: "second"})

	assert.Equal(t, "first", (<-events).NodeID)
	select {
	case event := <-events:
		t.Fatalf("unexpected event %q", event.NodeID)
	default:
	}
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	broker := NewBroker(logging.NewNopLogger())
	defer broker.Close()

	events, cancel := broker.Subscribe(4)
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel must not panic
	broker.Publish(RowChangeEvent{NodeID: "late"})
}

func TestCacheSubscriberWarmsCache(t *testing.T) {
	store, err := cache.NewStore(cache.BackendConfig{Type: cache.MemoryBackendType})
	require.NoError(t, err)

	broker := NewBroker(logging.NewNopLogger())
	defer broker.Close()

	events, cancel := broker.Subscribe(4)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go NewCacheSubscriber(store, logging.NewNopLogger()).Run(ctx, events)

	broker.Publish(RowChangeEvent{
		WorkflowID: "wf1",
		NodeID:     "source",
		SheetName:  "orders",
		FileID:     "uploads/orders.csv",
		Columns:    []string{"id", "total"},
		DataTypes:  map[string]string{"id": "number", "total": "number"},
	})

	require.Eventually(t, func() bool {
		_, ok, err := store.Get(cache.NewKey("wf1", "source", "orders"))
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)

	entry, ok, err := store.Get(cache.NewKey("wf1", "source", "orders"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.SourceSubscription, entry.Source)
	assert.ElementsMatch(t, []string{"id", "total"}, entry.Schema.Names())
	assert.Equal(t, "uploads/orders.csv", entry.FileID)
}

func TestCacheSubscriberIgnoresEmptyColumns(t *testing.T) {
	store, err := cache.NewStore(cache.BackendConfig{Type: cache.MemoryBackendType})
	require.NoError(t, err)

	subscriber := NewCacheSubscriber(store, logging.NewNopLogger())
	subscriber.apply(RowChangeEvent{WorkflowID: "wf1", NodeID: "n1"})

	_, ok, err := store.Get(cache.NewKey("wf1", "n1", ""))
	require.NoError(t, err)
	assert.False(t, ok)
}
