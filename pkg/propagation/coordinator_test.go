package propagation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/schema"
)

func cols(names ...string) schema.Schema {
	s := make(schema.Schema, 0, len(names))
	for _, name := range names {
		s = append(s, schema.Column{Name: name, Type: schema.TypeString})
	}
	return s
}

func TestCoordinator_DedupWithinWindow(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	c.Track("wf-1", "A", "B", TrackOptions{Schema: cols("age", "name")})

	t.Run("same key within window", func(t *testing.T) {
		assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
	})

	t.Run("different target", func(t *testing.T) {
		assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "C", CheckOptions{}))
	})

	t.Run("different sheet", func(t *testing.T) {
		assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{Sheet: "Sheet2"}))
	})
}

func TestCoordinator_OrderInsensitiveHashMatch(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	// Scenario: track with one column order, check with another
	c.Track("wf-1", "A", "B", TrackOptions{Schema: cols("age", "name")})

	assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{
		Schema: cols("name", "age"),
	}))
}

func TestCoordinator_TypeChangesDoNotRetrigger(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	c.Track("wf-1", "A", "B", TrackOptions{Schema: schema.Schema{
		{Name: "age", Type: schema.TypeString},
	}})

	// Same column name with a different inferred type still dedups
	assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{
		Schema: schema.Schema{{Name: "age", Type: schema.TypeNumber}},
	}))
}

func TestCoordinator_AgeWindows(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Track("wf-1", "A", "B", TrackOptions{Schema: cols("name")})

	t.Run("within max age", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(29 * time.Second) }
		assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
	})

	t.Run("past max age without schema", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(31 * time.Second) }
		assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
	})

	t.Run("past max age with matching hash", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(45 * time.Second) }
		assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{
			Schema: cols("name"),
		}))
	})

	t.Run("past twice max age", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(61 * time.Second) }
		assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{
			Schema: cols("name"),
		}))
	})

	t.Run("past max age with different hash", func(t *testing.T) {
		c.now = func() time.Time { return base.Add(45 * time.Second) }
		assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{
			Schema: cols("name", "extra"),
		}))
	})
}

func TestCoordinator_DebounceCollapse(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger(), WithDebounceInterval(50*time.Millisecond))
	defer c.Close()

	// N rapid debounced calls collapse into one record
	for i := 0; i < 5; i++ {
		c.Track("wf-1", "A", "B", TrackOptions{Schema: cols("name"), Debounce: true})
	}

	assert.Equal(t, 1, c.pendingCount())
	assert.Equal(t, 0, c.recordCount())

	// The pending write counts as in flight
	assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))

	require.Eventually(t, func() bool {
		return c.recordCount() == 1 && c.pendingCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
}

func TestCoordinator_DebounceIndependentKeys(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger(), WithDebounceInterval(50*time.Millisecond))
	defer c.Close()

	c.Track("wf-1", "A", "B", TrackOptions{Debounce: true})
	c.Track("wf-1", "A", "C", TrackOptions{Debounce: true})

	assert.Equal(t, 2, c.pendingCount())

	require.Eventually(t, func() bool {
		return c.recordCount() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_CloseCancelsPending(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger(), WithDebounceInterval(50*time.Millisecond))

	c.Track("wf-1", "A", "B", TrackOptions{Debounce: true})
	c.Close()

	assert.Equal(t, 0, c.pendingCount())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, c.recordCount())
}

func TestCoordinator_TemporaryWorkflowNormalization(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	c.Track(cache.TemporaryWorkflowPrefix+"wf-1", "A", "B", TrackOptions{Schema: cols("name")})

	// The persisted identity shares the propagation record
	assert.True(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
}

func TestCoordinator_ClearWorkflow(t *testing.T) {
	c := NewCoordinator(logging.NewNopLogger())
	defer c.Close()

	c.Track("wf-1", "A", "B", TrackOptions{})
	c.Track("wf-2", "A", "B", TrackOptions{})

	c.ClearWorkflow("wf-1")

	assert.False(t, c.WasRecentlyPropagated("wf-1", "A", "B", CheckOptions{}))
	assert.True(t, c.WasRecentlyPropagated("wf-2", "A", "B", CheckOptions{}))
}
