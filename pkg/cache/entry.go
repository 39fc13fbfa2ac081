package cache

import (
	"time"

	"github.com/tcmartin/sheetflow/pkg/schema"
)

// Source describes where a cached schema came from. It determines the
// entry's default TTL tier.
type Source string

const (
	// SourceManual is a schema entered or confirmed by the user
	SourceManual Source = "manual"

	// SourceDatabase is a schema read back from the persisted store
	SourceDatabase Source = "database"

	// SourcePropagation is a schema copied from an upstream node
	SourcePropagation Source = "propagation"

	// SourceSubscription is a schema derived from a change-notification event
	SourceSubscription Source = "subscription"

	// SourcePolling is a schema picked up by the background refresher
	SourcePolling Source = "polling"

	// SourceRefresh is a schema re-derived during an automatic refresh
	SourceRefresh Source = "refresh"

	// SourceManualRefresh is a schema re-derived at the user's request
	SourceManualRefresh Source = "manual_refresh"
)

// Canonical TTL tiers. Subscription/polling entries reflect live data and
// are trusted longest; propagated copies age out fastest. Temporary
// entries are capped regardless of source.
const (
	// TTLTrusted applies to database, manual and refresh sources
	TTLTrusted = 30 * time.Minute

	// TTLLive applies to subscription and polling sources
	TTLLive = time.Hour

	// TTLPropagation applies to propagated copies
	TTLPropagation = 10 * time.Minute

	// TTLTemporary caps entries marked temporary
	TTLTemporary = time.Minute
)

// Entry is one cached schema for a (workflow, node, sheet) key
type Entry struct {
	// Schema is the ordered column schema
	Schema schema.Schema `json:"schema"`

	// Timestamp is the write time of the entry, stamped by the store
	Timestamp time.Time `json:"timestamp"`

	// SheetName the schema is scoped to
	SheetName string `json:"sheet_name,omitempty"`

	// Source of the schema
	Source Source `json:"source"`

	// Version is an optional monotonic schema version
	Version int `json:"version,omitempty"`

	// IsTemporary marks short-lived entries (e.g. unsaved workflows)
	IsTemporary bool `json:"is_temporary,omitempty"`

	// FileID is the uploaded file the schema was derived from, if any
	FileID string `json:"file_id,omitempty"`
}

// EffectiveTTL returns the TTL tier for the entry, honoring the temporary
// cap and an optional override
func EffectiveTTL(entry Entry, override ...time.Duration) time.Duration {
	ttl := ttlForSource(entry.Source)
	if len(override) > 0 && override[0] > 0 {
		ttl = override[0]
	}
	if entry.IsTemporary && ttl > TTLTemporary {
		ttl = TTLTemporary
	}
	return ttl
}

func ttlForSource(source Source) time.Duration {
	switch source {
	case SourceSubscription, SourcePolling:
		return TTLLive
	case SourceDatabase, SourceManual, SourceRefresh, SourceManualRefresh:
		return TTLTrusted
	case SourcePropagation:
		return TTLPropagation
	default:
		return TTLPropagation
	}
}
