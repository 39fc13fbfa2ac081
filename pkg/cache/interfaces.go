package cache

import "time"

// Store is the schema cache contract. A miss is never an error; the only
// error any method returns for a well-formed call is ErrInvalidKey.
type Store interface {
	// Get returns the entry for the key, or found=false on a miss.
	// An expired entry is evicted as a side effect of the read.
	Get(key Key) (Entry, bool, error)

	// GetWithFallback behaves like Get but retries under the default
	// sheet name when an explicit-sheet lookup misses
	GetWithFallback(key Key) (Entry, bool, error)

	// Set writes an entry under the key, stamping its timestamp. The TTL
	// is tiered by source unless an override is given. Writing with a
	// non-default sheet name also writes a shadow copy under the default
	// sheet when no shadow exists yet.
	Set(key Key, entry Entry, ttlOverride ...time.Duration) error

	// Delete removes the entry for the key, if present
	Delete(key Key) error

	// DeleteWorkflow removes every entry of a workflow and returns the
	// number of entries removed
	DeleteWorkflow(workflowID string) (int, error)

	// Clear removes all entries
	Clear() error

	// Close releases backend resources
	Close() error
}
