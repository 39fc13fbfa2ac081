package cache

import (
	"strings"
	"sync"
	"time"
)

// MemoryStore implements the Store interface with an in-process map.
// Entries are advisory and rebuildable from the persisted store, so the
// store is shared freely within one process.
type MemoryStore struct {
	entries map[string]storedEntry
	mu      sync.Mutex
	now     func() time.Time
}

// storedEntry pairs an entry with its computed expiry deadline
type storedEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory schema cache store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]storedEntry),
		now:     time.Now,
	}
}

// Get returns the entry for the key, evicting it first if it has expired
func (s *MemoryStore) Get(key Key) (Entry, bool, error) {
	if err := key.Validate(); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[key.String()]
	if !ok {
		return Entry{}, false, nil
	}

	if s.now().After(stored.expiresAt) {
		// Expired entries are evicted as a side effect of the read
		delete(s.entries, key.String())
		return Entry{}, false, nil
	}

	return stored.entry, true, nil
}

// GetWithFallback retries a miss under the default sheet name
func (s *MemoryStore) GetWithFallback(key Key) (Entry, bool, error) {
	entry, found, err := s.Get(key)
	if err != nil || found {
		return entry, found, err
	}
	if key.SheetName == DefaultSheetName {
		return Entry{}, false, nil
	}
	return s.Get(key.WithSheet(DefaultSheetName))
}

// Set writes an entry under the key with a tiered TTL
func (s *MemoryStore) Set(key Key, entry Entry, ttlOverride ...time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry.Timestamp = now
	entry.SheetName = key.SheetName
	ttl := EffectiveTTL(entry, ttlOverride...)

	s.entries[key.String()] = storedEntry{
		entry:     entry,
		expiresAt: now.Add(ttl),
	}

	// Shadow copy under the default sheet, so consumers that do not yet
	// know the real sheet name can still resolve the schema
	if key.SheetName != DefaultSheetName {
		shadowKey := key.WithSheet(DefaultSheetName)
		if existing, ok := s.entries[shadowKey.String()]; !ok || now.After(existing.expiresAt) {
			shadow := entry
			shadow.SheetName = DefaultSheetName
			s.entries[shadowKey.String()] = storedEntry{
				entry:     shadow,
				expiresAt: now.Add(ttl),
			}
		}
	}

	return nil
}

// Delete removes the entry for the key
func (s *MemoryStore) Delete(key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
	return nil
}

// DeleteWorkflow removes every entry belonging to the workflow
func (s *MemoryStore) DeleteWorkflow(workflowID string) (int, error) {
	prefix := workflowPrefix(workflowID)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Clear removes all entries
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]storedEntry)
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the current number of live entries (expired entries that
// have not been read yet still count)
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
