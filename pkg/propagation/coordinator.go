// Package propagation decides whether re-sending a schema from an upstream
// node to a downstream node is useful, and remembers that it happened.
package propagation

import (
	"sync"
	"time"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/schema"
)

const (
	// DefaultMaxAge is the default dedup window
	DefaultMaxAge = 30 * time.Second

	// DefaultDebounceInterval is the minimum interval between committed
	// records for one (workflow, source, target, sheet) key
	DefaultDebounceInterval = 2 * time.Second
)

// Record is one remembered propagation. It is advisory only and never
// authoritative schema state.
type Record struct {
	// SourceNodeID is the upstream node
	SourceNodeID string `json:"source_node_id"`

	// TargetNodeID is the downstream node
	TargetNodeID string `json:"target_node_id"`

	// SheetName the propagation was scoped to
	SheetName string `json:"sheet_name"`

	// Timestamp is when the record was committed
	Timestamp time.Time `json:"timestamp"`

	// DataHash is the order-insensitive column-name hash, if a schema
	// was supplied
	DataHash string `json:"data_hash,omitempty"`

	// Version is the schema version, if known
	Version int `json:"version,omitempty"`
}

// TrackOptions configures Track
type TrackOptions struct {
	// Sheet scopes the record; empty means the default sheet
	Sheet string

	// Version is the schema version, if known
	Version int

	// Schema enables content hashing for same-content suppression
	Schema schema.Schema

	// Debounce defers the record write behind a timer; a later call
	// within the window replaces the pending write instead of stacking
	Debounce bool
}

// CheckOptions configures WasRecentlyPropagated
type CheckOptions struct {
	// Sheet scopes the lookup; empty means the default sheet
	Sheet string

	// MaxAge is the dedup window, defaulting to DefaultMaxAge
	MaxAge time.Duration

	// Schema enables same-content suppression within 2x MaxAge
	Schema schema.Schema
}

// Coordinator tracks successful propagations and suppresses repeats.
// It only observes; it never transitions step or schema state itself.
type Coordinator struct {
	records map[string]Record
	pending map[string]*pendingTrack
	mu      sync.Mutex

	logger           logging.Logger
	now              func() time.Time
	debounceInterval time.Duration
}

// pendingTrack is a deferred record write behind a debounce timer
type pendingTrack struct {
	record Record
	timer  *time.Timer
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithDebounceInterval overrides the debounce interval (tests)
func WithDebounceInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.debounceInterval = d
		}
	}
}

// NewCoordinator creates a propagation coordinator
func NewCoordinator(logger logging.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Coordinator{
		records:          make(map[string]Record),
		pending:          make(map[string]*pendingTrack),
		logger:           logger,
		now:              time.Now,
		debounceInterval: DefaultDebounceInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// recordKey builds the composite dedup key. The workflow ID is normalized
// so temporary and persisted identities share propagation state.
func recordKey(workflowID, sourceID, targetID, sheet string) string {
	if sheet == "" {
		sheet = cache.DefaultSheetName
	}
	return cache.NormalizeWorkflowID(workflowID) + ":" + sourceID + ":" + targetID + ":" + sheet
}

// Track records a successful propagation, immediately or behind a
// debounce timer
func (c *Coordinator) Track(workflowID, sourceID, targetID string, opts TrackOptions) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = cache.DefaultSheetName
	}

	record := Record{
		SourceNodeID: sourceID,
		TargetNodeID: targetID,
		SheetName:    sheet,
		Version:      opts.Version,
	}
	if len(opts.Schema) > 0 {
		record.DataHash = opts.Schema.HashString()
	}

	key := recordKey(workflowID, sourceID, targetID, sheet)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !opts.Debounce {
		record.Timestamp = c.now()
		c.records[key] = record
		return
	}

	// A later debounced call within the window replaces the pending
	// write rather than stacking timers
	if existing, ok := c.pending[key]; ok {
		existing.timer.Stop()
	}

	pt := &pendingTrack{record: record}
	pt.timer = time.AfterFunc(c.debounceInterval, func() {
		c.commit(key, record)
	})
	c.pending[key] = pt
}

// commit writes a deferred record once its debounce timer fires
func (c *Coordinator) commit(key string, record Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, key)
	record.Timestamp = c.now()
	c.records[key] = record

	c.logger.Debug("propagation recorded",
		logging.F("source", record.SourceNodeID),
		logging.F("target", record.TargetNodeID),
		logging.F("sheet", record.SheetName))
}

// WasRecentlyPropagated reports whether propagating again right now would
// be redundant: a debounced write is in flight, a record exists within
// MaxAge, or a record with the same column-name hash exists within 2x
// MaxAge.
func (c *Coordinator) WasRecentlyPropagated(workflowID, sourceID, targetID string, opts CheckOptions) bool {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	key := recordKey(workflowID, sourceID, targetID, opts.Sheet)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		// A deferred write counts as in flight
		return true
	}

	record, ok := c.records[key]
	if !ok {
		return false
	}

	age := c.now().Sub(record.Timestamp)
	if age <= maxAge {
		c.logger.Debug("propagation suppressed within age window",
			logging.F("source", sourceID), logging.F("target", targetID))
		return true
	}

	if len(opts.Schema) > 0 && record.DataHash != "" &&
		record.DataHash == opts.Schema.HashString() && age <= 2*maxAge {
		c.logger.Debug("propagation suppressed by content hash",
			logging.F("source", sourceID), logging.F("target", targetID))
		return true
	}

	return false
}

// ClearWorkflow drops records and pending writes for a workflow
func (c *Coordinator) ClearWorkflow(workflowID string) {
	prefix := cache.NormalizeWorkflowID(workflowID) + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.records {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.records, key)
		}
	}
	for key, pt := range c.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			pt.timer.Stop()
			delete(c.pending, key)
		}
	}
}

// Close cancels all pending debounce timers without committing them
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, pt := range c.pending {
		pt.timer.Stop()
		delete(c.pending, key)
	}
}

// recordCount returns the number of committed records (tests)
func (c *Coordinator) recordCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.records)
}

// pendingCount returns the number of deferred writes (tests)
func (c *Coordinator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}
