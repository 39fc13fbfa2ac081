package notify

import (
	"context"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/schema"
)

// CacheSubscriber keeps the schema cache warm from row-change events so
// reads after an ingest see the new shape without waiting for the next
// execution.
type CacheSubscriber struct {
	store  cache.Store
	logger logging.Logger
}

// NewCacheSubscriber creates a cache-warming subscriber
func NewCacheSubscriber(store cache.Store, logger logging.Logger) *CacheSubscriber {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &CacheSubscriber{
		store:  store,
		logger: logger,
	}
}

// Run consumes events until the context is cancelled or the broker closes
// the subscription
func (s *CacheSubscriber) Run(ctx context.Context, events <-chan RowChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.apply(event)
		}
	}
}

// apply writes one event's schema into the cache
func (s *CacheSubscriber) apply(event RowChangeEvent) {
	if len(event.Columns) == 0 {
		return
	}

	key := cache.NewKey(event.WorkflowID, event.NodeID, event.SheetName)
	if err := key.Validate(); err != nil {
		s.logger.Warn("row change event with invalid key dropped",
			logging.F("workflow_id", event.WorkflowID),
			logging.F("node_id", event.NodeID))
		return
	}

	err := s.store.Set(key, cache.Entry{
		Schema:    schema.FromRecord(event.Columns, event.DataTypes),
		SheetName: event.SheetName,
		Source:    cache.SourceSubscription,
		FileID:    event.FileID,
	})
	if err != nil {
		s.logger.Warn("failed to apply row change event to cache",
			logging.F("node_id", event.NodeID), logging.Err(err))
		return
	}

	s.logger.Debug("schema cache updated from row change event",
		logging.F("workflow_id", event.WorkflowID),
		logging.F("node_id", event.NodeID),
		logging.F("columns", len(event.Columns)))
}
