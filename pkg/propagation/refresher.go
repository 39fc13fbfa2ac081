package propagation

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/schema"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// Refresher periodically re-reads persisted node-sheet schema records and
// repopulates cold cache entries with a polling source, so downstream
// readiness checks do not depend on recent UI traffic.
type Refresher struct {
	schemas storage.SchemaStore
	cache   cache.Store
	logger  logging.Logger
	cron    *cron.Cron
}

// NewRefresher creates a polling refresher. The schedule uses cron syntax
// with seconds disabled, e.g. "@every 5m".
func NewRefresher(schemas storage.SchemaStore, cacheStore cache.Store, logger logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Refresher{
		schemas: schemas,
		cache:   cacheStore,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules the refresh job and starts the cron runner
func (r *Refresher) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, r.RefreshOnce); err != nil {
		return fmt.Errorf("failed to schedule refresh job: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for a running job to finish
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RefreshOnce performs a single polling pass. Only cold keys are written;
// a live cache entry is always at least as fresh as the persisted record.
func (r *Refresher) RefreshOnce() {
	records, err := r.schemas.ListAllNodeSchemas()
	if err != nil {
		r.logger.Warn("schema refresh pass failed", logging.Err(err))
		return
	}

	refreshed := 0
	for _, record := range records {
		key := cache.NewKey(record.WorkflowID, record.NodeID, record.SheetName)

		if _, found, err := r.cache.Get(key); err != nil || found {
			continue
		}

		entry := cache.Entry{
			Schema:  schema.FromRecord(record.Columns, record.DataTypes),
			Source:  cache.SourcePolling,
			Version: record.Version,
			FileID:  record.FileID,
		}
		if err := r.cache.Set(key, entry); err != nil {
			r.logger.Warn("failed to refresh cache entry",
				logging.F("key", key.String()), logging.Err(err))
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		r.logger.Debug("schema refresh pass completed",
			logging.F("refreshed", refreshed), logging.F("records", len(records)))
	}
}
