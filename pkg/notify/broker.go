// Package notify distributes row-change events from ingest surfaces to
// in-process subscribers.
package notify

import (
	"sync"

	"github.com/tcmartin/sheetflow/pkg/logging"
)

// RowChangeEvent announces that a node's underlying data changed
type RowChangeEvent struct {
	// WorkflowID of the workflow the node belongs to
	WorkflowID string `json:"workflow_id"`

	// NodeID whose data changed
	NodeID string `json:"node_id"`

	// FileID of the changed file, if the node is file-backed
	FileID string `json:"file_id,omitempty"`

	// SheetName the change is scoped to
	SheetName string `json:"sheet_name,omitempty"`

	// Columns is the current ordered column list
	Columns []string `json:"columns,omitempty"`

	// DataTypes maps column name to its type
	DataTypes map[string]string `json:"data_types,omitempty"`
}

// Broker fans row-change events out to subscribers. Delivery is
// best-effort: a slow subscriber drops events rather than blocking the
// publisher.
type Broker struct {
	subscribers map[int]chan RowChangeEvent
	nextID      int
	mu          sync.Mutex

	logger logging.Logger
	closed bool
}

// NewBroker creates an event broker
func NewBroker(logger logging.Logger) *Broker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Broker{
		subscribers: make(map[int]chan RowChangeEvent),
		logger:      logger,
	}
}

// Publish delivers an event to every subscriber without blocking
func (b *Broker) Publish(event RowChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("row change event dropped for slow subscriber",
				logging.F("subscriber", id),
				logging.F("node_id", event.NodeID))
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release the subscription.
func (b *Broker) Subscribe(buffer int) (<-chan RowChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan RowChangeEvent, buffer)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Close drops all subscribers and stops delivery
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
