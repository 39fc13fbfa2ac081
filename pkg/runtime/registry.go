package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerRegistry maps node type tags to their handlers
type HandlerRegistry struct {
	handlers map[string]NodeHandler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]NodeHandler),
	}
}

// Register adds or replaces the handler for a node type
func (r *HandlerRegistry) Register(nodeType string, handler NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[nodeType] = handler
}

// Get returns the handler for a node type
func (r *HandlerRegistry) Get(nodeType string) (NodeHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return handler, nil
}

// Types returns the registered node type tags, sorted
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for nodeType := range r.handlers {
		types = append(types, nodeType)
	}
	sort.Strings(types)
	return types
}

// CoreHandlers returns the built-in node type handlers
func CoreHandlers() map[string]NodeHandler {
	return map[string]NodeHandler{
		"file.import":         &FileImportHandler{},
		"filter":              &FilterHandler{},
		"sort":                &SortHandler{},
		"formula":             &FormulaHandler{},
		"ai.query":            &AIQueryHandler{},
		"output.generate":     &OutputHandler{},
		"integration.webhook": &WebhookHandler{},
		"noop":                HandlerFunc(noopHandler),
	}
}

// NewCoreRegistry creates a registry preloaded with the built-in handlers
func NewCoreRegistry() *HandlerRegistry {
	registry := NewHandlerRegistry()
	for nodeType, handler := range CoreHandlers() {
		registry.Register(nodeType, handler)
	}
	return registry
}
