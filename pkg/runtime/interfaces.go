// Package runtime provides the step scheduler and node handler registry.
package runtime

import (
	"context"
	"errors"

	"github.com/tcmartin/sheetflow/pkg/ai"
	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// Errors surfaced by the scheduler and registry
var (
	// ErrUnknownNodeType means no handler is registered for a node type.
	// It is fatal to the step only, never to sibling branches.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrStepTimeout means a handler exceeded the per-step wall clock.
	// It is a distinct failure kind, not a generic handler error.
	ErrStepTimeout = errors.New("step execution timed out")

	// ErrNoInputData means a step's upstream data is not available yet.
	// This is expected and transient; the step stays pending.
	ErrNoInputData = errors.New("no input data available")
)

// ExecutionContext carries the collaborators a handler may use. Handlers
// never transition step or execution state themselves.
type ExecutionContext struct {
	// Execution is the owning execution (read-only for handlers)
	Execution models.WorkflowExecution

	// Node is the workflow node the step executes
	Node models.Node

	// Input is the resolved input data for the step
	Input map[string]interface{}

	// Cache is the schema cache store
	Cache cache.Store

	// Schemas is the persisted schema store
	Schemas storage.SchemaStore

	// Workflows is the persisted workflow store
	Workflows storage.WorkflowStore

	// Objects is the uploaded-file object store
	Objects storage.ObjectStore

	// Assistant is the AI collaborator client
	Assistant ai.Assistant

	// Logger scoped to the step
	Logger logging.Logger
}

// NodeHandler processes one step of a given node type. Handlers are
// independent, composable units that complete or fail within one
// invocation; only the conversational subsystem streams.
type NodeHandler interface {
	// Execute runs the node's processing and returns its output data
	Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to the NodeHandler interface
type HandlerFunc func(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error)

// Execute runs the handler function
func (f HandlerFunc) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	return f(ctx, step, execCtx)
}
