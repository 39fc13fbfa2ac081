// Package storage provides interfaces for persistent storage.
package storage

import (
	"time"

	"github.com/tcmartin/sheetflow/pkg/models"
)

// Provider defines the interface for persistence backends
type Provider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetWorkflowStore returns a store for workflow definitions
	GetWorkflowStore() WorkflowStore

	// GetSchemaStore returns a store for node-sheet schema records
	GetSchemaStore() SchemaStore

	// GetExecutionStore returns a store for steps and executions
	GetExecutionStore() ExecutionStore
}

// WorkflowStore manages workflow definition persistence
type WorkflowStore interface {
	// SaveWorkflow persists a workflow definition
	SaveWorkflow(workflow models.Workflow) error

	// GetWorkflow retrieves a workflow definition
	GetWorkflow(workflowID string) (models.Workflow, error)

	// ListWorkflows returns all workflows
	ListWorkflows() ([]models.Workflow, error)

	// DeleteWorkflow removes a workflow definition
	DeleteWorkflow(workflowID string) error

	// GetEdges returns the directed edges of a workflow
	GetEdges(workflowID string) ([]models.Edge, error)

	// SetNodeFile associates an uploaded file with a node
	SetNodeFile(workflowID, nodeID, fileID string) error

	// GetNodeFile retrieves the file associated with a node
	GetNodeFile(workflowID, nodeID string) (string, error)

	// SetNodeSheet records the explicitly selected sheet for a node
	SetNodeSheet(workflowID, nodeID, sheetName string) error

	// GetNodeSheet retrieves the selected sheet for a node, empty if none
	GetNodeSheet(workflowID, nodeID string) (string, error)
}

// NodeSchemaRecord is the persisted schema of one node-sheet
type NodeSchemaRecord struct {
	// WorkflowID the record belongs to
	WorkflowID string `json:"workflow_id"`

	// NodeID the record belongs to
	NodeID string `json:"node_id"`

	// SheetName the schema is scoped to
	SheetName string `json:"sheet_name"`

	// Columns is the ordered list of column names
	Columns []string `json:"columns"`

	// DataTypes maps column name to its inferred type
	DataTypes map[string]string `json:"data_types,omitempty"`

	// FileID is the uploaded file the schema was derived from, if any
	FileID string `json:"file_id,omitempty"`

	// Version is a monotonic schema version
	Version int `json:"version,omitempty"`

	// UpdatedAt is when the record was last written
	UpdatedAt time.Time `json:"updated_at"`
}

// SchemaStore manages node-sheet schema record persistence. Writes use
// upsert semantics keyed by (workflow, node, sheet) so concurrent writers
// never produce duplicate rows.
type SchemaStore interface {
	// UpsertNodeSchema inserts or replaces a schema record
	UpsertNodeSchema(record NodeSchemaRecord) error

	// GetNodeSchema retrieves the schema record for a node-sheet
	GetNodeSchema(workflowID, nodeID, sheetName string) (NodeSchemaRecord, error)

	// ListNodeSchemas returns all schema records of a workflow
	ListNodeSchemas(workflowID string) ([]NodeSchemaRecord, error)

	// ListAllNodeSchemas returns every schema record
	ListAllNodeSchemas() ([]NodeSchemaRecord, error)

	// DeleteNodeSchemas removes all schema records of a workflow
	DeleteNodeSchemas(workflowID string) error
}

// ExecutionStore manages step and execution persistence
type ExecutionStore interface {
	// SaveExecution persists an execution
	SaveExecution(execution models.WorkflowExecution) error

	// GetExecution retrieves an execution
	GetExecution(executionID string) (models.WorkflowExecution, error)

	// ListExecutions returns all executions of a workflow
	ListExecutions(workflowID string) ([]models.WorkflowExecution, error)

	// SaveStep persists a step
	SaveStep(step models.WorkflowStep) error

	// GetStep retrieves a step
	GetStep(stepID string) (models.WorkflowStep, error)

	// ListSteps returns all steps of an execution
	ListSteps(executionID string) ([]models.WorkflowStep, error)

	// CompareAndSetStepStatus transitions a step's status only if it
	// currently has the expected status. Returns false when another
	// writer won the transition.
	CompareAndSetStepStatus(stepID string, expected, next models.StepStatus) (bool, error)
}
