package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/models"
)

// Errors returned by storage backends
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrSchemaNotFound    = errors.New("schema record not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrStepNotFound      = errors.New("step not found")
)

// MemoryProvider implements the Provider interface using in-memory storage
type MemoryProvider struct {
	workflowStore  *MemoryWorkflowStore
	schemaStore    *MemorySchemaStore
	executionStore *MemoryExecutionStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		workflowStore:  NewMemoryWorkflowStore(),
		schemaStore:    NewMemorySchemaStore(),
		executionStore: NewMemoryExecutionStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	return nil
}

// GetWorkflowStore returns a store for workflow definitions
func (p *MemoryProvider) GetWorkflowStore() WorkflowStore {
	return p.workflowStore
}

// GetSchemaStore returns a store for node-sheet schema records
func (p *MemoryProvider) GetSchemaStore() SchemaStore {
	return p.schemaStore
}

// GetExecutionStore returns a store for steps and executions
func (p *MemoryProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// MemoryWorkflowStore implements the WorkflowStore interface in memory
type MemoryWorkflowStore struct {
	workflows  map[string]models.Workflow
	nodeFiles  map[string]string
	nodeSheets map[string]string
	mu         sync.RWMutex
}

// NewMemoryWorkflowStore creates a new in-memory workflow store
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{
		workflows:  make(map[string]models.Workflow),
		nodeFiles:  make(map[string]string),
		nodeSheets: make(map[string]string),
	}
}

// nodeKey builds the per-node association key
func nodeKey(workflowID, nodeID string) string {
	return cache.NormalizeWorkflowID(workflowID) + ":" + nodeID
}

// SaveWorkflow persists a workflow definition
func (s *MemoryWorkflowStore) SaveWorkflow(workflow models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	workflow.ID = cache.NormalizeWorkflowID(workflow.ID)
	if workflow.CreatedAt == 0 {
		workflow.CreatedAt = time.Now().Unix()
	}
	workflow.UpdatedAt = time.Now().Unix()
	s.workflows[workflow.ID] = workflow

	return nil
}

// GetWorkflow retrieves a workflow definition
func (s *MemoryWorkflowStore) GetWorkflow(workflowID string) (models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflow, ok := s.workflows[cache.NormalizeWorkflowID(workflowID)]
	if !ok {
		return models.Workflow{}, ErrWorkflowNotFound
	}

	return workflow, nil
}

// ListWorkflows returns all workflows
func (s *MemoryWorkflowStore) ListWorkflows() ([]models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflows := make([]models.Workflow, 0, len(s.workflows))
	for _, workflow := range s.workflows {
		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// DeleteWorkflow removes a workflow definition
func (s *MemoryWorkflowStore) DeleteWorkflow(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := cache.NormalizeWorkflowID(workflowID)
	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}

	delete(s.workflows, id)
	return nil
}

// GetEdges returns the directed edges of a workflow
func (s *MemoryWorkflowStore) GetEdges(workflowID string) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workflow, ok := s.workflows[cache.NormalizeWorkflowID(workflowID)]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	edges := make([]models.Edge, len(workflow.Edges))
	copy(edges, workflow.Edges)
	return edges, nil
}

// SetNodeFile associates an uploaded file with a node
func (s *MemoryWorkflowStore) SetNodeFile(workflowID, nodeID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodeFiles[nodeKey(workflowID, nodeID)] = fileID
	return nil
}

// GetNodeFile retrieves the file associated with a node
func (s *MemoryWorkflowStore) GetNodeFile(workflowID, nodeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodeFiles[nodeKey(workflowID, nodeID)], nil
}

// SetNodeSheet records the explicitly selected sheet for a node
func (s *MemoryWorkflowStore) SetNodeSheet(workflowID, nodeID, sheetName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodeSheets[nodeKey(workflowID, nodeID)] = sheetName
	return nil
}

// GetNodeSheet retrieves the selected sheet for a node
func (s *MemoryWorkflowStore) GetNodeSheet(workflowID, nodeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodeSheets[nodeKey(workflowID, nodeID)], nil
}

// MemorySchemaStore implements the SchemaStore interface in memory
type MemorySchemaStore struct {
	records map[string]NodeSchemaRecord
	mu      sync.RWMutex
}

// NewMemorySchemaStore creates a new in-memory schema store
func NewMemorySchemaStore() *MemorySchemaStore {
	return &MemorySchemaStore{
		records: make(map[string]NodeSchemaRecord),
	}
}

// schemaKey builds the (workflow, node, sheet) conflict key
func schemaKey(workflowID, nodeID, sheetName string) string {
	if sheetName == "" {
		sheetName = cache.DefaultSheetName
	}
	return cache.NormalizeWorkflowID(workflowID) + ":" + nodeID + ":" + sheetName
}

// UpsertNodeSchema inserts or replaces a schema record
func (s *MemorySchemaStore) UpsertNodeSchema(record NodeSchemaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.WorkflowID = cache.NormalizeWorkflowID(record.WorkflowID)
	if record.SheetName == "" {
		record.SheetName = cache.DefaultSheetName
	}
	record.UpdatedAt = time.Now()

	s.records[schemaKey(record.WorkflowID, record.NodeID, record.SheetName)] = record
	return nil
}

// GetNodeSchema retrieves the schema record for a node-sheet
func (s *MemorySchemaStore) GetNodeSchema(workflowID, nodeID, sheetName string) (NodeSchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[schemaKey(workflowID, nodeID, sheetName)]
	if !ok {
		return NodeSchemaRecord{}, ErrSchemaNotFound
	}

	return record, nil
}

// ListNodeSchemas returns all schema records of a workflow
func (s *MemorySchemaStore) ListNodeSchemas(workflowID string) ([]NodeSchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := cache.NormalizeWorkflowID(workflowID)
	records := make([]NodeSchemaRecord, 0)
	for _, record := range s.records {
		if record.WorkflowID == id {
			records = append(records, record)
		}
	}

	return records, nil
}

// ListAllNodeSchemas returns every schema record
func (s *MemorySchemaStore) ListAllNodeSchemas() ([]NodeSchemaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]NodeSchemaRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}

	return records, nil
}

// DeleteNodeSchemas removes all schema records of a workflow
func (s *MemorySchemaStore) DeleteNodeSchemas(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := cache.NormalizeWorkflowID(workflowID)
	for key, record := range s.records {
		if record.WorkflowID == id {
			delete(s.records, key)
		}
	}

	return nil
}

// MemoryExecutionStore implements the ExecutionStore interface in memory
type MemoryExecutionStore struct {
	executions map[string]models.WorkflowExecution
	steps      map[string]models.WorkflowStep
	mu         sync.RWMutex
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]models.WorkflowExecution),
		steps:      make(map[string]models.WorkflowStep),
	}
}

// SaveExecution persists an execution
func (s *MemoryExecutionStore) SaveExecution(execution models.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executions[execution.ID] = execution
	return nil
}

// GetExecution retrieves an execution
func (s *MemoryExecutionStore) GetExecution(executionID string) (models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return models.WorkflowExecution{}, ErrExecutionNotFound
	}

	return execution, nil
}

// ListExecutions returns all executions of a workflow
func (s *MemoryExecutionStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := cache.NormalizeWorkflowID(workflowID)
	executions := make([]models.WorkflowExecution, 0)
	for _, execution := range s.executions {
		if execution.WorkflowID == id {
			executions = append(executions, execution)
		}
	}

	return executions, nil
}

// SaveStep persists a step
func (s *MemoryExecutionStore) SaveStep(step models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps[step.ID] = step
	return nil
}

// GetStep retrieves a step
func (s *MemoryExecutionStore) GetStep(stepID string) (models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, ok := s.steps[stepID]
	if !ok {
		return models.WorkflowStep{}, ErrStepNotFound
	}

	return step, nil
}

// ListSteps returns all steps of an execution
func (s *MemoryExecutionStore) ListSteps(executionID string) ([]models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]models.WorkflowStep, 0)
	for _, step := range s.steps {
		if step.ExecutionID == executionID {
			steps = append(steps, step)
		}
	}

	return steps, nil
}

// CompareAndSetStepStatus transitions a step's status only if it currently
// has the expected status
func (s *MemoryExecutionStore) CompareAndSetStepStatus(stepID string, expected, next models.StepStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.steps[stepID]
	if !ok {
		return false, ErrStepNotFound
	}

	if step.Status != expected {
		return false, nil
	}

	step.Status = next
	if next == models.StepProcessing {
		step.StartedAt = time.Now()
	}
	if next.Terminal() {
		step.CompletedAt = time.Now()
	}
	s.steps[stepID] = step

	return true, nil
}
