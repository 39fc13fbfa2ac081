package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/models"
)

// PostgresProviderConfig contains configuration for the PostgreSQL provider
type PostgresProviderConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// PostgresProvider implements the Provider interface using PostgreSQL
type PostgresProvider struct {
	db             *sql.DB
	workflowStore  *PostgresWorkflowStore
	schemaStore    *PostgresSchemaStore
	executionStore *PostgresExecutionStore
}

// NewPostgresProvider creates a new PostgreSQL storage provider
func NewPostgresProvider(config PostgresProviderConfig) (*PostgresProvider, error) {
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database, config.User, config.Password, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PostgresProvider{
		db:             db,
		workflowStore:  &PostgresWorkflowStore{db: db},
		schemaStore:    &PostgresSchemaStore{db: db},
		executionStore: &PostgresExecutionStore{db: db},
	}, nil
}

// Initialize sets up the database schema
func (p *PostgresProvider) Initialize() error {
	if err := p.db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			nodes JSONB NOT NULL,
			edges JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS node_associations (
			workflow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			file_id TEXT,
			sheet_name TEXT,
			PRIMARY KEY (workflow_id, node_id)
		)`,
		`CREATE TABLE IF NOT EXISTS node_schemas (
			workflow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			sheet_name TEXT NOT NULL,
			columns JSONB NOT NULL,
			data_types JSONB,
			file_id TEXT,
			version INTEGER,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (workflow_id, node_id, sheet_name)
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			node_states JSONB,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			dependencies JSONB,
			input_data JSONB,
			output_data JSONB,
			error_message TEXT,
			step_order INTEGER NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_execution ON steps (execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions (workflow_id)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Close cleans up resources
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

// GetWorkflowStore returns a store for workflow definitions
func (p *PostgresProvider) GetWorkflowStore() WorkflowStore {
	return p.workflowStore
}

// GetSchemaStore returns a store for node-sheet schema records
func (p *PostgresProvider) GetSchemaStore() SchemaStore {
	return p.schemaStore
}

// GetExecutionStore returns a store for steps and executions
func (p *PostgresProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// PostgresWorkflowStore implements the WorkflowStore interface using PostgreSQL
type PostgresWorkflowStore struct {
	db *sql.DB
}

// SaveWorkflow persists a workflow definition
func (s *PostgresWorkflowStore) SaveWorkflow(workflow models.Workflow) error {
	workflow.ID = cache.NormalizeWorkflowID(workflow.ID)
	if workflow.CreatedAt == 0 {
		workflow.CreatedAt = time.Now().Unix()
	}
	workflow.UpdatedAt = time.Now().Unix()

	nodes, err := json.Marshal(workflow.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	edges, err := json.Marshal(workflow.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflows (id, name, description, nodes, edges, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			updated_at = EXCLUDED.updated_at`,
		workflow.ID, workflow.Name, workflow.Description, nodes, edges,
		workflow.CreatedAt, workflow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	return nil
}

// GetWorkflow retrieves a workflow definition
func (s *PostgresWorkflowStore) GetWorkflow(workflowID string) (models.Workflow, error) {
	var workflow models.Workflow
	var nodes, edges []byte

	err := s.db.QueryRow(`
		SELECT id, name, COALESCE(description, ''), nodes, edges, created_at, updated_at
		FROM workflows WHERE id = $1`,
		cache.NormalizeWorkflowID(workflowID)).Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &nodes, &edges,
		&workflow.CreatedAt, &workflow.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Workflow{}, ErrWorkflowNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to get workflow: %w", err)
	}

	if err := json.Unmarshal(nodes, &workflow.Nodes); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &workflow.Edges); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return workflow, nil
}

// ListWorkflows returns all workflows
func (s *PostgresWorkflowStore) ListWorkflows() ([]models.Workflow, error) {
	rows, err := s.db.Query(`
		SELECT id, name, COALESCE(description, ''), nodes, edges, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	workflows := make([]models.Workflow, 0)
	for rows.Next() {
		var workflow models.Workflow
		var nodes, edges []byte
		if err := rows.Scan(&workflow.ID, &workflow.Name, &workflow.Description,
			&nodes, &edges, &workflow.CreatedAt, &workflow.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		if err := json.Unmarshal(nodes, &workflow.Nodes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
		}
		if err := json.Unmarshal(edges, &workflow.Edges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
		}
		workflows = append(workflows, workflow)
	}

	return workflows, rows.Err()
}

// DeleteWorkflow removes a workflow definition
func (s *PostgresWorkflowStore) DeleteWorkflow(workflowID string) error {
	result, err := s.db.Exec(`DELETE FROM workflows WHERE id = $1`,
		cache.NormalizeWorkflowID(workflowID))
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}

	return nil
}

// GetEdges returns the directed edges of a workflow
func (s *PostgresWorkflowStore) GetEdges(workflowID string) ([]models.Edge, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT edges FROM workflows WHERE id = $1`,
		cache.NormalizeWorkflowID(workflowID)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}

	var edges []models.Edge
	if err := json.Unmarshal(data, &edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	return edges, nil
}

// SetNodeFile associates an uploaded file with a node
func (s *PostgresWorkflowStore) SetNodeFile(workflowID, nodeID, fileID string) error {
	_, err := s.db.Exec(`
		INSERT INTO node_associations (workflow_id, node_id, file_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, node_id) DO UPDATE SET file_id = EXCLUDED.file_id`,
		cache.NormalizeWorkflowID(workflowID), nodeID, fileID)
	if err != nil {
		return fmt.Errorf("failed to set node file: %w", err)
	}
	return nil
}

// GetNodeFile retrieves the file associated with a node
func (s *PostgresWorkflowStore) GetNodeFile(workflowID, nodeID string) (string, error) {
	var fileID sql.NullString
	err := s.db.QueryRow(`
		SELECT file_id FROM node_associations WHERE workflow_id = $1 AND node_id = $2`,
		cache.NormalizeWorkflowID(workflowID), nodeID).Scan(&fileID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get node file: %w", err)
	}

	return fileID.String, nil
}

// SetNodeSheet records the explicitly selected sheet for a node
func (s *PostgresWorkflowStore) SetNodeSheet(workflowID, nodeID, sheetName string) error {
	_, err := s.db.Exec(`
		INSERT INTO node_associations (workflow_id, node_id, sheet_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_id, node_id) DO UPDATE SET sheet_name = EXCLUDED.sheet_name`,
		cache.NormalizeWorkflowID(workflowID), nodeID, sheetName)
	if err != nil {
		return fmt.Errorf("failed to set node sheet: %w", err)
	}
	return nil
}

// GetNodeSheet retrieves the selected sheet for a node
func (s *PostgresWorkflowStore) GetNodeSheet(workflowID, nodeID string) (string, error) {
	var sheetName sql.NullString
	err := s.db.QueryRow(`
		SELECT sheet_name FROM node_associations WHERE workflow_id = $1 AND node_id = $2`,
		cache.NormalizeWorkflowID(workflowID), nodeID).Scan(&sheetName)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get node sheet: %w", err)
	}

	return sheetName.String, nil
}

// PostgresSchemaStore implements the SchemaStore interface using PostgreSQL
type PostgresSchemaStore struct {
	db *sql.DB
}

// UpsertNodeSchema inserts or replaces a schema record
func (s *PostgresSchemaStore) UpsertNodeSchema(record NodeSchemaRecord) error {
	record.WorkflowID = cache.NormalizeWorkflowID(record.WorkflowID)
	if record.SheetName == "" {
		record.SheetName = cache.DefaultSheetName
	}
	record.UpdatedAt = time.Now()

	columns, err := json.Marshal(record.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}
	dataTypes, err := json.Marshal(record.DataTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal data types: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO node_schemas (workflow_id, node_id, sheet_name, columns, data_types, file_id, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_id, node_id, sheet_name) DO UPDATE SET
			columns = EXCLUDED.columns,
			data_types = EXCLUDED.data_types,
			file_id = EXCLUDED.file_id,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		record.WorkflowID, record.NodeID, record.SheetName, columns, dataTypes,
		record.FileID, record.Version, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert schema record: %w", err)
	}

	return nil
}

// GetNodeSchema retrieves the schema record for a node-sheet
func (s *PostgresSchemaStore) GetNodeSchema(workflowID, nodeID, sheetName string) (NodeSchemaRecord, error) {
	if sheetName == "" {
		sheetName = cache.DefaultSheetName
	}

	var record NodeSchemaRecord
	var columns, dataTypes []byte
	var fileID sql.NullString
	var version sql.NullInt64

	err := s.db.QueryRow(`
		SELECT workflow_id, node_id, sheet_name, columns, data_types, file_id, version, updated_at
		FROM node_schemas WHERE workflow_id = $1 AND node_id = $2 AND sheet_name = $3`,
		cache.NormalizeWorkflowID(workflowID), nodeID, sheetName).Scan(
		&record.WorkflowID, &record.NodeID, &record.SheetName,
		&columns, &dataTypes, &fileID, &version, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return NodeSchemaRecord{}, ErrSchemaNotFound
	}
	if err != nil {
		return NodeSchemaRecord{}, fmt.Errorf("failed to get schema record: %w", err)
	}

	if err := json.Unmarshal(columns, &record.Columns); err != nil {
		return NodeSchemaRecord{}, fmt.Errorf("failed to unmarshal columns: %w", err)
	}
	if len(dataTypes) > 0 {
		if err := json.Unmarshal(dataTypes, &record.DataTypes); err != nil {
			return NodeSchemaRecord{}, fmt.Errorf("failed to unmarshal data types: %w", err)
		}
	}
	record.FileID = fileID.String
	record.Version = int(version.Int64)

	return record, nil
}

// ListNodeSchemas returns all schema records of a workflow
func (s *PostgresSchemaStore) ListNodeSchemas(workflowID string) ([]NodeSchemaRecord, error) {
	return s.queryRecords(`
		SELECT workflow_id, node_id, sheet_name, columns, data_types, file_id, version, updated_at
		FROM node_schemas WHERE workflow_id = $1`,
		cache.NormalizeWorkflowID(workflowID))
}

// ListAllNodeSchemas returns every schema record
func (s *PostgresSchemaStore) ListAllNodeSchemas() ([]NodeSchemaRecord, error) {
	return s.queryRecords(`
		SELECT workflow_id, node_id, sheet_name, columns, data_types, file_id, version, updated_at
		FROM node_schemas`)
}

func (s *PostgresSchemaStore) queryRecords(query string, args ...interface{}) ([]NodeSchemaRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema records: %w", err)
	}
	defer rows.Close()

	records := make([]NodeSchemaRecord, 0)
	for rows.Next() {
		var record NodeSchemaRecord
		var columns, dataTypes []byte
		var fileID sql.NullString
		var version sql.NullInt64

		if err := rows.Scan(&record.WorkflowID, &record.NodeID, &record.SheetName,
			&columns, &dataTypes, &fileID, &version, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema record: %w", err)
		}
		if err := json.Unmarshal(columns, &record.Columns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal columns: %w", err)
		}
		if len(dataTypes) > 0 {
			if err := json.Unmarshal(dataTypes, &record.DataTypes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal data types: %w", err)
			}
		}
		record.FileID = fileID.String
		record.Version = int(version.Int64)
		records = append(records, record)
	}

	return records, rows.Err()
}

// DeleteNodeSchemas removes all schema records of a workflow
func (s *PostgresSchemaStore) DeleteNodeSchemas(workflowID string) error {
	_, err := s.db.Exec(`DELETE FROM node_schemas WHERE workflow_id = $1`,
		cache.NormalizeWorkflowID(workflowID))
	if err != nil {
		return fmt.Errorf("failed to delete schema records: %w", err)
	}
	return nil
}

// PostgresExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgresExecutionStore struct {
	db *sql.DB
}

// SaveExecution persists an execution
func (s *PostgresExecutionStore) SaveExecution(execution models.WorkflowExecution) error {
	nodeStates, err := json.Marshal(execution.NodeStates)
	if err != nil {
		return fmt.Errorf("failed to marshal node states: %w", err)
	}

	var endTime interface{}
	if !execution.EndTime.IsZero() {
		endTime = execution.EndTime
	}

	_, err = s.db.Exec(`
		INSERT INTO executions (id, workflow_id, status, node_states, start_time, end_time, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			node_states = EXCLUDED.node_states,
			end_time = EXCLUDED.end_time,
			error = EXCLUDED.error`,
		execution.ID, execution.WorkflowID, execution.Status, nodeStates,
		execution.StartTime, endTime, execution.Error)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution
func (s *PostgresExecutionStore) GetExecution(executionID string) (models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	var nodeStates []byte
	var endTime sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(`
		SELECT id, workflow_id, status, node_states, start_time, end_time, error
		FROM executions WHERE id = $1`, executionID).Scan(
		&execution.ID, &execution.WorkflowID, &execution.Status, &nodeStates,
		&execution.StartTime, &endTime, &errMsg)
	if err == sql.ErrNoRows {
		return models.WorkflowExecution{}, ErrExecutionNotFound
	}
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("failed to get execution: %w", err)
	}

	if len(nodeStates) > 0 {
		if err := json.Unmarshal(nodeStates, &execution.NodeStates); err != nil {
			return models.WorkflowExecution{}, fmt.Errorf("failed to unmarshal node states: %w", err)
		}
	}
	if endTime.Valid {
		execution.EndTime = endTime.Time
	}
	execution.Error = errMsg.String

	return execution, nil
}

// ListExecutions returns all executions of a workflow
func (s *PostgresExecutionStore) ListExecutions(workflowID string) ([]models.WorkflowExecution, error) {
	rows, err := s.db.Query(`
		SELECT id FROM executions WHERE workflow_id = $1 ORDER BY start_time DESC`,
		cache.NormalizeWorkflowID(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	executions := make([]models.WorkflowExecution, 0, len(ids))
	for _, id := range ids {
		execution, err := s.GetExecution(id)
		if err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}

	return executions, nil
}

// SaveStep persists a step
func (s *PostgresExecutionStore) SaveStep(step models.WorkflowStep) error {
	dependencies, err := json.Marshal(step.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}
	inputData, err := json.Marshal(step.InputData)
	if err != nil {
		return fmt.Errorf("failed to marshal input data: %w", err)
	}
	outputData, err := json.Marshal(step.OutputData)
	if err != nil {
		return fmt.Errorf("failed to marshal output data: %w", err)
	}

	var startedAt, completedAt interface{}
	if !step.StartedAt.IsZero() {
		startedAt = step.StartedAt
	}
	if !step.CompletedAt.IsZero() {
		completedAt = step.CompletedAt
	}

	_, err = s.db.Exec(`
		INSERT INTO steps (id, workflow_id, execution_id, node_id, node_type, status,
			dependencies, input_data, output_data, error_message, step_order, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			input_data = EXCLUDED.input_data,
			output_data = EXCLUDED.output_data,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		step.ID, step.WorkflowID, step.ExecutionID, step.NodeID, step.NodeType, step.Status,
		dependencies, inputData, outputData, step.ErrorMessage, step.StepOrder,
		startedAt, completedAt)
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}

	return nil
}

// GetStep retrieves a step
func (s *PostgresExecutionStore) GetStep(stepID string) (models.WorkflowStep, error) {
	var step models.WorkflowStep
	var dependencies, inputData, outputData []byte
	var errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRow(`
		SELECT id, workflow_id, execution_id, node_id, node_type, status,
			dependencies, input_data, output_data, error_message, step_order, started_at, completed_at
		FROM steps WHERE id = $1`, stepID).Scan(
		&step.ID, &step.WorkflowID, &step.ExecutionID, &step.NodeID, &step.NodeType, &step.Status,
		&dependencies, &inputData, &outputData, &errMsg, &step.StepOrder, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return models.WorkflowStep{}, ErrStepNotFound
	}
	if err != nil {
		return models.WorkflowStep{}, fmt.Errorf("failed to get step: %w", err)
	}

	if err := unmarshalStepFields(&step, dependencies, inputData, outputData); err != nil {
		return models.WorkflowStep{}, err
	}
	step.ErrorMessage = errMsg.String
	if startedAt.Valid {
		step.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		step.CompletedAt = completedAt.Time
	}

	return step, nil
}

// ListSteps returns all steps of an execution
func (s *PostgresExecutionStore) ListSteps(executionID string) ([]models.WorkflowStep, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, execution_id, node_id, node_type, status,
			dependencies, input_data, output_data, error_message, step_order, started_at, completed_at
		FROM steps WHERE execution_id = $1 ORDER BY step_order`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := make([]models.WorkflowStep, 0)
	for rows.Next() {
		var step models.WorkflowStep
		var dependencies, inputData, outputData []byte
		var errMsg sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.ExecutionID, &step.NodeID,
			&step.NodeType, &step.Status, &dependencies, &inputData, &outputData,
			&errMsg, &step.StepOrder, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := unmarshalStepFields(&step, dependencies, inputData, outputData); err != nil {
			return nil, err
		}
		step.ErrorMessage = errMsg.String
		if startedAt.Valid {
			step.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			step.CompletedAt = completedAt.Time
		}
		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// CompareAndSetStepStatus transitions a step's status only if it currently
// has the expected status
func (s *PostgresExecutionStore) CompareAndSetStepStatus(stepID string, expected, next models.StepStatus) (bool, error) {
	var timestampColumn string
	switch {
	case next == models.StepProcessing:
		timestampColumn = ", started_at = NOW()"
	case next.Terminal():
		timestampColumn = ", completed_at = NOW()"
	}

	result, err := s.db.Exec(
		`UPDATE steps SET status = $1`+timestampColumn+` WHERE id = $2 AND status = $3`,
		next, stepID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to update step status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing step
		if _, err := s.GetStep(stepID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}

func unmarshalStepFields(step *models.WorkflowStep, dependencies, inputData, outputData []byte) error {
	if len(dependencies) > 0 {
		if err := json.Unmarshal(dependencies, &step.Dependencies); err != nil {
			return fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}
	if len(inputData) > 0 {
		if err := json.Unmarshal(inputData, &step.InputData); err != nil {
			return fmt.Errorf("failed to unmarshal input data: %w", err)
		}
	}
	if len(outputData) > 0 {
		if err := json.Unmarshal(outputData, &step.OutputData); err != nil {
			return fmt.Errorf("failed to unmarshal output data: %w", err)
		}
	}
	return nil
}
