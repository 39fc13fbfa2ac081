package models

import "time"

// StepStatus is the lifecycle state of a workflow step
type StepStatus string

const (
	// StepPending means the step has been created but not picked up
	StepPending StepStatus = "pending"

	// StepProcessing means the scheduler is executing the step
	StepProcessing StepStatus = "processing"

	// StepCompleted means the step finished successfully (terminal)
	StepCompleted StepStatus = "completed"

	// StepFailed means the step finished with an error (terminal)
	StepFailed StepStatus = "failed"
)

// Terminal reports whether the status is a terminal state
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ExecutionStatus is the aggregate state of a workflow execution
type ExecutionStatus string

const (
	// ExecutionRunning means at least one step has not reached a terminal state
	ExecutionRunning ExecutionStatus = "running"

	// ExecutionCompleted means every step completed
	ExecutionCompleted ExecutionStatus = "completed"

	// ExecutionFailed means at least one step failed
	ExecutionFailed ExecutionStatus = "failed"
)

// WorkflowStep is one scheduled execution of a single node
type WorkflowStep struct {
	// ID of the step
	ID string `json:"id"`

	// WorkflowID is the workflow this step belongs to
	WorkflowID string `json:"workflow_id"`

	// ExecutionID is the execution run this step belongs to
	ExecutionID string `json:"execution_id"`

	// NodeID is the workflow node this step executes
	NodeID string `json:"node_id"`

	// NodeType is the node type tag used for handler dispatch
	NodeType string `json:"node_type"`

	// Status of the step
	Status StepStatus `json:"status"`

	// Dependencies is the set of upstream node IDs that must complete first
	Dependencies []string `json:"dependencies,omitempty"`

	// InputData resolved for the step before handler dispatch
	InputData map[string]interface{} `json:"input_data,omitempty"`

	// OutputData produced by the handler on success
	OutputData map[string]interface{} `json:"output_data,omitempty"`

	// ErrorMessage captured on failure
	ErrorMessage string `json:"error_message,omitempty"`

	// StepOrder is the deterministic tie-break among sibling steps
	StepOrder int `json:"step_order"`

	// StartedAt is when the step entered processing
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the step reached a terminal state
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NodeState is the per-node outcome recorded on an execution
type NodeState struct {
	// Status of the node's step
	Status StepStatus `json:"status"`

	// Output of the node's step, if completed
	Output map[string]interface{} `json:"output,omitempty"`

	// Error message, if failed
	Error string `json:"error,omitempty"`

	// CompletedAt is when the node reached a terminal state
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// WorkflowExecution is one run of a workflow graph
type WorkflowExecution struct {
	// ID of the execution
	ID string `json:"id"`

	// WorkflowID is the workflow being executed
	WorkflowID string `json:"workflow_id"`

	// Status of the execution
	Status ExecutionStatus `json:"status"`

	// NodeStates maps node ID to its recorded outcome
	NodeStates map[string]NodeState `json:"node_states,omitempty"`

	// StartTime is when the execution started
	StartTime time.Time `json:"start_time"`

	// EndTime is when the execution reached a terminal state
	EndTime time.Time `json:"end_time,omitempty"`

	// Error message if the execution failed
	Error string `json:"error,omitempty"`
}
