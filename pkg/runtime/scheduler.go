package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/sheetflow/pkg/ai"
	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/graph"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/propagation"
	"github.com/tcmartin/sheetflow/pkg/schema"
	"github.com/tcmartin/sheetflow/pkg/storage"
	"github.com/tcmartin/sheetflow/pkg/utils"
)

const (
	// DefaultStepTimeout bounds one handler invocation
	DefaultStepTimeout = 60 * time.Second

	// DefaultQueueSize is the work queue capacity
	DefaultQueueSize = 256

	// DefaultWorkers is the number of queue consumers
	DefaultWorkers = 4
)

// SchedulerDeps are the collaborators the scheduler needs
type SchedulerDeps struct {
	Workflows   storage.WorkflowStore
	Executions  storage.ExecutionStore
	Schemas     storage.SchemaStore
	Objects     storage.ObjectStore
	Cache       cache.Store
	Coordinator *propagation.Coordinator
	Registry    *HandlerRegistry
	Assistant   ai.Assistant
	Logger      logging.Logger
}

// SchedulerOption configures a Scheduler
type SchedulerOption func(*Scheduler)

// WithStepTimeout overrides the per-step wall clock
func WithStepTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.stepTimeout = d
		}
	}
}

// WithWorkers overrides the number of queue consumers
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithQueueSize overrides the work queue capacity
func WithQueueSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.queue = make(chan string, n)
		}
	}
}

// Scheduler drives workflow steps through their lifecycle. Newly eligible
// steps go onto a work queue consumed by worker goroutines rather than
// being advanced recursively, so a deep chain cannot grow the stack and
// sibling branches interleave fairly.
type Scheduler struct {
	workflows   storage.WorkflowStore
	executions  storage.ExecutionStore
	schemas     storage.SchemaStore
	objects     storage.ObjectStore
	cache       cache.Store
	coordinator *propagation.Coordinator
	accessor    *graph.Accessor
	registry    *HandlerRegistry
	assistant   ai.Assistant
	logger      logging.Logger

	queue       chan string
	workers     int
	stepTimeout time.Duration

	// execLocks serializes execution record read-modify-writes
	execLocks map[string]*sync.Mutex
	mu        sync.Mutex

	wg      sync.WaitGroup
	started bool
	stop    chan struct{}
}

// NewScheduler creates a step scheduler
func NewScheduler(deps SchedulerDeps, opts ...SchedulerOption) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewCoreRegistry()
	}
	coordinator := deps.Coordinator
	if coordinator == nil {
		coordinator = propagation.NewCoordinator(logger)
	}

	s := &Scheduler{
		workflows:   deps.Workflows,
		executions:  deps.Executions,
		schemas:     deps.Schemas,
		objects:     deps.Objects,
		cache:       deps.Cache,
		coordinator: coordinator,
		accessor:    graph.NewAccessor(deps.Workflows, deps.Executions),
		registry:    registry,
		assistant:   deps.Assistant,
		logger:      logger,
		queue:       make(chan string, DefaultQueueSize),
		workers:     DefaultWorkers,
		stepTimeout: DefaultStepTimeout,
		execLocks:   make(map[string]*sync.Mutex),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the queue workers
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
}

// Stop signals the workers and waits for them to drain
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// worker consumes step IDs from the work queue
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case stepID := <-s.queue:
			if err := s.AdvanceStep(ctx, stepID); err != nil {
				s.logger.Error("step advance failed", logging.F("step_id", stepID), logging.Err(err))
			}
		}
	}
}

// enqueue puts a step on the work queue without blocking the caller;
// a full queue is logged and the step stays pending for a later sweep
func (s *Scheduler) enqueue(stepID string) {
	select {
	case s.queue <- stepID:
	default:
		s.logger.Warn("work queue full, step left pending", logging.F("step_id", stepID))
	}
}

// StartExecution creates an execution with one pending step per node and
// enqueues the steps that have no dependencies. A cyclic graph fails the
// execution before any step runs.
func (s *Scheduler) StartExecution(ctx context.Context, workflowID string) (models.WorkflowExecution, error) {
	workflow, err := s.workflows.GetWorkflow(workflowID)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	order, err := graph.TopoOrder(workflow.Nodes, workflow.Edges)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("workflow %s is not executable: %w", workflowID, err)
	}

	execution := models.WorkflowExecution{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		Status:     models.ExecutionRunning,
		NodeStates: make(map[string]models.NodeState, len(workflow.Nodes)),
		StartTime:  time.Now(),
	}
	for _, node := range workflow.Nodes {
		execution.NodeStates[node.ID] = models.NodeState{Status: models.StepPending}
	}
	if err := s.executions.SaveExecution(execution); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("failed to save execution: %w", err)
	}

	position := make(map[string]int, len(order))
	for i, nodeID := range order {
		position[nodeID] = i
	}

	roots := make([]string, 0)
	for _, node := range workflow.Nodes {
		deps, err := s.accessor.Upstream(workflow.ID, node.ID)
		if err != nil {
			return models.WorkflowExecution{}, err
		}

		step := models.WorkflowStep{
			ID:           uuid.New().String(),
			WorkflowID:   workflow.ID,
			ExecutionID:  execution.ID,
			NodeID:       node.ID,
			NodeType:     node.Type,
			Status:       models.StepPending,
			Dependencies: deps,
			StepOrder:    position[node.ID],
		}
		if err := s.executions.SaveStep(step); err != nil {
			return models.WorkflowExecution{}, fmt.Errorf("failed to save step for node %s: %w", node.ID, err)
		}
		if len(deps) == 0 {
			roots = append(roots, step.ID)
		}
	}

	for _, stepID := range roots {
		s.enqueue(stepID)
	}

	s.logger.Info("execution started",
		logging.F("execution_id", execution.ID),
		logging.F("workflow_id", workflow.ID),
		logging.F("steps", len(workflow.Nodes)))

	return execution, nil
}

// AdvanceStep moves one step through processing to a terminal state. It is
// idempotent: advancing a step that is already processing or terminal is a
// no-op, a step whose upstream has not completed yet stays pending, and
// the pending-to-processing transition is a compare-and-set so exactly one
// of any concurrent callers executes the handler.
func (s *Scheduler) AdvanceStep(ctx context.Context, stepID string) error {
	step, err := s.executions.GetStep(stepID)
	if err != nil {
		return fmt.Errorf("failed to load step %s: %w", stepID, err)
	}
	if step.Status.Terminal() || step.Status == models.StepProcessing {
		return nil
	}

	var execution models.WorkflowExecution
	if err := utils.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var loadErr error
		execution, loadErr = s.executions.GetExecution(step.ExecutionID)
		return loadErr
	}); err != nil {
		return fmt.Errorf("failed to load execution %s: %w", step.ExecutionID, err)
	}

	if !dependenciesReady(execution, step) {
		// Upstream output is not there yet; the step stays pending and is
		// enqueued again when the upstream completes
		s.logger.Debug("step waiting on upstream",
			logging.F("step_id", stepID),
			logging.F("node_id", step.NodeID))
		return nil
	}

	won, err := s.executions.CompareAndSetStepStatus(stepID, models.StepPending, models.StepProcessing)
	if err != nil {
		return fmt.Errorf("failed to claim step %s: %w", stepID, err)
	}
	if !won {
		return nil
	}

	var workflow models.Workflow
	if err := utils.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var loadErr error
		workflow, loadErr = s.workflows.GetWorkflow(step.WorkflowID)
		return loadErr
	}); err != nil {
		return s.failStep(step, fmt.Errorf("failed to load workflow: %w", err))
	}
	node, ok := workflow.NodeByID(step.NodeID)
	if !ok {
		return s.failStep(step, fmt.Errorf("node %s not found in workflow", step.NodeID))
	}

	handler, err := s.registry.Get(step.NodeType)
	if err != nil {
		return s.failStep(step, err)
	}

	input := s.resolveInput(execution, step)
	s.warmNodeSchema(step, node, input)

	execCtx := &ExecutionContext{
		Execution: execution,
		Node:      node,
		Input:     input,
		Cache:     s.cache,
		Schemas:   s.schemas,
		Workflows: s.workflows,
		Objects:   s.objects,
		Assistant: s.assistant,
		Logger: s.logger.WithFields(
			logging.F("execution_id", step.ExecutionID),
			logging.F("node_id", step.NodeID)),
	}

	output, err := s.runHandler(ctx, handler, step, execCtx)
	if err != nil {
		return s.failStep(step, err)
	}

	return s.completeStep(ctx, step, node, output)
}

// runHandler executes a handler under the per-step wall clock. A handler
// that outlives the deadline is abandoned; its step fails with
// ErrStepTimeout rather than a generic handler error.
func (s *Scheduler) runHandler(ctx context.Context, handler NodeHandler, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	type handlerResult struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan handlerResult, 1)
	go func() {
		output, err := handler.Execute(ctx, step, execCtx)
		done <- handlerResult{output: output, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && errors.Is(result.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrStepTimeout, s.stepTimeout)
		}
		return result.output, result.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrStepTimeout, s.stepTimeout)
		}
		return nil, ctx.Err()
	}
}

// dependenciesReady reports whether every upstream node of the step has
// completed in this execution
func dependenciesReady(execution models.WorkflowExecution, step models.WorkflowStep) bool {
	for _, dep := range step.Dependencies {
		state, ok := execution.NodeStates[dep]
		if !ok || state.Status != models.StepCompleted {
			return false
		}
	}
	return true
}

// resolveInput builds the step's input from its upstream node outputs
func (s *Scheduler) resolveInput(execution models.WorkflowExecution, step models.WorkflowStep) map[string]interface{} {
	if len(step.Dependencies) == 0 {
		return step.InputData
	}
	if len(step.Dependencies) == 1 {
		if state, ok := execution.NodeStates[step.Dependencies[0]]; ok {
			return state.Output
		}
		return nil
	}

	// Multiple upstreams merge; rows concatenate, other keys last-wins
	merged := make(map[string]interface{})
	allRows := make([]map[string]interface{}, 0)
	for _, dep := range step.Dependencies {
		state, ok := execution.NodeStates[dep]
		if !ok || state.Output == nil {
			continue
		}
		for key, value := range state.Output {
			if key != "rows" {
				merged[key] = value
			}
		}
		allRows = append(allRows, InputRows(state.Output)...)
	}
	if len(allRows) > 0 {
		merged["rows"] = allRows
		merged["row_count"] = len(allRows)
	}
	return merged
}

// warmNodeSchema makes the node's schema available in the cache before the
// handler runs: cache hit, default-sheet fallback, then the persisted
// store with a cache write-back.
func (s *Scheduler) warmNodeSchema(step models.WorkflowStep, node models.Node, input map[string]interface{}) {
	sheet := s.nodeSheet(step.WorkflowID, node)
	key := cache.NewKey(step.WorkflowID, step.NodeID, sheet)
	if key.Validate() != nil {
		return
	}

	if _, ok, _ := s.cache.GetWithFallback(key); ok {
		return
	}

	record, err := s.schemas.GetNodeSchema(step.WorkflowID, step.NodeID, sheet)
	if err != nil {
		return
	}

	if err := s.cache.Set(key, cache.Entry{
		Schema:    schema.FromRecord(record.Columns, record.DataTypes),
		SheetName: sheet,
		Source:    cache.SourceDatabase,
		Version:   record.Version,
		FileID:    record.FileID,
	}); err != nil {
		s.logger.Warn("schema cache write-back failed",
			logging.F("node_id", step.NodeID), logging.Err(err))
	}
}

// completeStep records success, updates execution state, propagates the
// node's schema downstream, and enqueues the steps this one unblocked
func (s *Scheduler) completeStep(ctx context.Context, step models.WorkflowStep, node models.Node, output map[string]interface{}) error {
	// Output lands while the step is still processing; the terminal
	// transition is what makes it visible, so no reader ever observes a
	// completed step without its output
	completed, err := s.executions.GetStep(step.ID)
	if err != nil {
		return fmt.Errorf("failed to load step %s: %w", step.ID, err)
	}
	completed.OutputData = output
	if err := s.executions.SaveStep(completed); err != nil {
		return fmt.Errorf("failed to save step output: %w", err)
	}
	if _, err := s.executions.CompareAndSetStepStatus(step.ID, models.StepProcessing, models.StepCompleted); err != nil {
		return fmt.Errorf("failed to complete step %s: %w", step.ID, err)
	}

	execution, err := s.updateNodeState(step.ExecutionID, step.NodeID, models.NodeState{
		Status:      models.StepCompleted,
		Output:      output,
		CompletedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	s.propagateSchema(step, node, output)

	steps, err := s.executions.ListSteps(step.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to list steps: %w", err)
	}
	for _, eligible := range graph.EligibleSteps(steps, execution.NodeStates) {
		s.enqueue(eligible.ID)
	}

	return s.checkCompletion(step.ExecutionID, steps)
}

// failStep records a terminal failure. Dependent steps stay pending and
// are never enqueued, so a failure freezes its downstream branch while
// independent branches keep running.
func (s *Scheduler) failStep(step models.WorkflowStep, cause error) error {
	failed, err := s.executions.GetStep(step.ID)
	if err != nil {
		return fmt.Errorf("failed to load step %s: %w", step.ID, err)
	}
	failed.ErrorMessage = cause.Error()
	if err := s.executions.SaveStep(failed); err != nil {
		return fmt.Errorf("failed to save step error: %w", err)
	}
	if _, err := s.executions.CompareAndSetStepStatus(step.ID, models.StepProcessing, models.StepFailed); err != nil {
		return fmt.Errorf("failed to mark step %s failed: %w", step.ID, err)
	}

	// Node state and execution failure land in one locked write so a
	// sibling branch finishing at the same time cannot wipe either
	if _, err := s.mutateExecution(step.ExecutionID, func(execution *models.WorkflowExecution) {
		if execution.NodeStates == nil {
			execution.NodeStates = make(map[string]models.NodeState)
		}
		execution.NodeStates[step.NodeID] = models.NodeState{
			Status:      models.StepFailed,
			Error:       cause.Error(),
			CompletedAt: time.Now(),
		}
		execution.Status = models.ExecutionFailed
		execution.Error = cause.Error()
		execution.EndTime = time.Now()
	}); err != nil {
		return err
	}

	s.logger.Error("step failed",
		logging.F("execution_id", step.ExecutionID),
		logging.F("node_id", step.NodeID),
		logging.Err(cause))

	return nil
}

// mutateExecution applies a read-modify-write of the execution record
// under its lock and returns the saved copy. Every execution write in the
// scheduler goes through here; saving a snapshot taken outside the lock
// would let concurrent branches overwrite each other's state.
func (s *Scheduler) mutateExecution(executionID string, mutate func(*models.WorkflowExecution)) (models.WorkflowExecution, error) {
	lock := s.executionLock(executionID)
	lock.Lock()
	defer lock.Unlock()

	execution, err := s.executions.GetExecution(executionID)
	if err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	mutate(&execution)
	if err := s.executions.SaveExecution(execution); err != nil {
		return models.WorkflowExecution{}, fmt.Errorf("failed to save execution %s: %w", executionID, err)
	}
	return execution, nil
}

// updateNodeState records one node's state in the execution
func (s *Scheduler) updateNodeState(executionID, nodeID string, state models.NodeState) (models.WorkflowExecution, error) {
	return s.mutateExecution(executionID, func(execution *models.WorkflowExecution) {
		if execution.NodeStates == nil {
			execution.NodeStates = make(map[string]models.NodeState)
		}
		execution.NodeStates[nodeID] = state
	})
}

// executionLock returns the mutex guarding one execution's record
func (s *Scheduler) executionLock(executionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.execLocks[executionID]
	if !ok {
		lock = &sync.Mutex{}
		s.execLocks[executionID] = lock
	}
	return lock
}

// propagateSchema pushes the completed node's output schema to its
// downstream neighbors, unless the coordinator says an equivalent
// propagation just happened
func (s *Scheduler) propagateSchema(step models.WorkflowStep, node models.Node, output map[string]interface{}) {
	columns := InputColumns(output)
	if len(columns) == 0 {
		return
	}
	dataTypes := outputDataTypes(output)
	sch := schema.FromRecord(columns, dataTypes)
	sheet := s.nodeSheet(step.WorkflowID, node)

	ready, err := s.accessor.IsNodeReadyForPropagation(step.WorkflowID, node.ID)
	if err != nil || !ready {
		return
	}

	targets, err := s.accessor.Downstream(step.WorkflowID, node.ID)
	if err != nil {
		s.logger.Warn("failed to resolve downstream nodes",
			logging.F("node_id", node.ID), logging.Err(err))
		return
	}

	for _, target := range targets {
		if s.coordinator.WasRecentlyPropagated(step.WorkflowID, node.ID, target, propagation.CheckOptions{
			Sheet:  sheet,
			Schema: sch,
		}) {
			continue
		}

		if err := s.schemas.UpsertNodeSchema(storage.NodeSchemaRecord{
			WorkflowID: step.WorkflowID,
			NodeID:     target,
			SheetName:  sheet,
			Columns:    columns,
			DataTypes:  dataTypes,
		}); err != nil {
			s.logger.Warn("schema propagation persist failed",
				logging.F("target", target), logging.Err(err))
			continue
		}

		key := cache.NewKey(step.WorkflowID, target, sheet)
		if err := s.cache.Set(key, cache.Entry{
			Schema:    sch,
			SheetName: sheet,
			Source:    cache.SourcePropagation,
		}); err != nil {
			s.logger.Warn("schema propagation cache write failed",
				logging.F("target", target), logging.Err(err))
			continue
		}

		s.coordinator.Track(step.WorkflowID, node.ID, target, propagation.TrackOptions{
			Sheet:    sheet,
			Schema:   sch,
			Debounce: true,
		})
	}
}

// checkCompletion finishes the execution once every node is terminal. The
// decision reads a fresh execution under its lock, and an execution a
// failed branch already closed is left alone.
func (s *Scheduler) checkCompletion(executionID string, steps []models.WorkflowStep) error {
	finished := false
	execution, err := s.mutateExecution(executionID, func(execution *models.WorkflowExecution) {
		if execution.Status != models.ExecutionRunning {
			return
		}
		anyFailed := false
		for _, step := range steps {
			state, ok := execution.NodeStates[step.NodeID]
			if !ok || !state.Status.Terminal() {
				return
			}
			if state.Status == models.StepFailed {
				anyFailed = true
			}
		}
		if anyFailed {
			execution.Status = models.ExecutionFailed
		} else {
			execution.Status = models.ExecutionCompleted
		}
		execution.EndTime = time.Now()
		finished = true
	})
	if err != nil {
		return err
	}

	if finished {
		s.logger.Info("execution finished",
			logging.F("execution_id", execution.ID),
			logging.F("status", string(execution.Status)))
	}
	return nil
}

// nodeSheet resolves the effective sheet for a node: explicit selection
// first, then the node's own sheet name
func (s *Scheduler) nodeSheet(workflowID string, node models.Node) string {
	if selected, err := s.workflows.GetNodeSheet(workflowID, node.ID); err == nil && selected != "" {
		return selected
	}
	return node.SheetName
}

// outputDataTypes extracts the data_types map from handler output
func outputDataTypes(output map[string]interface{}) map[string]string {
	switch types := output["data_types"].(type) {
	case map[string]string:
		return types
	case map[string]interface{}:
		out := make(map[string]string, len(types))
		for name, value := range types {
			if s, ok := value.(string); ok {
				out[name] = s
			}
		}
		return out
	default:
		return nil
	}
}
