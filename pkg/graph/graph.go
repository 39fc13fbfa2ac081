// Package graph resolves workflow edges, node readiness, and step eligibility.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// ErrCycleDetected is returned when a workflow graph contains a cycle.
// The UI forbids cycles, but the scheduler must fail instead of looping.
var ErrCycleDetected = errors.New("workflow graph contains a cycle")

// Accessor resolves workflow graph structure from the persisted store.
// Results are authoritative but possibly stale; callers tolerate eventual
// consistency.
type Accessor struct {
	workflows  storage.WorkflowStore
	executions storage.ExecutionStore
}

// NewAccessor creates a workflow graph accessor
func NewAccessor(workflows storage.WorkflowStore, executions storage.ExecutionStore) *Accessor {
	return &Accessor{
		workflows:  workflows,
		executions: executions,
	}
}

// GetEdges returns the directed edges of a workflow
func (a *Accessor) GetEdges(workflowID string) ([]models.Edge, error) {
	return a.workflows.GetEdges(workflowID)
}

// Upstream returns the source node IDs of every edge pointing at the node
func (a *Accessor) Upstream(workflowID, nodeID string) ([]string, error) {
	edges, err := a.workflows.GetEdges(workflowID)
	if err != nil {
		return nil, err
	}

	sources := make([]string, 0)
	for _, edge := range edges {
		if edge.Target == nodeID {
			sources = append(sources, edge.Source)
		}
	}
	sort.Strings(sources)
	return sources, nil
}

// Downstream returns the target node IDs of every edge leaving the node
func (a *Accessor) Downstream(workflowID, nodeID string) ([]string, error) {
	edges, err := a.workflows.GetEdges(workflowID)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0)
	for _, edge := range edges {
		if edge.Source == nodeID {
			targets = append(targets, edge.Target)
		}
	}
	sort.Strings(targets)
	return targets, nil
}

// IsNodeReadyForPropagation reports whether a node's schema may be
// propagated downstream: its most recent step completed, and a sheet has
// been explicitly selected when the node exposes multiple sheets.
func (a *Accessor) IsNodeReadyForPropagation(workflowID, nodeID string) (bool, error) {
	executions, err := a.executions.ListExecutions(workflowID)
	if err != nil {
		return false, err
	}

	completed := false
	for _, execution := range executions {
		if state, ok := execution.NodeStates[nodeID]; ok && state.Status == models.StepCompleted {
			completed = true
			break
		}
	}
	if !completed {
		return false, nil
	}

	workflow, err := a.workflows.GetWorkflow(workflowID)
	if err != nil {
		return false, err
	}
	node, ok := workflow.NodeByID(nodeID)
	if !ok {
		return false, nil
	}

	if multiSheet(node) {
		selected, err := a.workflows.GetNodeSheet(workflowID, nodeID)
		if err != nil {
			return false, err
		}
		if selected == "" && node.SheetName == "" {
			return false, nil
		}
	}

	return true, nil
}

// multiSheet reports whether the node's config declares multiple sheets
func multiSheet(node models.Node) bool {
	sheets, ok := node.Config["sheets"].([]interface{})
	return ok && len(sheets) > 1
}

// TopoOrder returns the node IDs in topological order, or ErrCycleDetected
func TopoOrder(nodes []models.Node, edges []models.Edge) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	adjacent := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		indegree[node.ID] = 0
	}
	for _, edge := range edges {
		if _, ok := indegree[edge.Source]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", edge.Source)
		}
		if _, ok := indegree[edge.Target]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", edge.Target)
		}
		indegree[edge.Target]++
		adjacent[edge.Source] = append(adjacent[edge.Source], edge.Target)
	}

	// Sorted frontier keeps the order deterministic for identical input
	frontier := make([]string, 0)
	for id, degree := range indegree {
		if degree == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	order := make([]string, 0, len(nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		next := make([]string, 0)
		for _, target := range adjacent[id] {
			indegree[target]--
			if indegree[target] == 0 {
				next = append(next, target)
			}
		}
		sort.Strings(next)
		frontier = append(frontier, next...)
	}

	if len(order) != len(nodes) {
		return nil, ErrCycleDetected
	}

	return order, nil
}

// EligibleSteps returns the pending steps whose dependencies have all
// completed, stable-sorted by step order so sibling scheduling is
// deterministic for identical input
func EligibleSteps(steps []models.WorkflowStep, nodeStates map[string]models.NodeState) []models.WorkflowStep {
	eligible := make([]models.WorkflowStep, 0)
	for _, step := range steps {
		if step.Status != models.StepPending {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies {
			state, ok := nodeStates[dep]
			if !ok || state.Status != models.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, step)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].StepOrder < eligible[j].StepOrder
	})
	return eligible
}
