package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

func nodes(ids ...string) []models.Node {
	out := make([]models.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Node{ID: id, Type: "noop"})
	}
	return out
}

func TestTopoOrder(t *testing.T) {
	t.Run("linear chain", func(t *testing.T) {
		order, err := TopoOrder(nodes("a", "b", "c"), []models.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, order)
	})

	t.Run("diamond is deterministic", func(t *testing.T) {
		edges := []models.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		}
		first, err := TopoOrder(nodes("d", "c", "b", "a"), edges)
		require.NoError(t, err)
		second, err := TopoOrder(nodes("a", "b", "c", "d"), edges)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, []string{"a", "b", "c", "d"}, first)
	})

	t.Run("cycle detected", func(t *testing.T) {
		_, err := TopoOrder(nodes("a", "b"), []models.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		})
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("self loop detected", func(t *testing.T) {
		_, err := TopoOrder(nodes("a"), []models.Edge{
			{Source: "a", Target: "a"},
		})
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("unknown node in edge", func(t *testing.T) {
		_, err := TopoOrder(nodes("a"), []models.Edge{
			{Source: "a", Target: "ghost"},
		})
		assert.Error(t, err)
	})
}

func TestEligibleSteps(t *testing.T) {
	steps := []models.WorkflowStep{
		{ID: "s3", NodeID: "c", Status: models.StepPending, Dependencies: []string{"a", "b"}, StepOrder: 3},
		{ID: "s2", NodeID: "b", Status: models.StepPending, Dependencies: []string{"a"}, StepOrder: 2},
		{ID: "s1", NodeID: "a", Status: models.StepCompleted, StepOrder: 1},
		{ID: "s4", NodeID: "d", Status: models.StepPending, Dependencies: []string{"a"}, StepOrder: 4},
	}

	t.Run("only satisfied dependencies", func(t *testing.T) {
		eligible := EligibleSteps(steps, map[string]models.NodeState{
			"a": {Status: models.StepCompleted},
		})

		require.Len(t, eligible, 2)
		assert.Equal(t, "s2", eligible[0].ID)
		assert.Equal(t, "s4", eligible[1].ID)
	})

	t.Run("failed dependency blocks", func(t *testing.T) {
		eligible := EligibleSteps(steps, map[string]models.NodeState{
			"a": {Status: models.StepFailed},
		})
		assert.Empty(t, eligible)
	})

	t.Run("no dependencies ready immediately", func(t *testing.T) {
		eligible := EligibleSteps([]models.WorkflowStep{
			{ID: "root", Status: models.StepPending, StepOrder: 1},
		}, nil)
		require.Len(t, eligible, 1)
	})

	t.Run("terminal steps excluded", func(t *testing.T) {
		eligible := EligibleSteps([]models.WorkflowStep{
			{ID: "done", Status: models.StepCompleted, StepOrder: 1},
		}, nil)
		assert.Empty(t, eligible)
	})
}

func TestAccessor_UpstreamDownstream(t *testing.T) {
	workflows := storage.NewMemoryWorkflowStore()
	executions := storage.NewMemoryExecutionStore()
	require.NoError(t, workflows.SaveWorkflow(models.Workflow{
		ID:    "wf-1",
		Name:  "test",
		Nodes: nodes("a", "b", "c"),
		Edges: []models.Edge{
			{Source: "a", Target: "c"},
			{Source: "b", Target: "c"},
		},
	}))

	accessor := NewAccessor(workflows, executions)

	up, err := accessor.Upstream("wf-1", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, up)

	down, err := accessor.Downstream("wf-1", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, down)
}

func TestAccessor_IsNodeReadyForPropagation(t *testing.T) {
	workflows := storage.NewMemoryWorkflowStore()
	executions := storage.NewMemoryExecutionStore()
	accessor := NewAccessor(workflows, executions)

	require.NoError(t, workflows.SaveWorkflow(models.Workflow{
		ID:   "wf-1",
		Name: "test",
		Nodes: []models.Node{
			{ID: "single", Type: "file.import"},
			{ID: "multi", Type: "file.import", Config: map[string]interface{}{
				"sheets": []interface{}{"Sheet1", "Sheet2"},
			}},
		},
	}))

	t.Run("not completed", func(t *testing.T) {
		ready, err := accessor.IsNodeReadyForPropagation("wf-1", "single")
		require.NoError(t, err)
		assert.False(t, ready)
	})

	completedExecution := models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionCompleted,
		NodeStates: map[string]models.NodeState{
			"single": {Status: models.StepCompleted, CompletedAt: time.Now()},
			"multi":  {Status: models.StepCompleted, CompletedAt: time.Now()},
		},
		StartTime: time.Now(),
	}
	require.NoError(t, executions.SaveExecution(completedExecution))

	t.Run("completed single sheet", func(t *testing.T) {
		ready, err := accessor.IsNodeReadyForPropagation("wf-1", "single")
		require.NoError(t, err)
		assert.True(t, ready)
	})

	t.Run("multi sheet without selection", func(t *testing.T) {
		ready, err := accessor.IsNodeReadyForPropagation("wf-1", "multi")
		require.NoError(t, err)
		assert.False(t, ready)
	})

	t.Run("multi sheet with selection", func(t *testing.T) {
		require.NoError(t, workflows.SetNodeSheet("wf-1", "multi", "Sheet2"))

		ready, err := accessor.IsNodeReadyForPropagation("wf-1", "multi")
		require.NoError(t, err)
		assert.True(t, ready)
	})
}
