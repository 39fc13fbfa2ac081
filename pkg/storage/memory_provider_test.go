package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/models"
)

func TestMemoryWorkflowStore(t *testing.T) {
	store := NewMemoryWorkflowStore()

	workflow := models.Workflow{
		ID:   "wf1",
		Name: "test",
		Nodes: []models.Node{
			{ID: "a", Type: "noop"},
			{ID: "b", Type: "noop"},
		},
		Edges: []models.Edge{{Source: "a", Target: "b"}},
	}
	require.NoError(t, store.SaveWorkflow(workflow))

	loaded, err := store.GetWorkflow("wf1")
	require.NoError(t, err)
	assert.Equal(t, "test", loaded.Name)
	assert.NotZero(t, loaded.CreatedAt)

	edges, err := store.GetEdges("wf1")
	require.NoError(t, err)
	assert.Equal(t, []models.Edge{{Source: "a", Target: "b"}}, edges)

	all, err := store.ListWorkflows()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteWorkflow("wf1"))
	_, err = store.GetWorkflow("wf1")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestMemoryWorkflowStoreNormalizesTemporaryID(t *testing.T) {
	store := NewMemoryWorkflowStore()
	require.NoError(t, store.SaveWorkflow(models.Workflow{ID: "temp-wf1", Name: "draft"}))

	// The temporary and persisted identities resolve to the same record
	loaded, err := store.GetWorkflow("wf1")
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.Name)

	loaded, err = store.GetWorkflow("temp-wf1")
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.Name)
}

func TestMemoryWorkflowStoreNodeAssociations(t *testing.T) {
	store := NewMemoryWorkflowStore()

	require.NoError(t, store.SetNodeFile("wf1", "n1", "uploads/data.csv"))
	fileID, err := store.GetNodeFile("temp-wf1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "uploads/data.csv", fileID)

	require.NoError(t, store.SetNodeSheet("wf1", "n1", "orders"))
	sheet, err := store.GetNodeSheet("wf1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "orders", sheet)

	missing, err := store.GetNodeFile("wf1", "ghost")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemorySchemaStore(t *testing.T) {
	store := NewMemorySchemaStore()

	record := NodeSchemaRecord{
		WorkflowID: "wf1",
		NodeID:     "n1",
		Columns:    []string{"id", "name"},
		DataTypes:  map[string]string{"id": "number", "name": "string"},
	}
	require.NoError(t, store.UpsertNodeSchema(record))

	// Empty sheet reads resolve to the default sheet
	loaded, err := store.GetNodeSchema("wf1", "n1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, loaded.Columns)
	assert.NotZero(t, loaded.UpdatedAt)

	// Upsert replaces rather than duplicating
	record.Columns = []string{"id", "name", "email"}
	require.NoError(t, store.UpsertNodeSchema(record))

	all, err := store.ListNodeSchemas("wf1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Columns, 3)

	require.NoError(t, store.DeleteNodeSchemas("wf1"))
	_, err = store.GetNodeSchema("wf1", "n1", "")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestMemorySchemaStoreSheetScoping(t *testing.T) {
	store := NewMemorySchemaStore()

	require.NoError(t, store.UpsertNodeSchema(NodeSchemaRecord{
		WorkflowID: "wf1", NodeID: "n1", SheetName: "orders", Columns: []string{"total"},
	}))
	require.NoError(t, store.UpsertNodeSchema(NodeSchemaRecord{
		WorkflowID: "wf1", NodeID: "n1", SheetName: "refunds", Columns: []string{"amount"},
	}))

	orders, err := store.GetNodeSchema("wf1", "n1", "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"total"}, orders.Columns)

	all, err := store.ListAllNodeSchemas()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryExecutionStore(t *testing.T) {
	store := NewMemoryExecutionStore()

	execution := models.WorkflowExecution{
		ID:         "exec1",
		WorkflowID: "wf1",
		Status:     models.ExecutionRunning,
	}
	require.NoError(t, store.SaveExecution(execution))

	loaded, err := store.GetExecution("exec1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)

	executions, err := store.ListExecutions("wf1")
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	_, err = store.GetExecution("ghost")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestCompareAndSetStepStatus(t *testing.T) {
	store := NewMemoryExecutionStore()

	step := models.WorkflowStep{
		ID:          "step1",
		ExecutionID: "exec1",
		Status:      models.StepPending,
	}
	require.NoError(t, store.SaveStep(step))

	won, err := store.CompareAndSetStepStatus("step1", models.StepPending, models.StepProcessing)
	require.NoError(t, err)
	assert.True(t, won)

	claimed, err := store.GetStep("step1")
	require.NoError(t, err)
	assert.Equal(t, models.StepProcessing, claimed.Status)
	assert.NotZero(t, claimed.StartedAt)

	// The transition is gone once taken
	won, err = store.CompareAndSetStepStatus("step1", models.StepPending, models.StepProcessing)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = store.CompareAndSetStepStatus("step1", models.StepProcessing, models.StepCompleted)
	require.NoError(t, err)
	assert.True(t, won)

	done, err := store.GetStep("step1")
	require.NoError(t, err)
	assert.NotZero(t, done.CompletedAt)

	_, err = store.CompareAndSetStepStatus("ghost", models.StepPending, models.StepProcessing)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestCompareAndSetStepStatusConcurrent(t *testing.T) {
	store := NewMemoryExecutionStore()
	require.NoError(t, store.SaveStep(models.WorkflowStep{ID: "step1", Status: models.StepPending}))

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.CompareAndSetStepStatus("step1", models.StepPending, models.StepProcessing)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestMemoryObjectStore(t *testing.T) {
	store := NewMemoryObjectStore()

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, store.Put("uploads/a.csv", []byte("x,y\n")))
	data, err := store.Get("uploads/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))

	// Reads return copies, not aliases of the stored bytes
	data[0] = 'z'
	fresh, err := store.Get("uploads/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(fresh))

	require.NoError(t, store.Delete("uploads/a.csv"))
	_, err = store.Get("uploads/a.csv")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
