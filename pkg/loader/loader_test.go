package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
id: wf-orders
name: Order report
nodes:
  - id: import
    type: file.import
    file_id: uploads/orders.csv
  - id: big
    type: filter
    config:
      column: total
      operator: greater_than
      value: 100
  - id: report
    type: output.generate
    config:
      format: csv
edges:
  - source: import
    target: big
  - source: big
    target: report
`

func knownTypes() []string {
	return []string{"file.import", "filter", "sort", "formula", "ai.query", "output.generate", "integration.webhook", "noop"}
}

func TestLoadYAML(t *testing.T) {
	workflow, err := NewLoader(knownTypes()).LoadYAML([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "wf-orders", workflow.ID)
	assert.Equal(t, "Order report", workflow.Name)
	assert.Len(t, workflow.Nodes, 3)
	assert.Len(t, workflow.Edges, 2)

	big, ok := workflow.NodeByID("big")
	require.True(t, ok)
	assert.Equal(t, "total", big.Config["column"])
}

func TestLoadYAMLAssignsMissingID(t *testing.T) {
	workflow, err := NewLoader(nil).LoadYAML([]byte(`
name: anonymous
nodes:
  - id: only
    type: noop
`))
	require.NoError(t, err)
	assert.NotEmpty(t, workflow.ID)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	workflow, err := NewLoader(knownTypes()).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wf-orders", workflow.ID)

	_, err = NewLoader(nil).LoadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	workflow, err := NewLoader(nil).LoadJSON([]byte(`{
		"id": "wf-json",
		"nodes": [{"id": "a", "type": "noop"}],
		"edges": []
	}`))
	require.NoError(t, err)
	assert.Equal(t, "wf-json", workflow.ID)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{
			name:    "no nodes",
			yaml:    "id: empty\nnodes: []\n",
			message: "no nodes",
		},
		{
			name: "duplicate node id",
			yaml: `
nodes:
  - id: dup
    type: noop
  - id: dup
    type: noop
`,
			message: "duplicate node ID",
		},
		{
			name: "missing node type",
			yaml: `
nodes:
  - id: untyped
`,
			message: "has no type",
		},
		{
			name: "unknown edge target",
			yaml: `
nodes:
  - id: a
    type: noop
edges:
  - source: a
    target: ghost
`,
			message: "unknown target",
		},
		{
			name: "self loop",
			yaml: `
nodes:
  - id: a
    type: noop
edges:
  - source: a
    target: a
`,
			message: "edge to itself",
		},
		{
			name: "cycle",
			yaml: `
nodes:
  - id: a
    type: noop
  - id: b
    type: noop
edges:
  - source: a
    target: b
  - source: b
    target: a
`,
			message: "cycle",
		},
	}

	loader := NewLoader(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loader.LoadYAML([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidateUnexecutableType(t *testing.T) {
	_, err := NewLoader([]string{"noop"}).LoadYAML([]byte(`
nodes:
  - id: a
    type: teleport
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexecutable type")
}
