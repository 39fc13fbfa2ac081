// Package models defines the shared data types for workflows, steps, and executions.
package models

// NodeCategory groups node types for the UI palette
type NodeCategory string

const (
	// CategorySource covers nodes that bring data into a workflow
	CategorySource NodeCategory = "source"

	// CategoryTransform covers nodes that reshape tabular data
	CategoryTransform NodeCategory = "transform"

	// CategoryAI covers nodes that call the AI assistant
	CategoryAI NodeCategory = "ai"

	// CategoryOutput covers nodes that produce downloadable results
	CategoryOutput NodeCategory = "output"

	// CategoryControl covers control-flow nodes
	CategoryControl NodeCategory = "control"
)

// Node is a single node in a workflow graph
type Node struct {
	// ID of the node, unique within the workflow
	ID string `json:"id" yaml:"id"`

	// Type is the node type tag used for handler dispatch
	Type string `json:"type" yaml:"type"`

	// Category of the node
	Category NodeCategory `json:"category,omitempty" yaml:"category,omitempty"`

	// Config holds node-type-specific configuration
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	// FileID is the uploaded file backing this node, if any
	FileID string `json:"file_id,omitempty" yaml:"file_id,omitempty"`

	// SheetName is the explicitly selected sheet for multi-sheet files
	SheetName string `json:"sheet_name,omitempty" yaml:"sheet_name,omitempty"`
}

// Edge is a directed dependency between two nodes
type Edge struct {
	// Source is the upstream node ID
	Source string `json:"source" yaml:"source"`

	// Target is the downstream node ID
	Target string `json:"target" yaml:"target"`
}

// Workflow is a directed graph of data-transformation nodes
type Workflow struct {
	// ID of the workflow
	ID string `json:"id" yaml:"id"`

	// Name of the workflow
	Name string `json:"name" yaml:"name"`

	// Description of the workflow
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Nodes in the graph
	Nodes []Node `json:"nodes" yaml:"nodes"`

	// Edges in the graph
	Edges []Edge `json:"edges" yaml:"edges"`

	// CreatedAt is when the workflow was created (unix seconds)
	CreatedAt int64 `json:"created_at,omitempty" yaml:"-"`

	// UpdatedAt is when the workflow was last updated (unix seconds)
	UpdatedAt int64 `json:"updated_at,omitempty" yaml:"-"`
}

// NodeByID returns the node with the given ID, if present
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
