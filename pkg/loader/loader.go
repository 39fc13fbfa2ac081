// Package loader parses and validates workflow definitions from YAML or
// JSON documents.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tcmartin/sheetflow/pkg/graph"
	"github.com/tcmartin/sheetflow/pkg/models"
)

// Loader parses workflow definitions and checks them against the set of
// node types the runtime can execute
type Loader struct {
	knownTypes map[string]bool
}

// NewLoader creates a workflow loader. knownTypes lists the node type
// tags the runtime has handlers for; an empty list skips the type check.
func NewLoader(knownTypes []string) *Loader {
	known := make(map[string]bool, len(knownTypes))
	for _, nodeType := range knownTypes {
		known[nodeType] = true
	}
	return &Loader{knownTypes: known}
}

// LoadFile reads and validates a workflow definition from disk. The
// format is chosen by file extension, defaulting to YAML.
func (l *Loader) LoadFile(path string) (models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to read workflow file: %w", err)
	}

	if strings.HasSuffix(path, ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// LoadYAML parses and validates a YAML workflow definition
func (l *Loader) LoadYAML(data []byte) (models.Workflow, error) {
	var workflow models.Workflow
	if err := yaml.Unmarshal(data, &workflow); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	return l.finish(workflow)
}

// LoadJSON parses and validates a JSON workflow definition
func (l *Loader) LoadJSON(data []byte) (models.Workflow, error) {
	var workflow models.Workflow
	if err := json.Unmarshal(data, &workflow); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to parse workflow JSON: %w", err)
	}
	return l.finish(workflow)
}

// finish assigns missing IDs and validates the parsed workflow
func (l *Loader) finish(workflow models.Workflow) (models.Workflow, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}
	if err := l.Validate(workflow); err != nil {
		return models.Workflow{}, err
	}
	return workflow, nil
}

// Validate checks a workflow definition for structural problems: missing
// or duplicate node IDs, edges referencing unknown nodes, unexecutable
// node types, and cycles.
func (l *Loader) Validate(workflow models.Workflow) error {
	if len(workflow.Nodes) == 0 {
		return fmt.Errorf("workflow has no nodes")
	}

	seen := make(map[string]bool, len(workflow.Nodes))
	for i, node := range workflow.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node %d has no ID", i)
		}
		if seen[node.ID] {
			return fmt.Errorf("duplicate node ID %q", node.ID)
		}
		seen[node.ID] = true

		if node.Type == "" {
			return fmt.Errorf("node %q has no type", node.ID)
		}
		if len(l.knownTypes) > 0 && !l.knownTypes[node.Type] {
			return fmt.Errorf("node %q has unexecutable type %q", node.ID, node.Type)
		}
	}

	for _, edge := range workflow.Edges {
		if !seen[edge.Source] {
			return fmt.Errorf("edge references unknown source node %q", edge.Source)
		}
		if !seen[edge.Target] {
			return fmt.Errorf("edge references unknown target node %q", edge.Target)
		}
		if edge.Source == edge.Target {
			return fmt.Errorf("node %q has an edge to itself", edge.Source)
		}
	}

	if _, err := graph.TopoOrder(workflow.Nodes, workflow.Edges); err != nil {
		return fmt.Errorf("workflow graph is invalid: %w", err)
	}

	return nil
}
