// Package cache provides the in-process schema cache for workflow nodes.
package cache

import (
	"errors"
	"fmt"
	"strings"
)

// TemporaryWorkflowPrefix marks workflow IDs that have not been durably
// persisted yet. Keys strip it so a workflow's temporary and persisted
// identities share cache state.
const TemporaryWorkflowPrefix = "temp-"

// DefaultSheetName is the sheet name used when a caller does not know the
// real sheet name yet
const DefaultSheetName = "default"

// ErrInvalidKey is returned for keys with an empty workflow or node ID.
// This is a programming error, not a runtime condition to retry.
var ErrInvalidKey = errors.New("cache: invalid key")

// Key identifies a schema cache entry by workflow, node and sheet
type Key struct {
	// WorkflowID is the normalized workflow ID (temporary marker stripped)
	WorkflowID string

	// NodeID is the workflow node ID
	NodeID string

	// SheetName is the sheet scope, defaulting to DefaultSheetName
	SheetName string
}

// NewKey builds a normalized cache key. The workflow ID has the temporary
// marker stripped and an empty sheet name defaults to DefaultSheetName.
func NewKey(workflowID, nodeID, sheetName string) Key {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	return Key{
		WorkflowID: NormalizeWorkflowID(workflowID),
		NodeID:     nodeID,
		SheetName:  sheetName,
	}
}

// NormalizeWorkflowID strips the temporary marker from a workflow ID
func NormalizeWorkflowID(workflowID string) string {
	return strings.TrimPrefix(workflowID, TemporaryWorkflowPrefix)
}

// Validate checks the key for empty components
func (k Key) Validate() error {
	if k.WorkflowID == "" {
		return fmt.Errorf("%w: empty workflow ID", ErrInvalidKey)
	}
	if k.NodeID == "" {
		return fmt.Errorf("%w: empty node ID", ErrInvalidKey)
	}
	return nil
}

// WithSheet returns a copy of the key scoped to another sheet
func (k Key) WithSheet(sheetName string) Key {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	k.SheetName = sheetName
	return k
}

// String renders the key in its canonical storage form
func (k Key) String() string {
	return k.WorkflowID + ":" + k.NodeID + ":" + k.SheetName
}

// workflowPrefix is the scan prefix covering every entry of a workflow
func workflowPrefix(workflowID string) string {
	return NormalizeWorkflowID(workflowID) + ":"
}
