package runtime

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tcmartin/sheetflow/pkg/models"
)

// OutputHandler serializes the input rows and writes the result to the
// object store, making it the terminal artifact of a workflow branch.
type OutputHandler struct{}

// Execute renders and stores the output file
func (h *OutputHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	rows := InputRows(execCtx.Input)
	if rows == nil {
		return nil, ErrNoInputData
	}
	columns := InputColumns(execCtx.Input)

	format := strings.ToLower(configStringDefault(execCtx.Node.Config, "format", "csv"))

	var data []byte
	var err error
	switch format {
	case "csv":
		data, err = renderCSV(rows, columns)
	case "json":
		data, err = json.MarshalIndent(rows, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s output: %w", format, err)
	}

	path := configStringDefault(execCtx.Node.Config, "path", "")
	if path == "" {
		path = fmt.Sprintf("outputs/%s/%s.%s", step.ExecutionID, step.NodeID, format)
	}

	if err := execCtx.Objects.Put(path, data); err != nil {
		return nil, fmt.Errorf("failed to store output %s: %w", path, err)
	}

	return map[string]interface{}{
		"path":      path,
		"format":    format,
		"row_count": len(rows),
		"size":      len(data),
	}, nil
}

// renderCSV writes rows as CSV in column order
func renderCSV(rows []map[string]interface{}, columns []string) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns to render")
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(columns); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, len(columns))
		for i, column := range columns {
			if value, ok := row[column]; ok && value != nil {
				record[i] = fmt.Sprintf("%v", value)
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
