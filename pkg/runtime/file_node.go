package runtime

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/schema"
	"github.com/tcmartin/sheetflow/pkg/storage"
	"github.com/tcmartin/sheetflow/pkg/utils"
)

// FileImportHandler ingests an uploaded file into tabular rows and derives
// the node's schema, persisting it and warming the cache
type FileImportHandler struct{}

// Execute downloads, parses, and profiles the node's file
func (h *FileImportHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	path := execCtx.Node.FileID
	if path == "" {
		path = configStringDefault(execCtx.Node.Config, "path", "")
	}
	if path == "" {
		return nil, fmt.Errorf("file.import node has no file associated")
	}

	// Object storage is an external collaborator; transient failures are
	// retried with backoff before the step is failed
	var data []byte
	err := utils.Retry(ctx, 3, 500*time.Millisecond, func() error {
		var getErr error
		data, getErr = execCtx.Objects.Get(path)
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", path, err)
	}

	header, rows, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", path, err)
	}

	inferred := schema.InferFromRows(header, rows)
	columns, dataTypes := inferred.ToRecord()

	sheetName := execCtx.Node.SheetName
	if sheetName == "" {
		sheetName = configStringDefault(execCtx.Node.Config, "sheet", "")
	}

	// Persist the derived schema and warm the cache with a trusted entry
	record := storage.NodeSchemaRecord{
		WorkflowID: step.WorkflowID,
		NodeID:     step.NodeID,
		SheetName:  sheetName,
		Columns:    columns,
		DataTypes:  dataTypes,
		FileID:     path,
	}
	if err := execCtx.Schemas.UpsertNodeSchema(record); err != nil {
		return nil, fmt.Errorf("failed to persist derived schema: %w", err)
	}

	key := cache.NewKey(step.WorkflowID, step.NodeID, sheetName)
	if err := execCtx.Cache.Set(key, cache.Entry{
		Schema: inferred,
		Source: cache.SourceDatabase,
		FileID: path,
	}); err != nil {
		return nil, fmt.Errorf("failed to cache derived schema: %w", err)
	}

	output := rowsOutput(rows, columns)
	output["data_types"] = dataTypes
	output["file_id"] = path
	return output, nil
}

// parseCSV decodes CSV bytes into a header and typed rows
func parseCSV(data []byte) ([]string, []map[string]interface{}, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("file is empty")
	}

	header := records[0]
	rows := make([]map[string]interface{}, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]interface{}, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = coerceCell(record[i])
			}
		}
		rows = append(rows, row)
	}

	return header, rows, nil
}

// coerceCell converts a CSV cell to a typed value where possible
func coerceCell(cell string) interface{} {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	if number, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return number
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	return cell
}
