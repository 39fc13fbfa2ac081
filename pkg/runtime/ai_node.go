package runtime

import (
	"context"
	"fmt"

	"github.com/tcmartin/sheetflow/pkg/ai"
	"github.com/tcmartin/sheetflow/pkg/models"
)

// maxSampleRows bounds how much data is sent to the assistant
const maxSampleRows = 20

// AIQueryHandler asks the AI assistant a question about the input data.
// The assistant call is bounded in time; a timeout fails the step rather
// than succeeding with empty content.
type AIQueryHandler struct{}

// Execute submits the prompt with a bounded data sample
func (h *AIQueryHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	if execCtx.Assistant == nil {
		return nil, fmt.Errorf("no assistant configured for ai.query node")
	}

	prompt, err := configString(execCtx.Node.Config, "prompt")
	if err != nil {
		return nil, err
	}

	rows := InputRows(execCtx.Input)
	columns := InputColumns(execCtx.Input)

	sample := rows
	if len(sample) > maxSampleRows {
		sample = sample[:maxSampleRows]
	}

	response, err := execCtx.Assistant.Query(ctx, ai.QueryRequest{
		Prompt:     prompt,
		Columns:    columns,
		SampleRows: sample,
	})
	if err != nil {
		return nil, fmt.Errorf("assistant query failed: %w", err)
	}

	// Rows pass through unchanged; the answer rides alongside them
	output := rowsOutput(rows, columns)
	output["answer"] = response.Answer
	if response.Model != "" {
		output["model"] = response.Model
	}
	return output, nil
}
