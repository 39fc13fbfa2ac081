package runtime

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/tcmartin/sheetflow/pkg/models"
)

// FormulaHandler evaluates a JavaScript expression per row and writes the
// result into a target column, extending the column set when the target
// is new.
type FormulaHandler struct{}

// Execute computes the formula for every input row
func (h *FormulaHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	rows := InputRows(execCtx.Input)
	if rows == nil {
		return nil, ErrNoInputData
	}
	columns := InputColumns(execCtx.Input)

	expression, err := configString(execCtx.Node.Config, "expression")
	if err != nil {
		return nil, err
	}
	target, err := configString(execCtx.Node.Config, "target_column")
	if err != nil {
		return nil, err
	}

	program, err := goja.Compile("formula", expression, true)
	if err != nil {
		return nil, fmt.Errorf("invalid formula expression: %w", err)
	}

	computed := make([]map[string]interface{}, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vm := goja.New()
		for name, value := range row {
			if err := vm.Set(name, value); err != nil {
				return nil, err
			}
		}
		if err := vm.Set("row", row); err != nil {
			return nil, err
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			return nil, fmt.Errorf("formula failed on row %d: %w", i, err)
		}

		out := make(map[string]interface{}, len(row)+1)
		for name, value := range row {
			out[name] = value
		}
		out[target] = result.Export()
		computed = append(computed, out)
	}

	if !containsColumn(columns, target) {
		columns = append(append([]string{}, columns...), target)
	}

	return rowsOutput(computed, columns), nil
}

func containsColumn(columns []string, name string) bool {
	for _, column := range columns {
		if column == name {
			return true
		}
	}
	return false
}
