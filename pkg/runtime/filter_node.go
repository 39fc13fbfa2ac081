package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/tcmartin/sheetflow/pkg/models"
)

// FilterHandler keeps the rows that match a condition. The condition is
// either a simple column/operator/value triple or a JavaScript expression
// evaluated per row with the row's fields in scope.
type FilterHandler struct{}

// Execute filters the input rows
func (h *FilterHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	rows := InputRows(execCtx.Input)
	if rows == nil {
		return nil, ErrNoInputData
	}
	columns := InputColumns(execCtx.Input)

	predicate, err := buildPredicate(execCtx.Node.Config)
	if err != nil {
		return nil, err
	}

	filtered := make([]map[string]interface{}, 0, len(rows))
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keep, err := predicate(row)
		if err != nil {
			return nil, fmt.Errorf("filter condition failed on row %d: %w", i, err)
		}
		if keep {
			filtered = append(filtered, row)
		}
	}

	return rowsOutput(filtered, columns), nil
}

// buildPredicate compiles the node config into a row predicate
func buildPredicate(config map[string]interface{}) (func(map[string]interface{}) (bool, error), error) {
	if expression := configStringDefault(config, "expression", ""); expression != "" {
		return expressionPredicate(expression)
	}

	column, err := configString(config, "column")
	if err != nil {
		return nil, fmt.Errorf("filter needs an expression or a column condition: %w", err)
	}
	operator := configStringDefault(config, "operator", "equals")
	value := config["value"]

	return func(row map[string]interface{}) (bool, error) {
		return compareValues(row[column], operator, value)
	}, nil
}

// expressionPredicate compiles a JavaScript expression into a predicate.
// The program is compiled once; each row gets a fresh VM so rows cannot
// leak state into each other.
func expressionPredicate(expression string) (func(map[string]interface{}) (bool, error), error) {
	program, err := goja.Compile("filter", expression, true)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	return func(row map[string]interface{}) (bool, error) {
		vm := goja.New()
		for name, value := range row {
			if err := vm.Set(name, value); err != nil {
				return false, err
			}
		}
		if err := vm.Set("row", row); err != nil {
			return false, err
		}

		result, err := vm.RunProgram(program)
		if err != nil {
			return false, err
		}
		return result.ToBoolean(), nil
	}, nil
}

// compareValues applies a simple operator to a cell value
func compareValues(cell interface{}, operator string, value interface{}) (bool, error) {
	switch operator {
	case "equals", "eq", "==":
		return fmt.Sprintf("%v", cell) == fmt.Sprintf("%v", value), nil
	case "not_equals", "ne", "!=":
		return fmt.Sprintf("%v", cell) != fmt.Sprintf("%v", value), nil
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", cell), fmt.Sprintf("%v", value)), nil
	case "greater_than", "gt", ">":
		a, b, ok := numericPair(cell, value)
		return ok && a > b, nil
	case "greater_or_equal", "gte", ">=":
		a, b, ok := numericPair(cell, value)
		return ok && a >= b, nil
	case "less_than", "lt", "<":
		a, b, ok := numericPair(cell, value)
		return ok && a < b, nil
	case "less_or_equal", "lte", "<=":
		a, b, ok := numericPair(cell, value)
		return ok && a <= b, nil
	case "is_empty":
		return cell == nil || fmt.Sprintf("%v", cell) == "", nil
	case "is_not_empty":
		return cell != nil && fmt.Sprintf("%v", cell) != "", nil
	default:
		return false, fmt.Errorf("unsupported filter operator %q", operator)
	}
}
