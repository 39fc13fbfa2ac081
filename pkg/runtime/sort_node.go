package runtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tcmartin/sheetflow/pkg/models"
)

// SortHandler orders the input rows by a column. The sort is stable so
// ties keep their upstream order.
type SortHandler struct{}

// Execute sorts the input rows
func (h *SortHandler) Execute(ctx context.Context, step models.WorkflowStep, execCtx *ExecutionContext) (map[string]interface{}, error) {
	rows := InputRows(execCtx.Input)
	if rows == nil {
		return nil, ErrNoInputData
	}
	columns := InputColumns(execCtx.Input)

	column, err := configString(execCtx.Node.Config, "column")
	if err != nil {
		return nil, err
	}
	direction := strings.ToLower(configStringDefault(execCtx.Node.Config, "direction", "asc"))
	if direction != "asc" && direction != "desc" {
		return nil, fmt.Errorf("sort direction must be asc or desc, got %q", direction)
	}

	sorted := make([]map[string]interface{}, len(rows))
	copy(sorted, rows)

	sort.SliceStable(sorted, func(i, j int) bool {
		less := cellLess(sorted[i][column], sorted[j][column])
		if direction == "desc" {
			return !less && !cellEqual(sorted[i][column], sorted[j][column])
		}
		return less
	})

	return rowsOutput(sorted, columns), nil
}

// cellLess orders two cell values, numerically when both parse as numbers
func cellLess(a, b interface{}) bool {
	// nil sorts first so missing values cluster at one end
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}

	if na, nb, ok := numericPair(a, b); ok {
		return na < nb
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func cellEqual(a, b interface{}) bool {
	if na, nb, ok := numericPair(a, b); ok {
		return na == nb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// numericPair converts both values to float64 if possible
func numericPair(a, b interface{}) (float64, float64, bool) {
	na, okA := toNumber(a)
	nb, okB := toNumber(b)
	return na, nb, okA && okB
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	default:
		return 0, false
	}
}
