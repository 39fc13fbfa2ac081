package runtime

import (
	"fmt"
)

// InputRows extracts tabular rows from resolved step input. Rows survive
// JSON round-trips through the persisted store, so both the native and
// decoded shapes are accepted.
func InputRows(input map[string]interface{}) []map[string]interface{} {
	if input == nil {
		return nil
	}

	switch rows := input["rows"].(type) {
	case []map[string]interface{}:
		return rows
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			if rowMap, ok := row.(map[string]interface{}); ok {
				out = append(out, rowMap)
			}
		}
		return out
	default:
		return nil
	}
}

// InputColumns extracts the ordered column names from resolved step input
func InputColumns(input map[string]interface{}) []string {
	if input == nil {
		return nil
	}

	switch columns := input["columns"].(type) {
	case []string:
		return columns
	case []interface{}:
		out := make([]string, 0, len(columns))
		for _, column := range columns {
			if name, ok := column.(string); ok {
				out = append(out, name)
			}
		}
		return out
	default:
		return nil
	}
}

// configString extracts a required string from node config
func configString(config map[string]interface{}, key string) (string, error) {
	value, ok := config[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%s parameter is required and must be a string", key)
	}
	return value, nil
}

// configStringDefault extracts an optional string from node config
func configStringDefault(config map[string]interface{}, key, fallback string) string {
	if value, ok := config[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// rowsOutput builds the standard tabular output shape
func rowsOutput(rows []map[string]interface{}, columns []string) map[string]interface{} {
	return map[string]interface{}{
		"rows":      rows,
		"columns":   columns,
		"row_count": len(rows),
	}
}
