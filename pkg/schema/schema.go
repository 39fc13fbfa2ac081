// Package schema defines the column schema model for tabular node output.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ColumnType is the inferred type of a column
type ColumnType string

const (
	// TypeString is a short free-form string column
	TypeString ColumnType = "string"

	// TypeText is a long free-form text column
	TypeText ColumnType = "text"

	// TypeNumber is a numeric column
	TypeNumber ColumnType = "number"

	// TypeBoolean is a true/false column
	TypeBoolean ColumnType = "boolean"

	// TypeDate is a date or timestamp column
	TypeDate ColumnType = "date"

	// TypeArray is a column holding JSON arrays
	TypeArray ColumnType = "array"

	// TypeObject is a column holding JSON objects
	TypeObject ColumnType = "object"

	// TypeUnknown is used when inference could not decide
	TypeUnknown ColumnType = "unknown"
)

// ParseColumnType normalizes a stored type string to a ColumnType
func ParseColumnType(s string) ColumnType {
	switch ColumnType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeString, TypeText, TypeNumber, TypeBoolean, TypeDate, TypeArray, TypeObject:
		return ColumnType(strings.ToLower(strings.TrimSpace(s)))
	default:
		return TypeUnknown
	}
}

// Column is a single column of a node's tabular output
type Column struct {
	// Name of the column
	Name string `json:"name"`

	// Type is the inferred column type
	Type ColumnType `json:"type"`
}

// Schema is an ordered list of columns. Order matters for display only;
// equality and hashing ignore it.
type Schema []Column

// Names returns the column names in display order
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Hash returns a content hash over the sorted column names. Column types
// are deliberately excluded: propagation dedup only needs to recognize
// "same columns again", and a type-only change does not re-trigger it.
func (s Schema) Hash() uint64 {
	names := s.Names()
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.WriteString("\x00")
	}
	return h.Sum64()
}

// HashString returns the hash formatted for storage in propagation records
func (s Schema) HashString() string {
	return fmt.Sprintf("%016x", s.Hash())
}

// EqualNames reports whether two schemas have the same column-name set,
// ignoring order and types
func (s Schema) EqualNames(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	return s.Hash() == other.Hash()
}

// FromRecord rebuilds a Schema from a persisted schema record
// (ordered column names plus a name->type map)
func FromRecord(columns []string, dataTypes map[string]string) Schema {
	out := make(Schema, 0, len(columns))
	for _, name := range columns {
		col := Column{Name: name, Type: TypeUnknown}
		if dt, ok := dataTypes[name]; ok {
			col.Type = ParseColumnType(dt)
		}
		out = append(out, col)
	}
	return out
}

// ToRecord flattens a Schema into the persisted record shape
func (s Schema) ToRecord() ([]string, map[string]string) {
	columns := make([]string, 0, len(s))
	dataTypes := make(map[string]string, len(s))
	for _, c := range s {
		columns = append(columns, c.Name)
		dataTypes[c.Name] = string(c.Type)
	}
	return columns, dataTypes
}

// Infer guesses a column type from a sample value
func Infer(value interface{}) ColumnType {
	switch v := value.(type) {
	case nil:
		return TypeUnknown
	case bool:
		return TypeBoolean
	case int, int32, int64, float32, float64:
		return TypeNumber
	case []interface{}:
		return TypeArray
	case map[string]interface{}:
		return TypeObject
	case string:
		if len(v) > 256 {
			return TypeText
		}
		return TypeString
	default:
		return TypeUnknown
	}
}

// InferFromRows infers a schema from sample rows, preserving the column
// order of the first row's header slice
func InferFromRows(header []string, rows []map[string]interface{}) Schema {
	out := make(Schema, 0, len(header))
	for _, name := range header {
		colType := TypeUnknown
		for _, row := range rows {
			if value, ok := row[name]; ok && value != nil {
				inferred := Infer(value)
				if colType == TypeUnknown {
					colType = inferred
				} else if colType != inferred {
					// Mixed samples fall back to string
					colType = TypeString
					break
				}
			}
		}
		out = append(out, Column{Name: name, Type: colType})
	}
	return out
}
