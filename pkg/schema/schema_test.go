package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIgnoresColumnOrder(t *testing.T) {
	a := Schema{{Name: "id", Type: TypeNumber}, {Name: "name", Type: TypeString}}
	b := Schema{{Name: "name", Type: TypeString}, {Name: "id", Type: TypeNumber}}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.HashString(), b.HashString())
	assert.True(t, a.EqualNames(b))
}

func TestHashIgnoresColumnTypes(t *testing.T) {
	a := Schema{{Name: "total", Type: TypeNumber}}
	b := Schema{{Name: "total", Type: TypeString}}

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHashDistinguishesNames(t *testing.T) {
	a := Schema{{Name: "id"}, {Name: "name"}}
	b := Schema{{Name: "id"}, {Name: "email"}}

	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, a.EqualNames(b))
}

func TestHashStringFormat(t *testing.T) {
	hash := Schema{{Name: "x"}}.HashString()
	assert.Len(t, hash, 16)
}

func TestEqualNamesLengthMismatch(t *testing.T) {
	a := Schema{{Name: "id"}}
	b := Schema{{Name: "id"}, {Name: "name"}}
	assert.False(t, a.EqualNames(b))
}

func TestParseColumnType(t *testing.T) {
	assert.Equal(t, TypeNumber, ParseColumnType("number"))
	assert.Equal(t, TypeBoolean, ParseColumnType(" Boolean "))
	assert.Equal(t, TypeUnknown, ParseColumnType("varchar"))
	assert.Equal(t, TypeUnknown, ParseColumnType(""))
}

func TestRecordRoundTrip(t *testing.T) {
	original := Schema{
		{Name: "id", Type: TypeNumber},
		{Name: "name", Type: TypeString},
		{Name: "active", Type: TypeBoolean},
	}

	columns, dataTypes := original.ToRecord()
	assert.Equal(t, []string{"id", "name", "active"}, columns)
	assert.Equal(t, "number", dataTypes["id"])

	rebuilt := FromRecord(columns, dataTypes)
	assert.Equal(t, original, rebuilt)
}

func TestFromRecordMissingType(t *testing.T) {
	rebuilt := FromRecord([]string{"mystery"}, nil)
	require.Len(t, rebuilt, 1)
	assert.Equal(t, TypeUnknown, rebuilt[0].Type)
}

func TestInfer(t *testing.T) {
	assert.Equal(t, TypeBoolean, Infer(true))
	assert.Equal(t, TypeNumber, Infer(42))
	assert.Equal(t, TypeNumber, Infer(3.14))
	assert.Equal(t, TypeString, Infer("hello"))
	assert.Equal(t, TypeText, Infer(strings.Repeat("x", 300)))
	assert.Equal(t, TypeArray, Infer([]interface{}{1, 2}))
	assert.Equal(t, TypeObject, Infer(map[string]interface{}{"k": "v"}))
	assert.Equal(t, TypeUnknown, Infer(nil))
}

func TestInferFromRows(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "alice", "age": 34.0, "active": true, "note": nil},
		{"name": "bob", "age": 28.0, "active": false},
	}

	inferred := InferFromRows([]string{"name", "age", "active", "note"}, rows)
	require.Len(t, inferred, 4)

	assert.Equal(t, Column{Name: "name", Type: TypeString}, inferred[0])
	assert.Equal(t, Column{Name: "age", Type: TypeNumber}, inferred[1])
	assert.Equal(t, Column{Name: "active", Type: TypeBoolean}, inferred[2])
	assert.Equal(t, Column{Name: "note", Type: TypeUnknown}, inferred[3])
}

func TestInferFromRowsMixedFallsBackToString(t *testing.T) {
	rows := []map[string]interface{}{
		{"value": 1.0},
		{"value": "two"},
	}

	inferred := InferFromRows([]string{"value"}, rows)
	assert.Equal(t, TypeString, inferred[0].Type)
}
