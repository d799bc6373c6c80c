package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemaArgs struct {
	Path    string  `json:"path" description:"File path"`
	Line    int     `json:"line,omitempty"`
	Content *string `json:"content"`
	hidden  string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(schemaArgs{})

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "line")
	assert.Contains(t, props, "content")
	assert.NotContains(t, props, "hidden")

	path, ok := props["path"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", path["type"])
	assert.Equal(t, "File path", path["description"])

	// Pointer and omitempty fields are optional.
	assert.Equal(t, []string{"path"}, schema["required"])
}

func TestValidateParametersGoBuiltSchema(t *testing.T) {
	schema := CreateSchema(schemaArgs{})

	assert.NoError(t, ValidateParameters(map[string]any{"path": "a.go"}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "path", vErr.Field)
}

func TestValidateParametersDecodedSchema(t *testing.T) {
	// Schemas that travel through JSON decode required into []any.
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
		"required": []any{"count"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"count": 3}, schema))
	// JSON numbers decode as float64; whole values count as integers.
	assert.NoError(t, ValidateParameters(map[string]any{"count": 3.0}, schema))
	assert.Error(t, ValidateParameters(map[string]any{"count": 3.5}, schema))
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
}

func TestValidateParametersTypeMismatch(t *testing.T) {
	schema := CreateSchema(schemaArgs{})

	err := ValidateParameters(map[string]any{"path": 42}, schema)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type string")
}
