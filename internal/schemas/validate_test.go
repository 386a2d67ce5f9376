package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1}
	},
	"required": ["summary"],
	"additionalProperties": false
}`

func TestValidateJSONStringValid(t *testing.T) {
	err := ValidateJSONString(testSchema, `{"summary": "done"}`)
	assert.NoError(t, err)
}

func TestValidateJSONStringInvalid(t *testing.T) {
	err := ValidateJSONString(testSchema, `{"summary": "", "extra": 1}`)
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.NotEmpty(t, ve.Errors)
}

func TestValidateJSONStringBadSchema(t *testing.T) {
	err := ValidateJSONString(`{"type": nonsense`, `{"summary": "x"}`)
	require.Error(t, err)

	var le *SchemaLoadError
	assert.ErrorAs(t, err, &le)
}
