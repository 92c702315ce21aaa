package openaiapi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
)

func sampleSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object", "properties": map[string]any{"k": map[string]any{"type": "string"}}},
			},
			"choice": map[string]any{
				"anyOf": []any{
					map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": "integer"}}},
					map[string]any{"type": "string"},
				},
			},
		},
	}
}

func TestMassageSchemaAddsStrictness(t *testing.T) {
	out := MassageSchema(sampleSchema())

	require.Equal(t, false, out["additionalProperties"])
	require.Equal(t, []any{"choice", "name", "tags"}, out["required"])

	items := out["properties"].(map[string]any)["tags"].(map[string]any)["items"].(map[string]any)
	require.Equal(t, false, items["additionalProperties"])
	require.Equal(t, []any{"k"}, items["required"])

	branch := out["properties"].(map[string]any)["choice"].(map[string]any)["anyOf"].([]any)[0].(map[string]any)
	require.Equal(t, false, branch["additionalProperties"])
	require.Equal(t, []any{"a"}, branch["required"])
}

func TestMassageSchemaIsIdempotent(t *testing.T) {
	once := MassageSchema(sampleSchema())
	twice := MassageSchema(once)
	require.Equal(t, once, twice)
}

func TestMassageSchemaPreservesExistingRequired(t *testing.T) {
	in := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "string"}, "b": map[string]any{"type": "string"}},
		"required":   []any{"a"},
	}
	out := MassageSchema(in)
	require.Equal(t, []any{"a"}, out["required"])
}

func TestMassageSchemaDoesNotMutateInput(t *testing.T) {
	in := sampleSchema()
	_ = MassageSchema(in)
	_, has := in["additionalProperties"]
	require.False(t, has)
}

func TestValidateAgainstSchema(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}

	require.NoError(t, ValidateAgainstSchema(`{"name":"x"}`, schema))

	err := ValidateAgainstSchema(`{"name":42}`, schema)
	require.Error(t, err)
	var adapterErr *adapters.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, adapters.CategoryParsing, adapterErr.Category)

	err = ValidateAgainstSchema(`not json at all`, schema)
	require.Error(t, err)
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, adapters.CategoryParsing, adapterErr.Category)
}
