package openaiapi

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
)

// MassageSchema prepares a caller-supplied JSON Schema for strict
// structured output: every object-typed subschema gets
// additionalProperties:false and, when missing, a required array listing
// every declared property. Recursion covers properties.*, items, and the
// anyOf/allOf/oneOf combinators. The transform is idempotent and returns a
// new map; the input is never mutated.
func MassageSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if t, _ := out["type"].(string); t == "object" {
		out["additionalProperties"] = false
		if props, ok := out["properties"].(map[string]any); ok {
			if _, has := out["required"]; !has {
				names := make([]string, 0, len(props))
				for name := range props {
					names = append(names, name)
				}
				sort.Strings(names)
				required := make([]any, len(names))
				for i, n := range names {
					required[i] = n
				}
				out["required"] = required
			}
			massaged := make(map[string]any, len(props))
			for name, sub := range props {
				if subMap, ok := sub.(map[string]any); ok {
					massaged[name] = MassageSchema(subMap)
				} else {
					massaged[name] = sub
				}
			}
			out["properties"] = massaged
		}
	}

	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = MassageSchema(items)
	}

	for _, combinator := range []string{"anyOf", "allOf", "oneOf"} {
		branches, ok := out[combinator].([]any)
		if !ok {
			continue
		}
		massaged := make([]any, len(branches))
		for i, branch := range branches {
			if branchMap, ok := branch.(map[string]any); ok {
				massaged[i] = MassageSchema(branchMap)
			} else {
				massaged[i] = branch
			}
		}
		out[combinator] = massaged
	}

	return out
}

// ValidateAgainstSchema checks content against the caller's original schema
// and raises a Parsing error on failure.
func ValidateAgainstSchema(content string, schema map[string]any) error {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return adapters.New(adapters.CategoryParsing, "openai", err).
			WithMessage("encode structured-output schema")
	}
	compiled, err := jsonschema.CompileString("structured_output.json", string(schemaJSON))
	if err != nil {
		return adapters.New(adapters.CategoryParsing, "openai", err).
			WithMessage("compile structured-output schema")
	}

	var value any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &value); err != nil {
		return adapters.New(adapters.CategoryParsing, "openai", err).
			WithMessage("model output is not valid JSON")
	}
	if err := compiled.Validate(value); err != nil {
		return adapters.New(adapters.CategoryParsing, "openai", err).
			WithMessage(fmt.Sprintf("model output failed schema validation: %v", err))
	}
	return nil
}
