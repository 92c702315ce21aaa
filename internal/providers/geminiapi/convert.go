// Package geminiapi implements the Gemini/Vertex adapter: typed
// Content/Part construction, FunctionDeclaration tools, permissive safety
// settings, thinking budgets, and a restricted response-schema subset.
package geminiapi

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// TurnsToContents rebuilds provider-native Content objects from stored
// turns. Tool calls become model-role function_call parts; tool results
// become user-role function_response parts, matching the API's round shape.
func TurnsToContents(turns []models.Turn) []*genai.Content {
	var out []*genai.Content
	for _, t := range turns {
		switch t.Kind {
		case models.TurnUser:
			out = append(out, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: t.Text}},
			})
		case models.TurnAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if t.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: t.Text})
			}
			for _, call := range t.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: call.Name, Args: decodeArgs(call.Arguments)},
				})
			}
			if len(content.Parts) > 0 {
				out = append(out, content)
			}
		case models.TurnToolResult:
			out = append(out, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     t.ToolName,
						Response: map[string]any{"result": t.Text},
					},
				}},
			})
		}
	}
	return out
}

// ContentToTurns converts a model response Content back into stored turns,
// preserving text parts and function calls.
func ContentToTurns(content *genai.Content) []models.Turn {
	if content == nil {
		return nil
	}
	turn := models.Turn{Kind: models.TurnAssistant}
	for _, part := range content.Parts {
		if part.Text != "" {
			turn.Text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			turn.ToolCalls = append(turn.ToolCalls, models.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
		}
	}
	if !turn.NonEmpty() {
		return nil
	}
	return []models.Turn{turn}
}

func decodeArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// DeclarationsToTools converts dispatcher declarations to the Gemini
// FunctionDeclaration shape.
func DeclarationsToTools(decls []adapters.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, d := range decls {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  SchemaFromMap(d.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// SchemaFromMap converts a restricted JSON-Schema dictionary to Gemini's
// typed Schema: types, enum, required, properties, items, and item-count
// bounds. Type names are canonicalized to the SDK's uppercase enum.
func SchemaFromMap(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = SchemaFromMap(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = SchemaFromMap(items)
	}
	if v, ok := numArg(schemaMap["minItems"]); ok {
		schema.MinItems = genai.Ptr(v)
	}
	if v, ok := numArg(schemaMap["maxItems"]); ok {
		schema.MaxItems = genai.Ptr(v)
	}
	return schema
}

// SchemaToMap is the inverse of SchemaFromMap: the
// round trip preserves all fields with type canonicalized to uppercase.
func SchemaToMap(schema *genai.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	out := map[string]any{}
	if schema.Type != "" {
		out["type"] = string(schema.Type)
	}
	if schema.Description != "" {
		out["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		enum := make([]any, len(schema.Enum))
		for i, e := range schema.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]any, len(schema.Properties))
		for name, sub := range schema.Properties {
			props[name] = SchemaToMap(sub)
		}
		out["properties"] = props
	}
	if len(schema.Required) > 0 {
		required := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			required[i] = r
		}
		out["required"] = required
	}
	if schema.Items != nil {
		out["items"] = SchemaToMap(schema.Items)
	}
	if schema.MinItems != nil {
		out["minItems"] = float64(*schema.MinItems)
	}
	if schema.MaxItems != nil {
		out["maxItems"] = float64(*schema.MaxItems)
	}
	return out
}

func numArg(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
