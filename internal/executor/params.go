package executor

import (
	"fmt"
	"sort"
)

// ChatParams is the validated, typed form of the flat parameter map every
// chat tool accepts.
type ChatParams struct {
	Instructions           string
	OutputFormat           string
	Context                []string
	PriorityContext        []string
	SessionID              string
	Temperature            float64
	ReasoningEffort        string
	SearchMode             string
	StructuredOutputSchema map[string]any
	DisableMemorySearch    bool
	VectorStoreIDs         []string
	Role                   string
	ProjectDir             string
	CLIHome                string
}

// paramSpec is one accepted parameter: its decoder enforces the type.
type paramSpec struct {
	decode func(p *ChatParams, v any) error
}

var chatParamSpecs = map[string]paramSpec{
	"instructions":    {decode: stringParam(func(p *ChatParams, s string) { p.Instructions = s })},
	"output_format":   {decode: stringParam(func(p *ChatParams, s string) { p.OutputFormat = s })},
	"context":         {decode: stringListParam(func(p *ChatParams, l []string) { p.Context = l })},
	"priority_context": {decode: stringListParam(func(p *ChatParams, l []string) { p.PriorityContext = l })},
	"session_id":      {decode: stringParam(func(p *ChatParams, s string) { p.SessionID = s })},
	"temperature": {decode: func(p *ChatParams, v any) error {
		f, ok := v.(float64)
		if !ok {
			if i, isInt := v.(int); isInt {
				f, ok = float64(i), true
			}
		}
		if !ok {
			return fmt.Errorf("temperature must be a number")
		}
		p.Temperature = f
		return nil
	}},
	"reasoning_effort": {decode: enumParam([]string{"low", "medium", "high", "xhigh"}, func(p *ChatParams, s string) { p.ReasoningEffort = s })},
	"search_mode":      {decode: enumParam([]string{"auto", "on", "off"}, func(p *ChatParams, s string) { p.SearchMode = s })},
	"structured_output_schema": {decode: func(p *ChatParams, v any) error {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("structured_output_schema must be an object")
		}
		p.StructuredOutputSchema = m
		return nil
	}},
	"disable_memory_search": {decode: func(p *ChatParams, v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("disable_memory_search must be a boolean")
		}
		p.DisableMemorySearch = b
		return nil
	}},
	"vector_store_ids": {decode: stringListParam(func(p *ChatParams, l []string) { p.VectorStoreIDs = l })},
	"role":             {decode: stringParam(func(p *ChatParams, s string) { p.Role = s })},
	"project_dir":      {decode: stringParam(func(p *ChatParams, s string) { p.ProjectDir = s })},
	"cli_home":         {decode: stringParam(func(p *ChatParams, s string) { p.CLIHome = s })},
}

// ValidateChatParams rejects unknown keys and mistyped values, then
// enforces the required fields.
func ValidateChatParams(raw map[string]any) (ChatParams, error) {
	var params ChatParams
	var unknown []string
	for key, value := range raw {
		spec, ok := chatParamSpecs[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if err := spec.decode(&params, value); err != nil {
			return ChatParams{}, &InvalidParamsError{Detail: fmt.Sprintf("parameter %q: %v", key, err)}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ChatParams{}, &InvalidParamsError{Detail: fmt.Sprintf("unknown parameters: %v", unknown)}
	}
	if params.Instructions == "" {
		return ChatParams{}, &InvalidParamsError{Detail: "instructions is required"}
	}
	if params.SessionID == "" {
		return ChatParams{}, &InvalidParamsError{Detail: "session_id is required"}
	}
	return params, nil
}

// InvalidParamsError reports a parameter-validation failure before any
// provider work happens.
type InvalidParamsError struct {
	Detail string
}

func (e *InvalidParamsError) Error() string {
	return "executor: invalid parameters: " + e.Detail
}

func stringParam(set func(*ChatParams, string)) func(*ChatParams, any) error {
	return func(p *ChatParams, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		set(p, s)
		return nil
	}
}

func stringListParam(set func(*ChatParams, []string)) func(*ChatParams, any) error {
	return func(p *ChatParams, v any) error {
		switch list := v.(type) {
		case []string:
			set(p, list)
		case []any:
			out := make([]string, len(list))
			for i, e := range list {
				s, ok := e.(string)
				if !ok {
					return fmt.Errorf("must be a list of strings")
				}
				out[i] = s
			}
			set(p, out)
		default:
			return fmt.Errorf("must be a list of strings")
		}
		return nil
	}
}

func enumParam(allowed []string, set func(*ChatParams, string)) func(*ChatParams, any) error {
	return func(p *ChatParams, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		for _, a := range allowed {
			if s == a {
				set(p, s)
				return nil
			}
		}
		return fmt.Errorf("must be one of %v", allowed)
	}
}
