// Package openaiapi implements the OpenAI-style Responses-API adapter and
// its flow orchestrator: request building, background polling or streaming,
// function-call follow-up rounds, and structured-output schema handling.
//
// The wire layer is explicit JSON over the /v1/responses endpoint,
// independent of SDK helpers, so create/retrieve/continue stay bit-exact
// with the documented endpoint contract regardless of SDK surface churn.
package openaiapi

import "encoding/json"

// request is the /v1/responses create body. Input is either a list of
// message items (first round) or a list of functionCallOutput items
// (follow-up rounds with PreviousResponseID set).
type request struct {
	Model              string           `json:"model"`
	Input              any              `json:"input,omitempty"`
	Tools              []map[string]any `json:"tools,omitempty"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int              `json:"max_output_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	Background         bool             `json:"background,omitempty"`
	Stream             bool             `json:"stream,omitempty"`
	Store              bool             `json:"store,omitempty"`
	Reasoning          *reasoningParams `json:"reasoning,omitempty"`
	Text               *textParams      `json:"text,omitempty"`
}

type reasoningParams struct {
	Effort string `json:"effort,omitempty"`
}

type textParams struct {
	Format *formatParams `json:"format,omitempty"`
}

type formatParams struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

// inputMessage is one role-tagged message item.
type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// functionCallOutput is the only item kind a follow-up round may carry
// (reasoning items and prior messages persist server-side and are
// never resent).
type functionCallOutput struct {
	Type   string `json:"type"` // always "function_call_output"
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// response is the Responses-API response object, decoded from create,
// retrieve, and the stream's terminal event alike.
type response struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Output            []outputItem       `json:"output"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details"`
	Error             *apiError          `json:"error"`
	Usage             *usage             `json:"usage"`
}

type outputItem struct {
	Type      string          `json:"type"` // message | function_call | reasoning | file_search_call | web_search_call
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Role      string          `json:"role"`
	Content   []contentPart   `json:"content"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Summary   json.RawMessage `json:"summary"`
}

type contentPart struct {
	Type        string       `json:"type"` // output_text | refusal
	Text        string       `json:"text"`
	Annotations []annotation `json:"annotations"`
}

type annotation struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type incompleteDetails struct {
	Reason string `json:"reason"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// outputText concatenates the text parts of every message item.
func (r *response) outputText() string {
	var out string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				out += part.Text
			}
		}
	}
	return out
}

// functionCalls returns the function_call items in output order.
func (r *response) functionCalls() []outputItem {
	var calls []outputItem
	for _, item := range r.Output {
		if item.Type == "function_call" {
			calls = append(calls, item)
		}
	}
	return calls
}

// sources extracts citation URLs/filenames from message annotations.
func (r *response) sources() []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range r.Output {
		for _, part := range item.Content {
			for _, a := range part.Annotations {
				src := a.URL
				if src == "" {
					src = a.Filename
				}
				if src != "" && !seen[src] {
					seen[src] = true
					out = append(out, src)
				}
			}
		}
	}
	return out
}

func (r *response) terminal() bool {
	switch r.Status {
	case "completed", "incomplete", "failed", "cancelled":
		return true
	}
	return false
}
