package openaiapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
)

// Client is the transport layer for the Responses endpoint. Timeouts are
// explicit at every stage — connect 20s, response header 180s, keep-alive
// pool — because an unbounded wait is treated as a bug.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// NewClient builds a client against baseURL (default api.openai.com) with
// the shared transport configuration.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &Client{
		http:    newHTTPClient(),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   20 * time.Second,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 180 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       60 * time.Second,
		},
	}
}

// Create posts a create request and decodes the response object.
func (c *Client) Create(ctx context.Context, req request) (*response, error) {
	return c.do(ctx, http.MethodPost, "/v1/responses", req)
}

// Retrieve polls a background response by id.
func (c *Client) Retrieve(ctx context.Context, responseID string) (*response, error) {
	return c.do(ctx, http.MethodGet, "/v1/responses/"+responseID, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("openaiapi: encode request: %w", err)
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, adapters.New(adapters.CategoryTransientAPI, "openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, adapters.New(adapters.ClassifyStatus(resp.StatusCode), "openai", nil).
			WithStatus(resp.StatusCode).
			WithMessage(fmt.Sprintf("%s %s: %s", method, path, strings.TrimSpace(string(b))))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapters.New(adapters.CategoryParsing, "openai", err).
			WithMessage("decode response body")
	}
	return &out, nil
}

// CreateStreaming posts with stream=true and consumes server-sent events
// until a terminal response event arrives, returning its full response
// object. Deltas are discarded — the orchestrator only needs the final
// response for tool-call extraction and incomplete detection.
func (c *Client) CreateStreaming(ctx context.Context, req request) (*response, error) {
	req.Stream = true

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("openaiapi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, adapters.New(adapters.CategoryTransientAPI, "openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, adapters.New(adapters.ClassifyStatus(resp.StatusCode), "openai", nil).
			WithStatus(resp.StatusCode).
			WithMessage(strings.TrimSpace(string(b)))
	}

	final, err := readStream(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return final, nil
}

// streamEvent is the envelope of the terminal SSE events; every
// response.completed / response.incomplete / response.failed event carries
// the full response object.
type streamEvent struct {
	Type     string    `json:"type"`
	Response *response `json:"response"`
}

func readStream(body io.Reader) (*response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // ignore malformed keep-alive frames
		}
		switch ev.Type {
		case "response.completed", "response.incomplete", "response.failed":
			if ev.Response != nil {
				return ev.Response, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, adapters.New(adapters.CategoryTransientAPI, "openai", err).
			WithMessage("stream read")
	}
	return nil, adapters.New(adapters.CategoryTransientAPI, "openai", nil).
		WithMessage("stream ended without a terminal response event")
}
