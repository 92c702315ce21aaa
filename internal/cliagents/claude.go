package cliagents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// ClaudePlugin drives the Claude Code CLI.
type ClaudePlugin struct{}

func (p *ClaudePlugin) Name() string       { return "claude" }
func (p *ClaudePlugin) Executable() string { return "claude" }

func (p *ClaudePlugin) BuildNewSessionArgs(task string, contextDirs []string, role string, effort models.ReasoningEffort, extra []string) []string {
	args := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"}
	for _, d := range contextDirs {
		args = append(args, "--add-dir", d)
	}
	if role != "" {
		args = append(args, "--system-prompt", role)
	}
	args = append(args, extra...)
	return append(args, task)
}

func (p *ClaudePlugin) BuildResumeArgs(sessionID, task string, effort models.ReasoningEffort, extra []string) []string {
	args := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions", "--resume", sessionID}
	args = append(args, extra...)
	return append(args, task)
}

// ReasoningEnvVars exports MAX_THINKING_TOKENS. Medium is the CLI's own
// default and is omitted.
func (p *ClaudePlugin) ReasoningEnvVars(effort models.ReasoningEffort) map[string]string {
	switch effort {
	case models.EffortLow:
		return map[string]string{"MAX_THINKING_TOKENS": "16000"}
	case models.EffortHigh:
		return map[string]string{"MAX_THINKING_TOKENS": "63999"}
	case models.EffortXHigh:
		return map[string]string{"MAX_THINKING_TOKENS": "127999"}
	}
	return nil
}

// claudeEvent covers both output shapes the CLI emits: a single result
// object, or an array of events in --verbose style.
type claudeEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
}

// ParseOutput accepts either a single JSON object or a JSON array of
// events. The session id comes from the system/init event or the result
// event; content comes from the result event.
func (p *ClaudePlugin) ParseOutput(raw string) (ParsedOutput, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedOutput{}, fmt.Errorf("cliagents: claude produced no output")
	}

	var events []claudeEvent
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &events); err != nil {
			return ParsedOutput{}, fmt.Errorf("cliagents: claude output is not a valid event array: %w", err)
		}
	} else {
		var single claudeEvent
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return ParsedOutput{}, fmt.Errorf("cliagents: claude output is not valid JSON: %w", err)
		}
		events = []claudeEvent{single}
	}

	var out ParsedOutput
	for _, ev := range events {
		if ev.Type == "system" && ev.Subtype == "init" && ev.SessionID != "" {
			out.SessionID = ev.SessionID
		}
		if ev.Type == "result" {
			if ev.SessionID != "" {
				out.SessionID = ev.SessionID
			}
			out.Content = ev.Result
		}
	}
	if out.Content == "" {
		return ParsedOutput{}, fmt.Errorf("cliagents: claude output contained no result event")
	}
	return out, nil
}

// LocateTranscript maps the project dir to Claude Code's per-project
// transcript directory (path separators become dashes).
func (p *ClaudePlugin) LocateTranscript(cliSessionID, projectDir string) string {
	if cliSessionID == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	munged := strings.ReplaceAll(filepath.Clean(projectDir), string(filepath.Separator), "-")
	return filepath.Join(home, ".claude", "projects", munged, cliSessionID+".jsonl")
}
