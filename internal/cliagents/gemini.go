package cliagents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// GeminiPlugin drives the Gemini CLI.
type GeminiPlugin struct {
	warnOnce sync.Once
}

func (p *GeminiPlugin) Name() string       { return "gemini" }
func (p *GeminiPlugin) Executable() string { return "gemini" }

// BuildNewSessionArgs prepends the role to the task text because the CLI
// has no system-prompt flag.
func (p *GeminiPlugin) BuildNewSessionArgs(task string, contextDirs []string, role string, effort models.ReasoningEffort, extra []string) []string {
	if role != "" {
		task = role + "\n\n" + task
	}
	args := []string{"--output-format", "json", "--yolo"}
	for _, d := range contextDirs {
		args = append(args, "--include-directories", d)
	}
	args = append(args, extra...)
	return append(args, task)
}

func (p *GeminiPlugin) BuildResumeArgs(sessionID, task string, effort models.ReasoningEffort, extra []string) []string {
	args := []string{"--resume", sessionID, "--output-format", "json", "--yolo"}
	args = append(args, extra...)
	return append(args, task)
}

// ReasoningEnvVars: the CLI has no reasoning-effort mechanism; a warning is
// logged once per process when a non-default effort is requested.
func (p *GeminiPlugin) ReasoningEnvVars(effort models.ReasoningEffort) map[string]string {
	if effort != "" && effort != models.EffortMedium {
		p.warnOnce.Do(func() {
			slog.Warn("gemini CLI has no reasoning-effort control; ignoring requested effort", "effort", effort)
		})
	}
	return nil
}

// ParseOutput reads the CLI's single JSON object.
func (p *GeminiPlugin) ParseOutput(raw string) (ParsedOutput, error) {
	var body struct {
		SessionID string `json:"session_id"`
		Response  string `json:"response"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &body); err != nil {
		return ParsedOutput{}, fmt.Errorf("cliagents: gemini output is not valid JSON: %w", err)
	}
	if body.Response == "" {
		return ParsedOutput{}, fmt.Errorf("cliagents: gemini output contained no response")
	}
	return ParsedOutput{SessionID: body.SessionID, Content: body.Response}, nil
}

func (p *GeminiPlugin) LocateTranscript(cliSessionID, projectDir string) string {
	if cliSessionID == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "tmp", cliSessionID, "chats")
}
