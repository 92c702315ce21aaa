package cliagents

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// CodexPlugin drives the Codex CLI.
type CodexPlugin struct{}

func (p *CodexPlugin) Name() string       { return "codex" }
func (p *CodexPlugin) Executable() string { return "codex" }

func (p *CodexPlugin) BuildNewSessionArgs(task string, contextDirs []string, role string, effort models.ReasoningEffort, extra []string) []string {
	if role != "" {
		task = role + "\n\n" + task
	}
	args := []string{"exec", "--json", "--skip-git-repo-check", "--yolo"}
	args = append(args, effortOverride(effort)...)
	args = append(args, extra...)
	return append(args, task)
}

// BuildResumeArgs uses the `exec resume <id>` subcommand form — never a
// `--resume` flag.
func (p *CodexPlugin) BuildResumeArgs(sessionID, task string, effort models.ReasoningEffort, extra []string) []string {
	args := []string{"exec", "resume", sessionID, "--json", "--skip-git-repo-check", "--yolo"}
	args = append(args, effortOverride(effort)...)
	args = append(args, extra...)
	return append(args, task)
}

// effortOverride maps reasoning effort onto the -c config override the CLI
// expects; this CLI takes a flag, not an env var.
func effortOverride(effort models.ReasoningEffort) []string {
	switch effort {
	case models.EffortLow, models.EffortMedium, models.EffortHigh, models.EffortXHigh:
		return []string{"-c", fmt.Sprintf("model_reasoning_effort=%q", string(effort))}
	}
	return nil
}

func (p *CodexPlugin) ReasoningEnvVars(effort models.ReasoningEffort) map[string]string {
	return nil
}

// codexEvent is one JSONL line of the exec stream.
type codexEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Item     struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// ParseOutput walks the JSONL stream. The thread id comes from
// thread.started; content aggregates agent_message items — and only those
// from the last turn.started…turn.completed bracket, so resumed sessions
// do not replay earlier turns' output.
func (p *CodexPlugin) ParseOutput(raw string) (ParsedOutput, error) {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var threadID string
	var current []string
	var lastCompleted []string
	inTurn := false
	sawCompleted := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue // tolerate non-JSON noise between events
		}
		switch ev.Type {
		case "thread.started":
			if ev.ThreadID != "" {
				threadID = ev.ThreadID
			}
		case "turn.started":
			current = nil
			inTurn = true
		case "item.completed":
			if inTurn && ev.Item.Type == "agent_message" && ev.Item.Text != "" {
				current = append(current, ev.Item.Text)
			}
		case "turn.completed":
			lastCompleted = current
			sawCompleted = true
			inTurn = false
		}
	}
	if err := scanner.Err(); err != nil {
		return ParsedOutput{}, fmt.Errorf("cliagents: codex output scan: %w", err)
	}

	content := lastCompleted
	if !sawCompleted {
		// Stream ended mid-turn; the open bracket is the best we have.
		content = current
	}
	if len(content) == 0 {
		return ParsedOutput{}, fmt.Errorf("cliagents: codex output contained no agent messages")
	}
	return ParsedOutput{SessionID: threadID, Content: strings.Join(content, "\n")}, nil
}

func (p *CodexPlugin) LocateTranscript(cliSessionID, projectDir string) string {
	if cliSessionID == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codex", "sessions", cliSessionID+".jsonl")
}
