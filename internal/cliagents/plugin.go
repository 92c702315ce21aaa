// Package cliagents orchestrates external coding-agent subprocesses
// (Claude Code, Gemini CLI, Codex CLI) and presents them as one more
// provider adapter: argument construction per CLI, subprocess execution
// with idle and total timeout kill semantics, transcript parsing, and
// native↔unified session-id bridging.
package cliagents

import (
	"fmt"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// ParsedOutput is what a plugin extracts from a CLI's raw stdout.
type ParsedOutput struct {
	SessionID string
	Content   string
	Metadata  map[string]any
}

// Plugin supplies everything CLI-specific: how to build command lines for
// new and resumed sessions, which env vars carry the reasoning effort, and
// how to parse the CLI's native transcript format.
type Plugin interface {
	// Name is the CLI's registry key ("claude", "gemini", "codex").
	Name() string

	// Executable is the command name resolved on $PATH.
	Executable() string

	// BuildNewSessionArgs returns argv (minus the executable) for a fresh
	// session.
	BuildNewSessionArgs(task string, contextDirs []string, role string, effort models.ReasoningEffort, extra []string) []string

	// BuildResumeArgs returns argv for resuming a native session.
	BuildResumeArgs(sessionID, task string, effort models.ReasoningEffort, extra []string) []string

	// ReasoningEnvVars returns env vars implementing the effort level, if
	// the CLI uses env rather than flags.
	ReasoningEnvVars(effort models.ReasoningEffort) map[string]string

	// ParseOutput extracts the native session id and the user-facing
	// content from raw stdout.
	ParseOutput(raw string) (ParsedOutput, error)

	// LocateTranscript returns the path of the CLI's on-disk transcript
	// for a session, when the CLI writes one ("" when unknown).
	LocateTranscript(cliSessionID, projectDir string) string
}

// Registry maps CLI names to plugins. It is built explicitly at process
// init (NewDefaultRegistry) rather than via import-time side effects.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds a registry from the given plugins.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.Name()] = p
	}
	return r
}

// NewDefaultRegistry registers the three supported CLIs.
func NewDefaultRegistry() *Registry {
	return NewRegistry(&ClaudePlugin{}, &GeminiPlugin{}, &CodexPlugin{})
}

// Lookup returns the plugin for cliName.
func (r *Registry) Lookup(cliName string) (Plugin, error) {
	p, ok := r.plugins[cliName]
	if !ok {
		return nil, fmt.Errorf("cliagents: no plugin registered for CLI %q", cliName)
	}
	return p, nil
}
