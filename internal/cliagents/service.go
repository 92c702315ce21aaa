package cliagents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// Summarizer condenses an oversized CLI transcript; the Executor wires this
// to a small API model. A nil Summarizer falls back to truncation.
type Summarizer func(ctx context.Context, text string) (string, error)

// Service presents a CLI agent as a ProviderAdapter: it spawns the
// plugin's executable with timeout kill semantics, parses the native
// transcript format, bridges the native session id, and cleans the output
// before the host sees it.
type Service struct {
	registry   *Registry
	executor   *Executor
	blueprint  models.Blueprint
	cfg        config.CLIAgentsConfig
	summarize  Summarizer
	logger     *slog.Logger
	// transcriptDir receives full transcripts when output exceeds the
	// summarization threshold.
	transcriptDir string
	// summarizeThresholdTokens triggers the large-output pointer path.
	summarizeThresholdTokens int
}

// NewService wires a Service for one blueprint.
func NewService(registry *Registry, bp models.Blueprint, cfg config.CLIAgentsConfig, summarize Summarizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:                 registry,
		executor:                 &Executor{MaxOutputBytes: cfg.MaxOutputBytes},
		blueprint:                bp,
		cfg:                      cfg,
		summarize:                summarize,
		logger:                   logger,
		transcriptDir:            filepath.Join(os.TempDir(), "mcp-the-force-transcripts"),
		summarizeThresholdTokens: 20000,
	}
}

func (s *Service) Name() string { return "cli:" + s.blueprint.CLIName }

func (s *Service) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResult, error) {
	plugin, err := s.registry.Lookup(s.blueprint.CLIName)
	if err != nil {
		return models.GenerateResult{}, adapters.New(adapters.CategoryConfiguration, s.Name(), err)
	}

	projectDir, _ := req.Extras["project_dir"].(string)
	task := s.injectCWD(req.Prompt, projectDir)

	cliID := ""
	if req.Session != nil {
		cliID = sessioncache.CLISessionID(req.Session, plugin.Name())
	}

	role, _ := req.Extras["role"].(string)
	var args []string
	if cliID == "" {
		var contextDirs []string
		if projectDir != "" {
			contextDirs = []string{projectDir}
		}
		args = plugin.BuildNewSessionArgs(task, contextDirs, role, req.ReasoningEffort, nil)
	} else {
		args = plugin.BuildResumeArgs(cliID, task, req.ReasoningEffort, nil)
	}

	env := s.buildEnv(plugin, req)
	totalTimeout := s.totalTimeout(ctx)
	idleTimeout := time.Duration(s.cfg.DefaultIdleTimeoutSeconds) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = 600 * time.Second
	}

	result, err := s.executor.Execute(ctx, plugin.Executable(), args, env, totalTimeout, idleTimeout, projectDir)
	if err != nil {
		if ctx.Err() != nil {
			return models.GenerateResult{}, ctx.Err()
		}
		observability.CLIRuns.WithLabelValues(plugin.Name(), "spawn_error").Inc()
		return models.GenerateResult{}, adapters.New(adapters.CategoryConfiguration, s.Name(), err).
			WithMessage(err.Error())
	}

	if result.TimedOut || result.IdleTimeoutTriggered || result.ReturnCode != 0 {
		mode := "exit_" + fmt.Sprint(result.ReturnCode)
		if result.TimedOut {
			mode = "total_timeout"
		} else if result.IdleTimeoutTriggered {
			mode = "idle_timeout"
		}
		observability.CLIRuns.WithLabelValues(plugin.Name(), mode).Inc()
		return models.GenerateResult{}, adapters.New(adapters.CategoryTimeout, s.Name(), nil).
			WithMessage(fmt.Sprintf("%s failed (%s): %s", plugin.Executable(), mode, stderrTail(result.Stderr)))
	}

	parsed, err := plugin.ParseOutput(result.Stdout)
	if err != nil {
		observability.CLIRuns.WithLabelValues(plugin.Name(), "parse_error").Inc()
		return models.GenerateResult{}, adapters.New(adapters.CategoryParsing, s.Name(), err).
			WithMessage(err.Error())
	}

	content, transcriptPath, err := s.cleanOutput(ctx, parsed.Content)
	if err != nil {
		return models.GenerateResult{}, err
	}

	if req.Session != nil {
		if parsed.SessionID != "" {
			sessioncache.SetCLISessionID(req.Session, plugin.Name(), parsed.SessionID)
		}
		err := sessioncache.AppendExchange(req.Session,
			models.Turn{Kind: models.TurnUser, Text: req.Prompt},
			models.Turn{Kind: models.TurnAssistant, Text: content},
		)
		if err != nil {
			return models.GenerateResult{}, err
		}
	}

	observability.CLIRuns.WithLabelValues(plugin.Name(), "ok").Inc()
	out := models.GenerateResult{Content: content}
	if transcriptPath != "" {
		out.Debug = map[string]any{"transcript_path": transcriptPath}
	}
	return out, nil
}

// injectCWD prepends the working-directory instruction to the task when the
// project directory is a real checkout rather than a default/ephemeral
// path. This happens here, once, so plugins never do it themselves.
func (s *Service) injectCWD(task, projectDir string) string {
	if projectDir == "" || isEphemeralDir(projectDir) {
		return task
	}
	return fmt.Sprintf("Work from this directory: %s\n\n%s", projectDir, task)
}

func isEphemeralDir(dir string) bool {
	clean := filepath.Clean(dir)
	return clean == "/" || clean == "." || strings.HasPrefix(clean, os.TempDir())
}

// buildEnv constructs a fresh environment: PATH and HOME from the host (or
// the per-call cli_home override for tenant isolation), the configured
// allowlisted keys, and the plugin's reasoning vars.
func (s *Service) buildEnv(plugin Plugin, req models.GenerateRequest) map[string]string {
	env := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": os.Getenv("HOME"),
	}
	if home, _ := req.Extras["cli_home"].(string); home != "" {
		env["HOME"] = home
	}
	for _, key := range s.cfg.AllowedEnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range plugin.ReasoningEnvVars(req.ReasoningEffort) {
		env[k] = v
	}
	return env
}

func (s *Service) totalTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	if s.blueprint.Timeout > 0 {
		return s.blueprint.Timeout
	}
	return time.Duration(s.cfg.DefaultTotalTimeoutSeconds) * time.Second
}

// cleanOutput: raw transcript noise is already stripped by
// ParseOutput; very large outputs are summarized and returned with a
// filesystem pointer to the full text.
func (s *Service) cleanOutput(ctx context.Context, content string) (string, string, error) {
	if optimizer.EstimateTokens(content) <= s.summarizeThresholdTokens {
		return content, "", nil
	}

	if err := os.MkdirAll(s.transcriptDir, 0o755); err != nil {
		return content, "", nil // pointer is best-effort; keep the content
	}
	path := filepath.Join(s.transcriptDir, uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return content, "", nil
	}

	summary := ""
	if s.summarize != nil {
		var err error
		summary, err = s.summarize(ctx, content)
		if err != nil {
			s.logger.Warn("transcript summarization failed; truncating instead", "error", err)
			summary = ""
		}
	}
	if summary == "" {
		cut := s.summarizeThresholdTokens * 4
		if cut > len(content) {
			cut = len(content)
		}
		summary = content[:cut] + "\n\n[output truncated]"
	}
	return fmt.Sprintf("%s\n\nFull transcript: %s", summary, path), path, nil
}

func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	const tail = 2000
	if len(stderr) > tail {
		stderr = "…" + stderr[len(stderr)-tail:]
	}
	if stderr == "" {
		return "(no stderr)"
	}
	return stderr
}
