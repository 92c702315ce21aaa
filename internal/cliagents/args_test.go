package cliagents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func TestClaudeNewSessionArgs(t *testing.T) {
	p := &ClaudePlugin{}
	args := p.BuildNewSessionArgs("do the thing", []string{"/repo", "/docs"}, "reviewer", models.EffortHigh, nil)
	require.Equal(t, []string{
		"--print", "--output-format", "json", "--dangerously-skip-permissions",
		"--add-dir", "/repo", "--add-dir", "/docs",
		"--system-prompt", "reviewer",
		"do the thing",
	}, args)
}

func TestClaudeResumeArgs(t *testing.T) {
	p := &ClaudePlugin{}
	args := p.BuildResumeArgs("sess-7", "continue", models.EffortMedium, nil)
	require.Equal(t, []string{
		"--print", "--output-format", "json", "--dangerously-skip-permissions",
		"--resume", "sess-7", "continue",
	}, args)
}

func TestClaudeReasoningEnv(t *testing.T) {
	p := &ClaudePlugin{}
	require.Equal(t, map[string]string{"MAX_THINKING_TOKENS": "16000"}, p.ReasoningEnvVars(models.EffortLow))
	require.Nil(t, p.ReasoningEnvVars(models.EffortMedium), "medium is the CLI default and is omitted")
	require.Equal(t, map[string]string{"MAX_THINKING_TOKENS": "63999"}, p.ReasoningEnvVars(models.EffortHigh))
	require.Equal(t, map[string]string{"MAX_THINKING_TOKENS": "127999"}, p.ReasoningEnvVars(models.EffortXHigh))
}

func TestGeminiNewSessionPrependsRole(t *testing.T) {
	p := &GeminiPlugin{}
	args := p.BuildNewSessionArgs("fix it", []string{"/repo"}, "security auditor", "", nil)
	require.Equal(t, []string{
		"--output-format", "json", "--yolo",
		"--include-directories", "/repo",
		"security auditor\n\nfix it",
	}, args)
}

func TestGeminiResumeArgs(t *testing.T) {
	p := &GeminiPlugin{}
	args := p.BuildResumeArgs("g-1", "go on", "", nil)
	require.Equal(t, []string{"--resume", "g-1", "--output-format", "json", "--yolo", "go on"}, args)
}

func TestCodexNewSessionArgs(t *testing.T) {
	p := &CodexPlugin{}
	args := p.BuildNewSessionArgs("build it", nil, "", models.EffortHigh, nil)
	require.Equal(t, []string{
		"exec", "--json", "--skip-git-repo-check", "--yolo",
		"-c", `model_reasoning_effort="high"`,
		"build it",
	}, args)
}

// Codex resume must use the exec resume subcommand form and never a
// --resume flag.
func TestCodexResumeCommandShape(t *testing.T) {
	p := &CodexPlugin{}
	args := p.BuildResumeArgs("thr_5", "keep going", models.EffortMedium, nil)

	require.Contains(t, args, "exec")
	require.Contains(t, args, "resume")
	require.NotContains(t, args, "--resume")
	require.Equal(t, "exec", args[0])
	require.Equal(t, "resume", args[1])
	require.Equal(t, "thr_5", args[2])
	require.Equal(t, "keep going", args[len(args)-1])
}

func TestRegistryLookup(t *testing.T) {
	r := NewDefaultRegistry()
	for _, name := range []string{"claude", "gemini", "codex"} {
		p, err := r.Lookup(name)
		require.NoError(t, err)
		require.Equal(t, name, p.Name())
	}
	_, err := r.Lookup("cursor")
	require.Error(t, err)
}
