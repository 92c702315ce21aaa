package cliagents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	bp := models.Blueprint{ToolName: "chat_with_codex", Model: "codex", Adapter: models.AdapterCLI, CLIName: "codex"}
	return NewService(NewDefaultRegistry(), bp, config.CLIAgentsConfig{
		DefaultIdleTimeoutSeconds:  600,
		DefaultTotalTimeoutSeconds: 600,
		AllowedEnvKeys:             []string{"MCP_FORCE_TEST_KEY"},
	}, nil, nil)
}

func TestInjectCWDPrependsDirective(t *testing.T) {
	s := newTestService(t)
	task := s.injectCWD("do the work", "/home/dev/project")
	require.Equal(t, "Work from this directory: /home/dev/project\n\ndo the work", task)
}

func TestInjectCWDSkipsEphemeralPaths(t *testing.T) {
	s := newTestService(t)
	require.Equal(t, "t", s.injectCWD("t", ""))
	require.Equal(t, "t", s.injectCWD("t", "/"))
	require.Equal(t, "t", s.injectCWD("t", filepath.Join(os.TempDir(), "scratch")))
}

func TestBuildEnvIsolation(t *testing.T) {
	s := newTestService(t)
	t.Setenv("MCP_FORCE_TEST_KEY", "v1")
	t.Setenv("SECRET_TOKEN", "leak-me")

	env := s.buildEnv(&ClaudePlugin{}, models.GenerateRequest{
		ReasoningEffort: models.EffortHigh,
		Extras:          map[string]any{},
	})

	require.Equal(t, os.Getenv("PATH"), env["PATH"])
	require.Equal(t, os.Getenv("HOME"), env["HOME"])
	require.Equal(t, "v1", env["MCP_FORCE_TEST_KEY"])
	require.Equal(t, "63999", env["MAX_THINKING_TOKENS"])
	_, leaked := env["SECRET_TOKEN"]
	require.False(t, leaked, "only whitelisted keys may cross the boundary")
}

func TestBuildEnvCLIHomeOverride(t *testing.T) {
	s := newTestService(t)
	env := s.buildEnv(&CodexPlugin{}, models.GenerateRequest{
		Extras: map[string]any{"cli_home": "/tenants/acme"},
	})
	require.Equal(t, "/tenants/acme", env["HOME"])
}

func TestCleanOutputPassesSmallContent(t *testing.T) {
	s := newTestService(t)
	content, path, err := s.cleanOutput(t.Context(), "short answer")
	require.NoError(t, err)
	require.Equal(t, "short answer", content)
	require.Empty(t, path)
}

func TestCleanOutputPointsToTranscriptWhenHuge(t *testing.T) {
	s := newTestService(t)
	s.transcriptDir = t.TempDir()
	s.summarizeThresholdTokens = 10

	huge := ""
	for i := 0; i < 100; i++ {
		huge += "0123456789"
	}
	content, path, err := s.cleanOutput(t.Context(), huge)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	require.Contains(t, content, "Full transcript: "+path)

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, huge, string(saved))
}
