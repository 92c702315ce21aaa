// Command mcp-the-force runs the routing core behind a stdio MCP server.
// The transport itself is the minimal glue a host needs: tool registration
// and JSON-RPC framing come from the MCP SDK; everything interesting lives
// in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lukacf/mcp-the-force-core/internal/blueprint"
	"github.com/lukacf/mcp-the-force-core/internal/cliagents"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/executor"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/providers"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
	"github.com/lukacf/mcp-the-force-core/internal/tooldispatch"
	"github.com/lukacf/mcp-the-force-core/internal/vectorstore"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	_ = godotenv.Load() // a missing .env is fine; real deployments use the environment

	settings := config.Default()
	if path := os.Getenv("MCP_FORCE_CONFIG"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		settings, err = config.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	db, err := sessionstore.Open(settings.Session.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store := sessionstore.New(db, sessionstore.Options{
		TTL:                time.Duration(settings.Session.TTLSeconds) * time.Second,
		CleanupProbability: settings.Session.CleanupProbability,
	})
	cache := sessioncache.New(store)

	localBackend, err := vectorstore.NewLocalBackend(filepath.Join(filepath.Dir(settings.Session.DBPath), ".mcp_vector_stores"))
	if err != nil {
		return err
	}
	local := vectorstore.NewClient(localBackend, settings.VectorStore.ParallelBatches, settings.VectorStore.MaxRetries)

	var remote *vectorstore.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && settings.VectorStore.DefaultProvider == "openai" {
		remote = vectorstore.NewClient(vectorstore.NewOpenAIBackend(), settings.VectorStore.ParallelBatches, settings.VectorStore.MaxRetries)
	}
	manager := vectorstore.NewManager(db, remote, local,
		time.Duration(settings.Session.TTLSeconds)*time.Second, settings.VectorStore.RolloverLimit)

	dispatcher := tooldispatch.NewDispatcher(settings.ToolDispatch.MaxParallelToolExec, logger)
	tooldispatch.RegisterBuiltins(dispatcher,
		tooldispatch.NewSessionMemorySearcher(store),
		vectorstore.NewAttachmentSearcher(manager))

	registry := blueprint.NewRegistry(blueprint.Defaults())

	resolver := providers.NewResolver(providers.Credentials{
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		XAIAPIKey:       os.Getenv("XAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:   os.Getenv("OLLAMA_BASE_URL"),
	}, settings, dispatcher, cliagents.NewDefaultRegistry(), nil, logger)

	exec := executor.New(registry, resolver, cache, optimizer.NewSimpleOptimizer(), manager, settings, logger)

	s := server.NewMCPServer("mcp-the-force", "1.0.0")
	registerChatTools(s, exec, registry)
	registerLocalTools(s, exec)

	logger.Info("serving MCP over stdio", "db", settings.Session.DBPath)
	return server.ServeStdio(s)
}

func registerChatTools(s *server.MCPServer, exec *executor.Executor, registry *blueprint.Registry) {
	for _, bp := range registry.All() {
		bp := bp
		tool := mcp.NewTool(bp.ToolName,
			mcp.WithDescription(fmt.Sprintf("Chat with %s (context window %d tokens).", bp.Model, bp.ContextWindow)),
			mcp.WithString("instructions", mcp.Required(), mcp.Description("What to do")),
			mcp.WithString("output_format", mcp.Description("Desired response format")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation continuity key")),
		)
		s.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			content, err := exec.Execute(ctx, bp.ToolName, request.GetArguments())
			if err != nil {
				return mcp.NewToolResultError(executor.FormatErrorPayload(err)), nil
			}
			return mcp.NewToolResultText(content), nil
		})
	}
}

func registerLocalTools(s *server.MCPServer, exec *executor.Executor) {
	list := mcp.NewTool("list_sessions",
		mcp.WithDescription("List recent sessions for a project, newest first."),
		mcp.WithString("project", mcp.Description("Project directory")),
		mcp.WithString("search", mcp.Description("Substring filter over tool/session id")),
	)
	s.AddTool(list, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		project, _ := args["project"].(string)
		search, _ := args["search"].(string)
		rows, err := exec.ListSessions(ctx, project, search, 50, true)
		if err != nil {
			return mcp.NewToolResultError(executor.FormatErrorPayload(err)), nil
		}
		out := ""
		for _, row := range rows {
			out += fmt.Sprintf("%s/%s", row.Tool, row.SessionID)
			if row.Summary != "" {
				out += " — " + row.Summary
			}
			out += "\n"
		}
		if out == "" {
			out = "No sessions found."
		}
		return mcp.NewToolResultText(out), nil
	})

	describe := mcp.NewTool("describe_session",
		mcp.WithDescription("Summarize a prior session."),
		mcp.WithString("project", mcp.Description("Project directory")),
		mcp.WithString("tool", mcp.Required(), mcp.Description("Tool the session belongs to")),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to describe")),
	)
	s.AddTool(describe, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		project, _ := args["project"].(string)
		if project == "" {
			project = "default"
		}
		toolName, _ := args["tool"].(string)
		sessionID, _ := args["session_id"].(string)
		summary, err := exec.DescribeSession(ctx, models.SessionKey{Project: project, Tool: toolName, SessionID: sessionID})
		if err != nil {
			return mcp.NewToolResultError(executor.FormatErrorPayload(err)), nil
		}
		return mcp.NewToolResultText(summary), nil
	})

	whiteboard := exec.NewWhiteboard()
	work := mcp.NewTool("work_with",
		mcp.WithDescription("Stash or retrieve free-form session-scoped notes."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session key")),
		mcp.WithString("action", mcp.Required(), mcp.Description("get, set, or append")),
		mcp.WithString("text", mcp.Description("Text for set/append")),
		mcp.WithString("project", mcp.Description("Project directory")),
	)
	s.AddTool(work, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		project, _ := args["project"].(string)
		if project == "" {
			project = "default"
		}
		sessionID, _ := args["session_id"].(string)
		text, _ := args["text"].(string)
		key := models.SessionKey{Project: project, Tool: "work_with", SessionID: sessionID}

		var err error
		var out string
		switch action, _ := args["action"].(string); action {
		case "get":
			out, err = whiteboard.Get(ctx, key)
		case "set":
			err = whiteboard.Set(ctx, key, text)
			out = "ok"
		case "append":
			err = whiteboard.Append(ctx, key, text)
			out = "ok"
		default:
			return mcp.NewToolResultError(`{"error":{"category":"invalid_params","message":"action must be get, set, or append"}}`), nil
		}
		if err != nil {
			return mcp.NewToolResultError(executor.FormatErrorPayload(err)), nil
		}
		return mcp.NewToolResultText(out), nil
	})
}
