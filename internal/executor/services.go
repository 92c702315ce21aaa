package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukacf/mcp-the-force-core/pkg/models"
	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
)

// Local-service tools are dispatched directly, without a provider call
// — except describe_session, which recurses through Execute to run
// the configured summarizer model.

// SummarizerTool names the blueprint describe_session recurses through.
const SummarizerTool = "summarize_session"

// ListSessions returns the project's sessions, newest first, optionally
// filtered by a substring over tool name or session id.
func (e *Executor) ListSessions(ctx context.Context, project, search string, limit int, includeSummary bool) ([]sessionstore.ListedSession, error) {
	if project == "" {
		project = "default"
	}
	return e.cache.Store().ListByProject(ctx, project, sessionstore.ListOptions{
		Search:         search,
		Limit:          limit,
		IncludeSummary: includeSummary,
	})
}

// DescribeSession returns an AI-generated summary of a session, cached in
// the summaries table. On a cache miss it renders the transcript, runs the
// summarizer blueprint through the normal Execute path, and stores the
// result.
func (e *Executor) DescribeSession(ctx context.Context, key models.SessionKey) (string, error) {
	if summary, ok, err := e.cache.Store().GetSummary(ctx, key); err != nil {
		return "", err
	} else if ok {
		return summary, nil
	}

	session, err := e.cache.Store().Load(ctx, key)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", fmt.Errorf("executor: session %s/%s/%s not found", key.Project, key.Tool, key.SessionID)
	}

	transcript := renderTranscript(session.History)
	summary, err := e.Execute(ctx, SummarizerTool, map[string]any{
		"instructions": "Summarize this conversation in a short paragraph, covering the topics discussed and any decisions reached:\n\n" + transcript,
		"session_id":   "describe-" + key.SessionID,
		"project_dir":  key.Project,
	})
	if err != nil {
		return "", err
	}

	if err := e.cache.Store().SetSummary(ctx, key, summary); err != nil {
		return "", err
	}
	return summary, nil
}

func renderTranscript(history []models.Turn) string {
	var b strings.Builder
	for _, t := range history {
		switch t.Kind {
		case models.TurnUser:
			fmt.Fprintf(&b, "User: %s\n", t.Text)
		case models.TurnAssistant:
			if t.Text != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", t.Text)
			}
			for _, call := range t.ToolCalls {
				fmt.Fprintf(&b, "Assistant called %s\n", call.Name)
			}
		case models.TurnToolResult:
			fmt.Fprintf(&b, "Tool %s returned %d bytes\n", t.ToolName, len(t.Text))
		}
	}
	return b.String()
}

// Whiteboard is the work_with local service: free-form text stashed and
// retrieved per session, with no provider involved.
type Whiteboard struct {
	cache interface {
		LoadOrCreate(ctx context.Context, key models.SessionKey) (*models.Session, error)
		Save(ctx context.Context, session *models.Session) error
	}
}

const whiteboardKey = "whiteboard"

// NewWhiteboard builds the service over the executor's session cache.
func (e *Executor) NewWhiteboard() *Whiteboard {
	return &Whiteboard{cache: e.cache}
}

// Get returns the stored text for key, "" when none.
func (w *Whiteboard) Get(ctx context.Context, key models.SessionKey) (string, error) {
	session, err := w.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return "", err
	}
	text, _ := session.ProviderMetadata[whiteboardKey].(string)
	return text, nil
}

// Set replaces the stored text.
func (w *Whiteboard) Set(ctx context.Context, key models.SessionKey, text string) error {
	session, err := w.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return err
	}
	session.ProviderMetadata[whiteboardKey] = text
	return w.cache.Save(ctx, session)
}

// Append adds text to the end of the stored value, separated by a newline.
func (w *Whiteboard) Append(ctx context.Context, key models.SessionKey, text string) error {
	session, err := w.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return err
	}
	existing, _ := session.ProviderMetadata[whiteboardKey].(string)
	if existing != "" {
		text = existing + "\n" + text
	}
	session.ProviderMetadata[whiteboardKey] = text
	return w.cache.Save(ctx, session)
}

// DeleteSession removes a session row and its summary.
func (e *Executor) DeleteSession(ctx context.Context, key models.SessionKey) error {
	return e.cache.Store().DeleteSession(ctx, key)
}
