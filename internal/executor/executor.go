// Package executor implements the top-level request driver: it
// validates parameters, routes through the token-budget optimizer, binds
// vector stores for overflow context, runs the selected provider adapter
// under a deadline, applies the retry-with-reduced-context policy, and
// persists the session.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lukacf/mcp-the-force-core/internal/adapters"
	"github.com/lukacf/mcp-the-force-core/internal/blueprint"
	"github.com/lukacf/mcp-the-force-core/internal/config"
	"github.com/lukacf/mcp-the-force-core/internal/observability"
	"github.com/lukacf/mcp-the-force-core/internal/optimizer"
	"github.com/lukacf/mcp-the-force-core/internal/sessioncache"
	"github.com/lukacf/mcp-the-force-core/internal/vectorstore"
	"github.com/lukacf/mcp-the-force-core/internal/workerpool"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
)

// AdapterResolver returns the ProviderAdapter serving a blueprint. The
// production resolver constructs per-provider singletons; tests inject
// fakes.
type AdapterResolver interface {
	For(bp models.Blueprint) (adapters.ProviderAdapter, error)
}

// VectorStoreBinder is the Manager subset the Executor drives, kept as an
// interface for testability.
type VectorStoreBinder interface {
	GetOrCreate(ctx context.Context, sessionID string, preferRemote bool) (vectorstore.StoreInfo, error)
	AddFiles(ctx context.Context, info vectorstore.StoreInfo, files []models.VectorStoreFile, alreadyPresent map[string]bool) (uploaded, skipped []string, err error)
}

// Executor is the per-process request driver. Safe for concurrent callers;
// the host must not run two tools on the same session concurrently.
type Executor struct {
	registry *blueprint.Registry
	resolver AdapterResolver
	cache    *sessioncache.Cache
	opt      optimizer.Optimizer
	vectors  VectorStoreBinder
	cfg      config.Settings
	logger   *slog.Logger
	// diskPool bounds blocking local-disk work.
	diskPool *workerpool.Pool

	// readFile loads overflow files for upload; swappable in tests.
	readFile func(path string) ([]byte, error)
}

// New wires an Executor.
func New(registry *blueprint.Registry, resolver AdapterResolver, cache *sessioncache.Cache, opt optimizer.Optimizer, vectors VectorStoreBinder, cfg config.Settings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		resolver: resolver,
		cache:    cache,
		opt:      opt,
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger,
		diskPool: workerpool.New(cfg.Executor.WorkerPoolSize),
		readFile: os.ReadFile,
	}
}

// Execute drives one chat tool invocation end to end and returns the final
// assistant content.
func (e *Executor) Execute(ctx context.Context, toolName string, rawParams map[string]any) (string, error) {
	ctx, span := observability.StartToolSpan(ctx, toolName, fmt.Sprint(rawParams["session_id"]))
	defer span.End()

	params, err := ValidateChatParams(rawParams)
	if err != nil {
		return "", err
	}

	bp, err := e.registry.Resolve(toolName)
	if err != nil {
		return "", err
	}

	adapter, err := e.resolver.For(bp)
	if err != nil {
		return "", err
	}

	project := params.ProjectDir
	if project == "" {
		project = "default"
	}
	key := models.SessionKey{Project: project, Tool: toolName, SessionID: params.SessionID}
	session, err := e.cache.LoadOrCreate(ctx, key)
	if err != nil {
		return "", err
	}

	budget := int(e.contextPercentage() * float64(bp.ContextWindow))
	maxAttempts := e.cfg.Executor.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	reduction := e.cfg.Executor.ContextReductionFactor
	if reduction <= 0 || reduction >= 1 {
		reduction = 0.75
	}

	vectorStoreIDs := append([]string(nil), params.VectorStoreIDs...)

	for attempt := 0; ; attempt++ {
		optResult, err := e.opt.Optimize(ctx, optimizer.Request{
			Instructions:  params.Instructions,
			OutputFormat:  params.OutputFormat,
			ContextPaths:  params.Context,
			PriorityPaths: params.PriorityContext,
			History:       session.History,
			TokenBudget:   budget,
		})
		if err != nil {
			return "", err
		}

		// Vector stores are bound once: overflow (or caller-supplied ids)
		// on the first attempt; retries reuse the already-built stores,
		// which already hold the overflow.
		if attempt == 0 && (len(optResult.OverflowPaths) > 0 || len(params.VectorStoreIDs) > 0) {
			ids, err := e.bindVectorStore(ctx, session, params.SessionID, optResult.OverflowPaths)
			if err != nil {
				return "", err
			}
			vectorStoreIDs = append(vectorStoreIDs, ids...)
		}

		req := models.GenerateRequest{
			Session:                session,
			Prompt:                 params.Instructions,
			Messages:               optResult.Messages,
			SessionID:              params.SessionID,
			Project:                project,
			ToolName:               toolName,
			VectorStoreIDs:         vectorStoreIDs,
			Temperature:            params.Temperature,
			ReasoningEffort:        models.ReasoningEffort(params.ReasoningEffort),
			StructuredOutputSchema: params.StructuredOutputSchema,
			SearchMode:             params.SearchMode,
			DisableMemorySearch:    params.DisableMemorySearch,
			Extras: map[string]any{
				"project_dir": params.ProjectDir,
				"cli_home":    params.CLIHome,
				"role":        params.Role,
			},
		}

		result, err := e.runWithDeadline(ctx, adapter, bp, req)
		if err != nil {
			if retry, ok := adapters.AsRetryWithReducedContext(err); ok && attempt < maxAttempts {
				observability.RetryWithReducedContext.Inc()
				e.logger.Info("retrying with reduced context",
					"tool", toolName, "session_id", params.SessionID,
					"reason", retry.Reason, "attempt", attempt+1, "budget", budget)
				budget = int(float64(budget) * reduction)
				continue
			}
			// Failure must leave the persisted session untouched.
			return "", err
		}

		if err := e.cache.Save(ctx, session); err != nil {
			return "", err
		}
		observability.SessionSaves.Inc()
		return result.Content, nil
	}
}

// runWithDeadline enforces the blueprint's per-call deadline around the
// adapter.
func (e *Executor) runWithDeadline(ctx context.Context, adapter adapters.ProviderAdapter, bp models.Blueprint, req models.GenerateRequest) (models.GenerateResult, error) {
	timeout := bp.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := adapter.Generate(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
		return models.GenerateResult{}, adapters.New(adapters.CategoryTimeout, adapter.Name(), err).
			WithModel(bp.Model).
			WithMessage(fmt.Sprintf("call exceeded %s deadline; consider background mode", timeout))
	}
	return result, err
}

// bindVectorStore allocates (or reuses) the session's store and uploads the
// overflow paths, deduplicating against the paths already present in
// session metadata.
func (e *Executor) bindVectorStore(ctx context.Context, session *models.Session, sessionID string, overflowPaths []string) ([]string, error) {
	preferRemote := e.cfg.VectorStore.DefaultProvider != "" && e.cfg.VectorStore.DefaultProvider != "hnsw"
	info, err := e.vectors.GetOrCreate(ctx, sessionID, preferRemote)
	if err != nil {
		return nil, err
	}
	sessioncache.SetVectorStoreBinding(session, info.StoreID, info.Provider)

	if len(overflowPaths) > 0 {
		files := make([]models.VectorStoreFile, 0, len(overflowPaths))
		for _, path := range overflowPaths {
			var data []byte
			err := e.diskPool.Do(ctx, func() error {
				var readErr error
				data, readErr = e.readFile(path)
				return readErr
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Warn("skipping unreadable overflow file", "path", path, "error", err)
				continue
			}
			files = append(files, models.VectorStoreFile{Path: path, Content: data})
		}
		uploaded, skipped, err := e.vectors.AddFiles(ctx, info, files, sessioncache.VectorStoreFiles(session))
		if err != nil {
			return nil, err
		}
		sessioncache.AddVectorStoreFiles(session, uploaded)
		observability.VectorStoreUploads.WithLabelValues(info.Provider, "uploaded").Add(float64(len(uploaded)))
		observability.VectorStoreUploads.WithLabelValues(info.Provider, "skipped").Add(float64(len(skipped)))
	}
	return []string{info.StoreID}, nil
}

func (e *Executor) contextPercentage() float64 {
	if e.cfg.Providers.ContextPercentage > 0 && e.cfg.Providers.ContextPercentage <= 1 {
		return e.cfg.Providers.ContextPercentage
	}
	return 0.85
}

// ErrorPayload is the machine-parseable failure shape returned to the host
//.
type ErrorPayload struct {
	Category string `json:"category"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

// FormatErrorPayload renders any executor error as the host-facing JSON
// error document.
func FormatErrorPayload(err error) string {
	payload := ErrorPayload{Category: "internal", Message: err.Error()}

	var adapterErr *adapters.Error
	var invalidParams *InvalidParamsError
	switch {
	case errors.As(err, &adapterErr):
		payload.Category = string(adapterErr.Category)
		payload.Provider = adapterErr.Provider
		payload.Message = adapterErr.Error()
	case errors.As(err, &invalidParams):
		payload.Category = "invalid_params"
		payload.Message = invalidParams.Detail
	case errors.Is(err, context.Canceled):
		payload.Category = "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		payload.Category = "timeout"
	}

	out, marshalErr := json.Marshal(map[string]any{"error": payload})
	if marshalErr != nil {
		return fmt.Sprintf(`{"error":{"category":"internal","message":%q}}`, err.Error())
	}
	return string(out)
}
