package vectorstore

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lukacf/mcp-the-force-core/internal/backoff"
	"github.com/lukacf/mcp-the-force-core/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// singleBatchThreshold is the file count below which Upload sends
// everything as one batch instead of splitting across parallel batches
//.
const singleBatchThreshold = 20

// allowedExtensions is the static text/source/document allowlist files
// must match before upload; everything else is reported back to the
// caller as skipped.
var allowedExtensions = map[string]bool{
	".txt": true, ".md": true, ".rst": true, ".csv": true, ".json": true,
	".yaml": true, ".yml": true, ".toml": true, ".xml": true, ".html": true,
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".hpp": true, ".rs": true,
	".rb": true, ".php": true, ".sh": true, ".sql": true, ".proto": true,
	".pdf": true, ".docx": true, ".pptx": true,
}

// Client is the provider-pluggable VectorStoreClient. All
// orchestration — batching thresholds, parallel fan-out, retry-with-split
// recovery, cancellation cleanup — is backend-agnostic; Backend supplies
// only the four primitive network operations.
type Client struct {
	backend         Backend
	parallelBatches int
	maxRetries      int
}

// NewClient wraps backend with the batching policy. parallelBatches
// defaults to 10, maxRetries to 3.
func NewClient(backend Backend, parallelBatches, maxRetries int) *Client {
	if parallelBatches <= 0 {
		parallelBatches = 10
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{backend: backend, parallelBatches: parallelBatches, maxRetries: maxRetries}
}

func (c *Client) Name() string { return c.backend.Name() }

func (c *Client) Create(ctx context.Context, name string) (string, error) {
	return c.backend.CreateStore(ctx, name)
}

func (c *Client) Delete(ctx context.Context, storeID string) error {
	return c.backend.DeleteStore(ctx, storeID)
}

func (c *Client) Get(ctx context.Context, storeID string) (StoreHandle, error) {
	return c.backend.GetStore(ctx, storeID)
}

// FilterAllowed partitions files by the static extension allowlist,
// returning the accepted files and the skipped paths.
func FilterAllowed(files []models.VectorStoreFile) (accepted []models.VectorStoreFile, skipped []string) {
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Path))
		if allowedExtensions[ext] {
			accepted = append(accepted, f)
		} else {
			skipped = append(skipped, f.Path)
		}
	}
	return accepted, skipped
}

// Upload runs the parallel-batch-upload pipeline. It always
// re-raises ctx cancellation (never swallows it into a BatchResult), per
// the obligation that every exit path propagates cancellation.
func (c *Client) Upload(ctx context.Context, storeID string, files []models.VectorStoreFile) (models.BatchResult, error) {
	accepted, skipped := FilterAllowed(files)
	result := models.BatchResult{Total: len(accepted), SkippedPaths: skipped}
	if len(accepted) == 0 {
		return result, nil
	}

	uploads := make([]FileUpload, len(accepted))
	for i, f := range accepted {
		uploads[i] = FileUpload{Path: f.Path, Data: f.Content}
	}

	batches := splitBatches(uploads, c.parallelBatches, singleBatchThreshold)

	sem := semaphore.NewWeighted(int64(c.parallelBatches))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			completed, failedPaths, retries, exhausted := c.uploadWithRetry(gctx, storeID, batch)

			mu.Lock()
			result.Completed += completed
			result.Failed += len(failedPaths)
			result.FailedFiles = append(result.FailedFiles, failedPaths...)
			if retries > result.RetryAttempts {
				result.RetryAttempts = retries
			}
			result.ExhaustedRetry = result.ExhaustedRetry || exhausted
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return models.BatchResult{}, err
	}
	return result, nil
}

// splitBatches: at or below the threshold, a single
// batch; above it, up to parallelBatches batches of roughly equal size.
func splitBatches(files []FileUpload, parallelBatches, threshold int) [][]FileUpload {
	if len(files) <= threshold {
		return [][]FileUpload{files}
	}
	n := parallelBatches
	if n > len(files) {
		n = len(files)
	}
	batches := make([][]FileUpload, 0, n)
	chunkSize := (len(files) + n - 1) / n
	for i := 0; i < len(files); i += chunkSize {
		end := i + chunkSize
		if end > len(files) {
			end = len(files)
		}
		batches = append(batches, files[i:end])
	}
	return batches
}

// uploadWithRetry drives one batch through the initial upload and, on
// partial failure, up to maxRetries backoff-and-split retries: attempt 1
// retries the whole failed set as one request; attempt ≥2 against more
// than three failed files splits into min(attempt+1, 4) parallel
// sub-batches. Because the backend reports aggregate counts without
// per-file identity, a path only counts as
// confirmed once some (sub-)batch containing it succeeds outright; the
// last failing round's aggregate count stands in for the still-ambiguous
// remainder on exhaustion, keeping completed + failed == total.
func (c *Client) uploadWithRetry(ctx context.Context, storeID string, files []FileUpload) (completed int, failedFiles []string, retryAttempts int, exhausted bool) {
	policy := backoff.VectorUploadPolicy()

	initialCompleted, initialFailed, err := c.backend.UploadBatch(ctx, storeID, files)
	if err == nil && len(initialFailed) == 0 {
		return len(files), nil, 0, false
	}

	confirmed := 0
	ambiguous := files
	ambiguousCompleted := initialCompleted
	if err != nil {
		ambiguousCompleted = 0
	}

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		retryAttempts = attempt
		if err := backoff.SleepForAttempt(ctx, policy, attempt); err != nil {
			break
		}

		var batches [][]FileUpload
		if attempt == 1 || len(ambiguous) <= 3 {
			batches = [][]FileUpload{ambiguous}
		} else {
			splitFactor := attempt + 1
			if splitFactor > 4 {
				splitFactor = 4
			}
			batches = splitBatches(ambiguous, splitFactor, 0)
		}

		var mu sync.Mutex
		var stillFailing []FileUpload
		roundAmbiguousCompleted := 0
		g, gctx := errgroup.WithContext(ctx)
		for _, sub := range batches {
			sub := sub
			g.Go(func() error {
				c2, f2, err := c.backend.UploadBatch(gctx, storeID, sub)
				mu.Lock()
				defer mu.Unlock()
				if err == nil && len(f2) == 0 {
					confirmed += len(sub)
				} else {
					stillFailing = append(stillFailing, sub...)
					if err == nil {
						roundAmbiguousCompleted += c2
					}
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(stillFailing) == 0 {
			return confirmed, nil, retryAttempts, false
		}
		ambiguous = stillFailing
		ambiguousCompleted = roundAmbiguousCompleted
	}

	completed = confirmed + ambiguousCompleted
	failedCount := len(ambiguous) - ambiguousCompleted
	if failedCount < 0 {
		failedCount = 0
	}
	failedFiles = pathsOf(ambiguous)
	if len(failedFiles) > failedCount {
		failedFiles = failedFiles[:failedCount]
	}
	return completed, failedFiles, retryAttempts, true
}

