package vectorstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend is the remote Backend talking to OpenAI's vector-store
// REST surface via the official SDK. One instance is shared per process;
// the SDK client is safe for concurrent use.
type OpenAIBackend struct {
	client *openai.Client
}

// NewOpenAIBackend builds a backend bound to a single API key. Explicit
// connect/read/pool timeouts are configured on the http.Client passed via
// option.WithHTTPClient by the caller; unbounded waits are a bug.
func NewOpenAIBackend(opts ...option.RequestOption) *OpenAIBackend {
	client := openai.NewClient(opts...)
	return &OpenAIBackend{client: &client}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) CreateStore(ctx context.Context, name string) (string, error) {
	store, err := b.client.VectorStores.New(ctx, openai.VectorStoreNewParams{
		Name: openai.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("vectorstore: openai create store: %w", err)
	}
	return store.ID, nil
}

// UploadBatch uploads one batch via the file-batches upload-and-poll
// endpoint, which blocks until OpenAI finishes processing every file in
// the batch and reports aggregate completed/failed counts. Per the
// backend's documented limitation, a partial failure does not identify
// which specific files failed, so every file in the batch is reported as
// failed on anything less than full success — the caller (Client) is
// responsible for narrowing this down across retries.
func (b *OpenAIBackend) UploadBatch(ctx context.Context, storeID string, files []FileUpload) (int, []string, error) {
	if len(files) == 0 {
		return 0, nil, nil
	}

	fileIDs := make([]string, 0, len(files))
	uploadFailed := false
	for _, f := range files {
		uploaded, err := b.client.Files.New(ctx, openai.FileNewParams{
			File:    bytes.NewReader(f.Data),
			Purpose: openai.FilePurposeAssistants,
		})
		if err != nil {
			// The individual file never reached a batch, so it is
			// unambiguously a failure for this file alone.
			uploadFailed = true
			continue
		}
		fileIDs = append(fileIDs, uploaded.ID)
	}
	if len(fileIDs) == 0 {
		return 0, pathsOf(files), nil
	}

	batch, err := b.client.VectorStores.FileBatches.NewAndPoll(ctx, storeID, openai.VectorStoreFileBatchNewParams{
		FileIDs: fileIDs,
	}, 0)
	if err != nil {
		return 0, pathsOf(files), fmt.Errorf("vectorstore: openai upload batch: %w", err)
	}

	completed := int(batch.FileCounts.Completed)
	failed := int(batch.FileCounts.Failed)
	if failed == 0 && !uploadFailed {
		return completed, nil, nil
	}
	// Aggregate-only failure reporting (this also covers a file that never
	// reached the batch): report
	// every path in the batch as failed so the caller's retry/split logic
	// re-attempts the whole set.
	return completed, pathsOf(files), nil
}

func (b *OpenAIBackend) GetStore(ctx context.Context, storeID string) (StoreHandle, error) {
	store, err := b.client.VectorStores.Get(ctx, storeID)
	if err != nil {
		return StoreHandle{}, fmt.Errorf("vectorstore: openai get store: %w", err)
	}
	return StoreHandle{StoreID: store.ID, FileCount: int(store.FileCounts.Total)}, nil
}

func (b *OpenAIBackend) DeleteStore(ctx context.Context, storeID string) error {
	_, err := b.client.VectorStores.Delete(ctx, storeID)
	if err != nil {
		return fmt.Errorf("vectorstore: openai delete store: %w", err)
	}
	return nil
}

func pathsOf(files []FileUpload) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
