// Package vectorstore implements the overflow-file store layer:
// provider-pluggable remote and
// local stores, parallel batched upload with retry-and-split recovery,
// dedup, and TTL-lease tracking.
package vectorstore

import "context"

// Backend is the low-level, provider-specific SDK wrapper. All of the
// batch orchestration (batching thresholds, parallelism, retry-with-split,
// cancellation cleanup, extension filtering) lives in Client, which is
// backend-agnostic: orchestration drives a generic store object rather
// than hardcoding a provider.
type Backend interface {
	// Name identifies the backend for session metadata ("openai", "hnsw").
	Name() string

	// CreateStore allocates a new, empty store and returns its opaque id.
	CreateStore(ctx context.Context, name string) (string, error)

	// UploadBatch uploads one batch of files in a single network
	// round-trip. The backend API reports aggregate counts but not
	// per-file failure identity on partial failure — ALL files in a
	// batch that reports any failure are
	// returned in failedFiles, by contract.
	UploadBatch(ctx context.Context, storeID string, files []FileUpload) (completed int, failedFiles []string, err error)

	// GetStore returns a handle for an existing store.
	GetStore(ctx context.Context, storeID string) (StoreHandle, error)

	// DeleteStore removes a store. Local backends may implement this as
	// a no-op (files are append-only; rollover is the deletion
	// mechanism).
	DeleteStore(ctx context.Context, storeID string) error
}

// StoreHandle is the minimal view of a live store a caller needs for
// rollover decisions and diagnostics.
type StoreHandle struct {
	StoreID   string
	FileCount int
}

// FileUpload is the payload handed to a Backend for one file. Data holds
// the whole file in memory, so a retry re-sends the same bytes without the
// caller re-opening anything between retry attempts.
type FileUpload struct {
	Path string
	Data []byte
}
