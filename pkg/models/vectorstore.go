package models

import "time"

// VectorStoreFile is one file tracked within a VectorStore. Path uniquely
// identifies the file within the store; adding the same path twice is a
// documented no-op (dedup happens above this type, in the manager).
type VectorStoreFile struct {
	Path     string            `json:"path"`
	Content  []byte            `json:"-"` // never persisted; upload-time only
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VectorStore is the durable record of an allocated vector store.
type VectorStore struct {
	StoreID   string    `json:"store_id"`
	Provider  string    `json:"provider"` // "openai" or "hnsw" (local)
	SessionID string    `json:"session_id"`
	FilePaths []string  `json:"file_paths"`
	TTLExpiry time.Time `json:"ttl_expiry"`
	Active    bool      `json:"active"`
}

// HasFile reports whether path is already tracked by the store.
func (v *VectorStore) HasFile(path string) bool {
	for _, p := range v.FilePaths {
		if p == path {
			return true
		}
	}
	return false
}

// BatchResult is the outcome of one Upload call against a VectorStoreClient.
type BatchResult struct {
	Completed      int      `json:"completed"`
	Failed         int      `json:"failed"`
	Total          int      `json:"total"`
	FailedFiles    []string `json:"failed_files,omitempty"`
	RetryAttempts  int      `json:"retry_attempts"`
	ExhaustedRetry bool     `json:"exhausted_retries"`
	SkippedPaths   []string `json:"skipped_paths,omitempty"`
}
