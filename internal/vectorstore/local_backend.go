package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// LocalBackend is the in-process fallback store used when the preferred
// remote provider is unavailable: a small disk-persisted append-only
// record of stored file paths and content, searched by term overlap. Its
// load-bearing property is the lifecycle contract (Delete is a no-op;
// rollover, not deletion, retires a store), not index quality.
type LocalBackend struct {
	mu   sync.Mutex
	dir  string
	docs map[string][]localDoc
}

type localDoc struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// NewLocalBackend roots store files under dir (created if absent).
func NewLocalBackend(dir string) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: local backend dir: %w", err)
	}
	return &LocalBackend{dir: dir, docs: map[string][]localDoc{}}, nil
}

func (b *LocalBackend) Name() string { return "hnsw" }

func (b *LocalBackend) CreateStore(ctx context.Context, name string) (string, error) {
	id := "local_" + uuid.NewString()
	b.mu.Lock()
	b.docs[id] = nil
	b.mu.Unlock()
	return id, b.persist(id)
}

func (b *LocalBackend) UploadBatch(ctx context.Context, storeID string, files []FileUpload) (int, []string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, f := range files {
		b.docs[storeID] = append(b.docs[storeID], localDoc{Path: f.Path, Content: string(f.Data)})
	}
	if err := b.persistLocked(storeID); err != nil {
		return 0, pathsOf(files), err
	}
	return len(files), nil, nil
}

func (b *LocalBackend) GetStore(ctx context.Context, storeID string) (StoreHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs, ok := b.docs[storeID]
	if !ok {
		return StoreHandle{}, fmt.Errorf("vectorstore: unknown local store %s", storeID)
	}
	return StoreHandle{StoreID: storeID, FileCount: len(docs)}, nil
}

// DeleteStore is a no-op: files are append-only, rollover is the deletion
// mechanism.
func (b *LocalBackend) DeleteStore(ctx context.Context, storeID string) error {
	return nil
}

func (b *LocalBackend) persist(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.persistLocked(id)
}

func (b *LocalBackend) persistLocked(id string) error {
	data, err := json.Marshal(b.docs[id])
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, id+".json"), data, 0o644)
}
