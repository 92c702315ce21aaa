package vectorstore

import (
	"context"
	"sort"
	"strings"

	"github.com/lukacf/mcp-the-force-core/internal/tooldispatch"
)

// SearchableBackend is the optional capability a backend exposes when the
// dispatcher (rather than the provider's native file_search) must serve
// attachment queries.
type SearchableBackend interface {
	SearchStore(ctx context.Context, storeID, query string, maxResults int) ([]tooldispatch.SearchHit, error)
}

// SearchStore scores documents by query-term overlap. This is the local
// fallback path; remote stores with native search never route through it.
func (b *LocalBackend) SearchStore(ctx context.Context, storeID, query string, maxResults int) ([]tooldispatch.SearchHit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	b.mu.Lock()
	docs := append([]localDoc(nil), b.docs[storeID]...)
	b.mu.Unlock()

	var hits []tooldispatch.SearchHit
	for _, doc := range docs {
		lower := strings.ToLower(doc.Content)
		score := 0.0
		for _, term := range terms {
			score += float64(strings.Count(lower, term))
		}
		if score == 0 {
			continue
		}
		hits = append(hits, tooldispatch.SearchHit{
			Source:  doc.Path,
			Snippet: snippetAround(doc.Content, lower, terms[0]),
			Score:   score,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func snippetAround(content, lower, term string) string {
	const window = 200
	idx := strings.Index(lower, term)
	if idx < 0 {
		idx = 0
	}
	start := idx - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// AttachmentSearcher adapts the manager's backends to the dispatcher's
// search_task_files contract: each requested store is searched on whichever
// backend owns it, and results merge by score.
type AttachmentSearcher struct {
	manager *Manager
}

// NewAttachmentSearcher wraps manager.
func NewAttachmentSearcher(manager *Manager) *AttachmentSearcher {
	return &AttachmentSearcher{manager: manager}
}

func (s *AttachmentSearcher) SearchAttachments(ctx context.Context, storeIDs []string, query string, maxResults int) ([]tooldispatch.SearchHit, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	var all []tooldispatch.SearchHit
	for _, storeID := range storeIDs {
		for _, client := range []*Client{s.manager.local, s.manager.remote} {
			if client == nil {
				continue
			}
			searchable, ok := client.backend.(SearchableBackend)
			if !ok {
				continue
			}
			hits, err := searchable.SearchStore(ctx, storeID, query, maxResults)
			if err != nil {
				return nil, err
			}
			all = append(all, hits...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > maxResults {
		all = all[:maxResults]
	}
	return all, nil
}
