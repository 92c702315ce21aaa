package tooldispatch

import (
	"context"
	"strings"

	"github.com/lukacf/mcp-the-force-core/internal/sessionstore"
)

// SessionMemorySearcher serves search_project_memory over the session
// store: summaries (when present) and recent session ids are scanned for
// the query terms. Summaries stand in for the long-term memory corpus —
// they are the condensed record of prior conversations this process owns.
type SessionMemorySearcher struct {
	store sessionstore.Store
	// scanLimit bounds how many recent sessions one search touches.
	scanLimit int
}

// NewSessionMemorySearcher wraps store.
func NewSessionMemorySearcher(store sessionstore.Store) *SessionMemorySearcher {
	return &SessionMemorySearcher{store: store, scanLimit: 200}
}

func (s *SessionMemorySearcher) SearchMemory(ctx context.Context, project, query string, maxResults int, storeTypes []string) ([]SearchHit, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	listed, err := s.store.ListByProject(ctx, project, sessionstore.ListOptions{
		Limit:          s.scanLimit,
		IncludeSummary: true,
	})
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, row := range listed {
		haystack := strings.ToLower(row.Summary + " " + row.Tool + " " + row.SessionID)
		score := 0.0
		for _, term := range terms {
			score += float64(strings.Count(haystack, term))
		}
		if score == 0 {
			continue
		}
		snippet := row.Summary
		if snippet == "" {
			snippet = "Session " + row.SessionID + " (" + row.Tool + ")"
		}
		hits = append(hits, SearchHit{
			Source:  row.Tool + "/" + row.SessionID,
			Snippet: snippet,
			Score:   score,
		})
		if len(hits) >= maxResults {
			break
		}
	}
	return hits, nil
}
