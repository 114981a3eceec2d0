// Package memory composes recall snippets for a chat turn: pinned memories
// plus an optional semantic nearest-neighbor pass over the vector index.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/vectorindex"
)

// PinnedLimit, SemanticTopK, and SnippetCap are the fixed bounds from spec
// §4.4.
const (
	PinnedLimit  = 12
	SemanticTopK = 8
	SnippetCap   = 16
)

// pinnedTypes are the memory types always eligible for recall regardless of
// semantic similarity.
var pinnedTypes = []string{"fact", "preference", "constraint", "style"}

// Store is the subset of the persistence adapter recall needs.
type Store interface {
	ListPinnedMemories(ctx context.Context, userID string, types []string, limit int) ([]database.Memory, error)
	GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]database.Memory, error)
	AppendMemoryEvent(ctx context.Context, e database.MemoryEvent) error
}

// Embedder produces a query embedding. A nil Embedder disables the semantic
// pass entirely (recall then only returns pinned memories).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Recaller implements the recall(userId, query) -> snippets operation.
type Recaller struct {
	store    Store
	index    vectorindex.Index // nil disables the semantic pass
	embedder Embedder          // nil disables the semantic pass
	logger   *slog.Logger
}

// NewRecaller builds a Recaller. index and embedder may both be nil, in
// which case recall degrades to pinned-only.
func NewRecaller(store Store, index vectorindex.Index, embedder Embedder) *Recaller {
	return &Recaller{store: store, index: index, embedder: embedder, logger: slog.Default()}
}

// Recall fetches pinned memories for userID, optionally augments them with a
// semantic nearest-neighbor pass over query, de-duplicates, truncates to
// SnippetCap, and records a recall memory event.
func (r *Recaller) Recall(ctx context.Context, userID, query string) ([]string, error) {
	pinned, err := r.store.ListPinnedMemories(ctx, userID, pinnedTypes, PinnedLimit)
	if err != nil {
		return nil, fmt.Errorf("list pinned memories: %w", err)
	}

	seen := make(map[string]struct{})
	var snippets []string
	for _, m := range pinned {
		s := formatSnippet(m)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		snippets = append(snippets, s)
	}

	semanticCount := r.appendSemanticSnippets(ctx, userID, query, seen, &snippets)

	if len(snippets) > SnippetCap {
		snippets = snippets[:SnippetCap]
	}

	r.recordRecallEvent(ctx, userID, len(pinned), semanticCount, len(snippets))
	return snippets, nil
}

// appendSemanticSnippets embeds query and queries the vector index, tolerating
// any failure by returning 0 and leaving snippets untouched — the recall call
// proceeds with fewer snippets rather than failing, per spec §4.4 step 2.
func (r *Recaller) appendSemanticSnippets(ctx context.Context, userID, query string, seen map[string]struct{}, snippets *[]string) int {
	if r.index == nil || r.embedder == nil {
		return 0
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil || len(vec) == 0 {
		if err != nil {
			r.logger.Warn("recall embedding failed, degrading to pinned memories only", "error", err)
		}
		return 0
	}

	matches, err := r.index.Query(ctx, vec, vectorindex.QueryFilter{
		TopK:   SemanticTopK,
		Filter: map[string]any{"user_id": userID},
	})
	if err != nil {
		r.logger.Warn("recall vector query failed, degrading to pinned memories only", "error", err)
		return 0
	}
	if len(matches) == 0 {
		return 0
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}

	rows, err := r.store.GetMemoriesByIDs(ctx, userID, ids)
	if err != nil {
		r.logger.Warn("recall failed to load matched memories, degrading to pinned memories only", "error", err)
		return 0
	}

	count := 0
	for _, m := range rows {
		s := formatSnippet(m)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		*snippets = append(*snippets, s)
		count++
	}
	return count
}

func (r *Recaller) recordRecallEvent(ctx context.Context, userID string, pinnedCount, semanticCount, totalCount int) {
	payload, err := json.Marshal(map[string]int{
		"pinned":   pinnedCount,
		"semantic": semanticCount,
		"total":    totalCount,
	})
	if err != nil {
		return
	}
	event := database.MemoryEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		EventType:   "recall",
		PayloadJSON: string(payload),
	}
	if err := r.store.AppendMemoryEvent(ctx, event); err != nil {
		r.logger.Warn("failed to record recall memory event", "error", err)
	}
}

func formatSnippet(m database.Memory) string {
	return fmt.Sprintf("[%s] %s", m.Type, m.ContentJSON)
}
